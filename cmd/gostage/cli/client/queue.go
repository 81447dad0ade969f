package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwantia/gostage/pkg/db/models"
	"github.com/mwantia/gostage/pkg/hsm"
)

func NewQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect tape queues",
		Long:  "List the per-tape queues recorded by the scheduler and abort stuck ones.",
	}

	cmd.AddCommand(NewQueueListCommand())
	cmd.AddCommand(NewQueueAbortCommand())

	return cmd
}

func NewQueueListCommand() *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List tape queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, metadata, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer metadata.Close()

			filter := make([]models.QueueStatus, 0, len(statuses))
			for _, s := range statuses {
				filter = append(filter, models.QueueStatus(s))
			}

			queues, err := metadata.ListQueues(cmd.Context(), filter...)
			if err != nil {
				return err
			}

			w := newTable(cmd)
			fmt.Fprintln(w, "ID\tTAPE\tMEDIA\tSTATUS\tOWNER\tREADINGS\tHEAD\tCREATED\tENDED")
			for _, q := range queues {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					q.ID, q.Tape, q.MediaType, q.Status, dash(q.Owner), q.Readings, q.HeadPosition,
					formatTime(&q.CreatedAt), formatTime(q.EndedAt))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "only list queues with these statuses")

	return cmd
}

func NewQueueAbortCommand() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "abort <id>",
		Short: "Abort a recorded queue",
		Long:  "Marks the queue aborted and fails every request still waiting in it. Intended for queues left behind by a stopped agent.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, metadata, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer metadata.Close()

			if err := metadata.AbortQueue(cmd.Context(), args[0], hsm.CodePermanent, message); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Aborted queue %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "aborted by operator", "error message recorded on the waiting requests")

	return cmd
}
