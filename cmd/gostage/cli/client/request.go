package client

import (
	"fmt"
	"os/user"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mwantia/gostage/pkg/db/models"
)

func NewRequestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "request",
		Aliases: []string{"req"},
		Short:   "Manage stage requests",
		Long:    "Submit stage requests for files on tape and inspect their progress.",
	}

	cmd.AddCommand(NewRequestSubmitCommand())
	cmd.AddCommand(NewRequestListCommand())
	cmd.AddCommand(NewRequestGetCommand())

	return cmd
}

func NewRequestSubmitCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "submit <file>...",
		Short: "Request files to be staged",
		Long:  "Creates one stage request per file, owned by the given user or the current one.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				current, err := user.Current()
				if err != nil {
					return fmt.Errorf("failed to determine current user: %w", err)
				}
				owner = current.Username
			}

			_, metadata, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer metadata.Close()

			for _, file := range args {
				request := &models.Request{
					File:   file,
					User:   owner,
					Status: models.RequestCreated,
				}
				if err := metadata.CreateRequest(cmd.Context(), request); err != nil {
					return fmt.Errorf("failed to submit '%s': %w", file, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", request.ID, file)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&owner, "user", "u", "", "user owning the requests (default is the current user)")

	return cmd
}

func NewRequestListCommand() *cobra.Command {
	var status string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List stage requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, metadata, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer metadata.Close()

			requests, err := metadata.ListRequests(cmd.Context(), models.RequestStatus(status), limit, offset)
			if err != nil {
				return err
			}

			w := newTable(cmd)
			fmt.Fprintln(w, "ID\tFILE\tUSER\tSTATUS\tTAPE\tPOSITION\tERROR")
			for _, r := range requests {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.File, r.User, r.Status, dash(r.Tape), position(r), dash(r.ErrorMessage))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "only list requests with this status")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of requests to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of requests to skip")

	return cmd
}

func NewRequestGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a single stage request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid request id '%s'", args[0])
			}

			_, metadata, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer metadata.Close()

			r, err := metadata.GetRequest(cmd.Context(), uint(id))
			if err != nil {
				return err
			}

			w := newTable(cmd)
			fmt.Fprintf(w, "ID\t%d\n", r.ID)
			fmt.Fprintf(w, "File\t%s\n", r.File)
			fmt.Fprintf(w, "User\t%s\n", r.User)
			fmt.Fprintf(w, "Status\t%s\n", r.Status)
			fmt.Fprintf(w, "Queue\t%s\n", dash(r.QueueID))
			fmt.Fprintf(w, "Tape\t%s\n", dash(r.Tape))
			fmt.Fprintf(w, "Position\t%s\n", position(*r))
			fmt.Fprintf(w, "Error\t%s\n", dash(r.ErrorMessage))
			fmt.Fprintf(w, "Created\t%s\n", formatTime(&r.CreatedAt))
			fmt.Fprintf(w, "Submitted\t%s\n", formatTime(r.SubmittedAt))
			fmt.Fprintf(w, "Queued\t%s\n", formatTime(r.QueuedAt))
			fmt.Fprintf(w, "Ended\t%s\n", formatTime(r.EndedAt))
			return w.Flush()
		},
	}

	return cmd
}

func position(r models.Request) string {
	if r.Tape == "" {
		return "-"
	}
	return strconv.FormatInt(r.Position, 10)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
