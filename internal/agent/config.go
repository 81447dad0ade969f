package agent

import (
	"sort"
	"time"

	config "github.com/mwantia/gostage/internal/config/server"
	"github.com/mwantia/gostage/internal/scheduler"
	"github.com/mwantia/gostage/pkg/db/models"
)

// SchedulerConfig converts the scheduler settings, falling back to the
// defaults for empty or malformed durations.
func SchedulerConfig(cfg *config.BaseServerConfig) scheduler.Config {
	s := cfg.Scheduler

	return scheduler.Config{
		DispatcherInterval: config.Duration(s.DispatcherInterval, 5*time.Second),
		ActivatorInterval:  config.Duration(s.ActivatorInterval, 2*time.Second),
		DispatchBatch:      s.DispatchBatch,
		MaxSuspendRetries:  s.MaxSuspendRetries,
		SuspendDuration:    config.Duration(s.SuspendDuration, 5*time.Minute),
		MaxReadRetries:     s.MaxReadRetries,
		MetadataMaxAge:     config.Duration(s.MetadataMaxAge, time.Hour),
		AllocationMaxAge:   config.Duration(s.AllocationMaxAge, time.Minute),
		MaxStagers:         s.MaxStagers,
	}
}

// MediaTypes converts the configured media types into rows, keeping the
// configured order. Allocations are sorted by user.
func MediaTypes(mediaTypes []config.MediaTypeConfig) []models.MediaType {
	rows := make([]models.MediaType, 0, len(mediaTypes))
	for _, mt := range mediaTypes {
		users := make([]string, 0, len(mt.Allocations))
		for user := range mt.Allocations {
			users = append(users, user)
		}
		sort.Strings(users)

		allocations := make([]models.Allocation, 0, len(users))
		for _, user := range users {
			allocations = append(allocations, models.Allocation{User: user, Share: mt.Allocations[user]})
		}

		rows = append(rows, models.MediaType{
			Name:        mt.Name,
			Pattern:     mt.Pattern,
			Drives:      mt.Drives,
			Allocations: allocations,
		})
	}
	return rows
}
