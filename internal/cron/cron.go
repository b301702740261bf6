// Package cron runs periodic maintenance for the study service: refreshing
// the due-points gauge and pausing sessions nobody is attending to.
package cron

import "context"

// ScheduleOff disables a job when used as its schedule.
const ScheduleOff = "off"

// Job defines a periodic background task.
type Job interface {
	// Name returns a unique identifier for this job (used for logging and dedup).
	Name() string

	// Schedule returns a 5-field cron expression (e.g., "*/5 * * * *").
	Schedule() string

	// Run executes the job. Implementations should check ctx.Done() for
	// graceful cancellation.
	Run(ctx context.Context) error
}
