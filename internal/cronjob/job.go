package cronjob

import "time"

// ScheduleType defines how a job's execution time is determined.
type ScheduleType string

const (
	// ScheduleEvery runs at a fixed interval (Go duration string, e.g. "5m", "1h30m").
	ScheduleEvery ScheduleType = "every"
	// ScheduleCron uses a standard 5-field cron expression.
	ScheduleCron ScheduleType = "cron"
	// ScheduleAt fires once at a specific ISO 8601 timestamp.
	ScheduleAt ScheduleType = "at"
)

// Job describes a single scheduled unit of internal maintenance work (a
// sweep, a rollup, a retry pass). Unlike a user-facing cron entry, a Job
// carries no delivery target of its own; the Run func closed over it knows
// what it does.
type Job struct {
	ID           string
	Name         string
	ScheduleType ScheduleType
	Schedule     string // "5m" | "0 9 * * *" | "2026-03-01T09:00:00Z"
	Enabled      bool

	// --- runtime state ---
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	ConsecutiveErr int
	CreatedAt      time.Time
}
