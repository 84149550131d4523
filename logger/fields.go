package logger

// Standard field names for consistent structured logging across exportd.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldJobID      = "job_id"
	FieldScheduleID = "schedule_id"
	FieldFiringID   = "firing_id"
	FieldOrgID      = "org_id"
	FieldActorID    = "actor_id"

	// Components
	FieldComponent = "component"
	FieldWorkerID  = "worker_id"

	// Operations
	FieldOperation = "operation"
	FieldEvent     = "event"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldNextRunAt  = "next_run_at"

	// Errors
	FieldError = "error"

	// Status and counts
	FieldStatus   = "status"
	FieldPriority = "priority"
	FieldCount    = "count"
	FieldProgress = "progress"
)
