package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/draywest/exportd/errors"
)

// Firing statuses.
const (
	FiringRunning   = "running"
	FiringCompleted = "completed"
	FiringFailed    = "failed"
)

// Firing is one historical execution of a schedule definition. It
// records the attempt itself; the job it spawned (if any) carries the
// export outcome.
type Firing struct {
	ID           string
	ScheduleID   string
	JobID        string // empty when firing failed before job creation
	Status       string
	StartedAt    time.Time
	CompletedAt  *time.Time
	DurationMS   *int64
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FiringStore persists schedule firing history.
type FiringStore struct {
	db *sql.DB
}

// NewFiringStore creates a firing history store.
func NewFiringStore(db *sql.DB) *FiringStore {
	return &FiringStore{db: db}
}

// Begin records the start of a firing attempt.
func (s *FiringStore) Begin(ctx context.Context, scheduleID string, startedAt time.Time) (*Firing, error) {
	now := time.Now().UTC()
	f := &Firing{
		ID:         "SF_" + uuid.New().String(),
		ScheduleID: scheduleID,
		Status:     FiringRunning,
		StartedAt:  startedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_firings (id, schedule_id, job_id, status, started_at, completed_at,
			duration_ms, error_message, created_at, updated_at)
		VALUES (?, ?, NULL, ?, ?, NULL, NULL, NULL, ?, ?)`,
		f.ID, f.ScheduleID, f.Status, formatTime(f.StartedAt), formatTime(f.CreatedAt), formatTime(f.UpdatedAt))
	if err != nil {
		return nil, errors.WrapInternal(err, "failed to record schedule firing")
	}
	return f, nil
}

// Complete settles a firing with the job it spawned.
func (s *FiringStore) Complete(ctx context.Context, id, jobID string) error {
	return s.settle(ctx, id, FiringCompleted, jobID, "")
}

// Fail settles a firing that produced no job.
func (s *FiringStore) Fail(ctx context.Context, id, message string) error {
	return s.settle(ctx, id, FiringFailed, "", message)
}

func (s *FiringStore) settle(ctx context.Context, id, status, jobID, message string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedule_firings
		SET status = ?, job_id = ?, error_message = ?, completed_at = ?,
		    duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER),
		    updated_at = ?
		WHERE id = ?`,
		status, nullableString(jobID), nullableString(message),
		formatTime(now), formatTime(now), formatTime(now), id)
	if err != nil {
		return errors.WrapInternal(err, "failed to settle schedule firing")
	}
	return nil
}

// ListForSchedule returns a definition's firing history, newest first.
func (s *FiringStore) ListForSchedule(ctx context.Context, scheduleID string, limit int) ([]*Firing, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule_id, job_id, status, started_at, completed_at,
			duration_ms, error_message, created_at, updated_at
		FROM schedule_firings
		WHERE schedule_id = ?
		ORDER BY started_at DESC LIMIT ?`,
		scheduleID, limit)
	if err != nil {
		return nil, errors.WrapInternal(err, "failed to list schedule firings")
	}
	defer rows.Close()

	var firings []*Firing
	for rows.Next() {
		var f Firing
		var jobID, errorMessage, completedAt sql.NullString
		var durationMS sql.NullInt64
		var startedAt, createdAt, updatedAt string

		err := rows.Scan(&f.ID, &f.ScheduleID, &jobID, &f.Status, &startedAt, &completedAt,
			&durationMS, &errorMessage, &createdAt, &updatedAt)
		if err != nil {
			return nil, errors.WrapInternal(err, "failed to scan schedule firing")
		}

		f.JobID = jobID.String
		f.ErrorMessage = errorMessage.String
		if durationMS.Valid {
			v := durationMS.Int64
			f.DurationMS = &v
		}
		if f.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			t, err := parseTime(completedAt.String)
			if err != nil {
				return nil, err
			}
			f.CompletedAt = &t
		}
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		firings = append(firings, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapInternal(err, "failed to iterate schedule firings")
	}
	return firings, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
