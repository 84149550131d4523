package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/draywest/exportd/errors"
)

// LogEntry is one line of a job's execution log.
type LogEntry struct {
	ID        int64
	JobID     string
	Timestamp time.Time
	Level     string // info | warning | error
	Message   string
	Details   map[string]any
}

// LogStore appends to and reads the per-job execution log. The log is
// append-only; entries are never updated or deleted individually.
type LogStore struct {
	db *sql.DB
}

// NewLogStore creates a job log store.
func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db}
}

// Append adds a log line for a job.
func (s *LogStore) Append(ctx context.Context, jobID, level, message string, details map[string]any) error {
	var raw any
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return errors.WrapInternal(err, "failed to marshal log details")
		}
		raw = string(b)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_logs (job_id, timestamp, level, message, details)
		VALUES (?, ?, ?, ?, ?)`,
		jobID, time.Now().UTC().Format(time.RFC3339), level, message, raw)
	if err != nil {
		return errors.WrapInternal(err, "failed to append job log")
	}
	return nil
}

// List returns a job's log lines oldest first.
func (s *LogStore) List(ctx context.Context, jobID string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, timestamp, level, message, details
		FROM job_logs WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, errors.WrapInternal(err, "failed to query job logs")
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var ts string
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.JobID, &ts, &e.Level, &e.Message, &details); err != nil {
			return nil, errors.WrapInternal(err, "failed to scan job log")
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			e.Timestamp = t
		}
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, errors.WrapInternal(err, "failed to unmarshal log details")
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapInternal(err, "failed to iterate job logs")
	}
	return entries, nil
}
