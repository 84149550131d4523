// Package audit records actor-attributed lifecycle events to an
// append-only log.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/draywest/exportd/errors"
)

// Entry is a single audited action.
type Entry struct {
	OrgID       string
	ActorID     string // empty for engine-initiated actions
	Action      string // e.g. "job.cancel", "schedule.create"
	SubjectType string // "job" | "schedule"
	SubjectID   string
	Details     map[string]any
	CreatedAt   time.Time
}

// Sink receives audit entries. Record must not fail the surrounding
// operation; callers log sink errors and move on.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// Nop returns a sink that drops every entry. Used where auditing is
// disabled and in tests that do not assert on the trail.
func Nop() Sink {
	return nopSink{}
}

type nopSink struct{}

func (nopSink) Record(context.Context, Entry) error { return nil }

// SQLiteSink appends entries to the audit_log table.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink creates a database-backed audit sink.
func NewSQLiteSink(db *sql.DB) *SQLiteSink {
	return &SQLiteSink{db: db}
}

// Record inserts the entry. A zero CreatedAt is stamped with now.
func (s *SQLiteSink) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details any
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return errors.WrapInternal(err, "failed to marshal audit details")
		}
		details = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (org_id, actor_id, action, subject_type, subject_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.OrgID, e.ActorID, e.Action, e.SubjectType, e.SubjectID, details,
		e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return errors.WrapInternal(err, "failed to record audit entry")
	}
	return nil
}

// ListForSubject returns the audit trail for one subject, oldest first.
func (s *SQLiteSink) ListForSubject(ctx context.Context, subjectType, subjectID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, actor_id, action, subject_type, subject_id, details, created_at
		FROM audit_log
		WHERE subject_type = ? AND subject_id = ?
		ORDER BY id ASC`,
		subjectType, subjectID)
	if err != nil {
		return nil, errors.WrapInternal(err, "failed to query audit log")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var details sql.NullString
		var createdAt string
		if err := rows.Scan(&e.OrgID, &e.ActorID, &e.Action, &e.SubjectType, &e.SubjectID, &details, &createdAt); err != nil {
			return nil, errors.WrapInternal(err, "failed to scan audit entry")
		}
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, errors.WrapInternal(err, "failed to unmarshal audit details")
			}
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapInternal(err, "failed to iterate audit log")
	}
	return entries, nil
}
