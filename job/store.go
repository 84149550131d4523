package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/draywest/exportd/errors"
)

// Store persists export jobs. Every mutating method issues a guarded
// UPDATE whose WHERE clause encodes the legal source states, so under
// concurrent writers exactly one transition wins and the losers observe
// zero affected rows.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, org_id, user_id, origin, schedule_id, status, archived,
	format, priority, progress, total_items, processed_items, item_ids, options,
	error_message, download_url, created_at, updated_at, completed_at`

// Create inserts a new job row.
func (s *Store) Create(ctx context.Context, j *Job) error {
	itemIDs, err := json.Marshal(j.ItemIDs)
	if err != nil {
		return errors.WrapInternal(err, "failed to marshal item ids")
	}
	opts, err := json.Marshal(j.Options)
	if err != nil {
		return errors.WrapInternal(err, "failed to marshal job options")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO export_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.OrgID, j.UserID, j.Origin, nullIfEmpty(j.ScheduleID), j.Status, j.Archived,
		j.Format, j.Priority, j.Progress, j.TotalItems, j.ProcessedItems, string(itemIDs), string(opts),
		nullIfEmpty(j.ErrorMessage), nullIfEmpty(j.DownloadURL), j.CreatedAt, j.UpdatedAt, j.CompletedAt)
	if err != nil {
		return errors.WrapInternal(err, "failed to create job")
	}
	return nil
}

// Get returns a job by id regardless of organization. Engine-internal
// callers only; user-facing paths go through GetInOrg.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM export_jobs WHERE id = ?", id)
	return scanJob(row)
}

// GetInOrg returns a job by id scoped to orgID. A job in another
// organization reports not found, same as a missing one.
func (s *Store) GetInOrg(ctx context.Context, orgID, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM export_jobs WHERE id = ? AND org_id = ?", id, orgID)
	return scanJob(row)
}

// ListFilter narrows ListInOrg results. Zero values mean no constraint.
type ListFilter struct {
	UserID          string
	Status          Status
	ScheduleID      string
	IncludeArchived bool
	Limit           int
}

// ListInOrg returns jobs for an organization, newest first. Archived
// jobs are hidden unless the filter asks for them.
func (s *Store) ListInOrg(ctx context.Context, orgID string, f ListFilter) ([]*Job, error) {
	var sb strings.Builder
	sb.WriteString("SELECT " + jobColumns + " FROM export_jobs WHERE org_id = ?")
	args := []any{orgID}

	if !f.IncludeArchived {
		sb.WriteString(" AND archived = 0")
	}
	if f.UserID != "" {
		sb.WriteString(" AND user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		sb.WriteString(" AND status = ?")
		args = append(args, f.Status)
	}
	if f.ScheduleID != "" {
		sb.WriteString(" AND schedule_id = ?")
		args = append(args, f.ScheduleID)
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.WrapInternal(err, "failed to list jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

// Dequeue atomically claims the next pending job, moving it to
// processing. Returns nil when the queue is empty. Ordering is priority
// weight descending, then creation time ascending.
func (s *Store) Dequeue(ctx context.Context) (*Job, error) {
	for {
		row := s.db.QueryRowContext(ctx, `
			SELECT id FROM export_jobs
			WHERE status = 'pending' AND archived = 0
			ORDER BY CASE priority
				WHEN 'urgent' THEN 3
				WHEN 'high'   THEN 2
				WHEN 'normal' THEN 1
				ELSE 0
			END DESC, created_at ASC
			LIMIT 1`)

		var id string
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, errors.WrapInternal(err, "failed to pick pending job")
		}

		applied, err := s.guardedUpdate(ctx, `
			UPDATE export_jobs SET status = 'processing', updated_at = ?
			WHERE id = ? AND status = 'pending'`,
			time.Now().UTC(), id)
		if err != nil {
			return nil, err
		}
		if !applied {
			// Lost the claim race; pick again.
			continue
		}
		return s.Get(ctx, id)
	}
}

// MarkProcessing claims one specific pending job. Used when a caller
// already holds an id instead of draining the queue.
func (s *Store) MarkProcessing(ctx context.Context, id string) (bool, error) {
	return s.guardedUpdate(ctx, `
		UPDATE export_jobs SET status = 'processing', updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		time.Now().UTC(), id)
}

// UpdateProgress records monotonic progress on an active job. The
// guard rejects regressions and writes against settled jobs, so a
// worker flushing a stale buffer after cancellation changes nothing.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress, processedItems int) (bool, error) {
	return s.guardedUpdate(ctx, `
		UPDATE export_jobs SET progress = ?, processed_items = ?, updated_at = ?
		WHERE id = ? AND status = 'processing' AND progress <= ?`,
		progress, processedItems, time.Now().UTC(), id, progress)
}

// Complete settles a processing job successfully.
func (s *Store) Complete(ctx context.Context, id, downloadURL string) (bool, error) {
	now := time.Now().UTC()
	return s.guardedUpdate(ctx, `
		UPDATE export_jobs
		SET status = 'completed', progress = 100, processed_items = total_items,
		    download_url = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = 'processing'`,
		downloadURL, now, now, id)
}

// Fail settles a processing job with an error message.
func (s *Store) Fail(ctx context.Context, id, message string) (bool, error) {
	now := time.Now().UTC()
	return s.guardedUpdate(ctx, `
		UPDATE export_jobs
		SET status = 'failed', error_message = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = 'processing'`,
		message, now, now, id)
}

// Cancel settles an active job as cancelled, freezing progress where
// it stands and recording who ended it in the error message.
func (s *Store) Cancel(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	return s.guardedUpdate(ctx, `
		UPDATE export_jobs
		SET status = 'cancelled', error_message = 'cancelled by user',
		    updated_at = ?, completed_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`,
		now, now, id)
}

// Retry resets a failed job to pending, clearing the previous attempt's
// error and counters so the dispatcher picks it up fresh.
func (s *Store) Retry(ctx context.Context, id string) (bool, error) {
	return s.guardedUpdate(ctx, `
		UPDATE export_jobs
		SET status = 'pending', progress = 0, processed_items = 0,
		    error_message = NULL, download_url = NULL, updated_at = ?, completed_at = NULL
		WHERE id = ? AND status = 'failed'`,
		time.Now().UTC(), id)
}

// SetPriority reorders an active job in the queue.
func (s *Store) SetPriority(ctx context.Context, id string, p Priority) (bool, error) {
	return s.guardedUpdate(ctx, `
		UPDATE export_jobs SET priority = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`,
		p, time.Now().UTC(), id)
}

// Archive hides a settled job from default listings.
func (s *Store) Archive(ctx context.Context, id string) (bool, error) {
	return s.guardedUpdate(ctx, `
		UPDATE export_jobs SET archived = 1, updated_at = ?
		WHERE id = ? AND status IN ('completed', 'failed', 'cancelled') AND archived = 0`,
		time.Now().UTC(), id)
}

// RecoverOrphans resets processing jobs back to pending. Called once at
// startup: any job still marked processing was orphaned by a previous
// run and its worker no longer exists.
func (s *Store) RecoverOrphans(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE export_jobs SET status = 'pending', progress = 0, processed_items = 0, updated_at = ?
		WHERE status = 'processing'`,
		time.Now().UTC())
	if err != nil {
		return 0, errors.WrapInternal(err, "failed to recover orphaned jobs")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.WrapInternal(err, "failed to count recovered jobs")
	}
	return int(n), nil
}

// CountByStatus returns job counts per status across all organizations.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM export_jobs GROUP BY status")
	if err != nil {
		return nil, errors.WrapInternal(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, errors.WrapInternal(err, "failed to scan job count")
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// DeleteSettledBefore removes settled jobs older than cutoff. Used by
// the retention sweep.
func (s *Store) DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM export_jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < ?`,
		cutoff)
	if err != nil {
		return 0, errors.WrapInternal(err, "failed to delete old jobs")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.WrapInternal(err, "failed to count deleted jobs")
	}
	return int(n), nil
}

// guardedUpdate runs a conditional UPDATE and reports whether it
// applied. Zero affected rows is not an error at this layer; the state
// machine re-reads the row to classify the refusal.
func (s *Store) guardedUpdate(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.WrapInternal(err, "failed to update job")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.WrapInternal(err, "failed to check update result")
	}
	return n > 0, nil
}

func scanJob(row *sql.Row) (*Job, error) {
	var j Job
	var scheduleID, errorMessage, downloadURL sql.NullString
	var itemIDs, opts string
	var completedAt sql.NullTime

	err := row.Scan(&j.ID, &j.OrgID, &j.UserID, &j.Origin, &scheduleID, &j.Status, &j.Archived,
		&j.Format, &j.Priority, &j.Progress, &j.TotalItems, &j.ProcessedItems, &itemIDs, &opts,
		&errorMessage, &downloadURL, &j.CreatedAt, &j.UpdatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(errors.ErrNotFound, "job not found")
		}
		return nil, errors.WrapInternal(err, "failed to scan job")
	}
	return assembleJob(&j, scheduleID, errorMessage, downloadURL, itemIDs, opts, completedAt)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var j Job
		var scheduleID, errorMessage, downloadURL sql.NullString
		var itemIDs, opts string
		var completedAt sql.NullTime

		err := rows.Scan(&j.ID, &j.OrgID, &j.UserID, &j.Origin, &scheduleID, &j.Status, &j.Archived,
			&j.Format, &j.Priority, &j.Progress, &j.TotalItems, &j.ProcessedItems, &itemIDs, &opts,
			&errorMessage, &downloadURL, &j.CreatedAt, &j.UpdatedAt, &completedAt)
		if err != nil {
			return nil, errors.WrapInternal(err, "failed to scan job")
		}
		job, err := assembleJob(&j, scheduleID, errorMessage, downloadURL, itemIDs, opts, completedAt)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapInternal(err, "failed to iterate jobs")
	}
	return jobs, nil
}

func assembleJob(j *Job, scheduleID, errorMessage, downloadURL sql.NullString, itemIDs, opts string, completedAt sql.NullTime) (*Job, error) {
	j.ScheduleID = scheduleID.String
	j.ErrorMessage = errorMessage.String
	j.DownloadURL = downloadURL.String
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(itemIDs), &j.ItemIDs); err != nil {
		return nil, errors.WrapInternal(err, "failed to unmarshal item ids")
	}
	if err := json.Unmarshal([]byte(opts), &j.Options); err != nil {
		return nil, errors.WrapInternal(err, "failed to unmarshal job options")
	}
	return j, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
