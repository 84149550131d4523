package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/draywest/exportd/errors"
)

// Store persists schedule definitions. Firing instants are stored as
// RFC3339 UTC strings so lexicographic comparison in SQL matches
// chronological order, and the due query stays a plain index scan.
type Store struct {
	db *sql.DB
}

// NewStore creates a schedule definition store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const definitionColumns = `id, org_id, created_by, schedule_type, day_of_week, day_of_month,
	hour, timezone, filter_config, export_config, delivery_config,
	is_active, next_run_at, last_run_at, created_at, updated_at`

// Create inserts a definition row.
func (s *Store) Create(ctx context.Context, d *Definition) error {
	filterCfg, err := json.Marshal(d.Filter)
	if err != nil {
		return errors.WrapInternal(err, "failed to marshal filter config")
	}
	exportCfg, err := json.Marshal(d.Export)
	if err != nil {
		return errors.WrapInternal(err, "failed to marshal export config")
	}
	deliveryCfg, err := json.Marshal(d.Delivery)
	if err != nil {
		return errors.WrapInternal(err, "failed to marshal delivery config")
	}

	var lastRun any
	if d.LastRunAt != nil {
		lastRun = formatTime(*d.LastRunAt)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedule_definitions (`+definitionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OrgID, d.CreatedBy, d.Schedule.Type, d.Schedule.DayOfWeek, d.Schedule.DayOfMonth,
		d.Schedule.Hour, d.Schedule.Timezone, string(filterCfg), string(exportCfg), string(deliveryCfg),
		d.IsActive, formatTime(d.NextRunAt), lastRun, formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	if err != nil {
		return errors.WrapInternal(err, "failed to create schedule definition")
	}
	return nil
}

// GetInOrg returns a definition scoped to orgID.
func (s *Store) GetInOrg(ctx context.Context, orgID, id string) (*Definition, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+definitionColumns+" FROM schedule_definitions WHERE id = ? AND org_id = ?",
		id, orgID)
	d, err := scanDefinition(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(errors.ErrNotFound, "schedule definition not found")
		}
		return nil, err
	}
	return d, nil
}

// ListInOrg returns an organization's definitions, newest first,
// optionally restricted to active ones.
func (s *Store) ListInOrg(ctx context.Context, orgID string, activeOnly bool) ([]*Definition, error) {
	query := "SELECT " + definitionColumns + " FROM schedule_definitions WHERE org_id = ?"
	if activeOnly {
		query += " AND is_active = 1"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, errors.WrapInternal(err, "failed to list schedule definitions")
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

// ListDue returns active definitions whose next firing instant is at or
// before now, soonest first.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+definitionColumns+` FROM schedule_definitions
		WHERE is_active = 1 AND next_run_at <= ?
		ORDER BY next_run_at ASC`,
		formatTime(now))
	if err != nil {
		return nil, errors.WrapInternal(err, "failed to list due schedule definitions")
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

// Claim atomically advances a due definition to its next firing
// instant. The compare-and-swap on the observed next_run_at value means
// that when several firing loops see the same due definition, exactly
// one claim applies; the rest return false and skip the firing.
func (s *Store) Claim(ctx context.Context, id string, observedNextRun, firedAt, nextRun time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE schedule_definitions
		SET next_run_at = ?, last_run_at = ?, updated_at = ?
		WHERE id = ? AND is_active = 1 AND next_run_at = ?`,
		formatTime(nextRun), formatTime(firedAt), formatTime(time.Now().UTC()),
		id, formatTime(observedNextRun))
	if err != nil {
		return false, errors.WrapInternal(err, "failed to claim schedule definition")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.WrapInternal(err, "failed to check claim result")
	}
	return n > 0, nil
}

// SetActive toggles a definition. Reactivation recomputes next_run_at
// so a definition paused past its firing instant does not fire
// immediately for the missed window.
func (s *Store) SetActive(ctx context.Context, orgID, id string, active bool, nextRun time.Time) (*Definition, error) {
	var err error
	if active {
		_, err = s.db.ExecContext(ctx, `
			UPDATE schedule_definitions SET is_active = 1, next_run_at = ?, updated_at = ?
			WHERE id = ? AND org_id = ?`,
			formatTime(nextRun), formatTime(time.Now().UTC()), id, orgID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE schedule_definitions SET is_active = 0, updated_at = ?
			WHERE id = ? AND org_id = ?`,
			formatTime(time.Now().UTC()), id, orgID)
	}
	if err != nil {
		return nil, errors.WrapInternal(err, "failed to toggle schedule definition")
	}
	return s.GetInOrg(ctx, orgID, id)
}

// CountActiveInOrg counts an organization's active definitions, used
// for quota enforcement.
func (s *Store) CountActiveInOrg(ctx context.Context, orgID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schedule_definitions WHERE org_id = ? AND is_active = 1",
		orgID).Scan(&n)
	if err != nil {
		return 0, errors.WrapInternal(err, "failed to count active schedule definitions")
	}
	return n, nil
}

func scanDefinitions(rows *sql.Rows) ([]*Definition, error) {
	var defs []*Definition
	for rows.Next() {
		d, err := scanDefinition(rows.Scan)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapInternal(err, "failed to iterate schedule definitions")
	}
	return defs, nil
}

func scanDefinition(scan func(...any) error) (*Definition, error) {
	var d Definition
	var dayOfWeek, dayOfMonth sql.NullInt64
	var timezone sql.NullString
	var filterCfg, exportCfg, deliveryCfg string
	var nextRun, createdAt, updatedAt string
	var lastRun sql.NullString

	err := scan(&d.ID, &d.OrgID, &d.CreatedBy, &d.Schedule.Type, &dayOfWeek, &dayOfMonth,
		&d.Schedule.Hour, &timezone, &filterCfg, &exportCfg, &deliveryCfg,
		&d.IsActive, &nextRun, &lastRun, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.WrapInternal(err, "failed to scan schedule definition")
	}

	if dayOfWeek.Valid {
		v := int(dayOfWeek.Int64)
		d.Schedule.DayOfWeek = &v
	}
	if dayOfMonth.Valid {
		v := int(dayOfMonth.Int64)
		d.Schedule.DayOfMonth = &v
	}
	d.Schedule.Timezone = timezone.String

	if err := json.Unmarshal([]byte(filterCfg), &d.Filter); err != nil {
		return nil, errors.WrapInternal(err, "failed to unmarshal filter config")
	}
	if err := json.Unmarshal([]byte(exportCfg), &d.Export); err != nil {
		return nil, errors.WrapInternal(err, "failed to unmarshal export config")
	}
	if err := json.Unmarshal([]byte(deliveryCfg), &d.Delivery); err != nil {
		return nil, errors.WrapInternal(err, "failed to unmarshal delivery config")
	}

	if d.NextRunAt, err = parseTime(nextRun); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		t, err := parseTime(lastRun.String)
		if err != nil {
			return nil, err
		}
		d.LastRunAt = &t
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.WrapInternal(err, "failed to parse stored timestamp")
	}
	return t, nil
}
