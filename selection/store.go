package selection

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/draywest/exportd/errors"
)

// Store reads the documents table for selection resolution. Documents
// themselves are written by the surrounding application; the engine
// only queries them.
type Store struct {
	db *sql.DB
}

// NewStore creates a document selection store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Document is the engine's read-model of an exportable document.
type Document struct {
	ID              string
	OrgID           string
	OwnerID         string
	Title           string
	Category        string
	ComplianceScore float64
	CreatedAt       time.Time
}

// Insert adds a document row. Used by tests and by import tooling.
func (s *Store) Insert(ctx context.Context, d *Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, org_id, owner_id, title, category, compliance_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OrgID, d.OwnerID, d.Title, d.Category, d.ComplianceScore, d.CreatedAt)
	if err != nil {
		return errors.WrapInternal(err, "failed to insert document")
	}
	return nil
}

// FilterIDs returns ids of documents in orgID matching f, most recent
// first, at most limit. The limit is applied in SQL so an over-broad
// filter never materializes an unbounded id list.
func (s *Store) FilterIDs(ctx context.Context, orgID string, f Filter, now time.Time, limit int) ([]string, error) {
	from, to, err := f.Window(now)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT id FROM documents WHERE org_id = ?")
	args := []any{orgID}

	if !from.IsZero() {
		sb.WriteString(" AND created_at >= ?")
		args = append(args, from)
	}
	if !to.IsZero() {
		sb.WriteString(" AND created_at <= ?")
		args = append(args, to)
	}
	if f.Category != "" {
		sb.WriteString(" AND category = ?")
		args = append(args, f.Category)
	}
	if f.OwnerID != "" {
		sb.WriteString(" AND owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.MinComplianceScore != nil {
		sb.WriteString(" AND compliance_score >= ?")
		args = append(args, *f.MinComplianceScore)
	}
	sb.WriteString(" ORDER BY created_at DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.WrapInternal(err, "failed to query documents")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.WrapInternal(err, "failed to scan document id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapInternal(err, "failed to iterate documents")
	}
	return ids, nil
}

// MissingFromOrg returns the subset of ids that do not exist inside
// orgID. Documents from other organizations and ids that simply do not
// exist are indistinguishable on purpose.
func (s *Store) MissingFromOrg(ctx context.Context, orgID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, orgID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM documents WHERE org_id = ? AND id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, errors.WrapInternal(err, "failed to validate document ids")
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.WrapInternal(err, "failed to scan document id")
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapInternal(err, "failed to iterate document ids")
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
