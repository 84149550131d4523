package selection

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/draywest/exportd/errors"
	"github.com/draywest/exportd/logger"
)

// DefaultMaxItems caps how many documents a single export job may
// contain when the deployment does not configure its own ceiling.
const DefaultMaxItems = 500

// Resolver turns selection requests into concrete document id lists.
// Explicit ids are deduplicated and re-validated against the caller's
// organization; filters are evaluated against the documents table.
type Resolver struct {
	store    *Store
	maxItems int
	logger   *zap.SugaredLogger
}

// NewResolver creates a resolver with the given per-job ceiling.
// A non-positive ceiling falls back to DefaultMaxItems.
func NewResolver(db *sql.DB, maxItems int, log *zap.SugaredLogger) *Resolver {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if log == nil {
		log = logger.Logger
	}
	return &Resolver{store: NewStore(db), maxItems: maxItems, logger: log}
}

// MaxItems returns the effective ceiling for a request: the smaller of
// the request's own cap and the resolver's configured ceiling. Callers
// can narrow the limit, never widen it.
func (r *Resolver) MaxItems(req Request) int {
	if req.MaxItems > 0 && req.MaxItems < r.maxItems {
		return req.MaxItems
	}
	return r.maxItems
}

// Resolve produces the ordered document id list for req, scoped to
// orgID. Explicit ids win over the filter when both are present; the
// returned order is request order for explicit ids and most recent
// first for filters.
func (r *Resolver) Resolve(ctx context.Context, orgID string, req Request) ([]string, error) {
	ceiling := r.MaxItems(req)

	if len(req.DocumentIDs) > 0 {
		return r.resolveExplicit(ctx, orgID, req.DocumentIDs, ceiling)
	}
	if req.Filter != nil {
		return r.resolveFilter(ctx, orgID, *req.Filter, ceiling)
	}
	return nil, errors.NewValidationError("selection needs document ids or a filter")
}

func (r *Resolver) resolveExplicit(ctx context.Context, orgID string, ids []string, ceiling int) ([]string, error) {
	deduped := dedupe(ids)
	if len(deduped) > ceiling {
		return nil, errors.NewLimitExceededError(
			"selection of %d documents exceeds the per-job limit of %d", len(deduped), ceiling)
	}

	missing, err := r.store.MissingFromOrg(ctx, orgID, deduped)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		// Cross-org ids and nonexistent ids report identically so a
		// caller cannot probe another organization's document space.
		return nil, errors.NewPermissionError(
			"%d of %d requested documents are not accessible", len(missing), len(deduped))
	}

	return deduped, nil
}

func (r *Resolver) resolveFilter(ctx context.Context, orgID string, f Filter, ceiling int) ([]string, error) {
	ids, err := r.store.FilterIDs(ctx, orgID, f, time.Now(), ceiling)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.NewValidationError("selection filter matched no documents")
	}

	r.logger.Debugw("Resolved filter selection",
		logger.FieldOrgID, orgID,
		logger.FieldCount, len(ids))
	return ids, nil
}

// dedupe removes repeated ids while preserving first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
