package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draywest/exportd/audit"
	qt "github.com/draywest/exportd/internal/testing"
	"github.com/draywest/exportd/job"
	"github.com/draywest/exportd/logger"
	"github.com/draywest/exportd/selection"
)

func newTestTicker(t *testing.T, db *sql.DB) (*Ticker, *Store, *job.Service) {
	t.Helper()
	jobs := job.NewService(job.ServiceConfig{
		DB:     db,
		Audit:  audit.NewSQLiteSink(db),
		Logger: logger.NewTestLogger(),
	})
	store := NewStore(db)
	firings := NewFiringStore(db)
	return NewTicker(store, firings, jobs, time.Second, logger.NewTestLogger()), store, jobs
}

func seedTickerDocs(t *testing.T, db *sql.DB, orgID, category string, n int) {
	t.Helper()
	store := selection.NewStore(db)
	for i := 0; i < n; i++ {
		require.NoError(t, store.Insert(context.Background(), &selection.Document{
			ID:        fmt.Sprintf("doc-%s-%s-%03d", orgID, category, i),
			OrgID:     orgID,
			OwnerID:   "u1",
			Title:     "Doc",
			Category:  category,
			CreatedAt: time.Now().UTC().Add(-time.Hour),
		}))
	}
}

func TestRunDueSchedulesFires(t *testing.T) {
	db := qt.CreateTestDB(t)
	ticker, store, jobs := newTestTicker(t, db)
	ctx := context.Background()
	seedTickerDocs(t, db, "org1", "contract", 4)

	now := time.Now().UTC().Truncate(time.Second)
	d := insertDefinition(t, store, "org1", now.Add(-time.Minute))

	require.NoError(t, ticker.RunDueSchedules(ctx, now))

	// The definition advanced past now.
	after, err := store.GetInOrg(ctx, "org1", d.ID)
	require.NoError(t, err)
	assert.True(t, after.NextRunAt.After(now))
	require.NotNil(t, after.LastRunAt)

	// A scheduled job exists for the definition's creator.
	created, err := jobs.Store().ListInOrg(ctx, "org1", job.ListFilter{ScheduleID: d.ID})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, job.OriginScheduled, created[0].Origin)
	assert.Equal(t, "u1", created[0].UserID)
	assert.Equal(t, 4, created[0].TotalItems)

	// Firing history links the two.
	firings, err := NewFiringStore(db).ListForSchedule(ctx, d.ID, 0)
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, FiringCompleted, firings[0].Status)
	assert.Equal(t, created[0].ID, firings[0].JobID)
}

func TestRunDueSchedulesNoDoubleFiring(t *testing.T) {
	db := qt.CreateTestDB(t)
	ticker, store, jobs := newTestTicker(t, db)
	ctx := context.Background()
	seedTickerDocs(t, db, "org1", "contract", 2)

	now := time.Now().UTC().Truncate(time.Second)
	d := insertDefinition(t, store, "org1", now.Add(-time.Minute))

	// The same instant scanned twice produces exactly one job.
	require.NoError(t, ticker.RunDueSchedules(ctx, now))
	require.NoError(t, ticker.RunDueSchedules(ctx, now))

	created, err := jobs.Store().ListInOrg(ctx, "org1", job.ListFilter{ScheduleID: d.ID})
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestRunDueSchedulesFailureIsolation(t *testing.T) {
	db := qt.CreateTestDB(t)
	ticker, store, jobs := newTestTicker(t, db)
	ctx := context.Background()
	seedTickerDocs(t, db, "org1", "contract", 2)

	now := time.Now().UTC().Truncate(time.Second)
	// The broken definition's filter matches nothing; it sorts first.
	broken := insertDefinition(t, store, "org1", now.Add(-2*time.Minute), func(d *Definition) {
		d.Filter = selection.Filter{Category: "invoice"}
	})
	healthy := insertDefinition(t, store, "org1", now.Add(-time.Minute))

	require.NoError(t, ticker.RunDueSchedules(ctx, now))

	// The broken firing is recorded as failed with no job.
	firings, err := NewFiringStore(db).ListForSchedule(ctx, broken.ID, 0)
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, FiringFailed, firings[0].Status)
	assert.Empty(t, firings[0].JobID)
	assert.NotEmpty(t, firings[0].ErrorMessage)

	// The healthy definition still fired.
	created, err := jobs.Store().ListInOrg(ctx, "org1", job.ListFilter{ScheduleID: healthy.ID})
	require.NoError(t, err)
	assert.Len(t, created, 1)

	// Both advanced; the broken one retries at its next instant, not
	// immediately.
	for _, id := range []string{broken.ID, healthy.ID} {
		after, err := store.GetInOrg(ctx, "org1", id)
		require.NoError(t, err)
		assert.True(t, after.NextRunAt.After(now))
	}
}

func TestTickerStartStop(t *testing.T) {
	db := qt.CreateTestDB(t)
	ticker, _, _ := newTestTicker(t, db)

	ticker.Start(context.Background())
	// Second start is a no-op, and stop waits the loop out.
	ticker.Start(context.Background())
	ticker.Stop()
	ticker.Stop()
}
