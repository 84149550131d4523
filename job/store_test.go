package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draywest/exportd/errors"
	qt "github.com/draywest/exportd/internal/testing"
)

func insertJob(t *testing.T, s *Store, orgID string, priority Priority, createdAt time.Time) *Job {
	t.Helper()
	j, err := New(orgID, "u1", OriginBulk, "", []string{"doc-1"}, Options{Format: FormatCSV}, priority)
	require.NoError(t, err)
	j.CreatedAt = createdAt
	j.UpdatedAt = createdAt
	require.NoError(t, s.Create(context.Background(), j))
	return j
}

func TestStoreRoundTrip(t *testing.T) {
	db := qt.CreateTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	j, err := New("org1", "u1", OriginScheduled, "sched-1",
		[]string{"doc-1", "doc-2"},
		Options{Format: FormatPDF, Template: "quarterly", Language: "de", IncludeMetadata: true},
		PriorityHigh)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, j))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, OriginScheduled, got.Origin)
	assert.Equal(t, "sched-1", got.ScheduleID)
	assert.Equal(t, []string{"doc-1", "doc-2"}, got.ItemIDs)
	assert.Equal(t, j.Options, got.Options)
	assert.Equal(t, PriorityHigh, got.Priority)
	assert.Equal(t, 2, got.TotalItems)
}

func TestGetInOrgScoping(t *testing.T) {
	db := qt.CreateTestDB(t)
	s := NewStore(db)
	ctx := context.Background()
	j := insertJob(t, s, "org1", PriorityNormal, time.Now().UTC())

	_, err := s.GetInOrg(ctx, "org1", j.ID)
	require.NoError(t, err)

	// Another org's view is indistinguishable from a missing job.
	_, err = s.GetInOrg(ctx, "org2", j.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestDequeueOrdering(t *testing.T) {
	db := qt.CreateTestDB(t)
	s := NewStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	oldNormal := insertJob(t, s, "org1", PriorityNormal, base)
	newNormal := insertJob(t, s, "org1", PriorityNormal, base.Add(time.Minute))
	urgent := insertJob(t, s, "org1", PriorityUrgent, base.Add(2*time.Minute))
	low := insertJob(t, s, "org1", PriorityLow, base.Add(3*time.Minute))

	var order []string
	for {
		j, err := s.Dequeue(ctx)
		require.NoError(t, err)
		if j == nil {
			break
		}
		assert.Equal(t, StatusProcessing, j.Status)
		order = append(order, j.ID)
	}

	// Priority first, then FIFO within a level.
	assert.Equal(t, []string{urgent.ID, oldNormal.ID, newNormal.ID, low.ID}, order)
}

func TestDequeueSkipsArchivedAndSettled(t *testing.T) {
	db := qt.CreateTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	j := insertJob(t, s, "org1", PriorityNormal, time.Now().UTC())
	_, err := s.Cancel(ctx, j.ID)
	require.NoError(t, err)

	got, err := s.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListInOrgFilters(t *testing.T) {
	db := qt.CreateTestDB(t)
	s := NewStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	a := insertJob(t, s, "org1", PriorityNormal, base)
	b := insertJob(t, s, "org1", PriorityNormal, base.Add(time.Minute))
	insertJob(t, s, "org2", PriorityNormal, base)

	// Newest first, org scoped.
	jobs, err := s.ListInOrg(ctx, "org1", ListFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, b.ID, jobs[0].ID)

	// Archived jobs hidden by default.
	_, err = s.Cancel(ctx, a.ID)
	require.NoError(t, err)
	_, err = s.Archive(ctx, a.ID)
	require.NoError(t, err)

	jobs, err = s.ListInOrg(ctx, "org1", ListFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	jobs, err = s.ListInOrg(ctx, "org1", ListFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	// Status filter.
	jobs, err = s.ListInOrg(ctx, "org1", ListFilter{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, b.ID, jobs[0].ID)
}

func TestRecoverOrphans(t *testing.T) {
	db := qt.CreateTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	j := insertJob(t, s, "org1", PriorityNormal, time.Now().UTC())
	_, err := s.MarkProcessing(ctx, j.ID)
	require.NoError(t, err)
	_, err = s.UpdateProgress(ctx, j.ID, 30, 1)
	require.NoError(t, err)

	n, err := s.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.Progress)
}

func TestDeleteSettledBefore(t *testing.T) {
	db := qt.CreateTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	old := insertJob(t, s, "org1", PriorityNormal, time.Now().UTC().Add(-48*time.Hour))
	_, err := s.Cancel(ctx, old.ID)
	require.NoError(t, err)
	// Push updated_at into the past; Cancel stamped it with now.
	_, err = db.Exec("UPDATE export_jobs SET updated_at = ? WHERE id = ?",
		time.Now().UTC().Add(-48*time.Hour), old.ID)
	require.NoError(t, err)

	fresh := insertJob(t, s, "org1", PriorityNormal, time.Now().UTC())

	n, err := s.DeleteSettledBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, old.ID)
	assert.True(t, errors.IsNotFound(err))
	_, err = s.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}
