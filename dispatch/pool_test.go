package dispatch

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draywest/exportd/audit"
	"github.com/draywest/exportd/errors"
	qt "github.com/draywest/exportd/internal/testing"
	"github.com/draywest/exportd/job"
	"github.com/draywest/exportd/logger"
)

func newTestJobService(t *testing.T, db *sql.DB) *job.Service {
	t.Helper()
	return job.NewService(job.ServiceConfig{
		DB:     db,
		Audit:  audit.Nop(),
		Logger: logger.NewTestLogger(),
	})
}

func enqueueJob(t *testing.T, jobs *job.Service, items int, priority job.Priority) *job.Job {
	t.Helper()
	ids := make([]string, items)
	for i := range ids {
		ids[i] = "doc-" + string(rune('a'+i))
	}
	j, err := job.New("org1", "u1", job.OriginBulk, "", ids, job.Options{Format: job.FormatPDF}, priority)
	require.NoError(t, err)
	require.NoError(t, jobs.Machine().Create(context.Background(), j))
	return j
}

func fastPoolConfig() PoolConfig {
	return PoolConfig{Workers: 2, PollInterval: 10 * time.Millisecond, DequeuePerSecond: 1000}
}

// capturingDelivery records settled jobs handed to it.
type capturingDelivery struct {
	mu   sync.Mutex
	jobs []*job.Job
}

func (d *capturingDelivery) Delivered(_ context.Context, j *job.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, j)
	return nil
}

func (d *capturingDelivery) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func TestPoolProcessesJobs(t *testing.T) {
	db := qt.CreateTestDB(t)
	jobs := newTestJobService(t, db)
	delivery := &capturingDelivery{}
	pool := NewPool(jobs, &StubRenderer{}, delivery, fastPoolConfig(), logger.NewTestLogger())

	a := enqueueJob(t, jobs, 3, job.PriorityNormal)
	b := enqueueJob(t, jobs, 2, job.PriorityHigh)

	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.Eventually(t, func() bool { return delivery.count() == 2 },
		5*time.Second, 10*time.Millisecond)

	for _, id := range []string{a.ID, b.ID} {
		got, err := jobs.Store().Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, job.StatusCompleted, got.Status)
		assert.Equal(t, 100, got.Progress)
		assert.Equal(t, got.TotalItems, got.ProcessedItems)
		assert.Contains(t, got.DownloadURL, id)
	}
}

func TestPoolRecoversOrphansOnStart(t *testing.T) {
	db := qt.CreateTestDB(t)
	jobs := newTestJobService(t, db)

	j := enqueueJob(t, jobs, 2, job.PriorityNormal)
	claimed, err := jobs.Store().MarkProcessing(context.Background(), j.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	delivery := &capturingDelivery{}
	pool := NewPool(jobs, &StubRenderer{}, delivery, fastPoolConfig(), logger.NewTestLogger())
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	// The orphan goes back to pending and gets processed normally.
	require.Eventually(t, func() bool { return delivery.count() == 1 },
		5*time.Second, 10*time.Millisecond)

	got, err := jobs.Store().Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
}

// gatedRenderer checkpoints once, then waits for release before the
// next checkpoint. It lets a test cancel a job mid-render.
type gatedRenderer struct {
	checkpointed chan string
	release      chan struct{}
}

func (r *gatedRenderer) Render(ctx context.Context, j *job.Job, progress ProgressReporter) (Result, error) {
	if err := progress.Report(ctx, 1); err != nil {
		return Result{}, err
	}
	select {
	case r.checkpointed <- j.ID:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case <-r.release:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	if err := progress.Report(ctx, len(j.ItemIDs)); err != nil {
		return Result{}, err
	}
	return Result{DownloadURL: "file://exports/" + j.ID}, nil
}

func TestPoolCooperativeCancellation(t *testing.T) {
	db := qt.CreateTestDB(t)
	jobs := newTestJobService(t, db)
	renderer := &gatedRenderer{checkpointed: make(chan string, 1), release: make(chan struct{})}
	delivery := &capturingDelivery{}
	cfg := fastPoolConfig()
	cfg.Workers = 1
	pool := NewPool(jobs, renderer, delivery, cfg, logger.NewTestLogger())

	j := enqueueJob(t, jobs, 4, job.PriorityNormal)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	// Wait until the worker is mid-render, then cancel the job.
	select {
	case <-renderer.checkpointed:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached the first checkpoint")
	}
	cancelled, err := jobs.Machine().Cancel(context.Background(), j.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, cancelled.Status)
	frozen := cancelled.Progress

	// Release the renderer; its next checkpoint must observe the
	// cancellation and stop without settling the job again.
	close(renderer.release)

	assert.Never(t, func() bool { return delivery.count() > 0 },
		300*time.Millisecond, 20*time.Millisecond)

	got, err := jobs.Store().Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, got.Status)
	assert.Equal(t, frozen, got.Progress)
}

// failingRenderer always errors.
type failingRenderer struct{}

func (failingRenderer) Render(context.Context, *job.Job, ProgressReporter) (Result, error) {
	return Result{}, errors.New("template engine crashed")
}

func TestPoolSettlesFailures(t *testing.T) {
	db := qt.CreateTestDB(t)
	jobs := newTestJobService(t, db)
	delivery := &capturingDelivery{}
	pool := NewPool(jobs, failingRenderer{}, delivery, fastPoolConfig(), logger.NewTestLogger())

	j := enqueueJob(t, jobs, 2, job.PriorityNormal)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.Eventually(t, func() bool { return delivery.count() == 1 },
		5*time.Second, 10*time.Millisecond)

	got, err := jobs.Store().Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "template engine crashed")

	// Failed jobs are retryable; the pool picks the retry up again.
	_, err = jobs.Machine().Retry(context.Background(), j.ID, "u1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return delivery.count() == 2 },
		5*time.Second, 10*time.Millisecond)
}

func TestPoolStopIsIdempotent(t *testing.T) {
	db := qt.CreateTestDB(t)
	jobs := newTestJobService(t, db)
	pool := NewPool(jobs, &StubRenderer{}, nil, fastPoolConfig(), logger.NewTestLogger())

	require.NoError(t, pool.Start(context.Background()))
	pool.Stop()
	pool.Stop()
}
