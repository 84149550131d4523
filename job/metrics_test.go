package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draywest/exportd/internal/util"
)

func TestComputeMetricsActiveJob(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	now := created.Add(100 * time.Second)

	j := &Job{
		Status:         StatusProcessing,
		Progress:       25,
		TotalItems:     200,
		ProcessedItems: 50,
		CreatedAt:      created,
		UpdatedAt:      now.Add(-5 * time.Second),
	}

	m := ComputeMetrics(j, now, 0)
	assert.Equal(t, 100*time.Second, m.Elapsed)
	assert.InDelta(t, 0.5, m.Rate, 0.001)
	require.NotNil(t, m.ETA)
	// A quarter done after 100s projects 400s total.
	assert.Equal(t, 300*time.Second, *m.ETA)
	assert.False(t, m.IsStuck)
}

func TestComputeMetricsDeterministic(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	now := created.Add(time.Minute)
	j := &Job{Status: StatusProcessing, Progress: 30, TotalItems: 10, ProcessedItems: 3, CreatedAt: created, UpdatedAt: now}

	assert.Equal(t, ComputeMetrics(j, now, 0), ComputeMetrics(j, now, 0))
}

func TestComputeMetricsETAFromProgress(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	// Progress alone drives the ETA; item counts are not required.
	j := &Job{Status: StatusProcessing, Progress: 40, TotalItems: 10, CreatedAt: created, UpdatedAt: created}
	m := ComputeMetrics(j, created.Add(20*time.Minute), 0)
	require.NotNil(t, m.ETA)
	assert.Equal(t, 30*time.Minute, *m.ETA)
	assert.Zero(t, m.Rate)
	assert.False(t, m.IsStuck)

	// Queued jobs carry no ETA even with counters populated.
	queued := *j
	queued.Status = StatusPending
	queued.ProcessedItems = 4
	assert.Nil(t, ComputeMetrics(&queued, created.Add(20*time.Minute), 0).ETA)
}

func TestComputeMetricsZeroProgress(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	j := &Job{Status: StatusProcessing, TotalItems: 10, CreatedAt: created, UpdatedAt: created}

	m := ComputeMetrics(j, created.Add(time.Minute), 0)
	assert.Zero(t, m.Rate)
	assert.Nil(t, m.ETA)
	assert.False(t, m.IsStuck)
}

func TestComputeMetricsSettledJob(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	completed := created.Add(80 * time.Second)

	j := &Job{
		Status:         StatusCompleted,
		Progress:       100,
		TotalItems:     40,
		ProcessedItems: 40,
		CreatedAt:      created,
		UpdatedAt:      completed,
		CompletedAt:    util.Ptr(completed),
	}

	// Elapsed stops at completion no matter how late the read happens,
	// and settled jobs carry no ETA and are never stuck.
	m := ComputeMetrics(j, completed.Add(24*time.Hour), 0)
	assert.Equal(t, 80*time.Second, m.Elapsed)
	assert.Nil(t, m.ETA)
	assert.False(t, m.IsStuck)
}

func TestComputeMetricsStuck(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	j := &Job{Status: StatusProcessing, TotalItems: 10, CreatedAt: created, UpdatedAt: created}

	assert.False(t, ComputeMetrics(j, created.Add(5*time.Minute), 0).IsStuck)
	assert.True(t, ComputeMetrics(j, created.Add(20*time.Minute), 0).IsStuck)

	// Any reported progress clears the signal however long the job runs.
	moving := *j
	moving.Progress = 50
	moving.ProcessedItems = 5
	assert.False(t, ComputeMetrics(&moving, created.Add(20*time.Minute), 0).IsStuck)

	// Queued jobs are waiting, not stuck.
	queued := *j
	queued.Status = StatusPending
	assert.False(t, ComputeMetrics(&queued, created.Add(20*time.Minute), 0).IsStuck)

	// Custom threshold.
	assert.True(t, ComputeMetrics(j, created.Add(4*time.Minute), 2*time.Minute).IsStuck)
}
