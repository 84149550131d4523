package job

import "time"

// DefaultStuckThreshold marks a processing job as stuck when it has
// made no progress for this long.
const DefaultStuckThreshold = 10 * time.Minute

// Metrics are derived progress numbers for one job. They are computed
// on read and never persisted.
type Metrics struct {
	Elapsed time.Duration
	// Rate is processed items per second over the elapsed window.
	// Zero when nothing has been processed yet.
	Rate float64
	// ETA extrapolates time remaining linearly from progress. Nil
	// unless the job is processing and has reported progress.
	ETA *time.Duration
	// IsStuck is true for a processing job still at zero progress
	// past the stuck threshold. An operator signal, nothing acts on
	// it automatically.
	IsStuck bool
}

// ComputeMetrics derives progress metrics for j at instant now. Pure:
// the same job snapshot and now always produce the same metrics.
// A non-positive stuckThreshold uses DefaultStuckThreshold.
func ComputeMetrics(j *Job, now time.Time, stuckThreshold time.Duration) Metrics {
	if stuckThreshold <= 0 {
		stuckThreshold = DefaultStuckThreshold
	}

	var m Metrics

	// Elapsed stops at completion for settled jobs.
	end := now
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	if end.After(j.CreatedAt) {
		m.Elapsed = end.Sub(j.CreatedAt)
	}

	if j.ProcessedItems > 0 && m.Elapsed > 0 {
		m.Rate = float64(j.ProcessedItems) / m.Elapsed.Seconds()
	}

	if j.Status == StatusProcessing && j.Progress > 0 {
		// elapsed / (progress/100) projects the total duration; the
		// remainder is what is still ahead.
		eta := time.Duration(float64(m.Elapsed)*100/float64(j.Progress)) - m.Elapsed
		if eta < 0 {
			eta = 0
		}
		m.ETA = &eta
	}

	if j.Status == StatusProcessing && j.Progress == 0 && m.Elapsed > stuckThreshold {
		m.IsStuck = true
	}

	return m
}
