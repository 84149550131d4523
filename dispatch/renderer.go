// Package dispatch runs export jobs: a worker pool drains the pending
// queue in priority order, drives the renderer, and settles each job
// through the state machine.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/draywest/exportd/job"
)

// ProgressReporter lets a renderer checkpoint its progress. The write
// is guarded: an error from Report means the job was settled underneath
// the worker (usually a cancellation) and rendering must stop.
type ProgressReporter interface {
	Report(ctx context.Context, processedItems int) error
}

// Result is what a successful render hands back.
type Result struct {
	DownloadURL string
}

// Renderer produces the export artifact for one job. Implementations
// must call progress.Report between items and abandon work when it
// errors; that is the cooperative cancellation point.
type Renderer interface {
	Render(ctx context.Context, j *job.Job, progress ProgressReporter) (Result, error)
}

// Delivery is notified when a job settles. Implementations deliver the
// artifact or the failure notice; errors are logged, never retried.
type Delivery interface {
	Delivered(ctx context.Context, j *job.Job) error
}

// StubRenderer paces through the item list without producing a real
// artifact. Used by the demo daemon and tests; a deployment plugs in
// its own Renderer.
type StubRenderer struct {
	// PerItem simulates render work per document.
	PerItem time.Duration
}

// Render walks the job's items, checkpointing after each one.
func (r *StubRenderer) Render(ctx context.Context, j *job.Job, progress ProgressReporter) (Result, error) {
	for i := range j.ItemIDs {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if r.PerItem > 0 {
			select {
			case <-time.After(r.PerItem):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}
		if err := progress.Report(ctx, i+1); err != nil {
			return Result{}, err
		}
	}
	return Result{DownloadURL: fmt.Sprintf("file://exports/%s.%s", j.ID, j.Format)}, nil
}
