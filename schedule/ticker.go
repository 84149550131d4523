package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/draywest/exportd/job"
	"github.com/draywest/exportd/logger"
	"github.com/draywest/exportd/selection"
)

// Ticker is the firing loop: it periodically scans for due definitions,
// claims each one with a compare-and-swap on its firing instant, and
// spawns the export job for every claim it wins. Several tickers may
// run against one database; the claim guarantees each due instant fires
// exactly once.
type Ticker struct {
	store    *Store
	firings  *FiringStore
	jobs     *job.Service
	interval time.Duration
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewTicker creates a firing loop over the given stores.
func NewTicker(store *Store, firings *FiringStore, jobs *job.Service, interval time.Duration, log *zap.SugaredLogger) *Ticker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log == nil {
		log = logger.Logger
	}
	return &Ticker{
		store:    store,
		firings:  firings,
		jobs:     jobs,
		interval: interval,
		logger:   log,
	}
}

// Start launches the loop in the background.
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	t.running = true

	go t.run(ctx)
	t.logger.Infow("Schedule ticker started", "interval", t.interval.String())
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.cancel()
	done := t.done
	t.running = false
	t.mu.Unlock()

	<-done
	t.logger.Infow("Schedule ticker stopped")
}

func (t *Ticker) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.RunDueSchedules(ctx, time.Now().UTC()); err != nil {
				t.logger.Errorw("Failed to scan due schedules", logger.FieldError, err)
			}
		}
	}
}

// RunDueSchedules fires every definition due at now. Exported so tests
// and operator tooling can drive the loop with a controlled clock. A
// definition whose firing fails is isolated: its error is recorded in
// firing history and the scan moves on to the next one.
func (t *Ticker) RunDueSchedules(ctx context.Context, now time.Time) error {
	due, err := t.store.ListDue(ctx, now)
	if err != nil {
		return err
	}

	for _, d := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.fire(ctx, d, now)
	}
	return nil
}

// fire claims one due definition and, on winning the claim, records a
// firing and spawns the export job.
func (t *Ticker) fire(ctx context.Context, d *Definition, now time.Time) {
	next := NextRun(d.Schedule, now)

	claimed, err := t.store.Claim(ctx, d.ID, d.NextRunAt, now, next)
	if err != nil {
		t.logger.Errorw("Failed to claim schedule",
			logger.FieldScheduleID, d.ID, logger.FieldError, err)
		return
	}
	if !claimed {
		// Another loop instance won this instant.
		return
	}

	firing, err := t.firings.Begin(ctx, d.ID, now)
	if err != nil {
		t.logger.Errorw("Failed to record firing",
			logger.FieldScheduleID, d.ID, logger.FieldError, err)
		return
	}

	j, err := t.jobs.CreateScheduled(ctx, job.ScheduledRequest{
		OrgID:      d.OrgID,
		UserID:     d.CreatedBy,
		ScheduleID: d.ID,
		Selection:  selection.Request{Filter: &d.Filter},
		Options:    d.Export,
	})
	if err != nil {
		// The claim already advanced next_run_at, so a failed firing
		// does not retry until the following instant.
		if ferr := t.firings.Fail(ctx, firing.ID, err.Error()); ferr != nil {
			t.logger.Errorw("Failed to settle firing",
				logger.FieldFiringID, firing.ID, logger.FieldError, ferr)
		}
		t.logger.Warnw("Schedule firing failed",
			logger.FieldScheduleID, d.ID, logger.FieldError, err)
		return
	}

	if err := t.firings.Complete(ctx, firing.ID, j.ID); err != nil {
		t.logger.Errorw("Failed to settle firing",
			logger.FieldFiringID, firing.ID, logger.FieldError, err)
	}
	t.logger.Infow("Schedule fired",
		logger.FieldScheduleID, d.ID,
		logger.FieldJobID, j.ID,
		logger.FieldNextRunAt, next.Format(time.RFC3339))
}
