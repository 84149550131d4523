package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/draywest/exportd/errors"
	"github.com/draywest/exportd/job"
	"github.com/draywest/exportd/logger"
)

// PoolConfig sizes a worker pool.
type PoolConfig struct {
	// Workers is the number of concurrent job processors.
	Workers int
	// PollInterval is how long an idle worker sleeps between queue
	// checks.
	PollInterval time.Duration
	// DequeuePerSecond caps queue polling across all workers so an
	// empty-queue spin never hammers the database.
	DequeuePerSecond float64
}

// Pool is the job dispatcher: N workers claim pending jobs in priority
// order and run them through the renderer. Claims go through the same
// guarded updates as every other transition, so pool instances can
// coexist on one database without double-processing.
type Pool struct {
	store    *job.Store
	machine  *job.Machine
	renderer Renderer
	delivery Delivery
	cfg      PoolConfig
	limiter  *rate.Limiter
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPool creates a worker pool. Delivery may be nil.
func NewPool(jobs *job.Service, renderer Renderer, delivery Delivery, cfg PoolConfig, log *zap.SugaredLogger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.DequeuePerSecond <= 0 {
		cfg.DequeuePerSecond = 4
	}
	if log == nil {
		log = logger.Logger
	}
	return &Pool{
		store:    jobs.Store(),
		machine:  jobs.Machine(),
		renderer: renderer,
		delivery: delivery,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.DequeuePerSecond), cfg.Workers),
		logger:   log,
	}
}

// Start recovers orphaned jobs and launches the workers.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	// Jobs left in processing by a previous run have no worker; put
	// them back in the queue before anyone starts claiming.
	recovered, err := p.store.RecoverOrphans(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		p.logger.Infow("Recovered orphaned jobs", logger.FieldCount, recovered)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Infow("Dispatch pool started", logger.FieldCount, p.cfg.Workers)
	return nil
}

// Stop signals the workers and waits for in-flight jobs to reach their
// next checkpoint and exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Infow("Dispatch pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		j, err := p.store.Dequeue(ctx)
		if err != nil {
			p.logger.Errorw("Failed to dequeue job",
				logger.FieldWorkerID, id, logger.FieldError, err)
		}
		if j == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		p.process(ctx, id, j)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// process runs one claimed job to a settled state.
func (p *Pool) process(ctx context.Context, workerID int, j *job.Job) {
	p.logger.Infow("Processing job",
		logger.FieldWorkerID, workerID,
		logger.FieldJobID, j.ID,
		logger.FieldPriority, string(j.Priority),
		logger.FieldCount, j.TotalItems)

	result, err := p.renderer.Render(ctx, j, &reporter{machine: p.machine, job: j})
	if err != nil {
		p.settleFailure(ctx, j, err)
		return
	}

	settled, err := p.machine.Complete(ctx, j.ID, result.DownloadURL)
	if err != nil {
		// Settled underneath us, almost always a cancellation racing
		// the final checkpoint.
		if errors.IsConflict(err) {
			p.logger.Infow("Job settled before completion",
				logger.FieldJobID, j.ID, logger.FieldError, err)
			return
		}
		p.logger.Errorw("Failed to complete job",
			logger.FieldJobID, j.ID, logger.FieldError, err)
		return
	}

	p.notify(ctx, settled)
	p.logger.Infow("Job completed", logger.FieldJobID, j.ID)
}

func (p *Pool) settleFailure(ctx context.Context, j *job.Job, cause error) {
	// A conflict from a progress checkpoint means someone cancelled the
	// job; it is already settled and there is nothing to fail.
	if errors.IsConflict(cause) {
		p.logger.Infow("Job cancelled mid-render", logger.FieldJobID, j.ID)
		return
	}
	if errors.Is(cause, context.Canceled) {
		// Shutdown: leave the job processing, the next start recovers it.
		p.logger.Infow("Render interrupted by shutdown", logger.FieldJobID, j.ID)
		return
	}

	settled, err := p.machine.Fail(ctx, j.ID, cause.Error())
	if err != nil {
		if !errors.IsConflict(err) {
			p.logger.Errorw("Failed to settle failed job",
				logger.FieldJobID, j.ID, logger.FieldError, err)
		}
		return
	}
	p.notify(ctx, settled)
	p.logger.Warnw("Job failed",
		logger.FieldJobID, j.ID, logger.FieldError, cause)
}

func (p *Pool) notify(ctx context.Context, j *job.Job) {
	if p.delivery == nil {
		return
	}
	if err := p.delivery.Delivered(ctx, j); err != nil {
		p.logger.Warnw("Delivery notification failed",
			logger.FieldJobID, j.ID, logger.FieldError, err)
	}
}

// reporter adapts the state machine's guarded progress write to the
// renderer-facing interface.
type reporter struct {
	machine *job.Machine
	job     *job.Job
}

func (r *reporter) Report(ctx context.Context, processedItems int) error {
	progress := 0
	if r.job.TotalItems > 0 {
		progress = processedItems * 100 / r.job.TotalItems
	}
	_, err := r.machine.RecordProgress(ctx, r.job.ID, progress, processedItems)
	return err
}
