package job

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/draywest/exportd/audit"
	"github.com/draywest/exportd/errors"
	"github.com/draywest/exportd/logger"
)

// Machine runs job lifecycle transitions. Legality lives in the store's
// guarded UPDATE clauses; the machine's job is classifying refusals
// into the error taxonomy and emitting the log and audit side effects
// that belong to each transition.
//
// A refused guarded update means the row either does not exist
// (not found) or sits in a state the transition does not accept
// (conflict, reported with both states named). Transitions asked for
// a state the job is already in succeed idempotently.
type Machine struct {
	store  *Store
	logs   *LogStore
	audit  audit.Sink
	logger *zap.SugaredLogger
}

// NewMachine creates a job state machine.
func NewMachine(store *Store, logs *LogStore, sink audit.Sink, log *zap.SugaredLogger) *Machine {
	if sink == nil {
		sink = audit.Nop()
	}
	if log == nil {
		log = logger.Logger
	}
	return &Machine{store: store, logs: logs, audit: sink, logger: log}
}

// Create validates and persists a new pending job.
func (m *Machine) Create(ctx context.Context, j *Job) error {
	if err := m.store.Create(ctx, j); err != nil {
		return err
	}
	m.appendLog(ctx, j.ID, "info", fmt.Sprintf("job created with %d items", j.TotalItems), nil)
	m.record(ctx, j, "", "job.create", map[string]any{"origin": string(j.Origin), "total_items": j.TotalItems})
	return nil
}

// Cancel moves an active job to cancelled, freezing its progress. A job
// already cancelled succeeds without a second transition.
func (m *Machine) Cancel(ctx context.Context, id, actorID string) (*Job, error) {
	applied, err := m.store.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		if j.Status == StatusCancelled {
			return j, nil
		}
		return nil, m.conflict(j, StatusCancelled)
	}

	m.appendLog(ctx, id, "info", "job cancelled", nil)
	m.record(ctx, j, actorID, "job.cancel", nil)
	m.logger.Infow("Job cancelled", logger.FieldJobID, id, logger.FieldActorID, actorID)
	return j, nil
}

// RecordProgress writes a monotonic progress update. A refused write on
// a settled job surfaces as a conflict so the worker discovers
// cancellation at its next checkpoint.
func (m *Machine) RecordProgress(ctx context.Context, id string, progress, processedItems int) (*Job, error) {
	if progress < 0 || progress > 100 {
		return nil, errors.NewValidationError("progress out of range: %d (want 0-100)", progress)
	}

	applied, err := m.store.UpdateProgress(ctx, id, progress, processedItems)
	if err != nil {
		return nil, err
	}
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Same value twice is fine; a regression or a settled job is not.
		if j.Status == StatusProcessing && j.Progress == progress {
			return j, nil
		}
		return nil, errors.NewConflictError(
			"cannot record progress on job %s in state %s", id, j.Status)
	}
	return j, nil
}

// Complete settles a processing job with its artifact location.
func (m *Machine) Complete(ctx context.Context, id, downloadURL string) (*Job, error) {
	applied, err := m.store.Complete(ctx, id, downloadURL)
	if err != nil {
		return nil, err
	}
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		if j.Status == StatusCompleted {
			return j, nil
		}
		return nil, m.conflict(j, StatusCompleted)
	}

	m.appendLog(ctx, id, "info", "job completed", map[string]any{"download_url": downloadURL})
	m.record(ctx, j, "", "job.complete", nil)
	return j, nil
}

// Fail settles a processing job with an operator-readable message.
func (m *Machine) Fail(ctx context.Context, id, message string) (*Job, error) {
	applied, err := m.store.Fail(ctx, id, message)
	if err != nil {
		return nil, err
	}
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		if j.Status == StatusFailed {
			return j, nil
		}
		return nil, m.conflict(j, StatusFailed)
	}

	m.appendLog(ctx, id, "error", "job failed: "+message, nil)
	m.record(ctx, j, "", "job.fail", map[string]any{"error": message})
	m.logger.Warnw("Job failed", logger.FieldJobID, id, logger.FieldError, message)
	return j, nil
}

// Retry resets a failed job to pending so the dispatcher picks it up
// again. Retrying a job that is already pending again succeeds without
// a second reset.
func (m *Machine) Retry(ctx context.Context, id, actorID string) (*Job, error) {
	applied, err := m.store.Retry(ctx, id)
	if err != nil {
		return nil, err
	}
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		if j.Status == StatusPending {
			return j, nil
		}
		return nil, m.conflict(j, StatusPending)
	}

	m.appendLog(ctx, id, "info", "job queued for retry", nil)
	m.record(ctx, j, actorID, "job.retry", nil)
	return j, nil
}

// SetPriority reorders an active job in the dispatch queue.
func (m *Machine) SetPriority(ctx context.Context, id string, p Priority, actorID string) (*Job, error) {
	if !ValidPriority(p) {
		return nil, errors.NewValidationError("unknown priority %q", p)
	}

	applied, err := m.store.SetPriority(ctx, id, p)
	if err != nil {
		return nil, err
	}
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, errors.NewConflictError(
			"cannot change priority of job %s in state %s", id, j.Status)
	}

	m.record(ctx, j, actorID, "job.priority", map[string]any{"priority": string(p)})
	return j, nil
}

// Archive hides a settled job from default listings. Archiving an
// already archived job succeeds.
func (m *Machine) Archive(ctx context.Context, id, actorID string) (*Job, error) {
	applied, err := m.store.Archive(ctx, id)
	if err != nil {
		return nil, err
	}
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		if j.Archived {
			return j, nil
		}
		return nil, errors.NewConflictError(
			"cannot archive job %s in state %s", id, j.Status)
	}

	m.record(ctx, j, actorID, "job.archive", nil)
	return j, nil
}

func (m *Machine) conflict(j *Job, target Status) error {
	return errors.NewConflictError(
		"job %s cannot move from %s to %s", j.ID, j.Status, target)
}

func (m *Machine) appendLog(ctx context.Context, jobID, level, message string, details map[string]any) {
	if m.logs == nil {
		return
	}
	if err := m.logs.Append(ctx, jobID, level, message, details); err != nil {
		m.logger.Warnw("Failed to append job log", logger.FieldJobID, jobID, logger.FieldError, err)
	}
}

func (m *Machine) record(ctx context.Context, j *Job, actorID, action string, details map[string]any) {
	err := m.audit.Record(ctx, audit.Entry{
		OrgID:       j.OrgID,
		ActorID:     actorID,
		Action:      action,
		SubjectType: "job",
		SubjectID:   j.ID,
		Details:     details,
	})
	if err != nil {
		m.logger.Warnw("Failed to record audit entry", logger.FieldJobID, j.ID, logger.FieldError, err)
	}
}
