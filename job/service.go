package job

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/draywest/exportd/audit"
	"github.com/draywest/exportd/errors"
	"github.com/draywest/exportd/logger"
	"github.com/draywest/exportd/policy"
	"github.com/draywest/exportd/selection"
)

// Service is the actor-facing surface for export jobs. It owns
// capability checks and org scoping; once a request passes those, the
// machine and store enforce lifecycle legality.
type Service struct {
	store          *Store
	machine        *Machine
	logs           *LogStore
	resolver       *selection.Resolver
	policy         policy.Policy
	stuckThreshold time.Duration
	logger         *zap.SugaredLogger
}

// ServiceConfig wires a job service.
type ServiceConfig struct {
	DB             *sql.DB
	Audit          audit.Sink
	Policy         policy.Policy
	MaxItems       int
	StuckThreshold time.Duration
	Logger         *zap.SugaredLogger
}

// NewService creates a job service over the given database.
func NewService(cfg ServiceConfig) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.Logger
	}
	pol := cfg.Policy
	if pol == nil {
		pol = policy.Default()
	}

	store := NewStore(cfg.DB)
	logs := NewLogStore(cfg.DB)
	return &Service{
		store:          store,
		machine:        NewMachine(store, logs, cfg.Audit, log),
		logs:           logs,
		resolver:       selection.NewResolver(cfg.DB, cfg.MaxItems, log),
		policy:         pol,
		stuckThreshold: cfg.StuckThreshold,
		logger:         log,
	}
}

// Store exposes the underlying job store for the dispatcher.
func (s *Service) Store() *Store { return s.store }

// Machine exposes the state machine for the dispatcher.
func (s *Service) Machine() *Machine { return s.machine }

// CreateBulkJob resolves the selection and enqueues an export job for
// the actor. A single explicit document produces a single-origin job,
// anything larger a bulk one.
func (s *Service) CreateBulkJob(ctx context.Context, actor policy.Actor, sel selection.Request, opts Options, priority Priority) (*Job, error) {
	if !s.policy.Allows(actor.Role, policy.CapJobCreate) {
		return nil, errors.NewPermissionError("role %q cannot create export jobs", actor.Role)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	itemIDs, err := s.resolver.Resolve(ctx, actor.OrgID, sel)
	if err != nil {
		return nil, err
	}

	origin := OriginBulk
	if len(sel.DocumentIDs) == 1 {
		origin = OriginSingle
	}

	j, err := New(actor.OrgID, actor.UserID, origin, "", itemIDs, opts, priority)
	if err != nil {
		return nil, err
	}
	if err := s.machine.Create(ctx, j); err != nil {
		return nil, err
	}

	s.logger.Infow("Export job created",
		logger.FieldJobID, j.ID,
		logger.FieldOrgID, j.OrgID,
		logger.FieldCount, j.TotalItems,
		logger.FieldPriority, string(j.Priority))
	return j, nil
}

// ScheduledRequest creates a job on behalf of a schedule firing. The
// firing loop authenticated nothing; authority comes from the schedule
// definition itself, so no capability check runs here.
type ScheduledRequest struct {
	OrgID      string
	UserID     string // the definition's creator
	ScheduleID string
	Selection  selection.Request
	Options    Options
	Priority   Priority
}

// CreateScheduled resolves and enqueues a scheduled job.
func (s *Service) CreateScheduled(ctx context.Context, req ScheduledRequest) (*Job, error) {
	itemIDs, err := s.resolver.Resolve(ctx, req.OrgID, req.Selection)
	if err != nil {
		return nil, err
	}

	j, err := New(req.OrgID, req.UserID, OriginScheduled, req.ScheduleID, itemIDs, req.Options, req.Priority)
	if err != nil {
		return nil, err
	}
	if err := s.machine.Create(ctx, j); err != nil {
		return nil, err
	}

	s.logger.Infow("Scheduled export job created",
		logger.FieldJobID, j.ID,
		logger.FieldScheduleID, req.ScheduleID,
		logger.FieldCount, j.TotalItems)
	return j, nil
}

// GetJobStatus returns the job record with derived progress metrics.
func (s *Service) GetJobStatus(ctx context.Context, actor policy.Actor, id string) (*Job, Metrics, error) {
	if !s.policy.Allows(actor.Role, policy.CapJobView) {
		return nil, Metrics{}, errors.NewPermissionError("role %q cannot view export jobs", actor.Role)
	}
	j, err := s.store.GetInOrg(ctx, actor.OrgID, id)
	if err != nil {
		return nil, Metrics{}, err
	}
	return j, ComputeMetrics(j, time.Now(), s.stuckThreshold), nil
}

// GetJobLogs returns a job's execution log, oldest first.
func (s *Service) GetJobLogs(ctx context.Context, actor policy.Actor, id string) ([]LogEntry, error) {
	if !s.policy.Allows(actor.Role, policy.CapJobView) {
		return nil, errors.NewPermissionError("role %q cannot view export jobs", actor.Role)
	}
	if _, err := s.store.GetInOrg(ctx, actor.OrgID, id); err != nil {
		return nil, err
	}
	return s.logs.List(ctx, id)
}

// ListJobs returns the actor's organization's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, actor policy.Actor, f ListFilter) ([]*Job, error) {
	if !s.policy.Allows(actor.Role, policy.CapJobView) {
		return nil, errors.NewPermissionError("role %q cannot view export jobs", actor.Role)
	}
	return s.store.ListInOrg(ctx, actor.OrgID, f)
}

// CancelJob cancels an active job on the actor's behalf.
func (s *Service) CancelJob(ctx context.Context, actor policy.Actor, id string) (*Job, error) {
	if err := s.authorizeManage(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.machine.Cancel(ctx, id, actor.UserID)
}

// RetryJob re-enqueues a failed job.
func (s *Service) RetryJob(ctx context.Context, actor policy.Actor, id string) (*Job, error) {
	if err := s.authorizeManage(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.machine.Retry(ctx, id, actor.UserID)
}

// SetPriority changes an active job's queue priority.
func (s *Service) SetPriority(ctx context.Context, actor policy.Actor, id string, p Priority) (*Job, error) {
	if err := s.authorizeManage(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.machine.SetPriority(ctx, id, p, actor.UserID)
}

// ArchiveJob hides a settled job from default listings.
func (s *Service) ArchiveJob(ctx context.Context, actor policy.Actor, id string) (*Job, error) {
	if err := s.authorizeManage(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.machine.Archive(ctx, id, actor.UserID)
}

// authorizeManage checks that the actor may run a managing transition
// on the job: the job must live in the actor's organization and the
// actor's role must cover the owner.
func (s *Service) authorizeManage(ctx context.Context, actor policy.Actor, id string) error {
	j, err := s.store.GetInOrg(ctx, actor.OrgID, id)
	if err != nil {
		return err
	}
	if !policy.CanManageJob(s.policy, actor, j.UserID) {
		return errors.NewPermissionError("role %q cannot manage jobs owned by another user", actor.Role)
	}
	return nil
}
