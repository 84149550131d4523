package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draywest/exportd/audit"
	"github.com/draywest/exportd/config"
	"github.com/draywest/exportd/errors"
	"github.com/draywest/exportd/job"
	"github.com/draywest/exportd/logger"
	"github.com/draywest/exportd/policy"
	"github.com/draywest/exportd/selection"
)

// Service is the actor-facing surface for schedule definitions.
type Service struct {
	store   *Store
	firings *FiringStore
	policy  policy.Policy
	quota   config.QuotaConfig
	audit   audit.Sink
	logger  *zap.SugaredLogger
}

// ServiceConfig wires a schedule service.
type ServiceConfig struct {
	DB     *sql.DB
	Policy policy.Policy
	Quota  config.QuotaConfig
	Audit  audit.Sink
	Logger *zap.SugaredLogger
}

// NewService creates a schedule service.
func NewService(cfg ServiceConfig) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.Logger
	}
	pol := cfg.Policy
	if pol == nil {
		pol = policy.Default()
	}
	sink := cfg.Audit
	if sink == nil {
		sink = audit.Nop()
	}
	return &Service{
		store:   NewStore(cfg.DB),
		firings: NewFiringStore(cfg.DB),
		policy:  pol,
		quota:   cfg.Quota,
		audit:   sink,
		logger:  log,
	}
}

// Store exposes the definition store for the firing loop.
func (s *Service) Store() *Store { return s.store }

// Firings exposes the firing history store.
func (s *Service) Firings() *FiringStore { return s.firings }

// CreateRequest carries the caller-supplied parts of a new definition.
type CreateRequest struct {
	Schedule Config
	Filter   selection.Filter
	Export   job.Options
	Delivery Delivery
}

// CreateSchedule validates, quota-checks, and persists a new active
// definition with its first firing instant computed.
func (s *Service) CreateSchedule(ctx context.Context, actor policy.Actor, req CreateRequest) (*Definition, error) {
	if !s.policy.Allows(actor.Role, policy.CapScheduleCreate) {
		return nil, errors.NewPermissionError("role %q cannot create schedules", actor.Role)
	}

	now := time.Now().UTC()
	d := &Definition{
		ID:        "SD_" + uuid.New().String(),
		OrgID:     actor.OrgID,
		CreatedBy: actor.UserID,
		Schedule:  req.Schedule,
		Filter:    req.Filter,
		Export:    req.Export,
		Delivery:  req.Delivery,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	// Quota is per organization, sized by the creating role.
	limit := s.quota.MaxActiveSchedules(actor.Role)
	active, err := s.store.CountActiveInOrg(ctx, actor.OrgID)
	if err != nil {
		return nil, err
	}
	if active >= limit {
		return nil, errors.NewLimitExceededError(
			"organization already has %d active schedules (limit %d for role %q)",
			active, limit, actor.Role)
	}

	d.NextRunAt = NextRun(d.Schedule, now)
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, d, actor.UserID, "schedule.create", map[string]any{
		"schedule_type": string(d.Schedule.Type),
		"next_run_at":   d.NextRunAt.Format(time.RFC3339),
	})
	s.logger.Infow("Schedule created",
		logger.FieldScheduleID, d.ID,
		logger.FieldOrgID, d.OrgID,
		logger.FieldNextRunAt, d.NextRunAt.Format(time.RFC3339))
	return d, nil
}

// GetSchedule returns one definition in the actor's organization.
func (s *Service) GetSchedule(ctx context.Context, actor policy.Actor, id string) (*Definition, error) {
	if !s.policy.Allows(actor.Role, policy.CapScheduleView) {
		return nil, errors.NewPermissionError("role %q cannot view schedules", actor.Role)
	}
	return s.store.GetInOrg(ctx, actor.OrgID, id)
}

// ListSchedules returns the actor's organization's definitions,
// optionally only the active ones.
func (s *Service) ListSchedules(ctx context.Context, actor policy.Actor, activeOnly bool) ([]*Definition, error) {
	if !s.policy.Allows(actor.Role, policy.CapScheduleView) {
		return nil, errors.NewPermissionError("role %q cannot view schedules", actor.Role)
	}
	return s.store.ListInOrg(ctx, actor.OrgID, activeOnly)
}

// SetScheduleActive pauses or resumes a definition. Resuming recomputes
// the next firing instant from now, so missed windows never fire.
func (s *Service) SetScheduleActive(ctx context.Context, actor policy.Actor, id string, active bool) (*Definition, error) {
	if !s.policy.Allows(actor.Role, policy.CapScheduleCreate) {
		return nil, errors.NewPermissionError("role %q cannot manage schedules", actor.Role)
	}

	d, err := s.store.GetInOrg(ctx, actor.OrgID, id)
	if err != nil {
		return nil, err
	}
	if active {
		// Re-check quota so pause/resume cannot smuggle past it.
		if !d.IsActive {
			limit := s.quota.MaxActiveSchedules(actor.Role)
			count, err := s.store.CountActiveInOrg(ctx, actor.OrgID)
			if err != nil {
				return nil, err
			}
			if count >= limit {
				return nil, errors.NewLimitExceededError(
					"organization already has %d active schedules (limit %d for role %q)",
					count, limit, actor.Role)
			}
		}
	}

	updated, err := s.store.SetActive(ctx, actor.OrgID, id, active, NextRun(d.Schedule, time.Now().UTC()))
	if err != nil {
		return nil, err
	}

	action := "schedule.pause"
	if active {
		action = "schedule.resume"
	}
	s.recordAudit(ctx, updated, actor.UserID, action, nil)
	return updated, nil
}

// ListFirings returns a definition's firing history.
func (s *Service) ListFirings(ctx context.Context, actor policy.Actor, id string, limit int) ([]*Firing, error) {
	if !s.policy.Allows(actor.Role, policy.CapScheduleView) {
		return nil, errors.NewPermissionError("role %q cannot view schedules", actor.Role)
	}
	if _, err := s.store.GetInOrg(ctx, actor.OrgID, id); err != nil {
		return nil, err
	}
	return s.firings.ListForSchedule(ctx, id, limit)
}

func (s *Service) recordAudit(ctx context.Context, d *Definition, actorID, action string, details map[string]any) {
	err := s.audit.Record(ctx, audit.Entry{
		OrgID:       d.OrgID,
		ActorID:     actorID,
		Action:      action,
		SubjectType: "schedule",
		SubjectID:   d.ID,
		Details:     details,
	})
	if err != nil {
		s.logger.Warnw("Failed to record audit entry",
			logger.FieldScheduleID, d.ID, logger.FieldError, err)
	}
}
