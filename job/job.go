// Package job implements the export job lifecycle: records, the guarded
// state machine, progress metrics, execution logs, and the job service.
package job

import (
	"time"

	"github.com/google/uuid"

	"github.com/draywest/exportd/errors"
)

// Status is the lifecycle state of an export job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal returns true for states with no outgoing transitions except
// retry (failed) and archive.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority orders jobs in the dispatch queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ValidPriority returns true for a known priority level.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Weight returns the numeric dispatch rank; higher dequeues first.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Origin records how a job entered the system.
type Origin string

const (
	OriginSingle    Origin = "single"
	OriginBulk      Origin = "bulk"
	OriginScheduled Origin = "scheduled"
)

// Export output formats.
const (
	FormatPDF  = "pdf"
	FormatDOCX = "docx"
	FormatCSV  = "csv"
)

// ValidFormat returns true for a supported output format.
func ValidFormat(f string) bool {
	switch f {
	case FormatPDF, FormatDOCX, FormatCSV:
		return true
	default:
		return false
	}
}

// Options is the export configuration snapshot a job carries. It is
// copied at creation time so later edits to a schedule definition never
// change an in-flight job.
type Options struct {
	Format          string `json:"format"`
	Template        string `json:"template,omitempty"`
	Language        string `json:"language,omitempty"`
	IncludeMetadata bool   `json:"include_metadata,omitempty"`
	IncludeHistory  bool   `json:"include_history,omitempty"`
}

// Validate checks the options enums.
func (o Options) Validate() error {
	if !ValidFormat(o.Format) {
		return errors.NewValidationError("unknown export format %q", o.Format)
	}
	return nil
}

// Job is a persisted export job record.
type Job struct {
	ID         string
	OrgID      string
	UserID     string
	Origin     Origin
	ScheduleID string // set only for scheduled jobs

	Status   Status
	Archived bool

	Format   string
	Priority Priority

	Progress       int // 0-100
	TotalItems     int
	ProcessedItems int
	ItemIDs        []string
	Options        Options

	ErrorMessage string
	DownloadURL  string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// New builds a pending job over the given resolved item set.
func New(orgID, userID string, origin Origin, scheduleID string, itemIDs []string, opts Options, priority Priority) (*Job, error) {
	if orgID == "" {
		return nil, errors.NewValidationError("job missing org_id")
	}
	if userID == "" {
		return nil, errors.NewValidationError("job missing user_id")
	}
	if len(itemIDs) == 0 {
		return nil, errors.NewValidationError("job has no items to export")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if priority == "" {
		priority = PriorityNormal
	}
	if !ValidPriority(priority) {
		return nil, errors.NewValidationError("unknown priority %q", priority)
	}

	now := time.Now().UTC()
	return &Job{
		ID:         "EJ_" + uuid.New().String(),
		OrgID:      orgID,
		UserID:     userID,
		Origin:     origin,
		ScheduleID: scheduleID,
		Status:     StatusPending,
		Format:     opts.Format,
		Priority:   priority,
		TotalItems: len(itemIDs),
		ItemIDs:    itemIDs,
		Options:    opts,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
