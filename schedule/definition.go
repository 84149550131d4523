// Package schedule provides recurring export scheduling: definitions,
// next-execution computation, the due-schedule firing loop, and firing
// history.
package schedule

import (
	"time"

	"github.com/draywest/exportd/errors"
	"github.com/draywest/exportd/job"
	"github.com/draywest/exportd/selection"
)

// Type is the recurrence type of a schedule definition.
type Type string

const (
	TypeDaily     Type = "daily"
	TypeWeekly    Type = "weekly"
	TypeMonthly   Type = "monthly"
	TypeQuarterly Type = "quarterly"
)

// ValidType returns true if t is a known recurrence type.
func ValidType(t Type) bool {
	switch t {
	case TypeDaily, TypeWeekly, TypeMonthly, TypeQuarterly:
		return true
	default:
		return false
	}
}

// Config describes when a definition fires, in its own timezone.
type Config struct {
	Type       Type   `json:"type"`
	DayOfWeek  *int   `json:"day_of_week,omitempty"`  // 0 (Sunday) - 6, weekly only
	DayOfMonth *int   `json:"day_of_month,omitempty"` // 1-31, monthly only
	Hour       int    `json:"hour"`                   // 0-23
	Timezone   string `json:"timezone,omitempty"`     // IANA name; empty means UTC
}

// Validate checks config ranges. Unknown types are rejected here, so
// persisted definitions always carry a known recurrence type.
func (c Config) Validate() error {
	if !ValidType(c.Type) {
		return errors.NewValidationError("unknown schedule type %q", c.Type)
	}
	if c.Hour < 0 || c.Hour > 23 {
		return errors.NewValidationError("hour out of range: %d (want 0-23)", c.Hour)
	}
	if c.DayOfWeek != nil && (*c.DayOfWeek < 0 || *c.DayOfWeek > 6) {
		return errors.NewValidationError("day_of_week out of range: %d (want 0-6)", *c.DayOfWeek)
	}
	if c.DayOfMonth != nil && (*c.DayOfMonth < 1 || *c.DayOfMonth > 31) {
		return errors.NewValidationError("day_of_month out of range: %d (want 1-31)", *c.DayOfMonth)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return errors.NewValidationError("unknown timezone %q", c.Timezone)
		}
	}
	return nil
}

// Delivery describes what happens with the artifact once a scheduled
// export completes. Actual delivery is the notification channel's job.
type Delivery struct {
	Method             string   `json:"method"` // download | email | storage
	Recipients         []string `json:"recipients,omitempty"`
	NotifyOnCompletion bool     `json:"notify_on_completion"`
	NotifyOnFailure    bool     `json:"notify_on_failure"`
}

// ValidDeliveryMethod returns true for a known delivery method.
func ValidDeliveryMethod(m string) bool {
	switch m {
	case "download", "email", "storage":
		return true
	default:
		return false
	}
}

// Definition is a persisted recurring-export configuration with a
// computed next-firing instant.
type Definition struct {
	ID        string
	OrgID     string
	CreatedBy string

	Schedule Config
	Filter   selection.Filter
	Export   job.Options
	Delivery Delivery

	IsActive  bool
	NextRunAt time.Time
	LastRunAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the full definition: recurrence config plus the
// export and delivery enums.
func (d *Definition) Validate() error {
	if d.OrgID == "" {
		return errors.NewValidationError("definition missing org_id")
	}
	if d.CreatedBy == "" {
		return errors.NewValidationError("definition missing created_by")
	}
	if err := d.Schedule.Validate(); err != nil {
		return err
	}
	if err := d.Export.Validate(); err != nil {
		return err
	}
	if d.Delivery.Method != "" && !ValidDeliveryMethod(d.Delivery.Method) {
		return errors.NewValidationError("unknown delivery method %q", d.Delivery.Method)
	}
	return nil
}
