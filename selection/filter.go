// Package selection resolves an export request (explicit document ids
// or a declarative filter) into the concrete, org-scoped set of
// document ids a job will process.
package selection

import (
	"time"

	"github.com/draywest/exportd/errors"
)

// DateRange names a relative creation-date window.
type DateRange string

const (
	RangeAll        DateRange = ""
	RangeLast7Days  DateRange = "last_7_days"
	RangeLast30Days DateRange = "last_30_days"
	RangeLast90Days DateRange = "last_90_days"
	RangeCustom     DateRange = "custom"
)

// Filter describes a declarative document selection. All fields are
// conjunctive; zero values mean "no constraint".
type Filter struct {
	Range              DateRange  `json:"range,omitempty"`
	From               *time.Time `json:"from,omitempty"` // custom range only
	To                 *time.Time `json:"to,omitempty"`   // custom range only
	Category           string     `json:"category,omitempty"`
	OwnerID            string     `json:"owner_id,omitempty"`
	MinComplianceScore *float64   `json:"min_compliance_score,omitempty"`
}

// Window resolves the filter's date range into concrete bounds relative
// to now. Zero bounds mean unconstrained on that side.
func (f Filter) Window(now time.Time) (from, to time.Time, err error) {
	switch f.Range {
	case RangeAll:
		return time.Time{}, time.Time{}, nil
	case RangeLast7Days:
		return now.AddDate(0, 0, -7), now, nil
	case RangeLast30Days:
		return now.AddDate(0, 0, -30), now, nil
	case RangeLast90Days:
		return now.AddDate(0, 0, -90), now, nil
	case RangeCustom:
		if f.From == nil && f.To == nil {
			return time.Time{}, time.Time{}, errors.NewValidationError("custom date range needs from or to")
		}
		if f.From != nil {
			from = *f.From
		}
		if f.To != nil {
			to = *f.To
		}
		if !from.IsZero() && !to.IsZero() && to.Before(from) {
			return time.Time{}, time.Time{}, errors.NewValidationError("custom date range ends before it starts")
		}
		return from, to, nil
	default:
		return time.Time{}, time.Time{}, errors.NewValidationError("unknown date range %q", f.Range)
	}
}

// Request is the selection half of a job-creation request: explicit ids
// take precedence over the filter when both are present.
type Request struct {
	DocumentIDs []string `json:"document_ids,omitempty"`
	Filter      *Filter  `json:"filter,omitempty"`
	MaxItems    int      `json:"max_items,omitempty"` // 0 means server default
}
