// Package policy maps roles to the capabilities the engine guards on.
//
// The engine never hardcodes role names at call sites; every guard asks
// whether the acting role holds a named capability. Deployments with a
// different role taxonomy swap the table, not the call sites.
package policy

// Capability names an action the engine can guard.
type Capability string

const (
	// CapScheduleCreate allows creating and deactivating schedule
	// definitions for the actor's organization.
	CapScheduleCreate Capability = "schedule.create"

	// CapScheduleView allows listing schedule definitions.
	CapScheduleView Capability = "schedule.view"

	// CapJobCreate allows creating single and bulk export jobs.
	CapJobCreate Capability = "job.create"

	// CapJobView allows reading job records and metrics.
	CapJobView Capability = "job.view"

	// CapJobManageOwn allows cancel/retry/priority/archive on the
	// actor's own jobs.
	CapJobManageOwn Capability = "job.manage_own"

	// CapJobManageAny extends job management to any job in the
	// actor's organization.
	CapJobManageAny Capability = "job.manage_any"
)

// Actor is a resolved caller: identity plus organization and role.
// Resolution itself (token → actor) is the identity provider's job.
type Actor struct {
	UserID string
	OrgID  string
	Role   string
}

// Identity resolves an opaque principal to an Actor. Implemented by the
// surrounding application's auth layer; the engine only consumes it.
type Identity interface {
	Resolve(principal string) (Actor, error)
}

// Policy answers capability questions for roles.
type Policy interface {
	Allows(role string, cap Capability) bool
}

// capabilityTable is the default role → capability mapping.
type capabilityTable map[string]map[Capability]bool

// Default returns the standard policy: owner/admin manage everything,
// managers manage their org's jobs and their own schedules, members
// export, viewers only read.
func Default() Policy {
	return capabilityTable{
		"owner": {
			CapScheduleCreate: true,
			CapScheduleView:   true,
			CapJobCreate:      true,
			CapJobView:        true,
			CapJobManageOwn:   true,
			CapJobManageAny:   true,
		},
		"admin": {
			CapScheduleCreate: true,
			CapScheduleView:   true,
			CapJobCreate:      true,
			CapJobView:        true,
			CapJobManageOwn:   true,
			CapJobManageAny:   true,
		},
		"manager": {
			CapScheduleCreate: true,
			CapScheduleView:   true,
			CapJobCreate:      true,
			CapJobView:        true,
			CapJobManageOwn:   true,
			CapJobManageAny:   true,
		},
		"member": {
			CapScheduleCreate: true,
			CapScheduleView:   true,
			CapJobCreate:      true,
			CapJobView:        true,
			CapJobManageOwn:   true,
		},
		"viewer": {
			CapScheduleView: true,
			CapJobView:      true,
		},
	}
}

func (t capabilityTable) Allows(role string, cap Capability) bool {
	return t[role][cap]
}

// CanManageJob reports whether the actor may run a managing transition
// (cancel, retry, priority, archive) on a job owned by ownerID.
func CanManageJob(p Policy, actor Actor, ownerID string) bool {
	if actor.UserID == ownerID {
		return p.Allows(actor.Role, CapJobManageOwn)
	}
	return p.Allows(actor.Role, CapJobManageAny)
}
