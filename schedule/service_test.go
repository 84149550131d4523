package schedule

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draywest/exportd/audit"
	"github.com/draywest/exportd/config"
	"github.com/draywest/exportd/errors"
	qt "github.com/draywest/exportd/internal/testing"
	"github.com/draywest/exportd/internal/util"
	"github.com/draywest/exportd/job"
	"github.com/draywest/exportd/logger"
	"github.com/draywest/exportd/policy"
	"github.com/draywest/exportd/selection"
)

func newTestScheduleService(t *testing.T, db *sql.DB) *Service {
	t.Helper()
	return NewService(ServiceConfig{
		DB:     db,
		Quota:  config.QuotaConfig{ActiveSchedulesByRole: map[string]int{"admin": 50, "member": 2}},
		Audit:  audit.NewSQLiteSink(db),
		Logger: logger.NewTestLogger(),
	})
}

func validCreateRequest() CreateRequest {
	return CreateRequest{
		Schedule: Config{Type: TypeDaily, Hour: 9, Timezone: "Europe/Berlin"},
		Filter:   selection.Filter{Category: "contract"},
		Export:   job.Options{Format: job.FormatPDF},
		Delivery: Delivery{Method: "download", NotifyOnFailure: true},
	}
}

func TestCreateSchedule(t *testing.T) {
	db := qt.CreateTestDB(t)
	svc := newTestScheduleService(t, db)
	admin := policy.Actor{UserID: "u1", OrgID: "org1", Role: "admin"}

	before := time.Now()
	d, err := svc.CreateSchedule(context.Background(), admin, validCreateRequest())
	require.NoError(t, err)

	assert.True(t, d.IsActive)
	assert.Equal(t, "org1", d.OrgID)
	assert.Equal(t, "u1", d.CreatedBy)
	// The first firing instant is computed at creation and lies ahead.
	assert.True(t, d.NextRunAt.After(before))

	entries, err := audit.NewSQLiteSink(db).ListForSubject(context.Background(), "schedule", d.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "schedule.create", entries[0].Action)
}

func TestCreateScheduleValidation(t *testing.T) {
	db := qt.CreateTestDB(t)
	svc := newTestScheduleService(t, db)
	admin := policy.Actor{UserID: "u1", OrgID: "org1", Role: "admin"}
	ctx := context.Background()

	req := validCreateRequest()
	req.Schedule.Type = "hourly"
	_, err := svc.CreateSchedule(ctx, admin, req)
	assert.True(t, errors.IsValidation(err))

	req = validCreateRequest()
	req.Schedule.Hour = 25
	_, err = svc.CreateSchedule(ctx, admin, req)
	assert.True(t, errors.IsValidation(err))

	req = validCreateRequest()
	req.Export.Format = "xlsx"
	_, err = svc.CreateSchedule(ctx, admin, req)
	assert.True(t, errors.IsValidation(err))

	req = validCreateRequest()
	req.Delivery.Method = "carrier-pigeon"
	_, err = svc.CreateSchedule(ctx, admin, req)
	assert.True(t, errors.IsValidation(err))
}

func TestCreateSchedulePermission(t *testing.T) {
	db := qt.CreateTestDB(t)
	svc := newTestScheduleService(t, db)

	viewer := policy.Actor{UserID: "u1", OrgID: "org1", Role: "viewer"}
	_, err := svc.CreateSchedule(context.Background(), viewer, validCreateRequest())
	require.Error(t, err)
	assert.True(t, errors.IsPermission(err))
}

func TestCreateScheduleQuota(t *testing.T) {
	db := qt.CreateTestDB(t)
	svc := newTestScheduleService(t, db)
	member := policy.Actor{UserID: "u1", OrgID: "org1", Role: "member"}
	ctx := context.Background()

	_, err := svc.CreateSchedule(ctx, member, validCreateRequest())
	require.NoError(t, err)
	_, err = svc.CreateSchedule(ctx, member, validCreateRequest())
	require.NoError(t, err)

	// Third active schedule exceeds the member quota of 2.
	_, err = svc.CreateSchedule(ctx, member, validCreateRequest())
	require.Error(t, err)
	assert.True(t, errors.IsLimitExceeded(err))

	// Another org is unaffected.
	other := policy.Actor{UserID: "u9", OrgID: "org2", Role: "member"}
	_, err = svc.CreateSchedule(ctx, other, validCreateRequest())
	assert.NoError(t, err)
}

func TestSetScheduleActive(t *testing.T) {
	db := qt.CreateTestDB(t)
	svc := newTestScheduleService(t, db)
	admin := policy.Actor{UserID: "u1", OrgID: "org1", Role: "admin"}
	ctx := context.Background()

	d, err := svc.CreateSchedule(ctx, admin, validCreateRequest())
	require.NoError(t, err)

	paused, err := svc.SetScheduleActive(ctx, admin, d.ID, false)
	require.NoError(t, err)
	assert.False(t, paused.IsActive)

	// Backdate the stale instant, then resume: the missed window must
	// not fire, so next_run_at is recomputed ahead of now.
	_, err = db.Exec("UPDATE schedule_definitions SET next_run_at = ? WHERE id = ?",
		time.Now().UTC().Add(-72*time.Hour).Format(time.RFC3339), d.ID)
	require.NoError(t, err)

	resumed, err := svc.SetScheduleActive(ctx, admin, d.ID, true)
	require.NoError(t, err)
	assert.True(t, resumed.IsActive)
	assert.True(t, resumed.NextRunAt.After(time.Now()))

	// Cross-org toggles report not found.
	outsider := policy.Actor{UserID: "u2", OrgID: "org2", Role: "admin"}
	_, err = svc.SetScheduleActive(ctx, outsider, d.ID, false)
	assert.True(t, errors.IsNotFound(err))
}

func TestListSchedules(t *testing.T) {
	db := qt.CreateTestDB(t)
	svc := newTestScheduleService(t, db)
	admin := policy.Actor{UserID: "u1", OrgID: "org1", Role: "admin"}
	ctx := context.Background()

	_, err := svc.CreateSchedule(ctx, admin, validCreateRequest())
	require.NoError(t, err)
	req := validCreateRequest()
	req.Schedule = Config{Type: TypeMonthly, DayOfMonth: util.Ptr(31), Hour: 2}
	_, err = svc.CreateSchedule(ctx, admin, req)
	require.NoError(t, err)

	defs, err := svc.ListSchedules(ctx, admin, false)
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	// Paused definitions drop out of the active-only view.
	_, err = svc.SetScheduleActive(ctx, admin, defs[0].ID, false)
	require.NoError(t, err)
	active, err := svc.ListSchedules(ctx, admin, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	// Org scoping.
	other := policy.Actor{UserID: "u2", OrgID: "org2", Role: "admin"}
	defs, err = svc.ListSchedules(ctx, other, false)
	require.NoError(t, err)
	assert.Empty(t, defs)
}
