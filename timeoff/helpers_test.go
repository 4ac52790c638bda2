package timeoff_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/yukyu-ledger/generic"
	"github.com/warp/yukyu-ledger/generic/store"
	"github.com/warp/yukyu-ledger/timeoff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func date(s string) generic.TimePoint { return generic.MustParseDate(s) }

func newTestEngine(t *testing.T, today string) (*timeoff.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := timeoff.NewEngine(mem, nil)
	engine.Clock = timeoff.FixedClock(date(today))
	return engine, mem
}

func seedEmployee(t *testing.T, mem *store.Memory, id, hire string) {
	t.Helper()
	require.NoError(t, mem.SaveEmployee(context.Background(), generic.Employee{
		ID:       generic.EmployeeID(id),
		Name:     id,
		HireDate: date(hire),
	}))
}

func seedGrant(t *testing.T, mem *store.Memory, id, emp, grantDate, expires string, days float64) {
	t.Helper()
	require.NoError(t, mem.CreateGrant(context.Background(), generic.Grant{
		ID:             generic.GrantID(id),
		EmployeeID:     generic.EmployeeID(emp),
		GrantDate:      date(grantDate),
		ExpiresOn:      date(expires),
		DaysGranted:    generic.Days(days),
		HoursGranted:   generic.ZeroHours(),
		RemainingDays:  generic.Days(days),
		RemainingHours: generic.ZeroHours(),
	}))
}

func seedHourGrant(t *testing.T, mem *store.Memory, id, emp, grantDate, expires string, days, hours float64) {
	t.Helper()
	require.NoError(t, mem.CreateGrant(context.Background(), generic.Grant{
		ID:             generic.GrantID(id),
		EmployeeID:     generic.EmployeeID(emp),
		GrantDate:      date(grantDate),
		ExpiresOn:      date(expires),
		DaysGranted:    generic.Days(days),
		HoursGranted:   generic.Hours(hours),
		RemainingDays:  generic.Days(days),
		RemainingHours: generic.Hours(hours),
	}))
}

func seedRequest(t *testing.T, mem *store.Memory, id, emp, start, end string, days float64) {
	t.Helper()
	seedRequestHours(t, mem, id, emp, start, end, days, 0)
}

func seedRequestHours(t *testing.T, mem *store.Memory, id, emp, start, end string, days, hours float64) {
	t.Helper()
	require.NoError(t, mem.CreateRequest(context.Background(), generic.LeaveRequest{
		ID:         generic.RequestID(id),
		EmployeeID: generic.EmployeeID(emp),
		Type:       generic.LeavePaid,
		Period:     generic.Period{Start: date(start), End: date(end)},
		Days:       generic.Days(days),
		Hours:      generic.Hours(hours),
		Status:     generic.RequestPending,
	}))
}

func grantByID(t *testing.T, mem *store.Memory, emp, id string) generic.Grant {
	t.Helper()
	grants, err := mem.AllGrants(context.Background(), generic.EmployeeID(emp))
	require.NoError(t, err)
	for _, g := range grants {
		if g.ID == generic.GrantID(id) {
			return g
		}
	}
	t.Fatalf("grant %s not found", id)
	return generic.Grant{}
}

func requestStatus(t *testing.T, mem *store.Memory, id string) generic.RequestStatus {
	t.Helper()
	req, err := mem.GetRequest(context.Background(), generic.RequestID(id))
	require.NoError(t, err)
	return req.Status
}

func assertAmount(t *testing.T, want float64, got generic.Amount) {
	t.Helper()
	assert.Truef(t, decimal.NewFromFloat(want).Equal(got.Value), "want %v, got %s", want, got.Value.String())
}
