package timeoff_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/yukyu-ledger/generic"
	"github.com/warp/yukyu-ledger/generic/store"
	"github.com/warp/yukyu-ledger/timeoff"
)

// movableClock lets a test walk through time.
type movableClock struct{ today generic.TimePoint }

func (c *movableClock) now() generic.TimePoint { return c.today }

func newTestService(t *testing.T, today string) (*timeoff.Service, *store.Memory, *movableClock) {
	t.Helper()
	mem := store.NewMemory()
	clock := &movableClock{today: date(today)}
	svc := timeoff.NewService(mem, timeoff.ServiceConfig{Clock: clock.now}, nil)
	return svc, mem, clock
}

func submit(t *testing.T, svc *timeoff.Service, id, emp, start, end string, days float64) {
	t.Helper()
	_, err := svc.SubmitRequest(context.Background(), generic.LeaveRequest{
		ID:         generic.RequestID(id),
		EmployeeID: generic.EmployeeID(emp),
		Period:     generic.Period{Start: date(start), End: date(end)},
		Days:       generic.Days(days),
	})
	require.NoError(t, err)
}

// =============================================================================
// END-TO-END SCENARIO
// =============================================================================

func TestService_EndToEndScenario(t *testing.T) {
	svc, mem, clock := newTestService(t, "2024-01-10")
	ctx := context.Background()

	_, err := svc.RegisterEmployee(ctx, generic.Employee{ID: "emp-1", Name: "Sato", HireDate: date("2023-01-01")})
	require.NoError(t, err)

	// G1: 10 days granted 2023-07-01, expires 2025-06-30
	g1, err := svc.AddGrant(ctx, generic.Grant{ID: "G1", EmployeeID: "emp-1", GrantDate: date("2023-07-01"), DaysGranted: generic.Days(10)})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-30", g1.ExpiresOn.String())

	// A: 3 days → G1 = 7
	submit(t, svc, "A", "emp-1", "2024-01-10", "2024-01-12", 3)
	_, err = svc.ApproveRequest(ctx, "A")
	require.NoError(t, err)
	assertAmount(t, 7, grantByID(t, mem, "emp-1", "G1").RemainingDays)

	// B: 8 days → insufficient, G1 unchanged
	clock.today = date("2024-02-01")
	submit(t, svc, "B", "emp-1", "2024-02-01", "2024-02-12", 8)
	_, err = svc.ApproveRequest(ctx, "B")
	var ibe *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assertAmount(t, 7, ibe.Available)
	assertAmount(t, 8, ibe.Requested)
	assertAmount(t, 7, grantByID(t, mem, "emp-1", "G1").RemainingDays)
	assert.Equal(t, generic.RequestPending, requestStatus(t, mem, "B"))

	// G2: 11 days granted 2024-07-01 → balance 18
	_, err = svc.AddGrant(ctx, generic.Grant{ID: "G2", EmployeeID: "emp-1", GrantDate: date("2024-07-01"), DaysGranted: generic.Days(11)})
	require.NoError(t, err)
	clock.today = date("2024-08-01")
	balance, err := svc.GetBalance(ctx, "emp-1", generic.TimePoint{})
	require.NoError(t, err)
	assertAmount(t, 18, balance.TotalDays)
	assert.Equal(t, "2024-08-01", balance.AsOf.String(), "zero asOf defaults to today")

	// C: 9 days → 7 from G1, 2 from G2
	submit(t, svc, "C", "emp-1", "2024-08-01", "2024-08-13", 9)
	result, err := svc.ApproveRequest(ctx, "C")
	require.NoError(t, err)
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, generic.GrantID("G1"), result.Allocations[0].GrantID)
	assertAmount(t, 7, result.Allocations[0].UsedDays)
	assertAmount(t, 2, result.Allocations[1].UsedDays)
	assertAmount(t, 0, grantByID(t, mem, "emp-1", "G1").RemainingDays)
	assertAmount(t, 9, grantByID(t, mem, "emp-1", "G2").RemainingDays)

	ledger, err := svc.GetLedger(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, ledger.Entries, 2, "B was never approved")
	assert.Equal(t, generic.RequestID("C"), ledger.Entries[0].RequestID)
	assertAmount(t, 9, ledger.Entries[0].RunningRemaining)
	assertAmount(t, 9, ledger.NewGrant)
	assertAmount(t, 0, ledger.CarriedOver)

	rec, err := svc.Reconcile(ctx, "emp-1")
	require.NoError(t, err)
	assert.True(t, rec.Balanced(), "%+v", rec.Discrepancies)
	assert.Equal(t, 2, rec.GrantsChecked)
	assert.Equal(t, 3, rec.UsageRecords)
}

func TestService_LedgerMatchesLiveGrantsForLeaveBookedAhead(t *testing.T) {
	// GIVEN: Leave starting after G1's expiry, approved while G1 is active
	// WHEN: The ledger is rebuilt
	// THEN: Its summary equals the live remaining balances

	svc, mem, _ := newTestService(t, "2025-05-01")
	ctx := context.Background()
	seedEmployee(t, mem, "emp-1", "2023-01-01")
	seedGrant(t, mem, "G1", "emp-1", "2023-07-01", "2025-06-30", 10)
	seedGrant(t, mem, "G2", "emp-1", "2024-07-01", "2026-06-30", 11)
	submit(t, svc, "A", "emp-1", "2025-07-10", "2025-07-14", 5)

	_, err := svc.ApproveRequest(ctx, "A")
	require.NoError(t, err)

	req, err := svc.GetRequest(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "2025-05-01", req.DecidedOn.String())

	live, err := svc.ListGrants(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, live, 2)
	assertAmount(t, 5, live[0].RemainingDays)
	assertAmount(t, 11, live[1].RemainingDays)

	ledger, err := svc.GetLedger(ctx, "emp-1")
	require.NoError(t, err)
	assertAmount(t, 5, ledger.CarriedOver)
	assertAmount(t, 11, ledger.NewGrant)
	assert.True(t, ledger.CarriedOver.Equal(live[0].RemainingDays))
	assert.True(t, ledger.NewGrant.Equal(live[1].RemainingDays))

	rec, err := svc.Reconcile(ctx, "emp-1")
	require.NoError(t, err)
	assert.True(t, rec.Balanced(), "%+v", rec.Discrepancies)
}

// =============================================================================
// BALANCE / EXPIRING
// =============================================================================

func TestService_ExpiringGrants(t *testing.T) {
	svc, mem, _ := newTestService(t, "2025-05-01")
	ctx := context.Background()
	seedEmployee(t, mem, "emp-1", "2023-01-01")
	seedGrant(t, mem, "G1", "emp-1", "2023-07-01", "2025-06-30", 4)
	seedGrant(t, mem, "G2", "emp-1", "2024-07-01", "2026-06-30", 11)
	seedGrant(t, mem, "G0", "emp-1", "2023-01-01", "2025-05-15", 0)

	summary, err := svc.GetExpiringGrants(ctx, "emp-1", date("2025-05-01"), 90)
	require.NoError(t, err)
	assertAmount(t, 4, summary.TotalDays)
	require.NotNil(t, summary.SoonestExpiry)
	assert.Equal(t, "2025-06-30", summary.SoonestExpiry.String(), "exhausted grants are not warned about")
	require.Len(t, summary.Grants, 1)

	summary, err = svc.GetExpiringGrants(ctx, "emp-1", date("2025-05-01"), 10)
	require.NoError(t, err)
	assert.True(t, summary.TotalDays.IsZero())
	assert.Nil(t, summary.SoonestExpiry)

	_, err = svc.GetExpiringGrants(ctx, "emp-1", date("2025-05-01"), -1)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestService_UnknownEmployee(t *testing.T) {
	svc, _, _ := newTestService(t, "2024-01-01")
	ctx := context.Background()

	_, err := svc.GetBalance(ctx, "ghost", date("2024-01-01"))
	assert.True(t, generic.IsNotFound(err))
	_, err = svc.GetLedger(ctx, "ghost")
	assert.True(t, generic.IsNotFound(err))
	_, err = svc.IssueDueGrants(ctx, "ghost", date("2024-01-01"))
	assert.True(t, generic.IsNotFound(err))
}

func TestService_SubmitRequestValidation(t *testing.T) {
	svc, mem, _ := newTestService(t, "2024-01-01")
	ctx := context.Background()
	seedEmployee(t, mem, "emp-1", "2023-01-01")

	tests := []struct {
		name string
		req  generic.LeaveRequest
	}{
		{"end before start", generic.LeaveRequest{EmployeeID: "emp-1", Period: generic.Period{Start: date("2024-02-02"), End: date("2024-02-01")}, Days: generic.Days(1)}},
		{"negative days", generic.LeaveRequest{EmployeeID: "emp-1", Period: generic.Period{Start: date("2024-02-01"), End: date("2024-02-01")}, Days: generic.Days(-1)}},
		{"nothing requested", generic.LeaveRequest{EmployeeID: "emp-1", Period: generic.Period{Start: date("2024-02-01"), End: date("2024-02-01")}}},
		{"missing dates", generic.LeaveRequest{EmployeeID: "emp-1", Days: generic.Days(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SubmitRequest(ctx, tt.req)
			assert.ErrorIs(t, err, generic.ErrInvalidInput)
		})
	}

	req, err := svc.SubmitRequest(ctx, generic.LeaveRequest{
		EmployeeID: "emp-1",
		Period:     generic.Period{Start: date("2024-02-01"), End: date("2024-02-01")},
		Hours:      generic.Hours(4),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, generic.LeavePaid, req.Type)
	assert.Equal(t, generic.RequestPending, req.Status)
}

// =============================================================================
// GRANT ISSUER
// =============================================================================

func TestService_IssueDueGrants_Idempotent(t *testing.T) {
	// GIVEN: Hired 2023-01-01, issuing as of 2025-08-01
	// THEN: 2023-07-01 has expired (2025-06-30) and is skipped;
	//       2024-07-01 (11d) and 2025-07-01 (12d) are created once

	svc, mem, _ := newTestService(t, "2025-08-01")
	ctx := context.Background()
	seedEmployee(t, mem, "emp-1", "2023-01-01")

	created, err := svc.IssueDueGrants(ctx, "emp-1", date("2025-08-01"))
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "2024-07-01", created[0].GrantDate.String())
	assert.Equal(t, "2026-06-30", created[0].ExpiresOn.String())
	assertAmount(t, 11, created[0].DaysGranted)
	assertAmount(t, 11, created[0].RemainingDays)
	assert.Equal(t, "2025-07-01", created[1].GrantDate.String())
	assertAmount(t, 12, created[1].DaysGranted)

	again, err := svc.IssueDueGrants(ctx, "emp-1", date("2025-08-01"))
	require.NoError(t, err)
	assert.Empty(t, again)

	all, err := mem.AllGrants(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestService_IssueDueGrants_BeforeEligibility(t *testing.T) {
	svc, mem, _ := newTestService(t, "2023-03-01")
	seedEmployee(t, mem, "emp-1", "2023-01-01")

	created, err := svc.IssueDueGrants(context.Background(), "emp-1", date("2023-03-01"))
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestService_AddGrant_Duplicate(t *testing.T) {
	svc, mem, _ := newTestService(t, "2024-01-01")
	ctx := context.Background()
	seedEmployee(t, mem, "emp-1", "2023-01-01")

	_, err := svc.AddGrant(ctx, generic.Grant{EmployeeID: "emp-1", GrantDate: date("2023-07-01"), DaysGranted: generic.Days(10)})
	require.NoError(t, err)
	_, err = svc.AddGrant(ctx, generic.Grant{EmployeeID: "emp-1", GrantDate: date("2023-07-01"), DaysGranted: generic.Days(10)})
	assert.ErrorIs(t, err, generic.ErrDuplicate)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestService_Reconcile_DetectsDrift(t *testing.T) {
	svc, mem, _ := newTestService(t, "2024-09-01")
	ctx := context.Background()
	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedGrant(t, mem, "G1", "emp-1", "2024-07-01", "2026-06-30", 10)
	seedRequest(t, mem, "A", "emp-1", "2024-09-02", "2024-09-03", 2)
	_, err := svc.ApproveRequest(ctx, "A")
	require.NoError(t, err)

	// Corrupt the live field behind the engine's back.
	g := grantByID(t, mem, "emp-1", "G1")
	g.RemainingDays = generic.Days(9)
	require.NoError(t, mem.UpdateGrantBalance(ctx, g))

	rec, err := svc.Reconcile(ctx, "emp-1")
	require.NoError(t, err)
	assert.False(t, rec.Balanced())
	require.Len(t, rec.Discrepancies, 1)
	d := rec.Discrepancies[0]
	assert.Equal(t, timeoff.DiscrepancyGrant, d.Kind)
	assert.Equal(t, "G1", d.ID)
	assertAmount(t, 8, d.Expected)
	assertAmount(t, 9, d.Actual)
}
