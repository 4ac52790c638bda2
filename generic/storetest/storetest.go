// Package storetest holds the behavioural tests every generic.TxStore
// implementation must pass. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/yukyu-ledger/generic"
	"github.com/warp/yukyu-ledger/timeoff"
)

// Backend is what Run needs from a store.
type Backend interface {
	generic.TxStore
	generic.EmployeeLister
}

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) Backend

// Run executes the full suite against stores created by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GrantOrdering", func(t *testing.T) { testGrantOrdering(t, newStore(t)) })
	t.Run("DuplicateGrant", func(t *testing.T) { testDuplicateGrant(t, newStore(t)) })
	t.Run("GuardedGrantUpdate", func(t *testing.T) { testGuardedGrantUpdate(t, newStore(t)) })
	t.Run("RequestLifecycle", func(t *testing.T) { testRequestLifecycle(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("Employees", func(t *testing.T) { testEmployees(t, newStore(t)) })
	t.Run("EndToEndScenario", func(t *testing.T) { testEndToEndScenario(t, newStore(t)) })
	t.Run("ConcurrentApprovals", func(t *testing.T) { testConcurrentApprovals(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

func date(s string) generic.TimePoint { return generic.MustParseDate(s) }

func days(s string) generic.Amount {
	return generic.NewAmountFromDecimal(decimal.RequireFromString(s), generic.UnitDays)
}

func hours(s string) generic.Amount {
	return generic.NewAmountFromDecimal(decimal.RequireFromString(s), generic.UnitHours)
}

func employee(t *testing.T, s Backend, id, hire string) {
	t.Helper()
	require.NoError(t, s.SaveEmployee(context.Background(), generic.Employee{
		ID: generic.EmployeeID(id), Name: id, HireDate: date(hire),
	}))
}

func newGrant(id, emp, grantDate, expires, amount string) generic.Grant {
	return generic.Grant{
		ID:             generic.GrantID(id),
		EmployeeID:     generic.EmployeeID(emp),
		GrantDate:      date(grantDate),
		ExpiresOn:      date(expires),
		DaysGranted:    days(amount),
		HoursGranted:   hours("0"),
		RemainingDays:  days(amount),
		RemainingHours: hours("0"),
	}
}

func newRequest(id, emp, start, end, amount string) generic.LeaveRequest {
	return generic.LeaveRequest{
		ID:         generic.RequestID(id),
		EmployeeID: generic.EmployeeID(emp),
		Type:       generic.LeavePaid,
		Period:     generic.Period{Start: date(start), End: date(end)},
		Days:       days(amount),
		Hours:      hours("0"),
		Status:     generic.RequestPending,
	}
}

func assertDays(t *testing.T, want string, got generic.Amount) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got.Value), "want %s, got %s", want, got.Value.String())
}

func ids(grants []generic.Grant) []generic.GrantID {
	out := make([]generic.GrantID, len(grants))
	for i, g := range grants {
		out[i] = g.ID
	}
	return out
}

// =============================================================================
// CASES
// =============================================================================

func testGrantOrdering(t *testing.T, s Backend) {
	ctx := context.Background()
	employee(t, s, "emp-1", "2020-01-01")
	require.NoError(t, s.CreateGrant(ctx, newGrant("g-c", "emp-1", "2024-02-01", "2025-12-31", "3")))
	require.NoError(t, s.CreateGrant(ctx, newGrant("g-a", "emp-1", "2024-06-01", "2025-03-31", "4")))
	require.NoError(t, s.CreateGrant(ctx, newGrant("g-b", "emp-1", "2024-01-01", "2025-12-31", "5")))
	require.NoError(t, s.CreateGrant(ctx, newGrant("g-x", "emp-1", "2021-01-01", "2022-12-31", "9")))

	active, err := s.ActiveGrants(ctx, "emp-1", date("2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, []generic.GrantID{"g-a", "g-b", "g-c"}, ids(active), "expiry, then grant date")

	all, err := s.AllGrants(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, []generic.GrantID{"g-x", "g-b", "g-c", "g-a"}, ids(all), "grant date, expired included")

	g := all[0]
	assert.Equal(t, "2021-01-01", g.GrantDate.String())
	assert.Equal(t, "2022-12-31", g.ExpiresOn.String())
	assertDays(t, "9", g.DaysGranted)
	assert.Equal(t, generic.UnitDays, g.RemainingDays.Unit)
	assert.Equal(t, generic.UnitHours, g.RemainingHours.Unit)

	// Boundary: a grant expiring on asOf is still active.
	active, err = s.ActiveGrants(ctx, "emp-1", date("2025-03-31"))
	require.NoError(t, err)
	assert.Len(t, active, 3)
}

func testDuplicateGrant(t *testing.T, s Backend) {
	ctx := context.Background()
	employee(t, s, "emp-1", "2020-01-01")
	require.NoError(t, s.CreateGrant(ctx, newGrant("g-1", "emp-1", "2024-07-01", "2026-06-30", "10")))

	err := s.CreateGrant(ctx, newGrant("g-2", "emp-1", "2024-07-01", "2026-06-30", "10"))
	assert.ErrorIs(t, err, generic.ErrDuplicate)
}

func testGuardedGrantUpdate(t *testing.T, s Backend) {
	ctx := context.Background()
	employee(t, s, "emp-1", "2020-01-01")
	require.NoError(t, s.CreateGrant(ctx, newGrant("g-1", "emp-1", "2024-07-01", "2026-06-30", "10")))

	all, err := s.AllGrants(ctx, "emp-1")
	require.NoError(t, err)
	stale := all[0]

	fresh := stale
	fresh.RemainingDays = days("7.5")
	require.NoError(t, s.UpdateGrantBalance(ctx, fresh))

	stale.RemainingDays = days("1")
	err = s.UpdateGrantBalance(ctx, stale)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.True(t, generic.IsRetryable(err))

	all, err = s.AllGrants(ctx, "emp-1")
	require.NoError(t, err)
	assertDays(t, "7.5", all[0].RemainingDays)
	assert.Equal(t, int64(1), all[0].Version)
}

func testRequestLifecycle(t *testing.T, s Backend) {
	ctx := context.Background()
	employee(t, s, "emp-1", "2020-01-01")
	require.NoError(t, s.CreateRequest(ctx, newRequest("r-2", "emp-1", "2024-03-01", "2024-03-01", "1")))
	require.NoError(t, s.CreateRequest(ctx, newRequest("r-1", "emp-1", "2024-02-01", "2024-02-02", "2")))
	require.NoError(t, s.CreateRequest(ctx, newRequest("r-3", "emp-1", "2024-04-01", "2024-04-01", "1")))

	assert.ErrorIs(t, s.CreateRequest(ctx, newRequest("r-1", "emp-1", "2024-02-01", "2024-02-02", "2")), generic.ErrDuplicate)

	pending, err := s.GetRequest(ctx, "r-1")
	require.NoError(t, err)
	assert.True(t, pending.DecidedOn.IsZero(), "no decision date while pending")

	require.NoError(t, s.TransitionRequest(ctx, "r-2", generic.RequestPending, generic.RequestApproved, date("2024-01-20"), nil))
	require.NoError(t, s.TransitionRequest(ctx, "r-1", generic.RequestPending, generic.RequestApproved, date("2024-01-25"), nil))
	reason := "busy season"
	require.NoError(t, s.TransitionRequest(ctx, "r-3", generic.RequestPending, generic.RequestRejected, date("2024-03-15"), &reason))

	err = s.TransitionRequest(ctx, "r-3", generic.RequestPending, generic.RequestApproved, date("2024-03-16"), nil)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification, "status guard")

	approved, err := s.ApprovedRequests(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, approved, 2)
	assert.Equal(t, generic.RequestID("r-1"), approved[0].ID)
	assert.Equal(t, generic.RequestID("r-2"), approved[1].ID)
	assert.Equal(t, "2024-02-02", approved[0].Period.End.String())
	assert.Equal(t, "2024-01-25", approved[0].DecidedOn.String())
	assert.Equal(t, "2024-01-20", approved[1].DecidedOn.String())
	assertDays(t, "2", approved[0].Days)

	rejected, err := s.GetRequest(ctx, "r-3")
	require.NoError(t, err)
	assert.Equal(t, generic.RequestRejected, rejected.Status)
	require.NotNil(t, rejected.Note)
	assert.Equal(t, "busy season", *rejected.Note)
	assert.Equal(t, "2024-03-15", rejected.DecidedOn.String(), "failed guard leaves the decision untouched")
}

func testTxRollback(t *testing.T, s Backend) {
	ctx := context.Background()
	employee(t, s, "emp-1", "2020-01-01")
	require.NoError(t, s.CreateGrant(ctx, newGrant("g-1", "emp-1", "2024-07-01", "2026-06-30", "10")))
	require.NoError(t, s.CreateRequest(ctx, newRequest("r-1", "emp-1", "2024-08-01", "2024-08-01", "1")))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx generic.Store) error {
		grants, err := tx.ActiveGrants(ctx, "emp-1", date("2024-08-01"))
		require.NoError(t, err)
		g := grants[0]
		g.RemainingDays = days("9")
		require.NoError(t, tx.UpdateGrantBalance(ctx, g))
		require.NoError(t, tx.AppendUsage(ctx, []generic.UsageRecord{{
			ID: "u-1", LeaveRequestID: "r-1", GrantID: "g-1", EmployeeID: "emp-1",
			UsedDays: days("1"), UsedHours: hours("0"),
		}}))
		require.NoError(t, tx.TransitionRequest(ctx, "r-1", generic.RequestPending, generic.RequestApproved, date("2024-08-01"), nil))

		// Reads inside the transaction see its own writes.
		req, err := tx.GetRequest(ctx, "r-1")
		require.NoError(t, err)
		assert.Equal(t, generic.RequestApproved, req.Status)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	all, err := s.AllGrants(ctx, "emp-1")
	require.NoError(t, err)
	assertDays(t, "10", all[0].RemainingDays)
	usage, err := s.UsageByRequest(ctx, "r-1")
	require.NoError(t, err)
	assert.Empty(t, usage)
	req, err := s.GetRequest(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, generic.RequestPending, req.Status)
}

func testNotFound(t *testing.T, s Backend) {
	ctx := context.Background()

	_, err := s.GetRequest(ctx, "missing")
	assert.True(t, generic.IsNotFound(err))
	_, err = s.GetEmployee(ctx, "missing")
	assert.True(t, generic.IsNotFound(err))

	grants, err := s.ActiveGrants(ctx, "missing", date("2024-01-01"))
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func testEmployees(t *testing.T, s Backend) {
	ctx := context.Background()
	employee(t, s, "emp-b", "2021-04-01")
	employee(t, s, "emp-a", "2022-04-01")
	require.NoError(t, s.SaveEmployee(ctx, generic.Employee{ID: "emp-a", Name: "Suzuki", HireDate: date("2022-05-01")}))

	list, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, generic.EmployeeID("emp-a"), list[0].ID)
	assert.Equal(t, "Suzuki", list[0].Name)
	assert.Equal(t, "2022-05-01", list[0].HireDate.String())

	emp, err := s.GetEmployee(ctx, "emp-b")
	require.NoError(t, err)
	assert.Equal(t, "2021-04-01", emp.HireDate.String())
}

func testEndToEndScenario(t *testing.T, s Backend) {
	ctx := context.Background()
	clock := date("2024-01-10")
	svc := timeoff.NewService(s, timeoff.ServiceConfig{Clock: func() generic.TimePoint { return clock }}, nil)

	_, err := svc.RegisterEmployee(ctx, generic.Employee{ID: "emp-1", HireDate: date("2023-01-01")})
	require.NoError(t, err)
	_, err = svc.AddGrant(ctx, generic.Grant{ID: "G1", EmployeeID: "emp-1", GrantDate: date("2023-07-01"), DaysGranted: days("10")})
	require.NoError(t, err)

	_, err = svc.SubmitRequest(ctx, newRequest("A", "emp-1", "2024-01-10", "2024-01-12", "3"))
	require.NoError(t, err)
	_, err = svc.ApproveRequest(ctx, "A")
	require.NoError(t, err)

	clock = date("2024-02-01")
	_, err = svc.SubmitRequest(ctx, newRequest("B", "emp-1", "2024-02-01", "2024-02-12", "8"))
	require.NoError(t, err)
	_, err = svc.ApproveRequest(ctx, "B")
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)

	_, err = svc.AddGrant(ctx, generic.Grant{ID: "G2", EmployeeID: "emp-1", GrantDate: date("2024-07-01"), DaysGranted: days("11")})
	require.NoError(t, err)
	clock = date("2024-08-01")
	bal, err := svc.GetBalance(ctx, "emp-1", clock)
	require.NoError(t, err)
	assertDays(t, "18", bal.TotalDays)

	_, err = svc.SubmitRequest(ctx, newRequest("C", "emp-1", "2024-08-01", "2024-08-13", "9"))
	require.NoError(t, err)
	res, err := svc.ApproveRequest(ctx, "C")
	require.NoError(t, err)
	require.Len(t, res.Allocations, 2)

	all, err := s.AllGrants(ctx, "emp-1")
	require.NoError(t, err)
	assertDays(t, "0", all[0].RemainingDays)
	assertDays(t, "9", all[1].RemainingDays)

	ledger, err := svc.GetLedger(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, ledger.Entries, 2)
	assertDays(t, "9", ledger.Entries[0].RunningRemaining)

	rec, err := svc.Reconcile(ctx, "emp-1")
	require.NoError(t, err)
	assert.True(t, rec.Balanced(), "%+v", rec.Discrepancies)
}

func testConcurrentApprovals(t *testing.T, s Backend) {
	ctx := context.Background()
	employee(t, s, "emp-1", "2020-01-01")
	require.NoError(t, s.CreateGrant(ctx, newGrant("g-1", "emp-1", "2024-07-01", "2026-06-30", "10")))
	reqs := []generic.RequestID{"r-1", "r-2", "r-3", "r-4"}
	for i, id := range reqs {
		day := date("2024-09-02").AddDays(i).String()
		require.NoError(t, s.CreateRequest(ctx, newRequest(string(id), "emp-1", day, day, "4")))
	}

	engine := timeoff.NewEngine(s, nil)
	engine.Clock = timeoff.FixedClock(date("2024-09-01"))
	engine.MaxRetries = 10

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for _, id := range reqs {
		wg.Add(1)
		go func(id generic.RequestID) {
			defer wg.Done()
			_, err := engine.Approve(ctx, id)
			if err != nil && !errors.Is(err, generic.ErrInsufficientBalance) {
				t.Errorf("approve %s: %v", id, err)
				return
			}
			if err == nil {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 2, approved, "10 days cover two 4-day requests")
	all, err := s.AllGrants(ctx, "emp-1")
	require.NoError(t, err)
	assertDays(t, "2", all[0].RemainingDays)

	usage, err := s.UsageByEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, usage, 2)
}
