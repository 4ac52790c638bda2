package timeoff_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/yukyu-ledger/generic"
	"github.com/warp/yukyu-ledger/generic/store"
	"github.com/warp/yukyu-ledger/timeoff"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// =============================================================================
// CONSERVATION
// =============================================================================

func TestApprove_Conservation_SpansGrants(t *testing.T) {
	// GIVEN: Two grants (5 + 10 days), request for 8
	// WHEN: Approved
	// THEN: Usage records sum to 8, each drawn grant decreases by its share

	engine, mem := newTestEngine(t, "2024-09-01")
	ctx := context.Background()
	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedGrant(t, mem, "g-old", "emp-1", "2023-07-01", "2025-06-30", 5)
	seedGrant(t, mem, "g-new", "emp-1", "2024-07-01", "2026-06-30", 10)
	seedRequest(t, mem, "r-1", "emp-1", "2024-09-10", "2024-09-19", 8)

	result, err := engine.Approve(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, 1, result.Attempts)

	usage, err := mem.UsageByRequest(ctx, "r-1")
	require.NoError(t, err)
	total := generic.ZeroDays()
	for _, u := range usage {
		total = total.Add(u.UsedDays)
		assert.Equal(t, generic.EmployeeID("emp-1"), u.EmployeeID)
		assert.NotEmpty(t, u.ID)
	}
	assertAmount(t, 8, total)

	assertAmount(t, 0, grantByID(t, mem, "emp-1", "g-old").RemainingDays)
	assertAmount(t, 7, grantByID(t, mem, "emp-1", "g-new").RemainingDays)
	assert.Equal(t, generic.RequestApproved, requestStatus(t, mem, "r-1"))
}

func TestApprove_UntouchedGrantsUnchanged(t *testing.T) {
	engine, mem := newTestEngine(t, "2024-09-01")
	ctx := context.Background()
	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedGrant(t, mem, "g-old", "emp-1", "2023-07-01", "2025-06-30", 5)
	seedGrant(t, mem, "g-new", "emp-1", "2024-07-01", "2026-06-30", 10)
	seedRequest(t, mem, "r-1", "emp-1", "2024-09-10", "2024-09-11", 2)

	result, err := engine.Approve(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, result.Allocations, 1)
	assert.Equal(t, generic.GrantID("g-old"), result.Allocations[0].GrantID)

	newer := grantByID(t, mem, "emp-1", "g-new")
	assertAmount(t, 10, newer.RemainingDays)
	assert.Equal(t, int64(0), newer.Version, "grant not drawn from is never written")
}

func TestApprove_FractionalDays(t *testing.T) {
	engine, mem := newTestEngine(t, "2024-09-01")
	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedGrant(t, mem, "g-1", "emp-1", "2023-07-01", "2025-06-30", 1.5)
	seedGrant(t, mem, "g-2", "emp-1", "2024-07-01", "2026-06-30", 10)
	seedRequest(t, mem, "half", "emp-1", "2024-09-10", "2024-09-10", 2.5)

	_, err := engine.Approve(context.Background(), "half")
	require.NoError(t, err)

	assertAmount(t, 0, grantByID(t, mem, "emp-1", "g-1").RemainingDays)
	assertAmount(t, 9, grantByID(t, mem, "emp-1", "g-2").RemainingDays)
}

// =============================================================================
// FIFO ORDERING
// =============================================================================

func TestApprove_FIFO_EarlierExpiryDepletedFirst(t *testing.T) {
	// GIVEN: The later-granted grant expires first
	// WHEN: Approving less than its balance
	// THEN: Only the earlier-expiring grant is drawn

	engine, mem := newTestEngine(t, "2024-09-01")
	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedGrant(t, mem, "g-long", "emp-1", "2024-01-01", "2026-12-31", 10)
	seedGrant(t, mem, "g-short", "emp-1", "2024-06-01", "2025-03-31", 4)
	seedRequest(t, mem, "r-1", "emp-1", "2024-09-10", "2024-09-14", 5)

	result, err := engine.Approve(context.Background(), "r-1")
	require.NoError(t, err)
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, generic.GrantID("g-short"), result.Allocations[0].GrantID)
	assertAmount(t, 4, result.Allocations[0].UsedDays)
	assert.Equal(t, generic.GrantID("g-long"), result.Allocations[1].GrantID)
	assertAmount(t, 1, result.Allocations[1].UsedDays)
}

func TestApprove_FIFO_TieBrokenByGrantDate(t *testing.T) {
	engine, mem := newTestEngine(t, "2024-09-01")
	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedGrant(t, mem, "g-b", "emp-1", "2024-02-01", "2025-12-31", 3)
	seedGrant(t, mem, "g-a", "emp-1", "2024-01-01", "2025-12-31", 3)
	seedRequest(t, mem, "r-1", "emp-1", "2024-09-10", "2024-09-11", 2)

	result, err := engine.Approve(context.Background(), "r-1")
	require.NoError(t, err)
	require.Len(t, result.Allocations, 1)
	assert.Equal(t, generic.GrantID("g-a"), result.Allocations[0].GrantID)
}

func TestApprove_ExpiredGrantExcluded(t *testing.T) {
	// GIVEN: One grant expired yesterday with days left
	// THEN: Its remainder is not spendable

	engine, mem := newTestEngine(t, "2025-07-01")
	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedGrant(t, mem, "g-expired", "emp-1", "2023-07-01", "2025-06-30", 10)
	seedGrant(t, mem, "g-live", "emp-1", "2024-07-01", "2026-06-30", 2)
	seedRequest(t, mem, "r-1", "emp-1", "2025-07-02", "2025-07-04", 3)

	_, err := engine.Approve(context.Background(), "r-1")
	var ibe *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assertAmount(t, 2, ibe.Available)
	assertAmount(t, 1, ibe.Shortfall)
	assertAmount(t, 10, grantByID(t, mem, "emp-1", "g-expired").RemainingDays)
}

func TestApprove_ExpiresTodayStillActive(t *testing.T) {
	engine, mem := newTestEngine(t, "2025-06-30")
	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedGrant(t, mem, "g-1", "emp-1", "2023-07-01", "2025-06-30", 1)
	seedRequest(t, mem, "r-1", "emp-1", "2025-06-30", "2025-06-30", 1)

	_, err := engine.Approve(context.Background(), "r-1")
	require.NoError(t, err)
}

// =============================================================================
// INSUFFICIENCY IS A NO-OP
// =============================================================================

func TestApprove_InsufficientDays_NoMutation(t *testing.T) {
	engine, mem := newTestEngine(t, "2024-02-01")
	ctx := context.Background()
	seedEmployee(t, mem, "emp-1", "2023-01-01")
	seedGrant(t, mem, "g-1", "emp-1", "2023-07-01", "2025-06-30", 7)
	seedRequest(t, mem, "r-1", "emp-1", "2024-02-01", "2024-02-12", 8)

	_, err := engine.Approve(ctx, "r-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
	assert.True(t, generic.IsClientError(err))
	assert.Equal(t, "insufficient balance: available 7, requested 8 (days), shortfall 1", err.Error())

	assertAmount(t, 7, grantByID(t, mem, "emp-1", "g-1").RemainingDays)
	assert.Equal(t, generic.RequestPending, requestStatus(t, mem, "r-1"))
	usage, err := mem.UsageByRequest(ctx, "r-1")
	require.NoError(t, err)
	assert.Empty(t, usage)
}

func TestApprove_HoursAreASeparatePool(t *testing.T) {
	// GIVEN: 0 days but 16 hours remaining
	// WHEN: Requesting 1 day
	// THEN: Hours do not cover the day shortfall

	engine, mem := newTestEngine(t, "2024-09-01")
	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedHourGrant(t, mem, "g-1", "emp-1", "2024-07-01", "2026-06-30", 0, 16)
	seedRequest(t, mem, "r-day", "emp-1", "2024-09-10", "2024-09-10", 1)

	_, err := engine.Approve(context.Background(), "r-day")
	var ibe *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, generic.UnitDays, ibe.Unit)
}

func TestApprove_HoursDrawnFIFO(t *testing.T) {
	engine, mem := newTestEngine(t, "2024-09-01")
	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedHourGrant(t, mem, "g-1", "emp-1", "2023-07-01", "2025-06-30", 0, 3)
	seedHourGrant(t, mem, "g-2", "emp-1", "2024-07-01", "2026-06-30", 0, 8)
	seedRequestHours(t, mem, "r-h", "emp-1", "2024-09-10", "2024-09-10", 0, 5)

	result, err := engine.Approve(context.Background(), "r-h")
	require.NoError(t, err)
	require.Len(t, result.Allocations, 2)
	assertAmount(t, 3, result.Allocations[0].UsedHours)
	assertAmount(t, 2, result.Allocations[1].UsedHours)
	assertAmount(t, 0, grantByID(t, mem, "emp-1", "g-1").RemainingHours)
	assertAmount(t, 6, grantByID(t, mem, "emp-1", "g-2").RemainingHours)

	seedRequestHours(t, mem, "r-h2", "emp-1", "2024-09-11", "2024-09-11", 0, 7)
	_, err = engine.Approve(context.Background(), "r-h2")
	var ibe *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, generic.UnitHours, ibe.Unit)
}

// =============================================================================
// TERMINAL IDEMPOTENCE
// =============================================================================

func TestApproveReject_TerminalStates(t *testing.T) {
	engine, mem := newTestEngine(t, "2024-09-01")
	ctx := context.Background()
	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedGrant(t, mem, "g-1", "emp-1", "2024-07-01", "2026-06-30", 10)
	seedRequest(t, mem, "approved", "emp-1", "2024-09-10", "2024-09-11", 2)
	seedRequest(t, mem, "rejected", "emp-1", "2024-09-12", "2024-09-13", 2)

	_, err := engine.Approve(ctx, "approved")
	require.NoError(t, err)
	reason := "team offsite"
	require.NoError(t, engine.Reject(ctx, "rejected", &reason))

	rejected, err := mem.GetRequest(ctx, "rejected")
	require.NoError(t, err)
	require.NotNil(t, rejected.Note)
	assert.Equal(t, "team offsite", *rejected.Note)

	before := grantByID(t, mem, "emp-1", "g-1")

	for _, id := range []generic.RequestID{"approved", "rejected"} {
		_, err = engine.Approve(ctx, id)
		var ise *generic.InvalidStateError
		require.ErrorAs(t, err, &ise, "re-approve %s", id)
		assert.Equal(t, "approve", ise.Operation)

		err = engine.Reject(ctx, id, nil)
		require.ErrorAs(t, err, &ise, "re-reject %s", id)
		assert.Equal(t, "reject", ise.Operation)
	}

	after := grantByID(t, mem, "emp-1", "g-1")
	assert.Equal(t, before, after)
	usage, err := mem.UsageByEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, usage, 1)
	assert.Equal(t, generic.RequestApproved, requestStatus(t, mem, "approved"))
	assert.Equal(t, generic.RequestRejected, requestStatus(t, mem, "rejected"))
}

func TestApprove_UnknownRequest(t *testing.T) {
	engine, _ := newTestEngine(t, "2024-09-01")

	_, err := engine.Approve(context.Background(), "missing")
	assert.True(t, generic.IsNotFound(err))

	err = engine.Reject(context.Background(), "missing", nil)
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// FRAGMENTATION
// =============================================================================

func TestApprove_ResidualAfterPlanIsIntegrityFailure(t *testing.T) {
	// GIVEN: A planner that leaves half a day uncovered after the
	//        sufficiency check has passed
	// WHEN: The request is approved
	// THEN: FragmentationError, nothing written, one data_integrity log line

	mem := store.NewMemory()
	core, logs := observer.New(zapcore.ErrorLevel)
	engine := timeoff.NewEngine(mem, zap.New(core))
	engine.Clock = timeoff.FixedClock(date("2024-09-01"))
	engine.Planner = func(grants []generic.Grant, days, hours generic.Amount) timeoff.Plan {
		plan := timeoff.PlanFIFO(grants, days, hours)
		plan.ResidualDays = generic.Days(0.5)
		return plan
	}

	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedGrant(t, mem, "g-1", "emp-1", "2024-07-01", "2026-06-30", 10)
	seedRequest(t, mem, "r-1", "emp-1", "2024-09-02", "2024-09-04", 3)

	_, err := engine.Approve(context.Background(), "r-1")

	var ferr *generic.FragmentationError
	require.ErrorAs(t, err, &ferr)
	assert.True(t, generic.IsIntegrityError(err))
	assert.False(t, generic.IsClientError(err))
	assert.Equal(t, generic.UnitDays, ferr.Unit)
	assertAmount(t, 0.5, ferr.Residual)

	g := grantByID(t, mem, "emp-1", "g-1")
	assertAmount(t, 10, g.RemainingDays)
	assert.Equal(t, int64(0), g.Version)
	assert.Equal(t, generic.RequestPending, requestStatus(t, mem, "r-1"))
	usage, err := mem.UsageByRequest(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Empty(t, usage)

	incidents := logs.FilterField(zap.String("incident", "data_integrity"))
	require.Equal(t, 1, incidents.Len())
	entry := incidents.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "r-1", entry.ContextMap()["request_id"])
	assert.Equal(t, "0.5", entry.ContextMap()["residual"])
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestApprove_ConcurrentApprovalsNeverOverspend(t *testing.T) {
	// GIVEN: 10 days; five concurrent requests of 3 days each
	// THEN: Exactly three succeed, the rest fail on balance, remaining = 1

	engine, mem := newTestEngine(t, "2024-09-01")
	ctx := context.Background()
	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedGrant(t, mem, "g-1", "emp-1", "2024-07-01", "2026-06-30", 10)
	ids := []generic.RequestID{"r-1", "r-2", "r-3", "r-4", "r-5"}
	for i, id := range ids {
		day := date("2024-10-01").AddDays(i * 7).String()
		seedRequest(t, mem, string(id), "emp-1", day, day, 3)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		approved  int
		shortfall int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id generic.RequestID) {
			defer wg.Done()
			_, err := engine.Approve(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				approved++
			case errors.Is(err, generic.ErrInsufficientBalance):
				shortfall++
			default:
				t.Errorf("unexpected error for %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 3, approved)
	assert.Equal(t, 2, shortfall)
	assertAmount(t, 1, grantByID(t, mem, "emp-1", "g-1").RemainingDays)
}

// conflictingStore fails the first n transactions after running them,
// the way a store reports a stale read at commit time.
type conflictingStore struct {
	*store.Memory
	mu       sync.Mutex
	failures int
	calls    int
}

func (c *conflictingStore) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return c.Memory.WithTx(ctx, func(s generic.Store) error {
		if err := fn(s); err != nil {
			return err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		c.calls++
		if c.failures > 0 {
			c.failures--
			return generic.ErrConcurrentModification
		}
		return nil
	})
}

func TestApprove_RetriesConflicts(t *testing.T) {
	mem := store.NewMemory()
	cs := &conflictingStore{Memory: mem, failures: 2}
	engine := timeoff.NewEngine(cs, nil)
	engine.Clock = timeoff.FixedClock(date("2024-09-01"))

	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedGrant(t, mem, "g-1", "emp-1", "2024-07-01", "2026-06-30", 10)
	seedRequest(t, mem, "r-1", "emp-1", "2024-09-10", "2024-09-12", 3)

	result, err := engine.Approve(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)

	// Rolled-back attempts leave no trace.
	assertAmount(t, 7, grantByID(t, mem, "emp-1", "g-1").RemainingDays)
	usage, err := mem.UsageByRequest(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Len(t, usage, 1)
}

func TestApprove_ConflictSurfacedAfterMaxRetries(t *testing.T) {
	mem := store.NewMemory()
	cs := &conflictingStore{Memory: mem, failures: 10}
	engine := timeoff.NewEngine(cs, nil)
	engine.Clock = timeoff.FixedClock(date("2024-09-01"))
	engine.MaxRetries = 3

	seedEmployee(t, mem, "emp-1", "2022-01-01")
	seedGrant(t, mem, "g-1", "emp-1", "2024-07-01", "2026-06-30", 10)
	seedRequest(t, mem, "r-1", "emp-1", "2024-09-10", "2024-09-12", 3)

	_, err := engine.Approve(context.Background(), "r-1")
	var ce *generic.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Attempts)
	assert.True(t, generic.IsRetryable(err))
	assert.Equal(t, 3, cs.calls)

	assertAmount(t, 10, grantByID(t, mem, "emp-1", "g-1").RemainingDays)
	assert.Equal(t, generic.RequestPending, requestStatus(t, mem, "r-1"))
}

// =============================================================================
// ALLOCATION PLAN
// =============================================================================

func TestPlanFIFO_ResidualWhenUnderfunded(t *testing.T) {
	// PlanFIFO alone does not check sufficiency; the engine does. A residual
	// here is what the engine reports as fragmentation.
	grants := []generic.Grant{
		{ID: "g-1", RemainingDays: generic.Days(2), RemainingHours: generic.ZeroHours()},
		{ID: "g-2", RemainingDays: generic.Days(1), RemainingHours: generic.ZeroHours()},
	}

	plan := timeoff.PlanFIFO(grants, generic.Days(5), generic.ZeroHours())
	assert.False(t, plan.Covered())
	assertAmount(t, 2, plan.ResidualDays)
	require.Len(t, plan.Grants, 2)
	assertAmount(t, 0, plan.Grants[0].RemainingDays)

	plan = timeoff.PlanFIFO(grants, generic.Days(3), generic.ZeroHours())
	assert.True(t, plan.Covered())
}

func TestCheckSufficiency_DaysBeforeHours(t *testing.T) {
	grants := []generic.Grant{{ID: "g-1", RemainingDays: generic.Days(1), RemainingHours: generic.Hours(1)}}

	err := timeoff.CheckSufficiency("emp-1", grants, generic.Days(2), generic.Hours(4))
	var ibe *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, generic.UnitDays, ibe.Unit)
}
