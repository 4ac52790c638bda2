package timeoff_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/yukyu-ledger/generic"
	"github.com/warp/yukyu-ledger/timeoff"
)

func approved(id, start string, days float64) generic.LeaveRequest {
	return generic.LeaveRequest{
		ID:         generic.RequestID(id),
		EmployeeID: "emp-1",
		Type:       generic.LeavePaid,
		Period:     generic.Period{Start: date(start), End: date(start)},
		Days:       generic.Days(days),
		Hours:      generic.ZeroHours(),
		Status:     generic.RequestApproved,
	}
}

func grant(id, grantDate, expires string, days float64) generic.Grant {
	return generic.Grant{
		ID:             generic.GrantID(id),
		EmployeeID:     "emp-1",
		GrantDate:      date(grantDate),
		ExpiresOn:      date(expires),
		DaysGranted:    generic.Days(days),
		HoursGranted:   generic.ZeroHours(),
		RemainingDays:  generic.Days(days),
		RemainingHours: generic.ZeroHours(),
	}
}

// =============================================================================
// REPLAY
// =============================================================================

func TestReplay_RunningBalance(t *testing.T) {
	// GIVEN: G1 (10d, 2023-07-01) and G2 (11d, 2024-07-01)
	//        A: 3 days on 2024-01-10, C: 9 days on 2024-08-01
	// THEN: Running balance after A = 7, after C = 21 − 12 = 9

	grants := []generic.Grant{
		grant("G1", "2023-07-01", "2025-06-30", 10),
		grant("G2", "2024-07-01", "2026-06-30", 11),
	}
	requests := []generic.LeaveRequest{approved("A", "2024-01-10", 3), approved("C", "2024-08-01", 9)}

	ledger := timeoff.Replay("emp-1", grants, requests)

	require.Len(t, ledger.Entries, 2)
	assert.Equal(t, generic.RequestID("C"), ledger.Entries[0].RequestID, "newest first")
	assertAmount(t, 9, ledger.Entries[0].RunningRemaining)
	assertAmount(t, 9, ledger.Entries[0].DaysUsed)
	assert.True(t, ledger.Entries[0].Shortfall.IsZero())
	assert.Equal(t, generic.RequestID("A"), ledger.Entries[1].RequestID)
	assertAmount(t, 7, ledger.Entries[1].RunningRemaining)

	// G1 fully drawn (3 + 7), G2 keeps 9.
	assertAmount(t, 9, ledger.NewGrant)
	assertAmount(t, 0, ledger.CarriedOver)
	require.NotNil(t, ledger.NextExpiry)
	assert.Equal(t, "2026-06-30", ledger.NextExpiry.String())
}

func TestReplay_CarriedOverAndNextExpiry(t *testing.T) {
	grants := []generic.Grant{
		grant("G1", "2023-07-01", "2025-06-30", 10),
		grant("G2", "2024-07-01", "2026-06-30", 11),
	}
	requests := []generic.LeaveRequest{approved("A", "2024-08-01", 4)}

	ledger := timeoff.Replay("emp-1", grants, requests)

	assertAmount(t, 6, ledger.CarriedOver)
	assertAmount(t, 11, ledger.NewGrant)
	require.NotNil(t, ledger.NextExpiry)
	assert.Equal(t, "2025-06-30", ledger.NextExpiry.String())
}

func TestReplay_IgnoresLiveRemainingFields(t *testing.T) {
	// GIVEN: The live RemainingDays field has drifted to 0
	// THEN: The replay still starts from DaysGranted

	g := grant("G1", "2023-07-01", "2025-06-30", 10)
	g.RemainingDays = generic.ZeroDays()

	ledger := timeoff.Replay("emp-1", []generic.Grant{g}, []generic.LeaveRequest{approved("A", "2024-01-10", 3)})
	assertAmount(t, 7, ledger.NewGrant)
	assertAmount(t, 7, ledger.Entries[0].RunningRemaining)
}

func TestReplay_InconsistentHistoryRecordsShortfall(t *testing.T) {
	ledger := timeoff.Replay("emp-1",
		[]generic.Grant{grant("G1", "2023-07-01", "2025-06-30", 2)},
		[]generic.LeaveRequest{approved("A", "2024-01-10", 5)})

	require.Len(t, ledger.Entries, 1)
	assertAmount(t, 3, ledger.Entries[0].Shortfall)
	assertAmount(t, -3, ledger.Entries[0].RunningRemaining)
	assert.Nil(t, ledger.NextExpiry)
}

func TestReplay_LaterGrantCoversWhenApprovedAfterIssue(t *testing.T) {
	// GIVEN: A request dated before G2 was issued, approved after G2 landed
	// THEN: The replay falls back to G2 rather than reporting a shortfall

	ledger := timeoff.Replay("emp-1",
		[]generic.Grant{
			grant("G1", "2023-07-01", "2025-06-30", 2),
			grant("G2", "2024-07-01", "2026-06-30", 11),
		},
		[]generic.LeaveRequest{approved("A", "2024-06-20", 3)})

	assert.True(t, ledger.Entries[0].Shortfall.IsZero())
	assertAmount(t, 10, ledger.NewGrant)
	assertAmount(t, 0, ledger.CarriedOver)
}

func TestReplay_BookedAheadDrawsFromGrantsActiveAtApproval(t *testing.T) {
	// GIVEN: Leave starting 2025-07-10, after G1 lapses on 2025-06-30,
	//        approved on 2025-05-01 while G1 was still active
	// THEN: The replay draws from G1 exactly as approval did

	a := approved("A", "2025-07-10", 5)
	a.DecidedOn = date("2025-05-01")

	ledger := timeoff.Replay("emp-1",
		[]generic.Grant{
			grant("G1", "2023-07-01", "2025-06-30", 10),
			grant("G2", "2024-07-01", "2026-06-30", 11),
		},
		[]generic.LeaveRequest{a})

	require.Len(t, ledger.Entries, 1)
	assert.True(t, ledger.Entries[0].Shortfall.IsZero())
	assertAmount(t, 16, ledger.Entries[0].RunningRemaining)
	assertAmount(t, 5, ledger.CarriedOver)
	assertAmount(t, 11, ledger.NewGrant)
	require.NotNil(t, ledger.NextExpiry)
	assert.Equal(t, "2025-06-30", ledger.NextExpiry.String())
}

func TestReplay_DrawsInDecisionOrder(t *testing.T) {
	// GIVEN: X starts earlier but was approved after G1 lapsed;
	//        Y starts later but was approved first, while G1 was active
	// THEN: Y drains G1 and X draws from G2

	x := approved("X", "2025-08-01", 4)
	x.DecidedOn = date("2025-07-15")
	y := approved("Y", "2025-09-01", 6)
	y.DecidedOn = date("2025-06-01")

	ledger := timeoff.Replay("emp-1",
		[]generic.Grant{
			grant("G1", "2023-07-01", "2025-06-30", 6),
			grant("G2", "2024-07-01", "2026-06-30", 11),
		},
		[]generic.LeaveRequest{x, y})

	require.Len(t, ledger.Entries, 2)
	assert.Equal(t, generic.RequestID("Y"), ledger.Entries[0].RequestID, "entries stay in start-date order")
	assert.True(t, ledger.Entries[0].Shortfall.IsZero())
	assert.True(t, ledger.Entries[1].Shortfall.IsZero())
	assertAmount(t, 0, ledger.CarriedOver)
	assertAmount(t, 7, ledger.NewGrant)
}

func TestReplay_Empty(t *testing.T) {
	ledger := timeoff.Replay("emp-1", nil, nil)
	assert.Empty(t, ledger.Entries)
	assert.True(t, ledger.NewGrant.IsZero())
	assert.True(t, ledger.CarriedOver.IsZero())
	assert.Nil(t, ledger.NextExpiry)
}

// =============================================================================
// DETERMINISM
// =============================================================================

func TestLedger_Deterministic(t *testing.T) {
	// GIVEN: The same history, loaded from the store twice
	// THEN: Byte-identical output

	_, mem := newTestEngine(t, "2024-09-01")
	seedEmployee(t, mem, "emp-1", "2023-01-01")
	seedGrant(t, mem, "G1", "emp-1", "2023-07-01", "2025-06-30", 10)
	seedGrant(t, mem, "G2", "emp-1", "2024-07-01", "2026-06-30", 11)
	for _, r := range []struct {
		id, start string
		days      float64
	}{{"A", "2024-01-10", 3}, {"B", "2024-03-01", 1}, {"C", "2024-08-01", 9}, {"D", "2024-08-01", 0.5}} {
		seedRequest(t, mem, r.id, "emp-1", r.start, r.start, r.days)
		require.NoError(t, mem.TransitionRequest(context.Background(), generic.RequestID(r.id),
			generic.RequestPending, generic.RequestApproved, date(r.start), nil))
	}

	reconstructor := timeoff.LedgerReconstructor{Source: mem}
	first, err := reconstructor.Ledger(context.Background(), "emp-1")
	require.NoError(t, err)
	second, err := reconstructor.Ledger(context.Background(), "emp-1")
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	require.Len(t, first.Entries, 4)
	assert.Equal(t, generic.RequestID("D"), first.Entries[0].RequestID, "same start date ordered by id")
	assertAmount(t, 7.5, first.Entries[0].RunningRemaining)
}

type failingSource struct{}

func (failingSource) AllGrants(context.Context, generic.EmployeeID) ([]generic.Grant, error) {
	return nil, errors.New("connection reset")
}

func (failingSource) ApprovedRequests(context.Context, generic.EmployeeID) ([]generic.LeaveRequest, error) {
	return nil, nil
}

func TestLedger_PropagatesLoadErrors(t *testing.T) {
	_, err := timeoff.LedgerReconstructor{Source: failingSource{}}.Ledger(context.Background(), "emp-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading grants")
}
