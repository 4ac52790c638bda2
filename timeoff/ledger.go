/*
ledger.go - Ledger reconstructor

PURPOSE:
  Rebuilds an employee's running-balance history from the full grant and
  approved-request history. Grants start from DaysGranted, never from
  their live Remaining fields, so the replay stays correct even if those
  fields drift.

REPLAY:
  The draw-down repeats what approval did: requests are consumed in the
  order they were decided (decidedOn, startDate, id). For a request decided
  on D the eligible grants are those with grantDate <= D and expiresOn >= D,
  drawn in (expiresOn, grantDate) order. Leave booked ahead therefore draws
  from the grants that were active at approval, even if they lapse before
  the leave starts. Whatever the eligible grants cannot cover falls back to
  grants issued after D that are still valid on D. Anything left after that
  is recorded as the entry's Shortfall; the ledger never fails on
  inconsistent history. A request without a decision date (recorded before
  decisions were dated) is treated as decided on its start date.

  Entries are then listed in (startDate, id) order with
  runningRemaining = Σ daysGranted (grantDate <= S) − Σ days of requests
                     up to and including this one

SUMMARY:
  NewGrant     replay remaining of the chronologically last grant
  CarriedOver  replay remaining of every earlier grant (expired included)
  NextExpiry   soonest expiresOn among grants with replay remaining > 0

  Output is deterministic: identical history gives identical output.

SEE ALSO:
  - allocate.go: Shared FIFO draw
  - reconcile.go: Checks the live fields against the usage records
*/
package timeoff

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/yukyu-ledger/generic"
	"golang.org/x/sync/errgroup"
)

// LedgerEntry is one approved request with the balance after it.
type LedgerEntry struct {
	RequestID        generic.RequestID
	Type             generic.LeaveType
	Period           generic.Period
	DaysUsed         generic.Amount
	HoursUsed        generic.Amount
	RunningRemaining generic.Amount
	// Shortfall is non-zero only when the history itself is inconsistent.
	Shortfall generic.Amount
}

// Ledger is the reconstructed history, newest entry first.
type Ledger struct {
	EmployeeID  generic.EmployeeID
	Entries     []LedgerEntry
	CarriedOver generic.Amount
	NewGrant    generic.Amount
	NextExpiry  *generic.TimePoint
}

// HistorySource is the read surface the reconstructor needs.
type HistorySource interface {
	AllGrants(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Grant, error)
	ApprovedRequests(ctx context.Context, employeeID generic.EmployeeID) ([]generic.LeaveRequest, error)
}

// LedgerReconstructor replays history. It never mutates stored data.
type LedgerReconstructor struct {
	Source HistorySource
}

// Ledger loads grants and approved requests concurrently and replays them.
func (r LedgerReconstructor) Ledger(ctx context.Context, employeeID generic.EmployeeID) (Ledger, error) {
	var (
		grants   []generic.Grant
		requests []generic.LeaveRequest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		grants, err = r.Source.AllGrants(gctx, employeeID)
		if err != nil {
			return fmt.Errorf("loading grants: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		requests, err = r.Source.ApprovedRequests(gctx, employeeID)
		if err != nil {
			return fmt.Errorf("loading approved requests: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Ledger{}, err
	}
	return Replay(employeeID, grants, requests), nil
}

type replayBucket struct {
	grant generic.Grant
	days  decimal.Decimal
	hours decimal.Decimal
}

// Replay is the pure draw-down. Inputs are re-sorted so callers may pass
// them in any order.
func Replay(employeeID generic.EmployeeID, grants []generic.Grant, requests []generic.LeaveRequest) Ledger {
	buckets := make([]*replayBucket, len(grants))
	for i, g := range grants {
		buckets[i] = &replayBucket{grant: g, days: g.DaysGranted.Value, hours: g.HoursGranted.Value}
	}
	sort.SliceStable(buckets, func(i, j int) bool {
		a, b := buckets[i].grant, buckets[j].grant
		if !a.GrantDate.Equal(b.GrantDate) {
			return a.GrantDate.Before(b.GrantDate)
		}
		return a.ID < b.ID
	})

	decided := append([]generic.LeaveRequest(nil), requests...)
	sort.SliceStable(decided, func(i, j int) bool {
		a, b := decided[i], decided[j]
		if da, db := decisionDate(a), decisionDate(b); !da.Equal(db) {
			return da.Before(db)
		}
		if !a.Period.Start.Equal(b.Period.Start) {
			return a.Period.Start.Before(b.Period.Start)
		}
		return a.ID < b.ID
	})

	shortfall := make(map[generic.RequestID]decimal.Decimal, len(decided))
	for _, req := range decided {
		eligible, fallback := candidates(buckets, decisionDate(req))
		residualDays := drawBuckets(eligible, req.Days.Value, func(b *replayBucket) *decimal.Decimal { return &b.days })
		residualDays = drawBuckets(fallback, residualDays, func(b *replayBucket) *decimal.Decimal { return &b.days })
		residualHours := drawBuckets(eligible, req.Hours.Value, func(b *replayBucket) *decimal.Decimal { return &b.hours })
		drawBuckets(fallback, residualHours, func(b *replayBucket) *decimal.Decimal { return &b.hours })
		shortfall[req.ID] = residualDays
	}

	ordered := append([]generic.LeaveRequest(nil), requests...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.Period.Start.Equal(b.Period.Start) {
			return a.Period.Start.Before(b.Period.Start)
		}
		return a.ID < b.ID
	})

	entries := make([]LedgerEntry, 0, len(ordered))
	cumulativeUsed := decimal.Zero
	for _, req := range ordered {
		start := req.Period.Start
		days := req.Days.Value
		hours := req.Hours.Value

		granted := decimal.Zero
		for _, b := range buckets {
			if b.grant.GrantDate.BeforeOrEqual(start) {
				granted = granted.Add(b.grant.DaysGranted.Value)
			}
		}
		cumulativeUsed = cumulativeUsed.Add(days)

		entries = append(entries, LedgerEntry{
			RequestID:        req.ID,
			Type:             req.Type,
			Period:           req.Period,
			DaysUsed:         generic.NewAmountFromDecimal(days, generic.UnitDays),
			HoursUsed:        generic.NewAmountFromDecimal(hours, generic.UnitHours),
			RunningRemaining: generic.NewAmountFromDecimal(granted.Sub(cumulativeUsed), generic.UnitDays),
			Shortfall:        generic.NewAmountFromDecimal(shortfall[req.ID], generic.UnitDays),
		})
	}

	// Newest first for display.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	ledger := Ledger{
		EmployeeID:  employeeID,
		Entries:     entries,
		CarriedOver: generic.ZeroDays(),
		NewGrant:    generic.ZeroDays(),
	}
	for i, b := range buckets {
		remaining := generic.NewAmountFromDecimal(b.days, generic.UnitDays)
		if i == len(buckets)-1 {
			ledger.NewGrant = remaining
		} else {
			ledger.CarriedOver = ledger.CarriedOver.Add(remaining)
		}
		if remaining.IsPositive() && (ledger.NextExpiry == nil || b.grant.ExpiresOn.Before(*ledger.NextExpiry)) {
			exp := b.grant.ExpiresOn
			ledger.NextExpiry = &exp
		}
	}
	return ledger
}

func decisionDate(req generic.LeaveRequest) generic.TimePoint {
	if req.DecidedOn.IsZero() {
		return req.Period.Start
	}
	return req.DecidedOn
}

// candidates splits the grants active on the given day into those issued
// on or before it and those issued later, each in FIFO order.
func candidates(buckets []*replayBucket, on generic.TimePoint) (eligible, fallback []*replayBucket) {
	for _, b := range buckets {
		if !b.grant.IsActive(on) {
			continue
		}
		if b.grant.GrantDate.BeforeOrEqual(on) {
			eligible = append(eligible, b)
		} else {
			fallback = append(fallback, b)
		}
	}
	fifo := func(list []*replayBucket) {
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i].grant, list[j].grant
			if !a.ExpiresOn.Equal(b.ExpiresOn) {
				return a.ExpiresOn.Before(b.ExpiresOn)
			}
			if !a.GrantDate.Equal(b.GrantDate) {
				return a.GrantDate.Before(b.GrantDate)
			}
			return a.ID < b.ID
		})
	}
	fifo(eligible)
	fifo(fallback)
	return eligible, fallback
}

func drawBuckets(list []*replayBucket, need decimal.Decimal, field func(*replayBucket) *decimal.Decimal) decimal.Decimal {
	if !need.IsPositive() || len(list) == 0 {
		return need
	}
	available := make([]decimal.Decimal, len(list))
	for i, b := range list {
		available[i] = *field(b)
	}
	takes, residual := draw(available, need)
	for i, b := range list {
		p := field(b)
		*p = p.Sub(takes[i])
	}
	return residual
}
