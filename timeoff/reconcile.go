package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/yukyu-ledger/generic"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// RECONCILIATION AUDITOR
// =============================================================================

// Discrepancy kinds.
const (
	DiscrepancyGrant        = "grant"         // granted − Σ used ≠ remaining
	DiscrepancyRequest      = "request"       // Σ used ≠ request days/hours
	DiscrepancyOrphanUsage  = "orphan_usage"  // usage for a request that isn't approved
	DiscrepancyUnknownGrant = "unknown_grant" // usage pointing at a grant that doesn't exist
)

// Discrepancy is one failed conservation check.
type Discrepancy struct {
	Kind     string
	ID       string
	Unit     generic.Unit
	Expected generic.Amount
	Actual   generic.Amount
}

// Reconciliation is the result of an audit.
type Reconciliation struct {
	EmployeeID      generic.EmployeeID
	GrantsChecked   int
	RequestsChecked int
	UsageRecords    int
	Discrepancies   []Discrepancy
}

// Balanced reports whether every check passed.
func (r Reconciliation) Balanced() bool { return len(r.Discrepancies) == 0 }

// AuditSource is the read surface the auditor needs.
type AuditSource interface {
	HistorySource
	UsageByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]generic.UsageRecord, error)
}

// Auditor checks live remaining fields against the append-only usage records.
type Auditor struct {
	Source AuditSource
}

// Reconcile verifies, per grant, daysGranted − Σ usedDays == remainingDays
// (and the hours analogue), and per approved request that its usage records
// sum to its days and hours. Differences within tolerance pass.
func (a Auditor) Reconcile(ctx context.Context, employeeID generic.EmployeeID) (Reconciliation, error) {
	var (
		grants   []generic.Grant
		requests []generic.LeaveRequest
		usage    []generic.UsageRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		grants, err = a.Source.AllGrants(gctx, employeeID)
		return wrap("loading grants", err)
	})
	g.Go(func() (err error) {
		requests, err = a.Source.ApprovedRequests(gctx, employeeID)
		return wrap("loading approved requests", err)
	})
	g.Go(func() (err error) {
		usage, err = a.Source.UsageByEmployee(gctx, employeeID)
		return wrap("loading usage records", err)
	})
	if err := g.Wait(); err != nil {
		return Reconciliation{}, err
	}

	result := Reconciliation{
		EmployeeID:      employeeID,
		GrantsChecked:   len(grants),
		RequestsChecked: len(requests),
		UsageRecords:    len(usage),
	}

	type sums struct{ days, hours generic.Amount }
	byGrant := make(map[generic.GrantID]*sums, len(grants))
	byRequest := make(map[generic.RequestID]*sums, len(requests))
	for _, gr := range grants {
		byGrant[gr.ID] = &sums{generic.ZeroDays(), generic.ZeroHours()}
	}
	for _, r := range requests {
		byRequest[r.ID] = &sums{generic.ZeroDays(), generic.ZeroHours()}
	}

	for _, u := range usage {
		if s, ok := byGrant[u.GrantID]; ok {
			s.days = s.days.Add(u.UsedDays)
			s.hours = s.hours.Add(u.UsedHours)
		} else {
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				Kind: DiscrepancyUnknownGrant, ID: string(u.ID), Unit: generic.UnitDays,
				Expected: generic.ZeroDays(), Actual: u.UsedDays,
			})
		}
		if s, ok := byRequest[u.LeaveRequestID]; ok {
			s.days = s.days.Add(u.UsedDays)
			s.hours = s.hours.Add(u.UsedHours)
		} else {
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				Kind: DiscrepancyOrphanUsage, ID: string(u.ID), Unit: generic.UnitDays,
				Expected: generic.ZeroDays(), Actual: u.UsedDays,
			})
		}
	}

	// Iterate the slices, not the maps, so the report order is stable.
	for _, gr := range grants {
		s := byGrant[gr.ID]
		result.Discrepancies = appendMismatch(result.Discrepancies, DiscrepancyGrant, string(gr.ID),
			gr.DaysGranted.Sub(s.days), orZero(gr.RemainingDays, generic.UnitDays))
		result.Discrepancies = appendMismatch(result.Discrepancies, DiscrepancyGrant, string(gr.ID),
			orZero(gr.HoursGranted, generic.UnitHours).Sub(s.hours), orZero(gr.RemainingHours, generic.UnitHours))
	}
	for _, r := range requests {
		s := byRequest[r.ID]
		result.Discrepancies = appendMismatch(result.Discrepancies, DiscrepancyRequest, string(r.ID),
			orZero(r.Days, generic.UnitDays), s.days)
		result.Discrepancies = appendMismatch(result.Discrepancies, DiscrepancyRequest, string(r.ID),
			orZero(r.Hours, generic.UnitHours), s.hours)
	}
	return result, nil
}

func appendMismatch(list []Discrepancy, kind, id string, expected, actual generic.Amount) []Discrepancy {
	if expected.Sub(actual).WithinTolerance() {
		return list
	}
	unit := expected.Unit
	if unit == "" {
		unit = actual.Unit
	}
	return append(list, Discrepancy{Kind: kind, ID: id, Unit: unit, Expected: expected, Actual: actual})
}

func wrap(msg string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return nil
}
