package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/yukyu-ledger/generic"
)

// =============================================================================
// BALANCE AGGREGATOR - Read-only sums over active grants
// =============================================================================

// BalanceAggregator sums live remaining fields. It never writes.
type BalanceAggregator struct {
	Grants generic.GrantStore
}

// Balance sums RemainingDays and RemainingHours over grants active on asOf.
func (a BalanceAggregator) Balance(ctx context.Context, employeeID generic.EmployeeID, asOf generic.TimePoint) (Balance, error) {
	grants, err := a.Grants.ActiveGrants(ctx, employeeID, asOf)
	if err != nil {
		return Balance{}, fmt.Errorf("loading active grants: %w", err)
	}
	days, hours := sumRemaining(grants)
	return Balance{EmployeeID: employeeID, AsOf: asOf, TotalDays: days, TotalHours: hours}, nil
}

// ExpiringSoon returns active grants with remaining days that expire on or
// before asOf+windowDays, soonest first.
func (a BalanceAggregator) ExpiringSoon(ctx context.Context, employeeID generic.EmployeeID, asOf generic.TimePoint, windowDays int) (ExpiringSummary, error) {
	if windowDays < 0 {
		return ExpiringSummary{}, &generic.InvalidInputError{Field: "window_days", Reason: "must not be negative"}
	}
	grants, err := a.Grants.ActiveGrants(ctx, employeeID, asOf)
	if err != nil {
		return ExpiringSummary{}, fmt.Errorf("loading active grants: %w", err)
	}

	window := generic.Period{Start: asOf, End: asOf.AddDays(windowDays)}
	summary := ExpiringSummary{
		EmployeeID: employeeID,
		AsOf:       asOf,
		WindowDays: windowDays,
		TotalDays:  generic.ZeroDays(),
	}
	// ActiveGrants is already ordered by expiresOn.
	for _, g := range grants {
		if !g.RemainingDays.IsPositive() || !window.Contains(g.ExpiresOn) {
			continue
		}
		summary.Grants = append(summary.Grants, g)
		summary.TotalDays = summary.TotalDays.Add(g.RemainingDays)
		if summary.SoonestExpiry == nil {
			soonest := g.ExpiresOn
			summary.SoonestExpiry = &soonest
		}
	}
	return summary, nil
}
