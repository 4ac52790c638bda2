/*
allocate.go - FIFO allocation across grants

PURPOSE:
  Pure functions that decide how a request is split across grants. No I/O;
  the consumption engine persists the plan, the ledger reconstructor replays
  the same draw-down over historical data.

ORDER:
  Grants are consumed in the order given. Callers pass them sorted
  ascending by (expiresOn, grantDate, id), which is the order
  GrantStore.ActiveGrants returns.

TWO POOLS:
  Days and hours are drawn independently. 8 remaining hours never cover a
  day shortfall and vice versa.
*/
package timeoff

import (
	"github.com/shopspring/decimal"
	"github.com/warp/yukyu-ledger/generic"
)

// Plan is the outcome of one FIFO pass.
type Plan struct {
	Allocations []Allocation
	// Grants holds only the drawn grants, with Remaining fields decremented
	// and Version untouched (stores compare it on write).
	Grants        []generic.Grant
	ResidualDays  generic.Amount
	ResidualHours generic.Amount
}

// Covered reports whether both residuals are within tolerance.
func (p Plan) Covered() bool {
	return p.ResidualDays.WithinTolerance() && p.ResidualHours.WithinTolerance()
}

// CheckSufficiency compares the request against the summed active pool.
// Days are checked before hours.
func CheckSufficiency(employeeID generic.EmployeeID, grants []generic.Grant, days, hours generic.Amount) error {
	totalDays, totalHours := sumRemaining(grants)
	if totalDays.LessThan(days) {
		return &generic.InsufficientBalanceError{
			EmployeeID: employeeID,
			Unit:       generic.UnitDays,
			Available:  totalDays,
			Requested:  days,
			Shortfall:  days.Sub(totalDays),
		}
	}
	if totalHours.LessThan(hours) {
		return &generic.InsufficientBalanceError{
			EmployeeID: employeeID,
			Unit:       generic.UnitHours,
			Available:  totalHours,
			Requested:  hours,
			Shortfall:  hours.Sub(totalHours),
		}
	}
	return nil
}

// PlanFIFO draws days and hours from grants in order.
func PlanFIFO(grants []generic.Grant, days, hours generic.Amount) Plan {
	remDays := make([]decimal.Decimal, len(grants))
	remHours := make([]decimal.Decimal, len(grants))
	for i, g := range grants {
		remDays[i] = g.RemainingDays.Value
		remHours[i] = g.RemainingHours.Value
	}
	takeDays, residualDays := draw(remDays, days.Value)
	takeHours, residualHours := draw(remHours, hours.Value)

	plan := Plan{
		ResidualDays:  generic.NewAmountFromDecimal(residualDays, generic.UnitDays),
		ResidualHours: generic.NewAmountFromDecimal(residualHours, generic.UnitHours),
	}
	for i, g := range grants {
		if !takeDays[i].IsPositive() && !takeHours[i].IsPositive() {
			continue
		}
		usedDays := generic.NewAmountFromDecimal(takeDays[i], generic.UnitDays)
		usedHours := generic.NewAmountFromDecimal(takeHours[i], generic.UnitHours)
		plan.Allocations = append(plan.Allocations, Allocation{GrantID: g.ID, UsedDays: usedDays, UsedHours: usedHours})

		g.RemainingDays = g.RemainingDays.Sub(usedDays)
		g.RemainingHours = g.RemainingHours.Sub(usedHours)
		plan.Grants = append(plan.Grants, g)
	}
	return plan
}

// draw takes need from the buckets front to back. It returns the amount taken
// from each bucket and whatever could not be covered.
func draw(buckets []decimal.Decimal, need decimal.Decimal) ([]decimal.Decimal, decimal.Decimal) {
	takes := make([]decimal.Decimal, len(buckets))
	for i, available := range buckets {
		if !need.IsPositive() {
			takes[i] = decimal.Zero
			continue
		}
		take := decimal.Min(need, available)
		if take.IsNegative() {
			take = decimal.Zero
		}
		takes[i] = take
		need = need.Sub(take)
	}
	if need.IsNegative() {
		need = decimal.Zero
	}
	return takes, need
}

func sumRemaining(grants []generic.Grant) (generic.Amount, generic.Amount) {
	days, hours := generic.ZeroDays(), generic.ZeroHours()
	for _, g := range grants {
		days = days.Add(g.RemainingDays)
		hours = hours.Add(g.RemainingHours)
	}
	return days, hours
}
