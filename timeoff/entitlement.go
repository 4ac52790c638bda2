/*
entitlement.go - Statutory entitlement schedule

PURPOSE:
  Maps tenure to paid-leave days. Grants fall on whole-month offsets from
  the hire date; each offset carries a fixed number of days.

STATUTORY TABLE:
  months after hire:  6   18   30   42   54   66   78   +12 ...
  days granted:      10   11   12   14   16   18   20   20 ...

  After the last listed offset the schedule repeats every 12 months at the
  last listed amount (the cap).

DATE ARITHMETIC:
  Offsets are calendar months added to the hire date's day of month. When
  the target month is shorter the date clamps to the month's last day:
  hired Aug 31 → first grant Feb 28 (or 29), never Mar 2/3.

VALIDITY:
  A grant is usable for ValidityYears (2 by statute) and expires the day
  before its anniversary: granted 2023-07-01 → expires 2025-06-30.

SEE ALSO:
  - issue.go: Creates grants from this schedule
  - factory/schedule.go: Loads a non-statutory schedule from JSON
*/
package timeoff

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/yukyu-ledger/generic"
)

// Step is one row of the schedule table.
type Step struct {
	OffsetMonths int
	Days         decimal.Decimal
}

// Schedule is a tenure → days table.
type Schedule struct {
	Steps             []Step // strictly ascending offsets
	RepeatEveryMonths int    // cadence after the last step
	ValidityYears     int
}

// StatutorySchedule returns the Labor Standards Act table for full-time staff.
func StatutorySchedule() Schedule {
	return Schedule{
		Steps: []Step{
			{OffsetMonths: 6, Days: decimal.NewFromInt(10)},
			{OffsetMonths: 18, Days: decimal.NewFromInt(11)},
			{OffsetMonths: 30, Days: decimal.NewFromInt(12)},
			{OffsetMonths: 42, Days: decimal.NewFromInt(14)},
			{OffsetMonths: 54, Days: decimal.NewFromInt(16)},
			{OffsetMonths: 66, Days: decimal.NewFromInt(18)},
			{OffsetMonths: 78, Days: decimal.NewFromInt(20)},
		},
		RepeatEveryMonths: 12,
		ValidityYears:     2,
	}
}

// Validate checks that the table can be walked forward forever.
func (s Schedule) Validate() error {
	if len(s.Steps) == 0 {
		return &generic.InvalidInputError{Field: "steps", Reason: "at least one step is required"}
	}
	prev := 0
	for i, st := range s.Steps {
		if st.OffsetMonths <= prev {
			return &generic.InvalidInputError{Field: "steps", Reason: fmt.Sprintf("step %d: offsets must be positive and strictly ascending", i)}
		}
		if st.Days.IsNegative() {
			return &generic.InvalidInputError{Field: "steps", Reason: fmt.Sprintf("step %d: days must not be negative", i)}
		}
		if !generic.NewAmountFromDecimal(st.Days, generic.UnitDays).FitsScale() {
			return &generic.InvalidInputError{Field: "steps", Reason: fmt.Sprintf("step %d: days allow at most %d decimal places", i, generic.AmountScale)}
		}
		prev = st.OffsetMonths
	}
	if s.RepeatEveryMonths <= 0 {
		return &generic.InvalidInputError{Field: "repeat_every_months", Reason: "must be positive"}
	}
	if s.ValidityYears <= 0 {
		return &generic.InvalidInputError{Field: "validity_years", Reason: "must be positive"}
	}
	return nil
}

// step returns the i-th point of the infinite schedule.
func (s Schedule) step(i int) Step {
	if i < len(s.Steps) {
		return s.Steps[i]
	}
	last := s.Steps[len(s.Steps)-1]
	return Step{
		OffsetMonths: last.OffsetMonths + (i-len(s.Steps)+1)*s.RepeatEveryMonths,
		Days:         last.Days,
	}
}

func (s Schedule) entitlement(hireDate generic.TimePoint, i int) Entitlement {
	st := s.step(i)
	return Entitlement{
		GrantDate:    hireDate.AddMonths(st.OffsetMonths),
		Days:         generic.NewAmountFromDecimal(st.Days, generic.UnitDays),
		OffsetMonths: st.OffsetMonths,
	}
}

// NextEntitlement returns the first scheduled grant strictly after asOf.
// A hire date after asOf yields the first step unconditionally.
func (s Schedule) NextEntitlement(hireDate, asOf generic.TimePoint) (Entitlement, error) {
	if err := checkDates(hireDate, asOf); err != nil {
		return Entitlement{}, err
	}
	if hireDate.After(asOf) {
		return s.entitlement(hireDate, 0), nil
	}
	for i := 0; ; i++ {
		e := s.entitlement(hireDate, i)
		if e.GrantDate.After(asOf) {
			return e, nil
		}
	}
}

// EntitlementAt returns the most recent grant on or before asOf. Before the
// first offset it returns a zero-day entitlement with a zero GrantDate.
func (s Schedule) EntitlementAt(hireDate, asOf generic.TimePoint) (Entitlement, error) {
	if err := checkDates(hireDate, asOf); err != nil {
		return Entitlement{}, err
	}
	current := Entitlement{Days: generic.ZeroDays()}
	for i := 0; ; i++ {
		e := s.entitlement(hireDate, i)
		if e.GrantDate.After(asOf) {
			return current, nil
		}
		current = e
	}
}

// GrantsBetween lists every scheduled grant with from <= GrantDate <= to.
func (s Schedule) GrantsBetween(hireDate, from, to generic.TimePoint) ([]Entitlement, error) {
	if err := checkDates(hireDate, from); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, &generic.InvalidInputError{Field: "to", Reason: generic.ErrInvalidPeriod.Error()}
	}
	var result []Entitlement
	for i := 0; ; i++ {
		e := s.entitlement(hireDate, i)
		if e.GrantDate.After(to) {
			return result, nil
		}
		if e.GrantDate.AfterOrEqual(from) {
			result = append(result, e)
		}
	}
}

// ExpiryFor returns the last usable day of a grant issued on grantDate.
func (s Schedule) ExpiryFor(grantDate generic.TimePoint) generic.TimePoint {
	return grantDate.AddYears(s.ValidityYears).AddDays(-1)
}

func checkDates(hireDate, asOf generic.TimePoint) error {
	if hireDate.IsZero() {
		return &generic.InvalidInputError{Field: "hire_date", Reason: "required"}
	}
	if asOf.IsZero() {
		return &generic.InvalidInputError{Field: "as_of", Reason: "required"}
	}
	return nil
}
