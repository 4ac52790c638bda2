/*
Package generic provides the shared types for the paid-leave ledger.

PURPOSE:
  This package contains the value types, the persisted data model and the
  storage contracts used by the ledger core (timeoff) and by every store
  implementation (memory, sqlite, postgres). It holds no business rules.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 5 days, 4 hours)
  - Grant: A dated bucket of leave days with its own expiration
  - LeaveRequest: A request to consume leave, pending until decided
  - UsageRecord: The immutable link between an approved request and a grant
  - Employee: The read-only directory view (id + hire date)

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Type Safety: Strong typing for IDs prevents mixing employee/grant IDs
  3. Canonical IDs: A grant has exactly one identifier (Grant.ID); stores
     normalize whatever their schema calls it at the boundary
  4. Two pools: days and hours are never converted into each other

USAGE:
  grant := generic.Grant{
      ID:            "g-1",
      EmployeeID:    "emp-123",
      GrantDate:     generic.NewTimePoint(2023, time.July, 1),
      ExpiresOn:     generic.NewTimePoint(2025, time.June, 30),
      DaysGranted:   generic.Days(10),
      RemainingDays: generic.Days(10),
  }

SEE ALSO:
  - errors.go: Error taxonomy
  - store.go: Persistence interfaces
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitDays  Unit = "days"
	UnitHours Unit = "hours"
)

// Tolerance is the residual below which an allocation counts as fully covered.
var Tolerance = decimal.RequireFromString("0.01")

// AmountScale is the number of decimal places every store keeps.
const AmountScale = 3

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

func Days(value float64) Amount  { return Amount{Value: decimal.NewFromFloat(value), Unit: UnitDays} }
func Hours(value float64) Amount { return Amount{Value: decimal.NewFromFloat(value), Unit: UnitHours} }

func ZeroDays() Amount  { return Amount{Value: decimal.Zero, Unit: UnitDays} }
func ZeroHours() Amount { return Amount{Value: decimal.Zero, Unit: UnitHours} }

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) String() string            { return a.Value.String() + " " + string(a.Unit) }
func (a Amount) InexactFloat64() float64   { return a.Value.InexactFloat64() }

// FitsScale reports whether a has at most AmountScale decimal places.
func (a Amount) FitsScale() bool {
	return a.Value.Equal(a.Value.Truncate(AmountScale))
}

// WithinTolerance reports whether |a| <= Tolerance.
func (a Amount) WithinTolerance() bool {
	return a.Value.Abs().LessThanOrEqual(Tolerance)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type GrantID string
type RequestID string
type UsageID string

// =============================================================================
// EMPLOYEE - Owned by the external directory, read-only here
// =============================================================================

type Employee struct {
	ID       EmployeeID
	Name     string
	HireDate TimePoint
}

// =============================================================================
// GRANT - A dated bucket of leave with its own expiration
// =============================================================================

// Grant is one accrual cycle's worth of paid leave.
//
// INVARIANTS:
//   - 0 <= RemainingDays <= DaysGranted
//   - 0 <= RemainingHours <= HoursGranted
//   - ExpiresOn > GrantDate
//
// DaysGranted never changes after creation. Remaining fields are mutated
// only by the consumption engine. Grants are never deleted.
type Grant struct {
	ID             GrantID
	EmployeeID     EmployeeID
	GrantDate      TimePoint
	ExpiresOn      TimePoint
	DaysGranted    Amount
	HoursGranted   Amount
	RemainingDays  Amount
	RemainingHours Amount

	// Version is bumped on every remaining-balance write. Stores use it to
	// detect a stale read at commit time.
	Version int64
}

// IsActive reports whether the grant can still be drawn from on asOf.
func (g Grant) IsActive(asOf TimePoint) bool {
	return g.ExpiresOn.AfterOrEqual(asOf)
}

// Validate checks the structural invariants of a grant.
func (g Grant) Validate() error {
	if g.EmployeeID == "" {
		return &InvalidInputError{Field: "employee_id", Reason: "required"}
	}
	if g.GrantDate.IsZero() || g.ExpiresOn.IsZero() {
		return &InvalidInputError{Field: "grant_date", Reason: "grant and expiry dates are required"}
	}
	if !g.ExpiresOn.After(g.GrantDate) {
		return &InvalidInputError{Field: "expires_on", Reason: "must be after grant date"}
	}
	if g.DaysGranted.IsNegative() || g.HoursGranted.IsNegative() {
		return &InvalidInputError{Field: "days_granted", Reason: "must not be negative"}
	}
	if !g.DaysGranted.FitsScale() || !g.HoursGranted.FitsScale() {
		return &InvalidInputError{Field: "days_granted", Reason: "at most 3 decimal places"}
	}
	if g.RemainingDays.IsNegative() || g.RemainingDays.GreaterThan(g.DaysGranted) {
		return &InvalidInputError{Field: "remaining_days", Reason: "must be within [0, days_granted]"}
	}
	if g.RemainingHours.IsNegative() || g.RemainingHours.GreaterThan(g.HoursGranted) {
		return &InvalidInputError{Field: "remaining_hours", Reason: "must be within [0, hours_granted]"}
	}
	return nil
}

// =============================================================================
// LEAVE REQUEST
// =============================================================================

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// IsTerminal returns true once a decision has been recorded.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestApproved || s == RequestRejected
}

type LeaveType string

const (
	LeavePaid    LeaveType = "paid"
	LeaveHalfDay LeaveType = "half_day"
	LeaveHourly  LeaveType = "hourly"
	LeaveSpecial LeaveType = "special"
)

type LeaveRequest struct {
	ID         RequestID
	EmployeeID EmployeeID
	Type       LeaveType
	Period     Period
	Days       Amount
	Hours      Amount
	Status     RequestStatus
	Note       *string

	// DecidedOn is the business date the request was approved or rejected.
	// Zero while pending.
	DecidedOn TimePoint
}

// Validate checks the request's own fields; it does not look at balances.
func (r LeaveRequest) Validate() error {
	if r.EmployeeID == "" {
		return &InvalidInputError{Field: "employee_id", Reason: "required"}
	}
	if r.Period.Start.IsZero() || r.Period.End.IsZero() {
		return &InvalidInputError{Field: "start_date", Reason: "start and end dates are required"}
	}
	if r.Period.End.Before(r.Period.Start) {
		return &InvalidInputError{Field: "end_date", Reason: ErrInvalidPeriod.Error()}
	}
	if r.Days.IsNegative() || r.Hours.IsNegative() {
		return &InvalidInputError{Field: "days", Reason: "durations must not be negative"}
	}
	if !r.Days.FitsScale() || !r.Hours.FitsScale() {
		return &InvalidInputError{Field: "days", Reason: "durations allow at most 3 decimal places"}
	}
	if r.Days.IsZero() && r.Hours.IsZero() {
		return &InvalidInputError{Field: "days", Reason: "request must cover at least some days or hours"}
	}
	return nil
}

// =============================================================================
// USAGE RECORD - Byproduct of approval, never updated or deleted
// =============================================================================

type UsageRecord struct {
	ID             UsageID
	LeaveRequestID RequestID
	GrantID        GrantID
	EmployeeID     EmployeeID
	UsedDays       Amount
	UsedHours      Amount
}
