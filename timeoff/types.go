// Package timeoff implements the statutory paid-leave (yūkyū) ledger.
// It computes tenure-based entitlements, consumes grants oldest-expiry-first
// and reconstructs an auditable running-balance history.
package timeoff

import (
	"github.com/warp/yukyu-ledger/generic"
)

// Clock returns the current calendar date. Tests pin it.
type Clock func() generic.TimePoint

// SystemClock is the production clock.
func SystemClock() generic.TimePoint { return generic.Today() }

// FixedClock returns a clock frozen at t.
func FixedClock(t generic.TimePoint) Clock {
	return func() generic.TimePoint { return t }
}

// Store is everything the service needs from a backend: the transactional
// ledger store plus employee enumeration for the grant scheduler.
type Store interface {
	generic.TxStore
	generic.EmployeeLister
}

// =============================================================================
// RESULT TYPES
// =============================================================================

// Entitlement is one point on the statutory schedule.
type Entitlement struct {
	GrantDate    generic.TimePoint
	Days         generic.Amount
	OffsetMonths int
}

// Allocation is the share of a request drawn from a single grant.
type Allocation struct {
	GrantID   generic.GrantID
	UsedDays  generic.Amount
	UsedHours generic.Amount
}

// ApprovalResult describes a committed approval.
type ApprovalResult struct {
	RequestID   generic.RequestID
	EmployeeID  generic.EmployeeID
	Allocations []Allocation
	Attempts    int
}

// Balance is the spendable pool as of a date.
type Balance struct {
	EmployeeID generic.EmployeeID
	AsOf       generic.TimePoint
	TotalDays  generic.Amount
	TotalHours generic.Amount
}

// ExpiringSummary lists grants with remaining days that lapse inside a window.
type ExpiringSummary struct {
	EmployeeID    generic.EmployeeID
	AsOf          generic.TimePoint
	WindowDays    int
	TotalDays     generic.Amount
	SoonestExpiry *generic.TimePoint // nil when nothing expires in the window
	Grants        []generic.Grant
}
