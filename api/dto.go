/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Request bodies take decimal.Decimal so "0.5" and 0.5 both parse exactly.
  Responses render amounts as JSON numbers.

DATES:
  Always YYYY-MM-DD strings.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"
	"github.com/warp/yukyu-ledger/generic"
	"github.com/warp/yukyu-ledger/timeoff"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	HireDate string `json:"hire_date"`
}

// CreateEmployeeRequest is the request to register an employee.
type CreateEmployeeRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	HireDate string `json:"hire_date"`
}

// =============================================================================
// GRANTS
// =============================================================================

// GrantDTO represents a grant in API responses.
type GrantDTO struct {
	ID             string  `json:"id"`
	EmployeeID     string  `json:"employee_id"`
	GrantDate      string  `json:"grant_date"`
	ExpiresOn      string  `json:"expires_on"`
	DaysGranted    float64 `json:"days_granted"`
	HoursGranted   float64 `json:"hours_granted"`
	RemainingDays  float64 `json:"remaining_days"`
	RemainingHours float64 `json:"remaining_hours"`
}

// CreateGrantRequest either issues scheduled grants (empty body or as_of
// only) or records one explicit grant (grant_date set).
type CreateGrantRequest struct {
	AsOf      string          `json:"as_of,omitempty"`
	ID        string          `json:"id,omitempty"`
	GrantDate string          `json:"grant_date,omitempty"`
	ExpiresOn string          `json:"expires_on,omitempty"`
	Days      decimal.Decimal `json:"days"`
	Hours     decimal.Decimal `json:"hours"`
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

// SubmitRequest is the body of POST /api/employees/{id}/requests.
type SubmitRequest struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type,omitempty"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	Days      decimal.Decimal `json:"days"`
	Hours     decimal.Decimal `json:"hours"`
	Note      *string         `json:"note,omitempty"`
}

// RejectRequest is the optional body of POST /api/requests/{id}/reject.
type RejectRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// RequestDTO represents a leave request in API responses.
type RequestDTO struct {
	ID         string  `json:"id"`
	EmployeeID string  `json:"employee_id"`
	Type       string  `json:"type"`
	StartDate  string  `json:"start_date"`
	EndDate    string  `json:"end_date"`
	Days       float64 `json:"days"`
	Hours      float64 `json:"hours"`
	Status     string  `json:"status"`
	Note       *string `json:"note,omitempty"`
	DecidedOn  *string `json:"decided_on,omitempty"`
}

// AllocationDTO is one grant's share of an approved request.
type AllocationDTO struct {
	GrantID   string  `json:"grant_id"`
	UsedDays  float64 `json:"used_days"`
	UsedHours float64 `json:"used_hours"`
}

// ApprovalDTO is the response to a successful approval.
type ApprovalDTO struct {
	RequestID   string          `json:"request_id"`
	EmployeeID  string          `json:"employee_id"`
	Status      string          `json:"status"`
	Allocations []AllocationDTO `json:"allocations"`
}

// =============================================================================
// BALANCES AND ENTITLEMENTS
// =============================================================================

// EntitlementDTO is the next scheduled grant.
type EntitlementDTO struct {
	GrantDate    string  `json:"grant_date"`
	Days         float64 `json:"days"`
	OffsetMonths int     `json:"offset_months"`
}

// BalanceDTO is the spendable pool on a date.
type BalanceDTO struct {
	EmployeeID string  `json:"employee_id"`
	AsOf       string  `json:"as_of"`
	TotalDays  float64 `json:"total_days"`
	TotalHours float64 `json:"total_hours"`
}

// ExpiringDTO lists grants lapsing inside a window.
type ExpiringDTO struct {
	EmployeeID    string     `json:"employee_id"`
	AsOf          string     `json:"as_of"`
	WindowDays    int        `json:"window_days"`
	TotalDays     float64    `json:"total_days"`
	SoonestExpiry *string    `json:"soonest_expiry"`
	Grants        []GrantDTO `json:"grants"`
}

// =============================================================================
// LEDGER AND RECONCILIATION
// =============================================================================

// LedgerEntryDTO is one approved request in the history.
type LedgerEntryDTO struct {
	RequestID        string   `json:"request_id"`
	Type             string   `json:"type"`
	StartDate        string   `json:"start_date"`
	EndDate          string   `json:"end_date"`
	DaysUsed         float64  `json:"days_used"`
	HoursUsed        float64  `json:"hours_used"`
	RunningRemaining float64  `json:"running_remaining"`
	Shortfall        *float64 `json:"shortfall,omitempty"`
}

// LedgerDTO is the reconstructed history, newest first.
type LedgerDTO struct {
	EmployeeID  string           `json:"employee_id"`
	Entries     []LedgerEntryDTO `json:"entries"`
	CarriedOver float64          `json:"carried_over"`
	NewGrant    float64          `json:"new_grant"`
	NextExpiry  *string          `json:"next_expiry"`
}

// DiscrepancyDTO is one failed audit check.
type DiscrepancyDTO struct {
	Kind     string  `json:"kind"`
	ID       string  `json:"id"`
	Unit     string  `json:"unit"`
	Expected float64 `json:"expected"`
	Actual   float64 `json:"actual"`
}

// ReconciliationDTO is the audit result.
type ReconciliationDTO struct {
	EmployeeID      string           `json:"employee_id"`
	Balanced        bool             `json:"balanced"`
	GrantsChecked   int              `json:"grants_checked"`
	RequestsChecked int              `json:"requests_checked"`
	UsageRecords    int              `json:"usage_records"`
	Discrepancies   []DiscrepancyDTO `json:"discrepancies"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEmployeeDTO(e generic.Employee) EmployeeDTO {
	return EmployeeDTO{ID: string(e.ID), Name: e.Name, HireDate: e.HireDate.String()}
}

func toGrantDTO(g generic.Grant) GrantDTO {
	return GrantDTO{
		ID:             string(g.ID),
		EmployeeID:     string(g.EmployeeID),
		GrantDate:      g.GrantDate.String(),
		ExpiresOn:      g.ExpiresOn.String(),
		DaysGranted:    g.DaysGranted.InexactFloat64(),
		HoursGranted:   g.HoursGranted.InexactFloat64(),
		RemainingDays:  g.RemainingDays.InexactFloat64(),
		RemainingHours: g.RemainingHours.InexactFloat64(),
	}
}

func toGrantDTOs(grants []generic.Grant) []GrantDTO {
	out := make([]GrantDTO, len(grants))
	for i, g := range grants {
		out[i] = toGrantDTO(g)
	}
	return out
}

func toRequestDTO(r generic.LeaveRequest) RequestDTO {
	dto := RequestDTO{
		ID:         string(r.ID),
		EmployeeID: string(r.EmployeeID),
		Type:       string(r.Type),
		StartDate:  r.Period.Start.String(),
		EndDate:    r.Period.End.String(),
		Days:       r.Days.InexactFloat64(),
		Hours:      r.Hours.InexactFloat64(),
		Status:     string(r.Status),
		Note:       r.Note,
	}
	if !r.DecidedOn.IsZero() {
		dto.DecidedOn = datePtr(&r.DecidedOn)
	}
	return dto
}

func toApprovalDTO(res timeoff.ApprovalResult) ApprovalDTO {
	allocs := make([]AllocationDTO, len(res.Allocations))
	for i, a := range res.Allocations {
		allocs[i] = AllocationDTO{
			GrantID:   string(a.GrantID),
			UsedDays:  a.UsedDays.InexactFloat64(),
			UsedHours: a.UsedHours.InexactFloat64(),
		}
	}
	return ApprovalDTO{
		RequestID:   string(res.RequestID),
		EmployeeID:  string(res.EmployeeID),
		Status:      string(generic.RequestApproved),
		Allocations: allocs,
	}
}

func toLedgerDTO(l timeoff.Ledger) LedgerDTO {
	entries := make([]LedgerEntryDTO, len(l.Entries))
	for i, e := range l.Entries {
		entries[i] = LedgerEntryDTO{
			RequestID:        string(e.RequestID),
			Type:             string(e.Type),
			StartDate:        e.Period.Start.String(),
			EndDate:          e.Period.End.String(),
			DaysUsed:         e.DaysUsed.InexactFloat64(),
			HoursUsed:        e.HoursUsed.InexactFloat64(),
			RunningRemaining: e.RunningRemaining.InexactFloat64(),
		}
		if e.Shortfall.IsPositive() {
			s := e.Shortfall.InexactFloat64()
			entries[i].Shortfall = &s
		}
	}
	return LedgerDTO{
		EmployeeID:  string(l.EmployeeID),
		Entries:     entries,
		CarriedOver: l.CarriedOver.InexactFloat64(),
		NewGrant:    l.NewGrant.InexactFloat64(),
		NextExpiry:  datePtr(l.NextExpiry),
	}
}

func toReconciliationDTO(r timeoff.Reconciliation) ReconciliationDTO {
	discrepancies := make([]DiscrepancyDTO, len(r.Discrepancies))
	for i, d := range r.Discrepancies {
		discrepancies[i] = DiscrepancyDTO{
			Kind:     d.Kind,
			ID:       d.ID,
			Unit:     string(d.Unit),
			Expected: d.Expected.InexactFloat64(),
			Actual:   d.Actual.InexactFloat64(),
		}
	}
	return ReconciliationDTO{
		EmployeeID:      string(r.EmployeeID),
		Balanced:        r.Balanced(),
		GrantsChecked:   r.GrantsChecked,
		RequestsChecked: r.RequestsChecked,
		UsageRecords:    r.UsageRecords,
		Discrepancies:   discrepancies,
	}
}

func datePtr(t *generic.TimePoint) *string {
	if t == nil {
		return nil
	}
	s := t.String()
	return &s
}
