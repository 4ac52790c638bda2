/*
service.go - Operations exposed to the surrounding application

PURPOSE:
  One facade over the ledger core. Transports (api/) and jobs
  (api/scheduler.go) call these; nothing outside timeoff touches the
  engine, aggregator or reconstructor directly.

OPERATIONS:
  ComputeNextEntitlement(hireDate, asOf)        → Entitlement
  GetBalance(employee, asOf)                    → Balance
  GetExpiringGrants(employee, asOf, windowDays) → ExpiringSummary
  ApproveRequest(request)                       → ApprovalResult
  RejectRequest(request, reason)
  GetLedger(employee)                           → Ledger

  Administrative extras: RegisterEmployee, GetEmployee, ListEmployees,
  SubmitRequest, GetRequest, AddGrant, ListGrants, IssueDueGrants, Reconcile.

Employee-scoped reads check the directory first so an unknown employee is
a NotFoundError rather than an empty balance.
*/
package timeoff

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/yukyu-ledger/generic"
	"go.uber.org/zap"
)

// ServiceConfig tunes the service. Zero values pick defaults.
type ServiceConfig struct {
	Schedule   *Schedule // nil = StatutorySchedule()
	MaxRetries int       // 0 = DefaultMaxRetries
	Clock      Clock     // nil = SystemClock
}

// Service wires the ledger components over one store.
type Service struct {
	store    Store
	schedule Schedule
	clock    Clock
	logger   *zap.Logger

	balances BalanceAggregator
	engine   *Engine
	ledger   LedgerReconstructor
	auditor  Auditor
	issuer   *Issuer
}

// NewService creates the service.
func NewService(store Store, cfg ServiceConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	schedule := StatutorySchedule()
	if cfg.Schedule != nil {
		schedule = *cfg.Schedule
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}

	engine := NewEngine(store, logger.Named("engine"))
	engine.Clock = clock
	if cfg.MaxRetries > 0 {
		engine.MaxRetries = cfg.MaxRetries
	}

	return &Service{
		store:    store,
		schedule: schedule,
		clock:    clock,
		logger:   logger,
		balances: BalanceAggregator{Grants: store},
		engine:   engine,
		ledger:   LedgerReconstructor{Source: store},
		auditor:  Auditor{Source: store},
		issuer:   NewIssuer(store, schedule, logger.Named("issuer")),
	}
}

// Schedule returns the entitlement table in use.
func (s *Service) Schedule() Schedule { return s.schedule }

// Today returns the service clock's date.
func (s *Service) Today() generic.TimePoint { return s.clock() }

// =============================================================================
// CORE OPERATIONS
// =============================================================================

func (s *Service) ComputeNextEntitlement(hireDate, asOf generic.TimePoint) (Entitlement, error) {
	return s.schedule.NextEntitlement(hireDate, asOf)
}

func (s *Service) GetBalance(ctx context.Context, employeeID generic.EmployeeID, asOf generic.TimePoint) (Balance, error) {
	if err := s.requireEmployee(ctx, employeeID); err != nil {
		return Balance{}, err
	}
	return s.balances.Balance(ctx, employeeID, s.dateOrToday(asOf))
}

func (s *Service) GetExpiringGrants(ctx context.Context, employeeID generic.EmployeeID, asOf generic.TimePoint, windowDays int) (ExpiringSummary, error) {
	if err := s.requireEmployee(ctx, employeeID); err != nil {
		return ExpiringSummary{}, err
	}
	return s.balances.ExpiringSoon(ctx, employeeID, s.dateOrToday(asOf), windowDays)
}

func (s *Service) ApproveRequest(ctx context.Context, requestID generic.RequestID) (ApprovalResult, error) {
	return s.engine.Approve(ctx, requestID)
}

func (s *Service) RejectRequest(ctx context.Context, requestID generic.RequestID, reason *string) error {
	return s.engine.Reject(ctx, requestID, reason)
}

func (s *Service) GetLedger(ctx context.Context, employeeID generic.EmployeeID) (Ledger, error) {
	if err := s.requireEmployee(ctx, employeeID); err != nil {
		return Ledger{}, err
	}
	return s.ledger.Ledger(ctx, employeeID)
}

// =============================================================================
// ADMINISTRATIVE OPERATIONS
// =============================================================================

// RegisterEmployee records an employee in the directory.
func (s *Service) RegisterEmployee(ctx context.Context, emp generic.Employee) (generic.Employee, error) {
	if emp.ID == "" {
		emp.ID = generic.EmployeeID(uuid.NewString())
	}
	if emp.HireDate.IsZero() {
		return generic.Employee{}, &generic.InvalidInputError{Field: "hire_date", Reason: "required"}
	}
	if err := s.store.SaveEmployee(ctx, emp); err != nil {
		return generic.Employee{}, fmt.Errorf("saving employee: %w", err)
	}
	return emp, nil
}

// GetEmployee returns a directory entry.
func (s *Service) GetEmployee(ctx context.Context, employeeID generic.EmployeeID) (generic.Employee, error) {
	return s.store.GetEmployee(ctx, employeeID)
}

// ListGrants returns every grant of the employee, expired ones included,
// ordered by grant date.
func (s *Service) ListGrants(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Grant, error) {
	if err := s.requireEmployee(ctx, employeeID); err != nil {
		return nil, err
	}
	return s.store.AllGrants(ctx, employeeID)
}

// ListEmployees returns every employee in the directory.
func (s *Service) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	return s.store.ListEmployees(ctx)
}

// SubmitRequest validates and stores a new pending request.
func (s *Service) SubmitRequest(ctx context.Context, req generic.LeaveRequest) (generic.LeaveRequest, error) {
	if req.ID == "" {
		req.ID = generic.RequestID(uuid.NewString())
	}
	if req.Type == "" {
		req.Type = generic.LeavePaid
	}
	req.Days = orZero(req.Days, generic.UnitDays)
	req.Hours = orZero(req.Hours, generic.UnitHours)
	req.Status = generic.RequestPending
	if err := req.Validate(); err != nil {
		return generic.LeaveRequest{}, err
	}
	if err := s.requireEmployee(ctx, req.EmployeeID); err != nil {
		return generic.LeaveRequest{}, err
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return generic.LeaveRequest{}, fmt.Errorf("creating request: %w", err)
	}
	s.logger.Info("leave request submitted",
		zap.String("request_id", string(req.ID)),
		zap.String("employee_id", string(req.EmployeeID)),
		zap.Stringer("period", req.Period),
	)
	return req, nil
}

// GetRequest returns a request by ID.
func (s *Service) GetRequest(ctx context.Context, requestID generic.RequestID) (generic.LeaveRequest, error) {
	return s.store.GetRequest(ctx, requestID)
}

// IssueDueGrants creates the scheduled grants the employee is owed on asOf.
func (s *Service) IssueDueGrants(ctx context.Context, employeeID generic.EmployeeID, asOf generic.TimePoint) ([]generic.Grant, error) {
	return s.issuer.IssueDue(ctx, employeeID, s.dateOrToday(asOf))
}

// AddGrant records a grant directly, bypassing the schedule. Expiry
// defaults to the schedule's validity.
func (s *Service) AddGrant(ctx context.Context, grant generic.Grant) (generic.Grant, error) {
	if grant.ID == "" {
		grant.ID = generic.GrantID(uuid.NewString())
	}
	if grant.ExpiresOn.IsZero() && !grant.GrantDate.IsZero() {
		grant.ExpiresOn = s.schedule.ExpiryFor(grant.GrantDate)
	}
	grant.DaysGranted = orZero(grant.DaysGranted, generic.UnitDays)
	grant.HoursGranted = orZero(grant.HoursGranted, generic.UnitHours)
	grant.RemainingDays = grant.DaysGranted
	grant.RemainingHours = grant.HoursGranted
	grant.Version = 0
	if err := grant.Validate(); err != nil {
		return generic.Grant{}, err
	}
	if err := s.requireEmployee(ctx, grant.EmployeeID); err != nil {
		return generic.Grant{}, err
	}
	if err := s.store.CreateGrant(ctx, grant); err != nil {
		return generic.Grant{}, fmt.Errorf("creating grant: %w", err)
	}
	return grant, nil
}

// Reconcile audits the live balances against usage records.
func (s *Service) Reconcile(ctx context.Context, employeeID generic.EmployeeID) (Reconciliation, error) {
	if err := s.requireEmployee(ctx, employeeID); err != nil {
		return Reconciliation{}, err
	}
	rec, err := s.auditor.Reconcile(ctx, employeeID)
	if err != nil {
		return Reconciliation{}, err
	}
	if !rec.Balanced() {
		s.logger.Error("ledger reconciliation failed",
			zap.String("incident", "data_integrity"),
			zap.String("employee_id", string(employeeID)),
			zap.Int("discrepancies", len(rec.Discrepancies)),
		)
	}
	return rec, nil
}

func (s *Service) requireEmployee(ctx context.Context, employeeID generic.EmployeeID) error {
	_, err := s.store.GetEmployee(ctx, employeeID)
	return err
}

func (s *Service) dateOrToday(t generic.TimePoint) generic.TimePoint {
	if t.IsZero() {
		return s.clock()
	}
	return t
}
