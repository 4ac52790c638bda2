/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic
  data for demos. Each scenario registers employees, grants leave and
  drives requests through the real approval path, so the resulting
  balances, ledgers and usage records are exactly what production would
  hold.

AVAILABLE SCENARIOS:
  statutory-basics: Hired 2023-01-01; G1/G2 grants, requests A/B/C
  veteran:          Hired 2015; two 20-day grants, half days, a rejection
  new-hire:         First grant lands at six months

HOW SCENARIOS WORK:
  1. Reset the store
  2. Build a service whose clock the loader steps through the story
  3. Register employees, issue grants, submit and decide requests

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "statutory-basics"}

NOTE:
  Loading resets the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/yukyu-ledger/generic"
	"github.com/warp/yukyu-ledger/timeoff"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "statutory-basics",
		Name:        "Statutory Basics",
		Description: "Hired 2023-01-01: 10 days at six months, 3 used, an 8-day request refused, 11 more days, 9 used across both grants",
	},
	{
		ID:          "veteran",
		Name:        "Veteran",
		Description: "Hired 2015-04-01: oldest grant already lapsed, two 20-day grants, half-day leave and a rejected request",
	},
	{
		ID:          "new-hire",
		Name:        "New Hire",
		Description: "Hired 2024-04-01: nothing before six months, then the first 10-day grant",
	},
}

// Scenarios returns the available scenarios.
func Scenarios() []ScenarioDTO {
	out := make([]ScenarioDTO, len(scenarios))
	copy(out, scenarios)
	return out
}

// ScenarioStore is a ledger store that can be wiped.
type ScenarioStore interface {
	timeoff.Store
	Reset(ctx context.Context) error
}

// ScenarioLoader resets the store and replays a scenario into it.
type ScenarioLoader struct {
	Store    ScenarioStore
	Schedule *timeoff.Schedule
	Logger   *zap.Logger

	mu      sync.Mutex
	current string
}

// NewScenarioLoader creates a loader. schedule may be nil for the
// statutory table.
func NewScenarioLoader(store ScenarioStore, schedule *timeoff.Schedule, logger *zap.Logger) *ScenarioLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScenarioLoader{Store: store, Schedule: schedule, Logger: logger}
}

// Current returns the ID of the last loaded scenario, or "".
func (l *ScenarioLoader) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Load resets the store and loads the named scenario.
func (l *ScenarioLoader) Load(ctx context.Context, id string) error {
	var load func(context.Context, *scenarioRun) error
	switch id {
	case "statutory-basics":
		load = loadStatutoryBasics
	case "veteran":
		load = loadVeteran
	case "new-hire":
		load = loadNewHire
	default:
		return &generic.NotFoundError{Kind: "scenario", ID: id}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.Store.Reset(ctx); err != nil {
		return fmt.Errorf("resetting store: %w", err)
	}
	run := &scenarioRun{}
	run.svc = timeoff.NewService(l.Store, timeoff.ServiceConfig{Schedule: l.Schedule, Clock: run.today}, l.Logger.Named("scenario"))
	if err := load(ctx, run); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}
	l.current = id
	l.Logger.Info("scenario loaded", zap.String("scenario_id", id))
	return nil
}

// scenarioRun steps a private clock through a scenario's story.
type scenarioRun struct {
	svc   *timeoff.Service
	clock generic.TimePoint
}

func (s *scenarioRun) today() generic.TimePoint { return s.clock }

func (s *scenarioRun) at(date string) { s.clock = generic.MustParseDate(date) }

func (s *scenarioRun) employee(ctx context.Context, id, name, hire string) error {
	_, err := s.svc.RegisterEmployee(ctx, generic.Employee{
		ID: generic.EmployeeID(id), Name: name, HireDate: generic.MustParseDate(hire),
	})
	return err
}

func (s *scenarioRun) grant(ctx context.Context, id, emp, grantDate string, days int64) error {
	_, err := s.svc.AddGrant(ctx, generic.Grant{
		ID:          generic.GrantID(id),
		EmployeeID:  generic.EmployeeID(emp),
		GrantDate:   generic.MustParseDate(grantDate),
		DaysGranted: generic.NewAmountFromDecimal(decimal.NewFromInt(days), generic.UnitDays),
	})
	return err
}

func (s *scenarioRun) request(ctx context.Context, id, emp, start, end, days string, leaveType generic.LeaveType) error {
	_, err := s.svc.SubmitRequest(ctx, generic.LeaveRequest{
		ID:         generic.RequestID(id),
		EmployeeID: generic.EmployeeID(emp),
		Type:       leaveType,
		Period:     generic.Period{Start: generic.MustParseDate(start), End: generic.MustParseDate(end)},
		Days:       generic.NewAmountFromDecimal(decimal.RequireFromString(days), generic.UnitDays),
	})
	return err
}

func (s *scenarioRun) approve(ctx context.Context, id string) error {
	_, err := s.svc.ApproveRequest(ctx, generic.RequestID(id))
	return err
}

// =============================================================================
// SCENARIO: statutory-basics
// =============================================================================

func loadStatutoryBasics(ctx context.Context, s *scenarioRun) error {
	const emp = "tanaka"

	s.at("2024-01-10")
	if err := s.employee(ctx, emp, "Tanaka Hanako", "2023-01-01"); err != nil {
		return err
	}
	if err := s.grant(ctx, "G1", emp, "2023-07-01", 10); err != nil {
		return err
	}
	if err := s.request(ctx, "A", emp, "2024-01-10", "2024-01-12", "3", generic.LeavePaid); err != nil {
		return err
	}
	if err := s.approve(ctx, "A"); err != nil {
		return err
	}

	// B asks for 8 with 7 left and stays pending.
	s.at("2024-02-01")
	if err := s.request(ctx, "B", emp, "2024-02-01", "2024-02-12", "8", generic.LeavePaid); err != nil {
		return err
	}
	if err := s.approve(ctx, "B"); !errors.Is(err, generic.ErrInsufficientBalance) {
		return fmt.Errorf("request B: expected insufficient balance, got %v", err)
	}

	s.at("2024-08-01")
	if err := s.grant(ctx, "G2", emp, "2024-07-01", 11); err != nil {
		return err
	}
	if err := s.request(ctx, "C", emp, "2024-08-01", "2024-08-13", "9", generic.LeavePaid); err != nil {
		return err
	}
	return s.approve(ctx, "C")
}

// =============================================================================
// SCENARIO: veteran
// =============================================================================

func loadVeteran(ctx context.Context, s *scenarioRun) error {
	const emp = "suzuki"

	s.at("2024-10-01")
	if err := s.employee(ctx, emp, "Suzuki Ichiro", "2015-04-01"); err != nil {
		return err
	}
	if _, err := s.svc.IssueDueGrants(ctx, emp, generic.TimePoint{}); err != nil {
		return err
	}

	s.at("2024-10-07")
	if err := s.request(ctx, "suzuki-autumn", emp, "2024-10-07", "2024-10-11", "5", generic.LeavePaid); err != nil {
		return err
	}
	if err := s.approve(ctx, "suzuki-autumn"); err != nil {
		return err
	}

	s.at("2024-10-15")
	if err := s.request(ctx, "suzuki-clinic", emp, "2024-10-15", "2024-10-15", "0.5", generic.LeaveHalfDay); err != nil {
		return err
	}
	if err := s.approve(ctx, "suzuki-clinic"); err != nil {
		return err
	}

	if err := s.request(ctx, "suzuki-yearend", emp, "2024-12-23", "2024-12-27", "5", generic.LeavePaid); err != nil {
		return err
	}
	reason := "year-end close"
	if err := s.svc.RejectRequest(ctx, "suzuki-yearend", &reason); err != nil {
		return err
	}
	return s.request(ctx, "suzuki-january", emp, "2025-01-06", "2025-01-07", "2", generic.LeavePaid)
}

// =============================================================================
// SCENARIO: new-hire
// =============================================================================

func loadNewHire(ctx context.Context, s *scenarioRun) error {
	const emp = "sato"

	s.at("2024-09-30")
	if err := s.employee(ctx, emp, "Sato Yui", "2024-04-01"); err != nil {
		return err
	}
	if _, err := s.svc.IssueDueGrants(ctx, emp, generic.TimePoint{}); err != nil {
		return err
	}

	s.at("2024-10-01")
	if _, err := s.svc.IssueDueGrants(ctx, emp, generic.TimePoint{}); err != nil {
		return err
	}
	if err := s.request(ctx, "sato-first", emp, "2024-10-18", "2024-10-18", "1", generic.LeavePaid); err != nil {
		return err
	}
	return s.approve(ctx, "sato-first")
}
