/*
consumption.go - FIFO consumption engine

PURPOSE:
  The only writer of grant balances. Approving a request validates the
  active pool, splits the request across grants oldest-expiry-first and
  commits every write as one transaction.

APPROVE (inside one TxStore.WithTx):
  1. Load request; must be pending            → InvalidStateError
  2. Load ActiveGrants(employee, today)
  3. Σ remaining >= requested (days, then hours) → InsufficientBalanceError
  4. PlanFIFO; residual > 0.01                 → FragmentationError
  5. UpdateGrantBalance for every drawn grant (version-guarded)
  6. AppendUsage, one record per drawn grant
  7. TransitionRequest pending → approved on today (status-guarded)

  Any error rolls the whole transaction back. A reader sees the request
  pending with grants untouched, or approved with every record present.

CONCURRENCY:
  Two approvals racing on the same employee both read the same grant
  versions. The loser's guarded write (or the store's serialization check
  at commit) fails with ErrConcurrentModification and the whole
  transaction is retried against fresh state, up to MaxRetries attempts.
  On the retry it re-validates sufficiency, so the pair can never overspend.
  A double-click on the same request fails its retry with InvalidStateError.

SEE ALSO:
  - allocate.go: The pure FIFO plan
  - generic/store.go: Guarded write contract
*/
package timeoff

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/yukyu-ledger/generic"
	"go.uber.org/zap"
)

// DefaultMaxRetries bounds conflict retries of a single decision.
const DefaultMaxRetries = 3

// Engine approves and rejects leave requests.
type Engine struct {
	Store      generic.TxStore
	Clock      Clock
	Logger     *zap.Logger
	MaxRetries int
	NewID      func() string
	// Planner splits a request across grants. Defaults to PlanFIFO.
	Planner func(grants []generic.Grant, days, hours generic.Amount) Plan
}

// NewEngine creates an engine with the system clock and default retries.
func NewEngine(store generic.TxStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Store:      store,
		Clock:      SystemClock,
		Logger:     logger,
		MaxRetries: DefaultMaxRetries,
		NewID:      uuid.NewString,
		Planner:    PlanFIFO,
	}
}

// Approve consumes the request's days and hours from the employee's active
// grants and marks it approved.
func (e *Engine) Approve(ctx context.Context, requestID generic.RequestID) (ApprovalResult, error) {
	var result ApprovalResult
	attempts, err := e.retry(ctx, requestID, "approve", func(store generic.Store) error {
		r, err := e.approveOnce(ctx, store, requestID)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return ApprovalResult{}, err
	}
	result.Attempts = attempts
	e.Logger.Info("leave request approved",
		zap.String("request_id", string(requestID)),
		zap.String("employee_id", string(result.EmployeeID)),
		zap.Int("grants_drawn", len(result.Allocations)),
		zap.Int("attempts", attempts),
	)
	return result, nil
}

// Reject marks a pending request rejected. No grant is touched.
func (e *Engine) Reject(ctx context.Context, requestID generic.RequestID, reason *string) error {
	_, err := e.retry(ctx, requestID, "reject", func(store generic.Store) error {
		req, err := store.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			return &generic.InvalidStateError{RequestID: requestID, Status: req.Status, Operation: "reject"}
		}
		return store.TransitionRequest(ctx, requestID, generic.RequestPending, generic.RequestRejected, e.Clock(), reason)
	})
	if err != nil {
		return err
	}
	e.Logger.Info("leave request rejected", zap.String("request_id", string(requestID)))
	return nil
}

func (e *Engine) approveOnce(ctx context.Context, store generic.Store, requestID generic.RequestID) (ApprovalResult, error) {
	req, err := store.GetRequest(ctx, requestID)
	if err != nil {
		return ApprovalResult{}, err
	}
	if req.Status.IsTerminal() {
		return ApprovalResult{}, &generic.InvalidStateError{RequestID: requestID, Status: req.Status, Operation: "approve"}
	}

	today := e.Clock()
	grants, err := store.ActiveGrants(ctx, req.EmployeeID, today)
	if err != nil {
		return ApprovalResult{}, fmt.Errorf("loading active grants: %w", err)
	}

	days := orZero(req.Days, generic.UnitDays)
	hours := orZero(req.Hours, generic.UnitHours)
	if err := CheckSufficiency(req.EmployeeID, grants, days, hours); err != nil {
		return ApprovalResult{}, err
	}

	planner := e.Planner
	if planner == nil {
		planner = PlanFIFO
	}
	plan := planner(grants, days, hours)
	if !plan.Covered() {
		ferr := fragmentation(requestID, plan)
		e.Logger.Error("allocation left residual after sufficiency check",
			zap.String("incident", "data_integrity"),
			zap.String("request_id", string(requestID)),
			zap.String("employee_id", string(req.EmployeeID)),
			zap.String("unit", string(ferr.Unit)),
			zap.String("residual", ferr.Residual.Value.String()),
		)
		return ApprovalResult{}, ferr
	}

	for _, g := range plan.Grants {
		if err := store.UpdateGrantBalance(ctx, g); err != nil {
			return ApprovalResult{}, fmt.Errorf("updating grant %s: %w", g.ID, err)
		}
	}

	records := make([]generic.UsageRecord, 0, len(plan.Allocations))
	for _, a := range plan.Allocations {
		records = append(records, generic.UsageRecord{
			ID:             generic.UsageID(e.NewID()),
			LeaveRequestID: requestID,
			GrantID:        a.GrantID,
			EmployeeID:     req.EmployeeID,
			UsedDays:       a.UsedDays,
			UsedHours:      a.UsedHours,
		})
	}
	if err := store.AppendUsage(ctx, records); err != nil {
		return ApprovalResult{}, fmt.Errorf("appending usage records: %w", err)
	}

	if err := store.TransitionRequest(ctx, requestID, generic.RequestPending, generic.RequestApproved, today, nil); err != nil {
		return ApprovalResult{}, fmt.Errorf("approving request: %w", err)
	}

	return ApprovalResult{RequestID: requestID, EmployeeID: req.EmployeeID, Allocations: plan.Allocations}, nil
}

// retry runs fn in a transaction, re-running it while it fails with a
// retryable error. It returns the number of attempts made.
func (e *Engine) retry(ctx context.Context, requestID generic.RequestID, op string, fn func(generic.Store) error) (int, error) {
	maxAttempts := e.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := e.Store.WithTx(ctx, fn)
		if err == nil {
			return attempt, nil
		}
		if !generic.IsRetryable(err) {
			return attempt, err
		}
		var conflict *generic.ConflictError
		if errors.As(err, &conflict) {
			return attempt, err
		}
		e.Logger.Warn("concurrent modification, retrying",
			zap.String("operation", op),
			zap.String("request_id", string(requestID)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
	}
	return maxAttempts, &generic.ConflictError{Resource: "request", ID: string(requestID), Attempts: maxAttempts}
}

func fragmentation(requestID generic.RequestID, plan Plan) *generic.FragmentationError {
	if !plan.ResidualDays.WithinTolerance() {
		return &generic.FragmentationError{RequestID: requestID, Unit: generic.UnitDays, Residual: plan.ResidualDays}
	}
	return &generic.FragmentationError{RequestID: requestID, Unit: generic.UnitHours, Residual: plan.ResidualHours}
}

func orZero(a generic.Amount, unit generic.Unit) generic.Amount {
	if a.Unit == "" {
		a.Unit = unit
	}
	return a
}
