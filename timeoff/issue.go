package timeoff

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/yukyu-ledger/generic"
	"go.uber.org/zap"
)

// =============================================================================
// GRANT ISSUER - The administrative action that creates grants
// =============================================================================

// IssuerStore is what the issuer reads and writes.
type IssuerStore interface {
	generic.EmployeeDirectory
	AllGrants(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Grant, error)
	CreateGrant(ctx context.Context, grant generic.Grant) error
}

// Issuer creates the grants an employee's tenure entitles them to.
type Issuer struct {
	Store    IssuerStore
	Schedule Schedule
	Logger   *zap.Logger
	NewID    func() string
}

// NewIssuer creates an issuer with uuid grant IDs.
func NewIssuer(store IssuerStore, schedule Schedule, logger *zap.Logger) *Issuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Issuer{Store: store, Schedule: schedule, Logger: logger, NewID: uuid.NewString}
}

// IssueDue creates every scheduled grant dated on or before asOf that is
// still valid on asOf and not yet recorded. Running it twice is a no-op.
func (i *Issuer) IssueDue(ctx context.Context, employeeID generic.EmployeeID, asOf generic.TimePoint) ([]generic.Grant, error) {
	emp, err := i.Store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if asOf.Before(emp.HireDate) {
		return nil, nil
	}
	due, err := i.Schedule.GrantsBetween(emp.HireDate, emp.HireDate, asOf)
	if err != nil {
		return nil, err
	}

	existing, err := i.Store.AllGrants(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("loading grants: %w", err)
	}
	recorded := make(map[string]bool, len(existing))
	for _, g := range existing {
		recorded[g.GrantDate.String()] = true
	}

	var created []generic.Grant
	for _, ent := range due {
		expires := i.Schedule.ExpiryFor(ent.GrantDate)
		if recorded[ent.GrantDate.String()] || expires.Before(asOf) {
			continue
		}
		grant := generic.Grant{
			ID:             generic.GrantID(i.NewID()),
			EmployeeID:     employeeID,
			GrantDate:      ent.GrantDate,
			ExpiresOn:      expires,
			DaysGranted:    ent.Days,
			HoursGranted:   generic.ZeroHours(),
			RemainingDays:  ent.Days,
			RemainingHours: generic.ZeroHours(),
		}
		if err := i.Store.CreateGrant(ctx, grant); err != nil {
			if errors.Is(err, generic.ErrDuplicate) {
				// Issued concurrently by another caller.
				continue
			}
			return created, fmt.Errorf("creating grant for %s: %w", ent.GrantDate, err)
		}
		i.Logger.Info("grant issued",
			zap.String("employee_id", string(employeeID)),
			zap.String("grant_id", string(grant.ID)),
			zap.String("grant_date", grant.GrantDate.String()),
			zap.String("days", grant.DaysGranted.Value.String()),
		)
		created = append(created, grant)
	}
	return created, nil
}
