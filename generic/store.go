/*
store.go - Persistence interfaces for grants, requests and usage records

PURPOSE:
  Defines the narrow interface between the ledger core and the database.
  Grant creation and request submission belong to the surrounding
  application; the core reads grants and requests, decrements grant
  balances, appends usage records and moves a request out of pending.

KEY INTERFACES:
  GrantStore:        Grant reads (active / all) and guarded balance writes
  RequestStore:      Request reads and the single pending→decided transition
  UsageStore:        Append-only usage records
  EmployeeDirectory: Read-only hire dates from the external directory
  TxStore:           All of the above inside one atomic unit of work

ORDERING CONTRACT:
  ActiveGrants:     expiresOn >= asOf, ascending (expiresOn, grantDate, id)
  AllGrants:        ascending (grantDate, id), includes expired/exhausted
  ApprovedRequests: ascending (startDate, id)

GUARDED WRITES:
  UpdateGrantBalance and TransitionRequest are conditional writes. The first
  only succeeds when the stored Version equals the version that was read;
  the second only when the stored status equals the expected one. A miss
  returns ErrConcurrentModification so the caller can retry the whole
  transaction against fresh state.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go: SQLite (optimistic, version column)
  - store/postgres/postgres.go: PostgreSQL (SERIALIZABLE + FOR UPDATE)

SEE ALSO:
  - timeoff/consumption.go: The only writer of grant balances
*/
package generic

import "context"

// =============================================================================
// STORES
// =============================================================================

// GrantStore reads and updates grants.
type GrantStore interface {
	// ActiveGrants returns grants with ExpiresOn >= asOf, FIFO ordered.
	ActiveGrants(ctx context.Context, employeeID EmployeeID, asOf TimePoint) ([]Grant, error)

	// AllGrants returns every grant ever issued, ordered by GrantDate.
	AllGrants(ctx context.Context, employeeID EmployeeID) ([]Grant, error)

	// CreateGrant inserts a grant. Returns ErrDuplicate if the employee
	// already has a grant on the same GrantDate.
	CreateGrant(ctx context.Context, grant Grant) error

	// UpdateGrantBalance writes RemainingDays/RemainingHours when the stored
	// version equals grant.Version. Returns ErrConcurrentModification otherwise.
	UpdateGrantBalance(ctx context.Context, grant Grant) error
}

// RequestStore reads leave requests and records decisions.
type RequestStore interface {
	// GetRequest returns ErrNotFound when the request doesn't exist.
	GetRequest(ctx context.Context, id RequestID) (LeaveRequest, error)

	// ApprovedRequests returns the employee's approved requests by start date.
	ApprovedRequests(ctx context.Context, employeeID EmployeeID) ([]LeaveRequest, error)

	// CreateRequest inserts a request (status as given, normally pending).
	CreateRequest(ctx context.Context, req LeaveRequest) error

	// TransitionRequest moves a request from `from` to `to`, recording the
	// decision date and note. Returns ErrConcurrentModification when the
	// stored status is not `from`.
	TransitionRequest(ctx context.Context, id RequestID, from, to RequestStatus, decidedOn TimePoint, note *string) error
}

// UsageStore is append-only. No Update, no Delete.
type UsageStore interface {
	AppendUsage(ctx context.Context, records []UsageRecord) error
	UsageByRequest(ctx context.Context, requestID RequestID) ([]UsageRecord, error)
	UsageByEmployee(ctx context.Context, employeeID EmployeeID) ([]UsageRecord, error)
}

// EmployeeDirectory is the read-only view of the external employee directory.
type EmployeeDirectory interface {
	// GetEmployee returns ErrNotFound when the employee doesn't exist.
	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)
}

// Store bundles everything the ledger core reads and writes.
type Store interface {
	GrantStore
	RequestStore
	UsageStore
	EmployeeDirectory
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
// Use this when you need atomic operations (e.g., approving a request).
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed. A commit that fails
	// because of a concurrent writer returns ErrConcurrentModification.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// EmployeeLister is implemented by stores that can enumerate employees.
// The grant scheduler needs it; the ledger core does not.
type EmployeeLister interface {
	ListEmployees(ctx context.Context) ([]Employee, error)
	SaveEmployee(ctx context.Context, emp Employee) error
}
