// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/yukyu-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	employees map[generic.EmployeeID]generic.Employee
	grants    map[generic.GrantID]generic.Grant
	requests  map[generic.RequestID]generic.LeaveRequest
	usage     []generic.UsageRecord
}

func NewMemory() *Memory {
	return &Memory{
		employees: make(map[generic.EmployeeID]generic.Employee),
		grants:    make(map[generic.GrantID]generic.Grant),
		requests:  make(map[generic.RequestID]generic.LeaveRequest),
	}
}

// view performs the actual reads and writes. The caller holds the lock.
type view struct {
	m *Memory
}

// =============================================================================
// LOCKED ENTRY POINTS (generic.Store)
// =============================================================================

func (m *Memory) ActiveGrants(ctx context.Context, employeeID generic.EmployeeID, asOf generic.TimePoint) ([]generic.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.ActiveGrants(ctx, employeeID, asOf)
}

func (m *Memory) AllGrants(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.AllGrants(ctx, employeeID)
}

func (m *Memory) CreateGrant(ctx context.Context, grant generic.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.CreateGrant(ctx, grant)
}

func (m *Memory) UpdateGrantBalance(ctx context.Context, grant generic.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.UpdateGrantBalance(ctx, grant)
}

func (m *Memory) GetRequest(ctx context.Context, id generic.RequestID) (generic.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.GetRequest(ctx, id)
}

func (m *Memory) ApprovedRequests(ctx context.Context, employeeID generic.EmployeeID) ([]generic.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.ApprovedRequests(ctx, employeeID)
}

func (m *Memory) CreateRequest(ctx context.Context, req generic.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.CreateRequest(ctx, req)
}

func (m *Memory) TransitionRequest(ctx context.Context, id generic.RequestID, from, to generic.RequestStatus, decidedOn generic.TimePoint, note *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.TransitionRequest(ctx, id, from, to, decidedOn, note)
}

func (m *Memory) AppendUsage(ctx context.Context, records []generic.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.AppendUsage(ctx, records)
}

func (m *Memory) UsageByRequest(ctx context.Context, requestID generic.RequestID) ([]generic.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.UsageByRequest(ctx, requestID)
}

func (m *Memory) UsageByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]generic.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.UsageByEmployee(ctx, employeeID)
}

func (m *Memory) GetEmployee(ctx context.Context, id generic.EmployeeID) (generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.GetEmployee(ctx, id)
}

// SaveEmployee inserts or replaces a directory entry.
func (m *Memory) SaveEmployee(_ context.Context, emp generic.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[emp.ID] = emp
	return nil
}

// ListEmployees returns all employees ordered by ID.
func (m *Memory) ListEmployees(_ context.Context) ([]generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]generic.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Reset deletes all data. Used by the scenario loader.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees = make(map[generic.EmployeeID]generic.Employee)
	m.grants = make(map[generic.GrantID]generic.Grant)
	m.requests = make(map[generic.RequestID]generic.LeaveRequest)
	m.usage = nil
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn while holding the write lock.
// Simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(view{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	grants   map[generic.GrantID]generic.Grant
	requests map[generic.RequestID]generic.LeaveRequest
	usage    []generic.UsageRecord
}

func (m *Memory) snapshot() memorySnapshot {
	grants := make(map[generic.GrantID]generic.Grant, len(m.grants))
	for k, v := range m.grants {
		grants[k] = v
	}
	requests := make(map[generic.RequestID]generic.LeaveRequest, len(m.requests))
	for k, v := range m.requests {
		requests[k] = v
	}
	return memorySnapshot{
		grants:   grants,
		requests: requests,
		usage:    append([]generic.UsageRecord{}, m.usage...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.grants = s.grants
	m.requests = s.requests
	m.usage = s.usage
}

// =============================================================================
// VIEW - Unlocked implementation shared by both paths
// =============================================================================

func (v view) ActiveGrants(_ context.Context, employeeID generic.EmployeeID, asOf generic.TimePoint) ([]generic.Grant, error) {
	var result []generic.Grant
	for _, g := range v.m.grants {
		if g.EmployeeID == employeeID && g.IsActive(asOf) {
			result = append(result, g)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.ExpiresOn.Equal(b.ExpiresOn) {
			return a.ExpiresOn.Before(b.ExpiresOn)
		}
		if !a.GrantDate.Equal(b.GrantDate) {
			return a.GrantDate.Before(b.GrantDate)
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (v view) AllGrants(_ context.Context, employeeID generic.EmployeeID) ([]generic.Grant, error) {
	var result []generic.Grant
	for _, g := range v.m.grants {
		if g.EmployeeID == employeeID {
			result = append(result, g)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.GrantDate.Equal(b.GrantDate) {
			return a.GrantDate.Before(b.GrantDate)
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (v view) CreateGrant(_ context.Context, grant generic.Grant) error {
	if _, ok := v.m.grants[grant.ID]; ok {
		return generic.ErrDuplicate
	}
	for _, g := range v.m.grants {
		if g.EmployeeID == grant.EmployeeID && g.GrantDate.Equal(grant.GrantDate) {
			return generic.ErrDuplicate
		}
	}
	v.m.grants[grant.ID] = grant
	return nil
}

func (v view) UpdateGrantBalance(_ context.Context, grant generic.Grant) error {
	stored, ok := v.m.grants[grant.ID]
	if !ok {
		return &generic.NotFoundError{Kind: "grant", ID: string(grant.ID)}
	}
	if stored.Version != grant.Version {
		return generic.ErrConcurrentModification
	}
	stored.RemainingDays = grant.RemainingDays
	stored.RemainingHours = grant.RemainingHours
	stored.Version++
	v.m.grants[grant.ID] = stored
	return nil
}

func (v view) GetRequest(_ context.Context, id generic.RequestID) (generic.LeaveRequest, error) {
	r, ok := v.m.requests[id]
	if !ok {
		return generic.LeaveRequest{}, &generic.NotFoundError{Kind: "request", ID: string(id)}
	}
	return r, nil
}

func (v view) ApprovedRequests(_ context.Context, employeeID generic.EmployeeID) ([]generic.LeaveRequest, error) {
	var result []generic.LeaveRequest
	for _, r := range v.m.requests {
		if r.EmployeeID == employeeID && r.Status == generic.RequestApproved {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Period.Start.Equal(b.Period.Start) {
			return a.Period.Start.Before(b.Period.Start)
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (v view) CreateRequest(_ context.Context, req generic.LeaveRequest) error {
	if _, ok := v.m.requests[req.ID]; ok {
		return generic.ErrDuplicate
	}
	if req.Note != nil {
		n := *req.Note
		req.Note = &n
	}
	v.m.requests[req.ID] = req
	return nil
}

func (v view) TransitionRequest(_ context.Context, id generic.RequestID, from, to generic.RequestStatus, decidedOn generic.TimePoint, note *string) error {
	r, ok := v.m.requests[id]
	if !ok {
		return &generic.NotFoundError{Kind: "request", ID: string(id)}
	}
	if r.Status != from {
		return generic.ErrConcurrentModification
	}
	r.Status = to
	r.DecidedOn = decidedOn
	if note != nil {
		n := *note
		r.Note = &n
	}
	v.m.requests[id] = r
	return nil
}

func (v view) AppendUsage(_ context.Context, records []generic.UsageRecord) error {
	v.m.usage = append(v.m.usage, records...)
	return nil
}

func (v view) UsageByRequest(_ context.Context, requestID generic.RequestID) ([]generic.UsageRecord, error) {
	var result []generic.UsageRecord
	for _, u := range v.m.usage {
		if u.LeaveRequestID == requestID {
			result = append(result, u)
		}
	}
	return result, nil
}

func (v view) UsageByEmployee(_ context.Context, employeeID generic.EmployeeID) ([]generic.UsageRecord, error) {
	var result []generic.UsageRecord
	for _, u := range v.m.usage {
		if u.EmployeeID == employeeID {
			result = append(result, u)
		}
	}
	return result, nil
}

func (v view) GetEmployee(_ context.Context, id generic.EmployeeID) (generic.Employee, error) {
	e, ok := v.m.employees[id]
	if !ok {
		return generic.Employee{}, &generic.NotFoundError{Kind: "employee", ID: string(id)}
	}
	return e, nil
}

// Compile-time checks
var (
	_ generic.TxStore        = (*Memory)(nil)
	_ generic.EmployeeLister = (*Memory)(nil)
	_ generic.Store          = view{}
)
