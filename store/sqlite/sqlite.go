/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore and generic.EmployeeLister on database/sql with
  mattn/go-sqlite3. Used by the demo server and by tests (":memory:").

KEY TABLES:
  employees:      Directory view (id, name, hire_date)
  grants:         One row per accrual cycle, version column for optimistic locking
  leave_requests: Pending/approved/rejected requests
  usage_records:  Append-only links between approved requests and grants

APPEND-ONLY ENFORCEMENT:
  usage_records has a BEFORE UPDATE trigger that aborts. The store exposes
  no update or delete for it.

GUARDED WRITES:
  UPDATE grants ... WHERE id = ? AND version = ?
  UPDATE leave_requests ... WHERE id = ? AND status = ?
  Zero rows affected → generic.ErrConcurrentModification.

ENCODING:
  Decimals are stored as TEXT (exact), dates as YYYY-MM-DD TEXT so that
  lexical order equals chronological order in ORDER BY.

CONCURRENCY:
  sync.RWMutex serializes writers in-process, and the pool is limited to a
  single connection: every ":memory:" connection is its own database, and
  SQLite allows one writer at a time anyway. Methods on the transactional
  view never re-enter the mutex.

USAGE:
  store, err := sqlite.New("./data/yukyu.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - store/postgres: Multi-process deployment with row locks
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/yukyu-ledger/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		hire_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grants (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		grant_date TEXT NOT NULL,
		expires_on TEXT NOT NULL,
		days_granted TEXT NOT NULL,
		hours_granted TEXT NOT NULL DEFAULT '0',
		remaining_days TEXT NOT NULL,
		remaining_hours TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		UNIQUE (employee_id, grant_date),
		CHECK (expires_on > grant_date)
	);

	-- FIFO hot path: active grants by expiry
	CREATE INDEX IF NOT EXISTS idx_grants_employee_expiry
		ON grants(employee_id, expires_on, grant_date);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		leave_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		days TEXT NOT NULL,
		hours TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
		note TEXT,
		decided_on TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee_status
		ON leave_requests(employee_id, status, start_date);

	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		leave_request_id TEXT NOT NULL REFERENCES leave_requests(id),
		grant_id TEXT NOT NULL REFERENCES grants(id),
		employee_id TEXT NOT NULL,
		used_days TEXT NOT NULL,
		used_hours TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_request ON usage_records(leave_request_id);
	CREATE INDEX IF NOT EXISTS idx_usage_employee ON usage_records(employee_id);

	CREATE TRIGGER IF NOT EXISTS usage_records_append_only
		BEFORE UPDATE ON usage_records
	BEGIN
		SELECT RAISE(ABORT, 'usage_records is append-only');
	END;
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	// Databases created before decided_on existed.
	return s.addColumnIfMissing("leave_requests", "decided_on", "TEXT")
}

func (s *Store) addColumnIfMissing(table, column, decl string) error {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	if count > 0 {
		return nil
	}
	_, err = s.db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + column + ` ` + decl)
	return err
}

// =============================================================================
// QUERIER - *sql.DB and *sql.Tx share one implementation
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// view runs every query against q. It holds no lock of its own.
type view struct {
	q querier
}

// =============================================================================
// LOCKED ENTRY POINTS (generic.Store interface)
// =============================================================================

func (s *Store) ActiveGrants(ctx context.Context, employeeID generic.EmployeeID, asOf generic.TimePoint) ([]generic.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s.db}.ActiveGrants(ctx, employeeID, asOf)
}

func (s *Store) AllGrants(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s.db}.AllGrants(ctx, employeeID)
}

func (s *Store) CreateGrant(ctx context.Context, grant generic.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.db}.CreateGrant(ctx, grant)
}

func (s *Store) UpdateGrantBalance(ctx context.Context, grant generic.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.db}.UpdateGrantBalance(ctx, grant)
}

func (s *Store) GetRequest(ctx context.Context, id generic.RequestID) (generic.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s.db}.GetRequest(ctx, id)
}

func (s *Store) ApprovedRequests(ctx context.Context, employeeID generic.EmployeeID) ([]generic.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s.db}.ApprovedRequests(ctx, employeeID)
}

func (s *Store) CreateRequest(ctx context.Context, req generic.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.db}.CreateRequest(ctx, req)
}

func (s *Store) TransitionRequest(ctx context.Context, id generic.RequestID, from, to generic.RequestStatus, decidedOn generic.TimePoint, note *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.db}.TransitionRequest(ctx, id, from, to, decidedOn, note)
}

func (s *Store) AppendUsage(ctx context.Context, records []generic.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.db}.AppendUsage(ctx, records)
}

func (s *Store) UsageByRequest(ctx context.Context, requestID generic.RequestID) ([]generic.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s.db}.UsageByRequest(ctx, requestID)
}

func (s *Store) UsageByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]generic.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s.db}.UsageByEmployee(ctx, employeeID)
}

func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s.db}.GetEmployee(ctx, id)
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(view{sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		if isBusyError(err) {
			return fmt.Errorf("commit: %w", generic.ErrConcurrentModification)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// GRANTS
// =============================================================================

const grantColumns = `id, employee_id, grant_date, expires_on, days_granted, hours_granted,
	remaining_days, remaining_hours, version`

func (v view) ActiveGrants(ctx context.Context, employeeID generic.EmployeeID, asOf generic.TimePoint) ([]generic.Grant, error) {
	query := `SELECT ` + grantColumns + `
		FROM grants
		WHERE employee_id = ? AND expires_on >= ?
		ORDER BY expires_on ASC, grant_date ASC, id ASC`
	return v.queryGrants(ctx, query, employeeID, asOf.String())
}

func (v view) AllGrants(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Grant, error) {
	query := `SELECT ` + grantColumns + `
		FROM grants
		WHERE employee_id = ?
		ORDER BY grant_date ASC, id ASC`
	return v.queryGrants(ctx, query, employeeID)
}

func (v view) CreateGrant(ctx context.Context, grant generic.Grant) error {
	query := `
		INSERT INTO grants (` + grantColumns + `, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := v.q.ExecContext(ctx, query,
		grant.ID,
		grant.EmployeeID,
		grant.GrantDate.String(),
		grant.ExpiresOn.String(),
		grant.DaysGranted.Value.String(),
		grant.HoursGranted.Value.String(),
		grant.RemainingDays.Value.String(),
		grant.RemainingHours.Value.String(),
		grant.Version,
		now(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicate
		}
		return fmt.Errorf("failed to insert grant: %w", err)
	}
	return nil
}

func (v view) UpdateGrantBalance(ctx context.Context, grant generic.Grant) error {
	res, err := v.q.ExecContext(ctx, `
		UPDATE grants
		SET remaining_days = ?, remaining_hours = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		grant.RemainingDays.Value.String(),
		grant.RemainingHours.Value.String(),
		grant.ID,
		grant.Version,
	)
	if err != nil {
		if isBusyError(err) {
			return generic.ErrConcurrentModification
		}
		return fmt.Errorf("failed to update grant: %w", err)
	}
	return v.guarded(ctx, res, "grants", string(grant.ID))
}

func (v view) queryGrants(ctx context.Context, query string, args ...any) ([]generic.Grant, error) {
	rows, err := v.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	var grants []generic.Grant
	for rows.Next() {
		var (
			g                             generic.Grant
			grantDate, expiresOn          string
			daysGranted, hoursGranted     string
			remainingDays, remainingHours string
		)
		if err := rows.Scan(&g.ID, &g.EmployeeID, &grantDate, &expiresOn,
			&daysGranted, &hoursGranted, &remainingDays, &remainingHours, &g.Version); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		g.GrantDate = parseDate(grantDate)
		g.ExpiresOn = parseDate(expiresOn)
		g.DaysGranted = parseAmount(daysGranted, generic.UnitDays)
		g.HoursGranted = parseAmount(hoursGranted, generic.UnitHours)
		g.RemainingDays = parseAmount(remainingDays, generic.UnitDays)
		g.RemainingHours = parseAmount(remainingHours, generic.UnitHours)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

const requestColumns = `id, employee_id, leave_type, start_date, end_date, days, hours, status, note, decided_on`

func (v view) GetRequest(ctx context.Context, id generic.RequestID) (generic.LeaveRequest, error) {
	reqs, err := v.queryRequests(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`, id)
	if err != nil {
		return generic.LeaveRequest{}, err
	}
	if len(reqs) == 0 {
		return generic.LeaveRequest{}, &generic.NotFoundError{Kind: "request", ID: string(id)}
	}
	return reqs[0], nil
}

func (v view) ApprovedRequests(ctx context.Context, employeeID generic.EmployeeID) ([]generic.LeaveRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM leave_requests
		WHERE employee_id = ? AND status = ?
		ORDER BY start_date ASC, id ASC`
	return v.queryRequests(ctx, query, employeeID, generic.RequestApproved)
}

func (v view) CreateRequest(ctx context.Context, req generic.LeaveRequest) error {
	ts := now()
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO leave_requests (`+requestColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID,
		req.EmployeeID,
		req.Type,
		req.Period.Start.String(),
		req.Period.End.String(),
		req.Days.Value.String(),
		req.Hours.Value.String(),
		req.Status,
		nullString(req.Note),
		nullDate(req.DecidedOn),
		ts, ts,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicate
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

func (v view) TransitionRequest(ctx context.Context, id generic.RequestID, from, to generic.RequestStatus, decidedOn generic.TimePoint, note *string) error {
	res, err := v.q.ExecContext(ctx, `
		UPDATE leave_requests
		SET status = ?, note = COALESCE(?, note), decided_on = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, nullString(note), nullDate(decidedOn), now(), id, from,
	)
	if err != nil {
		if isBusyError(err) {
			return generic.ErrConcurrentModification
		}
		return fmt.Errorf("failed to update request: %w", err)
	}
	return v.guarded(ctx, res, "leave_requests", string(id))
}

func (v view) queryRequests(ctx context.Context, query string, args ...any) ([]generic.LeaveRequest, error) {
	rows, err := v.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []generic.LeaveRequest
	for rows.Next() {
		var (
			r           generic.LeaveRequest
			start, end  string
			days, hours string
			note        sql.NullString
			decidedOn   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.EmployeeID, &r.Type, &start, &end, &days, &hours, &r.Status, &note, &decidedOn); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		r.Period = generic.Period{Start: parseDate(start), End: parseDate(end)}
		r.Days = parseAmount(days, generic.UnitDays)
		r.Hours = parseAmount(hours, generic.UnitHours)
		if note.Valid {
			n := note.String
			r.Note = &n
		}
		if decidedOn.Valid {
			r.DecidedOn = parseDate(decidedOn.String)
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// =============================================================================
// USAGE RECORDS (append-only)
// =============================================================================

func (v view) AppendUsage(ctx context.Context, records []generic.UsageRecord) error {
	ts := now()
	for _, u := range records {
		_, err := v.q.ExecContext(ctx, `
			INSERT INTO usage_records (id, leave_request_id, grant_id, employee_id, used_days, used_hours, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.LeaveRequestID, u.GrantID, u.EmployeeID,
			u.UsedDays.Value.String(), u.UsedHours.Value.String(), ts,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return generic.ErrDuplicate
			}
			return fmt.Errorf("failed to insert usage record: %w", err)
		}
	}
	return nil
}

func (v view) UsageByRequest(ctx context.Context, requestID generic.RequestID) ([]generic.UsageRecord, error) {
	return v.queryUsage(ctx, `
		SELECT id, leave_request_id, grant_id, employee_id, used_days, used_hours
		FROM usage_records WHERE leave_request_id = ?
		ORDER BY rowid`, requestID)
}

func (v view) UsageByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]generic.UsageRecord, error) {
	return v.queryUsage(ctx, `
		SELECT id, leave_request_id, grant_id, employee_id, used_days, used_hours
		FROM usage_records WHERE employee_id = ?
		ORDER BY rowid`, employeeID)
}

func (v view) queryUsage(ctx context.Context, query string, args ...any) ([]generic.UsageRecord, error) {
	rows, err := v.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []generic.UsageRecord
	for rows.Next() {
		var (
			u           generic.UsageRecord
			days, hours string
		)
		if err := rows.Scan(&u.ID, &u.LeaveRequestID, &u.GrantID, &u.EmployeeID, &days, &hours); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		u.UsedDays = parseAmount(days, generic.UnitDays)
		u.UsedHours = parseAmount(hours, generic.UnitHours)
		records = append(records, u)
	}
	return records, rows.Err()
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (v view) GetEmployee(ctx context.Context, id generic.EmployeeID) (generic.Employee, error) {
	var (
		emp      generic.Employee
		hireDate string
	)
	err := v.q.QueryRowContext(ctx,
		"SELECT id, name, hire_date FROM employees WHERE id = ?", id,
	).Scan(&emp.ID, &emp.Name, &hireDate)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Employee{}, &generic.NotFoundError{Kind: "employee", ID: string(id)}
	}
	if err != nil {
		return generic.Employee{}, fmt.Errorf("failed to query employee: %w", err)
	}
	emp.HireDate = parseDate(hireDate)
	return emp, nil
}

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp generic.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, hire_date, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			hire_date = excluded.hire_date`,
		emp.ID, emp.Name, emp.HireDate.String(), now(),
	)
	return err
}

// ListEmployees returns all employees ordered by ID.
func (s *Store) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, hire_date FROM employees ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []generic.Employee
	for rows.Next() {
		var (
			emp      generic.Employee
			hireDate string
		)
		if err := rows.Scan(&emp.ID, &emp.Name, &hireDate); err != nil {
			return nil, err
		}
		emp.HireDate = parseDate(hireDate)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// Reset deletes all data. Used by the scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"usage_records", "leave_requests", "grants", "employees"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// guarded turns a zero-row conditional update into a conflict, or a
// not-found when the row doesn't exist at all.
func (v view) guarded(ctx context.Context, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists int
	if err := v.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check %s: %w", table, err)
	}
	if exists == 0 {
		kind := "grant"
		if table == "leave_requests" {
			kind = "request"
		}
		return &generic.NotFoundError{Kind: kind, ID: id}
	}
	return generic.ErrConcurrentModification
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullDate(tp generic.TimePoint) sql.NullString {
	if tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func parseDate(s string) generic.TimePoint {
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}
	}
	return tp
}

func parseAmount(value string, unit generic.Unit) generic.Amount {
	return generic.NewAmountFromDecimal(generic.MustParseDecimal(value), unit)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isBusyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// Compile-time checks
var (
	_ generic.TxStore        = (*Store)(nil)
	_ generic.EmployeeLister = (*Store)(nil)
	_ generic.Store          = view{}
)
