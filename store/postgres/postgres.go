/*
postgres.go - PostgreSQL storage over a pgx connection pool

PURPOSE:
  Production store for multi-instance deployments. Same schema and
  semantics as store/sqlite, but transactions run at SERIALIZABLE and the
  transactional ActiveGrants read takes row locks, so two approvals
  racing on one employee serialize on the grant rows instead of both
  committing against a stale balance.

ERROR MAPPING:
  40001 serialization_failure  → generic.ErrConcurrentModification (retried)
  40P01 deadlock_detected      → generic.ErrConcurrentModification (retried)
  23505 unique_violation       → generic.ErrDuplicate

Dates are DATE columns and amounts NUMERIC(10,3). Both are read back as
text so decimal precision never passes through float64.

SEE ALSO:
  - store/sqlite/sqlite.go: Single-node equivalent
  - timeoff/consumption.go: Retries on ErrConcurrentModification
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/yukyu-ledger/generic"
)

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and applies the schema. maxConns <= 0 keeps the
// pgxpool default.
func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		hire_date DATE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS grants (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		grant_date DATE NOT NULL,
		expires_on DATE NOT NULL,
		days_granted NUMERIC(10,3) NOT NULL,
		hours_granted NUMERIC(10,3) NOT NULL DEFAULT 0,
		remaining_days NUMERIC(10,3) NOT NULL,
		remaining_hours NUMERIC(10,3) NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (employee_id, grant_date),
		CHECK (expires_on > grant_date),
		CHECK (remaining_days >= 0 AND remaining_days <= days_granted),
		CHECK (remaining_hours >= 0 AND remaining_hours <= hours_granted)
	);

	CREATE INDEX IF NOT EXISTS idx_grants_employee_expiry
		ON grants(employee_id, expires_on, grant_date);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		leave_type TEXT NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		days NUMERIC(10,3) NOT NULL,
		hours NUMERIC(10,3) NOT NULL DEFAULT 0,
		status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
		note TEXT,
		decided_on DATE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	ALTER TABLE leave_requests ADD COLUMN IF NOT EXISTS decided_on DATE;

	CREATE INDEX IF NOT EXISTS idx_requests_employee_status
		ON leave_requests(employee_id, status, start_date);

	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		leave_request_id TEXT NOT NULL REFERENCES leave_requests(id),
		grant_id TEXT NOT NULL REFERENCES grants(id),
		employee_id TEXT NOT NULL,
		used_days NUMERIC(10,3) NOT NULL,
		used_hours NUMERIC(10,3) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_usage_request ON usage_records(leave_request_id);
	CREATE INDEX IF NOT EXISTS idx_usage_employee ON usage_records(employee_id);

	CREATE OR REPLACE FUNCTION usage_records_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'usage_records is append-only';
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS usage_records_append_only ON usage_records;
	CREATE TRIGGER usage_records_append_only
		BEFORE UPDATE OR DELETE ON usage_records
		FOR EACH ROW EXECUTE FUNCTION usage_records_append_only();
	`)
	return err
}

// =============================================================================
// QUERIER - *pgxpool.Pool and pgx.Tx share one implementation
// =============================================================================

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// view runs queries against the pool or an open transaction. forUpdate is
// set inside WithTx so the FIFO read locks the rows it will decrement.
type view struct {
	q         querier
	forUpdate bool
}

func (s *Store) view() view { return view{q: s.pool} }

func (s *Store) ActiveGrants(ctx context.Context, employeeID generic.EmployeeID, asOf generic.TimePoint) ([]generic.Grant, error) {
	return s.view().ActiveGrants(ctx, employeeID, asOf)
}

func (s *Store) AllGrants(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Grant, error) {
	return s.view().AllGrants(ctx, employeeID)
}

func (s *Store) CreateGrant(ctx context.Context, grant generic.Grant) error {
	return s.view().CreateGrant(ctx, grant)
}

func (s *Store) UpdateGrantBalance(ctx context.Context, grant generic.Grant) error {
	return s.view().UpdateGrantBalance(ctx, grant)
}

func (s *Store) GetRequest(ctx context.Context, id generic.RequestID) (generic.LeaveRequest, error) {
	return s.view().GetRequest(ctx, id)
}

func (s *Store) ApprovedRequests(ctx context.Context, employeeID generic.EmployeeID) ([]generic.LeaveRequest, error) {
	return s.view().ApprovedRequests(ctx, employeeID)
}

func (s *Store) CreateRequest(ctx context.Context, req generic.LeaveRequest) error {
	return s.view().CreateRequest(ctx, req)
}

func (s *Store) TransitionRequest(ctx context.Context, id generic.RequestID, from, to generic.RequestStatus, decidedOn generic.TimePoint, note *string) error {
	return s.view().TransitionRequest(ctx, id, from, to, decidedOn, note)
}

func (s *Store) AppendUsage(ctx context.Context, records []generic.UsageRecord) error {
	return s.view().AppendUsage(ctx, records)
}

func (s *Store) UsageByRequest(ctx context.Context, requestID generic.RequestID) ([]generic.UsageRecord, error) {
	return s.view().UsageByRequest(ctx, requestID)
}

func (s *Store) UsageByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]generic.UsageRecord, error) {
	return s.view().UsageByEmployee(ctx, employeeID)
}

func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (generic.Employee, error) {
	return s.view().GetEmployee(ctx, id)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn in a SERIALIZABLE transaction. Serialization failures
// surface as generic.ErrConcurrentModification for the caller to retry.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(view{q: tx, forUpdate: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isSerializationError(err) {
			return fmt.Errorf("commit: %w", generic.ErrConcurrentModification)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// GRANTS
// =============================================================================

const grantColumns = `id, employee_id, grant_date::text, expires_on::text,
	days_granted::text, hours_granted::text, remaining_days::text, remaining_hours::text, version`

func (v view) ActiveGrants(ctx context.Context, employeeID generic.EmployeeID, asOf generic.TimePoint) ([]generic.Grant, error) {
	query := `SELECT ` + grantColumns + `
		FROM grants
		WHERE employee_id = $1 AND expires_on >= $2::date
		ORDER BY expires_on, grant_date, id`
	if v.forUpdate {
		query += ` FOR UPDATE`
	}
	return v.queryGrants(ctx, query, employeeID, asOf.String())
}

func (v view) AllGrants(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Grant, error) {
	return v.queryGrants(ctx, `SELECT `+grantColumns+`
		FROM grants
		WHERE employee_id = $1
		ORDER BY grant_date, id`, employeeID)
}

func (v view) CreateGrant(ctx context.Context, grant generic.Grant) error {
	_, err := v.q.Exec(ctx, `
		INSERT INTO grants (id, employee_id, grant_date, expires_on, days_granted, hours_granted,
			remaining_days, remaining_hours, version)
		VALUES ($1, $2, $3::date, $4::date, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9)`,
		grant.ID, grant.EmployeeID, grant.GrantDate.String(), grant.ExpiresOn.String(),
		grant.DaysGranted.Value.String(), grant.HoursGranted.Value.String(),
		grant.RemainingDays.Value.String(), grant.RemainingHours.Value.String(),
		grant.Version,
	)
	if err != nil {
		return mapError("failed to insert grant", err)
	}
	return nil
}

func (v view) UpdateGrantBalance(ctx context.Context, grant generic.Grant) error {
	tag, err := v.q.Exec(ctx, `
		UPDATE grants
		SET remaining_days = $1::numeric, remaining_hours = $2::numeric, version = version + 1
		WHERE id = $3 AND version = $4`,
		grant.RemainingDays.Value.String(), grant.RemainingHours.Value.String(), grant.ID, grant.Version,
	)
	if err != nil {
		return mapError("failed to update grant", err)
	}
	return v.guarded(ctx, tag, "grants", string(grant.ID))
}

func (v view) queryGrants(ctx context.Context, query string, args ...any) ([]generic.Grant, error) {
	rows, err := v.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("failed to query grants", err)
	}
	defer rows.Close()

	var grants []generic.Grant
	for rows.Next() {
		var g generic.Grant
		var dates [2]string
		var amounts [4]string
		if err := rows.Scan(&g.ID, &g.EmployeeID, &dates[0], &dates[1],
			&amounts[0], &amounts[1], &amounts[2], &amounts[3], &g.Version); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		g.GrantDate = parseDate(dates[0])
		g.ExpiresOn = parseDate(dates[1])
		g.DaysGranted = parseAmount(amounts[0], generic.UnitDays)
		g.HoursGranted = parseAmount(amounts[1], generic.UnitHours)
		g.RemainingDays = parseAmount(amounts[2], generic.UnitDays)
		g.RemainingHours = parseAmount(amounts[3], generic.UnitHours)
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("failed to read grants", err)
	}
	return grants, nil
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

const requestColumns = `id, employee_id, leave_type, start_date::text, end_date::text,
	days::text, hours::text, status, note, decided_on::text`

func (v view) GetRequest(ctx context.Context, id generic.RequestID) (generic.LeaveRequest, error) {
	reqs, err := v.queryRequests(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = $1`, id)
	if err != nil {
		return generic.LeaveRequest{}, err
	}
	if len(reqs) == 0 {
		return generic.LeaveRequest{}, &generic.NotFoundError{Kind: "request", ID: string(id)}
	}
	return reqs[0], nil
}

func (v view) ApprovedRequests(ctx context.Context, employeeID generic.EmployeeID) ([]generic.LeaveRequest, error) {
	return v.queryRequests(ctx, `SELECT `+requestColumns+`
		FROM leave_requests
		WHERE employee_id = $1 AND status = 'approved'
		ORDER BY start_date, id`, employeeID)
}

func (v view) CreateRequest(ctx context.Context, req generic.LeaveRequest) error {
	_, err := v.q.Exec(ctx, `
		INSERT INTO leave_requests (id, employee_id, leave_type, start_date, end_date, days, hours, status, note, decided_on)
		VALUES ($1, $2, $3, $4::date, $5::date, $6::numeric, $7::numeric, $8, $9, $10::date)`,
		req.ID, req.EmployeeID, req.Type, req.Period.Start.String(), req.Period.End.String(),
		req.Days.Value.String(), req.Hours.Value.String(), req.Status, req.Note, dateOrNil(req.DecidedOn),
	)
	if err != nil {
		return mapError("failed to insert request", err)
	}
	return nil
}

func (v view) TransitionRequest(ctx context.Context, id generic.RequestID, from, to generic.RequestStatus, decidedOn generic.TimePoint, note *string) error {
	tag, err := v.q.Exec(ctx, `
		UPDATE leave_requests
		SET status = $1, note = COALESCE($2, note), decided_on = $3::date, updated_at = now()
		WHERE id = $4 AND status = $5`,
		to, note, dateOrNil(decidedOn), id, from,
	)
	if err != nil {
		return mapError("failed to update request", err)
	}
	return v.guarded(ctx, tag, "leave_requests", string(id))
}

func (v view) queryRequests(ctx context.Context, query string, args ...any) ([]generic.LeaveRequest, error) {
	rows, err := v.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("failed to query requests", err)
	}
	defer rows.Close()

	var requests []generic.LeaveRequest
	for rows.Next() {
		var (
			r           generic.LeaveRequest
			start, end  string
			days, hours string
			decidedOn   *string
		)
		if err := rows.Scan(&r.ID, &r.EmployeeID, &r.Type, &start, &end, &days, &hours, &r.Status, &r.Note, &decidedOn); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		r.Period = generic.Period{Start: parseDate(start), End: parseDate(end)}
		r.Days = parseAmount(days, generic.UnitDays)
		r.Hours = parseAmount(hours, generic.UnitHours)
		if decidedOn != nil {
			r.DecidedOn = parseDate(*decidedOn)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("failed to read requests", err)
	}
	return requests, nil
}

// =============================================================================
// USAGE RECORDS
// =============================================================================

func (v view) AppendUsage(ctx context.Context, records []generic.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO usage_records (id, leave_request_id, grant_id, employee_id, used_days, used_hours)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric)`,
			r.ID, r.LeaveRequestID, r.GrantID, r.EmployeeID,
			r.UsedDays.Value.String(), r.UsedHours.Value.String(),
		)
	}
	results := v.q.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return mapError("failed to insert usage record", err)
		}
	}
	return results.Close()
}

func (v view) UsageByRequest(ctx context.Context, requestID generic.RequestID) ([]generic.UsageRecord, error) {
	return v.queryUsage(ctx, `SELECT id, leave_request_id, grant_id, employee_id, used_days::text, used_hours::text
		FROM usage_records WHERE leave_request_id = $1 ORDER BY created_at, id`, requestID)
}

func (v view) UsageByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]generic.UsageRecord, error) {
	return v.queryUsage(ctx, `SELECT id, leave_request_id, grant_id, employee_id, used_days::text, used_hours::text
		FROM usage_records WHERE employee_id = $1 ORDER BY created_at, id`, employeeID)
}

func (v view) queryUsage(ctx context.Context, query string, args ...any) ([]generic.UsageRecord, error) {
	rows, err := v.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("failed to query usage", err)
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
	if err := rows.Err(); err != nil {
		return nil, mapError("failed to read usage", err)
	}
	return records, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (v view) GetEmployee(ctx context.Context, id generic.EmployeeID) (generic.Employee, error) {
	var (
		e        generic.Employee
		hireDate string
	)
	err := v.q.QueryRow(ctx, `SELECT id, name, hire_date::text FROM employees WHERE id = $1`, id).
		Scan(&e.ID, &e.Name, &hireDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.Employee{}, &generic.NotFoundError{Kind: "employee", ID: string(id)}
	}
	if err != nil {
		return generic.Employee{}, mapError("failed to get employee", err)
	}
	e.HireDate = parseDate(hireDate)
	return e, nil
}

// SaveEmployee inserts or replaces a directory entry.
func (s *Store) SaveEmployee(ctx context.Context, emp generic.Employee) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (id, name, hire_date) VALUES ($1, $2, $3::date)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, hire_date = EXCLUDED.hire_date`,
		emp.ID, emp.Name, emp.HireDate.String(),
	)
	if err != nil {
		return mapError("failed to save employee", err)
	}
	return nil
}

// ListEmployees returns all employees ordered by ID.
func (s *Store) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, hire_date::text FROM employees ORDER BY id`)
	if err != nil {
		return nil, mapError("failed to list employees", err)
	}
	defer rows.Close()

	var employees []generic.Employee
	for rows.Next() {
		var (
			e        generic.Employee
			hireDate string
		)
		if err := rows.Scan(&e.ID, &e.Name, &hireDate); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		e.HireDate = parseDate(hireDate)
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// Reset deletes all data. Used by the scenario loader and tests.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE usage_records, leave_requests, grants, employees`); err != nil {
		return fmt.Errorf("failed to reset: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (v view) guarded(ctx context.Context, tag pgconn.CommandTag, table, id string) error {
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := v.q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+table+" WHERE id = $1)", id).Scan(&exists); err != nil {
		return mapError("failed to check "+table, err)
	}
	if !exists {
		kind := "grant"
		if table == "leave_requests" {
			kind = "request"
		}
		return &generic.NotFoundError{Kind: kind, ID: id}
	}
	return generic.ErrConcurrentModification
}

func mapError(msg string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", msg, generic.ErrDuplicate)
		case "40001", "40P01":
			return fmt.Errorf("%s: %w", msg, generic.ErrConcurrentModification)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func dateOrNil(tp generic.TimePoint) *string {
	if tp.IsZero() {
		return nil
	}
	s := tp.String()
	return &s
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

// Compile-time checks
var (
	_ generic.TxStore        = (*Store)(nil)
	_ generic.EmployeeLister = (*Store)(nil)
	_ generic.Store          = view{}
)
