/*
handlers.go - HTTP API handlers for the paid-leave ledger

PURPOSE:
  Exposes timeoff.Service over REST. Handles HTTP request/response and
  JSON serialization, and delegates every decision to the service.

ENDPOINTS:
  Entitlements:
    GET    /api/entitlements/next?hire_date=&as_of=   Next statutory grant

  Employees:
    GET    /api/employees                          List employees
    POST   /api/employees                          Register employee
    GET    /api/employees/{id}                     Employee details
    GET    /api/employees/{id}/balance?as_of=      Spendable pool
    GET    /api/employees/{id}/expiring?as_of=&window_days=
    GET    /api/employees/{id}/ledger              Running-balance history
    GET    /api/employees/{id}/reconciliation      Usage audit
    GET    /api/employees/{id}/grants              All grants
    POST   /api/employees/{id}/grants              Issue due grants / add one
    POST   /api/employees/{id}/requests            Submit leave request

  Requests:
    GET    /api/requests/{id}                      Request details
    POST   /api/requests/{id}/approve              Approve (FIFO consumption)
    POST   /api/requests/{id}/reject               Reject

  Scenarios:
    GET    /api/scenarios                          List demo scenarios
    GET    /api/scenarios/current                  Last loaded scenario
    POST   /api/scenarios/load                     Reset and load a scenario

ERROR HANDLING:
  Errors are returned as ErrorResponse JSON:
  - 400: InvalidInputError, malformed body or query
  - 404: NotFoundError
  - 409: InvalidStateError, duplicate, ConflictError (retryable: true)
  - 422: InsufficientBalanceError (details carry available/requested/shortfall)
  - 500: FragmentationError and everything unexpected

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/yukyu-ledger/generic"
	"github.com/warp/yukyu-ledger/timeoff"
	"go.uber.org/zap"
)

// DefaultExpiringWindowDays is used when neither config nor query sets one.
const DefaultExpiringWindowDays = 90

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *timeoff.Service
	Scenarios *ScenarioLoader
	Logger    *zap.Logger

	// ExpiringWindowDays is the default look-ahead for /expiring.
	ExpiringWindowDays int
}

// NewHandler creates a handler. scenarios may be nil to disable the demo
// endpoints.
func NewHandler(svc *timeoff.Service, scenarios *ScenarioLoader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:            svc,
		Scenarios:          scenarios,
		Logger:             logger,
		ExpiringWindowDays: DefaultExpiringWindowDays,
	}
}

// =============================================================================
// ENTITLEMENTS
// =============================================================================

// NextEntitlement returns the first scheduled grant after as_of.
func (h *Handler) NextEntitlement(w http.ResponseWriter, r *http.Request) {
	hire, err := dateQuery(r, "hire_date")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	asOf, err := dateQuery(r, "as_of")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if asOf.IsZero() {
		asOf = h.Service.Today()
	}

	ent, err := h.Service.ComputeNextEntitlement(hire, asOf)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EntitlementDTO{
		GrantDate:    ent.GrantDate.String(),
		Days:         ent.Days.InexactFloat64(),
		OffsetMonths: ent.OffsetMonths,
	})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Service.ListEmployees(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Service.GetEmployee(r.Context(), employeeParam(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// CreateEmployee registers an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !h.decode(w, r, &req) {
		return
	}
	hire, err := parseDateField("hire_date", req.HireDate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	emp, err := h.Service.RegisterEmployee(r.Context(), generic.Employee{
		ID:       generic.EmployeeID(req.ID),
		Name:     req.Name,
		HireDate: hire,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetBalance returns the employee's active pool.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	asOf, err := dateQuery(r, "as_of")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	bal, err := h.Service.GetBalance(r.Context(), employeeParam(r), asOf)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		EmployeeID: string(bal.EmployeeID),
		AsOf:       bal.AsOf.String(),
		TotalDays:  bal.TotalDays.InexactFloat64(),
		TotalHours: bal.TotalHours.InexactFloat64(),
	})
}

// GetExpiring returns grants with remaining days that lapse inside the window.
func (h *Handler) GetExpiring(w http.ResponseWriter, r *http.Request) {
	asOf, err := dateQuery(r, "as_of")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	window := h.ExpiringWindowDays
	if raw := r.URL.Query().Get("window_days"); raw != "" {
		window, err = strconv.Atoi(raw)
		if err != nil {
			h.writeServiceError(w, r, &generic.InvalidInputError{Field: "window_days", Reason: "must be an integer"})
			return
		}
	}

	sum, err := h.Service.GetExpiringGrants(r.Context(), employeeParam(r), asOf, window)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpiringDTO{
		EmployeeID:    string(sum.EmployeeID),
		AsOf:          sum.AsOf.String(),
		WindowDays:    sum.WindowDays,
		TotalDays:     sum.TotalDays.InexactFloat64(),
		SoonestExpiry: datePtr(sum.SoonestExpiry),
		Grants:        toGrantDTOs(sum.Grants),
	})
}

// GetLedger returns the reconstructed running-balance history.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.Service.GetLedger(r.Context(), employeeParam(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(ledger))
}

// GetReconciliation audits the employee's balances against usage records.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.Reconcile(r.Context(), employeeParam(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// ListGrants returns all grants of the employee.
func (h *Handler) ListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.Service.ListGrants(r.Context(), employeeParam(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantDTOs(grants))
}

// CreateGrants issues every scheduled grant due as of as_of, or records a
// single explicit grant when grant_date is set.
func (h *Handler) CreateGrants(w http.ResponseWriter, r *http.Request) {
	var req CreateGrantRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	employeeID := employeeParam(r)

	if req.GrantDate == "" {
		asOf, err := parseOptionalDate("as_of", req.AsOf)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		issued, err := h.Service.IssueDueGrants(r.Context(), employeeID, asOf)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toGrantDTOs(issued))
		return
	}

	grantDate, err := parseDateField("grant_date", req.GrantDate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	expires, err := parseOptionalDate("expires_on", req.ExpiresOn)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	grant, err := h.Service.AddGrant(r.Context(), generic.Grant{
		ID:           generic.GrantID(req.ID),
		EmployeeID:   employeeID,
		GrantDate:    grantDate,
		ExpiresOn:    expires,
		DaysGranted:  generic.NewAmountFromDecimal(req.Days, generic.UnitDays),
		HoursGranted: generic.NewAmountFromDecimal(req.Hours, generic.UnitHours),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, []GrantDTO{toGrantDTO(grant)})
}

// SubmitRequest stores a new pending leave request.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := parseDateField("start_date", req.StartDate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	end, err := parseOptionalDate("end_date", req.EndDate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if end.IsZero() {
		end = start
	}
	period, err := generic.NewPeriod(start, end)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	created, err := h.Service.SubmitRequest(r.Context(), generic.LeaveRequest{
		ID:         generic.RequestID(req.ID),
		EmployeeID: employeeParam(r),
		Type:       generic.LeaveType(req.Type),
		Period:     period,
		Days:       generic.NewAmountFromDecimal(req.Days, generic.UnitDays),
		Hours:      generic.NewAmountFromDecimal(req.Hours, generic.UnitHours),
		Note:       req.Note,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(created))
}

// =============================================================================
// REQUEST DECISIONS
// =============================================================================

// GetRequest returns a single leave request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.GetRequest(r.Context(), requestParam(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// ApproveRequest approves a pending request, consuming grants FIFO.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ApproveRequest(r.Context(), requestParam(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTO(res))
}

// RejectRequest rejects a pending request.
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var body RejectRequest
	if !h.decodeOptional(w, r, &body) {
		return
	}
	id := requestParam(r)
	if err := h.Service.RejectRequest(r.Context(), id, body.Reason); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	req, err := h.Service.GetRequest(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ListScenarios returns the demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Scenarios())
}

// GetCurrentScenario returns the last loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.Scenarios == nil || h.Scenarios.Current() == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	current := h.Scenarios.Current()
	for _, s := range Scenarios() {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.Scenarios == nil {
		writeError(w, http.StatusNotFound, "not_found", "scenarios are disabled", nil)
		return
	}
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Scenarios.Load(r.Context(), req.ScenarioID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// =============================================================================
// HELPERS
// =============================================================================

func employeeParam(r *http.Request) generic.EmployeeID {
	return generic.EmployeeID(chi.URLParam(r, "id"))
}

func requestParam(r *http.Request) generic.RequestID {
	return generic.RequestID(chi.URLParam(r, "id"))
}

func dateQuery(r *http.Request, name string) (generic.TimePoint, error) {
	return parseOptionalDate(name, r.URL.Query().Get(name))
}

func parseOptionalDate(field, raw string) (generic.TimePoint, error) {
	if raw == "" {
		return generic.TimePoint{}, nil
	}
	return parseDateField(field, raw)
}

func parseDateField(field, raw string) (generic.TimePoint, error) {
	if raw == "" {
		return generic.TimePoint{}, &generic.InvalidInputError{Field: field, Reason: "required"}
	}
	tp, err := generic.ParseDate(raw)
	if err != nil {
		return generic.TimePoint{}, &generic.InvalidInputError{Field: field, Reason: "use YYYY-MM-DD"}
	}
	return tp, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", err)
	return false
}

// writeServiceError maps ledger errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		insufficient *generic.InsufficientBalanceError
		conflict     *generic.ConflictError
		invalid      *generic.InvalidInputError
	)
	switch {
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), map[string]any{"field": invalid.Field})
	case errors.As(err, &insufficient):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_balance", err.Error(), map[string]any{
			"unit":      insufficient.Unit,
			"available": insufficient.Available.InexactFloat64(),
			"requested": insufficient.Requested.InexactFloat64(),
			"shortfall": insufficient.Shortfall.InexactFloat64(),
		})
	case errors.Is(err, generic.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error(), nil)
	case errors.Is(err, generic.ErrDuplicate):
		writeError(w, http.StatusConflict, "duplicate", err.Error(), nil)
	case errors.As(err, &conflict), generic.IsRetryable(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "conflict", Message: err.Error(), Retryable: true})
	default:
		code := "internal"
		if generic.IsIntegrityError(err) {
			code = "data_integrity"
		}
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, code, "internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := ErrorResponse{Error: code, Message: message}
	switch d := details.(type) {
	case map[string]any:
		resp.Details = d
	case error:
		resp.Details = map[string]any{"cause": d.Error()}
	}
	writeJSON(w, status, resp)
}
