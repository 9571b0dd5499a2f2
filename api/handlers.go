/*
handlers.go - HTTP API handlers for the meal token engine

PURPOSE:
  Exposes token issuance and schedule management via REST API. Handles
  HTTP request/response and JSON serialization, and delegates to the
  issuance and schedule packages.

ENDPOINTS:
  Tokens:
    POST   /api/tokens                 Issue a token (kiosk)
    GET    /api/tokens/{id}            Consumption record
    POST   /api/tokens/{id}/confirm    Confirm the printed token

  Schedules:
    POST   /api/schedules              Create with conflict check
    POST   /api/schedules/validate     Conflict check only
    GET    /api/schedules/{id}         Schedule details
    PUT    /api/schedules/{id}         Update with conflict check

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    GET    /api/scenarios/current      Loaded scenario for the tenant
    POST   /api/scenarios/load         Load a demo scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Take tenant and user from the JWT claims
  3. Call the engine with them as explicit arguments
  4. Serialize response or map the typed error to a status

ERROR HANDLING:
  Errors are returned as JSON {error, code, details}:
  - 400: Invalid body, schedule validation errors
  - 404: Unknown person/device/schedule, no schedule or meal for request
  - 409: Token already issued, schedule conflict
  - 422: Wrong device, function key, unavailable meal, missing meal cost
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/meal-token-engine/issuance"
	"github.com/warp/meal-token-engine/logging"
	"github.com/warp/meal-token-engine/meal"
	"github.com/warp/meal-token-engine/schedule"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Stores    meal.Resolver
	Issuer    *issuance.Issuer
	Schedules *schedule.Service
	Logger    *slog.Logger

	// Now dates the demo scenarios.
	Now func() time.Time

	mu              sync.Mutex
	currentScenario map[meal.TenantID]string
}

// NewHandler creates a new handler.
func NewHandler(stores meal.Resolver, issuer *issuance.Issuer, schedules *schedule.Service, logger *slog.Logger) *Handler {
	return &Handler{
		Stores:          stores,
		Issuer:          issuer,
		Schedules:       schedules,
		Logger:          logger,
		Now:             time.Now,
		currentScenario: make(map[meal.TenantID]string),
	}
}

func (h *Handler) log(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context(), h.Logger)
}

// =============================================================================
// TOKEN ENDPOINTS
// =============================================================================

// IssueToken runs the issuing pipeline for one kiosk request. A reused
// pending record answers 200 instead of 201.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var req IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PersonNumber == "" || req.DeviceSerial == "" {
		writeError(w, http.StatusBadRequest, "person_number and device_serial are required", nil)
		return
	}

	issueReq := issuance.Request{
		Tenant:       claims.Tenant(),
		Actor:        claims.Subject,
		PersonNumber: req.PersonNumber,
		DeviceSerial: req.DeviceSerial,
		FunctionKey:  req.FunctionKey,
	}
	if req.Timestamp != nil {
		issueReq.At = *req.Timestamp
	}

	receipt, err := h.Issuer.Issue(r.Context(), issueReq)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	status := http.StatusCreated
	if receipt.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, toReceiptDTO(receipt))
}

// GetToken returns a stored consumption record.
func (h *Handler) GetToken(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id := meal.ConsumptionID(chi.URLParam(r, "id"))

	store, err := h.Stores.Store(r.Context(), claims.Tenant())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	c, err := store.GetConsumption(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if c == nil {
		h.writeEngineError(w, r, fmt.Errorf("consumption %s: %w", id, meal.ErrConsumptionNotFound))
		return
	}
	writeJSON(w, http.StatusOK, toConsumptionDTO(c))
}

// ConfirmToken marks a printed token as issued. The body is optional.
func (h *Handler) ConfirmToken(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id := meal.ConsumptionID(chi.URLParam(r, "id"))

	var req ConfirmTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	c, err := h.Issuer.Confirm(r.Context(), claims.Tenant(), id, req.JobStatus)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsumptionDTO(c))
}

// =============================================================================
// SCHEDULE ENDPOINTS
// =============================================================================

func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, err := h.Schedules.Create(r.Context(), claims.Tenant(), req.toInput())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.log(r).Info("schedule created", "schedule_id", s.ID, "name", s.Name)
	writeJSON(w, http.StatusCreated, toScheduleDTO(s))
}

func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id := meal.ScheduleID(chi.URLParam(r, "id"))

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, err := h.Schedules.Update(r.Context(), claims.Tenant(), id, req.toInput())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.log(r).Info("schedule updated", "schedule_id", s.ID)
	writeJSON(w, http.StatusOK, toScheduleDTO(s))
}

// ValidateSchedule reports conflicts without saving. The optional query
// parameter schedule_id excludes the schedule being edited.
func (h *Handler) ValidateSchedule(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := meal.ScheduleID(r.URL.Query().Get("schedule_id"))
	conflicts, err := h.Schedules.Validate(r.Context(), claims.Tenant(), id, req.toInput())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ValidateScheduleResponse{
		Valid:     len(conflicts) == 0,
		Conflicts: toConflictDTOs(conflicts),
	})
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id := meal.ScheduleID(chi.URLParam(r, "id"))

	s, err := h.Schedules.Get(r.Context(), claims.Tenant(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(s))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, meal.ErrNoScheduleForPerson),
		errors.Is(err, meal.ErrNoScheduleForDate),
		errors.Is(err, meal.ErrNoMealForTime),
		errors.Is(err, meal.ErrNoMatchingSchedule):
		return http.StatusNotFound
	case errors.Is(err, meal.ErrInvalidFunctionKey),
		errors.Is(err, meal.ErrNoAvailableMeal),
		errors.Is(err, meal.ErrWrongDevice),
		errors.Is(err, meal.ErrMealCostNotConfigured),
		errors.Is(err, meal.ErrPersonInactive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, meal.ErrAlreadyIssued),
		errors.Is(err, meal.ErrScheduleConflict),
		errors.Is(err, meal.ErrDuplicateConsumption):
		return http.StatusConflict
	case errors.Is(err, meal.ErrInvalidSchedule):
		return http.StatusBadRequest
	case meal.IsNotFound(err):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeEngineError writes a typed engine failure. Internal errors are
// logged and their details withheld.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: meal.ErrorKind(err)}

	var conflictErr *meal.ScheduleConflictError
	var validationErr *meal.ValidationError
	switch {
	case errors.As(err, &conflictErr):
		resp.Details = toConflictDTOs(conflictErr.Conflicts)
	case errors.As(err, &validationErr):
		resp.Details = validationErr.FieldErrors
	}

	if status == http.StatusInternalServerError {
		h.log(r).Error("request failed", "path", r.URL.Path, "error", err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}
