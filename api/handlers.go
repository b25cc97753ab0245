/*
handlers.go - HTTP API handlers for the blood allocation engine

PURPOSE:
  Exposes the allocation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Units:
    GET    /api/units                      List units (filter by status/group)
    POST   /api/units                      Intake a collected unit
    GET    /api/units/{id}                 Get one unit
    POST   /api/units/{id}/buffer          Flag/unflag emergency reserve
    POST   /api/units/{id}/dispose         Dispose an expired unit
    GET    /api/buffer                     Emergency reserve summary

  Requests:
    GET    /api/requests                   List requests (filter by status)
    POST   /api/requests                   Create a hospital request
    GET    /api/requests/{id}              Get one request
    GET    /api/requests/{id}/fulfillment  Read-only fulfillment preview
    POST   /api/requests/{id}/approve      Plan + reserve units
    POST   /api/requests/{id}/handover     Commit reserved units (terminal)
    POST   /api/requests/{id}/decline      Decline with reason (terminal)
    POST   /api/requests/{id}/cancel-approval  Release and return to pending
    POST   /api/requests/{id}/reschedule   Defer after a shortage

ERROR HANDLING:
  Engine errors are mapped onto HTTP status codes:
  - 400: Validation errors, unknown blood group
  - 404: Missing unit/request
  - 409: Insufficient supply, reservation conflict, illegal transition
  - 500: Partial commit (fatal) and other internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crossmatch/blood-engine/engine"
	"github.com/crossmatch/blood-engine/metrics"
)

// DefaultShelfLife is how long a unit stays transfusable after collection
// when intake doesn't state an explicit expiry (whole blood: 42 days).
const DefaultShelfLife = 42 * 24 * time.Hour

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Units     engine.UnitStore
	Requests  engine.RequestStore
	Buffer    engine.BufferProvider
	Lifecycle *engine.RequestLifecycleManager
}

// Store bundles the three engine storage interfaces the API needs.
// Both the sqlite and the in-memory store satisfy it.
type Store interface {
	engine.UnitStore
	engine.RequestStore
	engine.BufferProvider
}

// NewHandler creates a handler over a combined store.
func NewHandler(store Store) *Handler {
	return &Handler{
		Units:     store,
		Requests:  store,
		Buffer:    store,
		Lifecycle: engine.NewLifecycleManager(store, store, store),
	}
}

// =============================================================================
// UNIT HANDLERS
// =============================================================================

// ListUnits returns units, optionally filtered by ?status= and ?group=.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	var filter engine.UnitFilter
	if status := r.URL.Query().Get("status"); status != "" {
		filter.StatusIn = []engine.UnitStatus{engine.UnitStatus(status)}
	}
	if groupParam := r.URL.Query().Get("group"); groupParam != "" {
		group, err := engine.ParseBloodGroup(groupParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid blood group", err)
			return
		}
		filter.Groups = []engine.BloodGroup{group}
	}

	units, err := h.Units.QueryUnits(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list units", err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTOs(units))
}

// GetUnit returns a single unit.
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	id := engine.UnitID(chi.URLParam(r, "id"))

	unit, err := h.Units.GetUnit(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(*unit))
}

// IntakeUnit registers a freshly collected unit.
func (h *Handler) IntakeUnit(w http.ResponseWriter, r *http.Request) {
	var req IntakeUnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	group, err := engine.ParseBloodGroup(req.BloodGroup)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid blood group", err)
		return
	}
	if req.SerialNumber == "" {
		writeError(w, http.StatusBadRequest, "serial_number is required", nil)
		return
	}

	collectedAt := time.Now().UTC()
	if req.CollectedAt != "" {
		collectedAt, err = time.Parse(time.RFC3339, req.CollectedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid collected_at (use RFC3339)", err)
			return
		}
	}
	expiresAt := collectedAt.Add(DefaultShelfLife)
	if req.ExpiresAt != "" {
		expiresAt, err = time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expires_at (use RFC3339)", err)
			return
		}
	}

	status := engine.UnitValid
	if req.Buffer {
		status = engine.UnitBuffer
	}

	unit := engine.BloodUnit{
		ID:           engine.UnitID(uuid.NewString()),
		SerialNumber: req.SerialNumber,
		Group:        group,
		VolumeML:     decimal.NewFromFloat(req.VolumeML),
		CollectedAt:  collectedAt,
		ExpiresAt:    expiresAt,
		Status:       status,
	}

	if err := h.Units.SaveUnit(r.Context(), unit); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save unit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitDTO(unit))
}

// SetBuffer flags or unflags a unit as emergency reserve.
func (h *Handler) SetBuffer(w http.ResponseWriter, r *http.Request) {
	id := engine.UnitID(chi.URLParam(r, "id"))

	var req SetBufferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	unit, err := h.Units.GetUnit(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if unit.Status != engine.UnitValid && unit.Status != engine.UnitBuffer {
		writeError(w, http.StatusConflict, "Only in-stock units can change buffer flag", nil)
		return
	}

	if req.Buffer {
		unit.Status = engine.UnitBuffer
	} else {
		unit.Status = engine.UnitValid
	}
	if err := h.Units.SaveUnit(r.Context(), *unit); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update unit", err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(*unit))
}

// DisposeUnit marks an expired unit as physically discarded.
func (h *Handler) DisposeUnit(w http.ResponseWriter, r *http.Request) {
	id := engine.UnitID(chi.URLParam(r, "id"))

	unit, err := h.Units.GetUnit(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if unit.Reserved || unit.AssignedRequestID != "" {
		writeError(w, http.StatusConflict, "Cannot dispose a reserved or assigned unit", nil)
		return
	}

	unit.Status = engine.UnitDisposed
	if err := h.Units.SaveUnit(r.Context(), *unit); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to dispose unit", err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(*unit))
}

// GetBufferSummary returns the emergency reserve snapshot.
func (h *Handler) GetBufferSummary(w http.ResponseWriter, r *http.Request) {
	pool, err := h.Buffer.GetBufferPool(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load buffer pool", err)
		return
	}

	counts := make(map[string]int)
	for g, n := range pool.CountsByGroup() {
		counts[g.String()] = n
	}
	writeJSON(w, http.StatusOK, BufferSummaryDTO{
		Total:         pool.Size(),
		CountsByGroup: counts,
	})
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// ListRequests returns requests, optionally filtered by ?status=.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	var statuses []engine.RequestStatus
	if status := r.URL.Query().Get("status"); status != "" {
		statuses = append(statuses, engine.RequestStatus(status))
	}

	requests, err := h.Requests.ListRequests(r.Context(), statuses...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list requests", err)
		return
	}

	dtos := make([]RequestDTO, len(requests))
	for i, req := range requests {
		dtos[i] = toRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRequest returns a single request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := engine.RequestID(chi.URLParam(r, "id"))

	req, err := h.Requests.GetRequest(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// CreateRequest submits a new hospital request.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	group, err := engine.ParseBloodGroup(req.BloodGroup)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid blood group", err)
		return
	}

	var whenNeeded *time.Time
	if req.WhenNeeded != "" {
		t, err := time.Parse(time.RFC3339, req.WhenNeeded)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid when_needed (use RFC3339)", err)
			return
		}
		whenNeeded = &t
	}

	created, err := h.Lifecycle.CreateRequest(r.Context(), req.Hospital, group, req.UnitsRequested, req.Urgent, whenNeeded)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(*created))
}

// CheckFulfillment is the read-only preview; it reserves nothing.
func (h *Handler) CheckFulfillment(w http.ResponseWriter, r *http.Request) {
	id := engine.RequestID(chi.URLParam(r, "id"))

	check, err := h.Lifecycle.CheckFulfillment(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	volume, _ := check.TotalVolumeML.Float64()
	writeJSON(w, http.StatusOK, FulfillmentDTO{
		RequestID:        string(check.RequestID),
		CanFulfill:       check.CanFulfill,
		AvailableCount:   check.AvailableCount,
		RequiredCount:    check.RequiredCount,
		Shortage:         check.Shortage,
		BufferWillBeUsed: check.BufferWillBeUsed,
		BufferSerials:    check.BufferSerials,
		TotalVolumeML:    volume,
		Message:          check.Message,
	})
}

// ApproveRequest plans and reserves units for the request.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	id := engine.RequestID(chi.URLParam(r, "id"))

	result, err := h.Lifecycle.Approve(r.Context(), id)
	if err != nil {
		var supplyErr *engine.InsufficientSupplyError
		if errors.As(err, &supplyErr) {
			metrics.ShortagesTotal.WithLabelValues(supplyErr.Group.String()).Inc()
			writeJSON(w, http.StatusConflict, ErrorResponse{
				Error:   supplyErr.Error(),
				Code:    "insufficient_supply",
				Details: toShortageDetailDTO(supplyErr),
			})
			return
		}
		if engine.IsRetryable(err) {
			metrics.ReservationConflictsTotal.Inc()
		}
		h.writeEngineError(w, err)
		return
	}

	metrics.ReservationsTotal.Add(float64(len(result.ReservedUnitIDs)))
	if len(result.Plan.BufferUnitsUsed) > 0 {
		metrics.BufferDipsTotal.Inc()
	}

	writeJSON(w, http.StatusOK, ApproveResponseDTO{
		Success:         true,
		RequestID:       string(id),
		Status:          string(result.Request.Status),
		ReservedUnitIDs: unitIDStrings(result.ReservedUnitIDs),
		BufferSerials:   result.Plan.BufferSerials(),
		Warning:         result.Plan.Warning,
	})
}

// HandoverRequest commits the reserved units. Irreversible.
func (h *Handler) HandoverRequest(w http.ResponseWriter, r *http.Request) {
	id := engine.RequestID(chi.URLParam(r, "id"))

	result, err := h.Lifecycle.Handover(r.Context(), id)
	if err != nil {
		if engine.IsFatal(err) {
			metrics.PartialCommitsTotal.Inc()
		}
		h.writeEngineError(w, err)
		return
	}

	metrics.HandoverUnitsTotal.Add(float64(len(result.CommittedUnitIDs)))
	writeJSON(w, http.StatusOK, HandoverResponseDTO{
		Success:          true,
		RequestID:        string(id),
		Status:           string(result.Request.Status),
		CommittedUnitIDs: unitIDStrings(result.CommittedUnitIDs),
	})
}

// DeclineRequest declines with a mandatory reason. Terminal.
func (h *Handler) DeclineRequest(w http.ResponseWriter, r *http.Request) {
	id := engine.RequestID(chi.URLParam(r, "id"))

	var body DeclineRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	req, err := h.Lifecycle.Decline(r.Context(), id, body.Reason)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// CancelApproval releases an approved request's units, back to pending.
func (h *Handler) CancelApproval(w http.ResponseWriter, r *http.Request) {
	id := engine.RequestID(chi.URLParam(r, "id"))

	req, err := h.Lifecycle.CancelApproval(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// RescheduleRequest defers a request after a shortage. Operator-triggered.
func (h *Handler) RescheduleRequest(w http.ResponseWriter, r *http.Request) {
	id := engine.RequestID(chi.URLParam(r, "id"))

	req, err := h.Lifecycle.Reschedule(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// writeEngineError maps engine error taxonomy onto HTTP status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, engine.ErrValidation), errors.Is(err, engine.ErrUnknownBloodGroup):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case errors.Is(err, engine.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "Illegal transition", err)
	case errors.Is(err, engine.ErrReservationConflict):
		writeError(w, http.StatusConflict, "Reservation conflict, retry approval", err)
	case errors.Is(err, engine.ErrInsufficientSupply):
		writeError(w, http.StatusConflict, "Insufficient supply", err)
	case engine.IsFatal(err):
		writeError(w, http.StatusInternalServerError, "Partial commit, manual reconciliation required", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

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
