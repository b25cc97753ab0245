/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and in the engine, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/crossmatch/blood-engine/engine"
)

// =============================================================================
// UNIT TYPES
// =============================================================================

// UnitDTO represents a blood unit in API responses.
type UnitDTO struct {
	ID                string  `json:"id"`
	SerialNumber      string  `json:"serial_number"`
	BloodGroup        string  `json:"blood_group"`
	VolumeML          float64 `json:"volume_ml"`
	CollectedAt       string  `json:"collected_at"`
	ExpiresAt         string  `json:"expires_at"`
	Status            string  `json:"status"`
	Reserved          bool    `json:"reserved"`
	ReservedBy        string  `json:"reserved_by,omitempty"`
	AssignedRequestID string  `json:"assigned_request_id,omitempty"`
}

// IntakeUnitRequest registers a freshly collected unit.
type IntakeUnitRequest struct {
	SerialNumber string  `json:"serial_number"`
	BloodGroup   string  `json:"blood_group"`
	VolumeML     float64 `json:"volume_ml"`
	CollectedAt  string  `json:"collected_at"` // RFC3339; defaults to now
	ExpiresAt    string  `json:"expires_at"`   // RFC3339; defaults to collected + 42 days
	Buffer       bool    `json:"buffer"`       // Flag as emergency reserve on intake
}

// SetBufferRequest flags or unflags a unit as emergency reserve.
type SetBufferRequest struct {
	Buffer bool `json:"buffer"`
}

// BufferSummaryDTO is the emergency reserve snapshot.
type BufferSummaryDTO struct {
	Total         int            `json:"total"`
	CountsByGroup map[string]int `json:"counts_by_group"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RequestDTO represents a blood request in API responses.
type RequestDTO struct {
	ID             string `json:"id"`
	Hospital       string `json:"hospital,omitempty"`
	BloodGroup     string `json:"blood_group"`
	UnitsRequested int    `json:"units_requested"`
	Status         string `json:"status"`
	Urgent         bool   `json:"urgent"`
	WhenNeeded     string `json:"when_needed,omitempty"`
	DeclineReason  string `json:"decline_reason,omitempty"`
	RetryAt        string `json:"retry_at,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// CreateRequestRequest submits a new hospital request.
type CreateRequestRequest struct {
	Hospital       string `json:"hospital"`
	BloodGroup     string `json:"blood_group"`
	UnitsRequested int    `json:"units_requested"`
	Urgent         bool   `json:"urgent"`
	WhenNeeded     string `json:"when_needed,omitempty"` // RFC3339
}

// DeclineRequest carries the mandatory decline reason.
type DeclineRequest struct {
	Reason string `json:"reason"`
}

// FulfillmentDTO is the read-only preview of whether a request can be met.
type FulfillmentDTO struct {
	RequestID        string   `json:"request_id"`
	CanFulfill       bool     `json:"can_fulfill"`
	AvailableCount   int      `json:"available_count"`
	RequiredCount    int      `json:"required_count"`
	Shortage         int      `json:"shortage"`
	BufferWillBeUsed bool     `json:"buffer_will_be_used"`
	BufferSerials    []string `json:"buffer_serials,omitempty"`
	TotalVolumeML    float64  `json:"total_volume_ml"`
	Message          string   `json:"message"`
}

// ApproveResponseDTO reports a successful approval.
type ApproveResponseDTO struct {
	Success         bool     `json:"success"`
	RequestID       string   `json:"request_id"`
	Status          string   `json:"status"`
	ReservedUnitIDs []string `json:"reserved_unit_ids"`
	BufferSerials   []string `json:"buffer_serials,omitempty"`
	Warning         string   `json:"warning,omitempty"`
}

// ShortageDetailDTO is the breakdown attached to a failed approval.
type ShortageDetailDTO struct {
	BloodGroup       string         `json:"blood_group"`
	Required         int            `json:"required"`
	Available        int            `json:"available"`
	Shortage         int            `json:"shortage"`
	CompatibleGroups []string       `json:"compatible_groups"`
	AvailableByGroup map[string]int `json:"available_by_group"`
}

// HandoverResponseDTO reports a completed handover.
type HandoverResponseDTO struct {
	Success          bool     `json:"success"`
	RequestID        string   `json:"request_id"`
	Status           string   `json:"status"`
	CommittedUnitIDs []string `json:"committed_unit_ids"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toUnitDTO(u engine.BloodUnit) UnitDTO {
	volume, _ := u.VolumeML.Float64()
	return UnitDTO{
		ID:                string(u.ID),
		SerialNumber:      u.SerialNumber,
		BloodGroup:        u.Group.String(),
		VolumeML:          volume,
		CollectedAt:       u.CollectedAt.Format(time.RFC3339),
		ExpiresAt:         u.ExpiresAt.Format(time.RFC3339),
		Status:            string(u.Status),
		Reserved:          u.Reserved,
		ReservedBy:        string(u.ReservedBy),
		AssignedRequestID: string(u.AssignedRequestID),
	}
}

func toUnitDTOs(units []engine.BloodUnit) []UnitDTO {
	dtos := make([]UnitDTO, len(units))
	for i, u := range units {
		dtos[i] = toUnitDTO(u)
	}
	return dtos
}

func toRequestDTO(r engine.BloodRequest) RequestDTO {
	dto := RequestDTO{
		ID:             string(r.ID),
		Hospital:       r.Hospital,
		BloodGroup:     r.PatientGroup.String(),
		UnitsRequested: r.UnitsRequested,
		Status:         string(r.Status),
		Urgent:         r.Urgent,
		DeclineReason:  r.DeclineReason,
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      r.UpdatedAt.Format(time.RFC3339),
	}
	if r.WhenNeeded != nil {
		dto.WhenNeeded = r.WhenNeeded.Format(time.RFC3339)
	}
	if r.RetryAt != nil {
		dto.RetryAt = r.RetryAt.Format(time.RFC3339)
	}
	return dto
}

func toShortageDetailDTO(e *engine.InsufficientSupplyError) ShortageDetailDTO {
	groups := make([]string, len(e.CompatibleGroups))
	for i, g := range e.CompatibleGroups {
		groups[i] = g.String()
	}
	byGroup := make(map[string]int)
	for g, n := range e.AvailableByGroup {
		byGroup[g.String()] = n
	}
	return ShortageDetailDTO{
		BloodGroup:       e.Group.String(),
		Required:         e.Required,
		Available:        e.Available,
		Shortage:         e.Shortage,
		CompatibleGroups: groups,
		AvailableByGroup: byGroup,
	}
}

func unitIDStrings(ids []engine.UnitID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
