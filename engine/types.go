/*
Package engine provides the core blood unit allocation engine.

PURPOSE:
  This package contains the domain types and algorithms for allocating
  physical blood units to hospital requests: ABO/Rh compatibility
  resolution, expiry-ordered unit selection, emergency buffer protection,
  and an exactly-once reservation protocol over a shared unit pool.

KEY CONCEPTS IN THIS FILE (types.go):
  - BloodGroup: An ABO type plus Rh factor (e.g., A+, O-)
  - BloodUnit: A single physical collected unit with expiry and status
  - BloodRequest: A hospital's ask for N units of a group
  - AllocationPlan: An ordered, ephemeral selection of units for a request
  - Volume: Collected volume in millilitres (decimal, no float drift)

DESIGN PRINCIPLES:
  1. Planning is advisory, reservation is authoritative: plans are computed
     from a read-only snapshot; correctness is enforced by the store-level
     compare-and-swap at reserve time.
  2. Units are indivisible: no partial-unit allocation, ever.
  3. Precision: volumes use decimal.Decimal to avoid floating-point errors.
  4. Type safety: strong typing for unit and request identifiers.

USAGE:
  group, _ := engine.ParseBloodGroup("A+")
  unit := engine.BloodUnit{
      ID:        "unit-123",
      Group:     group,
      ExpiresAt: collected.AddDate(0, 0, 42),
      Status:    engine.UnitValid,
  }

SEE ALSO:
  - compat.go: ABO/Rh compatibility table
  - planner.go: Unit selection algorithm
  - reservation.go: Reserve/commit/release protocol
*/
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BLOOD GROUP - ABO type + Rh factor
// =============================================================================

type BloodType string

const (
	TypeO  BloodType = "O"
	TypeA  BloodType = "A"
	TypeB  BloodType = "B"
	TypeAB BloodType = "AB"
)

type RhFactor string

const (
	RhPositive RhFactor = "positive"
	RhNegative RhFactor = "negative"
)

// BloodGroup is a complete ABO+Rh designation. It is used both for
// recipients (what the patient needs) and donors (what a unit holds).
type BloodGroup struct {
	Type BloodType
	Rh   RhFactor
}

// String renders the clinical shorthand: "O+", "AB-".
func (g BloodGroup) String() string {
	sign := "+"
	if g.Rh == RhNegative {
		sign = "-"
	}
	return string(g.Type) + sign
}

// Known reports whether the group is one of the eight valid ABO/Rh combinations.
func (g BloodGroup) Known() bool {
	switch g.Type {
	case TypeO, TypeA, TypeB, TypeAB:
	default:
		return false
	}
	return g.Rh == RhPositive || g.Rh == RhNegative
}

// ParseBloodGroup parses clinical shorthand ("O+", "ab-", "B positive").
func ParseBloodGroup(s string) (BloodGroup, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, " POSITIVE", "+")
	norm = strings.ReplaceAll(norm, " NEGATIVE", "-")

	var g BloodGroup
	switch {
	case strings.HasSuffix(norm, "+"):
		g.Rh = RhPositive
		norm = strings.TrimSuffix(norm, "+")
	case strings.HasSuffix(norm, "-"):
		g.Rh = RhNegative
		norm = strings.TrimSuffix(norm, "-")
	default:
		return BloodGroup{}, fmt.Errorf("%w: missing Rh factor in %q", ErrUnknownBloodGroup, s)
	}

	g.Type = BloodType(norm)
	if !g.Known() {
		return BloodGroup{}, fmt.Errorf("%w: %q", ErrUnknownBloodGroup, s)
	}
	return g, nil
}

// AllGroups returns the eight valid ABO/Rh combinations in a fixed order.
func AllGroups() []BloodGroup {
	return []BloodGroup{
		{TypeO, RhNegative}, {TypeO, RhPositive},
		{TypeA, RhNegative}, {TypeA, RhPositive},
		{TypeB, RhNegative}, {TypeB, RhPositive},
		{TypeAB, RhNegative}, {TypeAB, RhPositive},
	}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UnitID string
type RequestID string

// =============================================================================
// BLOOD UNIT - One indivisible collected bag
// =============================================================================

type UnitStatus string

const (
	UnitValid      UnitStatus = "valid"       // In stock, allocatable
	UnitBuffer     UnitStatus = "buffer"      // Emergency reserve, allocatable last
	UnitExpired    UnitStatus = "expired"     // Past expiry, never allocatable
	UnitDisposed   UnitStatus = "disposed"    // Physically discarded
	UnitHandedOver UnitStatus = "handed_over" // Delivered to a hospital
)

// BloodUnit is a single physical collected unit.
//
// Reservation bookkeeping: Reserved flips true exactly once per reservation
// via the store-level CAS (see UnitStore.ConditionalReserve). ReservedBy and
// ReservedAt record which request holds the reservation and since when, so
// handover can find its units and stale reservations can be aged out.
// AssignedRequestID is set only on commit and never cleared.
type BloodUnit struct {
	ID           UnitID
	SerialNumber string
	Group        BloodGroup
	VolumeML     decimal.Decimal

	CollectedAt time.Time
	ExpiresAt   time.Time

	Status            UnitStatus
	Reserved          bool
	ReservedBy        RequestID
	ReservedAt        *time.Time
	AssignedRequestID RequestID
}

// ExpiredAt reports whether the unit is expired as of now (now >= ExpiresAt).
// Callers must use this even when Status has not caught up, because the
// disposal sweep that rewrites Status may lag.
func (u BloodUnit) ExpiredAt(now time.Time) bool {
	return !now.Before(u.ExpiresAt)
}

// Allocatable reports whether the unit may be selected for a new request.
func (u BloodUnit) Allocatable(now time.Time) bool {
	if u.Status != UnitValid && u.Status != UnitBuffer {
		return false
	}
	if u.Reserved || u.AssignedRequestID != "" {
		return false
	}
	return !u.ExpiredAt(now)
}

// =============================================================================
// BLOOD REQUEST - A hospital's ask for units
// =============================================================================

type RequestStatus string

const (
	RequestPending     RequestStatus = "pending"
	RequestRescheduled RequestStatus = "rescheduled"
	RequestApproved    RequestStatus = "approved"
	RequestHandedOver  RequestStatus = "handed_over"
	RequestDeclined    RequestStatus = "declined"
)

// Terminal reports whether no further transitions are legal from s.
func (s RequestStatus) Terminal() bool {
	return s == RequestHandedOver || s == RequestDeclined
}

type BloodRequest struct {
	ID             RequestID
	Hospital       string
	PatientGroup   BloodGroup
	UnitsRequested int

	Status        RequestStatus
	Urgent        bool
	WhenNeeded    *time.Time
	DeclineReason string
	RetryAt       *time.Time // Set when rescheduled

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// ALLOCATION PLAN - Ephemeral selection for one request, never persisted
// =============================================================================

// PlannedUnit pairs a selected unit with the donor priority it was matched
// under, so callers can show why a substitute group was chosen.
type PlannedUnit struct {
	Unit     BloodUnit
	Priority int
	IsBuffer bool
}

type AllocationPlan struct {
	RequestID RequestID
	Requested int

	// Selected units in take order: exact group first, then compatible
	// groups in resolver priority order; non-buffer before buffer within
	// each group; earliest expiry first within each partition.
	Selected []PlannedUnit

	Shortage        int
	BufferUnitsUsed []BloodUnit
	TotalVolumeML   decimal.Decimal
	Warning         string
}

// Satisfiable reports whether the plan covers the full requested quantity.
// Partial plans are returned for preview but must never be committed.
func (p *AllocationPlan) Satisfiable() bool { return p.Shortage == 0 }

// UnitIDs returns the selected unit ids in take order.
func (p *AllocationPlan) UnitIDs() []UnitID {
	ids := make([]UnitID, len(p.Selected))
	for i, s := range p.Selected {
		ids[i] = s.Unit.ID
	}
	return ids
}

// BufferSerials returns the serial numbers of buffer units in the plan.
func (p *AllocationPlan) BufferSerials() []string {
	serials := make([]string, len(p.BufferUnitsUsed))
	for i, u := range p.BufferUnitsUsed {
		serials[i] = u.SerialNumber
	}
	return serials
}
