/*
store.go - Persistence interfaces for units and requests

PURPOSE:
  Defines the contract between the allocation engine and the persistent
  store. Any backend satisfying these operations suffices; the engine
  carries no SQL and no driver imports.

KEY INTERFACES:
  UnitStore:      Unit queries plus the reservation/commit/release writes
  RequestStore:   Request persistence and status updates
  BufferProvider: Read-only emergency reserve snapshots

THE CAS CONTRACT:
  ConditionalReserve is the engine's sole synchronization primitive. It
  MUST be a single atomic conditional update ("set reserved where not
  reserved and unassigned", checked by affected-row count), never a
  read-then-write pair. Two concurrent approvals racing for the same unit
  must observe exactly one winner.

COMMIT SEMANTICS:
  CommitUnits writes per unit and reports which units were actually
  committed. A partial outcome is surfaced, not rolled back: handed-over
  units cannot be safely un-handed in a physical inventory sense.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - engine/store/memory.go: In-memory for testing

SEE ALSO:
  - reservation.go: Drives the reserve/commit/release protocol
  - catalog.go: Read-only consumer of QueryUnits
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// UNIT STORE
// =============================================================================

// UnitFilter narrows a QueryUnits call. Zero values mean "don't filter".
type UnitFilter struct {
	Groups          []BloodGroup
	StatusIn        []UnitStatus
	NotExpiredAsOf  time.Time // Exclude units with ExpiresAt <= this instant
	ExcludeReserved bool
	ExcludeAssigned bool
}

// UnitStore handles persistence of blood units.
type UnitStore interface {
	// QueryUnits returns units matching the filter, ordered ascending by
	// expiry, ties broken by id for determinism.
	QueryUnits(ctx context.Context, filter UnitFilter) ([]BloodUnit, error)

	// GetUnit returns a unit by id, or ErrUnitNotFound.
	GetUnit(ctx context.Context, id UnitID) (*BloodUnit, error)

	// SaveUnit inserts or updates a unit record (intake, buffer flagging,
	// disposal). Not used on the reservation hot path.
	SaveUnit(ctx context.Context, unit BloodUnit) error

	// ConditionalReserve atomically flips reserved false->true for the unit,
	// recording the holding request and timestamp, only if the unit is
	// currently unreserved and unassigned. Returns true iff this call won.
	ConditionalReserve(ctx context.Context, id UnitID, by RequestID, at time.Time) (bool, error)

	// CommitUnits marks units handed over and assigns them to the request.
	// Only units currently reserved by that request are committed. Returns
	// the ids actually committed; a short list plus a non-nil error means a
	// partial commit the caller must surface.
	CommitUnits(ctx context.Context, ids []UnitID, requestID RequestID) ([]UnitID, error)

	// ReleaseUnits clears reservations that were never committed. Releasing
	// an unreserved unit is a no-op, not an error.
	ReleaseUnits(ctx context.Context, ids []UnitID) error

	// UnitsReservedBy returns the units currently reserved for a request.
	UnitsReservedBy(ctx context.Context, requestID RequestID) ([]BloodUnit, error)

	// ReleaseStale force-releases reservations held since before the cutoff
	// with no commit. Returns how many were released.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int, error)

	// MarkExpired flips unreserved past-expiry units to UnitExpired.
	// Returns how many were flipped.
	MarkExpired(ctx context.Context, asOf time.Time) (int, error)
}

// =============================================================================
// REQUEST STORE
// =============================================================================

// StatusFields carries the optional columns written alongside a status change.
type StatusFields struct {
	DeclineReason string
	RetryAt       *time.Time
}

// RequestStore handles persistence of blood requests. Requests are never
// deleted; terminal states are declined and handed_over.
type RequestStore interface {
	// GetRequest returns a request by id, or ErrRequestNotFound.
	GetRequest(ctx context.Context, id RequestID) (*BloodRequest, error)

	// SaveRequest inserts a new request.
	SaveRequest(ctx context.Context, req BloodRequest) error

	// UpdateRequestStatus writes the new status and associated fields.
	UpdateRequestStatus(ctx context.Context, id RequestID, status RequestStatus, fields StatusFields) error

	// ListRequests returns requests in the given statuses, newest first.
	// No statuses means all.
	ListRequests(ctx context.Context, statuses ...RequestStatus) ([]BloodRequest, error)
}

// =============================================================================
// BUFFER PROVIDER
// =============================================================================

// BufferProvider produces read-only emergency reserve snapshots. The store
// implementations derive the pool from units flagged UnitBuffer; an external
// buffer manager can substitute its own snapshot source.
type BufferProvider interface {
	GetBufferPool(ctx context.Context) (*BufferPool, error)
}
