/*
reservation.go - Reserve / commit / release protocol

PURPOSE:
  Turns an advisory AllocationPlan into an exclusive claim on physical
  units, with at-most-once semantics per unit.

LIFECYCLE:
  Reserve:  CAS every planned unit. If any CAS loses to a concurrent
            approval, the units this attempt did win are released and a
            ReservationConflictError names the contested ids. From the
            caller's point of view the reservation is all-or-nothing.
  Commit:   Marks units handed over and assigns the request id. Writes are
            per unit; a partial outcome is NOT rolled back (handed-over
            bags cannot be un-handed) and surfaces as PartialCommitError
            with the exact ids in each bucket.
  Release:  Clears reservations that were never committed. Idempotent:
            releasing an unreserved unit is a no-op.

CONCURRENCY:
  No in-process locks. The store-level conditional update is the sole
  synchronization primitive; concurrent approvals coordinate only through
  it. A reservation abandoned mid-flight (caller timeout) leaks until the
  stale-reservation sweep force-releases it.

SEE ALSO:
  - store.go: ConditionalReserve / CommitUnits / ReleaseUnits contract
  - lifecycle.go: Invokes the protocol at the right transitions
*/
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Reservation is a successful claim on a set of units, held until commit
// or release.
type Reservation struct {
	ID        string
	RequestID RequestID
	UnitIDs   []UnitID
	CreatedAt time.Time
}

// ReservationCoordinator executes plans against the unit store.
type ReservationCoordinator struct {
	Units UnitStore

	// Now is the clock stamped onto reservations. Defaults to time.Now.
	Now func() time.Time
}

func (rc *ReservationCoordinator) now() time.Time {
	if rc.Now != nil {
		return rc.Now()
	}
	return time.Now()
}

// Reserve claims every unit in the plan for the request. On any lost CAS
// the units already won by this attempt are rolled back via release and a
// ReservationConflictError is returned; the caller should re-plan and retry.
func (rc *ReservationCoordinator) Reserve(ctx context.Context, plan *AllocationPlan, requestID RequestID) (*Reservation, error) {
	if !plan.Satisfiable() {
		return nil, &InsufficientSupplyError{
			RequestID: requestID,
			Required:  plan.Requested,
			Available: len(plan.Selected),
			Shortage:  plan.Shortage,
		}
	}

	at := rc.now()
	res := &Reservation{
		ID:        uuid.NewString(),
		RequestID: requestID,
		CreatedAt: at,
	}

	var contested []UnitID
	for _, id := range plan.UnitIDs() {
		won, err := rc.Units.ConditionalReserve(ctx, id, requestID, at)
		if err != nil {
			// Store failure: roll back what we hold and surface the error.
			rc.rollback(ctx, res)
			return nil, fmt.Errorf("failed to reserve unit %s: %w", id, err)
		}
		if !won {
			contested = append(contested, id)
			continue
		}
		res.UnitIDs = append(res.UnitIDs, id)
	}

	if len(contested) > 0 {
		rc.rollback(ctx, res)
		return nil, &ReservationConflictError{RequestID: requestID, ContestedUnits: contested}
	}

	return res, nil
}

func (rc *ReservationCoordinator) rollback(ctx context.Context, res *Reservation) {
	if len(res.UnitIDs) == 0 {
		return
	}
	if err := rc.Units.ReleaseUnits(ctx, res.UnitIDs); err != nil {
		// The stale-reservation sweep will reclaim these; log for the operator.
		log.Printf("[Reservation] rollback release failed for request %s units %v: %v",
			res.RequestID, res.UnitIDs, err)
	}
}

// Commit marks every reserved unit handed over and assigns the request id.
// A partial outcome is fatal: committed units stay committed, the error
// lists both buckets, and the caller must not advance the request.
func (rc *ReservationCoordinator) Commit(ctx context.Context, res *Reservation) ([]UnitID, error) {
	committed, err := rc.Units.CommitUnits(ctx, res.UnitIDs, res.RequestID)
	if err == nil && len(committed) == len(res.UnitIDs) {
		return committed, nil
	}

	failed := make([]UnitID, 0, len(res.UnitIDs)-len(committed))
	done := make(map[UnitID]bool, len(committed))
	for _, id := range committed {
		done[id] = true
	}
	for _, id := range res.UnitIDs {
		if !done[id] {
			failed = append(failed, id)
		}
	}

	pce := &PartialCommitError{
		RequestID: res.RequestID,
		Committed: committed,
		Failed:    failed,
		Cause:     err,
	}
	// Manual reconciliation needs the exact buckets; make sure they reach
	// the log even if a caller swallows the error.
	log.Printf("[Reservation] PARTIAL COMMIT request=%s committed=%v failed=%v cause=%v",
		res.RequestID, committed, failed, err)
	return committed, pce
}

// Release clears the reservation without committing. Safe to call on an
// already-released or never-reserved set; the store treats those as no-ops.
func (rc *ReservationCoordinator) Release(ctx context.Context, res *Reservation) error {
	if res == nil || len(res.UnitIDs) == 0 {
		return nil
	}
	if err := rc.Units.ReleaseUnits(ctx, res.UnitIDs); err != nil {
		return fmt.Errorf("failed to release reservation %s: %w", res.ID, err)
	}
	return nil
}
