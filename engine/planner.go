/*
planner.go - Unit selection algorithm

PURPOSE:
  Produces an ordered AllocationPlan for a request from a catalog view.
  The plan is advisory: it is computed against a possibly-stale snapshot
  and only becomes binding when the ReservationCoordinator wins the CAS
  for every selected unit.

SELECTION ORDER:
  1. Donor groups in compatibility priority order, exact match first.
  2. Within each group: non-buffer units before buffer units. Dipping into
     the emergency reserve is worse than using slightly-fresher regular
     stock, so buffer units are last resort even when they expire sooner.
  3. Within each partition: earliest expiry first (the catalog view is
     already sorted oldest-first).

  Units are indivisible: the walk takes whole units until the requested
  quantity is satisfied or stock runs out. A unit id is never selected
  twice, even if the snapshot contains duplicates.

SHORTAGE:
  A plan that cannot cover the request is still returned, with Shortage
  set, so previews can show exactly how short the bank is. Callers must
  never commit a partial plan.

SEE ALSO:
  - compat.go: Donor group priority order
  - catalog.go: Produces the filtered, expiry-sorted view
  - reservation.go: Makes the plan binding
*/
package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AllocationPlanner computes selection plans. Stateless; safe for
// concurrent use.
type AllocationPlanner struct{}

// Plan selects units from the catalog view to cover the request.
//
// The view must already be filtered to allocatable units of groups
// compatible with the request (see InventoryCatalog) and sorted ascending
// by expiry. Requesting zero units yields an empty, satisfiable plan.
func (p *AllocationPlanner) Plan(req *BloodRequest, view []BloodUnit, pool *BufferPool) *AllocationPlan {
	plan := &AllocationPlan{
		RequestID:     req.ID,
		Requested:     req.UnitsRequested,
		TotalVolumeML: decimal.Zero,
	}

	need := req.UnitsRequested
	if need <= 0 {
		return plan
	}

	// Bucket the view by donor group, preserving expiry order, and split
	// each bucket into regular and buffer queues.
	type bucket struct {
		regular []BloodUnit
		buffer  []BloodUnit
	}
	buckets := make(map[BloodGroup]*bucket)
	for _, u := range view {
		b := buckets[u.Group]
		if b == nil {
			b = &bucket{}
			buckets[u.Group] = b
		}
		if IsBuffer(u, pool) {
			b.buffer = append(b.buffer, u)
		} else {
			b.regular = append(b.regular, u)
		}
	}

	taken := make(map[UnitID]bool)
	take := func(units []BloodUnit, priority int, isBuffer bool) {
		for _, u := range units {
			if need == 0 {
				return
			}
			if taken[u.ID] {
				continue
			}
			taken[u.ID] = true
			plan.Selected = append(plan.Selected, PlannedUnit{
				Unit:     u,
				Priority: priority,
				IsBuffer: isBuffer,
			})
			plan.TotalVolumeML = plan.TotalVolumeML.Add(u.VolumeML)
			if isBuffer {
				plan.BufferUnitsUsed = append(plan.BufferUnitsUsed, u)
			}
			need--
		}
	}

	// Walk donor groups highest priority first (exact match leads), taking
	// regular stock before reserve within each group.
	for _, opt := range Compatible(req.PatientGroup) {
		if need == 0 {
			break
		}
		b := buckets[opt.Group]
		if b == nil {
			continue
		}
		take(b.regular, opt.Priority, false)
		take(b.buffer, opt.Priority, true)
	}

	plan.Shortage = need
	if len(plan.BufferUnitsUsed) > 0 {
		plan.Warning = fmt.Sprintf("emergency reserve used: %d unit(s), serial(s) %s",
			len(plan.BufferUnitsUsed), strings.Join(plan.BufferSerials(), ", "))
	}

	return plan
}
