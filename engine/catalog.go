/*
catalog.go - Read-only inventory view for planning

PURPOSE:
  InventoryCatalog narrows the unit store to the stock a planner may
  consider: non-expired, non-reserved, unassigned units in an allocatable
  status, for a set of compatible groups, ordered oldest-expiry-first
  ("use the oldest stock first").

DEFENSIVE EXPIRY RECHECK:
  The disposal sweep that rewrites unit status is an external collaborator
  and may lag. The catalog therefore re-filters on ExpiresAt against its
  own clock even though the store query already excludes expired rows.

SEE ALSO:
  - store.go: UnitStore.QueryUnits contract
  - planner.go: Sole consumer of the catalog view
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// InventoryCatalog is a read-only view over the unit store. It never writes.
type InventoryCatalog struct {
	Units UnitStore

	// Now is the clock used for expiry rechecks. Defaults to time.Now.
	Now func() time.Time
}

func (c *InventoryCatalog) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// AvailableUnits returns the allocatable units for the given donor groups,
// ordered ascending by expiry, ties broken by id.
func (c *InventoryCatalog) AvailableUnits(ctx context.Context, groups []BloodGroup) ([]BloodUnit, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	now := c.now()

	units, err := c.Units.QueryUnits(ctx, UnitFilter{
		Groups:          groups,
		StatusIn:        []UnitStatus{UnitValid, UnitBuffer},
		NotExpiredAsOf:  now,
		ExcludeReserved: true,
		ExcludeAssigned: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query available units: %w", err)
	}

	// Recheck what the store already promised. The status sweep may lag and
	// a store implementation may have missed a filter; stale stock must
	// never reach the planner.
	eligible := units[:0]
	for _, u := range units {
		if u.Allocatable(now) {
			eligible = append(eligible, u)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if !eligible[i].ExpiresAt.Equal(eligible[j].ExpiresAt) {
			return eligible[i].ExpiresAt.Before(eligible[j].ExpiresAt)
		}
		return eligible[i].ID < eligible[j].ID
	})

	return eligible, nil
}

// AvailableFor resolves compatibility for a recipient group and returns the
// allocatable units across all acceptable donor groups.
func (c *InventoryCatalog) AvailableFor(ctx context.Context, recipient BloodGroup) ([]BloodUnit, error) {
	return c.AvailableUnits(ctx, CompatibleGroups(recipient))
}
