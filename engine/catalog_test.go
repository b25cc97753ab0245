package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossmatch/blood-engine/engine"
	"github.com/crossmatch/blood-engine/engine/store"
)

func seedUnits(t *testing.T, mem *store.Memory, units ...engine.BloodUnit) {
	t.Helper()
	for _, u := range units {
		require.NoError(t, mem.SaveUnit(context.Background(), u))
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// =============================================================================
// CATALOG VIEW TESTS
// =============================================================================

func TestCatalog_OrdersByExpiryAscending(t *testing.T) {
	// GIVEN: Units expiring in 7, 2, and 4 days
	// WHEN: Querying the available view
	// THEN: Units come back soonest-expiry first

	op := group(engine.TypeO, engine.RhPositive)
	mem := store.NewMemory()
	seedUnits(t, mem, unit("u7", op, 7), unit("u2", op, 2), unit("u4", op, 4))

	catalog := &engine.InventoryCatalog{Units: mem, Now: fixedClock(testBase)}
	view, err := catalog.AvailableUnits(context.Background(), []engine.BloodGroup{op})

	require.NoError(t, err)
	require.Len(t, view, 3)
	assert.Equal(t, engine.UnitID("u2"), view[0].ID)
	assert.Equal(t, engine.UnitID("u4"), view[1].ID)
	assert.Equal(t, engine.UnitID("u7"), view[2].ID)
}

func TestCatalog_ExcludesReservedAssignedAndNonAllocatableStatuses(t *testing.T) {
	op := group(engine.TypeO, engine.RhPositive)

	reserved := unit("reserved", op, 5)
	reserved.Reserved = true

	assigned := unit("assigned", op, 5)
	assigned.AssignedRequestID = "req-x"

	disposed := unit("disposed", op, 5)
	disposed.Status = engine.UnitDisposed

	expired := unit("expired-status", op, 5)
	expired.Status = engine.UnitExpired

	mem := store.NewMemory()
	seedUnits(t, mem, unit("ok", op, 5), bufferUnit("ok-buffer", op, 5),
		reserved, assigned, disposed, expired)

	catalog := &engine.InventoryCatalog{Units: mem, Now: fixedClock(testBase)}
	view, err := catalog.AvailableUnits(context.Background(), []engine.BloodGroup{op})

	require.NoError(t, err)
	require.Len(t, view, 2, "only the clean valid and buffer units survive")
	assert.ElementsMatch(t,
		[]engine.UnitID{"ok", "ok-buffer"},
		[]engine.UnitID{view[0].ID, view[1].ID})
}

func TestCatalog_RechecksExpiryAgainstOwnClock(t *testing.T) {
	// GIVEN: A unit whose status still says valid but whose ExpiresAt has
	//        passed (the disposal sweep is lagging)
	// WHEN: Querying the view
	// THEN: The unit is filtered out anyway

	op := group(engine.TypeO, engine.RhPositive)
	stale := unit("stale", op, 1)

	mem := store.NewMemory()
	seedUnits(t, mem, stale, unit("fresh", op, 10))

	// Clock two days past the stale unit's expiry; status never updated.
	catalog := &engine.InventoryCatalog{Units: mem, Now: fixedClock(testBase.AddDate(0, 0, 2))}
	view, err := catalog.AvailableUnits(context.Background(), []engine.BloodGroup{op})

	require.NoError(t, err)
	require.Len(t, view, 1)
	assert.Equal(t, engine.UnitID("fresh"), view[0].ID)
}

func TestCatalog_UnitExpiringExactlyNowIsExcluded(t *testing.T) {
	op := group(engine.TypeO, engine.RhPositive)
	boundary := unit("boundary", op, 0) // ExpiresAt == testBase

	mem := store.NewMemory()
	seedUnits(t, mem, boundary)

	catalog := &engine.InventoryCatalog{Units: mem, Now: fixedClock(testBase)}
	view, err := catalog.AvailableUnits(context.Background(), []engine.BloodGroup{op})

	require.NoError(t, err)
	assert.Empty(t, view, "expiry boundary is exclusive: now >= ExpiresAt means expired")
}

func TestCatalog_AvailableForSpansCompatibleGroups(t *testing.T) {
	// An A- patient can take A- and O- stock, nothing else.
	an := group(engine.TypeA, engine.RhNegative)
	mem := store.NewMemory()
	seedUnits(t, mem,
		unit("a-neg", an, 5),
		unit("o-neg", group(engine.TypeO, engine.RhNegative), 3),
		unit("a-pos", group(engine.TypeA, engine.RhPositive), 1),
		unit("o-pos", group(engine.TypeO, engine.RhPositive), 1),
	)

	catalog := &engine.InventoryCatalog{Units: mem, Now: fixedClock(testBase)}
	view, err := catalog.AvailableFor(context.Background(), an)

	require.NoError(t, err)
	require.Len(t, view, 2)
	assert.ElementsMatch(t,
		[]engine.UnitID{"a-neg", "o-neg"},
		[]engine.UnitID{view[0].ID, view[1].ID})
}

func TestCatalog_NoGroupsYieldsEmptyView(t *testing.T) {
	mem := store.NewMemory()
	seedUnits(t, mem, unit("u1", group(engine.TypeO, engine.RhPositive), 5))

	catalog := &engine.InventoryCatalog{Units: mem, Now: fixedClock(testBase)}
	view, err := catalog.AvailableUnits(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, view)
}
