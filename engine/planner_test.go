package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossmatch/blood-engine/engine"
)

var testBase = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// unit builds a valid allocatable unit expiring the given number of days
// from the test base time.
func unit(id string, g engine.BloodGroup, expiresInDays int) engine.BloodUnit {
	return engine.BloodUnit{
		ID:           engine.UnitID(id),
		SerialNumber: "SN-" + id,
		Group:        g,
		VolumeML:     decimal.NewFromInt(450),
		CollectedAt:  testBase.AddDate(0, 0, expiresInDays-42),
		ExpiresAt:    testBase.AddDate(0, 0, expiresInDays),
		Status:       engine.UnitValid,
	}
}

func bufferUnit(id string, g engine.BloodGroup, expiresInDays int) engine.BloodUnit {
	u := unit(id, g, expiresInDays)
	u.Status = engine.UnitBuffer
	return u
}

func request(g engine.BloodGroup, units int) *engine.BloodRequest {
	return &engine.BloodRequest{
		ID:             "req-1",
		Hospital:       "St. Mary",
		PatientGroup:   g,
		UnitsRequested: units,
		Status:         engine.RequestPending,
	}
}

// sortView mimics the catalog contract: expiry ascending, id tiebreak.
func sortView(units []engine.BloodUnit) []engine.BloodUnit {
	sorted := make([]engine.BloodUnit, len(units))
	copy(sorted, units)
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			a, b := sorted[i], sorted[j]
			if b.ExpiresAt.Before(a.ExpiresAt) ||
				(b.ExpiresAt.Equal(a.ExpiresAt) && b.ID < a.ID) {
				sorted[i], sorted[j] = b, a
			}
		}
	}
	return sorted
}

func planIDs(plan *engine.AllocationPlan) []string {
	ids := make([]string, len(plan.Selected))
	for i, s := range plan.Selected {
		ids[i] = string(s.Unit.ID)
	}
	return ids
}

// =============================================================================
// SELECTION ORDER
// =============================================================================

func TestPlan_OldestExpiryFirst(t *testing.T) {
	// GIVEN: Three O+ units expiring in 5, 1, and 3 days
	// WHEN: One unit is requested by an O+ patient
	// THEN: The unit expiring soonest is selected

	op := group(engine.TypeO, engine.RhPositive)
	view := sortView([]engine.BloodUnit{
		unit("u5", op, 5),
		unit("u1", op, 1),
		unit("u3", op, 3),
	})

	planner := &engine.AllocationPlanner{}
	plan := planner.Plan(request(op, 1), view, nil)

	require.True(t, plan.Satisfiable())
	assert.Equal(t, []string{"u1"}, planIDs(plan))
}

func TestPlan_BufferUnitsAreLastResortWithinGroup(t *testing.T) {
	// GIVEN: Two regular O+ units (10 days out) and one buffer O+ unit
	//        expiring tomorrow
	// WHEN: Two units are requested
	// THEN: Both regular units are chosen; the fresher-expiring buffer unit
	//       is untouched despite the oldest-first rule

	op := group(engine.TypeO, engine.RhPositive)
	buf := bufferUnit("buf", op, 1)
	view := sortView([]engine.BloodUnit{
		unit("r1", op, 10),
		unit("r2", op, 10),
		buf,
	})
	pool := engine.NewBufferPool([]engine.BloodUnit{buf})

	planner := &engine.AllocationPlanner{}
	plan := planner.Plan(request(op, 2), view, pool)

	require.True(t, plan.Satisfiable())
	assert.ElementsMatch(t, []string{"r1", "r2"}, planIDs(plan))
	assert.Empty(t, plan.BufferUnitsUsed)
	assert.Empty(t, plan.Warning)
}

func TestPlan_BufferUsedWhenRegularStockInsufficient(t *testing.T) {
	// GIVEN: One regular and one buffer O+ unit
	// WHEN: Two units are requested
	// THEN: Both are selected, the buffer dip is recorded, and the plan
	//       carries a warning naming the buffer serial

	op := group(engine.TypeO, engine.RhPositive)
	buf := bufferUnit("buf", op, 3)
	view := sortView([]engine.BloodUnit{unit("r1", op, 10), buf})
	pool := engine.NewBufferPool([]engine.BloodUnit{buf})

	planner := &engine.AllocationPlanner{}
	plan := planner.Plan(request(op, 2), view, pool)

	require.True(t, plan.Satisfiable())
	assert.Equal(t, []string{"r1", "buf"}, planIDs(plan))
	require.Len(t, plan.BufferUnitsUsed, 1)
	assert.Equal(t, "SN-buf", plan.BufferUnitsUsed[0].SerialNumber)
	assert.Contains(t, plan.Warning, "emergency reserve used: 1 unit(s)")
	assert.Contains(t, plan.Warning, "SN-buf")
	assert.True(t, plan.Selected[1].IsBuffer)
}

func TestPlan_ExactGroupPreferredOverFresherSubstitute(t *testing.T) {
	// GIVEN: An A+ unit expiring in 30 days and an O- unit expiring tomorrow
	// WHEN: An A+ patient requests one unit
	// THEN: The exact-group A+ unit wins; group priority dominates expiry

	ap := group(engine.TypeA, engine.RhPositive)
	on := group(engine.TypeO, engine.RhNegative)
	view := sortView([]engine.BloodUnit{
		unit("a-plus", ap, 30),
		unit("o-neg", on, 1),
	})

	planner := &engine.AllocationPlanner{}
	plan := planner.Plan(request(ap, 1), view, nil)

	require.True(t, plan.Satisfiable())
	assert.Equal(t, []string{"a-plus"}, planIDs(plan))
	assert.Equal(t, 4, plan.Selected[0].Priority, "exact A+ match carries its table priority")
}

func TestPlan_SubstituteGroupsWalkedInPriorityOrder(t *testing.T) {
	// AB+ accepts everything; with one unit per group, the take order must
	// follow the compatibility priorities exactly.
	abp := group(engine.TypeAB, engine.RhPositive)
	view := sortView([]engine.BloodUnit{
		unit("o-neg", group(engine.TypeO, engine.RhNegative), 5),
		unit("o-pos", group(engine.TypeO, engine.RhPositive), 5),
		unit("b-neg", group(engine.TypeB, engine.RhNegative), 5),
		unit("b-pos", group(engine.TypeB, engine.RhPositive), 5),
		unit("a-neg", group(engine.TypeA, engine.RhNegative), 5),
		unit("a-pos", group(engine.TypeA, engine.RhPositive), 5),
		unit("ab-neg", group(engine.TypeAB, engine.RhNegative), 5),
		unit("ab-pos", abp, 5),
	})

	planner := &engine.AllocationPlanner{}
	plan := planner.Plan(request(abp, 8), view, nil)

	require.True(t, plan.Satisfiable())
	assert.Equal(t, []string{
		"ab-pos", "ab-neg", "a-pos", "a-neg", "b-pos", "b-neg", "o-pos", "o-neg",
	}, planIDs(plan))
}

// =============================================================================
// SHORTAGE AND EDGE CASES
// =============================================================================

func TestPlan_ShortageArithmetic(t *testing.T) {
	// GIVEN: Two allocatable AB- compatible units
	// WHEN: Five are requested
	// THEN: Shortage is 3 and the plan is not satisfiable

	abn := group(engine.TypeAB, engine.RhNegative)
	view := sortView([]engine.BloodUnit{
		unit("u1", abn, 3),
		unit("u2", group(engine.TypeO, engine.RhNegative), 5),
	})

	planner := &engine.AllocationPlanner{}
	plan := planner.Plan(request(abn, 5), view, nil)

	assert.False(t, plan.Satisfiable())
	assert.Equal(t, 5, plan.Requested)
	assert.Len(t, plan.Selected, 2)
	assert.Equal(t, 3, plan.Shortage)
}

func TestPlan_ZeroUnitsRequestedYieldsEmptyPlan(t *testing.T) {
	op := group(engine.TypeO, engine.RhPositive)
	view := sortView([]engine.BloodUnit{unit("u1", op, 3)})

	planner := &engine.AllocationPlanner{}
	plan := planner.Plan(request(op, 0), view, nil)

	assert.True(t, plan.Satisfiable())
	assert.Empty(t, plan.Selected)
	assert.Equal(t, 0, plan.Shortage)
	assert.True(t, plan.TotalVolumeML.IsZero())
}

func TestPlan_DuplicateUnitInViewSelectedOnce(t *testing.T) {
	op := group(engine.TypeO, engine.RhPositive)
	u := unit("dup", op, 3)
	view := []engine.BloodUnit{u, u, unit("u2", op, 5)}

	planner := &engine.AllocationPlanner{}
	plan := planner.Plan(request(op, 2), view, nil)

	require.True(t, plan.Satisfiable())
	assert.Equal(t, []string{"dup", "u2"}, planIDs(plan))
}

func TestPlan_EmptyViewIsFullShortage(t *testing.T) {
	op := group(engine.TypeO, engine.RhPositive)

	planner := &engine.AllocationPlanner{}
	plan := planner.Plan(request(op, 3), nil, nil)

	assert.False(t, plan.Satisfiable())
	assert.Equal(t, 3, plan.Shortage)
	assert.Empty(t, plan.Selected)
}

func TestPlan_TotalVolumeAccumulates(t *testing.T) {
	op := group(engine.TypeO, engine.RhPositive)
	u1 := unit("u1", op, 3)
	u1.VolumeML = decimal.NewFromFloat(447.5)
	u2 := unit("u2", op, 5)
	u2.VolumeML = decimal.NewFromFloat(452.5)

	planner := &engine.AllocationPlanner{}
	plan := planner.Plan(request(op, 2), sortView([]engine.BloodUnit{u1, u2}), nil)

	require.True(t, plan.Satisfiable())
	assert.True(t, plan.TotalVolumeML.Equal(decimal.NewFromInt(900)),
		"got %s", plan.TotalVolumeML)
}

// =============================================================================
// END-TO-END SCENARIO
// =============================================================================

func TestPlan_MixedStockScenario(t *testing.T) {
	// GIVEN: An O+ patient needing 3 units against mixed stock:
	//        2 regular O+, 1 buffer O+, 2 regular O-
	// WHEN: Planning
	// THEN: Both regular O+ units go first, then the O+ buffer unit; the
	//       O- stock is untouched because the exact group could cover it

	op := group(engine.TypeO, engine.RhPositive)
	on := group(engine.TypeO, engine.RhNegative)
	buf := bufferUnit("op-buf", op, 2)
	view := sortView([]engine.BloodUnit{
		unit("op-1", op, 4),
		unit("op-2", op, 8),
		buf,
		unit("on-1", on, 1),
		unit("on-2", on, 6),
	})
	pool := engine.NewBufferPool([]engine.BloodUnit{buf})

	planner := &engine.AllocationPlanner{}
	plan := planner.Plan(request(op, 3), view, pool)

	require.True(t, plan.Satisfiable())
	assert.Equal(t, []string{"op-1", "op-2", "op-buf"}, planIDs(plan))
	assert.Len(t, plan.BufferUnitsUsed, 1)
	assert.NotEmpty(t, plan.Warning)
}
