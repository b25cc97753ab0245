package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossmatch/blood-engine/engine"
	"github.com/crossmatch/blood-engine/engine/store"
)

func planOf(reqID engine.RequestID, units ...engine.BloodUnit) *engine.AllocationPlan {
	plan := &engine.AllocationPlan{RequestID: reqID, Requested: len(units)}
	for _, u := range units {
		plan.Selected = append(plan.Selected, engine.PlannedUnit{Unit: u})
	}
	return plan
}

// =============================================================================
// RESERVE
// =============================================================================

func TestReserve_ClaimsEveryPlannedUnit(t *testing.T) {
	op := group(engine.TypeO, engine.RhPositive)
	u1, u2 := unit("u1", op, 3), unit("u2", op, 5)

	mem := store.NewMemory()
	seedUnits(t, mem, u1, u2)

	rc := &engine.ReservationCoordinator{Units: mem, Now: fixedClock(testBase)}
	res, err := rc.Reserve(context.Background(), planOf("req-1", u1, u2), "req-1")

	require.NoError(t, err)
	assert.Equal(t, []engine.UnitID{"u1", "u2"}, res.UnitIDs)
	assert.NotEmpty(t, res.ID)

	held, err := mem.UnitsReservedBy(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, held, 2)
	for _, u := range held {
		assert.True(t, u.Reserved)
		assert.Equal(t, engine.RequestID("req-1"), u.ReservedBy)
		require.NotNil(t, u.ReservedAt)
		assert.True(t, u.ReservedAt.Equal(testBase))
	}
}

func TestReserve_RejectsUnsatisfiablePlan(t *testing.T) {
	mem := store.NewMemory()
	rc := &engine.ReservationCoordinator{Units: mem}

	plan := &engine.AllocationPlan{RequestID: "req-1", Requested: 2, Shortage: 2}
	_, err := rc.Reserve(context.Background(), plan, "req-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInsufficientSupply)
}

func TestReserve_LostRaceRollsBackAndNamesContestedUnits(t *testing.T) {
	// GIVEN: Two planned units, one already reserved by another request
	// WHEN: Reserving
	// THEN: The attempt fails with the contested id and the unit it DID win
	//       is released again

	op := group(engine.TypeO, engine.RhPositive)
	free := unit("free", op, 3)
	contested := unit("contested", op, 5)

	mem := store.NewMemory()
	seedUnits(t, mem, free, contested)

	won, err := mem.ConditionalReserve(context.Background(), "contested", "rival", testBase)
	require.NoError(t, err)
	require.True(t, won)

	rc := &engine.ReservationCoordinator{Units: mem, Now: fixedClock(testBase)}
	_, err = rc.Reserve(context.Background(), planOf("req-1", free, contested), "req-1")

	require.Error(t, err)
	assert.True(t, engine.IsRetryable(err), "a lost race is retryable")

	var conflict *engine.ReservationConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []engine.UnitID{"contested"}, conflict.ContestedUnits)

	// The unit this attempt won must have been rolled back.
	u, err := mem.GetUnit(context.Background(), "free")
	require.NoError(t, err)
	assert.False(t, u.Reserved)

	// The rival's hold is untouched.
	u, err = mem.GetUnit(context.Background(), "contested")
	require.NoError(t, err)
	assert.Equal(t, engine.RequestID("rival"), u.ReservedBy)
}

func TestReserve_ConcurrentApprovalsNeverDoubleAllocate(t *testing.T) {
	// GIVEN: A single allocatable unit and many concurrent reservation attempts
	// WHEN: All attempts race on the same plan
	// THEN: Exactly one wins; every loser gets a retryable conflict

	op := group(engine.TypeO, engine.RhPositive)
	u := unit("hot", op, 3)

	mem := store.NewMemory()
	seedUnits(t, mem, u)

	const attempts = 32
	var wg sync.WaitGroup
	winners := make(chan engine.RequestID, attempts)
	losers := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			reqID := engine.RequestID(string(rune('A' + n%26)))
			rc := &engine.ReservationCoordinator{Units: mem}
			_, err := rc.Reserve(context.Background(), planOf(reqID, u), reqID)
			if err != nil {
				losers <- err
				return
			}
			winners <- reqID
		}(i)
	}
	wg.Wait()
	close(winners)
	close(losers)

	assert.Len(t, winners, 1, "exactly one attempt may win the unit")
	assert.Len(t, losers, attempts-1)
	for err := range losers {
		assert.True(t, engine.IsRetryable(err), "losers must see a retryable conflict, got %v", err)
	}
}

// =============================================================================
// RELEASE
// =============================================================================

func TestRelease_IsIdempotent(t *testing.T) {
	op := group(engine.TypeO, engine.RhPositive)
	u := unit("u1", op, 3)

	mem := store.NewMemory()
	seedUnits(t, mem, u)

	rc := &engine.ReservationCoordinator{Units: mem}
	res, err := rc.Reserve(context.Background(), planOf("req-1", u), "req-1")
	require.NoError(t, err)

	require.NoError(t, rc.Release(context.Background(), res))
	require.NoError(t, rc.Release(context.Background(), res), "double release is a no-op")
	require.NoError(t, rc.Release(context.Background(), nil), "nil reservation is a no-op")

	got, err := mem.GetUnit(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, got.Reserved)
	assert.Empty(t, got.ReservedBy)
}

func TestRelease_NeverClearsCommittedUnits(t *testing.T) {
	op := group(engine.TypeO, engine.RhPositive)
	u := unit("u1", op, 3)

	mem := store.NewMemory()
	seedUnits(t, mem, u)

	rc := &engine.ReservationCoordinator{Units: mem}
	res, err := rc.Reserve(context.Background(), planOf("req-1", u), "req-1")
	require.NoError(t, err)

	_, err = rc.Commit(context.Background(), res)
	require.NoError(t, err)

	require.NoError(t, rc.Release(context.Background(), res))

	got, err := mem.GetUnit(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, engine.UnitHandedOver, got.Status)
	assert.Equal(t, engine.RequestID("req-1"), got.AssignedRequestID)
}

// =============================================================================
// COMMIT
// =============================================================================

func TestCommit_MarksUnitsHandedOver(t *testing.T) {
	op := group(engine.TypeO, engine.RhPositive)
	u1, u2 := unit("u1", op, 3), unit("u2", op, 5)

	mem := store.NewMemory()
	seedUnits(t, mem, u1, u2)

	rc := &engine.ReservationCoordinator{Units: mem}
	res, err := rc.Reserve(context.Background(), planOf("req-1", u1, u2), "req-1")
	require.NoError(t, err)

	committed, err := rc.Commit(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, []engine.UnitID{"u1", "u2"}, committed)

	for _, id := range committed {
		got, err := mem.GetUnit(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, engine.UnitHandedOver, got.Status)
		assert.Equal(t, engine.RequestID("req-1"), got.AssignedRequestID)
		assert.False(t, got.Reserved)
	}
}

// flakyCommitStore fails CommitUnits after the first unit, simulating a
// mid-commit store outage.
type flakyCommitStore struct {
	*store.Memory
}

func (f *flakyCommitStore) CommitUnits(ctx context.Context, ids []engine.UnitID, requestID engine.RequestID) ([]engine.UnitID, error) {
	if len(ids) <= 1 {
		return f.Memory.CommitUnits(ctx, ids, requestID)
	}
	committed, err := f.Memory.CommitUnits(ctx, ids[:1], requestID)
	if err != nil {
		return committed, err
	}
	return committed, errors.New("store unavailable")
}

func TestCommit_PartialOutcomeIsFatalAndListsBothBuckets(t *testing.T) {
	// GIVEN: A store that commits one unit then fails
	// WHEN: Committing a two-unit reservation
	// THEN: A fatal PartialCommitError names the committed and failed ids;
	//       the committed unit stays committed

	op := group(engine.TypeO, engine.RhPositive)
	u1, u2 := unit("u1", op, 3), unit("u2", op, 5)

	mem := store.NewMemory()
	seedUnits(t, mem, u1, u2)
	flaky := &flakyCommitStore{Memory: mem}

	rc := &engine.ReservationCoordinator{Units: flaky}
	res, err := rc.Reserve(context.Background(), planOf("req-1", u1, u2), "req-1")
	require.NoError(t, err)

	committed, err := rc.Commit(context.Background(), res)

	require.Error(t, err)
	assert.True(t, engine.IsFatal(err), "partial commit must be fatal, never retried")
	assert.False(t, engine.IsRetryable(err))

	var pce *engine.PartialCommitError
	require.ErrorAs(t, err, &pce)
	assert.Equal(t, []engine.UnitID{"u1"}, pce.Committed)
	assert.Equal(t, []engine.UnitID{"u2"}, pce.Failed)
	assert.Equal(t, []engine.UnitID{"u1"}, committed)

	// No rollback: the handed-over unit is irreversible.
	got, err := mem.GetUnit(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, engine.UnitHandedOver, got.Status)
}
