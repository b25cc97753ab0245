package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossmatch/blood-engine/engine"
)

func group(t engine.BloodType, rh engine.RhFactor) engine.BloodGroup {
	return engine.BloodGroup{Type: t, Rh: rh}
}

// =============================================================================
// COMPATIBILITY TABLE TESTS
// =============================================================================

func TestCompatible_ExactMatchAlwaysHighestPriority(t *testing.T) {
	// GIVEN: Every valid recipient group
	// WHEN: Resolving compatibility
	// THEN: The list is non-empty and the top entry is the exact group

	for _, g := range engine.AllGroups() {
		options := engine.Compatible(g)
		require.NotEmpty(t, options, "group %s must have donors", g)
		assert.Equal(t, g, options[0].Group, "exact match must lead for %s", g)

		for i := 1; i < len(options); i++ {
			assert.Greater(t, options[i-1].Priority, options[i].Priority,
				"priorities must strictly decrease for %s", g)
		}
	}
}

func TestCompatible_ONegativeIsUniversalDonorUsedLast(t *testing.T) {
	// O- must appear in every recipient's list, always at the lowest priority.
	for _, g := range engine.AllGroups() {
		options := engine.Compatible(g)
		last := options[len(options)-1]
		assert.Equal(t, group(engine.TypeO, engine.RhNegative), last.Group,
			"O- must be last resort for %s", g)
		assert.Equal(t, 1, last.Priority)
	}
}

func TestCompatible_FixedTable(t *testing.T) {
	tests := []struct {
		recipient engine.BloodGroup
		donors    []engine.BloodGroup
	}{
		{group(engine.TypeO, engine.RhNegative), []engine.BloodGroup{
			group(engine.TypeO, engine.RhNegative),
		}},
		{group(engine.TypeO, engine.RhPositive), []engine.BloodGroup{
			group(engine.TypeO, engine.RhPositive),
			group(engine.TypeO, engine.RhNegative),
		}},
		{group(engine.TypeA, engine.RhPositive), []engine.BloodGroup{
			group(engine.TypeA, engine.RhPositive),
			group(engine.TypeA, engine.RhNegative),
			group(engine.TypeO, engine.RhPositive),
			group(engine.TypeO, engine.RhNegative),
		}},
		{group(engine.TypeA, engine.RhNegative), []engine.BloodGroup{
			group(engine.TypeA, engine.RhNegative),
			group(engine.TypeO, engine.RhNegative),
		}},
		{group(engine.TypeB, engine.RhPositive), []engine.BloodGroup{
			group(engine.TypeB, engine.RhPositive),
			group(engine.TypeB, engine.RhNegative),
			group(engine.TypeO, engine.RhPositive),
			group(engine.TypeO, engine.RhNegative),
		}},
		{group(engine.TypeB, engine.RhNegative), []engine.BloodGroup{
			group(engine.TypeB, engine.RhNegative),
			group(engine.TypeO, engine.RhNegative),
		}},
		{group(engine.TypeAB, engine.RhPositive), []engine.BloodGroup{
			group(engine.TypeAB, engine.RhPositive),
			group(engine.TypeAB, engine.RhNegative),
			group(engine.TypeA, engine.RhPositive),
			group(engine.TypeA, engine.RhNegative),
			group(engine.TypeB, engine.RhPositive),
			group(engine.TypeB, engine.RhNegative),
			group(engine.TypeO, engine.RhPositive),
			group(engine.TypeO, engine.RhNegative),
		}},
		{group(engine.TypeAB, engine.RhNegative), []engine.BloodGroup{
			group(engine.TypeAB, engine.RhNegative),
			group(engine.TypeA, engine.RhNegative),
			group(engine.TypeB, engine.RhNegative),
			group(engine.TypeO, engine.RhNegative),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.recipient.String(), func(t *testing.T) {
			assert.Equal(t, tt.donors, engine.CompatibleGroups(tt.recipient))
		})
	}
}

func TestCompatible_UnknownGroupReturnsEmpty(t *testing.T) {
	options := engine.Compatible(engine.BloodGroup{Type: "X", Rh: engine.RhPositive})
	assert.Empty(t, options, "unknown group has no compatible donors")
}

func TestCanTransfuse(t *testing.T) {
	assert.True(t, engine.CanTransfuse(
		group(engine.TypeO, engine.RhNegative), group(engine.TypeAB, engine.RhPositive)))
	assert.False(t, engine.CanTransfuse(
		group(engine.TypeA, engine.RhPositive), group(engine.TypeO, engine.RhPositive)))
	assert.False(t, engine.CanTransfuse(
		group(engine.TypeO, engine.RhPositive), group(engine.TypeO, engine.RhNegative)),
		"Rh-negative recipient rejects Rh-positive donor")
}

// =============================================================================
// BLOOD GROUP PARSING
// =============================================================================

func TestParseBloodGroup(t *testing.T) {
	tests := []struct {
		in      string
		want    engine.BloodGroup
		wantErr bool
	}{
		{"O+", group(engine.TypeO, engine.RhPositive), false},
		{"ab-", group(engine.TypeAB, engine.RhNegative), false},
		{" B Positive ", group(engine.TypeB, engine.RhPositive), false},
		{"A negative", group(engine.TypeA, engine.RhNegative), false},
		{"C+", engine.BloodGroup{}, true},
		{"O", engine.BloodGroup{}, true},
		{"", engine.BloodGroup{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := engine.ParseBloodGroup(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, engine.ErrUnknownBloodGroup)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBloodGroup_String(t *testing.T) {
	assert.Equal(t, "O-", group(engine.TypeO, engine.RhNegative).String())
	assert.Equal(t, "AB+", group(engine.TypeAB, engine.RhPositive).String())
}
