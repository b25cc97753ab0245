/*
compat.go - ABO/Rh transfusion compatibility resolver

PURPOSE:
  Pure lookup from a recipient blood group to the ordered list of donor
  groups that may be transfused, per standard transfusion-medicine rules.
  This is the single source of truth for compatibility; nothing else in
  the engine encodes ABO/Rh knowledge.

RULES (fixed table, no exceptions):
  - Exact type+Rh match is always highest priority.
  - O- is the universal donor and always lowest priority (used last),
    unless the recipient is O.
  - Rh-negative recipients accept only Rh-negative donors.

PRIORITY:
  Higher number = preferred sooner. The planner walks donor groups in
  descending priority, so exact-match stock is consumed before substitutes
  even when a substitute expires sooner.

SEE ALSO:
  - planner.go: Consumes the resolved order
*/
package engine

// DonorOption is one acceptable donor group for a recipient, with its
// selection priority (higher = preferred).
type DonorOption struct {
	Group    BloodGroup
	Priority int
}

var compatibilityTable = map[BloodGroup][]DonorOption{
	{TypeO, RhPositive}: {
		{BloodGroup{TypeO, RhPositive}, 2},
		{BloodGroup{TypeO, RhNegative}, 1},
	},
	{TypeO, RhNegative}: {
		{BloodGroup{TypeO, RhNegative}, 1},
	},
	{TypeA, RhPositive}: {
		{BloodGroup{TypeA, RhPositive}, 4},
		{BloodGroup{TypeA, RhNegative}, 3},
		{BloodGroup{TypeO, RhPositive}, 2},
		{BloodGroup{TypeO, RhNegative}, 1},
	},
	{TypeA, RhNegative}: {
		{BloodGroup{TypeA, RhNegative}, 2},
		{BloodGroup{TypeO, RhNegative}, 1},
	},
	{TypeB, RhPositive}: {
		{BloodGroup{TypeB, RhPositive}, 4},
		{BloodGroup{TypeB, RhNegative}, 3},
		{BloodGroup{TypeO, RhPositive}, 2},
		{BloodGroup{TypeO, RhNegative}, 1},
	},
	{TypeB, RhNegative}: {
		{BloodGroup{TypeB, RhNegative}, 2},
		{BloodGroup{TypeO, RhNegative}, 1},
	},
	{TypeAB, RhPositive}: {
		{BloodGroup{TypeAB, RhPositive}, 8},
		{BloodGroup{TypeAB, RhNegative}, 7},
		{BloodGroup{TypeA, RhPositive}, 6},
		{BloodGroup{TypeA, RhNegative}, 5},
		{BloodGroup{TypeB, RhPositive}, 4},
		{BloodGroup{TypeB, RhNegative}, 3},
		{BloodGroup{TypeO, RhPositive}, 2},
		{BloodGroup{TypeO, RhNegative}, 1},
	},
	{TypeAB, RhNegative}: {
		{BloodGroup{TypeAB, RhNegative}, 4},
		{BloodGroup{TypeA, RhNegative}, 3},
		{BloodGroup{TypeB, RhNegative}, 2},
		{BloodGroup{TypeO, RhNegative}, 1},
	},
}

// Compatible returns the acceptable donor groups for a recipient, highest
// priority first. The first entry is always the exact recipient group.
// An unrecognized group returns an empty list: no compatible donor exists.
func Compatible(recipient BloodGroup) []DonorOption {
	options, ok := compatibilityTable[recipient]
	if !ok {
		return nil
	}
	// Copy so callers can't mutate the table.
	out := make([]DonorOption, len(options))
	copy(out, options)
	return out
}

// CompatibleGroups returns just the donor groups, highest priority first.
func CompatibleGroups(recipient BloodGroup) []BloodGroup {
	options := Compatible(recipient)
	groups := make([]BloodGroup, len(options))
	for i, o := range options {
		groups[i] = o.Group
	}
	return groups
}

// CanTransfuse reports whether donor blood may be given to the recipient.
func CanTransfuse(donor, recipient BloodGroup) bool {
	for _, o := range Compatible(recipient) {
		if o.Group == donor {
			return true
		}
	}
	return false
}
