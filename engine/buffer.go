/*
buffer.go - Emergency reserve (buffer) pool and membership classifier

PURPOSE:
  The buffer pool is the subset of otherwise-valid units held back as
  emergency reserve. Membership does not change transfusion eligibility;
  it only demotes allocation priority (buffer units are taken last) and
  triggers a user-visible warning when a plan dips into the pool.

  The pool is a read-only snapshot produced by the buffer manager
  collaborator (BufferProvider). Lookups by id and serial are O(1).

SEE ALSO:
  - planner.go: Partitions the catalog view with IsBuffer
  - store.go: BufferProvider contract
*/
package engine

// BufferPool is a read-only snapshot of the emergency reserve, keyed for
// O(1) membership tests and per-group count lookups.
type BufferPool struct {
	countsByGroup map[BloodGroup]int
	byID          map[UnitID]struct{}
	bySerial      map[string]struct{}
}

// NewBufferPool builds a snapshot from the units currently flagged as reserve.
func NewBufferPool(units []BloodUnit) *BufferPool {
	p := &BufferPool{
		countsByGroup: make(map[BloodGroup]int),
		byID:          make(map[UnitID]struct{}),
		bySerial:      make(map[string]struct{}),
	}
	for _, u := range units {
		p.countsByGroup[u.Group]++
		p.byID[u.ID] = struct{}{}
		if u.SerialNumber != "" {
			p.bySerial[u.SerialNumber] = struct{}{}
		}
	}
	return p
}

// Contains reports membership by id or serial number. Nil-safe.
func (p *BufferPool) Contains(u BloodUnit) bool {
	if p == nil {
		return false
	}
	if _, ok := p.byID[u.ID]; ok {
		return true
	}
	_, ok := p.bySerial[u.SerialNumber]
	return ok
}

// CountFor returns how many reserve units of a group the snapshot holds.
func (p *BufferPool) CountFor(g BloodGroup) int {
	if p == nil {
		return 0
	}
	return p.countsByGroup[g]
}

// Size returns the total number of reserve units in the snapshot.
func (p *BufferPool) Size() int {
	if p == nil {
		return 0
	}
	return len(p.byID)
}

// CountsByGroup returns a copy of the per-group counts.
func (p *BufferPool) CountsByGroup() map[BloodGroup]int {
	out := make(map[BloodGroup]int)
	if p == nil {
		return out
	}
	for g, n := range p.countsByGroup {
		out[g] = n
	}
	return out
}

// IsBuffer reports whether a unit belongs to the emergency reserve, either
// by its own status flag or by pool membership. The pool may lag the unit
// table slightly; the status flag is checked first so a freshly flagged
// unit is classified correctly.
func IsBuffer(u BloodUnit, pool *BufferPool) bool {
	if u.Status == UnitBuffer {
		return true
	}
	return pool.Contains(u)
}
