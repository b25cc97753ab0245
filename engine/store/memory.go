// Package store provides in-memory implementations of the engine's
// persistence interfaces, used in tests and development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crossmatch/blood-engine/engine"
)

// =============================================================================
// MEMORY STORE - units, requests, and buffer snapshots
// =============================================================================

// Memory implements engine.UnitStore, engine.RequestStore, and
// engine.BufferProvider behind a single mutex. ConditionalReserve runs its
// check-and-flip under the lock, giving the same exactly-one-winner
// guarantee as the SQL store's conditional update.
type Memory struct {
	mu       sync.RWMutex
	units    map[engine.UnitID]engine.BloodUnit
	requests map[engine.RequestID]engine.BloodRequest
}

func NewMemory() *Memory {
	return &Memory{
		units:    make(map[engine.UnitID]engine.BloodUnit),
		requests: make(map[engine.RequestID]engine.BloodRequest),
	}
}

var _ engine.UnitStore = (*Memory)(nil)
var _ engine.RequestStore = (*Memory)(nil)
var _ engine.BufferProvider = (*Memory)(nil)

// =============================================================================
// UNIT STORE
// =============================================================================

func (m *Memory) QueryUnits(_ context.Context, filter engine.UnitFilter) ([]engine.BloodUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.BloodUnit
	for _, u := range m.units {
		if !matches(u, filter) {
			continue
		}
		result = append(result, u)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpiresAt.Equal(result[j].ExpiresAt) {
			return result[i].ExpiresAt.Before(result[j].ExpiresAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func matches(u engine.BloodUnit, f engine.UnitFilter) bool {
	if len(f.Groups) > 0 {
		found := false
		for _, g := range f.Groups {
			if u.Group == g {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.StatusIn) > 0 {
		found := false
		for _, s := range f.StatusIn {
			if u.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.NotExpiredAsOf.IsZero() && u.ExpiredAt(f.NotExpiredAsOf) {
		return false
	}
	if f.ExcludeReserved && u.Reserved {
		return false
	}
	if f.ExcludeAssigned && u.AssignedRequestID != "" {
		return false
	}
	return true
}

func (m *Memory) GetUnit(_ context.Context, id engine.UnitID) (*engine.BloodUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.units[id]
	if !ok {
		return nil, engine.ErrUnitNotFound
	}
	return &u, nil
}

func (m *Memory) SaveUnit(_ context.Context, unit engine.BloodUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[unit.ID] = unit
	return nil
}

// ConditionalReserve is the CAS: flip reserved false->true only if the unit
// is unreserved, unassigned, and in an allocatable status.
func (m *Memory) ConditionalReserve(_ context.Context, id engine.UnitID, by engine.RequestID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.units[id]
	if !ok {
		return false, engine.ErrUnitNotFound
	}
	if u.Reserved || u.AssignedRequestID != "" {
		return false, nil
	}
	if u.Status != engine.UnitValid && u.Status != engine.UnitBuffer {
		return false, nil
	}

	u.Reserved = true
	u.ReservedBy = by
	ts := at
	u.ReservedAt = &ts
	m.units[id] = u
	return true, nil
}

func (m *Memory) CommitUnits(_ context.Context, ids []engine.UnitID, requestID engine.RequestID) ([]engine.UnitID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var committed []engine.UnitID
	for _, id := range ids {
		u, ok := m.units[id]
		if !ok || !u.Reserved || u.ReservedBy != requestID {
			return committed, engine.ErrUnitNotFound
		}
		u.Status = engine.UnitHandedOver
		u.AssignedRequestID = requestID
		u.Reserved = false
		u.ReservedBy = ""
		u.ReservedAt = nil
		m.units[id] = u
		committed = append(committed, id)
	}
	return committed, nil
}

func (m *Memory) ReleaseUnits(_ context.Context, ids []engine.UnitID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		u, ok := m.units[id]
		if !ok || !u.Reserved || u.AssignedRequestID != "" {
			continue // no-op: never reserved, already released, or committed
		}
		u.Reserved = false
		u.ReservedBy = ""
		u.ReservedAt = nil
		m.units[id] = u
	}
	return nil
}

func (m *Memory) UnitsReservedBy(_ context.Context, requestID engine.RequestID) ([]engine.BloodUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.BloodUnit
	for _, u := range m.units {
		if u.Reserved && u.ReservedBy == requestID {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) ReleaseStale(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := 0
	for id, u := range m.units {
		if u.Reserved && u.AssignedRequestID == "" && u.ReservedAt != nil && u.ReservedAt.Before(cutoff) {
			u.Reserved = false
			u.ReservedBy = ""
			u.ReservedAt = nil
			m.units[id] = u
			released++
		}
	}
	return released, nil
}

func (m *Memory) MarkExpired(_ context.Context, asOf time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	marked := 0
	for id, u := range m.units {
		if (u.Status == engine.UnitValid || u.Status == engine.UnitBuffer) &&
			!u.Reserved && u.ExpiredAt(asOf) {
			u.Status = engine.UnitExpired
			m.units[id] = u
			marked++
		}
	}
	return marked, nil
}

// =============================================================================
// REQUEST STORE
// =============================================================================

func (m *Memory) GetRequest(_ context.Context, id engine.RequestID) (*engine.BloodRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, engine.ErrRequestNotFound
	}
	return &r, nil
}

func (m *Memory) SaveRequest(_ context.Context, req engine.BloodRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = req
	return nil
}

func (m *Memory) UpdateRequestStatus(_ context.Context, id engine.RequestID, status engine.RequestStatus, fields engine.StatusFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return engine.ErrRequestNotFound
	}
	r.Status = status
	if fields.DeclineReason != "" {
		r.DeclineReason = fields.DeclineReason
	}
	if fields.RetryAt != nil {
		r.RetryAt = fields.RetryAt
	}
	r.UpdatedAt = time.Now()
	m.requests[id] = r
	return nil
}

func (m *Memory) ListRequests(_ context.Context, statuses ...engine.RequestStatus) ([]engine.BloodRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.BloodRequest
	for _, r := range m.requests {
		if len(statuses) == 0 {
			result = append(result, r)
			continue
		}
		for _, s := range statuses {
			if r.Status == s {
				result = append(result, r)
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// =============================================================================
// BUFFER PROVIDER
// =============================================================================

// GetBufferPool snapshots the units currently flagged as emergency reserve.
func (m *Memory) GetBufferPool(_ context.Context) (*engine.BufferPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var buffered []engine.BloodUnit
	for _, u := range m.units {
		if u.Status == engine.UnitBuffer {
			buffered = append(buffered, u)
		}
	}
	return engine.NewBufferPool(buffered), nil
}
