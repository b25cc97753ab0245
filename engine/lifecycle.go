/*
lifecycle.go - Blood request state machine

PURPOSE:
  Drives a request through its lifecycle, invoking the planner and the
  reservation coordinator at the right transitions.

STATE MACHINE:
  pending | rescheduled --approve--------> approved     (plan + reserve)
  pending | rescheduled --decline(reason)> declined     (terminal)
  pending | rescheduled --reschedule-----> rescheduled  (operator choice on shortage)
  approved             --handover--------> handed_over  (commit, terminal)
  approved             --cancel approval-> pending      (release)

  No other transitions are legal. An illegal move is rejected with
  IllegalTransitionError and mutates nothing.

SHORTAGE POLICY:
  Approval requires a fully satisfiable plan. On shortage the request
  stays where it is and the operator sees the breakdown; rescheduling
  (+72h by default) is an explicit operator-triggered transition, never
  automatic.

SEE ALSO:
  - planner.go: Plan computation
  - reservation.go: Reserve/commit/release
  - errors.go: Error taxonomy surfaced here
*/
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultRescheduleDelay is how far a shortage reschedule pushes a request.
const DefaultRescheduleDelay = 72 * time.Hour

// =============================================================================
// LIFECYCLE MANAGER
// =============================================================================

// RequestLifecycleManager owns all mutations of blood requests.
type RequestLifecycleManager struct {
	Requests    RequestStore
	Units       UnitStore
	Buffer      BufferProvider
	Catalog     *InventoryCatalog
	Planner     *AllocationPlanner
	Coordinator *ReservationCoordinator

	// RescheduleDelay overrides DefaultRescheduleDelay when positive.
	RescheduleDelay time.Duration

	// Now is the clock for status timestamps. Defaults to time.Now.
	Now func() time.Time
}

// NewLifecycleManager wires a manager over a store that implements the unit,
// request, and buffer contracts (both bundled stores do).
func NewLifecycleManager(units UnitStore, requests RequestStore, buffer BufferProvider) *RequestLifecycleManager {
	return &RequestLifecycleManager{
		Requests:    requests,
		Units:       units,
		Buffer:      buffer,
		Catalog:     &InventoryCatalog{Units: units},
		Planner:     &AllocationPlanner{},
		Coordinator: &ReservationCoordinator{Units: units},
	}
}

func (m *RequestLifecycleManager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *RequestLifecycleManager) rescheduleDelay() time.Duration {
	if m.RescheduleDelay > 0 {
		return m.RescheduleDelay
	}
	return DefaultRescheduleDelay
}

// =============================================================================
// REQUEST CREATION
// =============================================================================

// CreateRequest validates and persists a new pending request.
func (m *RequestLifecycleManager) CreateRequest(ctx context.Context, hospital string, group BloodGroup, units int, urgent bool, whenNeeded *time.Time) (*BloodRequest, error) {
	if !group.Known() {
		return nil, &ValidationError{Field: "blood_group", Message: fmt.Sprintf("unrecognized group %q", group)}
	}
	if units <= 0 {
		return nil, &ValidationError{Field: "units_requested", Message: "must be positive"}
	}

	now := m.now()
	req := BloodRequest{
		ID:             RequestID(uuid.NewString()),
		Hospital:       hospital,
		PatientGroup:   group,
		UnitsRequested: units,
		Status:         RequestPending,
		Urgent:         urgent,
		WhenNeeded:     whenNeeded,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.Requests.SaveRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to save request: %w", err)
	}
	return &req, nil
}

// =============================================================================
// FULFILLMENT PREVIEW - read-only, no side effects
// =============================================================================

// FulfillmentCheck is the operator-facing preview of whether a request can
// be satisfied from current stock.
type FulfillmentCheck struct {
	RequestID        RequestID
	CanFulfill       bool
	AvailableCount   int
	RequiredCount    int
	Shortage         int
	BufferWillBeUsed bool
	BufferSerials    []string
	TotalVolumeML    decimal.Decimal
	Message          string
}

// CheckFulfillment computes a plan preview without reserving anything.
func (m *RequestLifecycleManager) CheckFulfillment(ctx context.Context, id RequestID) (*FulfillmentCheck, error) {
	req, err := m.Requests.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	plan, _, err := m.planFor(ctx, req)
	if err != nil {
		return nil, err
	}

	check := &FulfillmentCheck{
		RequestID:        req.ID,
		CanFulfill:       plan.Satisfiable(),
		AvailableCount:   len(plan.Selected),
		RequiredCount:    req.UnitsRequested,
		Shortage:         plan.Shortage,
		BufferWillBeUsed: len(plan.BufferUnitsUsed) > 0,
		BufferSerials:    plan.BufferSerials(),
		TotalVolumeML:    plan.TotalVolumeML,
	}

	switch {
	case !check.CanFulfill:
		check.Message = fmt.Sprintf("short %d of %d requested unit(s) for %s; compatible groups: %s",
			plan.Shortage, req.UnitsRequested, req.PatientGroup, joinGroups(CompatibleGroups(req.PatientGroup)))
	case check.BufferWillBeUsed:
		check.Message = plan.Warning
	default:
		check.Message = fmt.Sprintf("%d unit(s) available for %s", req.UnitsRequested, req.PatientGroup)
	}
	return check, nil
}

func (m *RequestLifecycleManager) planFor(ctx context.Context, req *BloodRequest) (*AllocationPlan, *BufferPool, error) {
	view, err := m.Catalog.AvailableFor(ctx, req.PatientGroup)
	if err != nil {
		return nil, nil, err
	}
	pool, err := m.Buffer.GetBufferPool(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load buffer pool: %w", err)
	}
	return m.Planner.Plan(req, view, pool), pool, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// ApprovalResult reports a successful approval.
type ApprovalResult struct {
	Request         *BloodRequest
	ReservedUnitIDs []UnitID
	Plan            *AllocationPlan
}

// Approve plans and reserves units for a pending or rescheduled request.
// On shortage the request is left untouched and an InsufficientSupplyError
// carries the breakdown. On a lost CAS race everything reserved by this
// attempt is released and the caller may retry.
func (m *RequestLifecycleManager) Approve(ctx context.Context, id RequestID) (*ApprovalResult, error) {
	req, err := m.Requests.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != RequestPending && req.Status != RequestRescheduled {
		return nil, &IllegalTransitionError{RequestID: id, From: req.Status, Action: "approve"}
	}

	plan, _, err := m.planFor(ctx, req)
	if err != nil {
		return nil, err
	}
	if !plan.Satisfiable() {
		return nil, m.supplyError(req, plan)
	}

	res, err := m.Coordinator.Reserve(ctx, plan, req.ID)
	if err != nil {
		return nil, err
	}

	if err := m.Requests.UpdateRequestStatus(ctx, req.ID, RequestApproved, StatusFields{}); err != nil {
		// Undo the claim so the units aren't leaked behind a failed write.
		_ = m.Coordinator.Release(ctx, res)
		return nil, fmt.Errorf("failed to mark request approved: %w", err)
	}

	req.Status = RequestApproved
	req.UpdatedAt = m.now()
	return &ApprovalResult{Request: req, ReservedUnitIDs: res.UnitIDs, Plan: plan}, nil
}

func (m *RequestLifecycleManager) supplyError(req *BloodRequest, plan *AllocationPlan) error {
	byGroup := make(map[BloodGroup]int)
	for _, s := range plan.Selected {
		byGroup[s.Unit.Group]++
	}
	return &InsufficientSupplyError{
		RequestID:        req.ID,
		Group:            req.PatientGroup,
		Required:         req.UnitsRequested,
		Available:        len(plan.Selected),
		Shortage:         plan.Shortage,
		CompatibleGroups: CompatibleGroups(req.PatientGroup),
		AvailableByGroup: byGroup,
	}
}

// HandoverResult reports a completed handover.
type HandoverResult struct {
	Request          *BloodRequest
	CommittedUnitIDs []UnitID
}

// Handover commits the units reserved at approval and advances the request
// to its terminal handed_over state. Irreversible. A partial commit halts
// the transition: the request stays approved and the error surfaces the
// exact unit buckets for manual reconciliation.
func (m *RequestLifecycleManager) Handover(ctx context.Context, id RequestID) (*HandoverResult, error) {
	req, err := m.Requests.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != RequestApproved {
		return nil, &IllegalTransitionError{RequestID: id, From: req.Status, Action: "handover"}
	}

	reserved, err := m.Units.UnitsReservedBy(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reserved units: %w", err)
	}
	if len(reserved) == 0 {
		// Reservation aged out (stale sweep) or was never made; approval
		// must be redone before handover.
		return nil, &IllegalTransitionError{RequestID: id, From: req.Status, Action: "handover (no reserved units)"}
	}

	res := &Reservation{RequestID: req.ID}
	for _, u := range reserved {
		res.UnitIDs = append(res.UnitIDs, u.ID)
	}

	committed, err := m.Coordinator.Commit(ctx, res)
	if err != nil {
		return nil, err
	}

	if err := m.Requests.UpdateRequestStatus(ctx, req.ID, RequestHandedOver, StatusFields{}); err != nil {
		return nil, fmt.Errorf("units committed but request status write failed: %w", err)
	}

	req.Status = RequestHandedOver
	req.UpdatedAt = m.now()
	return &HandoverResult{Request: req, CommittedUnitIDs: committed}, nil
}

// Decline rejects a pending or rescheduled request. The reason is required.
func (m *RequestLifecycleManager) Decline(ctx context.Context, id RequestID, reason string) (*BloodRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Message: "decline reason is required"}
	}

	req, err := m.Requests.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != RequestPending && req.Status != RequestRescheduled {
		return nil, &IllegalTransitionError{RequestID: id, From: req.Status, Action: "decline"}
	}

	if err := m.Requests.UpdateRequestStatus(ctx, req.ID, RequestDeclined, StatusFields{DeclineReason: reason}); err != nil {
		return nil, fmt.Errorf("failed to decline request: %w", err)
	}

	req.Status = RequestDeclined
	req.DeclineReason = reason
	req.UpdatedAt = m.now()
	return req, nil
}

// CancelApproval releases an approved request's reserved units and returns
// it to pending. Only legal before handover.
func (m *RequestLifecycleManager) CancelApproval(ctx context.Context, id RequestID) (*BloodRequest, error) {
	req, err := m.Requests.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != RequestApproved {
		return nil, &IllegalTransitionError{RequestID: id, From: req.Status, Action: "cancel approval"}
	}

	reserved, err := m.Units.UnitsReservedBy(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reserved units: %w", err)
	}
	res := &Reservation{RequestID: req.ID}
	for _, u := range reserved {
		res.UnitIDs = append(res.UnitIDs, u.ID)
	}
	if err := m.Coordinator.Release(ctx, res); err != nil {
		return nil, err
	}

	if err := m.Requests.UpdateRequestStatus(ctx, req.ID, RequestPending, StatusFields{}); err != nil {
		return nil, fmt.Errorf("failed to return request to pending: %w", err)
	}

	req.Status = RequestPending
	req.UpdatedAt = m.now()
	return req, nil
}

// Reschedule defers a pending or rescheduled request, typically after a
// shortage. Explicit operator action; never triggered automatically.
func (m *RequestLifecycleManager) Reschedule(ctx context.Context, id RequestID) (*BloodRequest, error) {
	req, err := m.Requests.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != RequestPending && req.Status != RequestRescheduled {
		return nil, &IllegalTransitionError{RequestID: id, From: req.Status, Action: "reschedule"}
	}

	retryAt := m.now().Add(m.rescheduleDelay())
	if err := m.Requests.UpdateRequestStatus(ctx, req.ID, RequestRescheduled, StatusFields{RetryAt: &retryAt}); err != nil {
		return nil, fmt.Errorf("failed to reschedule request: %w", err)
	}

	req.Status = RequestRescheduled
	req.RetryAt = &retryAt
	req.UpdatedAt = m.now()
	return req, nil
}

func joinGroups(groups []BloodGroup) string {
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = g.String()
	}
	return strings.Join(parts, ", ")
}
