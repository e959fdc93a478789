// Package parcelfsm is the authoritative Parcel Lifecycle State Machine
//: the sole writer of Parcel.status and the matching
// VisitRecord.status in every active route that references the parcel.
package parcelfsm

import (
	"context"
	"fmt"
	"sync"

	"routeplan/internal/clock"
	"routeplan/internal/domain"
	"routeplan/internal/parcelstore"
	"routeplan/internal/routestore"
	"routeplan/pkg/apperror"
	"routeplan/pkg/logger"
	"routeplan/pkg/metrics"
)

// Machine is the sole writer of parcel status and its VisitRecord
// projection. Every transition runs inside a per-parcel critical section
//: events targeting the same parcel are linearized, while events
// on different parcels of the same route may interleave freely.
type Machine struct {
	parcels parcelstore.Store
	routes  routestore.Store
	clock   clock.Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a Machine over the parcel and route stores.
func New(parcels parcelstore.Store, routes routestore.Store, clk clock.Clock) *Machine {
	if clk == nil {
		clk = clock.System{}
	}
	return &Machine{
		parcels: parcels,
		routes:  routes,
		clock:   clk,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding a single parcel id, creating it on
// first use. The map itself is protected separately so concurrent events on
// distinct parcels don't serialize on each other.
func (m *Machine) lockFor(parcelID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[parcelID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[parcelID] = l
	}
	return l
}

// MarkInTransit advances a batch of parcels pending -> in_transit. Called by
// the Execution Supervisor when a route is persisted; every parcel in the
// batch belongs to the same fresh route, so there is no cross-parcel
// contention to worry about beyond the per-parcel lock itself.
func (m *Machine) MarkInTransit(ctx context.Context, parcelIDs []string) error {
	for _, id := range parcelIDs {
		if err := m.transition(ctx, id, domain.ParcelStatusInTransit, "", ""); err != nil {
			return err
		}
	}
	return nil
}

// MarkDelivered advances a parcel in_transit -> delivered, storing an
// optional signature verbatim.
func (m *Machine) MarkDelivered(ctx context.Context, parcelID, signature string) (*domain.Parcel, error) {
	return m.transitionReturning(ctx, parcelID, domain.ParcelStatusDelivered, "", signature, false)
}

// MarkUndelivered advances a parcel in_transit -> undelivered. The caller
// (Execution Supervisor) is responsible for triggering the Office-Fallback
// Dispatcher afterwards; this method only performs the status transition.
func (m *Machine) MarkUndelivered(ctx context.Context, parcelID string) (*domain.Parcel, error) {
	return m.transitionReturning(ctx, parcelID, domain.ParcelStatusUndelivered, "", "", false)
}

// MarkDeliveredAtOffice advances a parcel undelivered -> delivered via
// office drop-off. This is the only path that may start
// from undelivered.
func (m *Machine) MarkDeliveredAtOffice(ctx context.Context, parcelID string) (*domain.Parcel, error) {
	return m.transitionReturning(ctx, parcelID, domain.ParcelStatusDelivered, "", "", true)
}

// AssignOffice sets office_ref on an undelivered parcel without changing its
// status, used by the Office-Fallback Dispatcher when no direct status
// change accompanies the assignment.
func (m *Machine) AssignOffice(ctx context.Context, parcelID, officeRef string) (*domain.Parcel, error) {
	lock := m.lockFor(parcelID)
	lock.Lock()
	defer lock.Unlock()

	parcel, err := m.parcels.GetByID(ctx, parcelID)
	if err != nil {
		return nil, wrapUnknownParcel(err, parcelID)
	}
	if parcel.Status != domain.ParcelStatusUndelivered {
		return nil, apperror.New(apperror.CodeIllegalTransition,
			fmt.Sprintf("parcel %s must be undelivered to assign an office, got %s", parcelID, parcel.Status)).
			WithDetails("from", parcel.Status.String())
	}
	parcel.OfficeRef = officeRef
	now := m.clock.Now()
	if err := m.parcels.UpdateStatus(ctx, parcelID, parcel.Status, officeRef, parcel.Signature, now); err != nil {
		return nil, fmt.Errorf("failed to persist office assignment: %w", err)
	}
	parcel.UpdatedAt = now
	return parcel, nil
}

func (m *Machine) transition(ctx context.Context, parcelID string, next domain.ParcelStatus, officeRef, signature string) error {
	_, err := m.transitionReturning(ctx, parcelID, next, officeRef, signature, false)
	return err
}

// transitionReturning performs one legal transition under the parcel's
// critical section: it validates the transition, writes the parcel row,
// then propagates the same status into every active route's VisitRecord
// that references this parcel. A parcel with no matching VisitRecord is
// still updated — stale-route tolerance. undelivered -> delivered is only
// accepted when viaOffice is set (MarkDeliveredAtOffice).
func (m *Machine) transitionReturning(ctx context.Context, parcelID string, next domain.ParcelStatus, officeRef, signature string, viaOffice bool) (*domain.Parcel, error) {
	lock := m.lockFor(parcelID)
	lock.Lock()
	defer lock.Unlock()

	parcel, err := m.parcels.GetByID(ctx, parcelID)
	if err != nil {
		return nil, wrapUnknownParcel(err, parcelID)
	}

	if parcel.Status == domain.ParcelStatusDelivered && next == domain.ParcelStatusDelivered {
		return nil, apperror.New(apperror.CodeAlreadyDelivered, fmt.Sprintf("parcel %s is already delivered", parcelID))
	}
	if !parcel.Status.CanTransition(next) || (parcel.Status == domain.ParcelStatusUndelivered && next == domain.ParcelStatusDelivered && !viaOffice) {
		return nil, apperror.New(apperror.CodeIllegalTransition,
			fmt.Sprintf("illegal transition for parcel %s: %s -> %s", parcelID, parcel.Status, next)).
			WithDetails("from", parcel.Status.String()).
			WithDetails("to", next.String())
	}

	from := parcel.Status
	now := m.clock.Now()

	effectiveOfficeRef := parcel.OfficeRef
	if officeRef != "" {
		effectiveOfficeRef = officeRef
	}
	effectiveSignature := parcel.Signature
	if signature != "" {
		effectiveSignature = signature
	}

	if err := m.parcels.UpdateStatus(ctx, parcelID, next, effectiveOfficeRef, effectiveSignature, now); err != nil {
		return nil, fmt.Errorf("failed to persist parcel transition: %w", err)
	}

	touched, err := m.routes.UpdateVisitStatusInActiveRoutes(ctx, parcelID, next)
	if err != nil {
		// The parcel row is already committed; a stale VisitRecord
		// projection is tolerated (re-emitted on read if stale)
		// but we still surface the failure since it indicates a store
		// problem worth logging loudly.
		logger.Log.Error("failed to propagate parcel status to active routes",
			"parcel_id", parcelID, "status", next.String(), "error", err)
	} else if touched == 0 {
		logger.Log.Debug("parcel transition did not match any active route (stale-route tolerance)",
			"parcel_id", parcelID, "status", next.String())
	}

	metrics.Get().RecordParcelTransition(from.String(), next.String())

	parcel.Status = next
	parcel.OfficeRef = effectiveOfficeRef
	parcel.Signature = effectiveSignature
	parcel.UpdatedAt = now
	return parcel, nil
}

// ForceResetToPending bypasses the normal transition table to reset a parcel
// back to pending, regardless of its current status. This is the
// administrative override backing route_store.drop_all, documented as
// destructive — it is not reachable from any driver-facing
// event.
func (m *Machine) ForceResetToPending(ctx context.Context, parcelID string) error {
	lock := m.lockFor(parcelID)
	lock.Lock()
	defer lock.Unlock()

	parcel, err := m.parcels.GetByID(ctx, parcelID)
	if err != nil {
		return wrapUnknownParcel(err, parcelID)
	}
	from := parcel.Status
	now := m.clock.Now()
	if err := m.parcels.UpdateStatus(ctx, parcelID, domain.ParcelStatusPending, parcel.OfficeRef, parcel.Signature, now); err != nil {
		return fmt.Errorf("failed to force-reset parcel to pending: %w", err)
	}
	metrics.Get().RecordParcelTransition(from.String(), domain.ParcelStatusPending.String())
	return nil
}

func wrapUnknownParcel(err error, parcelID string) error {
	if err == parcelstore.ErrNotFound {
		return apperror.New(apperror.CodeUnknownParcel, fmt.Sprintf("parcel %s not found", parcelID)).WithDetails("parcel_id", parcelID)
	}
	return fmt.Errorf("failed to load parcel %s: %w", parcelID, err)
}
