// Package execution is the Execution Supervisor: the only
// component allowed to flip Truck.in_use and RouteAssignment.is_active. It
// orchestrates the Parcel State Machine, the Office-Fallback Dispatcher, the
// History Materializer and the Routing-Engine Client across one journey's
// lifecycle, from start to finish.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"routeplan/internal/clock"
	"routeplan/internal/domain"
	"routeplan/internal/driverstore"
	"routeplan/internal/historymat"
	"routeplan/internal/notify"
	"routeplan/internal/officefallback"
	"routeplan/internal/parcelfsm"
	"routeplan/internal/routestore"
	"routeplan/internal/routingclient"
	"routeplan/internal/truckstore"
	"routeplan/pkg/apperror"
	"routeplan/pkg/logger"
	"routeplan/pkg/metrics"
)

// Supervisor wires together one company's journey lifecycle.
type Supervisor struct {
	routes   routestore.Store
	trucks   truckstore.Store
	drivers  driverstore.Store
	fsm      *parcelfsm.Machine
	fallback *officefallback.Dispatcher
	history  *historymat.Materializer
	routing  routingclient.Client
	notifier notify.Notifier
	depot    domain.Coordinate
	clock    clock.Clock
}

// New builds a Supervisor from its collaborators.
func New(
	routes routestore.Store,
	trucks truckstore.Store,
	drivers driverstore.Store,
	fsm *parcelfsm.Machine,
	fallback *officefallback.Dispatcher,
	history *historymat.Materializer,
	routing routingclient.Client,
	notifier notify.Notifier,
	depot domain.Coordinate,
	clk clock.Clock,
) *Supervisor {
	if clk == nil {
		clk = clock.System{}
	}
	return &Supervisor{
		routes: routes, trucks: trucks, drivers: drivers,
		fsm: fsm, fallback: fallback, history: history, routing: routing,
		notifier: notifier, depot: depot, clock: clk,
	}
}

// StartJourney validates the truck is free, persists the route, flips
// truck.in_use, and advances every referenced parcel pending -> in_transit.
// Each step compensates the previous one on failure.
func (s *Supervisor) StartJourney(ctx context.Context, route *domain.RouteAssignment) error {
	started := s.clock.Now()
	if _, err := s.drivers.GetByUsername(ctx, route.DriverRef); err != nil {
		if err == driverstore.ErrNotFound {
			return apperror.New(apperror.CodeUnknownDriver, fmt.Sprintf("driver %s not found", route.DriverRef)).WithDetails("driver_ref", route.DriverRef)
		}
		return fmt.Errorf("failed to load driver: %w", err)
	}

	truck, err := s.trucks.GetByPlate(ctx, route.TruckRef)
	if err != nil {
		if err == truckstore.ErrNotFound {
			return apperror.New(apperror.CodeUnknownTruck, fmt.Sprintf("truck %s not found", route.TruckRef)).WithDetails("truck_ref", route.TruckRef)
		}
		return fmt.Errorf("failed to load truck: %w", err)
	}
	if truck.InUse {
		return apperror.New(apperror.CodeTruckInUse, fmt.Sprintf("truck %s is already in use", route.TruckRef)).WithDetails("truck_ref", route.TruckRef)
	}

	if route.RouteID == "" {
		route.RouteID = uuid.NewString()
	}
	if route.CreationDate.IsZero() {
		route.CreationDate = s.clock.Now()
	}
	route.IsActive = true
	if err := route.Validate(); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "route failed validation before persisting")
	}

	// Route creation, the truck lock and the parcel transitions span three
	// stores that aren't all reachable from a single pgx.Tx here (the FSM
	// owns its own store handles). Each step below compensates the prior
	// one on failure instead, per the "or otherwise compensating" clause:
	// a route row never outlives its truck lock, and a truck is never left
	// locked against a route that failed to persist.
	if err := s.routes.Create(ctx, route); err != nil {
		return err
	}
	if err := s.trucks.SetInUse(ctx, route.TruckRef, true); err != nil {
		if compErr := s.routes.Deactivate(ctx, route.RouteID); compErr != nil {
			logger.Log.Error("failed to compensate route after truck lock failure", "route_id", route.RouteID, "error", compErr)
		}
		return fmt.Errorf("failed to lock truck: %w", err)
	}
	if err := s.fsm.MarkInTransit(ctx, route.ParcelIDs()); err != nil {
		if compErr := s.trucks.SetInUse(ctx, route.TruckRef, false); compErr != nil {
			logger.Log.Error("failed to compensate truck lock after parcel transition failure", "truck_ref", route.TruckRef, "error", compErr)
		}
		if compErr := s.routes.Deactivate(ctx, route.RouteID); compErr != nil {
			logger.Log.Error("failed to compensate route after parcel transition failure", "route_id", route.RouteID, "error", compErr)
		}
		return err
	}

	metrics.Get().RecordPlanCreation(route.CompanyID, true, s.clock.Now().Sub(started), []int{len(route.ParcelIDs())})
	return nil
}

// OnDelivered delegates to the Parcel State Machine, then fires the
// delivery notification side-effect. The notification never turns a
// successful transition into a failed request.
func (s *Supervisor) OnDelivered(ctx context.Context, driverRef, parcelID, signature string) (*domain.Parcel, error) {
	parcel, err := s.fsm.MarkDelivered(ctx, parcelID, signature)
	if err != nil {
		return nil, err
	}
	s.notifier.NotifyDelivered(ctx, parcel, driverRef)
	return parcel, nil
}

// OnUndelivered delegates to the Parcel State Machine, then asks the
// Office-Fallback Dispatcher to assign the nearest office.
// A missing office is logged by the dispatcher and is not treated as a
// failure of the undelivered transition itself. The office-fallback
// notification fires later, at drop-off confirmation, not at
// assignment time.
func (s *Supervisor) OnUndelivered(ctx context.Context, driverRef, parcelID string) (*domain.Parcel, error) {
	parcel, err := s.fsm.MarkUndelivered(ctx, parcelID)
	if err != nil {
		return nil, err
	}
	office, err := s.fallback.AssignNearestOffice(ctx, parcel)
	if err != nil {
		return nil, err
	}
	if office != nil {
		parcel.OfficeRef = office.ID
	}
	return parcel, nil
}

// Recalculate rebuilds path_geometry from the driver's current position plus
// the remaining non-terminal (pending/in_transit) parcels and the depot,
// without renumbering VisitRecords.
func (s *Supervisor) Recalculate(ctx context.Context, driverRef string, currentPosition domain.Coordinate) (*domain.RouteAssignment, error) {
	route, err := s.routes.GetActiveForDriver(ctx, driverRef)
	if err != nil {
		if err == routestore.ErrNotFound {
			return nil, apperror.New(apperror.CodeNoEligibleParcels, fmt.Sprintf("driver %s has no active route", driverRef)).WithDetails("driver_ref", driverRef)
		}
		return nil, fmt.Errorf("failed to load active route: %w", err)
	}

	points := []domain.Coordinate{currentPosition}
	for _, v := range route.Sequence {
		if v.IsReturnLeg {
			continue
		}
		if v.Snapshot.Kind != domain.SnapshotKindParcel {
			continue
		}
		if v.Status == domain.ParcelStatusDelivered || v.Status == domain.ParcelStatusUndelivered {
			continue
		}
		points = append(points, v.Snapped)
	}
	points = append(points, s.depot)

	result, err := s.routing.Trip(ctx, points)
	if err != nil {
		return nil, err
	}

	if err := s.routes.UpdatePathGeometry(ctx, route.RouteID, result.Geometry); err != nil {
		return nil, fmt.Errorf("failed to persist recalculated geometry: %w", err)
	}
	route.PathGeometry = result.Geometry
	return route, nil
}

// StatusSummary is the driver-scoped today status (supplemented
// feature 4: folded from the original's get_driver_status management logic).
type StatusSummary struct {
	Available     bool
	ActiveRoute   *domain.RouteAssignment
	Pending       int
	Delivered     int
	Undelivered   int
	CompletedToday bool
}

// CheckStatus derives {available, active(with pending/delivered/undelivered
// counts), completed_today} from the route and parcel statuses.
func (s *Supervisor) CheckStatus(ctx context.Context, driverRef string, date time.Time) (*StatusSummary, error) {
	route, err := s.routes.GetActiveForDriver(ctx, driverRef)
	if err == routestore.ErrNotFound {
		last, lastErr := s.routes.GetByDriver(ctx, driverRef)
		if lastErr != nil && lastErr != routestore.ErrNotFound {
			return nil, fmt.Errorf("failed to load driver's last route: %w", lastErr)
		}
		completed := last != nil && !last.IsActive && sameDay(last.CreationDate, date)
		return &StatusSummary{Available: true, CompletedToday: completed}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active route: %w", err)
	}

	summary := &StatusSummary{Available: false, ActiveRoute: route}
	for _, v := range route.Sequence {
		if v.Snapshot.Kind != domain.SnapshotKindParcel {
			continue
		}
		switch v.Status {
		case domain.ParcelStatusDelivered:
			summary.Delivered++
		case domain.ParcelStatusUndelivered:
			summary.Undelivered++
		default:
			summary.Pending++
		}
	}
	return summary, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// FinishJourney is idempotent: a route already inactive returns
// apperror.CodeAlreadyInactive. Otherwise it
// deactivates the route, unlocks the truck, and materializes history.
func (s *Supervisor) FinishJourney(ctx context.Context, driverRef string, durationHours float64) (*domain.DeliveryHistory, error) {
	route, err := s.routes.GetActiveForDriver(ctx, driverRef)
	if err != nil {
		if err == routestore.ErrNotFound {
			return nil, apperror.New(apperror.CodeAlreadyInactive, fmt.Sprintf("driver %s has no active route to finish", driverRef)).WithDetails("driver_ref", driverRef)
		}
		return nil, fmt.Errorf("failed to load active route: %w", err)
	}

	if err := s.routes.Deactivate(ctx, route.RouteID); err != nil {
		return nil, err
	}
	if err := s.trucks.SetInUse(ctx, route.TruckRef, false); err != nil {
		logger.Log.Error("failed to unlock truck after finish_journey", "truck_ref", route.TruckRef, "error", err)
	}

	h, err := s.history.MaterializeFinishedRoute(ctx, route, durationHours)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// RecordOfficeDropoff delegates a driver's office drop-off batch to the
// Office-Fallback Dispatcher: every listed parcel advances to
// delivered and one OfficeDelivery row is recorded.
func (s *Supervisor) RecordOfficeDropoff(ctx context.Context, driverRef, officeRef string, parcelIDs []string, routeRef string) error {
	return s.fallback.RecordDropoff(ctx, driverRef, officeRef, parcelIDs, routeRef, s.clock.Now())
}

// SuggestOfficeRoute and OptimizeOfficeRoute expose the Office-Fallback
// Dispatcher's read-only planning helpers for the driver-facing
// office-routing endpoints.
func (s *Supervisor) SuggestOfficeRoute(ctx context.Context, driverRef string, parcels []*domain.Parcel) ([]officefallback.OfficeGroup, error) {
	return s.fallback.SuggestOfficeRoute(ctx, driverRef, parcels)
}

func (s *Supervisor) OptimizeOfficeRoute(ctx context.Context, currentPosition domain.Coordinate, groups []officefallback.OfficeGroup) (*routingclient.TripResult, error) {
	return s.fallback.OptimizedOfficeRoute(ctx, currentPosition, groups)
}

// DropAll is the administrative reset backing route_store.drop_all:
// deactivates every active route for a company, unlocks the trucks
// they held, and force-resets every referenced parcel back to pending.
// Documented as destructive — it discards in-flight delivery progress.
func (s *Supervisor) DropAll(ctx context.Context, companyID string) (int, error) {
	routes, err := s.routes.DropAll(ctx, companyID)
	if err != nil {
		return 0, fmt.Errorf("failed to drop active routes: %w", err)
	}

	for _, route := range routes {
		if err := s.trucks.SetInUse(ctx, route.TruckRef, false); err != nil {
			logger.Log.Error("failed to unlock truck during drop_all", "truck_ref", route.TruckRef, "error", err)
		}
		for _, parcelID := range route.ParcelIDs() {
			if err := s.fsm.ForceResetToPending(ctx, parcelID); err != nil {
				logger.Log.Error("failed to force-reset parcel during drop_all", "parcel_id", parcelID, "error", err)
			}
		}
	}
	return len(routes), nil
}
