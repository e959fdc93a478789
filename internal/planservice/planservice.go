// Package planservice orchestrates a manager's plan-creation request: it
// chains the Clusterer, Truck Allocator and Plan Assembler over a company's
// eligible parcels and available drivers, then hands each assembled route
// to the Execution Supervisor to persist and start.
package planservice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"routeplan/internal/clusterer"
	"routeplan/internal/domain"
	"routeplan/internal/driverstore"
	"routeplan/internal/execution"
	"routeplan/internal/parcelstore"
	"routeplan/internal/planassembler"
	"routeplan/internal/truckallocator"
	"routeplan/internal/truckstore"
	"routeplan/pkg/apperror"
)

// Service ties together the clustering and allocation stages with
// persistence, for the manager-facing plan-creation and manual-assignment
// endpoints.
type Service struct {
	parcels   parcelstore.Store
	trucks    truckstore.Store
	drivers   driverstore.Store
	assembler *planassembler.Assembler
	exec      *execution.Supervisor
}

// New builds a Service over the stores and downstream stages it drives.
func New(parcels parcelstore.Store, trucks truckstore.Store, drivers driverstore.Store, assembler *planassembler.Assembler, exec *execution.Supervisor) *Service {
	return &Service{parcels: parcels, trucks: trucks, drivers: drivers, assembler: assembler, exec: exec}
}

// CreatePlan runs the full pipeline for a company's day: load eligible
// parcels, cluster them across driverRefs, allocate the smallest sufficient
// truck to each zone, assemble each zone's visit-ordered route, and start
// every route through the Execution Supervisor. Fails the whole plan — no
// partial routes persisted — on insufficient truck capacity or a routing
// failure in any zone, all-or-nothing.
func (s *Service) CreatePlan(ctx context.Context, companyID string, driverRefs []string, today time.Time) ([]*domain.RouteAssignment, error) {
	if len(driverRefs) == 0 {
		return nil, apperror.New(apperror.CodeMissingField, "at least one driver is required to create a plan").WithField("driver_refs")
	}

	pending, err := s.parcels.ListPendingByCompany(ctx, companyID, today)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending parcels: %w", err)
	}
	eligible := planassembler.SelectEligibleParcels(pending, today)
	if len(eligible) == 0 {
		return nil, apperror.New(apperror.CodeNoEligibleParcels, "no parcels are due for a plan today")
	}

	availableTrucks, err := s.trucks.ListAvailable(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list available trucks: %w", err)
	}

	zones := clusterer.Partition(eligible, len(driverRefs))

	demands := make([]truckallocator.ZoneDemand, 0, len(zones))
	for _, z := range zones {
		if len(z.Parcels) == 0 {
			continue
		}
		demands = append(demands, truckallocator.ZoneDemand{DriverIndex: z.DriverIndex, WeightKg: z.WeightKg})
	}
	assignments, err := truckallocator.Allocate(demands, availableTrucks)
	if err != nil {
		return nil, err
	}
	truckByDriverIndex := make(map[int]*domain.Truck, len(assignments))
	for _, a := range assignments {
		truckByDriverIndex[a.DriverIndex] = a.Truck
	}

	routes := make([]*domain.RouteAssignment, 0, len(zones))
	for _, z := range zones {
		if len(z.Parcels) == 0 {
			continue
		}
		truck := truckByDriverIndex[z.DriverIndex]
		driverRef := driverRefs[z.DriverIndex]

		route, err := s.assembler.AssembleZone(ctx, uuid.NewString(), driverRef, truck.LicensePlate, companyID, z.Parcels, today)
		if err != nil {
			return nil, err
		}
		if route == nil {
			continue
		}
		routes = append(routes, route)
	}

	for _, route := range routes {
		if err := s.exec.StartJourney(ctx, route); err != nil {
			return nil, fmt.Errorf("failed to start route for driver %s: %w", route.DriverRef, err)
		}
	}
	return routes, nil
}

// AssignManual persists a single manager-built route without running the
// clusterer or allocator — the manual-assignment counterpart to CreatePlan,
// for a manager who has already picked the parcels, driver and truck.
func (s *Service) AssignManual(ctx context.Context, companyID, driverRef, truckRef string, parcels []*domain.Parcel, today time.Time) (*domain.RouteAssignment, error) {
	if len(parcels) == 0 {
		return nil, apperror.New(apperror.CodeNoEligibleParcels, "at least one parcel is required to assign a route")
	}
	route, err := s.assembler.AssembleZone(ctx, uuid.NewString(), driverRef, truckRef, companyID, parcels, today)
	if err != nil {
		return nil, err
	}
	if route == nil {
		return nil, apperror.New(apperror.CodeNoEligibleParcels, "assembled route has no stops")
	}
	if err := s.exec.StartJourney(ctx, route); err != nil {
		return nil, fmt.Errorf("failed to start manually assigned route: %w", err)
	}
	return route, nil
}
