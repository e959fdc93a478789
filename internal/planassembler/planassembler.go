// Package planassembler builds a driver's persisted route from its
// clustered, truck-allocated zone.
package planassembler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"routeplan/internal/domain"
	"routeplan/internal/routingclient"
	"routeplan/pkg/apperror"
)

// SelectEligibleParcels filters a company's pending parcels down to those
// due for today's plan — due_date <= today — and orders them with overdue
// parcels first (ascending due_date, then id) so the Clusterer sees the
// oldest outstanding work first.
func SelectEligibleParcels(parcels []*domain.Parcel, today time.Time) []*domain.Parcel {
	cutoff := time.Date(today.Year(), today.Month(), today.Day(), 23, 59, 59, 0, today.Location())

	eligible := make([]*domain.Parcel, 0, len(parcels))
	for _, p := range parcels {
		if p.Status != domain.ParcelStatusPending {
			continue
		}
		if p.DueDate.After(cutoff) {
			continue
		}
		eligible = append(eligible, p)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].DueDate.Equal(eligible[j].DueDate) {
			return eligible[i].DueDate.Before(eligible[j].DueDate)
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible
}

// Assembler turns one zone's parcels into a RouteAssignment by invoking the
// routing engine and re-keying its response into a visit-ordered sequence.
type Assembler struct {
	routing routingclient.Client
	depot   domain.Coordinate
}

// New builds an Assembler against a fixed depot coordinate. The depot is the
// company's single configured origin; every assembled route starts and ends
// there.
func New(routing routingclient.Client, depot domain.Coordinate) *Assembler {
	return &Assembler{routing: routing, depot: depot}
}

// AssembleZone builds one driver's route from its assigned parcels. A zone
// with no parcels yields (nil, nil): no route is persisted for it.
func (a *Assembler) AssembleZone(ctx context.Context, routeID, driverRef, truckRef, companyID string, parcels []*domain.Parcel, creationDate time.Time) (*domain.RouteAssignment, error) {
	if len(parcels) == 0 {
		return nil, nil
	}
	if len(parcels) == 1 {
		return a.synthesizeSingleParcelRoute(routeID, driverRef, truckRef, companyID, parcels[0], creationDate), nil
	}

	points := make([]domain.Coordinate, len(parcels)+1)
	points[0] = a.depot
	for i, p := range parcels {
		points[i+1] = p.Location
	}

	result, err := a.routing.Trip(ctx, points)
	if err != nil {
		return nil, err
	}
	if len(result.Visits) != len(points) {
		return nil, apperror.New(apperror.CodeRoutingEngineDecode,
			fmt.Sprintf("routing engine returned %d visits for %d points", len(result.Visits), len(points)))
	}
	if result.Visits[0].InputIndex != 0 {
		return nil, apperror.New(apperror.CodeRoutingEngineDecode, "routing engine did not anchor the depot as the first visit")
	}

	sequence := make([]*domain.VisitRecord, 0, len(points)+1)
	for order, v := range result.Visits {
		var snapshot domain.Snapshot
		status := domain.ParcelStatusUnspecified
		if v.InputIndex == 0 {
			snapshot = domain.DepotSnapshot(a.depot)
		} else {
			p := parcels[v.InputIndex-1]
			snapshot = domain.ParcelSnapshot(p)
			status = p.Status
		}
		sequence = append(sequence, &domain.VisitRecord{
			VisitOrder:       order,
			Snapshot:         snapshot,
			Snapped:          v.Snapped,
			InboundDurationS: v.LegDurationS,
			Status:           status,
		})
	}

	sequence = append(sequence, &domain.VisitRecord{
		VisitOrder:       len(sequence),
		Snapshot:         domain.DepotSnapshot(a.depot),
		Snapped:          a.depot,
		InboundDurationS: result.ClosingLegDurationS,
		IsReturnLeg:      true,
	})

	route := &domain.RouteAssignment{
		RouteID:      routeID,
		DriverRef:    driverRef,
		TruckRef:     truckRef,
		CompanyID:    companyID,
		CreationDate: creationDate,
		IsActive:     true,
		Sequence:     sequence,
		PathGeometry: result.Geometry,
	}
	if err := route.Validate(); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "assembled route failed validation")
	}
	return route, nil
}

// synthesizeSingleParcelRoute builds the depot -> parcel -> depot sequence
// directly, without invoking the routing engine, per the single-parcel
// exemption: there is only one possible visit order.
func (a *Assembler) synthesizeSingleParcelRoute(routeID, driverRef, truckRef, companyID string, parcel *domain.Parcel, creationDate time.Time) *domain.RouteAssignment {
	sequence := []*domain.VisitRecord{
		{VisitOrder: 0, Snapshot: domain.DepotSnapshot(a.depot), Snapped: a.depot},
		{VisitOrder: 1, Snapshot: domain.ParcelSnapshot(parcel), Snapped: parcel.Location, Status: parcel.Status},
		{VisitOrder: 2, Snapshot: domain.DepotSnapshot(a.depot), Snapped: a.depot, IsReturnLeg: true},
	}
	return &domain.RouteAssignment{
		RouteID:      routeID,
		DriverRef:    driverRef,
		TruckRef:     truckRef,
		CompanyID:    companyID,
		CreationDate: creationDate,
		IsActive:     true,
		Sequence:     sequence,
		PathGeometry: []domain.Coordinate{a.depot, parcel.Location, a.depot},
	}
}
