// Package officefallback implements the Office-Fallback Dispatcher:
// reassigns undeliverable parcels to the nearest office, and later
// helps the driver plan a sub-route to drop them all off.
package officefallback

import (
	"context"
	"fmt"
	"sort"
	"time"

	"routeplan/internal/domain"
	"routeplan/internal/notify"
	"routeplan/internal/officedeliverystore"
	"routeplan/internal/officestore"
	"routeplan/internal/parcelfsm"
	"routeplan/internal/routestore"
	"routeplan/internal/routingclient"
	"routeplan/pkg/apperror"
	"routeplan/pkg/logger"
	"routeplan/pkg/metrics"
)

// Dispatcher assigns undeliverable parcels to the nearest office and builds
// the office drop-off sub-route.
type Dispatcher struct {
	offices          officestore.Store
	officeDeliveries officedeliverystore.Store
	routes           routestore.Store
	fsm              *parcelfsm.Machine
	routing          routingclient.Client
	notifier         notify.Notifier
}

// New builds a Dispatcher from its collaborators.
func New(offices officestore.Store, officeDeliveries officedeliverystore.Store, routes routestore.Store, fsm *parcelfsm.Machine, routing routingclient.Client, notifier notify.Notifier) *Dispatcher {
	return &Dispatcher{
		offices:          offices,
		officeDeliveries: officeDeliveries,
		routes:           routes,
		fsm:              fsm,
		routing:          routing,
		notifier:         notifier,
	}
}

// AssignNearestOffice picks the minimum-distance office for an undelivered
// parcel — company-scoped when the parcel's company is known, falling back
// to the global office list otherwise.
// If no office exists at all, the parcel is left with office_ref unset and
// the situation is logged, not failed — the parcel's undelivered status
// still stands.
func (d *Dispatcher) AssignNearestOffice(ctx context.Context, parcel *domain.Parcel) (*domain.Office, error) {
	offices, err := d.candidateOffices(ctx, parcel.CompanyID)
	if err != nil {
		return nil, err
	}
	if len(offices) == 0 {
		logger.Log.Warn("no office available for fallback assignment", "parcel_id", parcel.ID, "company_id", parcel.CompanyID)
		return nil, nil
	}

	nearest := nearestOffice(parcel.Location, offices)
	if _, err := d.fsm.AssignOffice(ctx, parcel.ID, nearest.ID); err != nil {
		return nil, err
	}
	metrics.Get().RecordOfficeFallbackAssignment(parcel.CompanyID)
	return nearest, nil
}

func (d *Dispatcher) candidateOffices(ctx context.Context, companyID string) ([]*domain.Office, error) {
	if companyID != "" {
		offices, err := d.offices.ListForCompany(ctx, companyID)
		if err != nil {
			return nil, fmt.Errorf("failed to list company offices: %w", err)
		}
		if len(offices) > 0 {
			return offices, nil
		}
	}
	offices, err := d.offices.ListGlobal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list global offices: %w", err)
	}
	return offices, nil
}

// nearestOffice returns the office with the minimum haversine distance from
// loc, breaking ties by ascending office id.
func nearestOffice(loc domain.Coordinate, offices []*domain.Office) *domain.Office {
	best := offices[0]
	bestDist := loc.DistanceKm(best.Location)
	for _, o := range offices[1:] {
		dist := loc.DistanceKm(o.Location)
		if dist < bestDist || (domain.FloatEquals(dist, bestDist) && o.ID < best.ID) {
			bestDist = dist
			best = o
		}
	}
	return best
}

// OfficeGroup is one office's share of a driver's pending office drop-offs.
type OfficeGroup struct {
	Office  *domain.Office
	Parcels []*domain.Parcel
}

// SuggestOfficeRoute groups a driver's undelivered, not-yet-dropped-off
// parcels by office and orders the offices by distance from the first
// remaining undelivered parcel — stable and deterministic.
func (d *Dispatcher) SuggestOfficeRoute(ctx context.Context, driverRef string, parcels []*domain.Parcel) ([]OfficeGroup, error) {
	dropped, err := d.officeDeliveries.ListDroppedParcelIDs(ctx, driverRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list dropped-off parcels: %w", err)
	}

	pending := make([]*domain.Parcel, 0, len(parcels))
	for _, p := range parcels {
		if p.Status == domain.ParcelStatusUndelivered && p.OfficeRef != "" && !dropped[p.ID] {
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	byOffice := make(map[string][]*domain.Parcel)
	var officeIDs []string
	for _, p := range pending {
		if _, ok := byOffice[p.OfficeRef]; !ok {
			officeIDs = append(officeIDs, p.OfficeRef)
		}
		byOffice[p.OfficeRef] = append(byOffice[p.OfficeRef], p)
	}

	offices := make(map[string]*domain.Office, len(officeIDs))
	for _, id := range officeIDs {
		office, err := d.offices.GetByID(ctx, id)
		if err != nil {
			if err == officestore.ErrNotFound {
				return nil, apperror.New(apperror.CodeUnknownOffice, fmt.Sprintf("office %s not found", id)).WithDetails("office_id", id)
			}
			return nil, fmt.Errorf("failed to load office %s: %w", id, err)
		}
		offices[id] = office
	}

	anchor := pending[0].Location
	sort.Slice(officeIDs, func(i, j int) bool {
		di := anchor.DistanceKm(offices[officeIDs[i]].Location)
		dj := anchor.DistanceKm(offices[officeIDs[j]].Location)
		if !domain.FloatEquals(di, dj) {
			return di < dj
		}
		return officeIDs[i] < officeIDs[j]
	})

	groups := make([]OfficeGroup, 0, len(officeIDs))
	for _, id := range officeIDs {
		groups = append(groups, OfficeGroup{Office: offices[id], Parcels: byOffice[id]})
	}
	return groups, nil
}

// OptimizedOfficeRoute asks the routing engine for a visit order over the
// driver's current position plus the offices still holding parcels for
// them. This is a cosmetic improvement over SuggestOfficeRoute's distance
// ordering, not required for correctness.
func (d *Dispatcher) OptimizedOfficeRoute(ctx context.Context, currentPosition domain.Coordinate, groups []OfficeGroup) (*routingclient.TripResult, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	points := make([]domain.Coordinate, 0, len(groups)+1)
	points = append(points, currentPosition)
	for _, g := range groups {
		points = append(points, g.Office.Location)
	}
	return d.routing.Trip(ctx, points)
}

// RecordDropoff creates the OfficeDelivery record, advances every listed
// parcel straight to delivered, updates each parcel's VisitRecord in the
// active route, and fires the office-fallback notification per parcel.
// Notification failures are logged by the Notifier implementation and never
// fail the drop-off itself.
//
// A parcel already recorded as dropped off by this driver at this office
// today is skipped entirely — neither re-transitioned nor re-notified — so a
// retried request is a no-op rather than a duplicate delivery.
func (d *Dispatcher) RecordDropoff(ctx context.Context, driverRef, officeRef string, parcelIDs []string, routeRef string, at time.Time) error {
	if len(parcelIDs) == 0 {
		return apperror.New(apperror.CodeMissingField, "office delivery requires at least one parcel").WithField("parcel_ids")
	}

	office, err := d.offices.GetByID(ctx, officeRef)
	if err != nil {
		if err == officestore.ErrNotFound {
			return apperror.New(apperror.CodeUnknownOffice, fmt.Sprintf("office %s not found", officeRef)).WithDetails("office_id", officeRef)
		}
		return fmt.Errorf("failed to load office %s: %w", officeRef, err)
	}

	freshParcelIDs, err := d.officeDeliveries.FilterNew(ctx, driverRef, officeRef, at, parcelIDs)
	if err != nil {
		return fmt.Errorf("failed to check for already-recorded office deliveries: %w", err)
	}
	if len(freshParcelIDs) == 0 {
		return nil
	}

	delivered := make([]*domain.Parcel, 0, len(freshParcelIDs))
	for _, id := range freshParcelIDs {
		parcel, err := d.fsm.MarkDeliveredAtOffice(ctx, id)
		if err != nil {
			return err
		}
		delivered = append(delivered, parcel)
	}

	delivery := &domain.OfficeDelivery{
		DriverRef:  driverRef,
		OfficeRef:  officeRef,
		ParcelRefs: freshParcelIDs,
		Timestamp:  at,
		RouteRef:   routeRef,
	}
	if err := d.officeDeliveries.Create(ctx, delivery); err != nil {
		return fmt.Errorf("failed to record office delivery: %w", err)
	}

	for _, parcel := range delivered {
		d.notifier.NotifyOfficeFallback(ctx, parcel, office, driverRef)
	}
	return nil
}
