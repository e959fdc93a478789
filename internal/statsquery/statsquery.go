// Package statsquery is the read-only Statistics & Query façade:
// operational dashboard projections assembled from the
// route, parcel and driver stores without mutating any of them.
package statsquery

import (
	"context"
	"fmt"
	"time"

	"routeplan/internal/domain"
	"routeplan/internal/driverstore"
	"routeplan/internal/parcelstore"
	"routeplan/internal/routestore"
	"routeplan/pkg/telemetry"
)

// Facade answers dashboard queries over the current state of routes,
// parcels and drivers.
type Facade struct {
	routes  routestore.Store
	parcels parcelstore.Store
	drivers driverstore.Store
}

// New builds a Facade over the stores it reads from.
func New(routes routestore.Store, parcels parcelstore.Store, drivers driverstore.Store) *Facade {
	return &Facade{routes: routes, parcels: parcels, drivers: drivers}
}

// ActiveRouteSummary is one driver's active route, reduced to dashboard
// fields.
type ActiveRouteSummary struct {
	RouteID     string
	DriverRef   string
	TruckRef    string
	Pending     int
	Delivered   int
	Undelivered int
}

// ListActiveOn returns every route active for a company on date.
func (f *Facade) ListActiveOn(ctx context.Context, companyID string, date time.Time) ([]ActiveRouteSummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "StatsFacade.ListActiveOn")
	defer span.End()

	routes, err := f.routes.ListActiveOn(ctx, companyID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list active routes: %w", err)
	}

	summaries := make([]ActiveRouteSummary, 0, len(routes))
	for _, r := range routes {
		s := ActiveRouteSummary{RouteID: r.RouteID, DriverRef: r.DriverRef, TruckRef: r.TruckRef}
		for _, v := range r.Sequence {
			if v.Snapshot.Kind != domain.SnapshotKindParcel {
				continue
			}
			switch v.Status {
			case domain.ParcelStatusDelivered:
				s.Delivered++
			case domain.ParcelStatusUndelivered:
				s.Undelivered++
			default:
				s.Pending++
			}
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// CompanyDashboard is the top-level snapshot a company's operations
// dashboard polls for.
type CompanyDashboard struct {
	ActiveRoutes    int
	DriversVerified int
	DriversActive   int
	PendingParcels  int
}

// CompanyDashboard assembles the top-level counts for a company on date.
func (f *Facade) CompanyDashboard(ctx context.Context, companyID string, date time.Time) (*CompanyDashboard, error) {
	ctx, span := telemetry.StartSpan(ctx, "StatsFacade.CompanyDashboard")
	defer span.End()

	routes, err := f.routes.ListActiveOn(ctx, companyID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list active routes: %w", err)
	}
	drivers, err := f.drivers.ListVerifiedByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list verified drivers: %w", err)
	}
	pending, err := f.parcels.ListPendingByCompany(ctx, companyID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending parcels: %w", err)
	}

	return &CompanyDashboard{
		ActiveRoutes:    len(routes),
		DriversVerified: len(drivers),
		DriversActive:   len(routes),
		PendingParcels:  len(pending),
	}, nil
}
