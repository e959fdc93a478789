// Package routestore persists RouteAssignment rows, including their
// VisitRecord sequence and path geometry as ordered JSON arrays.
package routestore

import (
	"context"
	"errors"
	"time"

	"routeplan/internal/domain"
)

// ErrNotFound is returned when a route id does not exist.
var ErrNotFound = errors.New("route not found")

// Store is the persistence contract for routes.
type Store interface {
	// Create persists a new route. Fails with apperror.CodeActiveRouteExists
	// if the driver already has an active route — enforced by a database
	// partial unique index, not application-level locking.
	Create(ctx context.Context, route *domain.RouteAssignment) error
	GetActiveForDriver(ctx context.Context, driverRef string) (*domain.RouteAssignment, error)
	GetByDriver(ctx context.Context, driverRef string) (*domain.RouteAssignment, error)
	ListActiveOn(ctx context.Context, companyID string, date time.Time) ([]*domain.RouteAssignment, error)
	// Deactivate is a single terminal transition. Re-deactivating an
	// already-inactive route returns apperror.CodeAlreadyInactive.
	Deactivate(ctx context.Context, routeID string) error
	// DropAll deactivates every active route and returns them, so the
	// caller can return their referenced parcels to pending and release
	// their trucks.
	DropAll(ctx context.Context, companyID string) ([]*domain.RouteAssignment, error)
	UpdatePathGeometry(ctx context.Context, routeID string, geometry []domain.Coordinate) error
	// UpdateVisitStatusInActiveRoutes updates the VisitRecord.Status for
	// parcelID in every active route that references it, returning how
	// many routes were touched (0 is not an error — stale-route tolerance).
	UpdateVisitStatusInActiveRoutes(ctx context.Context, parcelID string, status domain.ParcelStatus) (int, error)
}
