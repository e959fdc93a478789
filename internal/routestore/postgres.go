package routestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"routeplan/internal/domain"
	"routeplan/pkg/apperror"
	"routeplan/pkg/database"
	"routeplan/pkg/telemetry"
)

// PostgresStore is the pgx-backed Store implementation. The sequence and
// path geometry are stored as ordered JSON arrays.
type PostgresStore struct {
	db database.Querier
}

// NewPostgresStore builds a PostgresStore over an open connection, pool, or transaction.
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create persists route along with its sequence and geometry. The driver's
// one-active-route constraint is enforced by a partial unique index
// (routes_one_active_per_driver); a violation surfaces as CodeActiveRouteExists.
func (s *PostgresStore) Create(ctx context.Context, route *domain.RouteAssignment) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRouteStore.Create")
	defer span.End()

	sequenceJSON, err := json.Marshal(route.Sequence)
	if err != nil {
		return fmt.Errorf("failed to marshal route sequence: %w", err)
	}
	geometryJSON, err := json.Marshal(route.PathGeometry)
	if err != nil {
		return fmt.Errorf("failed to marshal route geometry: %w", err)
	}

	query := `
		INSERT INTO route_assignments (
			route_id, driver_ref, truck_ref, company_id, creation_date,
			is_active, sequence, path_geometry
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.Exec(ctx, query,
		route.RouteID, route.DriverRef, route.TruckRef, route.CompanyID,
		route.CreationDate, route.IsActive, sequenceJSON, geometryJSON,
	)
	if err != nil {
		if isUniqueViolation(err, "routes_one_active_per_driver") {
			return apperror.New(apperror.CodeActiveRouteExists,
				fmt.Sprintf("driver %s already has an active route", route.DriverRef)).
				WithDetails("driver_ref", route.DriverRef)
		}
		return fmt.Errorf("failed to create route: %w", err)
	}
	return nil
}

// GetActiveForDriver returns the driver's single active route, if any.
func (s *PostgresStore) GetActiveForDriver(ctx context.Context, driverRef string) (*domain.RouteAssignment, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRouteStore.GetActiveForDriver")
	defer span.End()

	return s.scanOne(ctx, `
		SELECT route_id, driver_ref, truck_ref, company_id, creation_date, is_active, sequence, path_geometry
		FROM route_assignments WHERE driver_ref = $1 AND is_active = true
	`, driverRef)
}

// GetByDriver returns the driver's most recently created route, active or not.
func (s *PostgresStore) GetByDriver(ctx context.Context, driverRef string) (*domain.RouteAssignment, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRouteStore.GetByDriver")
	defer span.End()

	return s.scanOne(ctx, `
		SELECT route_id, driver_ref, truck_ref, company_id, creation_date, is_active, sequence, path_geometry
		FROM route_assignments WHERE driver_ref = $1
		ORDER BY creation_date DESC LIMIT 1
	`, driverRef)
}

// ListActiveOn returns every active route created on the given day for a company.
func (s *PostgresStore) ListActiveOn(ctx context.Context, companyID string, date time.Time) ([]*domain.RouteAssignment, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRouteStore.ListActiveOn")
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT route_id, driver_ref, truck_ref, company_id, creation_date, is_active, sequence, path_geometry
		FROM route_assignments
		WHERE company_id = $1 AND is_active = true AND creation_date::date = $2::date
		ORDER BY route_id ASC
	`, companyID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list active routes: %w", err)
	}
	defer rows.Close()
	return scanRoutes(rows)
}

// Deactivate is the single terminal transition. Re-deactivating an
// already-inactive route returns apperror.CodeAlreadyInactive.
func (s *PostgresStore) Deactivate(ctx context.Context, routeID string) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRouteStore.Deactivate")
	defer span.End()

	tag, err := s.db.Exec(ctx,
		`UPDATE route_assignments SET is_active = false WHERE route_id = $1 AND is_active = true`,
		routeID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate route: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := s.exists(ctx, routeID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return apperror.New(apperror.CodeAlreadyInactive, fmt.Sprintf("route %s is already inactive", routeID))
	}
	return nil
}

// DropAll deactivates every active route for a company and returns them, so
// the caller can return their parcels to pending and release their trucks.
// Administrative and destructive.
func (s *PostgresStore) DropAll(ctx context.Context, companyID string) ([]*domain.RouteAssignment, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRouteStore.DropAll")
	defer span.End()

	rows, err := s.db.Query(ctx, `
		UPDATE route_assignments SET is_active = false
		WHERE company_id = $1 AND is_active = true
		RETURNING route_id, driver_ref, truck_ref, company_id, creation_date, is_active, sequence, path_geometry
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to drop all active routes: %w", err)
	}
	defer rows.Close()
	return scanRoutes(rows)
}

// UpdatePathGeometry replaces only the path geometry, per the recalculation
// contract — visit records are never renumbered by a recalculation.
func (s *PostgresStore) UpdatePathGeometry(ctx context.Context, routeID string, geometry []domain.Coordinate) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRouteStore.UpdatePathGeometry")
	defer span.End()

	geometryJSON, err := json.Marshal(geometry)
	if err != nil {
		return fmt.Errorf("failed to marshal route geometry: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE route_assignments SET path_geometry = $2 WHERE route_id = $1`,
		routeID, geometryJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update path geometry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateVisitStatusInActiveRoutes updates the VisitRecord.Status for
// parcelID in every active route that references it. Stale-route tolerant:
// zero matches is not an error.
func (s *PostgresStore) UpdateVisitStatusInActiveRoutes(ctx context.Context, parcelID string, status domain.ParcelStatus) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRouteStore.UpdateVisitStatusInActiveRoutes")
	defer span.End()

	containment, err := json.Marshal([]map[string]any{{"snapshot": map[string]any{"parcel_id": parcelID}}})
	if err != nil {
		return 0, fmt.Errorf("failed to build parcel containment filter: %w", err)
	}
	rows, err := s.db.Query(ctx, `
		SELECT route_id, driver_ref, truck_ref, company_id, creation_date, is_active, sequence, path_geometry
		FROM route_assignments
		WHERE is_active = true AND sequence @> $1
	`, containment)
	if err != nil {
		return 0, fmt.Errorf("failed to find routes referencing parcel: %w", err)
	}
	routes, err := scanRoutes(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}

	touched := 0
	for _, route := range routes {
		visit, ok := route.FindVisit(parcelID)
		if !ok {
			continue
		}
		visit.Status = status
		sequenceJSON, err := json.Marshal(route.Sequence)
		if err != nil {
			return touched, fmt.Errorf("failed to marshal updated sequence: %w", err)
		}
		tag, err := s.db.Exec(ctx,
			`UPDATE route_assignments SET sequence = $2 WHERE route_id = $1`,
			route.RouteID, sequenceJSON,
		)
		if err != nil {
			return touched, fmt.Errorf("failed to persist updated sequence: %w", err)
		}
		if tag.RowsAffected() > 0 {
			touched++
		}
	}
	return touched, nil
}

func (s *PostgresStore) exists(ctx context.Context, routeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM route_assignments WHERE route_id = $1)`, routeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check route existence: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*domain.RouteAssignment, error) {
	row := s.db.QueryRow(ctx, query, args...)
	route, err := scanRoute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return route, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoute(row rowScanner) (*domain.RouteAssignment, error) {
	r := &domain.RouteAssignment{}
	var sequenceJSON, geometryJSON []byte
	if err := row.Scan(
		&r.RouteID, &r.DriverRef, &r.TruckRef, &r.CompanyID,
		&r.CreationDate, &r.IsActive, &sequenceJSON, &geometryJSON,
	); err != nil {
		return nil, fmt.Errorf("failed to scan route: %w", err)
	}
	if err := json.Unmarshal(sequenceJSON, &r.Sequence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal route sequence: %w", err)
	}
	if err := json.Unmarshal(geometryJSON, &r.PathGeometry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal route geometry: %w", err)
	}
	return r, nil
}

func scanRoutes(rows pgx.Rows) ([]*domain.RouteAssignment, error) {
	var results []*domain.RouteAssignment
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return results, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505) naming the given constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}
