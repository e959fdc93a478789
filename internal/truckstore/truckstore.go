// Package truckstore persists Truck rows.
package truckstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"routeplan/internal/domain"
	"routeplan/pkg/database"
	"routeplan/pkg/telemetry"
)

// ErrNotFound is returned when a license plate does not exist.
var ErrNotFound = errors.New("truck not found")

// Store is the persistence contract for trucks.
type Store interface {
	GetByPlate(ctx context.Context, plate string) (*domain.Truck, error)
	ListAvailable(ctx context.Context, companyID string) ([]*domain.Truck, error)
	// SetInUse flips in_use. Callers that must flip it in the same
	// transaction as a route create/deactivate pass a store built over
	// that transaction's Querier.
	SetInUse(ctx context.Context, plate string, inUse bool) error
}

// PostgresStore is the pgx-backed Store implementation.
type PostgresStore struct {
	db database.Querier
}

// NewPostgresStore builds a PostgresStore over an open connection, pool, or transaction.
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetByPlate(ctx context.Context, plate string) (*domain.Truck, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresTruckStore.GetByPlate")
	defer span.End()

	t := &domain.Truck{}
	err := s.db.QueryRow(ctx,
		`SELECT license_plate, company_id, capacity_kg, in_use FROM trucks WHERE license_plate = $1`,
		plate,
	).Scan(&t.LicensePlate, &t.CompanyID, &t.CapacityKg, &t.InUse)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get truck: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListAvailable(ctx context.Context, companyID string) ([]*domain.Truck, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresTruckStore.ListAvailable")
	defer span.End()

	rows, err := s.db.Query(ctx,
		`SELECT license_plate, company_id, capacity_kg, in_use FROM trucks
		 WHERE company_id = $1 AND in_use = false
		 ORDER BY capacity_kg ASC`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list available trucks: %w", err)
	}
	defer rows.Close()

	var results []*domain.Truck
	for rows.Next() {
		t := &domain.Truck{}
		if err := rows.Scan(&t.LicensePlate, &t.CompanyID, &t.CapacityKg, &t.InUse); err != nil {
			return nil, fmt.Errorf("failed to scan truck: %w", err)
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return results, nil
}

func (s *PostgresStore) SetInUse(ctx context.Context, plate string, inUse bool) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresTruckStore.SetInUse")
	defer span.End()

	tag, err := s.db.Exec(ctx, `UPDATE trucks SET in_use = $2 WHERE license_plate = $1`, plate, inUse)
	if err != nil {
		return fmt.Errorf("failed to update truck in_use: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
