// Package officedeliverystore persists OfficeDelivery rows: the append-only
// record of a driver's batch drop-off of undeliverable parcels at an office.
package officedeliverystore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"routeplan/internal/domain"
	"routeplan/pkg/database"
	"routeplan/pkg/telemetry"
)

// Store is the persistence contract for office deliveries.
type Store interface {
	// FilterNew returns the subset of parcelIDs not yet recorded as
	// dropped off by driverRef at officeRef on date's calendar day. Called
	// before any status transition so a retried record_office_delivery
	// request is a no-op rather than a duplicate row.
	FilterNew(ctx context.Context, driverRef, officeRef string, date time.Time, parcelIDs []string) ([]string, error)
	// Create persists the batch header and one office_delivery_parcels row
	// per entry in d.ParcelRefs. Rows that collide with an existing
	// (driver_ref, office_ref, delivery_date, parcel_ref) are silently
	// skipped, guarding the same no-op retry behavior against a race with
	// a concurrent call FilterNew didn't see.
	Create(ctx context.Context, d *domain.OfficeDelivery) error
	// ListDroppedParcelIDs returns every parcel id already recorded as
	// dropped off at an office for the given driver, across all deliveries.
	// Used by the Office-Fallback Dispatcher to exclude already-handled
	// parcels when suggesting the next office route.
	ListDroppedParcelIDs(ctx context.Context, driverRef string) (map[string]bool, error)
}

// PostgresStore is the pgx-backed Store implementation.
type PostgresStore struct {
	db database.DB
}

// NewPostgresStore builds a PostgresStore over an open connection or pool.
func NewPostgresStore(db database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FilterNew(ctx context.Context, driverRef, officeRef string, date time.Time, parcelIDs []string) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresOfficeDeliveryStore.FilterNew")
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT parcel_ref FROM office_delivery_parcels
		WHERE driver_ref = $1 AND office_ref = $2 AND delivery_date = $3::date AND parcel_ref = ANY($4)
	`, driverRef, officeRef, date, parcelIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to look up already-recorded office deliveries: %w", err)
	}
	defer rows.Close()

	already := make(map[string]bool)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("failed to scan office delivery parcel: %w", err)
		}
		already[ref] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	fresh := make([]string, 0, len(parcelIDs))
	for _, id := range parcelIDs {
		if !already[id] {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}

func (s *PostgresStore) Create(ctx context.Context, d *domain.OfficeDelivery) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresOfficeDeliveryStore.Create")
	defer span.End()

	return database.WithTransaction(ctx, s.db, func(tx pgx.Tx) error {
		var deliveryID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO office_deliveries (driver_ref, office_ref, timestamp, route_ref)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, d.DriverRef, d.OfficeRef, d.Timestamp, nullable(d.RouteRef)).Scan(&deliveryID)
		if err != nil {
			return fmt.Errorf("failed to create office delivery: %w", err)
		}

		date := d.Timestamp
		for _, parcelRef := range d.ParcelRefs {
			_, err := tx.Exec(ctx, `
				INSERT INTO office_delivery_parcels (delivery_id, driver_ref, office_ref, delivery_date, parcel_ref)
				VALUES ($1, $2, $3, $4::date, $5)
				ON CONFLICT (driver_ref, office_ref, delivery_date, parcel_ref) DO NOTHING
			`, deliveryID, d.DriverRef, d.OfficeRef, date, parcelRef)
			if err != nil {
				return fmt.Errorf("failed to record office delivery parcel %s: %w", parcelRef, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListDroppedParcelIDs(ctx context.Context, driverRef string) (map[string]bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresOfficeDeliveryStore.ListDroppedParcelIDs")
	defer span.End()

	rows, err := s.db.Query(ctx,
		`SELECT parcel_ref FROM office_delivery_parcels WHERE driver_ref = $1`, driverRef,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list office deliveries: %w", err)
	}
	defer rows.Close()

	dropped := make(map[string]bool)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("failed to scan office delivery parcel: %w", err)
		}
		dropped[ref] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return dropped, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
