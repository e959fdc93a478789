// Package historystore persists DeliveryHistory rows: the per-day,
// per-driver aggregates materialized when a journey finishes.
package historystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"routeplan/internal/domain"
	"routeplan/pkg/database"
	"routeplan/pkg/telemetry"
)

// ErrNotFound is returned when no history row exists for a (date, driver) pair.
var ErrNotFound = errors.New("delivery history not found")

// Store is the persistence contract for delivery history. Unique per
// (date, driver); upserts converge to the last writer.
type Store interface {
	// Upsert creates or updates the (date, driver) row. The store enforces
	// the unique constraint; concurrent calls converge to the last write.
	Upsert(ctx context.Context, h *domain.DeliveryHistory) error
	GetByDateAndDriver(ctx context.Context, date time.Time, driverRef string) (*domain.DeliveryHistory, error)
	// ListByCompanySince returns every history row for a company with
	// date >= since, most recent first.
	ListByCompanySince(ctx context.Context, companyID string, since time.Time) ([]*domain.DeliveryHistory, error)
	ListByCompanyOnDate(ctx context.Context, companyID string, date time.Time) ([]*domain.DeliveryHistory, error)
}

// PostgresStore is the pgx-backed Store implementation.
type PostgresStore struct {
	db database.Querier
}

// NewPostgresStore builds a PostgresStore over an open connection, pool, or transaction.
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, h *domain.DeliveryHistory) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresHistoryStore.Upsert")
	defer span.End()

	query := `
		INSERT INTO delivery_history (
			date, driver_ref, truck_ref, delivered_count, delivered_kilos,
			undelivered_count, undelivered_kilos, duration_hours, route_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (date, driver_ref) DO UPDATE SET
			truck_ref = EXCLUDED.truck_ref,
			delivered_count = EXCLUDED.delivered_count,
			delivered_kilos = EXCLUDED.delivered_kilos,
			undelivered_count = EXCLUDED.undelivered_count,
			undelivered_kilos = EXCLUDED.undelivered_kilos,
			duration_hours = EXCLUDED.duration_hours,
			route_ref = EXCLUDED.route_ref
	`
	_, err := s.db.Exec(ctx, query,
		h.Date, h.DriverRef, h.TruckRef, h.DeliveredCount, h.DeliveredKilos,
		h.UndeliveredCount, h.UndeliveredKilos, h.DurationHours, nullable(h.RouteRef),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert delivery history: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByDateAndDriver(ctx context.Context, date time.Time, driverRef string) (*domain.DeliveryHistory, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresHistoryStore.GetByDateAndDriver")
	defer span.End()

	h := &domain.DeliveryHistory{}
	var routeRef *string
	err := s.db.QueryRow(ctx, `
		SELECT date, driver_ref, truck_ref, delivered_count, delivered_kilos,
		       undelivered_count, undelivered_kilos, duration_hours, route_ref
		FROM delivery_history WHERE date::date = $1::date AND driver_ref = $2
	`, date, driverRef).Scan(
		&h.Date, &h.DriverRef, &h.TruckRef, &h.DeliveredCount, &h.DeliveredKilos,
		&h.UndeliveredCount, &h.UndeliveredKilos, &h.DurationHours, &routeRef,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get delivery history: %w", err)
	}
	h.RouteRef = deref(routeRef)
	return h, nil
}

func (s *PostgresStore) ListByCompanySince(ctx context.Context, companyID string, since time.Time) ([]*domain.DeliveryHistory, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresHistoryStore.ListByCompanySince")
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT h.date, h.driver_ref, h.truck_ref, h.delivered_count, h.delivered_kilos,
		       h.undelivered_count, h.undelivered_kilos, h.duration_hours, h.route_ref
		FROM delivery_history h
		JOIN drivers d ON d.username = h.driver_ref
		WHERE d.company_id = $1 AND h.date::date >= $2::date
		ORDER BY h.date DESC, h.driver_ref ASC
	`, companyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery history: %w", err)
	}
	defer rows.Close()
	return scanHistories(rows)
}

func (s *PostgresStore) ListByCompanyOnDate(ctx context.Context, companyID string, date time.Time) ([]*domain.DeliveryHistory, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresHistoryStore.ListByCompanyOnDate")
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT h.date, h.driver_ref, h.truck_ref, h.delivered_count, h.delivered_kilos,
		       h.undelivered_count, h.undelivered_kilos, h.duration_hours, h.route_ref
		FROM delivery_history h
		JOIN drivers d ON d.username = h.driver_ref
		WHERE d.company_id = $1 AND h.date::date = $2::date
		ORDER BY h.driver_ref ASC
	`, companyID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery history for date: %w", err)
	}
	defer rows.Close()
	return scanHistories(rows)
}

func scanHistories(rows pgx.Rows) ([]*domain.DeliveryHistory, error) {
	var results []*domain.DeliveryHistory
	for rows.Next() {
		h := &domain.DeliveryHistory{}
		var routeRef *string
		if err := rows.Scan(
			&h.Date, &h.DriverRef, &h.TruckRef, &h.DeliveredCount, &h.DeliveredKilos,
			&h.UndeliveredCount, &h.UndeliveredKilos, &h.DurationHours, &routeRef,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery history: %w", err)
		}
		h.RouteRef = deref(routeRef)
		results = append(results, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return results, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
