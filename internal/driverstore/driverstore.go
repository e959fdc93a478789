// Package driverstore persists Driver rows.
package driverstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"routeplan/internal/domain"
	"routeplan/pkg/database"
	"routeplan/pkg/telemetry"
)

// ErrNotFound is returned when a driver username does not exist.
var ErrNotFound = errors.New("driver not found")

// Store is the persistence contract for drivers.
type Store interface {
	GetByUsername(ctx context.Context, username string) (*domain.Driver, error)
	ListVerifiedByCompany(ctx context.Context, companyID string) ([]*domain.Driver, error)
}

// PostgresStore is the pgx-backed Store implementation.
type PostgresStore struct {
	db database.Querier
}

// NewPostgresStore builds a PostgresStore over an open connection, pool, or transaction.
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (*domain.Driver, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresDriverStore.GetByUsername")
	defer span.End()

	d := &domain.Driver{}
	err := s.db.QueryRow(ctx,
		`SELECT username, company_id, verified FROM drivers WHERE username = $1`, username,
	).Scan(&d.Username, &d.CompanyID, &d.Verified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get driver: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListVerifiedByCompany(ctx context.Context, companyID string) ([]*domain.Driver, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresDriverStore.ListVerifiedByCompany")
	defer span.End()

	rows, err := s.db.Query(ctx,
		`SELECT username, company_id, verified FROM drivers
		 WHERE company_id = $1 AND verified = true
		 ORDER BY username ASC`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list verified drivers: %w", err)
	}
	defer rows.Close()

	var results []*domain.Driver
	for rows.Next() {
		d := &domain.Driver{}
		if err := rows.Scan(&d.Username, &d.CompanyID, &d.Verified); err != nil {
			return nil, fmt.Errorf("failed to scan driver: %w", err)
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return results, nil
}
