// Package officestore persists Office rows.
package officestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"routeplan/internal/domain"
	"routeplan/pkg/database"
	"routeplan/pkg/telemetry"
)

// ErrNotFound is returned when an office id does not exist.
var ErrNotFound = errors.New("office not found")

// Store is the persistence contract for offices.
type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Office, error)
	// ListForCompany returns a company's offices. The Office-Fallback
	// Dispatcher falls back to ListGlobal when this returns none.
	ListForCompany(ctx context.Context, companyID string) ([]*domain.Office, error)
	ListGlobal(ctx context.Context) ([]*domain.Office, error)
}

// PostgresStore is the pgx-backed Store implementation.
type PostgresStore struct {
	db database.Querier
}

// NewPostgresStore builds a PostgresStore over an open connection, pool, or transaction.
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*domain.Office, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresOfficeStore.GetByID")
	defer span.End()

	o := &domain.Office{}
	err := s.db.QueryRow(ctx,
		`SELECT id, name, company_id, lat, lon FROM offices WHERE id = $1`, id,
	).Scan(&o.ID, &o.Name, &o.CompanyID, &o.Location.Lat, &o.Location.Lon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get office: %w", err)
	}
	return o, nil
}

func (s *PostgresStore) ListForCompany(ctx context.Context, companyID string) ([]*domain.Office, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresOfficeStore.ListForCompany")
	defer span.End()

	return s.list(ctx, `SELECT id, name, company_id, lat, lon FROM offices WHERE company_id = $1 ORDER BY id ASC`, companyID)
}

func (s *PostgresStore) ListGlobal(ctx context.Context) ([]*domain.Office, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresOfficeStore.ListGlobal")
	defer span.End()

	return s.list(ctx, `SELECT id, name, company_id, lat, lon FROM offices ORDER BY id ASC`)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*domain.Office, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list offices: %w", err)
	}
	defer rows.Close()

	var results []*domain.Office
	for rows.Next() {
		o := &domain.Office{}
		if err := rows.Scan(&o.ID, &o.Name, &o.CompanyID, &o.Location.Lat, &o.Location.Lon); err != nil {
			return nil, fmt.Errorf("failed to scan office: %w", err)
		}
		results = append(results, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return results, nil
}
