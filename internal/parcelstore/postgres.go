package parcelstore

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

// PostgresStore is the pgx-backed Store implementation. It runs against a
// Querier so it can be used standalone or inside a caller's transaction.
type PostgresStore struct {
	db database.Querier
}

// NewPostgresStore builds a PostgresStore over an open connection, pool, or
// transaction.
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p *domain.Parcel) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresParcelStore.Create")
	defer span.End()

	query := `
		INSERT INTO parcels (
			id, company_id, address, lat, lon, recipient, phone, email,
			due_date, weight_kg, status, office_ref, signature, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		RETURNING updated_at
	`
	err := s.db.QueryRow(ctx, query,
		p.ID, p.CompanyID, p.Address, p.Location.Lat, p.Location.Lon,
		p.Recipient, p.Phone, p.Email, p.DueDate, p.WeightKg,
		p.Status.String(), nullable(p.OfficeRef), nullable(p.Signature),
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create parcel: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*domain.Parcel, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresParcelStore.GetByID")
	defer span.End()

	query := `
		SELECT id, company_id, address, lat, lon, recipient, phone, email,
		       due_date, weight_kg, status, office_ref, signature, updated_at
		FROM parcels WHERE id = $1
	`
	p := &domain.Parcel{}
	var status string
	var officeRef, signature *string
	err := s.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.CompanyID, &p.Address, &p.Location.Lat, &p.Location.Lon,
		&p.Recipient, &p.Phone, &p.Email, &p.DueDate, &p.WeightKg,
		&status, &officeRef, &signature, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get parcel: %w", err)
	}
	p.Status = domain.ParcelStatusFromString(status)
	p.OfficeRef = deref(officeRef)
	p.Signature = deref(signature)
	return p, nil
}

func (s *PostgresStore) ListPendingByCompany(ctx context.Context, companyID string, asOf time.Time) ([]*domain.Parcel, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresParcelStore.ListPendingByCompany")
	defer span.End()

	query := `
		SELECT id, company_id, address, lat, lon, recipient, phone, email,
		       due_date, weight_kg, status, office_ref, signature, updated_at
		FROM parcels
		WHERE company_id = $1 AND status = $2 AND due_date <= $3
		ORDER BY due_date ASC, id ASC
	`
	rows, err := s.db.Query(ctx, query, companyID, domain.ParcelStatusPending.String(), asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending parcels: %w", err)
	}
	defer rows.Close()
	return scanParcels(rows)
}

func (s *PostgresStore) ListByIDs(ctx context.Context, ids []string) ([]*domain.Parcel, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresParcelStore.ListByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, company_id, address, lat, lon, recipient, phone, email,
		       due_date, weight_kg, status, office_ref, signature, updated_at
		FROM parcels WHERE id = ANY($1)
	`
	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list parcels by id: %w", err)
	}
	defer rows.Close()
	return scanParcels(rows)
}

func (s *PostgresStore) ListDueOn(ctx context.Context, companyID string, day time.Time, statuses []domain.ParcelStatus) ([]*domain.Parcel, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresParcelStore.ListDueOn")
	defer span.End()

	statusStrings := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrings[i] = st.String()
	}
	query := `
		SELECT id, company_id, address, lat, lon, recipient, phone, email,
		       due_date, weight_kg, status, office_ref, signature, updated_at
		FROM parcels
		WHERE company_id = $1 AND due_date::date = $2::date AND status = ANY($3)
	`
	rows, err := s.db.Query(ctx, query, companyID, day, statusStrings)
	if err != nil {
		return nil, fmt.Errorf("failed to list parcels due on date: %w", err)
	}
	defer rows.Close()
	return scanParcels(rows)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status domain.ParcelStatus, officeRef, signature string, updatedAt time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresParcelStore.UpdateStatus")
	defer span.End()

	query := `
		UPDATE parcels
		SET status = $2, office_ref = $3, signature = $4, updated_at = $5
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, id, status.String(), nullable(officeRef), nullable(signature), updatedAt)
	if err != nil {
		return fmt.Errorf("failed to update parcel status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanParcels(rows pgx.Rows) ([]*domain.Parcel, error) {
	var results []*domain.Parcel
	for rows.Next() {
		p := &domain.Parcel{}
		var status string
		var officeRef, signature *string
		if err := rows.Scan(
			&p.ID, &p.CompanyID, &p.Address, &p.Location.Lat, &p.Location.Lon,
			&p.Recipient, &p.Phone, &p.Email, &p.DueDate, &p.WeightKg,
			&status, &officeRef, &signature, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan parcel: %w", err)
		}
		p.Status = domain.ParcelStatusFromString(status)
		p.OfficeRef = deref(officeRef)
		p.Signature = deref(signature)
		results = append(results, p)
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
