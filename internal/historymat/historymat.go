// Package historymat is the History Materializer: produces
// per-day, per-driver delivery aggregates when a journey finishes, and
// answers the end-of-day history queries the operational dashboards need.
package historymat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"routeplan/internal/domain"
	"routeplan/internal/historystore"
	"routeplan/internal/parcelstore"
)

// Materializer aggregates a finished route's parcels into a DeliveryHistory
// row and answers history queries.
type Materializer struct {
	history historystore.Store
	parcels parcelstore.Store
}

// New builds a Materializer over the history and parcel stores.
func New(history historystore.Store, parcels parcelstore.Store) *Materializer {
	return &Materializer{history: history, parcels: parcels}
}

// DayAggregate is one day's history, either materialized from a finished
// route or derived from a fallback scan over parcels due that day.
type DayAggregate struct {
	Date             time.Time
	DriverRef        string
	TruckRef         string
	DeliveredCount   int
	DeliveredKilos   float64
	UndeliveredCount int
	UndeliveredKilos float64
	DurationHours    float64
	RouteRef         string
}

// MaterializeFinishedRoute aggregates over the parcels referenced by the
// route's sequence (excluding the depot sentinel) and upserts the
// (date, driver) row. durationHours defaults to 0 if the
// caller supplies none.
func (m *Materializer) MaterializeFinishedRoute(ctx context.Context, route *domain.RouteAssignment, durationHours float64) (*domain.DeliveryHistory, error) {
	parcelIDs := route.ParcelIDs()
	parcels, err := m.parcels.ListByIDs(ctx, parcelIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load route parcels for history: %w", err)
	}

	h := &domain.DeliveryHistory{
		Date:          route.CreationDate,
		DriverRef:     route.DriverRef,
		TruckRef:      route.TruckRef,
		DurationHours: durationHours,
		RouteRef:      route.RouteID,
	}
	for _, p := range parcels {
		switch p.Status {
		case domain.ParcelStatusDelivered:
			h.DeliveredCount++
			h.DeliveredKilos += p.WeightKg
		case domain.ParcelStatusUndelivered:
			h.UndeliveredCount++
			h.UndeliveredKilos += p.WeightKg
		}
	}

	if err := m.history.Upsert(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to upsert delivery history: %w", err)
	}
	return h, nil
}

// LastNDays returns the last n days of per-driver history for a company,
// merging materialized route rows with a fallback scan over parcels whose
// due_date falls on a day with no materialized row yet. Days
// are returned most-recent-first.
func (m *Materializer) LastNDays(ctx context.Context, companyID string, n int, today time.Time) ([]DayAggregate, error) {
	if n <= 0 {
		return nil, nil
	}
	since := today.AddDate(0, 0, -(n - 1))

	rows, err := m.history.ListByCompanySince(ctx, companyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery history: %w", err)
	}

	coveredDays := make(map[string]bool, len(rows))
	results := make([]DayAggregate, 0, len(rows))
	for _, h := range rows {
		coveredDays[h.Date.Format("2006-01-02")] = true
		results = append(results, DayAggregate{
			Date:             h.Date,
			DriverRef:        h.DriverRef,
			TruckRef:         h.TruckRef,
			DeliveredCount:   h.DeliveredCount,
			DeliveredKilos:   h.DeliveredKilos,
			UndeliveredCount: h.UndeliveredCount,
			UndeliveredKilos: h.UndeliveredKilos,
			DurationHours:    h.DurationHours,
			RouteRef:         h.RouteRef,
		})
	}

	for i := 0; i < n; i++ {
		day := since.AddDate(0, 0, i)
		if coveredDays[day.Format("2006-01-02")] {
			// At least one route was already materialized for this day;
			// the fallback scan only covers days with no materialized
			// row at all
			continue
		}
		fallback, err := m.fallbackScan(ctx, companyID, day)
		if err != nil {
			return nil, err
		}
		results = append(results, fallback...)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Date.After(results[j].Date) })
	return results, nil
}

// fallbackScan covers days where no route row was materialized yet: parcels
// whose due_date falls on day and whose status is delivered or undelivered
// still need to be reflected somewhere
func (m *Materializer) fallbackScan(ctx context.Context, companyID string, day time.Time) ([]DayAggregate, error) {
	parcels, err := m.parcels.ListDueOn(ctx, companyID, day, []domain.ParcelStatus{
		domain.ParcelStatusDelivered, domain.ParcelStatusUndelivered,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fallback-scan parcels due on %s: %w", day.Format("2006-01-02"), err)
	}
	if len(parcels) == 0 {
		return nil, nil
	}

	// Without a route, parcels aren't attributable to a single driver; the
	// fallback aggregate is reported unattributed (driver_ref empty) so the
	// dashboard still reflects the day's totals instead of silently
	// omitting them.

	agg := DayAggregate{Date: day}
	for _, p := range parcels {
		switch p.Status {
		case domain.ParcelStatusDelivered:
			agg.DeliveredCount++
			agg.DeliveredKilos += p.WeightKg
		case domain.ParcelStatusUndelivered:
			agg.UndeliveredCount++
			agg.UndeliveredKilos += p.WeightKg
		}
	}
	return []DayAggregate{agg}, nil
}

// DateDetail returns every driver's history row for a single date.
func (m *Materializer) DateDetail(ctx context.Context, companyID string, date time.Time) ([]*domain.DeliveryHistory, error) {
	rows, err := m.history.ListByCompanyOnDate(ctx, companyID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery history for date: %w", err)
	}
	return rows, nil
}
