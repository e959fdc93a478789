package report

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"routeplan/internal/domain"
)

// csvWriter wraps csv.Writer so every call site can ignore per-row errors
// and check once at the end, mirroring the generator's write-then-flush
// style.
type csvWriter struct {
	w   *csv.Writer
	err error
}

func (cw *csvWriter) Write(record []string) {
	if cw.err != nil {
		return
	}
	cw.err = cw.w.Write(record)
}

func (cw *csvWriter) Flush() {
	if cw.err != nil {
		return
	}
	cw.w.Flush()
	cw.err = cw.w.Error()
}

// GenerateCSV renders a day's delivery history as CSV: one row per driver.
func GenerateCSV(rows []*domain.DeliveryHistory) ([]byte, error) {
	var buf bytes.Buffer
	cw := &csvWriter{w: csv.NewWriter(&buf)}

	cw.Write([]string{"date", "driver_ref", "truck_ref", "delivered_count", "delivered_kilos",
		"undelivered_count", "undelivered_kilos", "duration_hours", "route_ref"})
	for _, h := range rows {
		cw.Write([]string{
			h.Date.Format("2006-01-02"),
			h.DriverRef,
			h.TruckRef,
			fmt.Sprintf("%d", h.DeliveredCount),
			fmt.Sprintf("%.2f", h.DeliveredKilos),
			fmt.Sprintf("%d", h.UndeliveredCount),
			fmt.Sprintf("%.2f", h.UndeliveredKilos),
			fmt.Sprintf("%.2f", h.DurationHours),
			h.RouteRef,
		})
	}

	cw.Flush()
	if cw.err != nil {
		return nil, fmt.Errorf("csv write error: %w", cw.err)
	}
	return buf.Bytes(), nil
}
