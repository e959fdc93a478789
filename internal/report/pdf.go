package report

import (
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/border"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"routeplan/internal/domain"
)

var (
	headerBgColor  = &props.Color{Red: 44, Green: 62, Blue: 80}
	primaryColor   = &props.Color{Red: 52, Green: 152, Blue: 219}
	darkGrayColor  = &props.Color{Red: 127, Green: 140, Blue: 141}
	lightGrayColor = &props.Color{Red: 236, Green: 240, Blue: 241}

	titleStyle = props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Center, Color: headerBgColor}
	h2Style    = props.Text{Size: 13, Style: fontstyle.Bold, Color: headerBgColor, Top: 4}
	smallStyle = props.Text{Size: 8, Color: darkGrayColor}
	normalStyle = props.Text{Size: 10}

	tableHeaderStyle     = &props.Cell{BackgroundColor: primaryColor}
	tableHeaderTextStyle = props.Text{Size: 9, Style: fontstyle.Bold, Color: &props.Color{Red: 255, Green: 255, Blue: 255}, Align: align.Center}
	tableCellStyle       = &props.Cell{BorderType: border.Bottom, BorderColor: lightGrayColor}
	tableCellTextStyle   = props.Text{Size: 9, Align: align.Center}
)

// GeneratePDF renders a driver's end-of-day delivery manifest: one stop per
// row with its final status, plus the materialized summary counts.
func GeneratePDF(route *domain.RouteAssignment, history *domain.DeliveryHistory) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber().
		WithLeftMargin(15).
		WithTopMargin(15).
		WithRightMargin(15).
		Build()

	m := maroto.New(cfg)

	addManifestHeader(m, route, history)
	addManifestStops(m, route)

	m.AddRow(6, line.NewCol(12))
	m.AddRow(5, text.NewCol(12, fmt.Sprintf("Generated %s", time.Now().Format("2006-01-02 15:04:05")), smallStyle))

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate pdf manifest: %w", err)
	}
	return doc.GetBytes(), nil
}

func addManifestHeader(m core.Maroto, route *domain.RouteAssignment, history *domain.DeliveryHistory) {
	m.AddRow(14, text.NewCol(12, "Delivery Manifest", titleStyle))
	m.AddRow(5, line.NewCol(12))

	m.AddRow(6,
		text.NewCol(6, fmt.Sprintf("Driver: %s", route.DriverRef), normalStyle),
		text.NewCol(6, fmt.Sprintf("Truck: %s", route.TruckRef), normalStyle),
	)
	m.AddRow(6,
		text.NewCol(6, fmt.Sprintf("Date: %s", route.CreationDate.Format("2006-01-02")), normalStyle),
		text.NewCol(6, fmt.Sprintf("Route: %s", route.RouteID), normalStyle),
	)

	if history != nil {
		m.AddRow(6,
			text.NewCol(4, fmt.Sprintf("Delivered: %d (%.1f kg)", history.DeliveredCount, history.DeliveredKilos), normalStyle),
			text.NewCol(4, fmt.Sprintf("Undelivered: %d (%.1f kg)", history.UndeliveredCount, history.UndeliveredKilos), normalStyle),
			text.NewCol(4, fmt.Sprintf("Duration: %.1f h", history.DurationHours), normalStyle),
		)
	}

	m.AddRow(8)
}

func addManifestStops(m core.Maroto, route *domain.RouteAssignment) {
	m.AddRow(8, text.NewCol(12, "Stops", h2Style))
	m.AddRow(8,
		text.NewCol(1, "#", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(5, "Address", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(3, "Recipient", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(3, "Status", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
	)

	for _, v := range route.Sequence {
		if v.Snapshot.Kind != domain.SnapshotKindParcel {
			continue
		}
		m.AddRow(7,
			text.NewCol(1, fmt.Sprintf("%d", v.VisitOrder), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(5, v.Snapshot.Address, tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(3, v.Snapshot.Recipient, tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(3, v.Status.String(), tableCellTextStyle).WithStyle(tableCellStyle),
		)
	}
}
