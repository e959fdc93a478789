package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"routeplan/internal/domain"
)

func cellAddr(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}

// GenerateExcel renders a day's delivery history as a single-sheet workbook.
func GenerateExcel(rows []*domain.DeliveryHistory) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	f.DeleteSheet("Sheet1")

	sheetName := "Delivery History"
	f.NewSheet(sheetName)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	headers := []string{"Date", "Driver", "Truck", "Delivered", "Delivered Kg", "Undelivered", "Undelivered Kg", "Duration (h)", "Route"}
	for i, h := range headers {
		col := string(rune('A' + i))
		f.SetCellValue(sheetName, cellAddr(col, 1), h)
	}
	f.SetCellStyle(sheetName, cellAddr("A", 1), cellAddr("I", 1), headerStyle)

	row := 2
	for _, h := range rows {
		f.SetCellValue(sheetName, cellAddr("A", row), h.Date.Format("2006-01-02"))
		f.SetCellValue(sheetName, cellAddr("B", row), h.DriverRef)
		f.SetCellValue(sheetName, cellAddr("C", row), h.TruckRef)
		f.SetCellValue(sheetName, cellAddr("D", row), h.DeliveredCount)
		f.SetCellValue(sheetName, cellAddr("E", row), h.DeliveredKilos)
		f.SetCellValue(sheetName, cellAddr("F", row), h.UndeliveredCount)
		f.SetCellValue(sheetName, cellAddr("G", row), h.UndeliveredKilos)
		f.SetCellValue(sheetName, cellAddr("H", row), h.DurationHours)
		f.SetCellValue(sheetName, cellAddr("I", row), h.RouteRef)
		row++
	}

	for _, col := range []string{"A", "B", "C", "D", "E", "F", "G", "H", "I"} {
		f.SetColWidth(sheetName, col, col, 16)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write excel buffer: %w", err)
	}
	return buf.Bytes(), nil
}
