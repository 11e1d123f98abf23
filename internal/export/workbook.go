package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/timecalc"
)

const payrollSheet = "Paie"

// Workbook renders the payroll schema as an XLSX file with one sheet. Hours
// are stored as numbers so they can be summed.
func Workbook(rows []model.SupervisorRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), payrollSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}
	header := make([]any, len(payrollHeader))
	for i, h := range payrollHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(payrollSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := []any{
			r.UserID,
			r.AgentName,
			timecalc.FormatDayFR(r.Day),
			timecalc.ISOWeek(r.Day),
			timecalc.MonthNumber(r.Day),
			r.Project,
			float64(r.Minutes()) / 60,
			r.Mission,
			r.Region,
		}
		if err := f.SetSheetRow(payrollSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}
	if err := f.SetPanes(payrollSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, fmt.Errorf("freezing header: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("encoding workbook: %w", err)
	}
	return buf.Bytes(), nil
}
