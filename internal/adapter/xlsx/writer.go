package xlsx

import (
	"fmt"

	"github.com/couchcryptid/corona-report-bot/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Sheet titles used by the ministry.
const (
	InfectionsSheetName = "Infizierte Coronavirus in BW"
	DeathsSheetName     = "Todesfälle Coronavirus in BW"
)

// Encode writes observations into a workbook with the provider's layout, one
// date column per observation starting at the catalog's value column. Days
// must be ordered newest first, as the provider publishes them.
func Encode(catalog *domain.Catalog, days ...domain.Observation) ([]byte, error) {
	if len(days) == 0 {
		return nil, fmt.Errorf("encode workbook: no observations")
	}
	layout := catalog.Layout()

	dateCol, dateRow, err := excelize.CellNameToCoordinates(layout.DateCell)
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	labelCol, err := excelize.ColumnNameToNumber(layout.LabelColumn)
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	valueCol, err := excelize.ColumnNameToNumber(layout.ValueColumn)
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}

	names := make([]string, max(layout.InfectionsSheet, layout.DeathsSheet)+1)
	for i := range names {
		names[i] = fmt.Sprintf("Tabelle%d", i+1)
	}
	names[layout.InfectionsSheet] = InfectionsSheetName
	names[layout.DeathsSheet] = DeathsSheetName

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", names[0]); err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	for _, name := range names[1:] {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("encode workbook: %w", err)
		}
	}

	sheets := []struct {
		name  string
		value func(domain.Counts) int64
	}{
		{names[layout.InfectionsSheet], func(c domain.Counts) int64 { return c.Infections }},
		{names[layout.DeathsSheet], func(c domain.Counts) int64 { return c.Deaths }},
	}

	for _, s := range sheets {
		if err := f.SetCellValue(s.name, "A1", s.name); err != nil {
			return nil, err
		}
		for i, day := range days {
			cell, err := excelize.CoordinatesToCellName(dateCol+i, dateRow)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(s.name, cell, domain.Day(day.Date)); err != nil {
				return nil, err
			}
		}
		for _, r := range catalog.All() {
			cell, err := excelize.CoordinatesToCellName(labelCol, r.Row)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(s.name, cell, r.Label); err != nil {
				return nil, err
			}
			for i, day := range days {
				cell, err := excelize.CoordinatesToCellName(valueCol+i, r.Row)
				if err != nil {
					return nil, err
				}
				if err := f.SetCellValue(s.name, cell, s.value(day.Counts[r.ID])); err != nil {
					return nil, err
				}
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
