// Package export renders a resolved schedule as a spreadsheet.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"pefsched/internal/schedule"
)

// SheetName is the worksheet holding the schedule.
const SheetName = "Schedule"

var header = []any{
	"Date", "Start", "End", "Name", "Category", "Location", "Room",
	"Instructor", "Duration (min)", "Register URL", "Description",
}

// WriteXLSX writes one row per occurrence, in the order given.
func WriteXLSX(w io.Writer, items []schedule.Item) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
		return err
	}

	for i, it := range items {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			it.OccurrenceStart.Format("2006-01-02"),
			it.TimeStart,
			it.TimeEnd,
			it.Name,
			it.Category,
			it.Location,
			it.Room,
			it.Instructor,
			it.Duration,
			it.RegisterURL,
			it.Description,
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(SheetName, "A", "A", 12); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "D", "D", 32); err != nil {
		return err
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}
