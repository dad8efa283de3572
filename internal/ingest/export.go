package ingest

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/pipe-catalog/internal/domain/staging"
)

const SheetAudit = "audit"

var auditHeader = []any{"Время", "Прогон", "Сущность", "Ключ", "Результат", "Подробности"}

// WriteAuditWorkbook выгружает журнал применения в xlsx.
func WriteAuditWorkbook(w io.Writer, entries []staging.AuditEntry, loc *time.Location) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetAudit); err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetAudit, "A1", &auditHeader); err != nil {
		return err
	}
	for i, e := range entries {
		at := e.CreatedAt
		if loc != nil {
			at = at.In(loc)
		}
		row := []any{
			at.Format("02.01.2006 15:04:05"),
			e.SweepID.String(),
			string(e.Entity),
			e.EntityKey,
			string(e.Outcome),
			e.Detail,
		}
		cellRef, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetAudit, cellRef, &row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(SheetAudit, "A", "A", 20)
	_ = f.SetColWidth(SheetAudit, "B", "B", 38)
	_ = f.SetColWidth(SheetAudit, "F", "F", 60)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write audit workbook: %w", err)
	}
	return nil
}
