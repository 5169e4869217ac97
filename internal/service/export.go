package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/iliyamo/checkin-credits/internal/model"
	"github.com/iliyamo/checkin-credits/internal/repository"
)

const exportPageSize = 500

// ExportStatements writes the whole ledger as an XLSX workbook, one
// statement per row in id order, and returns the number of rows written.
func ExportStatements(ctx context.Context, statements *repository.StatementRepo, w io.Writer) (int, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	header := []interface{}{
		"id", "user_id", "type", "check_in_type", "check_ins_quantity",
		"signed_quantity", "check_in_id", "payment_id", "title", "description", "created_at",
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	row := 2
	err := statements.ListAll(ctx, exportPageSize, func(page []model.Statement) error {
		for _, s := range page {
			values := []interface{}{
				s.ID, s.UserID, string(s.Type), string(s.CheckInType), s.Quantity,
				s.Signed(), deref(s.CheckInID), deref(s.PaymentID), s.Title, s.Description,
				s.CreatedAt.Format(time.RFC3339),
			}
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sheet, cell, &values); err != nil {
				return fmt.Errorf("write row %d: %w", row, err)
			}
			row++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}
	return row - 2, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
