package result

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

var exportHeaders = []string{"ID", "Pupil", "Class", "Score", "Total", "Percent", "Comment", "Taken At"}

// ExportExcel renders every result, or one class's results, as an xlsx workbook.
func (s *Service) ExportExcel(ctx context.Context, level string) ([]byte, error) {
	level = strings.TrimSpace(level)

	var (
		items []Result
		err   error
	)
	if level == "" {
		items, err = s.All(ctx)
	} else {
		items, err = s.AllForClass(ctx, level)
	}
	if err != nil {
		return nil, err
	}
	return buildWorkbook(items)
}

func buildWorkbook(items []Result) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "Results"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, res := range items {
		row := i + 2
		values := []any{
			res.ID,
			res.Username,
			res.ClassLevel,
			res.Score,
			res.Total,
			res.Percent(),
			res.Comment,
			res.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "H", 18)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
