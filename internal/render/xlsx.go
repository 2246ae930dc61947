package render

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	sheetName     = "Data"
	noTableMarker = "No structured data found"
	maxColWidth   = 50
)

var thinBorder = []excelize.Border{
	{Type: "left", Color: "000000", Style: 1},
	{Type: "top", Color: "000000", Style: 1},
	{Type: "right", Color: "000000", Style: 1},
	{Type: "bottom", Color: "000000", Style: 1},
}

type sheetStyles struct {
	header, cell, date int
}

func newSheetStyles(f *excelize.File) (sheetStyles, error) {
	var (
		s   sheetStyles
		err error
	)
	if s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"D9D9D9"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    thinBorder,
	}); err != nil {
		return s, err
	}
	if s.cell, err = f.NewStyle(&excelize.Style{Border: thinBorder}); err != nil {
		return s, err
	}
	dateFmt := "yyyy-mm-dd"
	s.date, err = f.NewStyle(&excelize.Style{Border: thinBorder, CustomNumFmt: &dateFmt})
	return s, err
}

// renderXLSX reconstructs a table from content and writes it as a styled
// single-sheet workbook.
func renderXLSX(content string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	table := ExtractTable(content)
	if len(table.Rows) == 0 {
		if err := f.SetCellValue(sheetName, "A1", noTableMarker); err != nil {
			return nil, err
		}
		return writeWorkbook(f)
	}

	styles, err := newSheetStyles(f)
	if err != nil {
		return nil, fmt.Errorf("create styles: %w", err)
	}

	widths := make([]int, table.Columns)
	for r, row := range table.Rows {
		header := table.HasHeader && r == 0
		for c, raw := range row {
			if raw == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, err
			}
			var value any = raw
			style := styles.cell
			switch {
			case header:
				style = styles.header
			default:
				value = coerceCell(raw)
				if _, ok := value.(time.Time); ok {
					style = styles.date
				}
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return nil, fmt.Errorf("set %s: %w", cell, err)
			}
			if err := f.SetCellStyle(sheetName, cell, cell, style); err != nil {
				return nil, fmt.Errorf("style %s: %w", cell, err)
			}
			widths[c] = max(widths[c], utf8.RuneCountInString(raw))
		}
	}

	for c, w := range widths {
		col, err := excelize.ColumnNumberToName(c + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sheetName, col, col, float64(min(w+2, maxColWidth))); err != nil {
			return nil, fmt.Errorf("width %s: %w", col, err)
		}
	}
	return writeWorkbook(f)
}

func writeWorkbook(f *excelize.File) ([]byte, error) {
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
