package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

const emptySheet = "(empty sheet)"

// maxRepeat bounds OpenDocument row and column repetition.
const maxRepeat = 1000

type sheet struct {
	name string
	rows [][]string
}

func extractExcel(filename string, data []byte) (string, error) {
	var (
		sheets []sheet
		err    error
	)
	switch sniff(data) {
	case containerZip:
		zr, zerr := openZip(data)
		if zerr != nil {
			return "", zerr
		}
		if isODS(zr) {
			sheets, err = odsSheets(zr)
		} else {
			sheets, err = xlsxSheets(data)
		}
	case containerCFB:
		sheets, err = xlsSheets(data)
	default:
		return "", errors.New("not a spreadsheet")
	}
	if err != nil {
		return "", err
	}
	return renderSheets(sheets), nil
}

// renderSheets writes each sheet as a "Sheet: <name>" header followed by
// CSV-style rows; sheets are separated by a blank line.
func renderSheets(sheets []sheet) string {
	parts := make([]string, 0, len(sheets))
	for _, s := range sheets {
		var lines []string
		for _, row := range s.rows {
			row = trimTrailingEmpty(row)
			if len(row) == 0 {
				continue
			}
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i] = escapeCell(c)
			}
			lines = append(lines, strings.Join(cells, ","))
		}
		body := emptySheet
		if len(lines) > 0 {
			body = strings.Join(lines, "\n")
		}
		parts = append(parts, "Sheet: "+s.name+"\n"+body)
	}
	return strings.Join(parts, "\n\n")
}

// escapeCell quotes values containing a comma, quote or line break and
// doubles embedded quotes.
func escapeCell(v string) string {
	if !strings.ContainsAny(v, ",\"\r\n") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

func trimTrailingEmpty(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}

func xlsxSheets(data []byte) ([]sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{UnzipSizeLimit: maxUnpacked})
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var out []sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		for r, row := range rows {
			for c, v := range row {
				if v == "" {
					continue
				}
				if d, ok := xlsxDate(f, name, c+1, r+1, v); ok {
					row[c] = d
				}
			}
		}
		out = append(out, sheet{name: name, rows: rows})
	}
	return out, nil
}

// xlsxDate renders a serial date value as YYYY-MM-DD when the cell's number
// format is a date format.
func xlsxDate(f *excelize.File, sheetName string, col, row int, raw string) (string, bool) {
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", false
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "", false
	}
	styleID, err := f.GetCellStyle(sheetName, cell)
	if err != nil || styleID == 0 {
		return "", false
	}
	style, err := f.GetStyle(styleID)
	if err != nil || style == nil || !isDateFormat(style.NumFmt, style.CustomNumFmt) {
		return "", false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

func isDateFormat(numFmt int, custom *string) bool {
	if custom != nil && *custom != "" {
		return isDatePattern(*custom)
	}
	switch {
	case numFmt >= 14 && numFmt <= 22,
		numFmt >= 27 && numFmt <= 36,
		numFmt >= 45 && numFmt <= 47,
		numFmt >= 50 && numFmt <= 58:
		return true
	}
	return false
}

// isDatePattern reports whether a custom number format contains day or year
// tokens outside quoted literals and bracketed sections.
func isDatePattern(pattern string) bool {
	inQuote, inBracket := false, false
	for _, r := range strings.ToLower(pattern) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		case r == 'y' || r == 'd':
			return true
		}
	}
	return false
}

func xlsSheets(data []byte) (out []sheet, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("malformed xls: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	for i := 0; i < wb.NumSheets(); i++ {
		ws := wb.GetSheet(i)
		if ws == nil {
			continue
		}
		s := sheet{name: ws.Name}
		for r := 0; r <= int(ws.MaxRow); r++ {
			row := ws.Row(r)
			if row == nil {
				continue
			}
			cells := make([]string, 0, row.LastCol())
			for c := 0; c < row.LastCol(); c++ {
				cells = append(cells, normalizeXLSValue(row.Col(c)))
			}
			s.rows = append(s.rows, cells)
		}
		out = append(out, s)
	}
	return out, nil
}

// normalizeXLSValue shortens the RFC 3339 timestamps produced for date
// cells to YYYY-MM-DD when they carry no time of day.
func normalizeXLSValue(v string) string {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return v
	}
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("2006-01-02")
	}
	return v
}

func isODS(zr *zip.Reader) bool {
	if f := zipEntry(zr, "mimetype"); f != nil {
		mt, err := readZipEntry(f)
		return err == nil && strings.Contains(string(mt), "opendocument.spreadsheet")
	}
	return zipEntry(zr, "content.xml") != nil && zipEntry(zr, "xl/workbook.xml") == nil
}

// odsSheets walks content.xml of an OpenDocument spreadsheet.
func odsSheets(zr *zip.Reader) ([]sheet, error) {
	f := zipEntry(zr, "content.xml")
	if f == nil {
		return nil, errors.New("content.xml not found")
	}
	content, err := readZipEntry(f)
	if err != nil {
		return nil, err
	}

	var (
		out        []sheet
		cur        *sheet
		row        []string
		rowRepeat  int
		pendingEmp int // empty cells not yet materialized
		inCell     bool
		cellRepeat int
		cellDate   string
		cellText   strings.Builder
		paraCount  int
		inPara     bool
	)
	dec := xml.NewDecoder(bytes.NewReader(content))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse content.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "table":
				if t.Name.Space == "" || strings.Contains(t.Name.Space, "table") {
					out = append(out, sheet{name: attr(t, "name")})
					cur = &out[len(out)-1]
				}
			case "table-row":
				row, pendingEmp = nil, 0
				rowRepeat = repeatAttr(t, "number-rows-repeated")
			case "table-cell", "covered-table-cell":
				inCell = true
				cellRepeat = repeatAttr(t, "number-columns-repeated")
				cellDate = ""
				if attr(t, "value-type") == "date" {
					cellDate = attr(t, "date-value")
				}
				cellText.Reset()
				paraCount = 0
			case "p":
				if inCell {
					if paraCount > 0 {
						cellText.WriteByte('\n')
					}
					paraCount++
					inPara = true
				}
			case "s":
				if inPara {
					n := repeatAttr(t, "c")
					cellText.WriteString(strings.Repeat(" ", n))
				}
			case "tab":
				if inPara {
					cellText.WriteByte('\t')
				}
			case "line-break":
				if inPara {
					cellText.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				inPara = false
			case "table-cell", "covered-table-cell":
				inCell = false
				v := cellText.String()
				if cellDate != "" && len(cellDate) >= 10 {
					v = cellDate[:10]
				}
				if strings.TrimSpace(v) == "" {
					pendingEmp += cellRepeat
					continue
				}
				for ; pendingEmp > 0 && len(row) < maxRepeat; pendingEmp-- {
					row = append(row, "")
				}
				pendingEmp = 0
				for i := 0; i < cellRepeat && len(row) < maxRepeat; i++ {
					row = append(row, v)
				}
			case "table-row":
				if cur == nil || len(row) == 0 {
					continue
				}
				for i := 0; i < rowRepeat && len(cur.rows) < maxRepeat; i++ {
					cur.rows = append(cur.rows, append([]string(nil), row...))
				}
			case "table":
				cur = nil
			}
		case xml.CharData:
			if inPara {
				cellText.Write(t)
			}
		}
	}
	return out, nil
}

func repeatAttr(el xml.StartElement, local string) int {
	n, err := strconv.Atoi(attr(el, local))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
