package render

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Table reconstruction recovers a grid from loosely structured model output.
// Each pass is a separate function:
//
//	filterLines -> candidateRows -> modeColumns -> findHeader -> alignRows -> dedupeHeaders
//
// and cells are coerced to numbers or dates when written.

const (
	headerScanRows = 5
	maxCellLength  = 200
	maxTableRows   = 1000
)

// junkLines matches templated commentary around the data.
var junkLines = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(here is|here are|here's|this is|below is|below are|the following|sure[,!])`),
	regexp.MustCompile("^```"),
	regexp.MustCompile(`^#{1,6}\s`),
	regexp.MustCompile(`^!?\[[^\]]*\]\([^)]*\)\s*$`),
	regexp.MustCompile(`(?i)^(вот|ниже представлен|ниже приведен|это таблица|конечно[,!])`),
}

var separatorOnly = regexp.MustCompile(`^[\s\-=_:*|+]+$`)

// explanatoryPhrases mark rows that explain the table rather than belong to it.
var explanatoryPhrases = []string{
	"note:", "please note", "for example", "as you can see", "the table above",
	"this table", "let me know", "feel free", "i hope", "if you need",
	"примечание", "обратите внимание", "например", "как видно", "эта таблица",
	"в таблице выше", "дайте знать", "надеюсь", "если нужно",
}

// delimiters in tie-break priority order.
var delimiters = []rune{'|', '\t', ';', ','}

var dashesOnly = regexp.MustCompile(`^-+$`)

// Table is a reconstructed grid. When HasHeader is set Rows[0] is the header.
type Table struct {
	Rows      [][]string
	HasHeader bool
	Columns   int
}

// ExtractTable runs the full reconstruction pipeline over content.
func ExtractTable(content string) Table {
	rows := candidateRows(filterLines(content))
	if len(rows) == 0 {
		return Table{}
	}
	cols := modeColumns(rows)
	anchor, hasHeader := findHeader(rows, cols)
	out := alignRows(rows[anchor:], cols)
	if hasHeader {
		out = dedupeHeaders(out)
	}
	if len(out) == 0 {
		return Table{}
	}
	return Table{Rows: out, HasHeader: hasHeader, Columns: cols}
}

// filterLines drops blank, junk and pure separator lines.
func filterLines(content string) []string {
	var out []string
	for _, raw := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || separatorOnly.MatchString(line) || isJunk(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func isJunk(line string) bool {
	for _, re := range junkLines {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// candidateRows keeps lines that look like table rows, parsed into cells.
func candidateRows(lines []string) [][]string {
	var rows [][]string
	for _, line := range lines {
		delim, ok := pickDelimiter(line)
		if !ok {
			continue
		}
		cells := splitCells(line, delim)
		if nonEmpty(cells) >= 2 {
			rows = append(rows, cells)
		}
	}
	return rows
}

// pickDelimiter returns the most frequent delimiter of line; ties go to the
// earlier entry of delimiters.
func pickDelimiter(line string) (rune, bool) {
	best, bestCount := rune(0), 0
	for _, d := range delimiters {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best, bestCount > 0
}

// splitCells splits line on delim. A quote character opening a cell
// suppresses splitting until it is closed; a doubled quote inside is literal.
func splitCells(line string, delim rune) []string {
	var (
		cells  []string
		cur    strings.Builder
		quote  rune
		quoted bool
	)
	flush := func() {
		if quoted {
			cells = append(cells, emptyIfDashes(strings.TrimSpace(cur.String())))
		} else {
			cells = append(cells, cleanCell(cur.String()))
		}
		cur.Reset()
		quoted = false
	}
	rs := []rune(line)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case quote != 0:
			if r != quote {
				cur.WriteRune(r)
				continue
			}
			if i+1 < len(rs) && rs[i+1] == quote {
				cur.WriteRune(r)
				i++
				continue
			}
			quote = 0
		case (r == '"' || r == '\'') && !quoted && strings.TrimSpace(cur.String()) == "":
			quote, quoted = r, true
			cur.Reset()
		case r == delim:
			flush()
		case quoted && unicode.IsSpace(r):
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	if delim == '|' {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "|") && len(cells) > 0 && cells[0] == "" {
			cells = cells[1:]
		}
		if strings.HasSuffix(trimmed, "|") && len(cells) > 0 && cells[len(cells)-1] == "" {
			cells = cells[:len(cells)-1]
		}
	}
	return cells
}

// cleanCell strips surrounding quote, backtick, pipe and bold markers and
// empties cells made only of dashes.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	for {
		t := strings.TrimSpace(strings.Trim(s, "\"'`|"))
		if strings.HasPrefix(t, "**") && strings.HasSuffix(t, "**") && len(t) >= 4 {
			t = strings.TrimSpace(t[2 : len(t)-2])
		}
		if t == s {
			break
		}
		s = t
	}
	return emptyIfDashes(s)
}

func emptyIfDashes(s string) string {
	if dashesOnly.MatchString(s) {
		return ""
	}
	return s
}

func nonEmpty(cells []string) int {
	n := 0
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

// modeColumns returns the most common non-empty cell count; ties go to the
// wider layout.
func modeColumns(rows [][]string) int {
	counts := make(map[int]int)
	for _, r := range rows {
		counts[nonEmpty(r)]++
	}
	mode, best := 0, 0
	for cols, n := range counts {
		if n > best || (n == best && cols > mode) {
			mode, best = cols, n
		}
	}
	return mode
}

// findHeader scans the first candidate rows for one of the dominant width
// that reads like a header. Without one the first row of the dominant
// width anchors the table.
func findHeader(rows [][]string, cols int) (int, bool) {
	first := -1
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		if nonEmpty(rows[i]) != cols {
			continue
		}
		if first < 0 {
			first = i
		}
		if looksLikeHeader(rows[i]) {
			return i, true
		}
	}
	if first >= 0 {
		return first, false
	}
	for i, r := range rows {
		if nonEmpty(r) == cols {
			return i, false
		}
	}
	return 0, false
}

func looksLikeHeader(cells []string) bool {
	hasAlpha, allNumeric := false, true
	for _, c := range cells {
		if c == "" {
			continue
		}
		if strings.IndexFunc(c, unicode.IsLetter) >= 0 {
			hasAlpha = true
		}
		if _, ok := parseNumber(c); !ok {
			allNumeric = false
		}
	}
	return hasAlpha && !allNumeric
}

// alignRows keeps rows wide enough for the table and fits them to exactly
// cols cells.
func alignRows(rows [][]string, cols int) [][]string {
	var out [][]string
	for _, r := range rows {
		if len(out) >= maxTableRows {
			break
		}
		n := nonEmpty(r)
		if n == 0 || n < cols-1 || hasOverlongCell(r) || isExplanatory(r) {
			continue
		}
		out = append(out, fitRow(r, cols))
	}
	return out
}

func hasOverlongCell(cells []string) bool {
	for _, c := range cells {
		if utf8.RuneCountInString(c) > maxCellLength {
			return true
		}
	}
	return false
}

func isExplanatory(cells []string) bool {
	for _, c := range cells {
		lc := strings.ToLower(c)
		for _, p := range explanatoryPhrases {
			if strings.Contains(lc, p) {
				return true
			}
		}
	}
	return false
}

func fitRow(cells []string, cols int) []string {
	out := make([]string, cols)
	copy(out, cells)
	return out
}

// dedupeHeaders drops header rows repeated right after an identical row.
func dedupeHeaders(rows [][]string) [][]string {
	if len(rows) == 0 {
		return rows
	}
	header := rows[0]
	out := rows[:1:1]
	for _, r := range rows[1:] {
		if slices.Equal(r, header) && slices.Equal(out[len(out)-1], header) {
			continue
		}
		out = append(out, r)
	}
	return out
}

var (
	numberPattern = regexp.MustCompile(`^[-+]?\d+(?:[.,]\d+)?$`)
	dottedDate    = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`)
	isoDate       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

func parseNumber(s string) (float64, bool) {
	if !numberPattern.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	return f, err == nil
}

func parseDate(s string) (time.Time, bool) {
	if dottedDate.MatchString(s) {
		t, err := time.Parse("02.01.2006", s)
		return t, err == nil
	}
	if isoDate.MatchString(s) {
		t, err := time.Parse("2006-01-02", s)
		return t, err == nil
	}
	return time.Time{}, false
}

// coerceCell converts numeric strings to float64 and date strings to
// time.Time; everything else stays a string.
func coerceCell(s string) any {
	if f, ok := parseNumber(s); ok {
		return f
	}
	if t, ok := parseDate(s); ok {
		return t
	}
	return s
}
