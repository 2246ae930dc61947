package render

import (
	"slices"
	"strings"
	"testing"
	"time"
)

func TestFilterLines(t *testing.T) {
	content := "Here is the data:\n```\n## Results\n|---|:---:|\n[docs](http://x)\nA,B\n\n=====\nВот таблица:\n1,2\n```"
	got := filterLines(content)
	want := []string{"A,B", "1,2"}
	if !slices.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPickDelimiter(t *testing.T) {
	tests := []struct {
		line string
		want rune
		ok   bool
	}{
		{"a,b,c", ',', true},
		{"a;b;c", ';', true},
		{"a\tb", '\t', true},
		{"| a | b |", '|', true},
		{"a;b,c", ';', true}, // tie goes to ';'
		{"a,b,c;d", ',', true},
		{"no delimiters here", 0, false},
	}
	for _, tt := range tests {
		got, ok := pickDelimiter(tt.line)
		if got != tt.want || ok != tt.ok {
			t.Errorf("pickDelimiter(%q) = %q, %v; want %q, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSplitCells(t *testing.T) {
	tests := []struct {
		line  string
		delim rune
		want  []string
	}{
		{`Alice,"Paris, France",30`, ',', []string{"Alice", "Paris, France", "30"}},
		{`"say ""hi""",x`, ',', []string{`say "hi"`, "x"}},
		{"| **Name** | `Age` |", '|', []string{"Name", "Age"}},
		{"Bob's,25", ',', []string{"Bob's", "25"}},
		{"a,---,b", ',', []string{"a", "", "b"}},
		{"'x;y';z", ';', []string{"x;y", "z"}},
	}
	for _, tt := range tests {
		if got := splitCells(tt.line, tt.delim); !slices.Equal(got, tt.want) {
			t.Errorf("splitCells(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestModeColumns(t *testing.T) {
	rows := [][]string{{"a", "b"}, {"a", "b", "c"}, {"1", "2", "3"}, {"x", "y", "z"}}
	if got := modeColumns(rows); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
	if got := modeColumns([][]string{{"a", "b"}, {"a", "b", "c"}}); got != 3 {
		t.Fatalf("tie should prefer the wider layout, got %d", got)
	}
}

func TestFindHeader(t *testing.T) {
	rows := [][]string{
		{"Summary", "of results"},
		{"1", "2", "3"},
		{"Name", "Age", "City"},
		{"Alice", "30", "Paris"},
	}
	idx, ok := findHeader(rows, 3)
	if idx != 2 || !ok {
		t.Fatalf("got %d, %v; want 2, true", idx, ok)
	}

	numeric := [][]string{{"1", "2"}, {"3", "4"}}
	idx, ok = findHeader(numeric, 2)
	if idx != 0 || ok {
		t.Fatalf("numeric rows have no header, got %d, %v", idx, ok)
	}
}

func TestAlignRows(t *testing.T) {
	rows := [][]string{
		{"Name", "Age", "City"},
		{"Alice", "30"},
		{"Bob", "25", "Berlin", "extra"},
		{"Note: ages are approximate", "x", "y"},
		{strings.Repeat("z", 201), "1", "2"},
		{"Eve"},
	}
	got := alignRows(rows, 3)
	want := [][]string{
		{"Name", "Age", "City"},
		{"Alice", "30", ""},
		{"Bob", "25", "Berlin"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if !slices.Equal(got[i], want[i]) {
			t.Errorf("row %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAlignRows_Cap(t *testing.T) {
	rows := make([][]string, 1500)
	for i := range rows {
		rows[i] = []string{"a", "b"}
	}
	if got := alignRows(rows, 2); len(got) != maxTableRows {
		t.Fatalf("expected %d rows, got %d", maxTableRows, len(got))
	}
}

func TestDedupeHeaders(t *testing.T) {
	h := []string{"A", "B"}
	rows := [][]string{h, h, {"1", "2"}, h, {"3", "4"}}
	got := dedupeHeaders(rows)
	if len(got) != 4 {
		t.Fatalf("only the immediate repeat should go: %q", got)
	}
	if !slices.Equal(got[1], []string{"1", "2"}) {
		t.Fatalf("unexpected row order %q", got)
	}
}

func TestExtractTable_MarkdownTable(t *testing.T) {
	content := "Sure! Here you go.\n\n| Product | Price | Qty |\n|---------|------:|----:|\n| Apple | 1,20 | 3 |\n| Pear | 0.95 | 10 |\n\nThis table shows prices."
	tbl := ExtractTable(content)
	if !tbl.HasHeader || tbl.Columns != 3 {
		t.Fatalf("unexpected table %+v", tbl)
	}
	if len(tbl.Rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %q", tbl.Rows)
	}
	if !slices.Equal(tbl.Rows[0], []string{"Product", "Price", "Qty"}) {
		t.Fatalf("header = %q", tbl.Rows[0])
	}
}

func TestExtractTable_NoData(t *testing.T) {
	if tbl := ExtractTable("Just some prose without any table."); len(tbl.Rows) != 0 {
		t.Fatalf("expected no rows, got %q", tbl.Rows)
	}
}

func TestCoerceCell(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"30", 30.0},
		{"-1,5", -1.5},
		{"3.25", 3.25},
		{"15.01.2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"2024-02-29", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"2024-13-01", "2024-13-01"},
		{"1.2.3", "1.2.3"},
		{"Alice", "Alice"},
	}
	for _, tt := range tests {
		got := coerceCell(tt.in)
		if gt, ok := got.(time.Time); ok {
			if wt, ok := tt.want.(time.Time); !ok || !gt.Equal(wt) {
				t.Errorf("coerceCell(%q) = %v, want %v", tt.in, got, tt.want)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("coerceCell(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}
