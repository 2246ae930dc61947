package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf16"

	"docchat/internal/domain"

	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"
)

func testProcessor() *Processor {
	return NewProcessor(Config{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	})
}

func attachment(name, mime string, data []byte) domain.Attachment {
	return domain.Attachment{
		Filename: name,
		MimeType: mime,
		Data:     base64.StdEncoding.EncodeToString(data),
		Size:     int64(len(data)),
	}
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(w, content)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// ooxmlBytes builds an OOXML package whose [Content_Types].xml lists parts
// in the given order with their content types.
func ooxmlBytes(t *testing.T, parts [][3]string) []byte {
	t.Helper()
	var types strings.Builder
	types.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`)
	files := make(map[string]string, len(parts)+1)
	for _, p := range parts {
		name, contentType, body := p[0], p[1], p[2]
		fmt.Fprintf(&types, `<Override PartName="/%s" ContentType="%s"/>`, name, contentType)
		files[name] = body
	}
	types.WriteString(`</Types>`)
	files["[Content_Types].xml"] = types.String()
	return zipBytes(t, files)
}

const (
	ctWordMain = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	ctSlide    = "application/vnd.openxmlformats-officedocument.presentationml.slide+xml"
)

// --- Processor ---

func TestProcessAttachment_UnsupportedMIME(t *testing.T) {
	text, err := testProcessor().ProcessAttachment(context.Background(), attachment("photo.png", "image/png", []byte{0x89, 'P', 'N', 'G'}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty text, got %q", text)
	}
}

func TestProcessAttachment_InvalidBase64(t *testing.T) {
	att := domain.Attachment{Filename: "a.pdf", MimeType: "application/pdf", Data: "!!!not base64!!!"}
	_, err := testProcessor().ProcessAttachment(context.Background(), att)
	var xerr *Error
	if !errors.As(err, &xerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if xerr.Kind != KindPDF || xerr.Filename != "a.pdf" {
		t.Fatalf("unexpected error fields: %+v", xerr)
	}
}

func TestProcessAttachment_TooLarge(t *testing.T) {
	p := NewProcessor(Config{MaxBytes: 4})
	_, err := p.ProcessAttachment(context.Background(), attachment("a.pdf", "application/pdf", make([]byte, 10)))
	if err == nil || !strings.Contains(err.Error(), "limit") {
		t.Fatalf("expected size limit error, got %v", err)
	}
}

func TestProcessAttachment_MalformedInputIsDescriptive(t *testing.T) {
	_, err := testProcessor().ProcessAttachment(context.Background(), attachment("broken.pdf", "application/pdf", []byte("not a pdf at all")))
	if err == nil {
		t.Fatal("expected error for malformed pdf")
	}
	if !strings.Contains(err.Error(), "broken.pdf") {
		t.Fatalf("error should name the file: %v", err)
	}
}

func TestKindForMIME(t *testing.T) {
	tests := []struct {
		mime string
		want Kind
		ok   bool
	}{
		{"application/pdf", KindPDF, true},
		{"Application/PDF; charset=binary", KindPDF, true},
		{"application/vnd.oasis.opendocument.spreadsheet", KindExcel, true},
		{"application/vnd.ms-powerpoint", KindPowerPoint, true},
		{"text/plain", "", false},
	}
	for _, tt := range tests {
		got, ok := KindForMIME(tt.mime)
		if got != tt.want || ok != tt.ok {
			t.Errorf("KindForMIME(%q) = %q, %v; want %q, %v", tt.mime, got, ok, tt.want, tt.ok)
		}
	}
}

func TestEveryKindHasExtractor(t *testing.T) {
	for mime, kind := range mimeKinds {
		if _, ok := extractors[kind]; !ok {
			t.Errorf("no extractor for %s (%s)", kind, mime)
		}
	}
}

func TestMIMEForFilename(t *testing.T) {
	if got := MIMEForFilename("Report.XLSX"); got != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected mime %q", got)
	}
	if got := MIMEForFilename("notes.txt"); got != "" {
		t.Fatalf("expected empty mime, got %q", got)
	}
}

// --- PDF ---

func events(evs ...pageText) iter.Seq2[pageText, error] {
	return func(yield func(pageText, error) bool) {
		for _, ev := range evs {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func TestJoinPages_InsertsMarkersOnPageChange(t *testing.T) {
	got, err := joinPages(events(
		pageText{Page: 1, Text: "intro"},
		pageText{Page: 1, Text: "more intro"},
		pageText{Page: 2, Text: "second page"},
	))
	if err != nil {
		t.Fatal(err)
	}
	want := "--- Page 1 ---\nintro\nmore intro\n\n--- Page 2 ---\nsecond page"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestJoinPages_StopsOnError(t *testing.T) {
	seq := func(yield func(pageText, error) bool) {
		if !yield(pageText{Page: 1, Text: "ok"}, nil) {
			return
		}
		yield(pageText{}, errors.New("boom"))
	}
	if _, err := joinPages(seq); err == nil {
		t.Fatal("expected error")
	}
}

func TestExtractPDF_RoundTrip(t *testing.T) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	doc.AddPage()
	doc.Cell(40, 10, "Alpha")
	doc.AddPage()
	doc.Cell(40, 10, "Omega")
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatal(err)
	}

	text, err := testProcessor().ProcessAttachment(context.Background(), attachment("two.pdf", "application/pdf", buf.Bytes()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(text, "File: two.pdf") {
		t.Fatalf("missing filename prefix: %q", text)
	}
	p1 := strings.Index(text, "--- Page 1 ---")
	a := strings.Index(text, "Alpha")
	p2 := strings.Index(text, "--- Page 2 ---")
	o := strings.Index(text, "Omega")
	if p1 < 0 || a < p1 || p2 < a || o < p2 {
		t.Fatalf("unexpected ordering in %q", text)
	}
}

// --- Word ---

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

func TestExtractWord_DOCX(t *testing.T) {
	data := ooxmlBytes(t, [][3]string{{"word/document.xml", ctWordMain,
		`<w:document ` + wordNS + `><w:body>` +
			`<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world</w:t></w:r></w:p>` +
			`<w:p><w:r><w:t>Second</w:t></w:r></w:p>` +
			`</w:body></w:document>`,
	}})
	text, err := testProcessor().ProcessAttachment(context.Background(), attachment("a.docx", mimeDOCX, data))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(text, "File: a.docx\n\n") {
		t.Fatalf("missing filename header: %q", text)
	}
	hello, second := strings.Index(text, "Hello world"), strings.Index(text, "Second")
	if hello < 0 || second < hello {
		t.Fatalf("paragraphs missing or out of order: %q", text)
	}
	if strings.HasSuffix(text, "\n") {
		t.Errorf("text not trimmed: %q", text)
	}
}

func TestExtractWord_MislabeledDOCX(t *testing.T) {
	data := ooxmlBytes(t, [][3]string{{"word/document.xml", ctWordMain,
		`<w:document ` + wordNS + `><w:body><w:p><w:r><w:t>Still works</w:t></w:r></w:p></w:body></w:document>`,
	}})
	text, err := testProcessor().ProcessAttachment(context.Background(), attachment("old.doc", "application/msword", data))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "Still works") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestExtractWord_ZipWithoutContentTypes(t *testing.T) {
	data := zipBytes(t, map[string]string{"word/document.xml": `<w:document/>`})
	if _, err := Extract(KindWord, "a.docx", data); err == nil {
		t.Fatal("expected error for a package without [Content_Types].xml")
	}
}

func TestExtractWord_Garbage(t *testing.T) {
	if _, err := Extract(KindWord, "x.doc", []byte("plain text")); err == nil {
		t.Fatal("expected error")
	}
}

func putU16(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:], v) }
func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }

func TestPieceTableText(t *testing.T) {
	wordDoc := make([]byte, 800)
	putU16(wordDoc, 0, fibIdent)
	putU16(wordDoc, 0x0A, fibFlagTable1)
	putU16(wordDoc, 32, 0) // csw
	putU16(wordDoc, 34, 4) // cslw
	putU32(wordDoc, 36+3*4, 10)
	putU16(wordDoc, 52, 34) // cbRgFcLcb

	// piece 1: 8-bit "Hello " at byte 600; piece 2: UTF-16 "Мир\r" at byte 700
	copy(wordDoc[600:], "Hello ")
	for i, u := range utf16.Encode([]rune("Мир\r")) {
		putU16(wordDoc, 700+2*i, u)
	}

	plc := make([]byte, 28)
	putU32(plc, 0, 0)
	putU32(plc, 4, 6)
	putU32(plc, 8, 10)
	putU32(plc, 12+2, 600*2|pcdCompressed)
	putU32(plc, 20+2, 700)

	clx := []byte{0x01, 0x02, 0x00, 0xAA, 0xBB, 0x02, 28, 0, 0, 0}
	clx = append(clx, plc...)
	putU32(wordDoc, 54+fibFcClxIndex*8, 0)
	putU32(wordDoc, 54+fibFcClxIndex*8+4, uint32(len(clx)))

	got, err := pieceTableText(wordDoc, map[string][]byte{"1Table": clx})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Hello Мир\n" {
		t.Fatalf("got %q", got)
	}
}

func TestPieceTableText_Encrypted(t *testing.T) {
	wordDoc := make([]byte, 64)
	putU16(wordDoc, 0, fibIdent)
	putU16(wordDoc, 0x0A, fibFlagEncrypt)
	if _, err := pieceTableText(wordDoc, nil); err == nil {
		t.Fatal("expected error for encrypted document")
	}
}

func TestCleanWordText_DropsFieldInstructions(t *testing.T) {
	in := []rune("See \x13 HYPERLINK \"http://x\" \x14link\x15 here\x07cell\r")
	if got := cleanWordText(in); got != "See link here\tcell\n" {
		t.Fatalf("got %q", got)
	}
}

// --- Excel ---

func TestExtractExcel_XLSX(t *testing.T) {
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Name")
	f.SetCellValue("Sheet1", "B1", "Note")
	f.SetCellValue("Sheet1", "C1", "Joined")
	f.SetCellValue("Sheet1", "A2", "Alice")
	f.SetCellValue("Sheet1", "B2", `say "hi", ok`)
	f.SetCellValue("Sheet1", "C2", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	f.SetCellValue("Sheet1", "A3", 42)
	f.SetCellValue("Sheet1", "C3", "")
	if _, err := f.NewSheet("Empty"); err != nil {
		t.Fatal(err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	text, err := testProcessor().ProcessAttachment(context.Background(),
		attachment("book.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Sheet: Sheet1\nName,Note,Joined\nAlice,\"say \"\"hi\"\", ok\",2024-01-15\n42\n\nSheet: Empty\n(empty sheet)"
	if text != want {
		t.Fatalf("got %q\nwant %q", text, want)
	}
}

func TestExtractExcel_ODS(t *testing.T) {
	content := `<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" ` +
		`xmlns:table="urn:oasis:names:tc:opendocument:xmlns:table:1.0" xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0">` +
		`<office:body><office:spreadsheet>` +
		`<table:table table:name="Data"><table:table-column table:number-columns-repeated="3"/>` +
		`<table:table-row><table:table-cell office:value-type="string"><text:p>City</text:p></table:table-cell>` +
		`<table:table-cell><text:p>Founded</text:p></table:table-cell><table:table-cell table:number-columns-repeated="1020"/></table:table-row>` +
		`<table:table-row><table:table-cell><text:p>Paris, FR</text:p></table:table-cell>` +
		`<table:table-cell office:value-type="date" office:date-value="2024-03-05"><text:p>05/03/24</text:p></table:table-cell></table:table-row>` +
		`<table:table-row table:number-rows-repeated="2"><table:table-cell table:number-columns-repeated="2"><text:p>x</text:p></table:table-cell></table:table-row>` +
		`<table:table-row table:number-rows-repeated="1048570"><table:table-cell table:number-columns-repeated="1024"/></table:table-row>` +
		`</table:table>` +
		`<table:table table:name="Blank"></table:table>` +
		`</office:spreadsheet></office:body></office:document-content>`
	data := zipBytes(t, map[string]string{
		"mimetype":    "application/vnd.oasis.opendocument.spreadsheet",
		"content.xml": content,
	})

	text, err := Extract(KindExcel, "cities.ods", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Sheet: Data\nCity,Founded\n\"Paris, FR\",2024-03-05\nx,x\nx,x\n\nSheet: Blank\n(empty sheet)"
	if text != want {
		t.Fatalf("got %q\nwant %q", text, want)
	}
}

func TestRenderSheets_TrailingEmptyCellsDropped(t *testing.T) {
	got := renderSheets([]sheet{{name: "S", rows: [][]string{{"a", "", "b", "", " "}, {"", ""}, {"", "c"}}}})
	if got != "Sheet: S\na,,b\n,c" {
		t.Fatalf("got %q", got)
	}
}

func TestEscapeCell_RoundTrip(t *testing.T) {
	values := []string{
		"plain",
		"comma, inside",
		`quote " inside`,
		"line\nbreak",
		`all, "three"` + "\r\nkinds",
	}
	for _, v := range values {
		escaped := escapeCell(v)
		if strings.ContainsAny(v, ",\"\r\n") && !strings.HasPrefix(escaped, `"`) {
			t.Errorf("%q should be quoted, got %q", v, escaped)
		}
		r := csv.NewReader(strings.NewReader(escaped + "\n"))
		rec, err := r.Read()
		if err != nil {
			t.Fatalf("unescape %q: %v", escaped, err)
		}
		// encoding/csv normalizes \r\n inside quoted fields to \n
		want := strings.ReplaceAll(v, "\r\n", "\n")
		if len(rec) != 1 || rec[0] != want {
			t.Errorf("round trip of %q gave %q", v, rec)
		}
	}
}

func TestIsDatePattern(t *testing.T) {
	tests := []struct {
		pattern string
		want    bool
	}{
		{"yyyy-mm-dd", true},
		{"dd.mm.yyyy", true},
		{"0.00", false},
		{`"day"0`, false},
		{"[Red]0.00", false},
		{"[$-409]mmmm d, yyyy", true},
	}
	for _, tt := range tests {
		if got := isDatePattern(tt.pattern); got != tt.want {
			t.Errorf("isDatePattern(%q) = %v, want %v", tt.pattern, got, tt.want)
		}
	}
}

func TestNormalizeXLSValue(t *testing.T) {
	if got := normalizeXLSValue("2023-07-01T00:00:00Z"); got != "2023-07-01" {
		t.Fatalf("got %q", got)
	}
	if got := normalizeXLSValue("2023-07-01T10:30:00Z"); got != "2023-07-01T10:30:00Z" {
		t.Fatalf("time of day should be kept, got %q", got)
	}
	if got := normalizeXLSValue("Alice"); got != "Alice" {
		t.Fatalf("got %q", got)
	}
}

// --- PowerPoint ---

func TestExtractPowerPoint_PPTX(t *testing.T) {
	slide := func(text string) string {
		return `<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
			`xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree><p:sp><p:txBody>` +
			`<a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	}
	data := ooxmlBytes(t, [][3]string{
		{"ppt/slides/slide1.xml", ctSlide, slide("Opening")},
		{"ppt/slides/slide2.xml", ctSlide, slide("Roadmap")},
		{"ppt/slides/slide3.xml", ctSlide, slide("Closing")},
	})
	text, err := Extract(KindPowerPoint, "deck.pptx", data)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(text, "File: deck.pptx\n\n") {
		t.Fatalf("missing filename header: %q", text)
	}
	last := -1
	for _, want := range []string{"Opening", "Roadmap", "Closing"} {
		i := strings.Index(text, want)
		if i <= last {
			t.Fatalf("%q missing or out of order in %q", want, text)
		}
		last = i
	}
}

func pptRecord(verInst, recType uint16, body []byte) []byte {
	h := make([]byte, 8)
	putU16(h, 0, verInst)
	putU16(h, 2, recType)
	putU32(h, 4, uint32(len(body)))
	return append(h, body...)
}

func utf16Bytes(s string) []byte {
	var out []byte
	for _, u := range utf16.Encode([]rune(s)) {
		out = binary.LittleEndian.AppendUint16(out, u)
	}
	return out
}

func TestPPTRecordsText(t *testing.T) {
	var children []byte
	children = append(children, pptRecord(0, recTextCharsAtom, utf16Bytes("Click to edit Master title style"))...)
	children = append(children, pptRecord(0, 0x0FBA, utf16Bytes("Office Theme"))...)
	children = append(children, pptRecord(0, recTextCharsAtom, utf16Bytes("Title\rLine"))...)
	children = append(children, pptRecord(0, recTextBytesAtom, []byte("Plain text"))...)
	stream := pptRecord(0x000F, 0x03E8, children)

	if got := pptRecordsText(stream); got != "Title\nLine\nPlain text" {
		t.Fatalf("got %q", got)
	}
}

func TestSniff(t *testing.T) {
	if sniff([]byte("PK\x03\x04rest")) != containerZip {
		t.Error("zip not detected")
	}
	if sniff([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1, 0}) != containerCFB {
		t.Error("compound file not detected")
	}
	if sniff([]byte("%PDF-1.4")) != containerUnknown {
		t.Error("pdf should not sniff as a container")
	}
}

// --- Zip limits ---

// compressible returns a zip holding one entry of n zero bytes.
func compressible(t *testing.T, name string, n int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.CopyN(w, zeroReader{}, n); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestZipPackageUnpackLimit(t *testing.T) {
	orig := maxUnpacked
	maxUnpacked = 1 << 20
	t.Cleanup(func() { maxUnpacked = orig })

	tests := []struct {
		name string
		kind Kind
		file string
		data []byte
	}{
		{"docx", KindWord, "bomb.docx", compressible(t, "word/document.xml", 8<<20)},
		{"pptx", KindPowerPoint, "bomb.pptx", compressible(t, "ppt/slides/slide1.xml", 8<<20)},
		{"ods", KindExcel, "bomb.ods", compressible(t, "content.xml", 8<<20)},
		{"xlsx", KindExcel, "bomb.xlsx", compressible(t, "xl/worksheets/sheet1.xml", 8<<20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if len(tt.data) > 1<<20 {
				t.Fatalf("fixture is %d bytes compressed, expected far smaller", len(tt.data))
			}
			_, err := Extract(tt.kind, tt.file, tt.data)
			if err == nil {
				t.Fatal("expected unpack limit error")
			}
			if !strings.Contains(err.Error(), "unpacks to more than") {
				t.Fatalf("error should name the limit: %v", err)
			}
		})
	}
}

func TestReadZipEntry_Limit(t *testing.T) {
	data := compressible(t, "content.xml", 64<<10)
	zr, err := openZip(data)
	if err != nil {
		t.Fatal(err)
	}

	orig := maxUnpacked
	maxUnpacked = 1 << 10
	t.Cleanup(func() { maxUnpacked = orig })

	if _, err := readZipEntry(zr.File[0]); err == nil || !strings.Contains(err.Error(), "unpacks to more than") {
		t.Fatalf("expected entry limit error, got %v", err)
	}
}
