package render

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-pdf/fpdf"
)

type lineKind int

const (
	lineParagraph lineKind = iota
	lineHeading
	lineBullet
)

type docLine struct {
	kind  lineKind
	level int // 1-6 for headings
	text  string
}

var (
	headingLine = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	bulletLine  = regexp.MustCompile(`^[-*•]\s+(.+)$`)
)

// headingSizes is indexed by heading level - 1.
var headingSizes = [6]float64{22, 18, 16, 14, 13, 12}

const bodySize = 11

func parseDocLines(content string) []docLine {
	var out []docLine
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := headingLine.FindStringSubmatch(line); m != nil {
			out = append(out, docLine{kind: lineHeading, level: len(m[1]), text: strings.TrimSpace(m[2])})
			continue
		}
		if m := bulletLine.FindStringSubmatch(line); m != nil {
			out = append(out, docLine{kind: lineBullet, text: m[1]})
			continue
		}
		out = append(out, docLine{kind: lineParagraph, text: line})
	}
	return out
}

type pdfRenderer struct {
	fontPaths []string
}

// newDocument registers the first readable Unicode font. Without one the
// core Helvetica font is used and text is translated to cp1252.
func (p *pdfRenderer) newDocument() (*fpdf.Fpdf, string, func(string) string) {
	doc := fpdf.New("P", "mm", "A4", "")
	for _, path := range p.fontPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		doc.AddUTF8Font("body", "", path)
		doc.AddUTF8Font("body", "B", path)
		if doc.Err() {
			doc.ClearError()
			continue
		}
		return doc, "body", func(s string) string { return s }
	}
	return doc, "Helvetica", doc.UnicodeTranslatorFromDescriptor("")
}

func (p *pdfRenderer) render(content string) ([]byte, error) {
	doc, family, tr := p.newDocument()
	doc.SetMargins(20, 20, 20)
	doc.SetAutoPageBreak(true, 20)
	doc.AddPage()
	left, _, _, _ := doc.GetMargins()

	lines := parseDocLines(content)
	if len(lines) == 0 {
		doc.SetFont(family, "", bodySize)
		doc.MultiCell(0, 6, tr(content), "", "L", false)
	}
	for _, l := range lines {
		switch l.kind {
		case lineHeading:
			size := headingSizes[l.level-1]
			doc.SetFont(family, "B", size)
			doc.Ln(2)
			doc.MultiCell(0, size*0.5, tr(l.text), "", "L", false)
			doc.Ln(1)
		case lineBullet:
			doc.SetFont(family, "", bodySize)
			doc.SetX(left + 6)
			doc.MultiCell(0, 6, tr("• "+l.text), "", "L", false)
		default:
			doc.SetFont(family, "", bodySize)
			doc.MultiCell(0, 6, tr(l.text), "", "L", false)
			doc.Ln(1)
		}
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
