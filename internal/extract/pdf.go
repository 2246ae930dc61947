package extract

import (
	"bytes"
	"fmt"
	"iter"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pageText is one row of text found on a PDF page.
type pageText struct {
	Page int
	Text string
}

func extractPDF(filename string, data []byte) (text string, err error) {
	// ledongthuc/pdf panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	body, err := joinPages(pdfRows(r))
	if err != nil {
		return "", err
	}
	return withFilename(filename, body), nil
}

// pdfRows lazily yields the text rows of every page in document order.
func pdfRows(r *pdf.Reader) iter.Seq2[pageText, error] {
	return func(yield func(pageText, error) bool) {
		for i := 1; i <= r.NumPage(); i++ {
			p := r.Page(i)
			if p.V.IsNull() {
				continue
			}
			rows, err := p.GetTextByRow()
			if err != nil {
				yield(pageText{}, fmt.Errorf("read page %d: %w", i, err))
				return
			}
			for _, row := range rows {
				var sb strings.Builder
				for _, word := range row.Content {
					sb.WriteString(word.S)
				}
				if !yield(pageText{Page: i, Text: sb.String()}, nil) {
					return
				}
			}
		}
	}
}

// joinPages concatenates text events in encounter order and writes a
// "--- Page N ---" marker each time the page number changes.
func joinPages(events iter.Seq2[pageText, error]) (string, error) {
	var sb strings.Builder
	last := 0
	for ev, err := range events {
		if err != nil {
			return "", err
		}
		if ev.Page != last {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "--- Page %d ---\n", ev.Page)
			last = ev.Page
		} else if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(ev.Text)
	}
	return sb.String(), nil
}
