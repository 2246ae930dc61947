package domain

import (
	"fmt"
	"strings"
)

// Format is the output format a user requests for the assistant's answer.
type Format string

const (
	FormatText       Format = "text"
	FormatPDF        Format = "pdf"
	FormatWord       Format = "word"
	FormatExcel      Format = "excel"
	FormatPowerPoint Format = "powerpoint"
	FormatChecklist  Format = "checklist"
	FormatBusiness   Format = "business"
	FormatAnalytics  Format = "analytics"
)

// Formats lists every supported format flag in a stable order.
func Formats() []Format {
	return []Format{
		FormatText, FormatPDF, FormatWord, FormatExcel,
		FormatPowerPoint, FormatChecklist, FormatBusiness, FormatAnalytics,
	}
}

// ParseFormat resolves a client-supplied flag. An empty flag means text.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FormatText, nil
	}
	for _, f := range Formats() {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported format: %s", s)
}
