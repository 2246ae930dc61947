// Package extract converts uploaded office and PDF documents into plain text
// that can be placed into a model's context.
//
// Supported inputs:
//   - PDF (ledongthuc/pdf)
//   - DOC and DOCX
//   - XLS, XLSX and ODS
//   - PPT and PPTX
//
// Extractors are pure functions of the input buffer.
package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"docchat/internal/domain"

	"github.com/dustin/go-humanize"
)

// Kind identifies the extractor family of an attachment.
type Kind string

const (
	KindPDF        Kind = "pdf"
	KindWord       Kind = "word"
	KindExcel      Kind = "excel"
	KindPowerPoint Kind = "powerpoint"
)

var mimeKinds = map[string]Kind{
	"application/pdf":                                                           KindPDF,
	"application/msword":                                                        KindWord,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   KindWord,
	"application/vnd.ms-excel":                                                  KindExcel,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         KindExcel,
	"application/vnd.oasis.opendocument.spreadsheet":                            KindExcel,
	"application/vnd.ms-powerpoint":                                             KindPowerPoint,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": KindPowerPoint,
}

var extMIME = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

type extractFunc func(filename string, data []byte) (string, error)

var extractors = map[Kind]extractFunc{
	KindPDF:        extractPDF,
	KindWord:       extractWord,
	KindExcel:      extractExcel,
	KindPowerPoint: extractPowerPoint,
}

// KindForMIME looks up the extractor family of a MIME type. Parameters such
// as "; charset=..." are ignored.
func KindForMIME(mimeType string) (Kind, bool) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	k, ok := mimeKinds[mt]
	return k, ok
}

// MIMEForFilename returns the MIME type of a supported file extension, or "".
func MIMEForFilename(name string) string {
	return extMIME[strings.ToLower(filepath.Ext(name))]
}

// Error reports a failed extraction.
type Error struct {
	Filename string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Filename, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Config struct {
	MaxBytes int64 // decoded size limit per attachment
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxBytes <= 0 {
		c.MaxBytes = 20 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Processor dispatches attachments to extractors by MIME type.
type Processor struct {
	cfg    Config
	logger *slog.Logger
}

func NewProcessor(cfg Config) *Processor {
	cfg.defaults()
	return &Processor{cfg: cfg, logger: cfg.Logger}
}

// ProcessAttachment decodes the attachment payload and extracts its text.
// Unsupported MIME types yield "" and no error.
func (p *Processor) ProcessAttachment(ctx context.Context, att domain.Attachment) (string, error) {
	kind, ok := KindForMIME(att.MimeType)
	if !ok {
		p.logger.Debug("skipping unsupported attachment", "file", att.Filename, "mime", att.MimeType)
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := decodePayload(att.Data)
	if err != nil {
		return "", &Error{Filename: att.Filename, Kind: kind, Err: fmt.Errorf("decode payload: %w", err)}
	}
	if int64(len(data)) > p.cfg.MaxBytes {
		return "", &Error{Filename: att.Filename, Kind: kind, Err: fmt.Errorf("attachment is %s, limit is %s",
			humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(p.cfg.MaxBytes)))}
	}

	p.logger.Debug("extracting attachment", "file", att.Filename, "kind", kind, "size", humanize.IBytes(uint64(len(data))))
	return Extract(kind, att.Filename, data)
}

// Extract runs the extractor of kind over raw file bytes.
func Extract(kind Kind, filename string, data []byte) (string, error) {
	fn, ok := extractors[kind]
	if !ok {
		return "", nil
	}
	text, err := fn(filename, data)
	if err != nil {
		return "", &Error{Filename: filename, Kind: kind, Err: err}
	}
	return text, nil
}

// decodePayload accepts standard or unpadded base64, optionally in data URL form.
func decodePayload(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ";base64,"); i >= 0 {
			s = s[i+len(";base64,"):]
		}
	}
	s = strings.TrimSpace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}

func withFilename(filename, text string) string {
	return "File: " + filename + "\n\n" + strings.TrimSpace(text)
}
