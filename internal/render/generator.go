// Package render turns a model answer into a downloadable artifact for the
// requested output format and publishes it through a Saver.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"docchat/internal/domain"

	"github.com/dustin/go-humanize"
)

// Saver stores an artifact for a room and returns the URL clients download it from.
type Saver interface {
	Save(ctx context.Context, roomID, filename, contentType string, data []byte) (string, error)
}

// Result is the outcome of rendering one answer. FormattedResponse is always
// the raw answer; FileURL is empty for text.
type Result struct {
	FormattedResponse string `json:"formattedResponse"`
	FileURL           string `json:"fileUrl,omitempty"`
	FileName          string `json:"fileName,omitempty"`
}

// Artifact is a rendered file before it is published.
type Artifact struct {
	Data        []byte
	Ext         string
	ContentType string
}

// Error identifies the format whose rendering or upload failed.
type Error struct {
	Format domain.Format
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("render %s: %v", e.Format, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

type renderer struct {
	ext         string
	contentType string
	render      func(content string) ([]byte, error)
}

type Config struct {
	Saver     Saver
	FontPaths []string // candidate Unicode TTF fonts for PDF output
	Logger    *slog.Logger
	Now       func() time.Time
}

// Generator dispatches answers to the renderer of their format.
type Generator struct {
	saver     Saver
	logger    *slog.Logger
	now       func() time.Time
	renderers map[domain.Format]renderer
}

func NewGenerator(cfg Config) *Generator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	pdf := &pdfRenderer{fontPaths: cfg.FontPaths}
	word := renderer{ext: "docx", contentType: mimeDOCX, render: renderDOCX}
	excel := renderer{ext: "xlsx", contentType: mimeXLSX, render: renderXLSX}
	return &Generator{
		saver:  cfg.Saver,
		logger: cfg.Logger,
		now:    cfg.Now,
		renderers: map[domain.Format]renderer{
			domain.FormatPDF:        {ext: "pdf", contentType: "application/pdf", render: pdf.render},
			domain.FormatWord:       word,
			domain.FormatExcel:      excel,
			domain.FormatPowerPoint: {ext: "pptx", contentType: mimePPTX, render: renderPPTX},
			domain.FormatChecklist:  {ext: "txt", contentType: "text/plain; charset=utf-8", render: renderChecklist},
			domain.FormatBusiness:   word,
			domain.FormatAnalytics:  excel,
		},
	}
}

// Render produces the artifact for format without publishing it.
func (g *Generator) Render(format domain.Format, content string) (*Artifact, error) {
	r, ok := g.renderers[format]
	if !ok {
		return nil, &Error{Format: format, Err: fmt.Errorf("no renderer for format")}
	}
	data, err := r.render(content)
	if err != nil {
		return nil, &Error{Format: format, Err: err}
	}
	return &Artifact{Data: data, Ext: r.ext, ContentType: r.contentType}, nil
}

// GenerateByFlag renders content for format and publishes the artifact under
// roomID. Text answers are returned as-is without an artifact.
func (g *Generator) GenerateByFlag(ctx context.Context, format domain.Format, content, roomID string) (Result, error) {
	res := Result{FormattedResponse: content}
	if format == domain.FormatText {
		return res, nil
	}

	start := g.now()
	art, err := g.Render(format, content)
	if err != nil {
		return res, err
	}
	name := fmt.Sprintf("%s_%d.%s", format, start.UnixMilli(), art.Ext)
	url, err := g.saver.Save(ctx, roomID, name, art.ContentType, art.Data)
	if err != nil {
		return res, &Error{Format: format, Err: fmt.Errorf("store %s: %w", name, err)}
	}

	g.logger.Info("artifact rendered",
		"format", format,
		"room", roomID,
		"file", name,
		"size", humanize.IBytes(uint64(len(art.Data))))
	res.FileURL = url
	res.FileName = name
	return res, nil
}
