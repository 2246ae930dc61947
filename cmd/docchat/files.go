package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"docchat/internal/domain"
	"docchat/internal/extract"
	"docchat/internal/render"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract [file]",
		Short: "Print the text docchat would extract from an attachment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			mime := extract.MIMEForFilename(path)
			kind, ok := extract.KindForMIME(mime)
			if !ok {
				return fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
			}
			cfg := loadConfigOrDefaults()

			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.Size() > cfg.Attachments.MaxBytes {
				return fmt.Errorf("%s is %s, limit is %s", path,
					humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(cfg.Attachments.MaxBytes)))
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			text, err := extract.Extract(kind, filepath.Base(path), data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func renderCmd() *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "render [file|-]",
		Short: "Render an answer text into a document without the model",
		Long:  "Reads answer text from a file or stdin and writes the document the chat would publish for --format.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := domain.ParseFormat(format)
			if err != nil {
				return err
			}
			if f == domain.FormatText {
				return fmt.Errorf("text answers are not rendered")
			}

			var content []byte
			if len(args) == 0 || args[0] == "-" {
				content, err = io.ReadAll(cmd.InOrStdin())
			} else {
				content, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			cfg := loadConfigOrDefaults()
			gen := render.NewGenerator(render.Config{FontPaths: cfg.Render.FontPaths, Logger: logger})
			art, err := gen.Render(f, string(content))
			if err != nil {
				return err
			}

			if output == "" {
				output = string(f) + "." + art.Ext
			} else if !strings.HasSuffix(output, "."+art.Ext) {
				logger.Warn("output extension does not match format", "output", output, "ext", art.Ext)
			}
			if err := os.WriteFile(output, art.Data, 0o644); err != nil {
				return err
			}
			logger.Info("rendered", "format", f, "file", output, "size", humanize.IBytes(uint64(len(art.Data))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "pdf", "pdf, word, excel, powerpoint, checklist, business or analytics")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: <format>.<ext>)")
	return cmd
}
