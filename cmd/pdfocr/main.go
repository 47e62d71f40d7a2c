// Command pdfocr adds an invisible OCR text layer to the scanned pages of a
// PDF so the result can be searched and copied from.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/overview/pdfocr/config"
	"github.com/overview/pdfocr/document"
	"github.com/overview/pdfocr/observability"
	"github.com/overview/pdfocr/ocr/tesseract"
	"github.com/overview/pdfocr/render"
	"github.com/overview/pdfocr/searchable"
)

type flags struct {
	configPath string
	languages  []string
	tesseract  string
	psm        int
	gs         string
	pdftotext  string
	fontPath   string
	logLevel   string
	quiet      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "pdfocr [flags] in.pdf out.pdf",
		Short: "Make a scanned PDF searchable",
		Long: "pdfocr renders every page of in.pdf that has little or no text, runs\n" +
			"tesseract on it and writes out.pdf with the recognized words as an\n" +
			"invisible text layer. Pages that already carry text are left alone.",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(cmd.Context(), f, args[0], args[1], stderr)
			if err != nil {
				fmt.Fprintf(stderr, "pdfocr: %v\n", err)
			}
			return err
		},
	}
	cmd.SetErr(stderr)
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fl.StringArrayVarP(&f.languages, "lang", "l", nil, "document language as a BCP-47 tag or tesseract code (repeatable)")
	fl.StringVar(&f.tesseract, "tesseract", "", "path to the tesseract binary")
	fl.IntVar(&f.psm, "psm", -1, "tesseract page segmentation mode (default from config)")
	fl.StringVar(&f.gs, "gs", "", "path to the ghostscript binary")
	fl.StringVar(&f.pdftotext, "pdftotext", "", "path to the pdftotext binary")
	fl.StringVar(&f.fontPath, "font", "", "TrueType font for the text layer")
	fl.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "do not print page progress")
	return cmd
}

func run(ctx context.Context, f flags, in, out string, stderr io.Writer) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	f.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := observability.NewConsole(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	engine := tesseract.New(cfg.Tesseract.Path,
		tesseract.WithLogger(logger),
		tesseract.WithPSM(cfg.Tesseract.PSM),
	)
	docOpts := []document.Option{
		document.WithParserConfig(cfg.ParserConfig()),
		document.WithRasterizer(render.NewGhostscript(cfg.Ghostscript.Path, logger)),
		document.WithTextExtractor(render.NewPdftotext(cfg.Pdftotext.Path)),
	}
	if cfg.FontPath != "" {
		docOpts = append(docOpts, document.WithFontFile(cfg.FontPath))
	}
	p := searchable.NewPipeline(engine,
		searchable.WithLogger(logger),
		searchable.WithDocumentOptions(docOpts...),
		searchable.WithMinTextChars(cfg.MinTextChars),
		searchable.WithDPIPolicy(cfg.DPIPolicy()),
	)

	progress := func(done, total int) {
		if done < total {
			fmt.Fprintf(stderr, "Processing page %d of %d...\n", done+1, total)
		}
	}
	if f.quiet {
		progress = nil
	}
	return p.MakeSearchable(ctx, in, out, cfg.Languages, progress)
}

// apply overlays explicitly set flags on cfg.
func (f flags) apply(cfg *config.Config) {
	if len(f.languages) > 0 {
		cfg.Languages = f.languages
	}
	if f.tesseract != "" {
		cfg.Tesseract.Path = f.tesseract
	}
	if f.psm >= 0 {
		cfg.Tesseract.PSM = f.psm
	}
	if f.gs != "" {
		cfg.Ghostscript.Path = f.gs
	}
	if f.pdftotext != "" {
		cfg.Pdftotext.Path = f.pdftotext
	}
	if f.fontPath != "" {
		cfg.FontPath = f.fontPath
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
}
