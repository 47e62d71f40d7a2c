// Package config loads pdfocr settings: built-in defaults, optionally
// overlaid with a YAML file, then with PDFOCR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/overview/pdfocr/coords"
	"github.com/overview/pdfocr/ocr/tesseract"
	"github.com/overview/pdfocr/parser"
	"github.com/overview/pdfocr/render"
	"github.com/overview/pdfocr/searchable"
	"github.com/overview/pdfocr/xref"
)

const envPrefix = "PDFOCR_"

// MaxPSM is the highest page segmentation mode tesseract accepts.
const MaxPSM = 13

type Tool struct {
	Path string `yaml:"path"`
}

type Tesseract struct {
	Path string `yaml:"path"`
	// PSM is the tesseract page segmentation mode, 0 to 13.
	PSM int `yaml:"psm"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Tesseract   Tesseract `yaml:"tesseract"`
	Ghostscript Tool      `yaml:"ghostscript"`
	Pdftotext   Tool      `yaml:"pdftotext"`
	Languages   []string  `yaml:"languages"`

	// MinTextChars is the existing-text length at which a page skips OCR.
	MinTextChars    int `yaml:"min_text_chars"`
	TargetDPI       int `yaml:"target_dpi"`
	MaxResolutionPx int `yaml:"max_resolution_px"`

	// FontPath names a TrueType font for the text layer; empty uses the
	// built-in Go Regular.
	FontPath string `yaml:"font_path"`

	// RepairXRef rebuilds an unreadable cross-reference table by scanning
	// the file for objects.
	RepairXRef bool `yaml:"repair_xref"`

	Log Log `yaml:"log"`
}

func Default() Config {
	return Config{
		Tesseract:       Tesseract{Path: tesseract.DefaultPath, PSM: tesseract.PSMAuto},
		Ghostscript:     Tool{Path: render.DefaultGhostscript},
		Pdftotext:       Tool{Path: render.DefaultPdftotext},
		Languages:       []string{"eng"},
		MinTextChars:    searchable.DefaultMinTextChars,
		TargetDPI:       coords.DefaultTargetDPI,
		MaxResolutionPx: coords.MaxResolutionPx,
		RepairXRef:      true,
		Log:             Log{Level: "info", Format: "console"},
	}
}

// Load builds the configuration. path may be empty to skip the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Tesseract.Path = envStr("TESSERACT", c.Tesseract.Path)
	c.Ghostscript.Path = envStr("GS", c.Ghostscript.Path)
	c.Pdftotext.Path = envStr("PDFTOTEXT", c.Pdftotext.Path)
	if langs := envStr("LANGUAGES", ""); langs != "" {
		c.Languages = strings.FieldsFunc(langs, func(r rune) bool { return r == ',' || r == '+' || r == ' ' })
	}
	c.MinTextChars = envInt("MIN_TEXT_CHARS", c.MinTextChars)
	c.TargetDPI = envInt("TARGET_DPI", c.TargetDPI)
	c.MaxResolutionPx = envInt("MAX_RESOLUTION_PX", c.MaxResolutionPx)
	c.Tesseract.PSM = envPSM("PSM", c.Tesseract.PSM)
	c.FontPath = envStr("FONT", c.FontPath)
	c.RepairXRef = envBool("REPAIR_XREF", c.RepairXRef)
	c.Log.Level = envStr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envStr("LOG_FORMAT", c.Log.Format)
}

func (c Config) Validate() error {
	var errs []error
	if c.MinTextChars <= 0 {
		errs = append(errs, fmt.Errorf("min_text_chars must be positive, got %d", c.MinTextChars))
	}
	if c.TargetDPI <= 0 {
		errs = append(errs, fmt.Errorf("target_dpi must be positive, got %d", c.TargetDPI))
	}
	if c.MaxResolutionPx <= 0 {
		errs = append(errs, fmt.Errorf("max_resolution_px must be positive, got %d", c.MaxResolutionPx))
	}
	if c.Tesseract.PSM < 0 || c.Tesseract.PSM > MaxPSM {
		errs = append(errs, fmt.Errorf("tesseract.psm must be between 0 and %d, got %d", MaxPSM, c.Tesseract.PSM))
	}
	for name, path := range map[string]string{"tesseract": c.Tesseract.Path, "ghostscript": c.Ghostscript.Path, "pdftotext": c.Pdftotext.Path} {
		if strings.TrimSpace(path) == "" {
			errs = append(errs, fmt.Errorf("%s.path is empty", name))
		}
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// DPIPolicy returns the rendering policy the configuration describes.
func (c Config) DPIPolicy() coords.DPIPolicy {
	return coords.DPIPolicy{Target: c.TargetDPI, PDF: coords.PDFDPI, MaxPx: c.MaxResolutionPx}
}

// ParserConfig returns the PDF parser settings the configuration describes.
func (c Config) ParserConfig() parser.Config {
	return parser.Config{XRef: xref.ResolverConfig{Repair: c.RepairXRef}}
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// envPSM accepts 0, which envInt treats as unset.
func envPSM(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	n, err := strconv.Atoi(v)
	if v == "" || err != nil || n < 0 {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	b, err := strconv.ParseBool(v)
	if v == "" || err != nil {
		return fallback
	}
	return b
}
