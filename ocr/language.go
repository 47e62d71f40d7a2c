package ocr

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/language"
)

// engineCode matches identifiers that are already Tesseract codes: a 3-letter
// base with an optional script or variant suffix ("eng", "chi_sim", "osd").
var engineCode = regexp.MustCompile(`^[a-z]{3}(_[a-z]+)?$`)

// EngineLanguages converts locale identifiers to Tesseract language codes,
// preserving order and dropping duplicates. Identifiers that already look
// like engine codes pass through; anything else is parsed as a BCP-47 tag.
func EngineLanguages(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		code, err := engineLanguage(id)
		if err != nil {
			return nil, err
		}
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out, nil
}

func engineLanguage(id string) (string, error) {
	if engineCode.MatchString(id) {
		return id, nil
	}
	tag, err := language.Parse(strings.ReplaceAll(id, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("ocr: unknown language %q: %w", id, err)
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", fmt.Errorf("ocr: unknown language %q", id)
	}
	code := base.ISO3()
	if code == "" {
		return "", fmt.Errorf("ocr: language %q has no three-letter code", id)
	}
	if code == "zho" {
		return chineseVariant(tag), nil
	}
	return code, nil
}

// chineseVariant picks the Tesseract traditional or simplified model.
func chineseVariant(tag language.Tag) string {
	if script, conf := tag.Script(); conf != language.No && script.String() == "Hant" {
		return "chi_tra"
	}
	if region, conf := tag.Region(); conf == language.Exact {
		switch region.String() {
		case "TW", "HK", "MO":
			return "chi_tra"
		}
	}
	return "chi_sim"
}
