// locale.go: locale codes for localized reference content
package conf

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// DefaultFallbackLocale is used when a requested locale is missing or unknown.
// Localized reference reads fall back to it rather than failing.
const DefaultFallbackLocale = "en"

// LocaleCodes maps supported locale codes to their full language names.
var LocaleCodes = map[string]string{
	"ar": "Arabic",
	"de": "German",
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"hi": "Hindi",
	"pt": "Portuguese",
	"ru": "Russian",
	"sw": "Swahili",
	"zh": "Chinese",
}

// SupportedLocales returns the sorted list of locale codes the reference
// catalog can serve.
func SupportedLocales() []string {
	codes := make([]string, 0, len(LocaleCodes))
	for code := range LocaleCodes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// NormalizeLocale validates and normalizes a locale string to a supported
// code. Unknown or malformed input falls back to DefaultFallbackLocale; the
// returned error describes the fallback and can be ignored by callers that
// only need a usable code.
func NormalizeLocale(inputLocale string) (string, error) {
	inputLocale = strings.ToLower(strings.TrimSpace(inputLocale))
	if inputLocale == "" {
		return DefaultFallbackLocale, nil
	}

	// Exact match on a supported code
	if _, ok := LocaleCodes[inputLocale]; ok {
		return inputLocale, nil
	}

	// Full language name, e.g. "russian"
	for code, name := range LocaleCodes {
		if strings.EqualFold(name, inputLocale) {
			return code, nil
		}
	}

	// BCP 47 input with script or region subtags, e.g. "pt-BR" or "zh-Hans"
	if tag, err := language.Parse(inputLocale); err == nil {
		base, _ := tag.Base()
		if _, ok := LocaleCodes[base.String()]; ok {
			return base.String(), nil
		}
	}

	return DefaultFallbackLocale, fmt.Errorf("unsupported locale %q, falling back to %q", inputLocale, DefaultFallbackLocale)
}

// LocaleName returns the full language name for a supported locale code, or
// the code itself when unknown.
func LocaleName(code string) string {
	if name, ok := LocaleCodes[strings.ToLower(code)]; ok {
		return name
	}
	return code
}
