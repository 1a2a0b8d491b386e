package conf

import (
	"testing"
)

func TestNormalizeLocale(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "exact supported code",
			input: "ru",
			want:  "ru",
		},
		{
			name:  "uppercase code is normalized",
			input: "ES",
			want:  "es",
		},
		{
			name:  "full language name",
			input: "Russian",
			want:  "ru",
		},
		{
			name:  "region subtag is stripped",
			input: "pt-BR",
			want:  "pt",
		},
		{
			name:  "script subtag is stripped",
			input: "zh-Hans",
			want:  "zh",
		},
		{
			name:  "empty input uses fallback without error",
			input: "",
			want:  DefaultFallbackLocale,
		},
		{
			name:  "surrounding whitespace is trimmed",
			input: "  fr  ",
			want:  "fr",
		},
		{
			name:    "unsupported language falls back with error",
			input:   "tlh",
			want:    DefaultFallbackLocale,
			wantErr: true,
		},
		{
			name:    "garbage input falls back with error",
			input:   "not a locale!!",
			want:    DefaultFallbackLocale,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeLocale(tt.input)
			if got != tt.want {
				t.Errorf("NormalizeLocale(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("NormalizeLocale(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestSupportedLocalesSortedAndComplete(t *testing.T) {
	locales := SupportedLocales()
	if len(locales) != len(LocaleCodes) {
		t.Fatalf("SupportedLocales() returned %d codes, want %d", len(locales), len(LocaleCodes))
	}
	for i := 1; i < len(locales); i++ {
		if locales[i-1] >= locales[i] {
			t.Errorf("SupportedLocales() not sorted: %q before %q", locales[i-1], locales[i])
		}
	}
	for _, code := range locales {
		if _, ok := LocaleCodes[code]; !ok {
			t.Errorf("SupportedLocales() returned unknown code %q", code)
		}
	}
}

func TestLocaleName(t *testing.T) {
	if got := LocaleName("sw"); got != "Swahili" {
		t.Errorf("LocaleName(sw) = %q, want Swahili", got)
	}
	if got := LocaleName("xx"); got != "xx" {
		t.Errorf("LocaleName(xx) = %q, want the code itself", got)
	}
}
