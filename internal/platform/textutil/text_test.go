package textutil

import (
	"errors"
	"strings"
	"testing"
)

func TestCleanText(t *testing.T) {
	cases := map[string]struct {
		input string
		want  string
	}{
		"trims":           {input: "  item arrived damaged  ", want: "item arrived damaged"},
		"strips markup":   {input: "<script>alert(1)</script>wrong size", want: "wrong size"},
		"keeps entities":  {input: "size & colour", want: "size & colour"},
		"inline tags":     {input: "Engraving is <b>crooked</b> now", want: "Engraving is crooked now"},
		"drops controls":  {input: "late\x07 delivery\x1b", want: "late delivery"},
		"keeps newlines":  {input: "line one\nline two", want: "line one\nline two"},
		"normalises nfc":  {input: "cafe\u0301", want: "caf\u00e9"},
		"empty after all": {input: "<b></b>", want: ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := CleanText(tc.input); got != tc.want {
				t.Fatalf("CleanText(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestCleanBoundedText(t *testing.T) {
	if _, err := CleanBoundedText("   ", 10); !errors.Is(err, ErrTextRequired) {
		t.Fatalf("expected ErrTextRequired, got %v", err)
	}
	if _, err := CleanBoundedText(strings.Repeat("あ", 11), 10); !errors.Is(err, ErrTextTooLong) {
		t.Fatalf("expected ErrTextTooLong, got %v", err)
	}
	got, err := CleanBoundedText(strings.Repeat("あ", 10), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != strings.Repeat("あ", 10) {
		t.Fatalf("unexpected result %q", got)
	}
}

func TestNormalizeCurrency(t *testing.T) {
	got, err := NormalizeCurrency(" jpy ")
	if err != nil {
		t.Fatalf("NormalizeCurrency: %v", err)
	}
	if got != "JPY" {
		t.Fatalf("expected JPY, got %q", got)
	}
	for _, raw := range []string{"", "XXZ", "dollars"} {
		if _, err := NormalizeCurrency(raw); !errors.Is(err, ErrUnknownCurrency) {
			t.Fatalf("NormalizeCurrency(%q): expected ErrUnknownCurrency, got %v", raw, err)
		}
	}
}
