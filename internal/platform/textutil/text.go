package textutil

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrTextRequired is returned when the cleaned text is empty.
	ErrTextRequired = errors.New("textutil: text is required")
	// ErrTextTooLong is returned when the cleaned text exceeds the rune limit.
	ErrTextTooLong = errors.New("textutil: text too long")
	// ErrUnknownCurrency is returned for codes outside ISO 4217.
	ErrUnknownCurrency = errors.New("textutil: unknown currency")
)

var strictPolicy = sync.OnceValue(func() *bluemonday.Policy {
	policy := bluemonday.StrictPolicy()
	policy.AddSpaceWhenStrippingTag(true)
	return policy
})

// CleanText strips markup, drops control characters other than newlines and tabs,
// and returns the NFC-normalised, trimmed result with repeated spaces folded.
func CleanText(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	visible := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, trimmed)
	stripped := html.UnescapeString(strictPolicy().Sanitize(visible))
	return strings.TrimSpace(collapseSpaces(norm.NFC.String(stripped)))
}

// collapseSpaces folds runs of ASCII spaces left behind by stripped tags.
func collapseSpaces(s string) string {
	if !strings.Contains(s, "  ") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	prev := rune(0)
	for _, r := range s {
		if r == ' ' && prev == ' ' {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// CleanBoundedText cleans input and enforces a rune length between 1 and maxRunes.
func CleanBoundedText(input string, maxRunes int) (string, error) {
	cleaned := CleanText(input)
	if cleaned == "" {
		return "", ErrTextRequired
	}
	if maxRunes > 0 {
		if n := utf8.RuneCountInString(cleaned); n > maxRunes {
			return "", fmt.Errorf("%w: %d runes exceeds %d", ErrTextTooLong, n, maxRunes)
		}
	}
	return cleaned, nil
}

// NormalizeCurrency validates an ISO 4217 code and returns it upper-cased.
func NormalizeCurrency(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "", fmt.Errorf("%w: empty code", ErrUnknownCurrency)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
	}
	return unit.String(), nil
}
