// Package validation provides online-first, cache-fallback address
// and delivery-zone validation.
package validation

import (
	"fmt"
	"strings"
	"unicode"
)

// NormalizeAddress lowercases the address, strips punctuation and
// collapses whitespace, giving a stable key for dedupe and cache
// lookups.
func NormalizeAddress(text string) string {
	var b strings.Builder
	lastSpace := true

	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// Fingerprint derives the cache key from normalized address text plus
// coordinates rounded to four decimals (roughly 11 meters), so tiny
// GPS jitter maps to the same entry.
func Fingerprint(text string, lat, lng float64) string {
	normalized := NormalizeAddress(text)
	if lat == 0 && lng == 0 {
		return normalized
	}
	return fmt.Sprintf("%s|%.4f,%.4f", normalized, lat, lng)
}
