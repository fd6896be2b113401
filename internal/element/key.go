package element

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidKey reports whether key is already in normalized form.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// NormalizeKey turns free text into a lowercase, underscore-separated
// identifier: "São Paulo FC" becomes "sao_paulo_fc".
func NormalizeKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	pendingSep := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// ResolveKey normalizes the element's own key, falling back to its
// payload label. Empty means no usable key exists.
func ResolveKey(e Element) string {
	if k := NormalizeKey(e.Key); k != "" {
		return k
	}
	if e.Value != nil {
		return NormalizeKey(e.Value.Label())
	}
	return ""
}
