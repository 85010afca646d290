package models

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Slugify lowercases s, folds accented letters to ASCII and joins words with
// hyphens, e.g. "Färjan 2" becomes "farjan-2". Underscores are kept.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range norm.NFKD.String(s) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'):
			b.WriteRune(unicode.ToLower(r))
			dash = false
		case r == '-' || unicode.IsSpace(r):
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
