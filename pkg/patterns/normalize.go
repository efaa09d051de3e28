package patterns

import (
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// messageFolder collapses Unicode compatibility variants: full-width and
// half-width forms, stylized digits, ligatures. Scammers lean on these
// lookalikes to slip past keyword filters ("ＵＲＧＥＮＴ", "①").
var messageFolder = transform.Chain(width.Fold, norm.NFKC)

// NormalizeMessage canonicalizes an inbound message before any pattern
// matching: NFKC with width folding, control characters stripped,
// whitespace collapsed to single spaces, and length capped at maxRunes
// (0 means no cap). Case is preserved since IFSC codes and introduced
// names are case-sensitive.
func NormalizeMessage(s string, maxRunes int) string {
	if s == "" {
		return ""
	}

	folded, _, err := transform.String(messageFolder, s)
	if err != nil {
		folded = s
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, folded)

	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if maxRunes > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxRunes {
			cleaned = string(runes[:maxRunes])
		}
	}
	return cleaned
}
