package dialogue

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lowercases s, strips diacritics and collapses everything that is not
// a letter, digit or apostrophe into single spaces.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	var b strings.Builder
	b.Grow(len(stripped))
	space := true
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// matcher holds a folded message padded with spaces so phrases only match
// on word boundaries.
type matcher struct {
	padded string
	words  []string
}

func newMatcher(text string) matcher {
	folded := fold(text)
	return matcher{padded: " " + folded + " ", words: strings.Fields(folded)}
}

// has reports whether any phrase occurs as whole words. A phrase ending in
// '*' matches as a word prefix.
func (m matcher) has(phrases ...string) bool {
	for _, p := range phrases {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.Contains(m.padded, " "+prefix) {
				return true
			}
			continue
		}
		if strings.Contains(m.padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func (m matcher) wordCount() int { return len(m.words) }
