package messagelog

import (
	"regexp"
	"strings"
)

var (
	cardCandidate = regexp.MustCompile(`(?:\d[ -]?){13,19}`)
	cpfPattern    = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
)

// Redact masks payment card numbers and CPF numbers before content is
// persisted. It reports whether anything was replaced.
func Redact(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return text, false
	}
	out, cards := redactCards(text)
	changed := cards
	out = cpfPattern.ReplaceAllStringFunc(out, func(m string) string {
		digits := digitsOnly(m)
		if !cpfValid(digits) {
			return m
		}
		changed = true
		return "[CPF_REDACTED]"
	})
	return out, changed
}

func redactCards(text string) (string, bool) {
	matches := cardCandidate.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text, false
	}
	var out strings.Builder
	out.Grow(len(text))
	last := 0
	redacted := false
	for _, m := range matches {
		start, end := m[0], m[1]
		for end > start && (text[end-1] == ' ' || text[end-1] == '-') {
			end--
		}
		digits := digitsOnly(text[start:end])
		if len(digits) < 13 || len(digits) > 19 || !luhnValid(digits) {
			continue
		}
		out.WriteString(text[last:start])
		out.WriteString("[CARD_REDACTED_")
		out.WriteString(digits[len(digits)-4:])
		out.WriteString("]")
		last = end
		redacted = true
	}
	if !redacted {
		return text, false
	}
	out.WriteString(text[last:])
	return out.String(), true
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func luhnValid(digits string) bool {
	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}

// cpfValid checks the two CPF check digits and rejects repeated-digit ids.
func cpfValid(digits string) bool {
	if len(digits) != 11 || strings.Count(digits, digits[:1]) == 11 {
		return false
	}
	check := func(n int) int {
		sum := 0
		for i := 0; i < n; i++ {
			sum += int(digits[i]-'0') * (n + 1 - i)
		}
		d := (sum * 10) % 11
		if d == 10 {
			d = 0
		}
		return d
	}
	return check(9) == int(digits[9]-'0') && check(10) == int(digits[10]-'0')
}
