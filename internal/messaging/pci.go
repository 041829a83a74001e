package messaging

import (
	"regexp"
	"strings"
)

var cardCandidateRE = regexp.MustCompile(`(?:\d[ -]?){13,19}`)

// RedactCardNumbers masks Luhn-valid card numbers down to their last four
// digits. The second result reports whether anything was masked.
func RedactCardNumbers(text string) (string, bool) {
	matches := cardCandidateRE.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text, false
	}

	var out strings.Builder
	out.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		digits := digitsOnly(text[start:end])
		if len(digits) < 13 || len(digits) > 19 || !luhnValid(digits) {
			continue
		}
		// Keep a trailing separator the pattern swallowed.
		for end > start && (text[end-1] == ' ' || text[end-1] == '-') {
			end--
		}
		out.WriteString(text[last:start])
		out.WriteString("[TARJETA ****")
		out.WriteString(digits[len(digits)-4:])
		out.WriteString("]")
		last = end
	}
	if last == 0 {
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
