package guardrail

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lowercases s and strips diacritics so "Aprobación" matches "aprobacion".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// containsAny reports whether the folded text contains any folded needle.
func containsAny(folded string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(folded, fold(n)) {
			return true
		}
	}
	return false
}

// splitSentences cuts text after '.', '!' or '?' followed by whitespace, and
// after newlines. Trailing whitespace stays with its sentence so joining the
// pieces restores the input. Decimal points are never boundaries.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	rs := []rune(text)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		end := false
		switch r {
		case '\n':
			end = true
		case '.', '!', '?':
			end = i+1 == len(rs) || unicode.IsSpace(rs[i+1])
		}
		if !end {
			continue
		}
		j := i + 1
		for j < len(rs) && unicode.IsSpace(rs[j]) {
			j++
		}
		out = append(out, string(rs[start:j]))
		start = j
		i = j - 1
	}
	if start < len(rs) {
		out = append(out, string(rs[start:]))
	}
	return out
}

// tidy collapses whitespace runs left behind by removed sentences.
func tidy(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
