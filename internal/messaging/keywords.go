package messaging

import (
	"regexp"
	"strings"
)

// Detector identifies opt-out and help keywords in inbound messages. Both
// Spanish and English keywords are accepted.
type Detector struct {
	stopRegex *regexp.Regexp
	helpRegex *regexp.Regexp
}

// NewDetector returns a keyword detector with the default keyword lists.
func NewDetector() *Detector {
	return &Detector{
		stopRegex: regexp.MustCompile(`(?i)^(?:por\s+favor\s+|please\s+)?(stop|baja|alto|cancelar|detener|unsubscribe|stopall)\b`),
		helpRegex: regexp.MustCompile(`(?i)^(?:por\s+favor\s+|please\s+)?(ayuda|help|info)\b`),
	}
}

// IsStop returns true when body starts with an opt-out keyword.
func (d *Detector) IsStop(body string) bool {
	if d == nil || d.stopRegex == nil {
		return false
	}
	return d.stopRegex.MatchString(strings.TrimSpace(body))
}

// IsHelp returns true when body starts with a help keyword.
func (d *Detector) IsHelp(body string) bool {
	if d == nil || d.helpRegex == nil {
		return false
	}
	return d.helpRegex.MatchString(strings.TrimSpace(body))
}
