package archive

import (
	"crypto/sha256"
	"fmt"
	"regexp"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// Mexican numbers: optional +52 (and legacy 1), then ten digits in 2-4-4 or 3-3-4 groups.
	phoneRe = regexp.MustCompile(`\+?(?:52)?\s?1?[-.\s]?\(?[0-9]{2,3}\)?[-.\s]?[0-9]{3,4}[-.\s]?[0-9]{4}`)
	curpRe  = regexp.MustCompile(`\b[A-Z]{4}[0-9]{6}[HM][A-Z]{5}[0-9A-Z][0-9]\b`)
	rfcRe   = regexp.MustCompile(`\b[A-ZÑ&]{3,4}[0-9]{6}[A-Z0-9]{3}\b`)
)

// HashPhone returns the hex-encoded SHA-256 hash of a phone number.
func HashPhone(phone string) string {
	if phone == "" {
		return ""
	}
	h := sha256.Sum256([]byte(phone))
	return fmt.Sprintf("%x", h)
}

// ScrubPII replaces emails, phone numbers and Mexican tax/population IDs with
// placeholders. Names and vehicles are kept for review context.
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = curpRe.ReplaceAllString(text, "[CURP]")
	text = rfcRe.ReplaceAllString(text, "[RFC]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}

// ScrubMessages applies PII scrubbing to all messages in-place.
func ScrubMessages(msgs []Message) {
	for i := range msgs {
		msgs[i].Content = ScrubPII(msgs[i].Content)
	}
}
