package messaging

import "strings"

const whatsappPrefix = "whatsapp:"

// NormalizeE164 strips a "whatsapp:" channel prefix and formatting, returning
// + followed by digits, or "" when no digits remain.
func NormalizeE164(value string) string {
	digits := digitsOnly(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// WhatsAppAddress formats a phone number the way Twilio addresses WhatsApp users.
func WhatsAppAddress(phone string) string {
	if strings.HasPrefix(phone, whatsappPrefix) {
		return phone
	}
	return whatsappPrefix + NormalizeE164(phone)
}
