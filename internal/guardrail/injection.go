package guardrail

import (
	"regexp"
	"strings"
)

// Screen is the outcome of scanning an inbound customer message.
type Screen struct {
	Blocked   bool
	Score     float64
	Reasons   []string
	Sanitized string
}

type weightedPattern struct {
	re     *regexp.Regexp
	reason string
	weight float64
}

const (
	blockThreshold = 0.7
	warnThreshold  = 0.3
)

// BlockedReply answers a message that was refused before reaching the model.
const BlockedReply = "Estoy aquí para ayudarte con nuestros vehículos, financiamiento y citas de prueba de manejo. ¿En qué te puedo ayudar?"

var injectionPatterns = []weightedPattern{
	{regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier|your)\s+(instructions?|rules?|prompts?|guidelines?)`), "direct:ignore_instructions", 0.9},
	{regexp.MustCompile(`(?i)(ignora|olvida|omite)\s+(todas\s+)?(las\s+|tus\s+)?(instrucciones|reglas|indicaciones)(\s+(anteriores|previas))?`), "direct:ignora_instrucciones", 0.9},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+|ahora\s+eres\s+(un|una|mi)\s+`), "direct:role_reassignment", 0.7},
	{regexp.MustCompile(`(?i)new\s+instructions?\s*:|system\s*prompt\s*:|nuevas\s+instrucciones\s*:|<<\s*sys(tem)?\s*>>`), "direct:new_instructions", 0.9},
	{regexp.MustCompile(`(?i)(pretend|imagine|finge|imagina)\s+(that\s+|que\s+)?(you\s+)?(have|are|no\s+tienes)\s+(no\s+)?(rules?|restrictions?|limits?|reglas|restricciones|l[ií]mites)`), "direct:pretend_no_rules", 0.9},
	{regexp.MustCompile(`(?i)jailbreak|DAN\s*mode|developer\s*mode|modo\s+desarrollador`), "direct:jailbreak_keyword", 0.9},
	{regexp.MustCompile(`(?i)(reveal|show|print|repeat|tell\s+me|mu[eé]strame|rev[eé]lame|rep[ií]teme|dime)\s+(your\s+|tu\s+|tus\s+)?(system\s+prompt|instructions?|prompt\s+del\s+sistema|instrucciones)`), "exfiltration:system_prompt", 0.8},
	{regexp.MustCompile(`(?i)(list|show|give|dame|mu[eé]strame)\s+(me\s+)?(all\s+)?(the\s+)?(other\s+|otros\s+|los\s+)?(customers?|clientes|leads)('?s)?\s*(data|info|names?|phones?|datos|nombres|tel[eé]fonos)?`), "exfiltration:customer_data", 0.7},
	{regexp.MustCompile(`(?i)(tel[eé]fonos?|datos|nombres|correos|n[uú]meros)\s+de\s+(otros\s+|los\s+|tus\s+)?(clientes|customers)`), "exfiltration:customer_records", 0.7},
	{regexp.MustCompile(`(?i)\b(api|secret|aws|database|db|twilio|sendgrid)\s*(key|token|secret|password|credential)s?\b`), "exfiltration:credentials", 0.8},
	{regexp.MustCompile(`(?i)\[/?INST\]|\[/?SYS\]|<\|im_start\|>|<\|im_end\|>|<\|system\|>|<\|user\|>|<\|assistant\|>`), "context:special_tokens", 0.9},
	{regexp.MustCompile(`(?i)###\s*(system|instruction|human|assistant|user|sistema)\s*:`), "context:role_markers", 0.7},
	{regexp.MustCompile(`<\s*(script|iframe|object|embed|svg|form)\b`), "obfuscation:html_injection", 0.6},
	{regexp.MustCompile(`(?i)base64\s*(encode|decode|:)`), "obfuscation:encoding", 0.4},
}

var (
	specialTokens = regexp.MustCompile(`(?i)\[/?INST\]|\[/?SYS\]|<\|im_start\|>|<\|im_end\|>|<\|system\|>|<\|user\|>|<\|assistant\|>`)
	roleMarkers   = regexp.MustCompile(`(?i)###\s*(system|instruction|human|assistant|user|sistema)\s*:`)
	htmlTags      = regexp.MustCompile(`<\s*(script|iframe|object|embed|svg|form)\b[^>]*>`)
)

// ScreenMessage scores an inbound message for prompt-injection signals. The
// strongest signal sets the score and each extra signal adds 0.1.
func ScreenMessage(message string) Screen {
	if strings.TrimSpace(message) == "" {
		return Screen{Sanitized: message}
	}
	var (
		reasons []string
		top     float64
	)
	for _, p := range injectionPatterns {
		if p.re.MatchString(message) {
			reasons = append(reasons, p.reason)
			if p.weight > top {
				top = p.weight
			}
		}
	}
	score := top
	if len(reasons) > 1 {
		score += float64(len(reasons)-1) * 0.1
		if score > 1 {
			score = 1
		}
	}
	out := Screen{Score: score, Reasons: reasons, Sanitized: message}
	switch {
	case score >= blockThreshold:
		out.Blocked = true
	case score >= warnThreshold:
		out.Sanitized = stripMarkers(message)
	}
	return out
}

func stripMarkers(message string) string {
	cleaned := specialTokens.ReplaceAllString(message, "")
	cleaned = roleMarkers.ReplaceAllString(cleaned, "")
	cleaned = htmlTags.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}
