package guardrail

import (
	"regexp"
	"strings"
)

// LeakScan is the outcome of scanning an outbound reply for internal data.
type LeakScan struct {
	Leaked    bool
	Reasons   []string
	Sanitized string
}

type leakPattern struct {
	re     *regexp.Regexp
	reason string
	block  bool
}

var leakPatterns = []leakPattern{
	{regexp.MustCompile(`(?i)my (system\s+)?prompt\s+(is|says)|mis instrucciones (son|dicen)|mi prompt (es|dice)`), "leak:system_prompt", true},
	{regexp.MustCompile(`(?i)(powered by|built on|running on)\s+(Gemini|Google|Claude|GPT|OpenAI|Anthropic|Bedrock)|(funciono|estoy construido|estoy basado) (con|en|sobre) (Gemini|Google|Claude|GPT|OpenAI|Bedrock)`), "leak:tech_stack", true},
	{regexp.MustCompile(`(?i)(api[_\s]?key|secret[_\s]?key|access[_\s]?token|auth[_\s]?token)\s*[:=]\s*\S+`), "leak:credential", true},
	{regexp.MustCompile(`AKIA[A-Z0-9]{16}`), "leak:aws_key", true},
	{regexp.MustCompile(`(?i)(postgres|postgresql|redis|mysql)://\S+`), "leak:database_url", true},
	{regexp.MustCompile(`(?i)/admin/|/internal/|/debug/`), "leak:internal_path", true},
	{regexp.MustCompile(`(?i)(otro cliente|other customer'?s?)\s+(nombre|tel[eé]fono|correo|name|phone|email)`), "leak:other_customer", true},
	{regexp.MustCompile(`(?i)\b(i('m| am) (an? )?(AI|language model|chatbot)|soy (un|una) (IA|inteligencia artificial|modelo de lenguaje|chatbot))\b`), "leak:ai_identity", false},
}

var aiIdentitySentence = regexp.MustCompile(`(?i)[^.!?]*\b(i('m| am) (an? )?(AI|language model|chatbot)|soy (un|una) (IA|inteligencia artificial|modelo de lenguaje|chatbot))\b[^.!?]*[.!?]?\s*`)

// ScanLeaks checks an outbound reply for prompt, credential or infrastructure
// disclosure. Blocking findings leave Sanitized empty.
func ScanLeaks(reply string) LeakScan {
	if strings.TrimSpace(reply) == "" {
		return LeakScan{Sanitized: reply}
	}
	var (
		reasons []string
		block   bool
	)
	for _, p := range leakPatterns {
		if p.re.MatchString(reply) {
			reasons = append(reasons, p.reason)
			block = block || p.block
		}
	}
	if len(reasons) == 0 {
		return LeakScan{Sanitized: reply}
	}
	out := LeakScan{Leaked: true, Reasons: reasons}
	if !block {
		out.Sanitized = strings.TrimSpace(aiIdentitySentence.ReplaceAllString(reply, ""))
	}
	return out
}
