package guardrail

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	ruleInventory = "inventory_grounding"
	ruleRate      = "rate_disclosure"
	ruleSensitive = "sensitive_data"
)

const (
	rateFallback  = "Las tasas de financiamiento dependen de tu perfil y están sujetas a aprobación de crédito."
	approvalNote  = ", sujeto a aprobación de crédito"
	emptyFallback = "Con gusto te ayudo. ¿Te gustaría conocer los vehículos que tenemos disponibles en inventario?"
)

var (
	percentRe = regexp.MustCompile(`(?i)\d+(?:[.,]\d+)?\s?(?:%|por\s?ciento)`)
	rangeRe   = regexp.MustCompile(`(?i)\d+(?:[.,]\d+)?\s?%?\s*(?:-|–|a|al|y|hasta|to)\s*\d+(?:[.,]\d+)?\s?(?:%|por\s?ciento)`)
	requestRe = regexp.MustCompile(`\b(envia|enviame|envianos|manda|mandame|mandanos|comparte|compartenos|compartir|proporciona|proporcioname|proporcionanos|dame|danos|dime|escribe|escribeme|necesito|necesitamos|requerimos|ocupamos|indicame|cual es|me pasas|nos pasas|send|share|provide|give me|what is|we need)\b`)
	negatedRe = regexp.MustCompile(`\b(no (compartas|envies|mandes|proporciones|escribas)|nunca|never|don'?t (share|send)|no te (pediremos|pedimos|pediremos|solicitaremos|solicitamos))\b`)
)

// Word lists run against folded text.
var (
	rangeFloorRe = regexp.MustCompile(`\b(desde|rango de|a partir de|entre|from|starting at|between)\s+(?:el |un |del )?\d+(?:[.,]\d+)?\s?(?:%|por\s?ciento)`)
	rateWordsRe  = regexp.MustCompile(`\b(tasas?|interes(es)?|apr|cat|financiamiento|financiar|credito|mensualidad(es)?|plazos?|rates?|interest)\b`)
	otherPctRe   = regexp.MustCompile(`\b(enganche|descuento|pago inicial|down payment|discount|bateria)\b`)
)

var approvalWords = []string{"sujeto a aprobación", "sujeta a aprobación", "sujetas a aprobación", "sujetos a aprobación", "subject to approval", "subject to credit approval"}

type sensitiveTerm struct {
	label string
	re    *regexp.Regexp
}

// Patterns run against folded text.
var sensitiveTerms = []sensitiveTerm{
	{"CURP", regexp.MustCompile(`\bcurp\b`)},
	{"RFC", regexp.MustCompile(`\brfc\b`)},
	{"INE", regexp.MustCompile(`\bine\b|credencial (de|para) (elector|votar)|clave de elector`)},
	{"número de seguro social", regexp.MustCompile(`seguro social|\bnss\b|\bssn\b|social security`)},
	{"pasaporte", regexp.MustCompile(`pasaporte|passport`)},
	{"datos de tarjeta", regexp.MustCompile(`(numero|datos) de (tu |la )?tarjeta|card number|\bcvv\b|\bcvc\b`)},
	{"cuenta bancaria", regexp.MustCompile(`cuenta bancaria|\bclabe\b|bank account|routing number`)},
	{"número de licencia", regexp.MustCompile(`numero de (tu )?licencia|license number`)},
	{"contraseña", regexp.MustCompile(`contrasena|password|\bnip\b`)},
}

type check struct {
	issues    []string
	rules     []string
	sensitive []string
	sanitized string
}

func (c *check) flag(rule, issue string) {
	for _, existing := range c.issues {
		if existing == issue {
			return
		}
	}
	c.issues = append(c.issues, issue)
	c.rules = append(c.rules, rule)
}

// runRules applies the deterministic rules sentence by sentence. A clean
// candidate comes back byte for byte.
func runRules(catalog *Catalog, candidate string, inventory []Vehicle) check {
	var (
		c             check
		out           strings.Builder
		wroteFallback bool
	)
	qualified := containsAny(fold(candidate), approvalWords...)
	catalog = catalog.WithInventory(inventory)

	for _, sentence := range splitSentences(candidate) {
		folded := fold(sentence)
		drop := false

		if label, ok := sensitiveRequest(folded); ok {
			c.flag(ruleSensitive, "solicitud de dato sensible: "+label)
			c.sensitive = append(c.sensitive, label)
			drop = true
		}

		for _, m := range catalog.Find(sentence) {
			if !catalog.InInventory(m, inventory) {
				c.flag(ruleInventory, fmt.Sprintf("vehículo no disponible en inventario: %q", m.Text))
				drop = true
			}
		}

		rewritten := sentence
		if percentRe.MatchString(sentence) && isRateSentence(folded) {
			switch pct := exactRate(folded); {
			case pct != "":
				c.flag(ruleRate, "tasa puntual no permitida: "+pct)
				rewritten = ""
				if !drop && !wroteFallback {
					rewritten = rateFallback + " "
					wroteFallback = true
				}
			case !qualified:
				c.flag(ruleRate, "rango de tasa sin cláusula de aprobación de crédito")
				rewritten = withApprovalNote(sentence)
			}
		}

		if !drop {
			out.WriteString(rewritten)
		}
	}

	if len(c.issues) == 0 {
		c.sanitized = candidate
		return c
	}
	c.sanitized = tidy(out.String())
	if c.sanitized == "" {
		c.sanitized = emptyFallback
	}
	return c
}

func sensitiveRequest(folded string) (string, bool) {
	if negatedRe.MatchString(folded) {
		return "", false
	}
	asks := requestRe.MatchString(folded) || strings.Contains(folded, "?")
	if !asks {
		return "", false
	}
	for _, t := range sensitiveTerms {
		if t.re.MatchString(folded) {
			return t.label, true
		}
	}
	return "", false
}

// isRateSentence treats every percentage as a rate unless the sentence is
// clearly about a down payment or discount.
func isRateSentence(folded string) bool {
	if rateWordsRe.MatchString(folded) {
		return true
	}
	return !otherPctRe.MatchString(folded)
}

// exactRate returns the first percentage that is neither part of a numeric
// range nor directly introduced by a range word ("desde 7.5%").
func exactRate(folded string) string {
	var covered [][]int
	covered = append(covered, rangeRe.FindAllStringIndex(folded, -1)...)
	covered = append(covered, rangeFloorRe.FindAllStringIndex(folded, -1)...)
	for _, loc := range percentRe.FindAllStringIndex(folded, -1) {
		inside := false
		for _, r := range covered {
			if loc[0] >= r[0] && loc[1] <= r[1] {
				inside = true
				break
			}
		}
		if !inside {
			return folded[loc[0]:loc[1]]
		}
	}
	return ""
}

// withApprovalNote inserts the approval clause before the sentence's closing
// punctuation and trailing whitespace.
func withApprovalNote(sentence string) string {
	body := strings.TrimRight(sentence, " \t\r\n")
	tail := sentence[len(body):]
	core := strings.TrimRight(body, ".!?")
	punct := body[len(core):]
	if punct == "" {
		punct = "."
	}
	return core + approvalNote + punct + tail
}
