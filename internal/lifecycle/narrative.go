package lifecycle

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wolfman30/dealership-ai-platform/internal/leads"
)

const (
	// UnknownValue replaces missing loss reasons, sale ids, amounts and scores.
	UnknownValue = "Desconocido"
	// UnassignedAgent replaces a missing agent name.
	UnassignedAgent = "sin asignar"
)

// Narrator renders the human-readable summary of a transition.
type Narrator interface {
	Narrate(lead *leads.Lead, rec Record, details Details) (string, error)
}

// NarratorFunc adapts a function to Narrator.
type NarratorFunc func(lead *leads.Lead, rec Record, details Details) (string, error)

func (f NarratorFunc) Narrate(lead *leads.Lead, rec Record, details Details) (string, error) {
	return f(lead, rec, details)
}

// TemplateNarrator renders fixed Spanish templates, one per target status.
type TemplateNarrator struct{}

func (TemplateNarrator) Narrate(lead *leads.Lead, rec Record, details Details) (string, error) {
	name := displayName(lead)
	score := scoreText(rec.Score)
	agent := orDefault(details.AssignedAgent, orDefault(lead.AssignedAgent, UnassignedAgent))

	switch rec.ToStatus {
	case leads.StatusContacted:
		return fmt.Sprintf("Lead %s contactado. Puntaje actual: %s.", name, score), nil
	case leads.StatusQualified:
		return fmt.Sprintf("Lead %s calificado con puntaje %s. Asignado a %s.", name, score, agent), nil
	case leads.StatusNegotiating:
		return fmt.Sprintf("Lead %s en negociación con %s. Puntaje: %s.", name, agent, score), nil
	case leads.StatusSold:
		return fmt.Sprintf("Lead %s vendido. Venta %s por %s.",
			name, orDefault(details.SaleID, UnknownValue), FormatAmount(details.Amount)), nil
	case leads.StatusLost:
		return fmt.Sprintf("Lead %s perdido. Motivo: %s.", name, orDefault(details.LossReason, UnknownValue)), nil
	default:
		return "", fmt.Errorf("lifecycle: no narrative template for status %q", rec.ToStatus)
	}
}

// resilienceNarrative is used when the narrator fails.
func resilienceNarrative(rec Record) string {
	return fmt.Sprintf("Estado actualizado a %s (modo de resiliencia).", StatusLabel(rec.ToStatus))
}

// StatusLabel returns the Spanish label for a status.
func StatusLabel(s leads.Status) string {
	switch s {
	case leads.StatusNew:
		return "nuevo"
	case leads.StatusContacted:
		return "contactado"
	case leads.StatusQualified:
		return "calificado"
	case leads.StatusNegotiating:
		return "en negociación"
	case leads.StatusSold:
		return "vendido"
	case leads.StatusLost:
		return "perdido"
	default:
		return string(s)
	}
}

// FormatAmount renders a sale amount as "$25,000.00". Non-positive or
// non-finite amounts render as UnknownValue.
func FormatAmount(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return UnknownValue
	}
	raw := strconv.FormatFloat(amount, 'f', 2, 64)
	whole, frac, _ := strings.Cut(raw, ".")

	var b strings.Builder
	b.WriteByte('$')
	for i, d := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

func displayName(lead *leads.Lead) string {
	if lead == nil {
		return UnknownValue
	}
	if n := strings.TrimSpace(lead.Name); n != "" {
		return n
	}
	if lead.Phone != "" {
		return lead.Phone
	}
	return UnknownValue
}

func scoreText(score int) string {
	if score <= 0 {
		return UnknownValue
	}
	return strconv.Itoa(score)
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
