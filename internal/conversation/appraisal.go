package conversation

import (
	"fmt"
	"strings"

	"github.com/wolfman30/dealership-ai-platform/internal/lifecycle"
	"github.com/wolfman30/dealership-ai-platform/internal/llm"
)

const appraisalPrompt = `El cliente envió una foto del vehículo que quiere dar a cuenta. Identifica el vehículo y estima su valor de toma.
Responde solo con un objeto JSON:
{"make": "", "model": "", "year": 0, "condition": "excelente|bueno|regular|malo", "estimated_min": 0, "estimated_max": 0, "notes": ""}
Los montos van en pesos sin símbolos. Si no puedes identificarlo deja los campos vacíos y explica en notes.`

// Appraisal is the model's reading of a trade-in photo. When the model's
// answer is not valid JSON only Raw is set.
type Appraisal struct {
	Make         string  `json:"make"`
	Model        string  `json:"model"`
	Year         int     `json:"year"`
	Condition    string  `json:"condition"`
	EstimatedMin float64 `json:"estimated_min"`
	EstimatedMax float64 `json:"estimated_max"`
	Notes        string  `json:"notes"`
	Raw          string  `json:"raw,omitempty"`
}

func parseAppraisal(text string) Appraisal {
	var a Appraisal
	if err := llm.DecodeJSONObject(text, &a); err != nil {
		return Appraisal{Raw: strings.TrimSpace(text)}
	}
	return a
}

// Vehicle names the appraised car, or "" when it was not identified.
func (a Appraisal) Vehicle() string {
	name := strings.TrimSpace(a.Make + " " + a.Model)
	if name != "" && a.Year > 0 {
		name = fmt.Sprintf("%s %d", name, a.Year)
	}
	return name
}

func (a Appraisal) reply() string {
	if a.Raw != "" {
		return a.Raw
	}
	var b strings.Builder
	b.WriteString("¡Gracias por la foto!")
	if v := a.Vehicle(); v != "" {
		fmt.Fprintf(&b, " Parece un %s", v)
		if a.Condition != "" {
			fmt.Fprintf(&b, " en condición %s", a.Condition)
		}
		b.WriteString(".")
	}
	if a.EstimatedMin > 0 && a.EstimatedMax >= a.EstimatedMin {
		fmt.Fprintf(&b, " Su valor estimado de toma está entre %s y %s, sujeto a inspección física.",
			lifecycle.FormatAmount(a.EstimatedMin), lifecycle.FormatAmount(a.EstimatedMax))
	}
	b.WriteString(" Un asesor confirmará la valuación contigo.")
	return b.String()
}

func (a Appraisal) summary() string {
	if a.Raw != "" {
		return "Valuación de auto a cuenta (texto del modelo): " + a.Raw
	}
	return fmt.Sprintf("Valuación de auto a cuenta: %s, condición %s, rango %s a %s. %s",
		a.Vehicle(), a.Condition, lifecycle.FormatAmount(a.EstimatedMin), lifecycle.FormatAmount(a.EstimatedMax), a.Notes)
}
