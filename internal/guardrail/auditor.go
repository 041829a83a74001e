package guardrail

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/dealership-ai-platform/internal/llm"
)

// Auditor is a secondary reviewer of a candidate reply.
type Auditor interface {
	Audit(ctx context.Context, userQuery, candidate string, inventory []Vehicle) (Result, error)
}

const auditSystemPrompt = `You review replies a car dealership assistant is about to send to a customer in Spanish.
Reject the reply if it:
- names a vehicle that is not in the provided inventory,
- states a single exact interest rate instead of a range marked "sujeto a aprobación de crédito",
- asks for government IDs, card numbers, bank accounts or passwords,
- promises approval, discounts or prices that are not in the inventory.
Answer with one JSON object and nothing else:
{"isValid": true|false, "issues": ["..."], "sanitizedResponse": "..."}
When isValid is false, sanitizedResponse must be a corrected reply in Spanish that keeps the helpful content.
When isValid is true, copy the reply unchanged into sanitizedResponse.`

// ModelAuditor asks a language model to review the reply.
type ModelAuditor struct {
	client llm.Client
}

// NewModelAuditor wraps a model client.
func NewModelAuditor(client llm.Client) *ModelAuditor {
	if client == nil {
		panic("guardrail: model client cannot be nil")
	}
	return &ModelAuditor{client: client}
}

type auditVerdict struct {
	IsValid           *bool    `json:"isValid"`
	Issues            []string `json:"issues"`
	SanitizedResponse string   `json:"sanitizedResponse"`
}

// Audit returns llm.ErrModelUnavailable or llm.ErrMalformedModelOutput when
// no usable verdict came back.
func (a *ModelAuditor) Audit(ctx context.Context, userQuery, candidate string, inventory []Vehicle) (Result, error) {
	raw, err := llm.Generate(ctx, a.client, auditSystemPrompt, auditPrompt(userQuery, candidate, inventory), true)
	if err != nil {
		return Result{}, err
	}
	var verdict auditVerdict
	if err := llm.DecodeJSONObject(raw, &verdict); err != nil {
		return Result{}, err
	}
	if verdict.IsValid == nil {
		return Result{}, fmt.Errorf("%w: verdict missing isValid", llm.ErrMalformedModelOutput)
	}
	if !*verdict.IsValid && strings.TrimSpace(verdict.SanitizedResponse) == "" {
		return Result{}, fmt.Errorf("%w: rejected reply without a replacement", llm.ErrMalformedModelOutput)
	}
	return Result{
		IsValid:           *verdict.IsValid,
		Issues:            verdict.Issues,
		SanitizedResponse: verdict.SanitizedResponse,
	}, nil
}

func auditPrompt(userQuery, candidate string, inventory []Vehicle) string {
	var b strings.Builder
	b.WriteString("Inventory:\n")
	if len(inventory) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, v := range inventory {
		fmt.Fprintf(&b, "- %s ($%.2f)\n", v.Name, v.Price)
	}
	fmt.Fprintf(&b, "\nCustomer message:\n%s\n\nCandidate reply:\n%s\n", userQuery, candidate)
	return b.String()
}
