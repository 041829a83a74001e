package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultDisclaimerText tells the customer they are talking to an assistant
// and that figures are not binding.
const DefaultDisclaimerText = "Asistente automático. Precios, disponibilidad y tasas sujetos a cambio y a aprobación de crédito."

// DisclaimerConfig configures the disclaimer service.
type DisclaimerConfig struct {
	// Enabled controls whether disclaimers are added.
	Enabled bool
	// FirstMessageOnly adds disclaimer only to first message in conversation.
	FirstMessageOnly bool
	// CustomText overrides the default template.
	CustomText string
}

// DefaultDisclaimerConfig returns sensible defaults.
func DefaultDisclaimerConfig() DisclaimerConfig {
	return DisclaimerConfig{
		Enabled:          true,
		FirstMessageOnly: true,
	}
}

// DisclaimerService handles adding the assistant disclaimer to replies.
type DisclaimerService struct {
	audit  Recorder
	config DisclaimerConfig
}

// NewDisclaimerService creates a new disclaimer service. audit may be nil.
func NewDisclaimerService(audit Recorder, config DisclaimerConfig) *DisclaimerService {
	return &DisclaimerService{
		audit:  audit,
		config: config,
	}
}

// Text returns the disclaimer in use.
func (s *DisclaimerService) Text() string {
	if s.config.CustomText != "" {
		return s.config.CustomText
	}
	return DefaultDisclaimerText
}

// DisclaimerOptions provides context for disclaimer addition.
type DisclaimerOptions struct {
	Channel        string
	LeadID         string
	IsFirstMessage bool
}

// AddDisclaimer appends the disclaimer to message when configured to.
func (s *DisclaimerService) AddDisclaimer(ctx context.Context, message string, opts DisclaimerOptions) string {
	if s == nil || !s.config.Enabled {
		return message
	}
	if s.config.FirstMessageOnly && !opts.IsFirstMessage {
		return message
	}

	disclaimer := s.Text()
	if strings.Contains(message, disclaimer) {
		return message
	}

	result := fmt.Sprintf("%s\n\n%s", strings.TrimSpace(message), disclaimer)
	if s.audit != nil {
		detailsJSON, _ := json.Marshal(AuditDetails{DisclaimerText: disclaimer})
		_ = s.audit.LogEvent(ctx, AuditEvent{
			EventType: EventDisclaimerSent,
			Channel:   opts.Channel,
			LeadID:    opts.LeadID,
			Details:   detailsJSON,
		})
	}
	return result
}
