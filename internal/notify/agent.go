// Package notify emails the sales floor when a lead needs a human: an agent
// when their lead qualifies and the sales team when a sale closes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/lifecycle"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

const sendTimeout = 15 * time.Second

// AgentNotifier turns lifecycle transitions into emails.
type AgentNotifier struct {
	email       EmailSender
	agentEmails map[string]string
	salesTeam   string
	logger      *logging.Logger
}

// NewAgentNotifier creates a notifier. agentEmails maps agent names (as stored
// in assignedAgent) to addresses; salesTeam receives sold leads and qualified
// leads whose agent has no address.
func NewAgentNotifier(email EmailSender, agentEmails map[string]string, salesTeam string, logger *logging.Logger) *AgentNotifier {
	if email == nil {
		panic("notify: email sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	normalized := make(map[string]string, len(agentEmails))
	for name, addr := range agentEmails {
		normalized[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(addr)
	}
	return &AgentNotifier{email: email, agentEmails: normalized, salesTeam: strings.TrimSpace(salesTeam), logger: logger}
}

// Hook returns a lifecycle hook that sends in the background so a slow mail
// provider never holds up a transition.
func (n *AgentNotifier) Hook() lifecycle.Hook {
	return func(ctx context.Context, lead *leads.Lead, rec lifecycle.Record) {
		go func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
			defer cancel()
			if err := n.Notify(ctx, lead, rec); err != nil {
				n.logger.Error("notify: agent email failed", "lead_id", lead.ID, "to_status", rec.ToStatus, "error", err)
			}
		}()
	}
}

// Notify sends the email for a transition, if the transition warrants one.
func (n *AgentNotifier) Notify(ctx context.Context, lead *leads.Lead, rec lifecycle.Record) error {
	var msg EmailMessage
	switch rec.ToStatus {
	case leads.StatusQualified:
		to, name := n.agentAddress(lead.AssignedAgent)
		if to == "" {
			n.logger.Warn("notify: no recipient for qualified lead", "lead_id", lead.ID, "agent", lead.AssignedAgent)
			return nil
		}
		msg = EmailMessage{
			To:      to,
			ToName:  name,
			Subject: fmt.Sprintf("Prospecto calificado: %s (%d/100)", displayName(lead), lead.AIScore),
			Body:    qualifiedBody(lead, rec),
		}
	case leads.StatusSold:
		if n.salesTeam == "" {
			return nil
		}
		msg = EmailMessage{
			To:      n.salesTeam,
			Subject: fmt.Sprintf("Venta cerrada %s: %s", lead.SaleID, lifecycle.FormatAmount(lead.Amount)),
			Body:    soldBody(lead, rec),
		}
	default:
		return nil
	}

	if err := n.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send %s email: %w", rec.ToStatus, err)
	}
	n.logger.Info("agent notified", "lead_id", lead.ID, "to_status", rec.ToStatus, "to", msg.To)
	return nil
}

func (n *AgentNotifier) agentAddress(agent string) (addr, name string) {
	key := strings.ToLower(strings.TrimSpace(agent))
	if addr := n.agentEmails[key]; addr != "" {
		return addr, strings.TrimSpace(agent)
	}
	if strings.Contains(agent, "@") {
		return strings.TrimSpace(agent), ""
	}
	return n.salesTeam, ""
}

func displayName(lead *leads.Lead) string {
	if name := strings.TrimSpace(lead.Name); name != "" {
		return name
	}
	return lead.Phone
}

func qualifiedBody(lead *leads.Lead, rec lifecycle.Record) string {
	var b strings.Builder
	b.WriteString(rec.Narrative)
	b.WriteString("\n\n")
	line := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	line("Nombre", lead.Name)
	line("Teléfono", lead.Phone)
	line("Correo", lead.Email)
	line("Vehículo de interés", lead.VehicleOfInterest)
	line("Ingreso mensual", lead.MonthlyIncome)
	line("Historial crediticio", lead.CreditScoreBand)
	line("Resumen", lead.AISummary)
	return b.String()
}

func soldBody(lead *leads.Lead, rec lifecycle.Record) string {
	return fmt.Sprintf("%s\n\nCliente: %s\nAsesor: %s\nVenta: %s\nMonto: %s\n",
		rec.Narrative, displayName(lead), orDefault(lead.AssignedAgent, "sin asignar"), lead.SaleID, lifecycle.FormatAmount(lead.Amount))
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// ErrNoSender is returned by NewEmailSender when no provider is configured.
var ErrNoSender = errors.New("notify: no email provider configured")

// NewEmailSender picks the provider named by provider ("sendgrid" or "ses").
// It returns ErrNoSender when the chosen provider is not configured.
func NewEmailSender(provider string, sendGrid SendGridConfig, ses sesAPI, sesCfg SESConfig, logger *logging.Logger) (EmailSender, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "ses":
		if s := NewSESSender(ses, sesCfg, logger); s != nil {
			return s, nil
		}
	case "", "sendgrid":
		if s := NewSendGridSender(sendGrid, logger); s != nil {
			return s, nil
		}
	default:
		return nil, fmt.Errorf("notify: unknown email provider %q", provider)
	}
	return nil, ErrNoSender
}
