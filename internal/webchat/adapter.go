package webchat

import (
	"context"
	"time"

	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/lifecycle"
)

// StatusHook returns a lifecycle hook that pushes each transition to the
// lead's open chat so the agent sees the funnel move live.
func (h *Handler) StatusHook() lifecycle.Hook {
	return func(_ context.Context, lead *leads.Lead, rec lifecycle.Record) {
		pushed := h.SendToLead(lead.ID, OutboundMessage{
			Type:      "status",
			LeadID:    lead.ID,
			Status:    string(rec.ToStatus),
			Text:      rec.Narrative,
			Timestamp: rec.Timestamp.UTC().Format(time.RFC3339),
		})
		if pushed {
			h.logger.Debug("webchat: status pushed", "lead_id", lead.ID, "status", rec.ToStatus)
		}
	}
}
