package bootstrap

import (
	"strings"

	appconfig "github.com/wolfman30/dealership-ai-platform/internal/config"
	"github.com/wolfman30/dealership-ai-platform/internal/conversation"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/messaging"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// WhatsAppDeps are the optional collaborators of the WhatsApp webhook.
type WhatsAppDeps struct {
	Deduper     messaging.Deduper
	Transitions messaging.Transitioner
	Registry    *Metrics
	// WebhookPath is appended to PUBLIC_BASE_URL for signature checks.
	WebhookPath string
}

// BuildWhatsAppHandler wires the Twilio WhatsApp webhook. It returns the
// handler plus a note describing how replies are delivered.
func BuildWhatsAppHandler(cfg *appconfig.Config, service conversation.Service, repo leads.Repository, deps WhatsAppDeps, logger *logging.Logger) (*messaging.Handler, string) {
	if logger == nil {
		logger = logging.Default()
	}
	opts := []messaging.Option{messaging.WithLogger(logger)}

	if cfg.TwilioAuthToken != "" {
		webhookURL := ""
		if base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"); base != "" {
			webhookURL = base + deps.WebhookPath
		}
		opts = append(opts, messaging.WithSignature(cfg.TwilioAuthToken, webhookURL))
	} else {
		logger.Warn("TWILIO_AUTH_TOKEN not set; whatsapp webhook signatures are not verified")
	}
	if deps.Deduper != nil {
		opts = append(opts, messaging.WithDeduper(deps.Deduper))
	}
	if deps.Transitions != nil {
		opts = append(opts, messaging.WithTransitioner(deps.Transitions))
	}
	if deps.Registry != nil {
		opts = append(opts, messaging.WithMetrics(deps.Registry.Messaging))
	}

	mode := "twiml"
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		opts = append(opts, messaging.WithMediaFetcher(messaging.NewTwilioMediaFetcher(cfg.TwilioAccountSID, cfg.TwilioAuthToken)))
		if cfg.WhatsAppAsyncReplies {
			if cfg.TwilioWhatsAppFrom == "" {
				logger.Warn("async whatsapp replies need TWILIO_WHATSAPP_FROM; answering inline")
			} else {
				sender := messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppFrom, logger)
				opts = append(opts, messaging.WithAsyncReplies(sender))
				mode = "async"
			}
		}
	}
	return messaging.NewHandler(service, repo, opts...), mode
}
