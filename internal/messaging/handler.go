// Package messaging is the WhatsApp transport: it verifies Twilio webhooks,
// maps the sender to a lead and answers through the conversation service.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dealership-ai-platform/internal/conversation"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/lifecycle"
	"github.com/wolfman30/dealership-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

var whatsappTracer = otel.Tracer("dealership.internal.messaging.whatsapp")

const (
	// ProviderTwilio namespaces Twilio message ids in the dedupe store.
	ProviderTwilio = "twilio"

	maxPendingRounds = 3
	asyncTimeout     = 45 * time.Second
	optOutReason     = "Solicitó no ser contactado"
)

// Canned replies for messages the assistant does not answer itself.
const (
	OptOutReply           = "Listo, no volverás a recibir mensajes de nuestra parte. Si cambias de opinión, escríbenos cuando quieras."
	HelpReply             = "Soy el asistente virtual de la agencia. Puedo ayudarte con autos disponibles, financiamiento y el avalúo de tu auto a cuenta. Escribe BAJA para dejar de recibir mensajes."
	CardNumberReply       = "Por tu seguridad, no envíes datos de tarjeta por WhatsApp. Un asesor te compartirá un medio de pago seguro."
	BusyReply             = "Dame un momento, sigo revisando tu mensaje anterior."
	MediaUnsupportedReply = "Por ahora solo puedo revisar fotos. ¿Me cuentas por mensaje lo que necesitas?"
)

// Deduper claims inbound message ids. events.ProcessedStore implements it.
type Deduper interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Transitioner moves a lead through the funnel. lifecycle.Machine implements it.
type Transitioner interface {
	Transition(ctx context.Context, lead *leads.Lead, target leads.Status, details lifecycle.Details) (*lifecycle.Result, error)
}

// Handler serves the Twilio WhatsApp webhook.
type Handler struct {
	conversations conversation.Service
	leads         leads.Repository
	authToken     string
	webhookURL    string
	dedupe        Deduper
	media         MediaFetcher
	transitions   Transitioner
	sender        ReplySender
	keywords      *Detector
	metrics       *metrics.MessagingMetrics
	logger        *logging.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithSignature enables X-Twilio-Signature checks. webhookURL is the public
// URL Twilio posts to; when empty it is rebuilt from the request.
func WithSignature(authToken, webhookURL string) Option {
	return func(h *Handler) {
		h.authToken = authToken
		h.webhookURL = webhookURL
	}
}

// WithDeduper drops redelivered message ids.
func WithDeduper(d Deduper) Option {
	return func(h *Handler) { h.dedupe = d }
}

// WithMediaFetcher enables photo messages.
func WithMediaFetcher(f MediaFetcher) Option {
	return func(h *Handler) { h.media = f }
}

// WithTransitioner marks leads lost when they opt out.
func WithTransitioner(t Transitioner) Option {
	return func(h *Handler) { h.transitions = t }
}

// WithAsyncReplies acknowledges the webhook immediately and delivers the
// assistant's reply through sender once the turn finishes.
func WithAsyncReplies(sender ReplySender) Option {
	return func(h *Handler) { h.sender = sender }
}

func WithMetrics(m *metrics.MessagingMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the handler's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a WhatsApp webhook handler.
func NewHandler(service conversation.Service, repo leads.Repository, opts ...Option) *Handler {
	if service == nil {
		panic("messaging: conversation service cannot be nil")
	}
	if repo == nil {
		panic("messaging: leads repository cannot be nil")
	}
	h := &Handler{
		conversations: service,
		leads:         repo,
		keywords:      NewDetector(),
		logger:        logging.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WhatsAppWebhook handles POST /webhooks/twilio/whatsapp.
func (h *Handler) WhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := whatsappTracer.Start(r.Context(), "messaging.whatsapp.webhook")
	defer span.End()

	start := time.Now()
	kind, status := "message", "ok"
	defer func() {
		h.metrics.ObserveInbound(kind, status)
		h.metrics.ObserveWebhookLatency(kind, time.Since(start).Seconds())
	}()

	if h.authToken != "" {
		webhookURL := h.webhookURL
		if webhookURL == "" {
			webhookURL = buildAbsoluteURL(r)
		}
		if !ValidateTwilioSignature(r, h.authToken, webhookURL) {
			status = "unauthorized"
			h.logger.Warn("invalid twilio signature")
			span.RecordError(errors.New("invalid twilio signature"))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	hook, err := ParseWhatsAppWebhook(r)
	if err != nil {
		status = "invalid"
		h.logger.Error("failed to parse whatsapp webhook", "error", err)
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	from := NormalizeE164(hook.From)
	span.SetAttributes(
		attribute.String("dealership.twilio.message_sid", hook.MessageSid),
		attribute.String("dealership.twilio.from", from),
		attribute.Int("dealership.twilio.num_media", len(hook.Media)),
	)
	if hook.MessageSid == "" || from == "" || (hook.Body == "" && len(hook.Media) == 0) {
		status = "invalid"
		err := errors.New("missing required twilio fields")
		h.logger.Error("invalid whatsapp payload", "error", err)
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if len(hook.Media) > 0 {
		kind = "media"
	}

	if h.dedupe != nil {
		first, err := h.dedupe.MarkProcessed(ctx, ProviderTwilio, hook.MessageSid)
		switch {
		case err != nil:
			// A double reply is better than a dropped customer.
			h.logger.Warn("whatsapp dedupe unavailable", "error", err, "message_sid", hook.MessageSid)
		case !first:
			status = "duplicate"
			h.logger.Info("duplicate whatsapp delivery ignored", "message_sid", hook.MessageSid)
			writeTwiML(w, "")
			return
		}
	}

	lead, created, err := leads.FindOrCreateByPhone(ctx, h.leads, &leads.CreateLeadRequest{
		Name:    hook.ProfileName,
		Phone:   from,
		Message: hook.Body,
		Source:  leads.SourceWhatsApp,
	})
	if err != nil {
		status = "error"
		h.logger.Error("failed to persist whatsapp lead", "error", err, "from", from)
		span.RecordError(err)
		http.Error(w, "Failed to persist lead", http.StatusInternalServerError)
		return
	}
	span.SetAttributes(attribute.String("dealership.lead_id", lead.ID))
	if created {
		h.logger.Info("whatsapp lead created", "lead_id", lead.ID)
	}

	switch {
	case h.keywords.IsStop(hook.Body):
		kind = "stop"
		h.optOut(ctx, lead)
		writeTwiML(w, OptOutReply)
		return
	case h.keywords.IsHelp(hook.Body):
		kind = "help"
		writeTwiML(w, HelpReply)
		return
	}

	if h.sender != nil {
		writeTwiML(w, "")
		go func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncTimeout)
			defer cancel()
			reply := h.process(ctx, lead, hook)
			if reply == "" {
				return
			}
			if err := h.sender.Send(ctx, from, reply); err != nil {
				h.logger.Error("failed to deliver whatsapp reply", "error", err, "lead_id", lead.ID)
			}
		}()
		return
	}
	writeTwiML(w, h.process(ctx, lead, hook))
}

// process runs the customer's message through the assistant and returns the
// text to send back.
func (h *Handler) process(ctx context.Context, lead *leads.Lead, hook *WhatsAppWebhook) string {
	ctx = conversation.WithChannel(ctx, conversation.ChannelWhatsApp)

	if _, found := RedactCardNumbers(hook.Body); found {
		h.logger.Warn("card number received over whatsapp", "lead_id", lead.ID, "message_sid", hook.MessageSid)
		return CardNumberReply
	}

	var (
		turn *conversation.Turn
		err  error
	)
	switch {
	case len(hook.Media) > 0 && h.media != nil:
		img, ferr := h.media.Fetch(ctx, hook.Media[0])
		if ferr != nil {
			h.logger.Warn("whatsapp media not usable", "error", ferr, "lead_id", lead.ID)
			if hook.Body == "" {
				return MediaUnsupportedReply
			}
			turn, err = h.conversations.Append(ctx, lead.ID, hook.Body)
			break
		}
		turn, err = h.conversations.AppendImage(ctx, lead.ID, img, hook.Body)
	case hook.Body == "":
		return MediaUnsupportedReply
	default:
		turn, err = h.conversations.Append(ctx, lead.ID, hook.Body)
	}
	turn, err = h.resolvePending(ctx, lead.ID, turn, err)

	switch {
	case errors.Is(err, conversation.ErrTurnInProgress), errors.Is(err, conversation.ErrToolCallsPending):
		h.metrics.ObserveReply(true)
		return BusyReply
	case errors.Is(err, conversation.ErrImagesUnsupported):
		return MediaUnsupportedReply
	case err != nil:
		h.logger.Error("whatsapp turn failed", "error", err, "lead_id", lead.ID)
		h.metrics.ObserveReply(true)
		return conversation.ApologyReply
	case turn == nil:
		return ""
	}
	h.metrics.ObserveReply(turn.Err != nil)
	return turn.Reply
}

// resolvePending answers client-side tool calls, which WhatsApp has no client
// to run, so the model can finish its reply.
func (h *Handler) resolvePending(ctx context.Context, leadID string, turn *conversation.Turn, err error) (*conversation.Turn, error) {
	for round := 0; err == nil && turn != nil && len(turn.Pending) > 0 && round < maxPendingRounds; round++ {
		pending := append([]conversation.ToolInvocation(nil), turn.Pending...)
		for _, inv := range pending {
			turn, err = h.conversations.AddToolResult(ctx, leadID, inv.CallID, map[string]string{
				"error": fmt.Sprintf("%s no está disponible por WhatsApp", inv.ToolName),
			})
			if err != nil {
				break
			}
		}
	}
	return turn, err
}

func (h *Handler) optOut(ctx context.Context, lead *leads.Lead) {
	h.logger.Info("whatsapp opt-out", "lead_id", lead.ID)
	if h.transitions == nil || lead.Status.IsTerminal() {
		return
	}
	_, err := h.transitions.Transition(ctx, lead, leads.StatusLost, lifecycle.Details{
		LossReason:  optOutReason,
		ProcessedBy: "whatsapp",
	})
	if err != nil {
		h.logger.Warn("failed to close opted-out lead", "error", err, "lead_id", lead.ID)
	}
}

func writeTwiML(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(TwiML(message))
}

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
