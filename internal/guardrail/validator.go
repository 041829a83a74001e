// Package guardrail checks AI replies before they reach a customer. Local
// rules keep replies grounded in inventory, stop exact rate quotes and strip
// requests for sensitive identifiers. A model audit runs after them and can
// only add issues.
package guardrail

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/wolfman30/dealership-ai-platform/internal/compliance"
	"github.com/wolfman30/dealership-ai-platform/internal/llm"
	"github.com/wolfman30/dealership-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// Vehicle is an inventory entry a reply may reference.
type Vehicle struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Result is the validator's verdict. When IsValid is true SanitizedResponse
// equals the candidate.
type Result struct {
	IsValid           bool     `json:"isValid"`
	Issues            []string `json:"issues"`
	SanitizedResponse string   `json:"sanitizedResponse"`
}

const auditIssuePrefix = "auditoría: "

// Validator runs the reply checks.
type Validator struct {
	catalog  *Catalog
	auditor  Auditor
	recorder compliance.Recorder
	metrics  *metrics.GuardrailMetrics
	logger   *logging.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithAuditor enables the secondary model audit.
func WithAuditor(a Auditor) Option { return func(v *Validator) { v.auditor = a } }

// WithRecorder sends fail-open and rewrite events to the compliance trail.
func WithRecorder(r compliance.Recorder) Option { return func(v *Validator) { v.recorder = r } }

// WithMetrics sets the guardrail metrics.
func WithMetrics(m *metrics.GuardrailMetrics) Option { return func(v *Validator) { v.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithCatalog replaces the default make/model catalog.
func WithCatalog(c *Catalog) Option {
	return func(v *Validator) {
		if c != nil {
			v.catalog = c
		}
	}
}

// NewValidator builds a validator. Without an auditor only local rules run.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{catalog: DefaultCatalog(), logger: logging.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type leadKey struct{}

type leadRef struct {
	leadID  string
	channel string
}

// WithLead tags ctx so compliance events name the lead and channel.
func WithLead(ctx context.Context, leadID, channel string) context.Context {
	return context.WithValue(ctx, leadKey{}, leadRef{leadID: leadID, channel: channel})
}

func leadFrom(ctx context.Context) leadRef {
	ref, _ := ctx.Value(leadKey{}).(leadRef)
	return ref
}

// Validate never fails. A broken model audit falls back to the local verdict
// and is recorded for compliance review.
func (v *Validator) Validate(ctx context.Context, userQuery, candidate string, inventory []Vehicle) Result {
	local := runRules(v.catalog, candidate, inventory)
	for _, rule := range local.rules {
		v.metrics.ObserveIssue(rule)
	}
	res := Result{
		IsValid:           len(local.issues) == 0,
		Issues:            local.issues,
		SanitizedResponse: local.sanitized,
	}

	if v.auditor != nil {
		verdict, err := v.auditor.Audit(ctx, userQuery, res.SanitizedResponse, inventory)
		switch {
		case err != nil:
			v.failOpen(ctx, userQuery, res, err)
		case !verdict.IsValid:
			res = v.merge(res, verdict, inventory)
		}
	}

	if res.Issues == nil {
		res.Issues = []string{}
	}
	v.metrics.ObserveValidation(res.IsValid)
	v.record(ctx, userQuery, candidate, res, local.sensitive)
	return res
}

// merge folds a rejecting verdict into the local result. The model's rewrite
// is used only when it passes the local rules on its own.
func (v *Validator) merge(res Result, verdict Result, inventory []Vehicle) Result {
	v.metrics.ObserveIssue("model_audit")
	res.IsValid = false
	issues := verdict.Issues
	if len(issues) == 0 {
		issues = []string{"respuesta rechazada"}
	}
	for _, issue := range issues {
		res.Issues = appendUnique(res.Issues, auditIssuePrefix+strings.TrimSpace(issue))
	}
	rewrite := strings.TrimSpace(verdict.SanitizedResponse)
	if rewrite == "" {
		return res
	}
	if recheck := runRules(v.catalog, rewrite, inventory); len(recheck.issues) > 0 {
		v.logger.Warn("guardrail: audit rewrite failed local rules", "issues", recheck.issues)
		return res
	}
	res.SanitizedResponse = rewrite
	return res
}

func (v *Validator) failOpen(ctx context.Context, userQuery string, res Result, err error) {
	reason := "audit_error"
	switch {
	case errors.Is(err, llm.ErrModelUnavailable):
		reason = "model_unavailable"
	case errors.Is(err, llm.ErrMalformedModelOutput):
		reason = "malformed_output"
	}
	ref := leadFrom(ctx)
	v.metrics.ObserveFailOpen(reason)
	v.logger.Warn("guardrail: model audit failed open", "lead_id", ref.leadID, "reason", reason, "error", err)
	v.log(ctx, compliance.EventGuardrailFailOpen, userQuery, res.SanitizedResponse, compliance.AuditDetails{
		Issues:         res.Issues,
		FailOpenReason: reason + ": " + err.Error(),
	})
}

func (v *Validator) record(ctx context.Context, userQuery, candidate string, res Result, sensitive []string) {
	if len(sensitive) > 0 {
		v.log(ctx, compliance.EventSensitiveRequest, userQuery, res.SanitizedResponse, compliance.AuditDetails{
			Issues:           res.Issues,
			OriginalResponse: candidate,
			Reasons:          sensitive,
		})
	}
	if res.SanitizedResponse != candidate {
		v.log(ctx, compliance.EventResponseModified, userQuery, res.SanitizedResponse, compliance.AuditDetails{
			Issues:           res.Issues,
			OriginalResponse: candidate,
		})
	}
}

func (v *Validator) log(ctx context.Context, eventType compliance.AuditEventType, userQuery, response string, details compliance.AuditDetails) {
	if v.recorder == nil {
		return
	}
	raw, err := json.Marshal(details)
	if err != nil {
		raw = nil
	}
	ref := leadFrom(ctx)
	event := compliance.AuditEvent{
		EventType:   eventType,
		Channel:     ref.channel,
		LeadID:      ref.leadID,
		UserMessage: userQuery,
		AIResponse:  response,
		Details:     raw,
	}
	if err := v.recorder.LogEvent(context.WithoutCancel(ctx), event); err != nil {
		v.logger.Error("guardrail: failed to record compliance event", "event_type", eventType, "error", err)
	}
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
