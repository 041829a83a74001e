// Package conversation runs the per-lead chat loop: customer input goes to
// the model, the model's draft goes through the guardrail, and tool calls
// are executed on the server or handed to the client.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dealership-ai-platform/internal/compliance"
	"github.com/wolfman30/dealership-ai-platform/internal/guardrail"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/lifecycle"
	"github.com/wolfman30/dealership-ai-platform/internal/llm"
	"github.com/wolfman30/dealership-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

const (
	defaultMaxToolRounds  = 4
	defaultSessionIdleTTL = 30 * time.Minute
)

// InventorySource lists the vehicles replies may mention.
type InventorySource interface {
	Vehicles(ctx context.Context) ([]guardrail.Vehicle, error)
}

// ReplyValidator checks a draft reply before it is sent.
type ReplyValidator interface {
	Validate(ctx context.Context, userQuery, candidate string, inventory []guardrail.Vehicle) guardrail.Result
}

// LeadReader loads lead context for the prompt.
type LeadReader interface {
	GetByID(ctx context.Context, id string) (*leads.Lead, error)
}

// Channel names the transport a conversation runs on.
type Channel string

const (
	ChannelAPI      Channel = "api"
	ChannelWebChat  Channel = "webchat"
	ChannelWhatsApp Channel = "whatsapp"
)

type channelKey struct{}

// WithChannel tags ctx with the transport a message arrived on.
func WithChannel(ctx context.Context, ch Channel) context.Context {
	return context.WithValue(ctx, channelKey{}, ch)
}

func channelFrom(ctx context.Context) Channel {
	if ch, ok := ctx.Value(channelKey{}).(Channel); ok && ch != "" {
		return ch
	}
	return ChannelAPI
}

// Turn is the outcome of one call into the orchestrator.
type Turn struct {
	LeadID    string           `json:"lead_id"`
	State     State            `json:"state"`
	MessageID string           `json:"message_id,omitempty"`
	Reply     string           `json:"reply,omitempty"`
	Pending   []ToolInvocation `json:"pending_tool_calls,omitempty"`
	Appraisal *Appraisal       `json:"appraisal,omitempty"`
	Error     string           `json:"error,omitempty"`
	// Err is the model failure behind an apology reply.
	Err error `json:"-"`
}

// Orchestrator owns the live sessions.
type Orchestrator struct {
	model      llm.Client
	modelName  string
	validator  ReplyValidator
	inventory  InventorySource
	tools      *ToolRegistry
	history    HistoryStore
	leads      LeadReader
	machine    *lifecycle.Machine
	disclaimer *compliance.DisclaimerService
	recorder   compliance.Recorder
	metrics    *metrics.ConversationMetrics
	logger     *logging.Logger
	tracer     trace.Tracer
	now        func() time.Time
	streaming  bool
	maxRounds  int
	idleTTL    time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithModelName(name string) Option { return func(o *Orchestrator) { o.modelName = name } }

func WithValidator(v ReplyValidator) Option {
	return func(o *Orchestrator) {
		if v != nil {
			o.validator = v
		}
	}
}

func WithInventory(inv InventorySource) Option { return func(o *Orchestrator) { o.inventory = inv } }

func WithTools(r *ToolRegistry) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.tools = r
		}
	}
}

func WithHistory(h HistoryStore) Option {
	return func(o *Orchestrator) {
		if h != nil {
			o.history = h
		}
	}
}

// WithLeads adds lead context to prompts.
func WithLeads(r LeadReader) Option { return func(o *Orchestrator) { o.leads = r } }

// WithLifecycle marks new leads as contacted after their first reply.
// It needs WithLeads.
func WithLifecycle(m *lifecycle.Machine) Option { return func(o *Orchestrator) { o.machine = m } }

func WithDisclaimer(d *compliance.DisclaimerService) Option {
	return func(o *Orchestrator) { o.disclaimer = d }
}

func WithRecorder(r compliance.Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

func WithMetrics(m *metrics.ConversationMetrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStreaming reads model output as a stream when the client supports it,
// so text produced before a failure is kept.
func WithStreaming() Option { return func(o *Orchestrator) { o.streaming = true } }

// WithMaxToolRounds bounds model calls per turn.
func WithMaxToolRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithSessionIdleTTL sets how long an idle session stays in memory before
// Evict drops it.
func WithSessionIdleTTL(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.idleTTL = d
		}
	}
}

// NewOrchestrator creates an orchestrator around a model client.
func NewOrchestrator(model llm.Client, opts ...Option) *Orchestrator {
	if model == nil {
		panic("conversation: model client cannot be nil")
	}
	o := &Orchestrator{
		model:     model,
		modelName: "default",
		validator: guardrail.NewValidator(),
		tools:     NewToolRegistry(),
		history:   NewMemoryHistoryStore(),
		logger:    logging.Default(),
		tracer:    otel.Tracer("dealership.internal.conversation"),
		now:       func() time.Time { return time.Now().UTC() },
		maxRounds: defaultMaxToolRounds,
		idleTTL:   defaultSessionIdleTTL,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Session returns the live session for a lead, loading its history on first
// use.
func (o *Orchestrator) Session(ctx context.Context, leadID string) (*Session, error) {
	if strings.TrimSpace(leadID) == "" {
		return nil, errors.New("conversation: lead id is required")
	}
	o.mu.Lock()
	if s, ok := o.sessions[leadID]; ok {
		o.mu.Unlock()
		return s, nil
	}
	o.mu.Unlock()

	t, err := o.history.Load(ctx, leadID)
	switch {
	case errors.Is(err, ErrHistoryNotFound):
		t = Transcript{LeadID: leadID, State: StateIdle}
	case err != nil:
		return nil, err
	}
	t.LeadID = leadID

	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[leadID]; ok {
		return s, nil
	}
	s := newSession(t)
	o.sessions[leadID] = s
	return s, nil
}

// Transcript returns the current transcript of a lead's conversation.
func (o *Orchestrator) Transcript(ctx context.Context, leadID string) (Transcript, error) {
	s, err := o.Session(ctx, leadID)
	if err != nil {
		return Transcript{}, err
	}
	return s.snapshot(), nil
}

// Evict drops idle sessions untouched for longer than the idle TTL. Their
// history stays in the HistoryStore and is reloaded on the next message.
func (o *Orchestrator) Evict() int {
	cutoff := o.now().Add(-o.idleTTL)
	o.mu.Lock()
	defer o.mu.Unlock()
	evicted := 0
	for id, s := range o.sessions {
		if s.evictIfIdle(cutoff) {
			delete(o.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		o.logger.Debug("conversation: evicted idle sessions", "count", evicted)
	}
	return evicted
}

// Run evicts idle sessions every interval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Evict()
		}
	}
}

// start claims the lead's session for msg, reloading it when an eviction
// raced the lookup.
func (o *Orchestrator) start(ctx context.Context, leadID string, msg UserMessage) (*Session, error) {
	for {
		s, err := o.Session(ctx, leadID)
		if err != nil {
			return nil, err
		}
		if err := s.begin(msg); !errors.Is(err, errSessionEvicted) {
			return s, err
		}
	}
}

// Append adds a customer message and runs the turn. It fails with
// ErrTurnInProgress or ErrToolCallsPending when the session is busy. Model
// failures do not return an error: the turn ends with an apology and Turn.Err
// set.
func (o *Orchestrator) Append(ctx context.Context, leadID, text string) (*Turn, error) {
	ctx, span := o.tracer.Start(ctx, "conversation.append", trace.WithAttributes(attribute.String("lead_id", leadID)))
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	screen := guardrail.ScreenMessage(text)
	content := screen.Sanitized
	if screen.Blocked || content == "" {
		content = text
	}
	s, err := o.start(ctx, leadID, UserMessage{ID: uuid.NewString(), Content: content, CreatedAt: o.now()})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if screen.Blocked {
		o.logger.Warn("conversation: blocked prompt injection attempt", "lead_id", leadID, "score", screen.Score, "reasons", screen.Reasons)
		o.logEvent(ctx, leadID, compliance.EventPromptInjection, text, guardrail.BlockedReply, compliance.AuditDetails{Reasons: screen.Reasons})
		reply := o.assistant(guardrail.BlockedReply, nil)
		s.append(reply)
		s.finish(StateIdle, "")
		o.persist(ctx, s)
		o.metrics.ObserveTurn("blocked")
		return o.turn(s, &reply, nil), nil
	}

	turn := o.run(ctx, s)
	if turn.Err != nil {
		span.RecordError(turn.Err)
		span.SetStatus(codes.Error, "model call failed")
	}
	return turn, nil
}

// AddToolResult records the result of a tool call. Unknown call ids are a
// no-op and repeating an id overwrites the earlier result. When the last
// pending call is resolved the turn continues.
func (o *Orchestrator) AddToolResult(ctx context.Context, leadID, callID string, result any) (*Turn, error) {
	ctx, span := o.tracer.Start(ctx, "conversation.add_tool_result", trace.WithAttributes(
		attribute.String("lead_id", leadID),
		attribute.String("call_id", callID),
	))
	defer span.End()

	s, err := o.Session(ctx, leadID)
	if err != nil {
		return nil, err
	}
	found, resume := s.resolve(callID, encodeResult(result))
	if !found {
		o.logger.Debug("conversation: ignoring result for unknown tool call", "lead_id", leadID, "call_id", callID)
		return o.turn(s, nil, nil), nil
	}
	if !resume {
		o.persist(ctx, s)
		return o.turn(s, nil, nil), nil
	}
	return o.run(ctx, s), nil
}

var appraisalCatalog = sync.OnceValue(guardrail.DefaultCatalog)

// AppendImage appraises a trade-in photo. A model answer that is not the
// expected JSON is passed through as text.
func (o *Orchestrator) AppendImage(ctx context.Context, leadID string, img llm.Image, caption string) (*Turn, error) {
	ctx, span := o.tracer.Start(ctx, "conversation.append_image", trace.WithAttributes(attribute.String("lead_id", leadID)))
	defer span.End()

	analyzer, ok := o.model.(llm.ImageAnalyzer)
	if !ok {
		return nil, ErrImagesUnsupported
	}
	if len(img.Data) == 0 {
		return nil, ErrEmptyMessage
	}
	caption = strings.TrimSpace(caption)
	if caption == "" {
		caption = "[foto de vehículo a cuenta]"
	}
	msg := UserMessage{
		ID:          uuid.NewString(),
		Content:     caption,
		Attachments: []Attachment{{MIMEType: img.MIMEType, Size: len(img.Data)}},
		CreatedAt:   o.now(),
	}
	s, err := o.start(ctx, leadID, msg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	text, err := analyzer.AnalyzeImage(ctx, img, appraisalPrompt)
	o.metrics.ObserveModelLatency(o.modelName, time.Since(start).Seconds())
	inventory := o.vehicles(ctx)
	if err != nil {
		span.RecordError(err)
		return o.fail(ctx, s, "", err, inventory), nil
	}

	appraisal := parseAppraisal(text)
	reply := appraisal.reply()
	known := append([]guardrail.Vehicle(nil), inventory...)
	if v := appraisal.Vehicle(); v != "" {
		known = append(known, guardrail.Vehicle{Name: v})
	}
	for _, m := range appraisalCatalog().Find(reply) {
		known = append(known, guardrail.Vehicle{Name: m.Text})
	}

	answer := o.assistant(o.finalize(ctx, s, reply, known), nil)
	s.append(SystemMessage{ID: uuid.NewString(), Content: appraisal.summary(), CreatedAt: o.now()}, answer)
	s.finish(StateIdle, "")
	o.persist(ctx, s)
	o.metrics.ObserveTurn("appraisal")

	turn := o.turn(s, &answer, nil)
	turn.Appraisal = &appraisal
	return turn, nil
}

// run calls the model until it answers without tool calls, a client-side
// tool is pending or the round limit is hit. The session must be in
// StateAwaitingModel and owned by the caller.
func (o *Orchestrator) run(ctx context.Context, s *Session) *Turn {
	for round := 0; round < o.maxRounds; round++ {
		lead := o.lead(ctx, s.LeadID())
		inventory := o.vehicles(ctx)

		resp, err := o.callModel(ctx, o.request(s, lead, inventory))
		if err != nil {
			return o.fail(ctx, s, resp.Text, err, inventory)
		}

		if len(resp.ToolCalls) == 0 {
			reply := o.assistant(o.finalize(ctx, s, resp.Text, inventory), nil)
			s.append(reply)
			s.finish(StateIdle, "")
			o.persist(ctx, s)
			o.metrics.ObserveTurn("reply")
			o.markContacted(ctx, lead)
			return o.turn(s, &reply, nil)
		}

		invocations := make([]ToolInvocation, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			id := call.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			args := call.Args
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			invocations = append(invocations, ToolInvocation{ToolName: call.Name, CallID: id, Args: args, State: ToolStateCall})
		}
		content := ""
		if strings.TrimSpace(resp.Text) != "" {
			content = o.finalize(ctx, s, resp.Text, inventory)
		}
		msg := o.assistant(content, invocations)
		s.append(msg)
		o.runServerTools(ctx, s, invocations)

		if s.park() {
			o.persist(ctx, s)
			o.metrics.ObserveTurn("tool_pending")
			return o.turn(s, &msg, nil)
		}
	}

	o.logger.Warn("conversation: tool round limit reached", "lead_id", s.LeadID(), "rounds", o.maxRounds)
	reply := o.assistant(ApologyReply, nil)
	s.append(reply)
	s.finish(StateIdle, "tool round limit reached")
	o.persist(ctx, s)
	o.metrics.ObserveTurn("tool_limit")
	return o.turn(s, &reply, nil)
}

func (o *Orchestrator) runServerTools(ctx context.Context, s *Session, invocations []ToolInvocation) {
	for _, inv := range invocations {
		tool, ok := o.tools.Lookup(inv.ToolName)
		if !ok || !tool.ServerSide() {
			o.metrics.ObserveToolCall(inv.ToolName, "client")
			continue
		}
		o.metrics.ObserveToolCall(inv.ToolName, "server")
		result := o.execute(ctx, tool, ToolCall{LeadID: s.LeadID(), CallID: inv.CallID, Args: inv.Args})
		s.resolve(inv.CallID, result)
	}
}

func (o *Orchestrator) execute(ctx context.Context, tool Tool, call ToolCall) (result json.RawMessage) {
	ctx, span := o.tracer.Start(ctx, "conversation.tool", trace.WithAttributes(attribute.String("tool", tool.Name)))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("conversation: tool panicked", "tool", tool.Name, "lead_id", call.LeadID, "panic", r)
			result = encodeResult(toolError{Error: "la herramienta falló"})
		}
	}()
	out, err := tool.Execute(ctx, call)
	if err != nil {
		span.RecordError(err)
		o.logger.Warn("conversation: tool failed", "tool", tool.Name, "lead_id", call.LeadID, "error", err)
		return encodeResult(toolError{Error: err.Error()})
	}
	return encodeResult(out)
}

// fail ends the turn after a model error. Text produced before the failure
// is kept; otherwise the customer gets the apology.
func (o *Orchestrator) fail(ctx context.Context, s *Session, partial string, err error, inventory []guardrail.Vehicle) *Turn {
	o.logger.Warn("conversation: model call failed", "lead_id", s.LeadID(), "partial", partial != "", "error", err)
	content := ApologyReply
	if strings.TrimSpace(partial) != "" {
		content = o.finalize(ctx, s, partial, inventory)
	}
	msg := o.assistant(content, nil)
	msg.Error = err.Error()
	s.append(msg)
	s.finish(StateIdle, err.Error())
	o.persist(ctx, s)
	o.metrics.ObserveTurn("model_error")
	return o.turn(s, &msg, err)
}

// finalize runs a draft through the guardrail, the leak scan and the
// disclaimer.
func (o *Orchestrator) finalize(ctx context.Context, s *Session, draft string, inventory []guardrail.Vehicle) string {
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return SafeReply
	}
	leadID := s.LeadID()
	ch := channelFrom(ctx)
	res := o.validator.Validate(guardrail.WithLead(ctx, leadID, string(ch)), s.query(), draft, inventory)
	reply := res.SanitizedResponse

	if leak := guardrail.ScanLeaks(reply); leak.Leaked {
		o.logger.Warn("conversation: reply leaked internals", "lead_id", leadID, "reasons", leak.Reasons)
		o.logEvent(ctx, leadID, compliance.EventOutputLeak, s.query(), reply, compliance.AuditDetails{Reasons: leak.Reasons})
		reply = leak.Sanitized
		if strings.TrimSpace(reply) == "" {
			reply = SafeReply
		}
	}

	if o.disclaimer != nil {
		reply = o.disclaimer.AddDisclaimer(ctx, reply, compliance.DisclaimerOptions{
			Channel:        string(ch),
			LeadID:         leadID,
			IsFirstMessage: !s.hasAssistantReply(),
		})
	}
	return reply
}

func (o *Orchestrator) request(s *Session, lead *leads.Lead, inventory []guardrail.Vehicle) llm.Request {
	system, msgs := modelMessages(s.Messages())
	return llm.Request{
		System:      append([]string{systemPrompt(lead, inventory)}, system...),
		Messages:    msgs,
		Tools:       o.tools.Declarations(),
		MaxTokens:   800,
		Temperature: 0.4,
	}
}

func (o *Orchestrator) callModel(ctx context.Context, req llm.Request) (llm.Response, error) {
	ctx, span := o.tracer.Start(ctx, "conversation.model")
	defer span.End()
	start := time.Now()
	defer func() { o.metrics.ObserveModelLatency(o.modelName, time.Since(start).Seconds()) }()

	if o.streaming {
		if sc, ok := o.model.(llm.StreamingClient); ok {
			chunks, err := sc.CompleteStream(ctx, req)
			if err != nil {
				span.RecordError(err)
				return llm.Response{}, err
			}
			resp, err := llm.Drain(chunks, nil)
			if err != nil {
				span.RecordError(err)
			}
			return resp, err
		}
	}
	resp, err := o.model.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		return llm.Response{}, err
	}
	return resp, nil
}

func (o *Orchestrator) lead(ctx context.Context, leadID string) *leads.Lead {
	if o.leads == nil {
		return nil
	}
	lead, err := o.leads.GetByID(ctx, leadID)
	if err != nil {
		o.logger.Debug("conversation: lead context unavailable", "lead_id", leadID, "error", err)
		return nil
	}
	return lead
}

func (o *Orchestrator) vehicles(ctx context.Context) []guardrail.Vehicle {
	if o.inventory == nil {
		return nil
	}
	vehicles, err := o.inventory.Vehicles(ctx)
	if err != nil {
		o.logger.Warn("conversation: inventory unavailable", "error", err)
		return nil
	}
	return vehicles
}

func (o *Orchestrator) markContacted(ctx context.Context, lead *leads.Lead) {
	if o.machine == nil || lead == nil || lead.Status != leads.StatusNew {
		return
	}
	_, err := o.machine.Transition(ctx, lead, leads.StatusContacted, lifecycle.Details{Score: lead.AIScore, ProcessedBy: "assistant"})
	if err != nil && !errors.Is(err, lifecycle.ErrInvalidTransition) {
		o.logger.Warn("conversation: failed to mark lead contacted", "lead_id", lead.ID, "error", err)
	}
}

func (o *Orchestrator) persist(ctx context.Context, s *Session) {
	if err := o.history.Save(context.WithoutCancel(ctx), s.snapshot()); err != nil {
		o.logger.Error("conversation: failed to save history", "lead_id", s.LeadID(), "error", err)
	}
}

func (o *Orchestrator) assistant(content string, invocations []ToolInvocation) AssistantMessage {
	return AssistantMessage{ID: uuid.NewString(), Content: content, ToolInvocations: invocations, CreatedAt: o.now()}
}

func (o *Orchestrator) turn(s *Session, reply *AssistantMessage, err error) *Turn {
	t := &Turn{LeadID: s.LeadID(), State: s.State(), Pending: s.Pending(), Err: err}
	if reply != nil {
		t.MessageID = reply.ID
		t.Reply = reply.Content
	}
	if err != nil {
		t.Error = "model_error"
	}
	return t
}

func (o *Orchestrator) logEvent(ctx context.Context, leadID string, eventType compliance.AuditEventType, userMessage, response string, details compliance.AuditDetails) {
	if o.recorder == nil {
		return
	}
	raw, err := json.Marshal(details)
	if err != nil {
		raw = nil
	}
	event := compliance.AuditEvent{
		EventType:   eventType,
		Channel:     string(channelFrom(ctx)),
		LeadID:      leadID,
		UserMessage: userMessage,
		AIResponse:  response,
		Details:     raw,
	}
	if err := o.recorder.LogEvent(context.WithoutCancel(ctx), event); err != nil {
		o.logger.Error("conversation: failed to record compliance event", "event_type", eventType, "error", err)
	}
}
