package conversation

import (
	"context"
	"errors"
	"sync"

	"github.com/wolfman30/dealership-ai-platform/internal/compliance"
	"github.com/wolfman30/dealership-ai-platform/internal/guardrail"
	"github.com/wolfman30/dealership-ai-platform/internal/llm"
)

type scripted struct {
	resp llm.Response
	err  error
}

// scriptedModel answers Complete calls from a queue. An empty queue repeats
// the last entry.
type scriptedModel struct {
	mu       sync.Mutex
	script   []scripted
	requests []llm.Request
	release  chan struct{}
	started  chan struct{}
}

func newScriptedModel(entries ...scripted) *scriptedModel {
	return &scriptedModel{script: entries}
}

func reply(text string) scripted { return scripted{resp: llm.Response{Text: text}} }

func toolCalls(calls ...llm.ToolCall) scripted {
	return scripted{resp: llm.Response{ToolCalls: calls}}
}

func (m *scriptedModel) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var next scripted
	switch len(m.script) {
	case 0:
		next = scripted{err: errors.New("no scripted response")}
	case 1:
		next = m.script[0]
	default:
		next = m.script[0]
		m.script = m.script[1:]
	}
	release, started := m.release, m.started
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return next.resp, next.err
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *scriptedModel) lastRequest() llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

// visionModel also reads images.
type visionModel struct {
	*scriptedModel
	text string
	err  error
}

func (m visionModel) AnalyzeImage(ctx context.Context, img llm.Image, prompt string) (string, error) {
	return m.text, m.err
}

// streamingModel streams fixed chunks.
type streamingModel struct {
	chunks []llm.StreamChunk
}

func (m streamingModel) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, errors.New("streaming only")
}

func (m streamingModel) CompleteStream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, len(m.chunks))
	for _, c := range m.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type staticInventory []guardrail.Vehicle

func (s staticInventory) Vehicles(ctx context.Context) ([]guardrail.Vehicle, error) {
	return s, nil
}

var lot = staticInventory{
	{Name: "Toyota Corolla 2022", Price: 385000},
	{Name: "Nissan Kicks 2023", Price: 410000},
}

type recordingRecorder struct {
	mu     sync.Mutex
	events []compliance.AuditEvent
}

func (r *recordingRecorder) LogEvent(ctx context.Context, e compliance.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingRecorder) count(t compliance.AuditEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType == t {
			n++
		}
	}
	return n
}
