package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wolfman30/dealership-ai-platform/internal/conversation"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/lifecycle"
	"github.com/wolfman30/dealership-ai-platform/internal/llm"
)

// fakeService replays turns in order; the last one repeats.
type fakeService struct {
	mu    sync.Mutex
	calls []string
	turns []*conversation.Turn
	err   error
}

func replyTurn(text string) *conversation.Turn {
	return &conversation.Turn{State: conversation.StateIdle, Reply: text}
}

func (f *fakeService) next(call string) (*conversation.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.turns) == 0 {
		return replyTurn(""), nil
	}
	t := f.turns[0]
	if len(f.turns) > 1 {
		f.turns = f.turns[1:]
	}
	return t, nil
}

func (f *fakeService) Append(_ context.Context, _ string, text string) (*conversation.Turn, error) {
	return f.next("append:" + text)
}

func (f *fakeService) AppendImage(_ context.Context, _ string, img llm.Image, caption string) (*conversation.Turn, error) {
	return f.next(fmt.Sprintf("image:%s:%s", img.MIMEType, caption))
}

func (f *fakeService) AddToolResult(_ context.Context, _ string, callID string, _ any) (*conversation.Turn, error) {
	return f.next("tool:" + callID)
}

func (f *fakeService) Transcript(_ context.Context, leadID string) (conversation.Transcript, error) {
	return conversation.Transcript{LeadID: leadID}, nil
}

func (f *fakeService) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeDeduper struct {
	seen map[string]bool
	err  error
}

func (d *fakeDeduper) MarkProcessed(_ context.Context, provider, id string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	key := provider + ":" + id
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

type fakeFetcher struct {
	img llm.Image
	err error
}

func (f *fakeFetcher) Fetch(context.Context, Media) (llm.Image, error) {
	return f.img, f.err
}

type fakeTransitioner struct {
	target  leads.Status
	details lifecycle.Details
	calls   int
}

func (t *fakeTransitioner) Transition(_ context.Context, lead *leads.Lead, target leads.Status, details lifecycle.Details) (*lifecycle.Result, error) {
	t.calls++
	t.target = target
	t.details = details
	return &lifecycle.Result{Lead: lead}, nil
}

type sentMessage struct {
	to   string
	body string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *fakeSender) Send(_ context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{to: to, body: body})
	return s.err
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

var errBoom = errors.New("boom")
