package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrTurnInProgress is returned when a message arrives while the model is
	// still answering the previous one.
	ErrTurnInProgress = errors.New("conversation: a turn is already in progress")
	// ErrToolCallsPending is returned when a message arrives before every tool
	// call of the previous turn has a result.
	ErrToolCallsPending = errors.New("conversation: tool calls are pending")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("conversation: message is empty")
	// ErrImagesUnsupported is returned when the model client cannot read images.
	ErrImagesUnsupported = errors.New("conversation: model cannot read images")

	errSessionEvicted = errors.New("conversation: session was evicted")
)

// State is where a session is in its turn cycle.
type State string

const (
	StateIdle            State = "idle"
	StateAwaitingModel   State = "awaiting_model_response"
	StateToolCallPending State = "tool_call_pending"
)

// Transcript is the stored form of a session.
type Transcript struct {
	LeadID    string
	State     State
	Messages  []Message
	LastError string
	UpdatedAt time.Time
}

type transcriptJSON struct {
	LeadID    string          `json:"lead_id"`
	State     State           `json:"state"`
	Messages  json.RawMessage `json:"messages"`
	LastError string          `json:"last_error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MarshalJSON encodes messages with their role tags.
func (t Transcript) MarshalJSON() ([]byte, error) {
	msgs, err := MarshalMessages(t.Messages)
	if err != nil {
		return nil, err
	}
	return json.Marshal(transcriptJSON{
		LeadID:    t.LeadID,
		State:     t.State,
		Messages:  msgs,
		LastError: t.LastError,
		UpdatedAt: t.UpdatedAt,
	})
}

// UnmarshalJSON decodes a transcript written by MarshalJSON.
func (t *Transcript) UnmarshalJSON(data []byte) error {
	var raw transcriptJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("conversation: failed to decode transcript: %w", err)
	}
	var msgs []Message
	if len(raw.Messages) > 0 && string(raw.Messages) != "null" {
		decoded, err := UnmarshalMessages(raw.Messages)
		if err != nil {
			return err
		}
		msgs = decoded
	}
	*t = Transcript{
		LeadID:    raw.LeadID,
		State:     raw.State,
		Messages:  msgs,
		LastError: raw.LastError,
		UpdatedAt: raw.UpdatedAt,
	}
	return nil
}

// Session is the live conversation with one lead. All methods are safe for
// concurrent use; at most one model call runs per session.
type Session struct {
	mu        sync.Mutex
	leadID    string
	state     State
	messages  []Message
	lastError string
	lastQuery string
	updatedAt time.Time
	evicted   bool
}

func newSession(t Transcript) *Session {
	s := &Session{
		leadID:    t.LeadID,
		state:     t.State,
		messages:  append([]Message(nil), t.Messages...),
		lastError: t.LastError,
		updatedAt: t.UpdatedAt,
	}
	// A turn cut short by a restart can never complete.
	if s.state == StateAwaitingModel || s.state == "" {
		s.state = StateIdle
	}
	if s.state == StateToolCallPending && len(s.pendingLocked()) == 0 {
		s.state = StateIdle
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if u, ok := s.messages[i].(UserMessage); ok {
			s.lastQuery = u.Content
			break
		}
	}
	return s
}

// LeadID returns the lead this session belongs to.
func (s *Session) LeadID() string { return s.leadID }

// State returns the current turn state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Pending returns the tool invocations still waiting for a result.
func (s *Session) Pending() []ToolInvocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

func (s *Session) pendingLocked() []ToolInvocation {
	var out []ToolInvocation
	for _, m := range s.messages {
		a, ok := m.(AssistantMessage)
		if !ok {
			continue
		}
		for _, inv := range a.ToolInvocations {
			if inv.State == ToolStateCall {
				out = append(out, inv)
			}
		}
	}
	return out
}

// begin claims the session for a new turn started by msg.
func (s *Session) begin(msg UserMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return errSessionEvicted
	}
	switch s.state {
	case StateAwaitingModel:
		return ErrTurnInProgress
	case StateToolCallPending:
		return ErrToolCallsPending
	}
	s.state = StateAwaitingModel
	s.lastError = ""
	s.lastQuery = msg.Content
	s.messages = append(s.messages, msg)
	s.updatedAt = msg.CreatedAt
	return nil
}

func (s *Session) append(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.messages = append(s.messages, m)
		s.updatedAt = m.Time()
	}
}

func (s *Session) finish(state State, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.lastError = errMsg
}

func (s *Session) query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery
}

func (s *Session) hasAssistantReply() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if a, ok := m.(AssistantMessage); ok && a.Content != "" {
			return true
		}
	}
	return false
}

// resolve stores a tool result. Unknown call ids are ignored and a repeated
// id overwrites the earlier result. resume is true when this result cleared
// the last pending call of a waiting turn; the caller then owns the turn.
func (s *Session) resolve(callID string, result json.RawMessage) (found, resume bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0 && !found; i-- {
		a, ok := s.messages[i].(AssistantMessage)
		if !ok {
			continue
		}
		for j, inv := range a.ToolInvocations {
			if inv.CallID != callID {
				continue
			}
			invocations := append([]ToolInvocation(nil), a.ToolInvocations...)
			invocations[j].State = ToolStateResult
			invocations[j].Result = result
			a.ToolInvocations = invocations
			s.messages[i] = a
			found = true
			break
		}
	}
	if !found {
		return false, false
	}
	if s.state == StateToolCallPending && len(s.pendingLocked()) == 0 {
		s.state = StateAwaitingModel
		return true, true
	}
	return true, false
}

func (s *Session) snapshot() Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Transcript{
		LeadID:    s.leadID,
		State:     s.state,
		Messages:  append([]Message(nil), s.messages...),
		LastError: s.lastError,
		UpdatedAt: s.updatedAt,
	}
}

// evictIfIdle retires an idle session last touched before cutoff. A retired
// session refuses new turns; callers reload it from history.
func (s *Session) evictIfIdle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle || !s.updatedAt.Before(cutoff) {
		return false
	}
	s.evicted = true
	return true
}

// park moves a turn with unresolved tool calls to StateToolCallPending. It
// returns false when every call already has a result.
func (s *Session) park() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingLocked()) == 0 {
		return false
	}
	s.state = StateToolCallPending
	return true
}
