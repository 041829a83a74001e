package conversation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role names the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation. It is one of UserMessage,
// AssistantMessage or SystemMessage.
type Message interface {
	Role() Role
	Text() string
	Time() time.Time
	message()
}

// Attachment describes media the customer sent with a message.
type Attachment struct {
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// UserMessage is text (and optionally media) from the customer.
type UserMessage struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// AssistantMessage is a reply from the assistant, possibly carrying tool
// invocations in the order the model issued them.
type AssistantMessage struct {
	ID              string           `json:"id"`
	Content         string           `json:"content"`
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty"`
	// Error records a model failure during this turn.
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SystemMessage is context added by the platform rather than either party.
type SystemMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (m UserMessage) Role() Role      { return RoleUser }
func (m UserMessage) Text() string    { return m.Content }
func (m UserMessage) Time() time.Time { return m.CreatedAt }
func (UserMessage) message()          {}

func (m AssistantMessage) Role() Role      { return RoleAssistant }
func (m AssistantMessage) Text() string    { return m.Content }
func (m AssistantMessage) Time() time.Time { return m.CreatedAt }
func (AssistantMessage) message()          {}

func (m SystemMessage) Role() Role      { return RoleSystem }
func (m SystemMessage) Text() string    { return m.Content }
func (m SystemMessage) Time() time.Time { return m.CreatedAt }
func (SystemMessage) message()          {}

// ToolState is the progress of one tool invocation.
type ToolState string

const (
	ToolStateCall   ToolState = "call"
	ToolStateResult ToolState = "result"
)

// ToolInvocation is a tool call issued by the model and, once resolved, its
// result. CallID is unique within a conversation.
type ToolInvocation struct {
	ToolName string          `json:"tool_name"`
	CallID   string          `json:"call_id"`
	Args     json.RawMessage `json:"args,omitempty"`
	State    ToolState       `json:"state"`
	Result   json.RawMessage `json:"result,omitempty"`
}

type envelope struct {
	Role    Role            `json:"role"`
	Message json.RawMessage `json:"message"`
}

// MarshalMessages encodes a transcript with a role tag per entry.
func MarshalMessages(msgs []Message) ([]byte, error) {
	out := make([]envelope, 0, len(msgs))
	for _, m := range msgs {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("conversation: failed to encode message: %w", err)
		}
		out = append(out, envelope{Role: m.Role(), Message: raw})
	}
	return json.Marshal(out)
}

// UnmarshalMessages decodes a transcript written by MarshalMessages.
func UnmarshalMessages(data []byte) ([]Message, error) {
	var in []envelope
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("conversation: failed to decode transcript: %w", err)
	}
	msgs := make([]Message, 0, len(in))
	for _, e := range in {
		var (
			m   Message
			err error
		)
		switch e.Role {
		case RoleUser:
			var u UserMessage
			err = json.Unmarshal(e.Message, &u)
			m = u
		case RoleAssistant:
			var a AssistantMessage
			err = json.Unmarshal(e.Message, &a)
			m = a
		case RoleSystem:
			var s SystemMessage
			err = json.Unmarshal(e.Message, &s)
			m = s
		default:
			return nil, fmt.Errorf("conversation: unknown message role %q", e.Role)
		}
		if err != nil {
			return nil, fmt.Errorf("conversation: failed to decode %s message: %w", e.Role, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
