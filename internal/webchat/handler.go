// Package webchat serves the sales copilot chat over a websocket. Each
// connection is bound to one lead's conversation.
package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/dealership-ai-platform/internal/conversation"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// Inbound message types.
const (
	TypeMessage    = "message"
	TypeToolResult = "tool_result"
	TypePing       = "ping"
)

// InboundMessage is what the widget sends.
type InboundMessage struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	CallID string          `json:"call_id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// OutboundMessage is what we send to the widget. Type is one of session,
// history, typing, turn, status, error or pong.
type OutboundMessage struct {
	Type      string             `json:"type"`
	LeadID    string             `json:"lead_id,omitempty"`
	Text      string             `json:"text,omitempty"`
	Code      string             `json:"code,omitempty"`
	Status    string             `json:"status,omitempty"`
	Turn      *conversation.Turn `json:"turn,omitempty"`
	Messages  []HistoryMessage   `json:"messages,omitempty"`
	Timestamp string             `json:"timestamp,omitempty"`
}

// HistoryMessage is a simplified transcript entry.
type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Handler manages web chat connections.
type Handler struct {
	service conversation.Service
	logger  *logging.Logger

	mu       sync.RWMutex
	sessions map[string]map[*wsConn]struct{} // leadID -> open connections
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.JSON.Send(c.conn, msg)
}

// NewHandler creates a web chat handler.
func NewHandler(service conversation.Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("webchat: conversation service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service:  service,
		logger:   logger,
		sessions: make(map[string]map[*wsConn]struct{}),
	}
}

// HandleWebSocket upgrades GET /conversations/{leadID}/ws.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	if leadID == "" {
		http.Error(w, "lead id required", http.StatusBadRequest)
		return
	}
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(r.Context(), conn, leadID)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(ctx context.Context, conn *websocket.Conn, leadID string) {
	wsc := &wsConn{conn: conn}
	h.register(leadID, wsc)
	defer h.unregister(leadID, wsc)

	_ = wsc.send(OutboundMessage{Type: "session", LeadID: leadID})
	h.sendHistory(ctx, wsc, leadID)
	h.logger.Info("webchat: connection opened", "lead_id", leadID)

	ctx = conversation.WithChannel(ctx, conversation.ChannelWebChat)
	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "lead_id", leadID, "error", err)
			return
		}

		switch msg.Type {
		case TypePing:
			_ = wsc.send(OutboundMessage{Type: "pong"})
		case TypeMessage:
			if strings.TrimSpace(msg.Text) == "" {
				continue
			}
			_ = wsc.send(OutboundMessage{Type: "typing"})
			turn, err := h.service.Append(ctx, leadID, msg.Text)
			h.sendTurn(wsc, leadID, turn, err)
		case TypeToolResult:
			if msg.CallID == "" {
				_ = wsc.send(OutboundMessage{Type: "error", Code: "invalid_request", Text: "call_id is required"})
				continue
			}
			turn, err := h.service.AddToolResult(ctx, leadID, msg.CallID, msg.Result)
			h.sendTurn(wsc, leadID, turn, err)
		}
	}
}

// register adds a connection; a lead may have the chat open in several tabs.
func (h *Handler) register(leadID string, wsc *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.sessions[leadID]
	if !ok {
		conns = make(map[*wsConn]struct{})
		h.sessions[leadID] = conns
	}
	conns[wsc] = struct{}{}
}

func (h *Handler) unregister(leadID string, wsc *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.sessions[leadID]
	delete(conns, wsc)
	if len(conns) == 0 {
		delete(h.sessions, leadID)
	}
}

func (h *Handler) sendHistory(ctx context.Context, wsc *wsConn, leadID string) {
	t, err := h.service.Transcript(ctx, leadID)
	if err != nil {
		h.logger.Warn("webchat: failed to load history", "lead_id", leadID, "error", err)
		return
	}
	history := History(t)
	if len(history) == 0 {
		return
	}
	_ = wsc.send(OutboundMessage{Type: "history", Messages: history})
}

func (h *Handler) sendTurn(wsc *wsConn, leadID string, turn *conversation.Turn, err error) {
	if err == nil {
		_ = wsc.send(OutboundMessage{Type: "turn", Turn: turn, Timestamp: time.Now().UTC().Format(time.RFC3339)})
		return
	}
	out := OutboundMessage{Type: "error"}
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		out.Code, out.Text = "empty_message", "El mensaje está vacío."
	case errors.Is(err, conversation.ErrTurnInProgress):
		out.Code, out.Text = "turn_in_progress", "Espera la respuesta anterior."
	case errors.Is(err, conversation.ErrToolCallsPending):
		out.Code, out.Text = "tool_calls_pending", "Completa las acciones pendientes primero."
	default:
		h.logger.Error("webchat: turn failed", "lead_id", leadID, "error", err)
		out.Code, out.Text = "internal", conversation.ApologyReply
	}
	_ = wsc.send(out)
}

// History flattens a transcript into chat bubbles, skipping entries without
// text such as tool-only assistant messages.
func History(t conversation.Transcript) []HistoryMessage {
	out := make([]HistoryMessage, 0, len(t.Messages))
	for _, m := range t.Messages {
		if m.Role() == conversation.RoleSystem || strings.TrimSpace(m.Text()) == "" {
			continue
		}
		out = append(out, HistoryMessage{
			Role:      string(m.Role()),
			Text:      m.Text(),
			Timestamp: m.Time().UTC().Format(time.RFC3339),
		})
	}
	return out
}

// SendToLead pushes a message to every open connection of the lead. It
// reports whether at least one connection received it.
func (h *Handler) SendToLead(leadID string, msg OutboundMessage) bool {
	h.mu.RLock()
	conns := make([]*wsConn, 0, len(h.sessions[leadID]))
	for wsc := range h.sessions[leadID] {
		conns = append(conns, wsc)
	}
	h.mu.RUnlock()

	delivered := false
	for _, wsc := range conns {
		if err := wsc.send(msg); err != nil {
			h.logger.Debug("webchat: push failed", "lead_id", leadID, "error", err)
			continue
		}
		delivered = true
	}
	return delivered
}

// Connections returns how many sockets the lead has open.
func (h *Handler) Connections(leadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[leadID])
}
