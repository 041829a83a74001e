package webchat

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/dealership-ai-platform/internal/conversation"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/lifecycle"
	"github.com/wolfman30/dealership-ai-platform/internal/llm"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

type fakeService struct {
	mu          sync.Mutex
	transcript  conversation.Transcript
	appendErr   error
	reply       string
	toolResults map[string]string
}

func (f *fakeService) Append(_ context.Context, leadID, text string) (*conversation.Turn, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	if text == "cotiza" {
		return &conversation.Turn{
			LeadID: leadID,
			State:  conversation.StateToolCallPending,
			Pending: []conversation.ToolInvocation{
				{ToolName: "requestLeadInfo", CallID: "call-1", State: conversation.ToolStateCall},
			},
		}, nil
	}
	return &conversation.Turn{LeadID: leadID, State: conversation.StateIdle, Reply: f.reply}, nil
}

func (f *fakeService) AppendImage(context.Context, string, llm.Image, string) (*conversation.Turn, error) {
	return nil, conversation.ErrImagesUnsupported
}

func (f *fakeService) AddToolResult(_ context.Context, leadID, callID string, result any) (*conversation.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, _ := json.Marshal(result)
	if f.toolResults == nil {
		f.toolResults = map[string]string{}
	}
	f.toolResults[callID] = string(raw)
	return &conversation.Turn{LeadID: leadID, State: conversation.StateIdle, Reply: "Gracias, ya tengo tus datos."}, nil
}

func (f *fakeService) Transcript(_ context.Context, leadID string) (conversation.Transcript, error) {
	t := f.transcript
	t.LeadID = leadID
	return t, nil
}

func startServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/conversations/{leadID}/ws", h.HandleWebSocket)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, leadID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/conversations/" + leadID + "/ws"
	conn, err := websocket.Dial(url, "", "http://localhost/")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func receive(t *testing.T, conn *websocket.Conn) OutboundMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg OutboundMessage
	require.NoError(t, websocket.JSON.Receive(conn, &msg))
	return msg
}

func TestWebSocket_SessionHistoryAndTurn(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	svc := &fakeService{
		reply: "Tenemos el Toyota Corolla 2022.",
		transcript: conversation.Transcript{Messages: []conversation.Message{
			conversation.UserMessage{ID: "u1", Content: "Hola", CreatedAt: now},
			conversation.AssistantMessage{ID: "a1", CreatedAt: now},
			conversation.AssistantMessage{ID: "a2", Content: "¡Hola! ¿Qué auto buscas?", CreatedAt: now},
		}},
	}
	h := NewHandler(svc, logging.New("error"))
	conn := dial(t, startServer(t, h), "lead-1")

	session := receive(t, conn)
	assert.Equal(t, "session", session.Type)
	assert.Equal(t, "lead-1", session.LeadID)

	history := receive(t, conn)
	assert.Equal(t, "history", history.Type)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "assistant", history.Messages[1].Role)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: TypeMessage, Text: "Busco un sedán"}))
	assert.Equal(t, "typing", receive(t, conn).Type)
	turn := receive(t, conn)
	assert.Equal(t, "turn", turn.Type)
	require.NotNil(t, turn.Turn)
	assert.Equal(t, "Tenemos el Toyota Corolla 2022.", turn.Turn.Reply)
}

func TestWebSocket_ToolResultRoundTrip(t *testing.T) {
	svc := &fakeService{}
	h := NewHandler(svc, logging.New("error"))
	conn := dial(t, startServer(t, h), "lead-2")
	assert.Equal(t, "session", receive(t, conn).Type)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: TypeMessage, Text: "cotiza"}))
	receive(t, conn) // typing
	pending := receive(t, conn)
	require.NotNil(t, pending.Turn)
	require.Len(t, pending.Turn.Pending, 1)
	assert.Equal(t, "call-1", pending.Turn.Pending[0].CallID)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{
		Type:   TypeToolResult,
		CallID: "call-1",
		Result: json.RawMessage(`{"email":"sofia@example.com"}`),
	}))
	done := receive(t, conn)
	assert.Equal(t, "Gracias, ya tengo tus datos.", done.Turn.Reply)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.JSONEq(t, `{"email":"sofia@example.com"}`, svc.toolResults["call-1"])
}

func TestWebSocket_ErrorsAndPing(t *testing.T) {
	svc := &fakeService{appendErr: conversation.ErrTurnInProgress}
	h := NewHandler(svc, logging.New("error"))
	conn := dial(t, startServer(t, h), "lead-3")
	receive(t, conn) // session

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: TypePing}))
	assert.Equal(t, "pong", receive(t, conn).Type)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: TypeToolResult}))
	bad := receive(t, conn)
	assert.Equal(t, "error", bad.Type)
	assert.Equal(t, "invalid_request", bad.Code)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: TypeMessage, Text: "hola"}))
	receive(t, conn) // typing
	busy := receive(t, conn)
	assert.Equal(t, "error", busy.Type)
	assert.Equal(t, "turn_in_progress", busy.Code)
}

func TestStatusHook_PushesTransitions(t *testing.T) {
	ctx := context.Background()
	repo := leads.NewInMemoryRepository()
	lead, err := repo.Create(ctx, &leads.CreateLeadRequest{Name: "Richard", Phone: "+525512345678"})
	require.NoError(t, err)

	h := NewHandler(&fakeService{}, logging.New("error"))
	conn := dial(t, startServer(t, h), lead.ID)
	receive(t, conn) // session

	m := lifecycle.NewMachine(lifecycle.NewMemoryStore(repo), lifecycle.WithHooks(h.StatusHook()))
	_, err = m.Transition(ctx, lead, leads.StatusContacted, lifecycle.Details{})
	require.NoError(t, err)

	status := receive(t, conn)
	assert.Equal(t, "status", status.Type)
	assert.Equal(t, "contacted", status.Status)
	assert.NotEmpty(t, status.Text)
}

func TestStatusHook_ReachesEveryOpenTab(t *testing.T) {
	ctx := context.Background()
	repo := leads.NewInMemoryRepository()
	lead, err := repo.Create(ctx, &leads.CreateLeadRequest{Name: "Richard", Phone: "+525512345678"})
	require.NoError(t, err)

	h := NewHandler(&fakeService{}, logging.New("error"))
	srv := startServer(t, h)
	first := dial(t, srv, lead.ID)
	receive(t, first) // session
	second := dial(t, srv, lead.ID)
	receive(t, second) // session
	require.Eventually(t, func() bool { return h.Connections(lead.ID) == 2 }, 2*time.Second, 10*time.Millisecond)

	m := lifecycle.NewMachine(lifecycle.NewMemoryStore(repo), lifecycle.WithHooks(h.StatusHook()))
	_, err = m.Transition(ctx, lead, leads.StatusContacted, lifecycle.Details{})
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{first, second} {
		status := receive(t, conn)
		assert.Equal(t, "status", status.Type)
		assert.Equal(t, "contacted", status.Status)
	}

	require.NoError(t, second.Close())
	require.Eventually(t, func() bool { return h.Connections(lead.ID) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, h.SendToLead(lead.ID, OutboundMessage{Type: "status", Status: "contacted"}))
	assert.Equal(t, "status", receive(t, first).Type)
}

func TestSendToLead_NoConnection(t *testing.T) {
	h := NewHandler(&fakeService{}, nil)
	assert.False(t, h.SendToLead("nobody", OutboundMessage{Type: "status"}))
}

func TestHistory_SkipsEmptyAndSystem(t *testing.T) {
	got := History(conversation.Transcript{Messages: []conversation.Message{
		conversation.SystemMessage{ID: "s1", Content: "Foto analizada"},
		conversation.UserMessage{ID: "u1", Content: "Hola"},
		conversation.AssistantMessage{ID: "a1"},
	}})
	require.Len(t, got, 1)
	assert.Equal(t, "Hola", got[0].Text)
}

func TestNewHandler_PanicsWithoutService(t *testing.T) {
	assert.Panics(t, func() { NewHandler(nil, nil) })
}
