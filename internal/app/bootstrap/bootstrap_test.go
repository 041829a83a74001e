package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/dealership-ai-platform/internal/config"
	"github.com/wolfman30/dealership-ai-platform/internal/conversation"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/llm"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

func quietLogger() *logging.Logger { return logging.New("error") }

func TestBuildRedisClient(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, quietLogger(), true))
	assert.Nil(t, BuildRedisClient(context.Background(), nil, quietLogger(), true))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, quietLogger(), true)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, quietLogger(), true))
}

func TestBuildPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	assert.Nil(t, BuildPostgresPool(context.Background(), "", quietLogger()))
	assert.Nil(t, BuildAuditDB("  ", quietLogger()))
}

func TestBuildModelRequiresConfig(t *testing.T) {
	_, err := BuildModel(context.Background(), nil, nil, quietLogger())
	assert.Error(t, err)
}

func TestBuildModelWithoutProvidersIsUnavailable(t *testing.T) {
	model, err := BuildModel(context.Background(), &appconfig.Config{ModelTimeout: time.Second}, nil, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "none", model.Name)
	assert.NoError(t, model.Close())

	_, err = model.Client.Complete(context.Background(), llm.Request{})
	assert.ErrorIs(t, err, llm.ErrModelUnavailable)
}

func TestBuildHistoryStore(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, quietLogger(), false)
	t.Cleanup(func() { _ = redisClient.Close() })

	store, err := BuildHistoryStore(&appconfig.Config{HistoryBackend: HistoryMemory}, redisClient, nil, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &conversation.MemoryHistoryStore{}, store)

	store, err = BuildHistoryStore(&appconfig.Config{HistoryBackend: HistoryRedis}, redisClient, nil, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &conversation.RedisHistoryStore{}, store)

	store, err = BuildHistoryStore(&appconfig.Config{HistoryBackend: HistoryRedis}, nil, nil, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &conversation.MemoryHistoryStore{}, store)

	_, err = BuildHistoryStore(&appconfig.Config{HistoryBackend: HistoryDynamoDB}, redisClient, nil, quietLogger())
	assert.Error(t, err)

	_, err = BuildHistoryStore(&appconfig.Config{HistoryBackend: "cassandra"}, nil, nil, quietLogger())
	assert.Error(t, err)
}

func TestHistorySourceMissingHistoryIsEmpty(t *testing.T) {
	src := HistorySource{Store: conversation.NewMemoryHistoryStore()}
	tr, err := src.Transcript(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "lead-1", tr.LeadID)
	assert.Empty(t, tr.Messages)
}

func TestBuildOrchestrator(t *testing.T) {
	cfg := &appconfig.Config{GuardrailModelAudit: true}
	model, err := BuildModel(context.Background(), &appconfig.Config{}, nil, quietLogger())
	require.NoError(t, err)

	_, err = BuildOrchestrator(cfg, ConversationDeps{Leads: leads.NewInMemoryRepository()})
	assert.Error(t, err)
	_, err = BuildOrchestrator(cfg, ConversationDeps{Model: model})
	assert.Error(t, err)

	repo := leads.NewInMemoryRepository()
	lead, err := repo.Create(context.Background(), &leads.CreateLeadRequest{Name: "Iván", Phone: "+5215550001234"})
	require.NoError(t, err)

	orch, err := BuildOrchestrator(cfg, ConversationDeps{
		Model:    model,
		Leads:    repo,
		Registry: BuildMetrics(),
		Logger:   quietLogger(),
	})
	require.NoError(t, err)

	turn, err := orch.Append(context.Background(), lead.ID, "Hola")
	require.NoError(t, err)
	assert.Equal(t, conversation.ApologyReply, turn.Reply)
	assert.ErrorIs(t, turn.Err, llm.ErrModelUnavailable)
}

func TestBuildMetricsExposesCollectors(t *testing.T) {
	m := BuildMetrics()
	m.Messaging.ObserveInbound("message", "ok")

	rr := httptest.NewRecorder()
	m.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "dealership_messaging_inbound_webhook_total")
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

type nopService struct{}

func (nopService) Append(context.Context, string, string) (*conversation.Turn, error) {
	return nil, errors.New("unused")
}

func (nopService) AppendImage(context.Context, string, llm.Image, string) (*conversation.Turn, error) {
	return nil, errors.New("unused")
}

func (nopService) AddToolResult(context.Context, string, string, any) (*conversation.Turn, error) {
	return nil, errors.New("unused")
}

func (nopService) Transcript(context.Context, string) (conversation.Transcript, error) {
	return conversation.Transcript{}, nil
}

func TestBuildWhatsAppHandlerModes(t *testing.T) {
	repo := leads.NewInMemoryRepository()

	h, mode := BuildWhatsAppHandler(&appconfig.Config{}, nopService{}, repo, WhatsAppDeps{}, quietLogger())
	require.NotNil(t, h)
	assert.Equal(t, "twiml", mode)

	_, mode = BuildWhatsAppHandler(&appconfig.Config{
		TwilioAccountSID:     "AC1",
		TwilioAuthToken:      "secret",
		WhatsAppAsyncReplies: true,
	}, nopService{}, repo, WhatsAppDeps{}, quietLogger())
	assert.Equal(t, "twiml", mode, "async needs a sender number")

	_, mode = BuildWhatsAppHandler(&appconfig.Config{
		TwilioAccountSID:     "AC1",
		TwilioAuthToken:      "secret",
		TwilioWhatsAppFrom:   "whatsapp:+5215550000000",
		WhatsAppAsyncReplies: true,
	}, nopService{}, repo, WhatsAppDeps{}, quietLogger())
	assert.Equal(t, "async", mode)
}

func TestBuildWhatsAppHandlerVerifiesSignatureAgainstPublicURL(t *testing.T) {
	h, _ := BuildWhatsAppHandler(&appconfig.Config{
		TwilioAuthToken: "secret",
		PublicBaseURL:   "https://api.agencia.mx/",
	}, nopService{}, leads.NewInMemoryRepository(), WhatsAppDeps{WebhookPath: "/webhooks/twilio/whatsapp"}, quietLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/whatsapp", strings.NewReader("MessageSid=SM1&From=whatsapp%3A%2B5215550000000&Body=Hola"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "bogus")
	rr := httptest.NewRecorder()
	h.WhatsAppWebhook(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestBuildLifecycleHooksDefaultsToLoggedEmail(t *testing.T) {
	hooks := BuildLifecycleHooks(&appconfig.Config{}, HookDeps{Logger: quietLogger()})
	assert.Len(t, hooks, 1)

	hooks = BuildLifecycleHooks(&appconfig.Config{EmailProvider: "carrier-pigeon"}, HookDeps{Logger: quietLogger()})
	assert.Empty(t, hooks)
}
