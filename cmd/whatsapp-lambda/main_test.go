package main

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

func event(method, path, body string) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		RawPath: path,
		Body:    body,
		Headers: map[string]string{},
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			DomainName: "wa.agencia.mx",
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{
				Method:   method,
				Path:     path,
				SourceIP: "54.172.60.1",
			},
		},
	}
}

func testRelay(baseURL string) *relay {
	cfg := relayConfig{apiBaseURL: baseURL, timeout: time.Second}
	return newRelay(cfg, &http.Client{Timeout: time.Second}, logging.New("error"))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	_, err := loadConfig()
	assert.Error(t, err)

	t.Setenv("API_BASE_URL", "https://api.internal/")
	t.Setenv("API_TIMEOUT", "")
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://api.internal", cfg.apiBaseURL)
	assert.Equal(t, defaultUpstreamTimeout, cfg.timeout)

	t.Setenv("API_TIMEOUT", "soon")
	_, err = loadConfig()
	assert.Error(t, err)
}

func TestHandleRoutes(t *testing.T) {
	r := testRelay("http://127.0.0.1:1")

	tests := []struct {
		name   string
		evt    events.APIGatewayV2HTTPRequest
		status int
	}{
		{"health", event(http.MethodGet, "/health", ""), http.StatusOK},
		{"unknown path", event(http.MethodPost, "/webhooks/unknown", ""), http.StatusNotFound},
		{"get webhook", event(http.MethodGet, "/webhooks/twilio/whatsapp", ""), http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := r.handle(context.Background(), tt.evt)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestHandleForwardsSignedWebhook(t *testing.T) {
	var (
		gotBody string
		gotReq  *http.Request
	)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody, gotReq = string(b), r
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<Response><Message>Hola</Message></Response>`))
	}))
	defer api.Close()

	form := "MessageSid=SM1&Body=Hola"
	evt := event(http.MethodPost, "/webhooks/twilio/whatsapp", base64.StdEncoding.EncodeToString([]byte(form)))
	evt.IsBase64Encoded = true
	evt.Headers["X-Twilio-Signature"] = "sig=="
	evt.Headers["Content-Type"] = "application/x-www-form-urlencoded"

	resp, err := testRelay(api.URL).handle(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Body, "<Message>Hola</Message>")
	assert.Equal(t, "application/xml", resp.Headers["content-type"])

	require.NotNil(t, gotReq)
	assert.Equal(t, "/webhooks/twilio/whatsapp", gotReq.URL.Path)
	assert.Equal(t, form, gotBody)
	assert.Equal(t, "sig==", gotReq.Header.Get("X-Twilio-Signature"))
	assert.Equal(t, "wa.agencia.mx", gotReq.Header.Get("X-Forwarded-Host"))
	assert.Equal(t, "54.172.60.1", gotReq.Header.Get("X-Forwarded-For"))
}

func TestHandleBadBase64(t *testing.T) {
	evt := event(http.MethodPost, "/webhooks/twilio/whatsapp", "%%%")
	evt.IsBase64Encoded = true
	resp, err := testRelay("http://127.0.0.1:1").handle(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleUpstreamDown(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := api.URL
	api.Close()

	resp, err := testRelay(url).handle(context.Background(), event(http.MethodPost, "/webhooks/twilio/whatsapp", "Body=x"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHandlePassesThroughUpstreamStatus(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	resp, err := testRelay(api.URL).handle(context.Background(), event(http.MethodPost, "/webhooks/twilio/whatsapp", "Body=x"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
