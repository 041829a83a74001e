// Command whatsapp-lambda is the public edge for the Twilio WhatsApp
// webhook. It runs behind API Gateway and relays signed webhook posts to
// the API, which verifies the signature against PUBLIC_BASE_URL.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/dealership-ai-platform/internal/api/router"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// Twilio allows 15s for a webhook answer; leave room for the hop.
const defaultUpstreamTimeout = 12 * time.Second

// maxResponseBytes caps the TwiML read back from the API.
const maxResponseBytes = 1 << 20

type relayConfig struct {
	apiBaseURL string
	timeout    time.Duration
}

func loadConfig() (relayConfig, error) {
	baseURL := strings.TrimSpace(os.Getenv("API_BASE_URL"))
	if baseURL == "" {
		return relayConfig{}, errors.New("API_BASE_URL is required")
	}

	timeout := defaultUpstreamTimeout
	if raw := strings.TrimSpace(os.Getenv("API_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return relayConfig{}, fmt.Errorf("invalid API_TIMEOUT %q", raw)
		}
		timeout = parsed
	}

	return relayConfig{
		apiBaseURL: strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
	}, nil
}

type relay struct {
	cfg    relayConfig
	client *http.Client
	logger *logging.Logger
}

func newRelay(cfg relayConfig, client *http.Client, logger *logging.Logger) *relay {
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &relay{cfg: cfg, client: client, logger: logger}
}

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL")).WithComponent("whatsapp-lambda")
	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	lambda.Start(newRelay(cfg, nil, logger).handle)
}

func (r *relay) handle(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	switch {
	case path == "/health":
		return textResponse(http.StatusOK, "ok"), nil
	case path != router.WhatsAppWebhookPath:
		return textResponse(http.StatusNotFound, "not found"), nil
	case method != http.MethodPost:
		return textResponse(http.StatusMethodNotAllowed, "method not allowed"), nil
	}

	body, err := eventBody(evt)
	if err != nil {
		return textResponse(http.StatusBadRequest, "invalid body"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.apiBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return textResponse(http.StatusInternalServerError, "relay error"), nil
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if ct := headerValue(evt.Headers, "content-type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	if sig := headerValue(evt.Headers, "x-twilio-signature"); sig != "" {
		req.Header.Set("X-Twilio-Signature", sig)
	}
	if host := publicHost(evt); host != "" {
		req.Header.Set("X-Forwarded-Host", host)
	}
	req.Header.Set("X-Forwarded-Proto", "https")
	if ip := strings.TrimSpace(evt.RequestContext.HTTP.SourceIP); ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("api unreachable", "error", err, "request_id", evt.RequestContext.RequestID)
		return textResponse(http.StatusBadGateway, "upstream error"), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		r.logger.Error("failed to read api response", "error", err)
		return textResponse(http.StatusBadGateway, "upstream error"), nil
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		r.logger.Warn("api answered with an error", "status", resp.StatusCode, "request_id", evt.RequestContext.RequestID)
	}

	out := events.APIGatewayV2HTTPResponse{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		Headers:    map[string]string{},
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		out.Headers["content-type"] = ct
	}
	return out, nil
}

func textResponse(status int, body string) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       body,
		Headers:    map[string]string{"content-type": "text/plain; charset=utf-8"},
	}
}

func eventBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	return base64.StdEncoding.DecodeString(evt.Body)
}

func publicHost(evt events.APIGatewayV2HTTPRequest) string {
	if host := strings.TrimSpace(evt.RequestContext.DomainName); host != "" {
		return host
	}
	return strings.TrimSpace(headerValue(evt.Headers, "host"))
}

// headerValue looks a header up case-insensitively; API Gateway lowercases
// names but local invocations may not.
func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
