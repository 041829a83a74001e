package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/dealership-ai-platform/internal/llm"
)

// MaxMediaBytes caps a downloaded attachment.
const MaxMediaBytes = 5 << 20

var (
	ErrMediaTooLarge   = errors.New("messaging: media too large")
	ErrUnsupportedType = errors.New("messaging: unsupported media type")
)

// MediaFetcher downloads an inbound attachment.
type MediaFetcher interface {
	Fetch(ctx context.Context, m Media) (llm.Image, error)
}

// TwilioMediaFetcher downloads media URLs with the account's basic auth.
type TwilioMediaFetcher struct {
	accountSID string
	authToken  string
	httpClient *http.Client
}

// NewTwilioMediaFetcher creates a fetcher with a 10s client timeout.
func NewTwilioMediaFetcher(accountSID, authToken string) *TwilioMediaFetcher {
	return &TwilioMediaFetcher{
		accountSID: accountSID,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch downloads an image attachment. Non-image media is rejected before
// the download.
func (f *TwilioMediaFetcher) Fetch(ctx context.Context, m Media) (llm.Image, error) {
	if m.ContentType != "" && !strings.HasPrefix(m.ContentType, "image/") {
		return llm.Image{}, fmt.Errorf("%w: %s", ErrUnsupportedType, m.ContentType)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return llm.Image{}, fmt.Errorf("messaging: media request: %w", err)
	}
	if f.accountSID != "" {
		req.SetBasicAuth(f.accountSID, f.authToken)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return llm.Image{}, fmt.Errorf("messaging: media download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return llm.Image{}, fmt.Errorf("messaging: media download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaBytes+1))
	if err != nil {
		return llm.Image{}, fmt.Errorf("messaging: media read: %w", err)
	}
	if len(data) > MaxMediaBytes {
		return llm.Image{}, ErrMediaTooLarge
	}

	mime := m.ContentType
	if mime == "" {
		mime = resp.Header.Get("Content-Type")
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return llm.Image{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mime)
	}
	return llm.Image{MIMEType: mime, Data: data}, nil
}
