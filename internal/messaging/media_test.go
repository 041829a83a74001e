package messaging

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwilioMediaFetcher_Fetch(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpeg)
	}))
	defer srv.Close()

	img, err := NewTwilioMediaFetcher("AC123", "token").Fetch(context.Background(), Media{URL: srv.URL + "/ME1"})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.MIMEType)
	assert.Equal(t, jpeg, img.Data)

	_, err = NewTwilioMediaFetcher("AC123", "wrong").Fetch(context.Background(), Media{URL: srv.URL + "/ME1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestTwilioMediaFetcher_RejectsNonImage(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := NewTwilioMediaFetcher("", "").Fetch(context.Background(), Media{URL: srv.URL, ContentType: "audio/ogg"})
	assert.True(t, errors.Is(err, ErrUnsupportedType))
	assert.False(t, called)
}

func TestTwilioMediaFetcher_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(bytes.Repeat([]byte{1}, MaxMediaBytes+1))
	}))
	defer srv.Close()

	_, err := NewTwilioMediaFetcher("", "").Fetch(context.Background(), Media{URL: srv.URL})
	assert.True(t, errors.Is(err, ErrMediaTooLarge))
}
