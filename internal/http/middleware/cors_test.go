package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsRequest(allowed []string, method, origin string) (*httptest.ResponseRecorder, bool) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(method, "/inventory", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if method == http.MethodOptions {
		req.Header.Set("Access-Control-Request-Method", "POST")
	}
	rec := httptest.NewRecorder()
	CORS(allowed)(handler).ServeHTTP(rec, req)
	return rec, called
}

func TestCORS_AllowsListedOrigin(t *testing.T) {
	rec, called := corsRequest([]string{"https://agencia.mx"}, http.MethodGet, "https://agencia.mx")
	assert.True(t, called)
	assert.Equal(t, "https://agencia.mx", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestCORS_DeniesUnknownOrigin(t *testing.T) {
	rec, called := corsRequest([]string{"https://agencia.mx"}, http.MethodGet, "https://otra.example")
	assert.True(t, called)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_AllowsAnyOrigin(t *testing.T) {
	rec, _ := corsRequest([]string{"*"}, http.MethodGet, "https://random.example")
	assert.Equal(t, "https://random.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_SubdomainWildcard(t *testing.T) {
	allowed := []string{"https://*.agencia.mx"}

	rec, _ := corsRequest(allowed, http.MethodGet, "https://ventas.agencia.mx")
	assert.Equal(t, "https://ventas.agencia.mx", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = corsRequest(allowed, http.MethodGet, "http://ventas.agencia.mx")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = corsRequest(allowed, http.MethodGet, "https://.agencia.mx")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_HandlesPreflight(t *testing.T) {
	rec, called := corsRequest([]string{"https://agencia.mx"}, http.MethodOptions, "https://agencia.mx")
	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCORS_PreflightFromUnknownOriginPassesThrough(t *testing.T) {
	_, called := corsRequest([]string{"https://agencia.mx"}, http.MethodOptions, "https://otra.example")
	assert.True(t, called)
}
