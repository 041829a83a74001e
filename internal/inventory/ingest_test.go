package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dealership-ai-platform/internal/llm"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

type stubModel struct {
	text string
	err  error
	req  llm.Request
}

func (m *stubModel) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	m.req = req
	return llm.Response{Text: m.text}, m.err
}

func TestIngestStoresValidCars(t *testing.T) {
	model := &stubModel{text: "```json\n{\"vehicles\":[{\"make\":\"Toyota\",\"model\":\"Corolla\",\"year\":2022,\"price\":385000},{\"make\":\"\",\"model\":\"???\"}]}\n```"}
	store := NewMemoryStore()

	res, err := NewIngestor(model, store, nil).Ingest(context.Background(), "Corolla 2022 $385,000\nllamar al gerente")

	require.NoError(t, err)
	require.Len(t, res.Cars, 1)
	assert.True(t, res.Cars[0].Available)
	assert.Len(t, res.Rejected, 1)
	assert.Empty(t, res.Raw)
	assert.True(t, model.req.JSONOutput)
	assert.Contains(t, model.req.Messages[0].Content, "llamar al gerente")

	cars, _ := store.List(context.Background())
	assert.Len(t, cars, 1)
}

func TestIngestPassesRawTextThrough(t *testing.T) {
	model := &stubModel{text: "No encontré vehículos en el texto."}
	store := NewMemoryStore()

	res, err := NewIngestor(model, store, nil).Ingest(context.Background(), "hola")

	require.NoError(t, err)
	assert.Empty(t, res.Cars)
	assert.Equal(t, "No encontré vehículos en el texto.", res.Raw)
}

func TestIngestModelError(t *testing.T) {
	model := &stubModel{err: llm.ErrModelUnavailable}

	_, err := NewIngestor(model, NewMemoryStore(), nil).Ingest(context.Background(), "Rio 2021")

	assert.ErrorIs(t, err, llm.ErrModelUnavailable)
}

func newInventoryRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/inventory", h.List)
	r.Post("/inventory/ingest", h.Ingest)
	r.Post("/inventory/{carID}/sold", h.MarkSold)
	return r
}

func TestHandler(t *testing.T) {
	store := NewMemoryStore()
	model := &stubModel{text: `{"vehicles":[{"make":"Kia","model":"Rio","year":2021,"price":250000}]}`}
	router := newInventoryRouter(NewHandler(store, NewIngestor(model, store, nil), logging.Default()))

	body, _ := json.Marshal(map[string]string{"text": "Kia Rio 2021 250 mil"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/inventory/ingest", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
	var res IngestResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Len(t, res.Cars, 1)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/inventory", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var cars []Car
	require.NoError(t, json.NewDecoder(w.Body).Decode(&cars))
	assert.Len(t, cars, 1)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/inventory/"+res.Cars[0].ID+"/sold", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/inventory/missing/sold", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerIngestErrors(t *testing.T) {
	store := NewMemoryStore()
	router := newInventoryRouter(NewHandler(store, nil, nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/inventory/ingest", bytes.NewReader([]byte(`{"text":"x"}`))))
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	router = newInventoryRouter(NewHandler(store, NewIngestor(&stubModel{err: llm.ErrModelUnavailable}, store, nil), nil))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/inventory/ingest", bytes.NewReader([]byte(`{"text":"Rio"}`))))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/inventory/ingest", bytes.NewReader([]byte(`{"text":""}`))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
