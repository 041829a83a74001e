package inventory

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dealership-ai-platform/internal/llm"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// Handler serves the inventory endpoints.
type Handler struct {
	store    Store
	ingestor *Ingestor
	logger   *logging.Logger
}

// NewHandler creates an inventory handler. ingestor may be nil, in which case
// ingestion answers 501.
func NewHandler(store Store, ingestor *Ingestor, logger *logging.Logger) *Handler {
	if store == nil {
		panic("inventory: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, ingestor: ingestor, logger: logger}
}

type ingestRequest struct {
	Text string `json:"text"`
}

// List handles GET /inventory.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	cars, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list inventory", "error", err)
		http.Error(w, "Failed to list inventory", http.StatusInternalServerError)
		return
	}
	if cars == nil {
		cars = []Car{}
	}
	h.writeJSON(w, http.StatusOK, cars)
}

// Ingest handles POST /inventory/ingest.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.ingestor == nil {
		http.Error(w, "Ingestion is not configured", http.StatusNotImplemented)
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	res, err := h.ingestor.Ingest(r.Context(), req.Text)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, res)
	case errors.Is(err, ErrInvalidCar):
		http.Error(w, "Listing text is required", http.StatusBadRequest)
	case errors.Is(err, llm.ErrModelUnavailable):
		http.Error(w, "Model unavailable, try again later", http.StatusServiceUnavailable)
	default:
		h.logger.Error("failed to ingest inventory", "error", err)
		http.Error(w, "Failed to ingest inventory", http.StatusInternalServerError)
	}
}

// MarkSold handles POST /inventory/{carID}/sold.
func (h *Handler) MarkSold(w http.ResponseWriter, r *http.Request) {
	err := h.store.MarkSold(r.Context(), chi.URLParam(r, "carID"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrCarNotFound):
		http.Error(w, "Car not found", http.StatusNotFound)
	default:
		h.logger.Error("failed to mark car sold", "error", err)
		http.Error(w, "Failed to update car", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
