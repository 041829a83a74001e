package conversation

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dealership-ai-platform/internal/llm"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

const maxImageBytes = 5 << 20

// Handler wires HTTP requests to the conversation service.
type Handler struct {
	service Service
	logger  *logging.Logger
}

// NewHandler creates a conversation handler.
func NewHandler(service Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("conversation: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

type messageRequest struct {
	Message string `json:"message"`
}

type imageRequest struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
	Caption  string `json:"caption"`
}

type toolResultRequest struct {
	CallID string          `json:"call_id"`
	Result json.RawMessage `json:"result"`
}

// Message handles POST /conversations/{leadID}/messages.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	turn, err := h.service.Append(WithChannel(r.Context(), ChannelAPI), chi.URLParam(r, "leadID"), req.Message)
	h.respond(w, turn, err)
}

// Image handles POST /conversations/{leadID}/images with a base64 photo.
func (h *Handler) Image(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImageBytes*2)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		http.Error(w, "Image must be base64 encoded", http.StatusBadRequest)
		return
	}
	if len(data) > maxImageBytes {
		http.Error(w, "Image too large", http.StatusRequestEntityTooLarge)
		return
	}
	mime := strings.TrimSpace(req.MIMEType)
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		http.Error(w, "Unsupported media type", http.StatusUnsupportedMediaType)
		return
	}
	turn, err := h.service.AppendImage(WithChannel(r.Context(), ChannelAPI), chi.URLParam(r, "leadID"), llm.Image{MIMEType: mime, Data: data}, req.Caption)
	h.respond(w, turn, err)
}

// ToolResult handles POST /conversations/{leadID}/tool-results.
func (h *Handler) ToolResult(w http.ResponseWriter, r *http.Request) {
	var req toolResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.CallID) == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	turn, err := h.service.AddToolResult(WithChannel(r.Context(), ChannelAPI), chi.URLParam(r, "leadID"), req.CallID, req.Result)
	h.respond(w, turn, err)
}

// Get handles GET /conversations/{leadID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Transcript(r.Context(), chi.URLParam(r, "leadID"))
	if err != nil {
		h.logger.Error("failed to load conversation", "error", err)
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

func (h *Handler) respond(w http.ResponseWriter, turn *Turn, err error) {
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, turn)
	case errors.Is(err, ErrEmptyMessage):
		http.Error(w, "Message is required", http.StatusBadRequest)
	case errors.Is(err, ErrTurnInProgress), errors.Is(err, ErrToolCallsPending):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrImagesUnsupported):
		http.Error(w, "Image analysis is not available", http.StatusNotImplemented)
	default:
		h.logger.Error("failed to process conversation turn", "error", err)
		http.Error(w, "Failed to process message", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
