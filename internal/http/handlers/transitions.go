package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dealership-ai-platform/internal/http/middleware"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/lifecycle"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// Transitioner is the lifecycle.Machine surface the handler needs.
type Transitioner interface {
	Transition(ctx context.Context, lead *leads.Lead, target leads.Status, details lifecycle.Details) (*lifecycle.Result, error)
	History(ctx context.Context, leadID string) ([]lifecycle.Record, error)
}

// TransitionsHandler moves leads through the sales funnel on behalf of staff.
type TransitionsHandler struct {
	repo    leads.Repository
	machine Transitioner
	logger  *logging.Logger
}

func NewTransitionsHandler(repo leads.Repository, machine Transitioner, logger *logging.Logger) *TransitionsHandler {
	if repo == nil {
		panic("handlers: lead repository cannot be nil")
	}
	if machine == nil {
		panic("handlers: transitioner cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TransitionsHandler{repo: repo, machine: machine, logger: logger}
}

// TransitionRequest is the body of POST /leads/{leadID}/transitions.
type TransitionRequest struct {
	Status        leads.Status `json:"status"`
	AssignedAgent string       `json:"assigned_agent,omitempty"`
	Score         int          `json:"score,omitempty"`
	SaleID        string       `json:"sale_id,omitempty"`
	Amount        float64      `json:"amount,omitempty"`
	LossReason    string       `json:"loss_reason,omitempty"`
}

// TransitionResponse wraps a transition result. Persisted is false when the
// transition was computed but could not be stored.
type TransitionResponse struct {
	*lifecycle.Result
	Persisted bool   `json:"persisted"`
	Error     string `json:"error,omitempty"`
}

// HistoryResponse is returned by GET /leads/{leadID}/transitions.
type HistoryResponse struct {
	LeadID      string             `json:"lead_id"`
	Transitions []lifecycle.Record `json:"transitions"`
}

// Create handles POST /leads/{leadID}/transitions.
func (h *TransitionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	if leadID == "" {
		jsonError(w, "lead id required", http.StatusBadRequest)
		return
	}

	var req TransitionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	req.Status = leads.Status(strings.ToLower(strings.TrimSpace(string(req.Status))))
	if !req.Status.IsValid() {
		jsonError(w, "invalid status", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	lead, err := h.repo.GetByID(ctx, leadID)
	if err != nil {
		if errors.Is(err, leads.ErrLeadNotFound) {
			jsonError(w, "lead not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load lead", "lead_id", leadID, "error", err)
		jsonError(w, "failed to load lead", http.StatusInternalServerError)
		return
	}

	processedBy := middleware.StaffName(ctx)
	if processedBy == "" {
		processedBy = lifecycle.DefaultProcessedBy
	}

	res, err := h.machine.Transition(ctx, lead, req.Status, lifecycle.Details{
		AssignedAgent: strings.TrimSpace(req.AssignedAgent),
		Score:         req.Score,
		SaleID:        strings.TrimSpace(req.SaleID),
		Amount:        req.Amount,
		LossReason:    strings.TrimSpace(req.LossReason),
		ProcessedBy:   processedBy,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, TransitionResponse{Result: res, Persisted: true})
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, leads.ErrLeadNotFound):
		jsonError(w, "lead not found", http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrPersistence) && res != nil:
		writeJSON(w, http.StatusServiceUnavailable, TransitionResponse{
			Result:    res,
			Persisted: false,
			Error:     "transition could not be saved",
		})
	default:
		h.logger.Error("transition failed", "lead_id", leadID, "to", req.Status, "error", err)
		jsonError(w, "transition failed", http.StatusInternalServerError)
	}
}

// History handles GET /leads/{leadID}/transitions.
func (h *TransitionsHandler) History(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	if leadID == "" {
		jsonError(w, "lead id required", http.StatusBadRequest)
		return
	}
	if _, err := h.repo.GetByID(r.Context(), leadID); err != nil {
		if errors.Is(err, leads.ErrLeadNotFound) {
			jsonError(w, "lead not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load lead", "lead_id", leadID, "error", err)
		jsonError(w, "failed to load lead", http.StatusInternalServerError)
		return
	}

	records, err := h.machine.History(r.Context(), leadID)
	if err != nil {
		h.logger.Error("failed to load transitions", "lead_id", leadID, "error", err)
		jsonError(w, "failed to load transitions", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []lifecycle.Record{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{LeadID: leadID, Transitions: records})
}
