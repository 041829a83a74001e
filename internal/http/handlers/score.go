package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/scoring"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// Rescorer is the scoring.Service surface the handler needs.
type Rescorer interface {
	Rescore(ctx context.Context, leadID string, attrs leads.ScoringAttributes) (*leads.Lead, scoring.Result, error)
}

// ScoreHandler recomputes a lead's score from new or stored attributes.
type ScoreHandler struct {
	scorer Rescorer
	logger *logging.Logger
}

func NewScoreHandler(scorer Rescorer, logger *logging.Logger) *ScoreHandler {
	if scorer == nil {
		panic("handlers: scorer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ScoreHandler{scorer: scorer, logger: logger}
}

// ScoreResponse is returned by POST /leads/{leadID}/score.
type ScoreResponse struct {
	Lead      *leads.Lead  `json:"lead"`
	Score     int          `json:"score"`
	Tier      scoring.Tier `json:"tier"`
	Rationale string       `json:"rationale"`
}

// Rescore handles POST /leads/{leadID}/score. The body is optional.
func (h *ScoreHandler) Rescore(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	if leadID == "" {
		jsonError(w, "lead id required", http.StatusBadRequest)
		return
	}

	var attrs leads.ScoringAttributes
	if err := decodeOptionalJSON(r, &attrs); err != nil {
		jsonError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	lead, res, err := h.scorer.Rescore(r.Context(), leadID, attrs)
	if err != nil {
		if errors.Is(err, leads.ErrLeadNotFound) {
			jsonError(w, "lead not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to rescore lead", "lead_id", leadID, "error", err)
		jsonError(w, "failed to score lead", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ScoreResponse{
		Lead:      lead,
		Score:     res.Score,
		Tier:      res.Tier,
		Rationale: res.Rationale,
	})
}
