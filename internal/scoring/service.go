package scoring

import (
	"context"
	"fmt"

	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// Service re-derives and stores a lead's score whenever new attributes arrive.
type Service struct {
	repo   leads.Repository
	logger *logging.Logger
}

// NewService creates a scoring service.
func NewService(repo leads.Repository, logger *logging.Logger) *Service {
	if repo == nil {
		panic("scoring: lead repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Rescore merges attrs into the lead, scores the merged inputs and persists
// both. Empty attrs rescore the stored inputs.
func (s *Service) Rescore(ctx context.Context, leadID string, attrs leads.ScoringAttributes) (*leads.Lead, Result, error) {
	lead, err := s.repo.GetByID(ctx, leadID)
	if err != nil {
		return nil, Result{}, err
	}
	merged := lead.Clone()
	merged.Merge(attrs)
	res := Score(merged.Attributes())

	updated, err := s.repo.UpdateScoring(ctx, leadID, attrs, res.Score, Summary(res))
	if err != nil {
		return nil, res, fmt.Errorf("scoring: failed to store score: %w", err)
	}
	s.logger.Info("lead scored", "lead_id", leadID, "score", res.Score, "tier", res.Tier)
	return updated, res, nil
}

// Summary renders a result for the lead's aiSummary field.
func Summary(res Result) string {
	return fmt.Sprintf("Nivel %s (%d/100): %s", res.Tier, res.Score, res.Rationale)
}
