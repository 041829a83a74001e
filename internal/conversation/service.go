package conversation

import (
	"context"

	"github.com/wolfman30/dealership-ai-platform/internal/llm"
)

// Service is the conversation surface used by transports.
type Service interface {
	Append(ctx context.Context, leadID, text string) (*Turn, error)
	AppendImage(ctx context.Context, leadID string, img llm.Image, caption string) (*Turn, error)
	AddToolResult(ctx context.Context, leadID, callID string, result any) (*Turn, error)
	Transcript(ctx context.Context, leadID string) (Transcript, error)
}

var _ Service = (*Orchestrator)(nil)
