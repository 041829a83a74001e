package bootstrap

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/dealership-ai-platform/internal/compliance"
	appconfig "github.com/wolfman30/dealership-ai-platform/internal/config"
	"github.com/wolfman30/dealership-ai-platform/internal/conversation"
	"github.com/wolfman30/dealership-ai-platform/internal/guardrail"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/lifecycle"
	"github.com/wolfman30/dealership-ai-platform/internal/scoring"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// History backends accepted in HISTORY_BACKEND.
const (
	HistoryMemory   = "memory"
	HistoryRedis    = "redis"
	HistoryDynamoDB = "dynamodb"
)

// BuildHistoryStore picks the transcript store named by cfg.HistoryBackend.
// DynamoDB is fronted by Redis (or memory) as the hot tier.
func BuildHistoryStore(cfg *appconfig.Config, redisClient *redis.Client, dynamoClient *dynamodb.Client, logger *logging.Logger) (conversation.HistoryStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var hot conversation.HistoryStore = conversation.NewMemoryHistoryStore()
	if redisClient != nil {
		hot = conversation.NewRedisHistoryStore(redisClient, otel.Tracer("dealership.internal.conversation.history"))
	}

	switch cfg.HistoryBackend {
	case HistoryMemory:
		return conversation.NewMemoryHistoryStore(), nil
	case "", HistoryRedis:
		if redisClient == nil {
			logger.Warn("redis history requested but redis is unavailable; using memory")
		}
		return hot, nil
	case HistoryDynamoDB:
		if dynamoClient == nil || cfg.ConversationHistoryTable == "" {
			return nil, fmt.Errorf("bootstrap: dynamodb history needs a client and CONVERSATION_HISTORY_TABLE")
		}
		durable := conversation.NewDynamoHistoryStore(dynamoClient, cfg.ConversationHistoryTable)
		return conversation.NewTieredHistoryStore(hot, durable, logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown history backend %q", cfg.HistoryBackend)
	}
}

// ConversationDeps are the collaborators of the orchestrator. Optional
// fields may be left nil.
type ConversationDeps struct {
	Model     *Model
	Leads     leads.Repository
	Machine   *lifecycle.Machine
	Inventory conversation.InventorySource
	History   conversation.HistoryStore
	Audit     *compliance.AuditService
	Registry  *Metrics
	Logger    *logging.Logger
}

// BuildOrchestrator assembles the guardrail, the lead tools and the
// orchestrator itself.
func BuildOrchestrator(cfg *appconfig.Config, deps ConversationDeps) (*conversation.Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Model == nil || deps.Model.Client == nil {
		return nil, fmt.Errorf("bootstrap: model is required")
	}
	if deps.Leads == nil {
		return nil, fmt.Errorf("bootstrap: lead repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	var recorder compliance.Recorder
	if deps.Audit != nil {
		recorder = deps.Audit
	}

	validatorOpts := []guardrail.Option{guardrail.WithLogger(logger)}
	if recorder != nil {
		validatorOpts = append(validatorOpts, guardrail.WithRecorder(recorder))
	}
	if cfg.GuardrailModelAudit {
		validatorOpts = append(validatorOpts, guardrail.WithAuditor(guardrail.NewModelAuditor(deps.Model.Client)))
	}
	if deps.Registry != nil {
		validatorOpts = append(validatorOpts, guardrail.WithMetrics(deps.Registry.Guardrail))
	}

	tools := conversation.NewToolRegistry(
		conversation.ScoreLeadTool(scoring.NewService(deps.Leads, logger)),
		conversation.RequestLeadInfoTool(),
	)
	if deps.Machine != nil {
		if err := tools.Register(conversation.UpdateLeadStatusTool(deps.Leads, deps.Machine)); err != nil {
			return nil, err
		}
	}
	if deps.Inventory != nil {
		if err := tools.Register(conversation.SearchInventoryTool(deps.Inventory)); err != nil {
			return nil, err
		}
	}

	opts := []conversation.Option{
		conversation.WithModelName(deps.Model.Name),
		conversation.WithValidator(guardrail.NewValidator(validatorOpts...)),
		conversation.WithTools(tools),
		conversation.WithLeads(deps.Leads),
		conversation.WithDisclaimer(compliance.NewDisclaimerService(recorder, compliance.DefaultDisclaimerConfig())),
		conversation.WithLogger(logger),
		conversation.WithSessionIdleTTL(cfg.SessionIdleTTL),
	}
	if deps.History != nil {
		opts = append(opts, conversation.WithHistory(deps.History))
	}
	if deps.Inventory != nil {
		opts = append(opts, conversation.WithInventory(deps.Inventory))
	}
	if deps.Machine != nil {
		opts = append(opts, conversation.WithLifecycle(deps.Machine))
	}
	if recorder != nil {
		opts = append(opts, conversation.WithRecorder(recorder))
	}
	if deps.Registry != nil {
		opts = append(opts, conversation.WithMetrics(deps.Registry.Conversation))
	}
	return conversation.NewOrchestrator(deps.Model.Client, opts...), nil
}
