package bootstrap

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/dealership-ai-platform/internal/archive"
	appconfig "github.com/wolfman30/dealership-ai-platform/internal/config"
	"github.com/wolfman30/dealership-ai-platform/internal/conversation"
	"github.com/wolfman30/dealership-ai-platform/internal/lifecycle"
	"github.com/wolfman30/dealership-ai-platform/internal/notify"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// HookDeps are what the post-transition side effects need.
type HookDeps struct {
	AWS     *aws.Config
	History conversation.HistoryStore
	Model   *Model
	Logger  *logging.Logger
}

// BuildLifecycleHooks returns the configured post-transition hooks: agent
// email and, on terminal states, the transcript archive.
func BuildLifecycleHooks(cfg *appconfig.Config, deps HookDeps) []lifecycle.Hook {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	var hooks []lifecycle.Hook

	if hook := buildNotifyHook(cfg, deps.AWS, logger); hook != nil {
		hooks = append(hooks, hook)
	}
	if hook := buildArchiveHook(cfg, deps, logger); hook != nil {
		hooks = append(hooks, hook)
	}
	return hooks
}

func buildNotifyHook(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) lifecycle.Hook {
	sendGrid := notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}
	sesCfg := notify.SESConfig{FromEmail: cfg.SESFromEmail, FromName: cfg.SendGridFromName}

	var (
		sender notify.EmailSender
		err    error
	)
	if awsCfg != nil {
		sender, err = notify.NewEmailSender(cfg.EmailProvider, sendGrid, sesv2.NewFromConfig(*awsCfg), sesCfg, logger)
	} else {
		sender, err = notify.NewEmailSender(cfg.EmailProvider, sendGrid, nil, sesCfg, logger)
	}
	switch {
	case errors.Is(err, notify.ErrNoSender):
		logger.Warn("no email provider configured; agent emails are logged only")
		sender = notify.NewStubEmailSender(logger)
	case err != nil:
		logger.Error("invalid email provider; agent emails disabled", "error", err)
		return nil
	}
	return notify.NewAgentNotifier(sender, cfg.AgentEmails, cfg.SalesTeamEmail, logger).Hook()
}

func buildArchiveHook(cfg *appconfig.Config, deps HookDeps, logger *logging.Logger) lifecycle.Hook {
	if cfg.TranscriptArchiveBucket == "" || deps.AWS == nil || deps.History == nil {
		return nil
	}
	store := archive.NewStore(s3.NewFromConfig(*deps.AWS), cfg.TranscriptArchiveBucket, logger)

	var classifier *archive.Classifier
	if deps.Model != nil && deps.Model.Client != nil {
		classifier = archive.NewClassifier(deps.Model.Client, deps.Model.Name, logger)
	}
	logger.Info("transcript archive enabled", "bucket", cfg.TranscriptArchiveBucket)
	return archive.NewArchiver(store, HistorySource{Store: deps.History}, classifier, logger).Hook()
}

// HistorySource reads transcripts straight from the history store. A lead
// with no history yields an empty transcript.
type HistorySource struct {
	Store conversation.HistoryStore
}

func (s HistorySource) Transcript(ctx context.Context, leadID string) (conversation.Transcript, error) {
	t, err := s.Store.Load(ctx, leadID)
	if errors.Is(err, conversation.ErrHistoryNotFound) {
		return conversation.Transcript{LeadID: leadID}, nil
	}
	return t, err
}
