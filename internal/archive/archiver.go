// Package archive stores scrubbed transcripts of closed leads in S3 so the
// sales team can review won and lost conversations.
package archive

import (
	"context"
	"time"

	"github.com/wolfman30/dealership-ai-platform/internal/conversation"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/lifecycle"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

const archiveTimeout = 60 * time.Second

// TranscriptSource loads a lead's conversation. conversation.Orchestrator
// satisfies it.
type TranscriptSource interface {
	Transcript(ctx context.Context, leadID string) (conversation.Transcript, error)
}

// Archiver archives the conversation of every lead that reaches sold or lost.
type Archiver struct {
	store      *Store
	source     TranscriptSource
	classifier *Classifier
	logger     *logging.Logger
}

// NewArchiver creates an Archiver. classifier may be nil.
func NewArchiver(store *Store, source TranscriptSource, classifier *Classifier, logger *logging.Logger) *Archiver {
	if store == nil {
		panic("archive: store required")
	}
	if source == nil {
		panic("archive: transcript source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Archiver{store: store, source: source, classifier: classifier, logger: logger}
}

// Hook returns a lifecycle hook that archives terminal transitions in the
// background.
func (a *Archiver) Hook() lifecycle.Hook {
	return func(ctx context.Context, lead *leads.Lead, rec lifecycle.Record) {
		if !rec.ToStatus.IsTerminal() || !a.store.Enabled() {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
			defer cancel()
			if err := a.Archive(ctx, lead); err != nil {
				a.logger.Error("archive: transcript archive failed", "lead_id", lead.ID, "error", err)
			}
		}()
	}
}

// Archive scrubs, labels and stores the lead's transcript. Leads without
// messages are skipped.
func (a *Archiver) Archive(ctx context.Context, lead *leads.Lead) error {
	transcript, err := a.source.Transcript(ctx, lead.ID)
	if err != nil {
		return err
	}
	msgs := Messages(transcript.Messages)
	if len(msgs) == 0 {
		a.logger.Debug("archive: no conversation to archive", "lead_id", lead.ID)
		return nil
	}
	ScrubMessages(msgs)

	labels, err := a.classifier.Classify(ctx, msgs)
	if err != nil {
		a.logger.Warn("archive: classification failed, using defaults", "error", err, "lead_id", lead.ID)
		labels = defaultLabels()
	}

	record := &TranscriptRecord{
		Version:         RecordVersion,
		LeadID:          lead.ID,
		PhoneHash:       HashPhone(lead.Phone),
		Source:          string(lead.Source),
		DurationSeconds: duration(msgs),
		MessageCount:    len(msgs),
		Outcome:         string(lead.Status),
		Labels:          *labels,
		Context: Context{
			LeadType:      string(lead.Type),
			AIScore:       lead.AIScore,
			AssignedAgent: lead.AssignedAgent,
			SaleID:        lead.SaleID,
			Amount:        lead.Amount,
			LossReason:    lead.LossReason,
		},
		Messages: msgs,
	}
	return a.store.Archive(ctx, record)
}

// Messages flattens a transcript into archive messages. Tool invocations are
// kept by name only.
func Messages(in []conversation.Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		msg := Message{Role: string(m.Role()), Content: m.Text(), Timestamp: m.Time()}
		if am, ok := m.(conversation.AssistantMessage); ok {
			for _, inv := range am.ToolInvocations {
				msg.Tools = append(msg.Tools, inv.ToolName)
			}
		}
		if msg.Content == "" && len(msg.Tools) == 0 {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func duration(msgs []Message) int {
	if len(msgs) < 2 {
		return 0
	}
	return int(msgs[len(msgs)-1].Timestamp.Sub(msgs[0].Timestamp).Seconds())
}
