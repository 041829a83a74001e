// Package compliance records an immutable audit trail of the checks applied
// to AI generated replies.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AuditEventType represents the type of compliance event.
type AuditEventType string

const (
	// EventGuardrailFailOpen is logged when the model audit could not be used
	// and the reply went out on the local rules alone.
	EventGuardrailFailOpen AuditEventType = "guardrail.fail_open"
	// EventResponseModified is logged when a reply is rewritten before sending.
	EventResponseModified AuditEventType = "compliance.response_modified"
	// EventSensitiveRequest is logged when a reply asked for a government ID or
	// similar identifier.
	EventSensitiveRequest AuditEventType = "compliance.sensitive_request"
	// EventDisclaimerSent is logged when a disclaimer is added to a message.
	EventDisclaimerSent AuditEventType = "compliance.disclaimer_sent"
	// EventOutputLeak is logged when a reply leaked prompt internals.
	EventOutputLeak AuditEventType = "security.output_leak"
	// EventPromptInjection is logged when a prompt injection attempt is detected.
	EventPromptInjection AuditEventType = "security.prompt_injection"
)

// AuditEvent represents an immutable compliance audit record.
type AuditEvent struct {
	ID          string          `json:"id"`
	EventType   AuditEventType  `json:"event_type"`
	Channel     string          `json:"channel,omitempty"`
	LeadID      string          `json:"lead_id,omitempty"`
	UserMessage string          `json:"user_message,omitempty"`
	AIResponse  string          `json:"ai_response,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	// For guardrail outcomes
	Issues           []string `json:"issues,omitempty"`
	FailOpenReason   string   `json:"fail_open_reason,omitempty"`
	OriginalResponse string   `json:"original_response,omitempty"`

	// For disclaimer sent
	DisclaimerText string `json:"disclaimer_text,omitempty"`

	// For prompt injection / leak detection
	Reasons []string `json:"reasons,omitempty"`
}

// Recorder is the write side of the audit trail.
type Recorder interface {
	LogEvent(ctx context.Context, event AuditEvent) error
}

// AuditService handles compliance audit logging.
type AuditService struct {
	db *sql.DB
}

var _ Recorder = (*AuditService)(nil)

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records a compliance audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO compliance_audit_events (
			id, event_type, channel, lead_id,
			user_message, ai_response, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.EventType),
		nullString(event.Channel),
		nullString(event.LeadID),
		nullString(event.UserMessage),
		nullString(event.AIResponse),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// LogGuardrailFailOpen records that a reply was released without a usable
// model audit.
func (s *AuditService) LogGuardrailFailOpen(ctx context.Context, leadID, userMessage, response, reason string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{FailOpenReason: reason})
	return s.LogEvent(ctx, AuditEvent{
		EventType:   EventGuardrailFailOpen,
		LeadID:      leadID,
		UserMessage: userMessage,
		AIResponse:  response,
		Details:     detailsJSON,
	})
}

// LogResponseModified records a reply rewritten by the guardrail.
func (s *AuditService) LogResponseModified(ctx context.Context, leadID, original, modified string, issues []string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{Issues: issues, OriginalResponse: original})
	return s.LogEvent(ctx, AuditEvent{
		EventType:  EventResponseModified,
		LeadID:     leadID,
		AIResponse: modified,
		Details:    detailsJSON,
	})
}

// LogPromptInjection logs when a prompt injection attempt is detected and blocked.
func (s *AuditService) LogPromptInjection(ctx context.Context, channel, leadID string, reasons []string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{Reasons: reasons})
	return s.LogEvent(ctx, AuditEvent{
		EventType:   EventPromptInjection,
		Channel:     channel,
		LeadID:      leadID,
		UserMessage: "[BLOCKED]", // Don't store injection payload
		Details:     detailsJSON,
	})
}

// LogDisclaimerSent logs when a disclaimer is added to a message.
func (s *AuditService) LogDisclaimerSent(ctx context.Context, channel, leadID, disclaimerText string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{DisclaimerText: disclaimerText})
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventDisclaimerSent,
		Channel:   channel,
		LeadID:    leadID,
		Details:   detailsJSON,
	})
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, channel, lead_id,
			   user_message, ai_response, details, created_at
		FROM compliance_audit_events
		WHERE 1 = 1
	`
	var args []interface{}
	argIdx := 1

	if filter.LeadID != "" {
		query += fmt.Sprintf(" AND lead_id = $%d", argIdx)
		args = append(args, filter.LeadID)
		argIdx++
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, 0, len(filter.EventTypes))
		for _, t := range filter.EventTypes {
			types = append(types, string(t))
		}
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argIdx)
		args = append(args, pq.Array(types))
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var eventType string
		var channel, leadID, userMsg, aiResp sql.NullString
		var details []byte
		err := rows.Scan(
			&e.ID, &eventType, &channel, &leadID,
			&userMsg, &aiResp, &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.EventType = AuditEventType(eventType)
		e.Channel = channel.String
		e.LeadID = leadID.String
		e.UserMessage = userMsg.String
		e.AIResponse = aiResp.String
		e.Details = json.RawMessage(details)
		events = append(events, e)
	}

	return events, rows.Err()
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	LeadID     string
	EventTypes []AuditEventType
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
