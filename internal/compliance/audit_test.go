package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_LogEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	tests := []struct {
		name    string
		event   AuditEvent
		execErr error
		wantErr bool
	}{
		{
			name: "log fail open",
			event: AuditEvent{
				EventType:   EventGuardrailFailOpen,
				LeadID:      "lead-123",
				UserMessage: "¿Qué tasa me dan?",
				AIResponse:  "Manejamos tasas desde 9% hasta 14%, sujeto a aprobación.",
			},
		},
		{
			name: "log response modified",
			event: AuditEvent{
				EventType: EventResponseModified,
				Channel:   "whatsapp",
				Details:   json.RawMessage(`{"issues":["rate"]}`),
			},
		},
		{
			name:    "database error is wrapped",
			event:   AuditEvent{EventType: EventOutputLeak},
			execErr: errors.New("connection refused"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := mock.ExpectExec("INSERT INTO compliance_audit_events")
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(1, 1))
			}

			err := service.LogEvent(context.Background(), tt.event)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogGuardrailFailOpen(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	mock.ExpectExec("INSERT INTO compliance_audit_events").
		WithArgs(sqlmock.AnyArg(), "guardrail.fail_open", nil, "lead-9", "hola", "respuesta",
			[]byte(`{"fail_open_reason":"malformed_json"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = service.LogGuardrailFailOpen(context.Background(), "lead-9", "hola", "respuesta", "malformed_json")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogPromptInjection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	mock.ExpectExec("INSERT INTO compliance_audit_events").
		WithArgs(sqlmock.AnyArg(), "security.prompt_injection", "web", "lead-1", "[BLOCKED]", nil,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = service.LogPromptInjection(context.Background(), "web", "lead-1", []string{"ignore_instructions"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_QueryEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "event_type", "channel", "lead_id",
		"user_message", "ai_response", "details", "created_at",
	}).AddRow(
		uuid.New().String(), string(EventGuardrailFailOpen), "whatsapp", "lead-123",
		"¿Tienen el Mustang?", "Tenemos el Mustang GT", []byte(`{}`), now,
	)

	mock.ExpectQuery("SELECT (.+) FROM compliance_audit_events WHERE 1 = 1 AND lead_id = \\$1 AND event_type = ANY\\(\\$2\\)").
		WithArgs("lead-123", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	filter := AuditFilter{
		LeadID:     "lead-123",
		EventTypes: []AuditEventType{EventGuardrailFailOpen, EventResponseModified},
		StartTime:  now.Add(-24 * time.Hour),
		EndTime:    now,
		Limit:      100,
	}

	events, err := service.QueryEvents(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventGuardrailFailOpen, events[0].EventType)
	assert.Equal(t, "whatsapp", events[0].Channel)
}

func TestAuditEventType_String(t *testing.T) {
	tests := []struct {
		eventType AuditEventType
		expected  string
	}{
		{EventGuardrailFailOpen, "guardrail.fail_open"},
		{EventResponseModified, "compliance.response_modified"},
		{EventSensitiveRequest, "compliance.sensitive_request"},
		{EventDisclaimerSent, "compliance.disclaimer_sent"},
		{EventPromptInjection, "security.prompt_injection"},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.eventType))
		})
	}
}
