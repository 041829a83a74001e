package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/wolfman30/dealership-ai-platform/internal/compliance"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 500
)

// EventQuerier is the compliance.AuditService surface the handler needs.
type EventQuerier interface {
	QueryEvents(ctx context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error)
}

// ComplianceEventsHandler exposes the compliance audit log to admins.
type ComplianceEventsHandler struct {
	events EventQuerier
	logger *logging.Logger
}

func NewComplianceEventsHandler(events EventQuerier, logger *logging.Logger) *ComplianceEventsHandler {
	if events == nil {
		panic("handlers: event querier cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ComplianceEventsHandler{events: events, logger: logger}
}

// EventsResponse is returned by GET /admin/compliance/events.
type EventsResponse struct {
	Events []compliance.AuditEvent `json:"events"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// List handles GET /admin/compliance/events.
//
// Query parameters: lead_id, type (comma separated), since and until
// (RFC 3339), limit and offset.
func (h *ComplianceEventsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := compliance.AuditFilter{
		LeadID: q.Get("lead_id"),
		Limit:  defaultEventsLimit,
	}
	for _, t := range splitCSV(q.Get("type")) {
		filter.EventTypes = append(filter.EventTypes, compliance.AuditEventType(t))
	}

	var err error
	if filter.StartTime, err = parseTimeParam(q.Get("since")); err != nil {
		jsonError(w, "invalid since parameter", http.StatusBadRequest)
		return
	}
	if filter.EndTime, err = parseTimeParam(q.Get("until")); err != nil {
		jsonError(w, "invalid until parameter", http.StatusBadRequest)
		return
	}
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() && filter.EndTime.Before(filter.StartTime) {
		jsonError(w, "until must not be before since", http.StatusBadRequest)
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		filter.Limit = min(n, maxEventsLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, "invalid offset parameter", http.StatusBadRequest)
			return
		}
		filter.Offset = n
	}

	events, err := h.events.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query compliance events", "error", err)
		jsonError(w, "failed to query events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []compliance.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: events, Limit: filter.Limit, Offset: filter.Offset})
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
