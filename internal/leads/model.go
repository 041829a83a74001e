package leads

import (
	"strings"
	"time"
)

// Source identifies the channel a lead first arrived on.
type Source string

const (
	SourceWeb      Source = "web"
	SourceWhatsApp Source = "whatsapp"
	SourceReferral Source = "referral"
	SourceOther    Source = "other"
)

// IsValid reports whether s is a known source.
func (s Source) IsValid() bool {
	switch s {
	case SourceWeb, SourceWhatsApp, SourceReferral, SourceOther:
		return true
	}
	return false
}

// Type classifies what the customer is after.
type Type string

const (
	TypeFinance Type = "finance"
	TypeTradeIn Type = "trade-in"
	TypeGeneral Type = "general"
)

// IsValid reports whether t is a known lead type.
func (t Type) IsValid() bool {
	switch t {
	case TypeFinance, TypeTradeIn, TypeGeneral:
		return true
	}
	return false
}

// Status is the position of a lead in the sales funnel.
type Status string

const (
	StatusNew         Status = "new"
	StatusContacted   Status = "contacted"
	StatusQualified   Status = "qualified"
	StatusNegotiating Status = "negotiating"
	StatusSold        Status = "sold"
	StatusLost        Status = "lost"
)

// IsValid reports whether s is a known funnel status.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusContacted, StatusQualified, StatusNegotiating, StatusSold, StatusLost:
		return true
	}
	return false
}

// IsTerminal returns true once no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusSold || s == StatusLost
}

// Lead is a prospective customer tracked through the funnel. Leads are never
// hard-deleted.
type Lead struct {
	ID      string `json:"id"`
	Source  Source `json:"source"`
	Type    Type   `json:"type"`
	Status  Status `json:"status"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Message string `json:"message,omitempty"`

	// Scoring inputs
	MonthlyIncome     string `json:"monthly_income,omitempty"`
	CreditScoreBand   string `json:"credit_score_band,omitempty"`
	Employer          string `json:"employer,omitempty"`
	JobTitle          string `json:"job_title,omitempty"`
	TimeAtJob         string `json:"time_at_job,omitempty"`
	VehicleOfInterest string `json:"vehicle_of_interest,omitempty"`

	AIScore   int    `json:"ai_score"`
	AISummary string `json:"ai_summary,omitempty"`

	// Outcome fields, meaningful once the lead is assigned or terminal.
	AssignedAgent string  `json:"assigned_agent,omitempty"`
	LossReason    string  `json:"loss_reason,omitempty"`
	SaleID        string  `json:"sale_id,omitempty"`
	Amount        float64 `json:"amount,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy safe to mutate without touching stored state.
func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	cp := *l
	return &cp
}

// ScoringAttributes are the applicant fields the scoring engine reads.
type ScoringAttributes struct {
	MonthlyIncome     string `json:"monthly_income,omitempty"`
	CreditScoreBand   string `json:"credit_score_band,omitempty"`
	Employer          string `json:"employer,omitempty"`
	JobTitle          string `json:"job_title,omitempty"`
	TimeAtJob         string `json:"time_at_job,omitempty"`
	VehicleOfInterest string `json:"vehicle_of_interest,omitempty"`
}

// Merge overlays the non-empty fields of attrs onto the lead.
func (l *Lead) Merge(attrs ScoringAttributes) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&l.MonthlyIncome, attrs.MonthlyIncome)
	set(&l.CreditScoreBand, attrs.CreditScoreBand)
	set(&l.Employer, attrs.Employer)
	set(&l.JobTitle, attrs.JobTitle)
	set(&l.TimeAtJob, attrs.TimeAtJob)
	set(&l.VehicleOfInterest, attrs.VehicleOfInterest)
}

// Attributes returns the lead's current scoring inputs.
func (l *Lead) Attributes() ScoringAttributes {
	return ScoringAttributes{
		MonthlyIncome:     l.MonthlyIncome,
		CreditScoreBand:   l.CreditScoreBand,
		Employer:          l.Employer,
		JobTitle:          l.JobTitle,
		TimeAtJob:         l.TimeAtJob,
		VehicleOfInterest: l.VehicleOfInterest,
	}
}

// CreateLeadRequest represents the request body for creating a lead
type CreateLeadRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
	Source  Source `json:"source"`
	Type    Type   `json:"type"`

	ScoringAttributes
}

// Normalize fills defaults and canonicalizes contact fields.
func (r *CreateLeadRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Phone = NormalizePhone(r.Phone)
	if r.Source == "" {
		r.Source = SourceWeb
	}
	if r.Type == "" {
		r.Type = TypeGeneral
	}
}

// Validate validates the create lead request
func (r *CreateLeadRequest) Validate() error {
	if !r.Source.IsValid() {
		return ErrInvalidSource
	}
	if !r.Type.IsValid() {
		return ErrInvalidType
	}
	// WhatsApp contacts arrive with only a phone number.
	if r.Name == "" && r.Source != SourceWhatsApp {
		return ErrInvalidName
	}
	if r.Email == "" && r.Phone == "" {
		return ErrMissingContact
	}
	return nil
}

// NormalizePhone strips transport prefixes and formatting from a phone number.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.TrimPrefix(phone, "whatsapp:")
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ListLeadsFilter narrows List results.
type ListLeadsFilter struct {
	Status Status
	Limit  int
	Offset int
}

// Outcome carries the fields a lifecycle transition writes back to a lead.
type Outcome struct {
	Status        Status
	AIScore       int
	AssignedAgent string
	LossReason    string
	SaleID        string
	Amount        float64
}

// Apply copies non-zero outcome fields onto the lead.
func (l *Lead) Apply(o Outcome) {
	l.Status = o.Status
	if o.AIScore > 0 {
		l.AIScore = o.AIScore
	}
	if o.AssignedAgent != "" {
		l.AssignedAgent = o.AssignedAgent
	}
	if o.LossReason != "" {
		l.LossReason = o.LossReason
	}
	if o.SaleID != "" {
		l.SaleID = o.SaleID
	}
	if o.Amount > 0 {
		l.Amount = o.Amount
	}
}
