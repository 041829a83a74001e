package archive

import "time"

// RecordVersion is written into every archived record.
const RecordVersion = "1.0"

// TranscriptRecord is a closed lead's scrubbed conversation, archived to S3
// for sales review and model evaluation.
type TranscriptRecord struct {
	Version         string    `json:"version"`
	LeadID          string    `json:"lead_id"`
	PhoneHash       string    `json:"phone_hash,omitempty"` // sha256 of phone
	Source          string    `json:"source"`
	ArchivedAt      time.Time `json:"archived_at"`
	DurationSeconds int       `json:"duration_seconds"`
	MessageCount    int       `json:"message_count"`
	Outcome         string    `json:"outcome"` // sold|lost
	Labels          Labels    `json:"labels"`
	Context         Context   `json:"context"`
	Messages        []Message `json:"messages"`
}

// Labels holds auto-classification results used to curate transcripts.
type Labels struct {
	PromptInjectionDetected bool   `json:"prompt_injection_detected"`
	PromptInjectionType     string `json:"prompt_injection_type"`   // none|jailbreak|data_exfil|role_override|social_engineering
	ConversationCategory    string `json:"conversation_category"`   // purchase|financing|trade_in|price_objection|browsing|abandoned|abusive_hostile|prompt_injection
	Sentiment               string `json:"sentiment"`               // positive|neutral|negative|hostile
	InventoryMismatch       bool   `json:"inventory_mismatch"`      // the customer asked for cars not on the lot
	AutoLabeled             bool   `json:"auto_labeled"`
	LabelModel              string `json:"label_model"`
	HumanReviewed           bool   `json:"human_reviewed"`
}

// Context captures the sales outcome next to the conversation.
type Context struct {
	LeadType      string  `json:"lead_type,omitempty"`
	AIScore       int     `json:"ai_score"`
	AssignedAgent string  `json:"assigned_agent,omitempty"`
	SaleID        string  `json:"sale_id,omitempty"`
	Amount        float64 `json:"amount,omitempty"`
	LossReason    string  `json:"loss_reason,omitempty"`
}

// Message is a single conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Tools     []string  `json:"tools,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	LeadID            string `json:"lead_id"`
	S3Key             string `json:"s3_key"`
	Category          string `json:"category"`
	InjectionDetected bool   `json:"injection_detected"`
	ArchivedAt        string `json:"archived_at"`
	MessageCount      int    `json:"message_count"`
	Outcome           string `json:"outcome"`
}
