package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	LogFormat     string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Model configuration
	GeminiAPIKey        string
	GeminiModel         string
	BedrockModelID      string
	ModelTimeout        time.Duration
	GuardrailModelAudit bool

	// Conversation history
	HistoryBackend           string
	ConversationHistoryTable string

	// AWS
	AWSRegion               string
	AWSAccessKeyID          string
	AWSSecretAccessKey      string
	AWSEndpointOverride     string
	TranscriptArchiveBucket string
	LeadEventsQueueURL      string

	// WhatsApp via Twilio
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioWhatsAppFrom   string
	WhatsAppAsyncReplies bool

	// Per-IP budget for unauthenticated customer endpoints.
	PublicRateLimit float64
	PublicRateBurst int

	AdminJWTSecret     string
	CORSAllowedOrigins []string

	// Agent notifications
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SalesTeamEmail    string
	AgentEmails       map[string]string

	InventoryCacheTTL time.Duration
	SessionIdleTTL    time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		ModelTimeout:        getEnvAsDuration("MODEL_TIMEOUT", 12*time.Second),
		GuardrailModelAudit: getEnvAsBool("GUARDRAIL_MODEL_AUDIT", true),

		HistoryBackend:           strings.ToLower(strings.TrimSpace(getEnv("HISTORY_BACKEND", "redis"))),
		ConversationHistoryTable: getEnv("CONVERSATION_HISTORY_TABLE", "conversation_history"),

		AWSRegion:               getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:     getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		TranscriptArchiveBucket: getEnv("TRANSCRIPT_ARCHIVE_BUCKET", ""),
		LeadEventsQueueURL:      getEnv("LEAD_EVENTS_QUEUE_URL", ""),

		TwilioAccountSID:     getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:      getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWhatsAppFrom:   getEnv("TWILIO_WHATSAPP_FROM", ""),
		WhatsAppAsyncReplies: getEnvAsBool("WHATSAPP_ASYNC_REPLIES", false),

		PublicRateLimit: getEnvAsFloat("PUBLIC_RATE_LIMIT", 2),
		PublicRateBurst: getEnvAsInt("PUBLIC_RATE_BURST", 10),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Dealership AI"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SalesTeamEmail:    getEnv("SALES_TEAM_EMAIL", ""),
		AgentEmails:       getEnvAsStringMap("AGENT_EMAILS_JSON"),

		InventoryCacheTTL: getEnvAsDuration("INVENTORY_CACHE_TTL", 5*time.Minute),
		SessionIdleTTL:    getEnvAsDuration("SESSION_IDLE_TTL", 30*time.Minute),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsStringMap parses a JSON object of string values, e.g. agent name -> email.
func getEnvAsStringMap(key string) map[string]string {
	raw := getEnv(key, "")
	if raw == "" {
		return map[string]string{}
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}
