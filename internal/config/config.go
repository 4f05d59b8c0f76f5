// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits with an error.
package config

import (
	"fmt"
	"os"
	"strconv"
)

const (
	defaultPort          = "8084"
	defaultReconcileSpec = "@every 5m"
	defaultLLMModel      = "gpt-4o-mini"
	defaultATSBaseURL    = "https://api.ceipal.com/v1"
	defaultWABaseURL     = "https://graph.facebook.com/v19.0"
)

// Config holds all runtime configuration for the pipeline service.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	ATSBaseURL    string
	ATSAPIKey     string
	ATSWebhookKey string

	WhatsAppBaseURL     string
	WhatsAppPhoneID     string
	WhatsAppAccessToken string
	WhatsAppVerifyToken string

	CalendarBaseURL string
	CalendarAPIKey  string
	CalendarID      string

	LLMAPIKey  string
	LLMModel   string
	LLMBaseURL string

	ReconcileSpec      string
	MaxInterviewRounds int
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	return &Config{
		Port:        getenv("PIPELINE_PORT", defaultPort),
		DatabaseURL: dbURL,
		RedisURL:    redisURL,

		ATSBaseURL:    getenv("ATS_BASE_URL", defaultATSBaseURL),
		ATSAPIKey:     os.Getenv("ATS_API_KEY"),
		ATSWebhookKey: os.Getenv("ATS_WEBHOOK_KEY"),

		WhatsAppBaseURL:     getenv("WHATSAPP_BASE_URL", defaultWABaseURL),
		WhatsAppPhoneID:     os.Getenv("WHATSAPP_PHONE_ID"),
		WhatsAppAccessToken: os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		WhatsAppVerifyToken: os.Getenv("WHATSAPP_VERIFY_TOKEN"),

		CalendarBaseURL: os.Getenv("CALENDAR_BASE_URL"),
		CalendarAPIKey:  os.Getenv("CALENDAR_API_KEY"),
		CalendarID:      getenv("CALENDAR_ID", "primary"),

		LLMAPIKey:  os.Getenv("LLM_API_KEY"),
		LLMModel:   getenv("LLM_MODEL", defaultLLMModel),
		LLMBaseURL: os.Getenv("LLM_BASE_URL"),

		ReconcileSpec:      getenv("RECONCILE_SPEC", defaultReconcileSpec),
		MaxInterviewRounds: getenvInt("MAX_INTERVIEW_ROUNDS", 0),
	}, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
