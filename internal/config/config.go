package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ControlPlanePort  string
	ControlPlaneURL   string
	PostgresURL       string
	StoreBackend      string
	Runner            string
	TemporalAddress   string
	TemporalTaskQueue string

	LLMProvider         string
	LLMModel            string
	LLMBaseURL          string
	LLMFallbackProvider string
	LLMFallbackModel    string
	OpenAIAPIKey        string
	OpenRouterAPIKey    string
	AnthropicAPIKey     string
	LLMTimeout          time.Duration

	AgentMaxSteps         int
	AgentFailureThreshold int
	AgentStepDelay        time.Duration
	WebTimeout            time.Duration
	MaxContentChars       int
	SearchRPS             float64
	FetchRPS              float64
	StatsRPS              float64
	CachePath             string
	CacheTTL              time.Duration

	VerifySimilarityThreshold float64
	VerifyWeightReliability   float64
	VerifyWeightCross         float64
	VerifyWeightFreshness     float64
	VerifyWeightFact          float64
	VerifyDomainsFile         string
	VerifyAfterRun            bool

	LogLevel  string
	LogFormat string
}

func Load() Config {
	controlPlanePort := getEnv("CONTROL_PLANE_PORT", "8080")
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = buildPostgresURL()
	}
	return Config{
		ControlPlanePort:  controlPlanePort,
		ControlPlaneURL:   getEnv("CONTROL_PLANE_URL", "http://localhost:"+controlPlanePort),
		PostgresURL:       postgresURL,
		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", "postgres")),
		Runner:            strings.ToLower(getEnv("RUNNER", "temporal")),
		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue: getEnv("TEMPORAL_TASK_QUEUE", "research-runs"),

		LLMProvider:         strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		LLMModel:            getEnv("LLM_MODEL", ""),
		LLMBaseURL:          getEnv("LLM_BASE_URL", ""),
		LLMFallbackProvider: strings.ToLower(getEnv("LLM_FALLBACK_PROVIDER", "")),
		LLMFallbackModel:    getEnv("LLM_FALLBACK_MODEL", ""),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenRouterAPIKey:    getEnv("OPENROUTER_API_KEY", ""),
		AnthropicAPIKey:     getEnv("ANTHROPIC_API_KEY", ""),
		LLMTimeout:          getEnvDuration("LLM_TIMEOUT", 60*time.Second),

		AgentMaxSteps:         getEnvInt("AGENT_MAX_STEPS", 20),
		AgentFailureThreshold: getEnvInt("AGENT_FAILURE_THRESHOLD", 3),
		AgentStepDelay:        getEnvDuration("AGENT_STEP_DELAY", 500*time.Millisecond),
		WebTimeout:            getEnvDuration("WEB_TIMEOUT", 30*time.Second),
		MaxContentChars:       getEnvInt("MAX_CONTENT_CHARS", 2000),
		SearchRPS:             getEnvFloat("SEARCH_RPS", 0.5),
		FetchRPS:              getEnvFloat("FETCH_RPS", 2),
		StatsRPS:              getEnvFloat("STATS_RPS", 1),
		CachePath:             getEnv("CACHE_PATH", ""),
		CacheTTL:              getEnvDuration("CACHE_TTL", 6*time.Hour),

		VerifySimilarityThreshold: getEnvFloat("VERIFY_SIMILARITY_THRESHOLD", 0.7),
		VerifyWeightReliability:   getEnvFloat("VERIFY_WEIGHT_RELIABILITY", 0.35),
		VerifyWeightCross:         getEnvFloat("VERIFY_WEIGHT_CROSS", 0.35),
		VerifyWeightFreshness:     getEnvFloat("VERIFY_WEIGHT_FRESHNESS", 0.15),
		VerifyWeightFact:          getEnvFloat("VERIFY_WEIGHT_FACT", 0.15),
		VerifyDomainsFile:         getEnv("VERIFY_DOMAINS_FILE", ""),
		VerifyAfterRun:            getEnvBool("VERIFY_AFTER_RUN", true),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("30s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "research")
	password := getEnv("POSTGRES_PASSWORD", "research")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "research")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
