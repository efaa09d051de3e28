package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLMProvider defines the backend LLM service type
type LLMProvider string

const (
	ProviderNone       LLMProvider = "none"       // No LLM, rule-based only
	ProviderOllama     LLMProvider = "ollama"     // Local Ollama server
	ProviderOpenRouter LLMProvider = "openrouter" // OpenRouter
	ProviderGroq       LLMProvider = "groq"       // Groq (high-speed inference)
	ProviderOpenAI     LLMProvider = "openai"     // Direct OpenAI API
	ProviderCustom     LLMProvider = "custom"     // Custom OpenAI-compatible endpoint
)

// Config holds global settings for the trapline service.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Core Settings ===
	Addr        string // Listen address (default: ":8080")
	Environment string // "production" tightens validation

	// === LLM Provider Configuration ===
	// One OpenAI-compatible endpoint serves classification, extraction,
	// and reply generation. None of them is required; every caller has a
	// template or rule fallback.
	LLMProvider LLMProvider
	LLMAPIKey   string
	LLMModel    string
	LLMBaseURL  string

	// === Latency Budgets ===
	TurnBudgetMs     int // Overall per-turn budget (default: 2000)
	LLMTimeoutMs     int // Per-call LLM sub-budget (default: 1500)
	LLMMaxConcurrent int // Process-wide cap on in-flight LLM calls (default: 8)

	// === Detection Tunables ===
	// Raw triad scores run 0-10; confidences are 0-1.
	AmbiguityBandLow    float64 // Raw score where the LLM second opinion starts (default: 2.0)
	AmbiguityBandHigh   float64 // Raw score where it stops (default: 3.0)
	ScamThreshold       float64 // Confidence at or above this flags a scam (default: 0.25)
	RuleWeight          float64 // Blend weight for the rule confidence (default: 0.4)
	LLMWeight           float64 // Blend weight for the LLM confidence (default: 0.6)
	EngageMinConfidence float64 // Confidence needed to leave INITIAL_CONTACT (default: 0.3)

	// === Engagement Tunables ===
	CompletenessTarget int // Intel score that triggers CLOSING (default: 60)
	MaxTurns           int // Total turn cap before forced CLOSING (default: 18)
	MinTrustTurns      int // Turns spent in BUILDING_TRUST before advancing (default: 2)
	MinDumbTurns       int // Turns spent in PLAYING_DUMB before advancing (default: 2)
	ClosingTurns       int // CLOSING turns before ENDED (default: 2)

	// === Session Management ===
	RedisURL         string        // e.g. redis://localhost:6379/0; empty = in-memory store
	SessionTTL       time.Duration // Session expiry, sliding on write (default: 1h)
	HistoryWindow    int           // Conversation turns kept per session (default: 15)
	LLMHistoryTurns  int           // Recent turns sent as LLM context (default: 6)
	MaxMessageLength int           // Inbound message cap after normalization (default: 5000)

	// === Optional Layers ===
	PatternsFile     string // YAML override for the built-in pattern tables
	SemanticEnabled  bool   // chromem-go scam-script similarity layer
	EmbedModel       string // Embedding model for the semantic layer
	EmbedDimension   int    // Embedding dimension (default: 1024)
	EnableLocalModel bool   // hugot text-classification fallback
	LocalModelDir    string // ONNX model directory for the local classifier
	ArchiveDSN       string // Postgres DSN for the intelligence archive; empty = off

	// === Logging ===
	LogJSON  bool
	LogLevel string
}

// NewDefaultConfig creates a Config with defaults, overridable via environment.
func NewDefaultConfig() *Config {
	cfg := &Config{
		Addr:        GetEnv("TRAPLINE_ADDR", ":8080"),
		Environment: strings.ToLower(GetEnv("TRAPLINE_ENV", "development")),

		LLMProvider: detectLLMProvider(),
		LLMAPIKey:   GetEnv("TRAPLINE_LLM_API_KEY", GetEnv("OPENAI_API_KEY", GetEnv("GROQ_API_KEY", os.Getenv("OPENROUTER_API_KEY")))),
		LLMModel:    GetEnv("TRAPLINE_LLM_MODEL", "gpt-4o-mini"),
		LLMBaseURL:  GetEnv("TRAPLINE_LLM_BASE_URL", ""),

		TurnBudgetMs:     GetEnvInt("TRAPLINE_TURN_BUDGET_MS", 2000),
		LLMTimeoutMs:     GetEnvInt("TRAPLINE_LLM_TIMEOUT_MS", 1500),
		LLMMaxConcurrent: GetEnvInt("TRAPLINE_LLM_MAX_CONCURRENT", 8),

		AmbiguityBandLow:    GetEnvFloat("TRAPLINE_BAND_LOW", 2.0),
		AmbiguityBandHigh:   GetEnvFloat("TRAPLINE_BAND_HIGH", 3.0),
		ScamThreshold:       GetEnvFloat("TRAPLINE_SCAM_THRESHOLD", 0.25),
		RuleWeight:          GetEnvFloat("TRAPLINE_RULE_WEIGHT", 0.4),
		LLMWeight:           GetEnvFloat("TRAPLINE_LLM_WEIGHT", 0.6),
		EngageMinConfidence: GetEnvFloat("TRAPLINE_ENGAGE_MIN_CONFIDENCE", 0.3),

		CompletenessTarget: GetEnvInt("TRAPLINE_COMPLETENESS_TARGET", 60),
		MaxTurns:           GetEnvInt("TRAPLINE_MAX_TURNS", 18),
		MinTrustTurns:      GetEnvInt("TRAPLINE_MIN_TRUST_TURNS", 2),
		MinDumbTurns:       GetEnvInt("TRAPLINE_MIN_DUMB_TURNS", 2),
		ClosingTurns:       GetEnvInt("TRAPLINE_CLOSING_TURNS", 2),

		RedisURL:         GetEnv("TRAPLINE_REDIS_URL", ""),
		SessionTTL:       time.Duration(GetEnvInt("TRAPLINE_SESSION_TTL_SECONDS", 3600)) * time.Second,
		HistoryWindow:    clampInt(GetEnvInt("TRAPLINE_HISTORY_WINDOW", 15), 2, 200),
		LLMHistoryTurns:  clampInt(GetEnvInt("TRAPLINE_LLM_HISTORY_TURNS", 6), 1, 50),
		MaxMessageLength: GetEnvInt("TRAPLINE_MAX_MESSAGE_LENGTH", 5000),

		PatternsFile:     GetEnv("TRAPLINE_PATTERNS_FILE", ""),
		SemanticEnabled:  GetEnvBool("TRAPLINE_SEMANTIC_ENABLED", false),
		EmbedModel:       GetEnv("TRAPLINE_EMBED_MODEL", "text-embedding-3-small"),
		EmbedDimension:   GetEnvInt("TRAPLINE_EMBED_DIMENSION", 1024),
		EnableLocalModel: GetEnvBool("TRAPLINE_ENABLE_LOCAL_MODEL", false),
		LocalModelDir:    GetEnv("TRAPLINE_LOCAL_MODEL_DIR", "./models/scam-classifier"),
		ArchiveDSN:       GetEnv("TRAPLINE_ARCHIVE_DSN", ""),

		LogJSON:  GetEnvBool("TRAPLINE_LOG_JSON", false),
		LogLevel: GetEnv("TRAPLINE_LOG_LEVEL", "info"),
	}

	return cfg
}

// NewOfflineConfig creates a Config for air-gapped operation: no cloud LLM,
// no semantic layer, local classifier allowed if a model is present.
func NewOfflineConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.LLMProvider = ProviderNone
	cfg.LLMAPIKey = ""
	cfg.SemanticEnabled = false
	cfg.EnableLocalModel = true
	return cfg
}

// NewDeepEngagementConfig creates a Config tuned for maximum scammer time
// waste: longer sessions, higher intel bar before closing.
func NewDeepEngagementConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.MaxTurns = 30
	cfg.CompletenessTarget = 90
	cfg.MinTrustTurns = 3
	cfg.MinDumbTurns = 3
	return cfg
}

// TurnBudget returns the per-turn latency budget as a Duration.
func (c *Config) TurnBudget() time.Duration {
	return time.Duration(c.TurnBudgetMs) * time.Millisecond
}

// LLMTimeout returns the per-call LLM sub-budget as a Duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutMs) * time.Millisecond
}

// IsProduction reports whether the service runs with production validation.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// LLMConfigured reports whether an LLM backend is usable.
func (c *Config) LLMConfigured() bool {
	if c.LLMProvider == ProviderNone {
		return false
	}
	if c.LLMProvider == ProviderOllama || c.LLMProvider == ProviderCustom {
		return true // local/self-hosted endpoints need no key
	}
	return c.LLMAPIKey != ""
}

func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

func detectLLMProvider() LLMProvider {
	if p := os.Getenv("TRAPLINE_LLM_PROVIDER"); p != "" {
		return LLMProvider(p)
	}
	if os.Getenv("TRAPLINE_LLM_API_KEY") != "" || os.Getenv("OPENAI_API_KEY") != "" {
		return ProviderOpenAI
	}
	if os.Getenv("GROQ_API_KEY") != "" {
		return ProviderGroq
	}
	if os.Getenv("OPENROUTER_API_KEY") != "" {
		return ProviderOpenRouter
	}
	return ProviderNone
}

// Helper functions for environment variable parsing.
// Exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

// Validate checks that the numeric configuration is coherent. The service
// is designed to run fully degraded, so no secret is hard-required; bad
// tunables are, because they silently break the decision logic.
func (c *Config) Validate() error {
	var problems []string

	if c.AmbiguityBandLow > c.AmbiguityBandHigh {
		problems = append(problems, fmt.Sprintf("ambiguity band inverted: low %.2f > high %.2f", c.AmbiguityBandLow, c.AmbiguityBandHigh))
	}
	if c.AmbiguityBandLow < 0 || c.AmbiguityBandHigh > 10 {
		problems = append(problems, "ambiguity band must stay within the 0-10 raw score range")
	}
	if c.ScamThreshold <= 0 || c.ScamThreshold >= 1 {
		problems = append(problems, fmt.Sprintf("scam threshold %.2f outside (0,1)", c.ScamThreshold))
	}
	if w := c.RuleWeight + c.LLMWeight; w < 0.99 || w > 1.01 {
		problems = append(problems, fmt.Sprintf("rule+llm weights sum to %.2f, expected 1.0", w))
	}
	if c.CompletenessTarget <= 0 || c.CompletenessTarget > 100 {
		problems = append(problems, fmt.Sprintf("completeness target %d outside (0,100]", c.CompletenessTarget))
	}
	if c.MaxTurns < 4 {
		problems = append(problems, fmt.Sprintf("max turns %d leaves no room for engagement", c.MaxTurns))
	}
	if c.TurnBudgetMs <= c.LLMTimeoutMs {
		problems = append(problems, fmt.Sprintf("turn budget %dms must exceed the LLM sub-budget %dms", c.TurnBudgetMs, c.LLMTimeoutMs))
	}

	if c.IsProduction() && !c.LLMConfigured() {
		log.Printf("[STARTUP] Warning: no LLM configured; running rule-only with template replies")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before serving.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	log.Println("[STARTUP] Configuration validated")
}
