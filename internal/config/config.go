package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Auth
	StudypackAPIKey string `yaml:"api_key"`

	// Generation service
	Provider        string `yaml:"provider"`
	Model           string `yaml:"model"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	OllamaHost      string `yaml:"ollama_host"`

	// Per-call limits
	MaxQAPerSection    int           `yaml:"max_qa_per_section"`
	SectionTokenBudget int           `yaml:"section_token_budget"`
	ExtrasTokenBudget  int           `yaml:"extras_token_budget"`
	MaxOutputTokens    int           `yaml:"max_output_tokens"`
	Tokenizer          string        `yaml:"tokenizer"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
	MaxAttempts        int           `yaml:"max_attempts"`
	MaxConcurrentCalls int           `yaml:"max_concurrent_calls"`

	// Segmentation
	HeadingBufferThreshold int `yaml:"heading_buffer_threshold"`
	MinSections            int `yaml:"min_sections"`
	FallbackChunkSize      int `yaml:"fallback_chunk_size"`

	// Worker pool
	WorkerCount  int `yaml:"worker_count"`
	MaxQueueSize int `yaml:"max_queue_size"`

	// Upload limits
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// Job state
	JobTTL time.Duration `yaml:"job_ttl"`

	// PDF
	PDFFallbackPdftotext bool `yaml:"pdf_fallback_pdftotext"`

	// Guide cache; disabled when PathstoreURL is empty.
	PathstoreURL    string `yaml:"pathstore_url"`
	PathstoreAPIKey string `yaml:"pathstore_api_key"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:     "8090",
		LogLevel: "info",

		Provider: "openai",

		MaxQAPerSection:    4,
		SectionTokenBudget: 6000,
		ExtrasTokenBudget:  12000,
		MaxOutputTokens:    4096,
		Tokenizer:          "cl100k_base",
		CallTimeout:        120 * time.Second,
		MaxAttempts:        3,

		HeadingBufferThreshold: 300,
		MinSections:            3,
		FallbackChunkSize:      8000,

		WorkerCount:  4,
		MaxQueueSize: 100,

		MaxUploadBytes: 52428800, // 50MB

		JobTTL: 1 * time.Hour,

		PDFFallbackPdftotext: true,
	}
}

// Load reads .env (if present), then the YAML file named by STUDYPACK_CONFIG
// (if set), then environment variables. Later sources win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("STUDYPACK_CONFIG"); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.StudypackAPIKey = envOr("STUDYPACK_API_KEY", cfg.StudypackAPIKey)

	cfg.Provider = strings.ToLower(envOr("LLM_PROVIDER", cfg.Provider))
	cfg.Model = envOr("LLM_MODEL", cfg.Model)
	cfg.OpenAIAPIKey = envOr("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = envOr("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.GeminiAPIKey = envOr("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.OllamaHost = envOr("OLLAMA_HOST", cfg.OllamaHost)
	if cfg.Model == "" {
		cfg.Model = defaultModel(cfg.Provider)
	}

	cfg.MaxQAPerSection = envInt("MAX_QA_PER_SECTION", cfg.MaxQAPerSection)
	cfg.SectionTokenBudget = envInt("SECTION_TOKEN_BUDGET", cfg.SectionTokenBudget)
	cfg.ExtrasTokenBudget = envInt("EXTRAS_TOKEN_BUDGET", cfg.ExtrasTokenBudget)
	cfg.MaxOutputTokens = envInt("MAX_OUTPUT_TOKENS", cfg.MaxOutputTokens)
	cfg.Tokenizer = envOr("TOKENIZER", cfg.Tokenizer)
	cfg.CallTimeout = envDuration("CALL_TIMEOUT", cfg.CallTimeout)
	cfg.MaxAttempts = envInt("MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.MaxConcurrentCalls = envInt("MAX_CONCURRENT_CALLS", cfg.MaxConcurrentCalls)

	cfg.HeadingBufferThreshold = envInt("HEADING_BUFFER_THRESHOLD", cfg.HeadingBufferThreshold)
	cfg.MinSections = envInt("MIN_SECTIONS", cfg.MinSections)
	cfg.FallbackChunkSize = envInt("FALLBACK_CHUNK_SIZE", cfg.FallbackChunkSize)

	cfg.WorkerCount = envInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.MaxQueueSize = envInt("MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.JobTTL = envDuration("JOB_TTL", cfg.JobTTL)
	cfg.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", cfg.PDFFallbackPdftotext)

	cfg.PathstoreURL = envOr("PATHSTORE_URL", cfg.PathstoreURL)
	cfg.PathstoreAPIKey = envOr("PATHSTORE_API_KEY", cfg.PathstoreAPIKey)

	cfg.applyFloors()
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyFloors resets nonsensical values to their defaults.
func (c *Config) applyFloors() {
	def := Defaults()
	if c.MaxQAPerSection <= 0 {
		c.MaxQAPerSection = def.MaxQAPerSection
	}
	if c.SectionTokenBudget <= 0 {
		c.SectionTokenBudget = def.SectionTokenBudget
	}
	if c.ExtrasTokenBudget <= 0 {
		c.ExtrasTokenBudget = def.ExtrasTokenBudget
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = def.MaxOutputTokens
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.MaxConcurrentCalls < 0 {
		c.MaxConcurrentCalls = 0
	}
	if c.HeadingBufferThreshold < 0 {
		c.HeadingBufferThreshold = def.HeadingBufferThreshold
	}
	if c.MinSections <= 0 {
		c.MinSections = def.MinSections
	}
	if c.FallbackChunkSize <= 0 {
		c.FallbackChunkSize = def.FallbackChunkSize
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = def.WorkerCount
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = def.MaxUploadBytes
	}
	if c.JobTTL <= 0 {
		c.JobTTL = def.JobTTL
	}
}

func defaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5-20250929"
	case "gemini":
		return "gemini-2.5-flash"
	case "ollama":
		return "llama3.1"
	default:
		return "gpt-4o-mini"
	}
}

// ProviderAPIKey returns the key for the selected provider.
func (c Config) ProviderAPIKey() string {
	switch c.Provider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	case "openai":
		return c.OpenAIAPIKey
	default:
		return ""
	}
}

// ProviderBaseURL returns the endpoint override for the selected provider.
func (c Config) ProviderBaseURL() string {
	switch c.Provider {
	case "openai":
		return c.OpenAIBaseURL
	case "ollama":
		return c.OllamaHost
	default:
		return ""
	}
}

// ValidateGeneration checks the settings needed to reach the generation
// service. The CLI needs only these.
func (c Config) ValidateGeneration() error {
	switch c.Provider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required")
		}
	case "ollama":
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.Provider)
	}
	return nil
}

func (c Config) Validate() error {
	if err := c.ValidateGeneration(); err != nil {
		return err
	}
	if c.StudypackAPIKey == "" {
		return fmt.Errorf("STUDYPACK_API_KEY is required")
	}
	if c.PathstoreURL != "" && c.PathstoreAPIKey == "" {
		return fmt.Errorf("PATHSTORE_API_KEY is required when PATHSTORE_URL is set")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
