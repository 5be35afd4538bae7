package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config holds runtime configuration values.
type Config struct {
	InputPath    string        `json:"input_path" toml:"input_path"`
	OutputPath   string        `json:"output_path" toml:"output_path"`
	ErrorLogPath string        `json:"error_log_path" toml:"error_log_path"`
	PromptFile   string        `json:"prompt_file" toml:"prompt_file"`
	ChunkSize    int           `json:"chunk_size" toml:"chunk_size"`
	Delay        time.Duration `json:"-" toml:"-"`
	DelayRaw     string        `json:"delay" toml:"delay"`
	Resume       bool          `json:"resume" toml:"resume"`
	AI           AIConfig      `json:"ai" toml:"ai"`
	Mirror       MirrorConfig  `json:"mirror" toml:"mirror"`
	Media        MediaConfig   `json:"media" toml:"media"`
	Status       StatusConfig  `json:"status" toml:"status"`
}

// AIConfig selects and configures the model provider.
type AIConfig struct {
	Provider           string        `json:"provider" toml:"provider"`
	Model              string        `json:"model" toml:"model"`
	Temperature        float64       `json:"temperature" toml:"temperature"`
	APIKey             string        `json:"api_key" toml:"api_key"`
	ServiceAccount     string        `json:"service_account" toml:"service_account"`
	ServiceAccountJSON string        `json:"service_account_json" toml:"service_account_json"`
	ProjectID          string        `json:"project_id" toml:"project_id"`
	Location           string        `json:"location" toml:"location"`
	MaxRetries         int           `json:"max_retries" toml:"max_retries"`
	Timeout            time.Duration `json:"-" toml:"-"`
	TimeoutRaw         string        `json:"timeout" toml:"timeout"`
}

// MirrorConfig lists optional secondary stores that receive every new pair.
type MirrorConfig struct {
	DatabaseURL string `json:"database_url" toml:"database_url"`
	SQLitePath  string `json:"sqlite_path" toml:"sqlite_path"`
	JSONLPath   string `json:"jsonl_path" toml:"jsonl_path"`
}

// MediaConfig describes where finished artifacts are published.
type MediaConfig struct {
	Bucket         string `json:"bucket" toml:"bucket"`
	Region         string `json:"region" toml:"region"`
	Endpoint       string `json:"endpoint" toml:"endpoint"`
	PublicURL      string `json:"public_url" toml:"public_url"`
	KeyPrefix      string `json:"key_prefix" toml:"key_prefix"`
	ForcePathStyle bool   `json:"force_path_style" toml:"force_path_style"`
	LocalDir       string `json:"local_dir" toml:"local_dir"`
}

// StatusConfig controls the optional progress server.
type StatusConfig struct {
	Addr      string `json:"addr" toml:"addr"`
	TokenHash string `json:"token_hash" toml:"token_hash"`
}

const (
	ProviderGemini     = "gemini"
	ProviderGeminiREST = "gemini-rest"
	ProviderVertex     = "vertex"
	ProviderOpenAI     = "openai"

	DefaultChunkSize   = 50
	DefaultDelay       = 30 * time.Second
	DefaultModel       = "gemini-2.5-flash"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// Default returns the configuration used when nothing else is provided.
func Default() Config {
	return Config{
		OutputPath:   "dataset.xlsx",
		ErrorLogPath: "errors.txt",
		ChunkSize:    DefaultChunkSize,
		Delay:        DefaultDelay,
		Resume:       true,
		AI: AIConfig{
			Provider:    ProviderGemini,
			Model:       DefaultModel,
			Temperature: 1.0,
			Location:    "us-central1",
		},
	}
}

// Load reads .env, the optional config file at path and environment overrides, in that order.
// A missing file is not an error; the defaults and environment are used instead.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := parseDurations(&cfg); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	if cfg.AI.Provider == ProviderOpenAI && cfg.AI.Model == DefaultModel {
		cfg.AI.Model = DefaultOpenAIModel
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return nil
}

func parseDurations(cfg *Config) error {
	if raw := strings.TrimSpace(cfg.DelayRaw); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse delay %q: %w", raw, err)
		}
		cfg.Delay = d
	}
	if raw := strings.TrimSpace(cfg.AI.TimeoutRaw); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse ai timeout %q: %w", raw, err)
		}
		cfg.AI.Timeout = d
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.InputPath = getenv("QASYNTH_INPUT", cfg.InputPath)
	cfg.OutputPath = getenv("QASYNTH_OUTPUT", cfg.OutputPath)
	cfg.ErrorLogPath = getenv("QASYNTH_ERROR_LOG", cfg.ErrorLogPath)
	cfg.PromptFile = getenv("QASYNTH_PROMPT_FILE", cfg.PromptFile)
	cfg.ChunkSize = getenvInt("QASYNTH_CHUNK_SIZE", cfg.ChunkSize)
	cfg.Delay = getenvDuration("QASYNTH_DELAY", cfg.Delay)
	cfg.Resume = getenvBool("QASYNTH_RESUME", cfg.Resume)

	cfg.AI.Provider = strings.ToLower(getenv("QASYNTH_PROVIDER", cfg.AI.Provider))
	cfg.AI.Model = getenv("QASYNTH_MODEL", cfg.AI.Model)
	cfg.AI.MaxRetries = getenvInt("QASYNTH_MAX_RETRIES", cfg.AI.MaxRetries)
	cfg.AI.Timeout = getenvDuration("QASYNTH_AI_TIMEOUT", cfg.AI.Timeout)
	cfg.AI.ServiceAccount = getenv("GOOGLE_APPLICATION_CREDENTIALS", cfg.AI.ServiceAccount)
	cfg.AI.ProjectID = getenv("GOOGLE_CLOUD_PROJECT", cfg.AI.ProjectID)
	cfg.AI.Location = getenv("GOOGLE_CLOUD_LOCATION", cfg.AI.Location)
	switch cfg.AI.Provider {
	case ProviderOpenAI:
		cfg.AI.APIKey = getenv("OPENAI_API_KEY", cfg.AI.APIKey)
	default:
		cfg.AI.APIKey = getenv("GENAI_API_KEY", cfg.AI.APIKey)
	}

	cfg.Mirror.DatabaseURL = getenv("DATABASE_URL", cfg.Mirror.DatabaseURL)
	cfg.Mirror.SQLitePath = getenv("QASYNTH_SQLITE_PATH", cfg.Mirror.SQLitePath)
	cfg.Mirror.JSONLPath = getenv("QASYNTH_JSONL_PATH", cfg.Mirror.JSONLPath)

	cfg.Media.Bucket = getenv("S3_BUCKET", cfg.Media.Bucket)
	cfg.Media.Region = getenv("S3_REGION", cfg.Media.Region)
	cfg.Media.Endpoint = getenv("S3_ENDPOINT", cfg.Media.Endpoint)
	cfg.Media.PublicURL = getenv("S3_PUBLIC_URL", cfg.Media.PublicURL)
	cfg.Media.KeyPrefix = strings.Trim(getenv("S3_KEY_PREFIX", cfg.Media.KeyPrefix), "/")
	cfg.Media.ForcePathStyle = getenvBool("S3_FORCE_PATH_STYLE", cfg.Media.ForcePathStyle)
	cfg.Media.LocalDir = getenv("QASYNTH_PUBLISH_DIR", cfg.Media.LocalDir)

	cfg.Status.Addr = getenv("QASYNTH_STATUS_ADDR", cfg.Status.Addr)
	cfg.Status.TokenHash = getenv("QASYNTH_STATUS_TOKEN_HASH", cfg.Status.TokenHash)
}

// Validate reports configuration that would make a run impossible before any chunk is processed.
func (c Config) Validate() error {
	if strings.TrimSpace(c.InputPath) == "" {
		return fmt.Errorf("input path is required")
	}
	if strings.TrimSpace(c.OutputPath) == "" {
		return fmt.Errorf("output path is required")
	}
	if !strings.EqualFold(filepath.Ext(c.OutputPath), ".xlsx") {
		return fmt.Errorf("output path %s must end in .xlsx", c.OutputPath)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.AI.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return c.AI.validate()
}

func (a AIConfig) validate() error {
	switch a.Provider {
	case ProviderGemini, ProviderOpenAI:
		if strings.TrimSpace(a.APIKey) == "" {
			return fmt.Errorf("api key for provider %s is missing (set %s)", a.Provider, a.keyEnv())
		}
	case ProviderGeminiREST:
		if strings.TrimSpace(a.APIKey) == "" && a.ServiceAccount == "" && a.ServiceAccountJSON == "" {
			return fmt.Errorf("provider %s needs GENAI_API_KEY or service account credentials", a.Provider)
		}
	case ProviderVertex:
		if a.ProjectID == "" || a.Location == "" {
			return fmt.Errorf("provider %s needs project_id and location", a.Provider)
		}
	default:
		return fmt.Errorf("unknown ai provider %q", a.Provider)
	}
	return nil
}

func (a AIConfig) keyEnv() string {
	if a.Provider == ProviderOpenAI {
		return "OPENAI_API_KEY"
	}
	return "GENAI_API_KEY"
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

func getenvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}

	return parsed
}

func getenvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}

	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}

	return parsed
}
