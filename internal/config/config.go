package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"

	StrategyCombined = "combined"
	StrategySplit    = "split"

	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// GenerationConfig holds the sampling parameters sent with every model call.
type GenerationConfig struct {
	Model           string        `yaml:"model"`
	Temperature     float32       `yaml:"temperature"`
	TopP            float32       `yaml:"top_p"`
	TopK            int32         `yaml:"top_k"`
	MaxOutputTokens int32         `yaml:"max_output_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Config holds the configuration for the application.
type Config struct {
	Provider     string `yaml:"provider"`
	GeminiAPIKey string `yaml:"-"`
	GroqAPIKey   string `yaml:"-"`

	// GroqURL overrides the Groq chat completions endpoint.
	GroqURL string `yaml:"groq_url"`

	Generation     GenerationConfig `yaml:"generation"`
	MaxRetries     int              `yaml:"max_retries"`
	MaxConcurrency int              `yaml:"max_concurrency"`
	RetryBackoff   time.Duration    `yaml:"retry_backoff"`
	ParseRetries   int              `yaml:"parse_retries"`
	RequestTimeout time.Duration    `yaml:"request_timeout"`
	MacroTolerance float64          `yaml:"macro_tolerance"`
	StartDateGrace time.Duration    `yaml:"start_date_grace"`
	Strategy       string           `yaml:"strategy"`
	DefaultLocale  string           `yaml:"default_locale"`

	StorageBackend string `yaml:"storage_backend"`
	DatabasePath   string `yaml:"database_path"`
	PostgresDSN    string `yaml:"-"`

	SessionSecret string `yaml:"-"`
	Port          string `yaml:"port"`
	LogMode       string `yaml:"log_mode"`

	// Operator alerts (optional)
	TelegramBotToken    string `yaml:"-"`
	TelegramAdminChatID int64  `yaml:"telegram_admin_chat_id"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Provider: ProviderGemini,
		Generation: GenerationConfig{
			Model:           "gemini-1.5-pro",
			Temperature:     0.7,
			TopP:            0.8,
			TopK:            40,
			MaxOutputTokens: 8000,
			Timeout:         45 * time.Second,
		},
		MaxRetries:     2,
		MaxConcurrency: 4,
		RetryBackoff:   time.Second,
		ParseRetries:   1,
		RequestTimeout: 60 * time.Second,
		MacroTolerance: 0.10,
		StartDateGrace: 24 * time.Hour,
		Strategy:       StrategyCombined,
		DefaultLocale:  "es-ES",
		StorageBackend: BackendSQLite,
		DatabasePath:   "data/db/kiui.db",
		Port:           "8080",
		LogMode:        "development",
	}
}

// NewFromEnv creates a new Config from defaults, the optional YAML file named by
// KIUI_CONFIG_FILE, and environment variables, in increasing precedence.
//
// A missing model credential is not an error here: the pipeline reports it as a
// configuration failure when a generation is attempted.
func NewFromEnv() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("KIUI_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.GeminiAPIKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_AI_API_KEY"))
	cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")
	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	setString(&cfg.Provider, "LLM_PROVIDER")
	setString(&cfg.Generation.Model, "LLM_MODEL")
	setString(&cfg.GroqURL, "GROQ_API_URL")
	setString(&cfg.Strategy, "GENERATION_STRATEGY")
	setString(&cfg.StorageBackend, "STORAGE_BACKEND")
	setString(&cfg.DatabasePath, "DATABASE_PATH")
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogMode, "LOG_MODE")
	setString(&cfg.DefaultLocale, "DEFAULT_LOCALE")

	if err := setInt(&cfg.MaxRetries, "LLM_MAX_RETRIES"); err != nil {
		return nil, err
	}
	if err := setInt(&cfg.MaxConcurrency, "LLM_MAX_CONCURRENCY"); err != nil {
		return nil, err
	}
	if err := setDuration(&cfg.RetryBackoff, "LLM_RETRY_BACKOFF"); err != nil {
		return nil, err
	}
	if err := setDuration(&cfg.Generation.Timeout, "LLM_TIMEOUT"); err != nil {
		return nil, err
	}
	if err := setDuration(&cfg.RequestTimeout, "REQUEST_TIMEOUT"); err != nil {
		return nil, err
	}
	if err := setFloat(&cfg.MacroTolerance, "MACRO_TOLERANCE"); err != nil {
		return nil, err
	}
	if v := os.Getenv("TELEGRAM_ADMIN_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_ADMIN_CHAT_ID: %w", err)
		}
		cfg.TelegramAdminChatID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks value domains and cross-field requirements.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderGroq:
	default:
		return fmt.Errorf("invalid LLM_PROVIDER %q", c.Provider)
	}
	switch c.Strategy {
	case StrategyCombined, StrategySplit:
	default:
		return fmt.Errorf("invalid GENERATION_STRATEGY %q", c.Strategy)
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 1 {
		return fmt.Errorf("invalid temperature %.2f: must be within [0, 1]", c.Generation.Temperature)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid LLM_MAX_RETRIES %d", c.MaxRetries)
	}
	if c.ParseRetries < 0 {
		return fmt.Errorf("invalid parse_retries %d", c.ParseRetries)
	}
	if c.MacroTolerance <= 0 {
		return fmt.Errorf("invalid MACRO_TOLERANCE %.2f: must be positive", c.MacroTolerance)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid REQUEST_TIMEOUT %s", c.RequestTimeout)
	}
	switch c.StorageBackend {
	case BackendSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH environment variable not set")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN environment variable not set")
		}
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q", c.StorageBackend)
	}
	return nil
}

// APIKey returns the credential of the configured provider, if any.
func (c *Config) APIKey() string {
	if c.Provider == ProviderGroq {
		return c.GroqAPIKey
	}
	return c.GeminiAPIKey
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
