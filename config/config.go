package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName     = "propdash"
	EnvFileName = "config.env"
)

// requiredEnvVars lists all environment variables that must be set for the
// server to start.
var requiredEnvVars = []string{"GEMINI_API_KEY"}

// Config is the runtime configuration read from the environment.
type Config struct {
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	HTTPAddr           string
	RateLimitPerMinute int

	EstimateTimeout    time.Duration
	RetryAttempts      int
	RepairAttempt      bool
	ReconcileTolerance float64
	CacheEnabled       bool

	DBPath string

	TelegramBotToken    string
	TelegramChatID      int64
	TelegramEstimateBot bool
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory and from .env in the working directory. Variables that
// are already set win. Errors are ignored since the files may not exist.
func LoadEnvFile() {
	if configBase, err := os.UserConfigDir(); err == nil {
		_ = godotenv.Load(filepath.Join(configBase, AppName, EnvFileName))
	}
	_ = godotenv.Load(".env")
}

// CheckRequired checks if all required environment variables are set.
// Returns the names of any missing variables.
func CheckRequired() []string {
	var missing []string
	for _, v := range requiredEnvVars {
		if strings.TrimSpace(os.Getenv(v)) == "" {
			missing = append(missing, v)
		}
	}
	return missing
}

// Load reads the configuration from the environment. Unset variables take
// their defaults; malformed values are errors.
func Load() (*Config, error) {
	p := parser{}
	cfg := &Config{
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   p.str("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL: os.Getenv("GEMINI_BASE_URL"),

		HTTPAddr:           p.str("HTTP_ADDR", ":8080"),
		RateLimitPerMinute: p.int("RATE_LIMIT_PER_MINUTE", 30),

		EstimateTimeout:    p.duration("ESTIMATE_TIMEOUT", 90*time.Second),
		RetryAttempts:      p.int("ESTIMATE_RETRY_ATTEMPTS", 0),
		RepairAttempt:      p.bool("ESTIMATE_REPAIR", false),
		ReconcileTolerance: p.float("ESTIMATE_RECONCILE_TOLERANCE", 0.02),
		CacheEnabled:       p.bool("ESTIMATE_CACHE", true),

		DBPath: p.str("PROPDASH_DB_PATH", "propdash.db"),

		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:      p.int64("TELEGRAM_CHAT_ID", 0),
		TelegramEstimateBot: p.bool("TELEGRAM_ESTIMATE_BOT", false),
	}

	if cfg.RetryAttempts < 0 {
		p.fail("ESTIMATE_RETRY_ATTEMPTS", "must not be negative")
	}
	if cfg.RateLimitPerMinute < 0 {
		p.fail("RATE_LIMIT_PER_MINUTE", "must not be negative")
	}
	if cfg.ReconcileTolerance < 0 || cfg.ReconcileTolerance >= 1 {
		p.fail("ESTIMATE_RECONCILE_TOLERANCE", "must be a fraction between 0 and 1")
	}
	if cfg.EstimateTimeout <= 0 {
		p.fail("ESTIMATE_TIMEOUT", "must be positive")
	}
	if cfg.TelegramEstimateBot && cfg.TelegramBotToken == "" {
		p.fail("TELEGRAM_ESTIMATE_BOT", "requires TELEGRAM_BOT_TOKEN")
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TelegramConfigured reports whether Telegram credentials are present.
func (c *Config) TelegramConfigured() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	errs []error
}

func (p *parser) fail(key, reason string) {
	p.errs = append(p.errs, fmt.Errorf("%s %s", key, reason))
}

func (p *parser) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) str(key, def string) string {
	if v, ok := p.lookup(key); ok {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, fmt.Sprintf("must be an integer, got %q", v))
		return def
	}
	return n
}

func (p *parser) int64(key string, def int64) int64 {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, fmt.Sprintf("must be an integer, got %q", v))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, fmt.Sprintf("must be a number, got %q", v))
		return def
	}
	return f
}

func (p *parser) bool(key string, def bool) bool {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, fmt.Sprintf("must be true or false, got %q", v))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, fmt.Sprintf("must be a duration such as 90s, got %q", v))
		return def
	}
	return d
}
