package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/0xsamyy/killerwhale/internal/classifier"
	"github.com/0xsamyy/killerwhale/internal/ledger"
	"github.com/0xsamyy/killerwhale/internal/price"
)

// Config holds all runtime configuration for the service. Read once at
// startup.
type Config struct {
	// Required
	TelegramBotToken    string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID      int64  `envconfig:"TELEGRAM_CHAT_ID"`
	TelegramAdminChatID int64  `envconfig:"TELEGRAM_ADMIN_CHAT_ID"`

	// Ledger
	RPCURLs       []string      `envconfig:"SOLANA_RPC_URLS" default:"https://api.mainnet-beta.solana.com"`
	WSSURL        string        `envconfig:"SOLANA_WSS_URL"`
	Commitment    string        `envconfig:"COMMITMENT" default:"confirmed"`
	RPCTimeout    time.Duration `envconfig:"RPC_TIMEOUT" default:"10s"`
	RPCMaxRetries int           `envconfig:"RPC_MAX_RETRIES" default:"1"`

	// Classification, in SOL
	WhaleThreshold decimal.Decimal `envconfig:"WHALE_THRESHOLD" default:"1000"`
	LoudThreshold  decimal.Decimal `envconfig:"LOUD_THRESHOLD" default:"5000"`
	AlphaThreshold decimal.Decimal `envconfig:"ALPHA_THRESHOLD" default:"100"`

	// Scanning. Explicit lag/margin override the profile.
	ScanProfile          string        `envconfig:"SCAN_PROFILE" default:"balanced"`
	LagBoundOverride     *uint64       `envconfig:"SCAN_LAG_BOUND"`
	SafetyMarginOverride *uint64       `envconfig:"SCAN_SAFETY_MARGIN"`
	IdleInterval         time.Duration `envconfig:"SCAN_IDLE_INTERVAL" default:"400ms"`
	MaxPendingAttempts   int           `envconfig:"SCAN_MAX_PENDING" default:"5"`
	StartSlot            uint64        `envconfig:"START_SLOT"`

	// Price
	PriceSources   []string      `envconfig:"PRICE_SOURCES" default:"coingecko,binance,jupiter"`
	PriceMaxAge    time.Duration `envconfig:"PRICE_MAX_AGE" default:"30s"`
	PriceBootstrap float64       `envconfig:"PRICE_BOOTSTRAP" default:"105"`
	PriceTimeout   time.Duration `envconfig:"PRICE_TIMEOUT" default:"3s"`

	// Alerts
	AlertQueueSize  int           `envconfig:"ALERT_QUEUE_SIZE" default:"256"`
	AlertRatePerSec float64       `envconfig:"ALERT_RATE" default:"1"`
	AlertMaxPause   time.Duration `envconfig:"ALERT_MAX_PAUSE" default:"60s"`

	// Storage
	DBPath        string        `envconfig:"DB_PATH" default:"killerwhale.db"`
	RegistryPath  string        `envconfig:"REGISTRY_PATH"`
	PostgresDSN   string        `envconfig:"POSTGRES_DSN"`
	ClickHouseDSN string        `envconfig:"CLICKHOUSE_DSN"`
	RedisURL      string        `envconfig:"REDIS_URL"`
	DedupeTTL     time.Duration `envconfig:"DEDUPE_TTL" default:"6h"`

	// Ops
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	AppEnv      string `envconfig:"APP_ENV" default:"development"`

	// Resolved by Load.
	Scan       ScanProfile           `ignored:"true"`
	Thresholds classifier.Thresholds `ignored:"true"`
}

// allowedCommitments is kept small and explicit to avoid surprises.
var allowedCommitments = map[string]struct{}{
	"processed": {},
	"confirmed": {},
	"finalized": {},
}

// Load reads environment variables, applies defaults, validates,
// and returns a Config instance. It attempts to load .env if present.
func Load() (Config, error) {
	// Load .env if it exists; ignore if missing.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolve normalizes, derives and validates. Every problem is reported at once.
func (c *Config) resolve() error {
	var errs []string

	c.TelegramBotToken = strings.TrimSpace(c.TelegramBotToken)
	if c.TelegramBotToken == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN is required (get it from @BotFather)")
	}
	if c.TelegramChatID == 0 {
		errs = append(errs, "TELEGRAM_CHAT_ID is required (the alert channel id, e.g. -100...)")
	}
	if c.TelegramAdminChatID == 0 {
		errs = append(errs, "TELEGRAM_ADMIN_CHAT_ID is required (your numeric chat id)")
	}

	var urls []string
	for _, u := range c.RPCURLs {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if !hasScheme(u, "http://", "https://") {
			errs = append(errs, fmt.Sprintf("SOLANA_RPC_URLS entries must start with http:// or https://, got %q", redactURL(u)))
			continue
		}
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		errs = append(errs, "SOLANA_RPC_URLS needs at least one endpoint")
	}
	c.RPCURLs = urls

	c.WSSURL = strings.TrimSpace(c.WSSURL)
	if c.WSSURL != "" && !hasScheme(c.WSSURL, "ws://", "wss://") {
		errs = append(errs, fmt.Sprintf("SOLANA_WSS_URL must start with wss://, got %q", redactURL(c.WSSURL)))
	}

	c.Commitment = strings.ToLower(strings.TrimSpace(c.Commitment))
	if _, ok := allowedCommitments[c.Commitment]; !ok {
		errs = append(errs, fmt.Sprintf("COMMITMENT must be one of processed|confirmed|finalized, got %q", c.Commitment))
	}

	c.Thresholds = classifier.Thresholds{
		Whale: ledger.SOLToLamports(c.WhaleThreshold),
		Loud:  ledger.SOLToLamports(c.LoudThreshold),
		Alpha: ledger.SOLToLamports(c.AlphaThreshold),
	}
	if c.WhaleThreshold.IsNegative() || c.LoudThreshold.IsNegative() || c.AlphaThreshold.IsNegative() {
		errs = append(errs, "thresholds must not be negative")
	} else if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, "thresholds: "+err.Error())
	}

	profile, ok := Profile(c.ScanProfile)
	if !ok {
		errs = append(errs, fmt.Sprintf("SCAN_PROFILE must be one of %s, got %q", strings.Join(ProfileNames(), "|"), c.ScanProfile))
	}
	if c.LagBoundOverride != nil {
		profile.LagBound = *c.LagBoundOverride
	}
	if c.SafetyMarginOverride != nil {
		profile.SafetyMargin = *c.SafetyMarginOverride
	}
	if err := profile.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	c.Scan = profile

	if c.IdleInterval <= 0 {
		errs = append(errs, "SCAN_IDLE_INTERVAL must be positive")
	}
	if c.MaxPendingAttempts <= 0 {
		errs = append(errs, "SCAN_MAX_PENDING must be positive")
	}

	if _, err := price.ByName(c.PriceSources, nil); err != nil {
		errs = append(errs, "PRICE_SOURCES: "+err.Error())
	}
	if !price.Valid(c.PriceBootstrap) {
		errs = append(errs, "PRICE_BOOTSTRAP must be a positive number")
	}
	if c.AlertQueueSize <= 0 {
		errs = append(errs, "ALERT_QUEUE_SIZE must be positive")
	}

	if c.RedisURL != "" && !hasScheme(c.RedisURL, "redis://", "rediss://") {
		errs = append(errs, "REDIS_URL must start with redis:// or rediss://")
	}
	if c.ClickHouseDSN != "" && !hasScheme(c.ClickHouseDSN, "clickhouse://") {
		errs = append(errs, "CLICKHOUSE_DSN must start with clickhouse://")
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be one of debug|info|warn|error, got %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return errors.New("config validation error:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

func hasScheme(u string, schemes ...string) bool {
	lower := strings.ToLower(u)
	for _, s := range schemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	return false
}

// MustLoad is a convenience for main(): exit fast with a readable error.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		// Print a clean error (no stack trace) so non-Go users can fix env quickly.
		fmt.Fprintf(os.Stderr, "\nFATAL: %v\n\n", err)
		os.Exit(1)
	}
	return cfg
}

// RedactedSummary returns a safe human-readable snapshot of the config.
func (c Config) RedactedSummary() string {
	rpcs := make([]string, 0, len(c.RPCURLs))
	for _, u := range c.RPCURLs {
		rpcs = append(rpcs, redactURL(u))
	}
	return fmt.Sprintf(
		"config{ rpc=%s, wss=%s, commitment=%s, profile=%s(lag=%d margin=%d), whale=%s loud=%s alpha=%s, "+
			"prices=%s, db=%s, postgres=%s, clickhouse=%s, redis=%s, telegram_bot_token=%s, chat=%d, admin=%d, log_level=%s }",
		strings.Join(rpcs, ","),
		redactURL(c.WSSURL),
		c.Commitment,
		c.Scan.Name, c.Scan.LagBound, c.Scan.SafetyMargin,
		c.WhaleThreshold, c.LoudThreshold, c.AlphaThreshold,
		strings.Join(c.PriceSources, ","),
		c.DBPath,
		redactURL(c.PostgresDSN),
		redactURL(c.ClickHouseDSN),
		redactURL(c.RedisURL),
		redactToken(c.TelegramBotToken),
		c.TelegramChatID,
		c.TelegramAdminChatID,
		c.LogLevel,
	)
}

func redactToken(tok string) string {
	if len(tok) > 6 {
		return tok[:6] + "...(redacted)"
	}
	if tok == "" {
		return "(empty)"
	}
	return "***"
}

// redactURL hides passwords and api-key query values.
func redactURL(raw string) string {
	if raw == "" {
		return "(none)"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	q := u.Query()
	for _, k := range []string{"api-key", "api_key", "apikey", "token"} {
		if q.Has(k) {
			q.Set(k, "***")
		}
	}
	u.RawQuery = q.Encode()
	return u.Redacted()
}
