package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	REST     RESTConfig     `yaml:"rest"`
	HTTP     HTTPConfig     `yaml:"http"`
	State    StateConfig    `yaml:"state"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Hedge    HedgeConfig    `yaml:"hedge"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Telegram TelegramConfig `yaml:"telegram"`
	Audit    AuditConfig    `yaml:"audit"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type HTTPConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	OwnerHeader  string        `yaml:"owner_header"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type WalletConfig struct {
	Path          string `yaml:"path"`
	EncryptionKey string `yaml:"encryption_key"`
}

// HedgeConfig carries the saga tunables. Zero values are replaced by the
// defaults documented on applyDefaults.
type HedgeConfig struct {
	MarginBuffer       float64       `yaml:"margin_buffer"`
	PriceSlippage      float64       `yaml:"price_slippage"`
	FillTimeout        time.Duration `yaml:"fill_timeout"`
	FastPollInterval   time.Duration `yaml:"fast_poll_interval"`
	FastPollWindow     time.Duration `yaml:"fast_poll_window"`
	SlowPollInterval   time.Duration `yaml:"slow_poll_interval"`
	ClaimAttempts      int           `yaml:"claim_attempts"`
	ActivePrefix       string        `yaml:"active_prefix"`
	IdlePrefix         string        `yaml:"idle_prefix"`
	SubaccountNameMax  int           `yaml:"subaccount_name_max"`
	AssetCacheDuration time.Duration `yaml:"asset_cache_duration"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type AuditConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB == 0 {
			cfg.Log.MaxSizeMB = 100
		}
		if cfg.Log.MaxBackups == 0 {
			cfg.Log.MaxBackups = 5
		}
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.HTTP.Address == "" {
		cfg.HTTP.Address = "127.0.0.1:8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	// Sagas can spend the whole fill window polling; leave room for rollback.
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 90 * time.Second
	}
	if cfg.HTTP.OwnerHeader == "" {
		cfg.HTTP.OwnerHeader = "X-Owner-Address"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hl-hedger.db"
	}
	if cfg.Wallet.Path == "" {
		cfg.Wallet.Path = "data/wallets"
	}
	if cfg.Hedge.MarginBuffer == 0 {
		cfg.Hedge.MarginBuffer = 0.02
	}
	if cfg.Hedge.PriceSlippage == 0 {
		cfg.Hedge.PriceSlippage = 0.01
	}
	if cfg.Hedge.FillTimeout == 0 {
		cfg.Hedge.FillTimeout = 30 * time.Second
	}
	if cfg.Hedge.FastPollInterval == 0 {
		cfg.Hedge.FastPollInterval = 500 * time.Millisecond
	}
	if cfg.Hedge.FastPollWindow == 0 {
		cfg.Hedge.FastPollWindow = 5 * time.Second
	}
	if cfg.Hedge.SlowPollInterval == 0 {
		cfg.Hedge.SlowPollInterval = time.Second
	}
	if cfg.Hedge.ClaimAttempts == 0 {
		cfg.Hedge.ClaimAttempts = 3
	}
	if cfg.Hedge.ActivePrefix == "" {
		cfg.Hedge.ActivePrefix = "mc-"
	}
	if cfg.Hedge.IdlePrefix == "" {
		cfg.Hedge.IdlePrefix = "unused-"
	}
	if cfg.Hedge.SubaccountNameMax == 0 {
		cfg.Hedge.SubaccountNameMax = 16
	}
	if cfg.Hedge.AssetCacheDuration == 0 {
		cfg.Hedge.AssetCacheDuration = 30 * time.Second
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Audit.Schema == "" {
		cfg.Audit.Schema = "public"
	}
	if cfg.Audit.QueueSize == 0 {
		cfg.Audit.QueueSize = 256
	}
}

func applyEnvOverrides(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("HL_TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("HL_TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	if dsn := strings.TrimSpace(os.Getenv("HL_AUDIT_DSN")); dsn != "" {
		cfg.Audit.DSN = dsn
	}
	if key := strings.TrimSpace(os.Getenv("HL_WALLET_ENCRYPTION_KEY")); key != "" {
		cfg.Wallet.EncryptionKey = key
	}
}

func validate(cfg *Config) error {
	if cfg.Hedge.MarginBuffer < 0 {
		return errors.New("hedge.margin_buffer must be >= 0")
	}
	if cfg.Hedge.PriceSlippage < 0 || cfg.Hedge.PriceSlippage >= 1 {
		return errors.New("hedge.price_slippage must be in [0, 1)")
	}
	if cfg.Hedge.FillTimeout < 0 || cfg.Hedge.FastPollInterval < 0 || cfg.Hedge.SlowPollInterval < 0 || cfg.Hedge.FastPollWindow < 0 {
		return errors.New("hedge polling durations must be >= 0")
	}
	if cfg.Hedge.ClaimAttempts < 0 {
		return errors.New("hedge.claim_attempts must be >= 0")
	}
	if cfg.Hedge.ActivePrefix == cfg.Hedge.IdlePrefix {
		return errors.New("hedge.active_prefix must differ from hedge.idle_prefix")
	}
	if cfg.Hedge.SubaccountNameMax <= len(cfg.Hedge.ActivePrefix) {
		return errors.New("hedge.subaccount_name_max must leave room after hedge.active_prefix")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Audit.Enabled && strings.TrimSpace(cfg.Audit.DSN) == "" {
		return errors.New("audit.dsn is required when audit is enabled")
	}
	if cfg.Audit.QueueSize < 0 {
		return errors.New("audit.queue_size must be >= 0")
	}
	return nil
}
