package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"metalledger/internal/logging"
	"metalledger/internal/pricing"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Normalizer NormalizerConfig `mapstructure:"normalizer"`
	Adapters   AdaptersConfig   `mapstructure:"adapters"`
	Egress     EgressConfig     `mapstructure:"egress"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Actor       string `mapstructure:"actor"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectRetries  int           `mapstructure:"connect_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the ingestion cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// NormalizerConfig carries the outlier policy and source priority tables.
type NormalizerConfig struct {
	OutlierMultiplier  float64             `mapstructure:"outlier_multiplier"`
	RollingMedianDays  int                 `mapstructure:"rolling_median_days"`
	SourcePriority     map[string]int      `mapstructure:"source_priority"`
	MetalPreferences   map[string][]string `mapstructure:"metal_preferences"`
	CollapseByPriority bool                `mapstructure:"collapse_by_priority"`
}

// AdaptersConfig toggles and parameterises the source adapters.
type AdaptersConfig struct {
	Enabled        []string        `mapstructure:"enabled"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	MetalsAPI      MetalsAPIConfig `mapstructure:"metals_api"`
	LBMA           LBMAConfig      `mapstructure:"lbma"`
	ScrapRegister  RegionConfig    `mapstructure:"scrap_register"`
	IScrap         RegionConfig    `mapstructure:"iscrap"`
}

// MetalsAPIConfig configures the metals-api.com spot feed.
type MetalsAPIConfig struct {
	BaseURL   string   `mapstructure:"base_url"`
	APIKey    string   `mapstructure:"api_key"`
	Symbols   []string `mapstructure:"symbols"`
	UserAgent string   `mapstructure:"user_agent"`
}

// LBMAConfig configures the LBMA fix feed. CSVPath takes precedence over
// the live API.
type LBMAConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	CSVPath string `mapstructure:"csv_path"`
}

// RegionConfig selects a regional slice of a synthetic yard feed.
type RegionConfig struct {
	Region string `mapstructure:"region"`
}

// EgressConfig lists hosts adapters may reach.
type EgressConfig struct {
	Allowlist []string `mapstructure:"allowlist"`
}

// CacheConfig points at the Redis latest-price cache.
type CacheConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AlertingConfig defines rejection alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("METALLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// INGEST_INTERVAL_SECONDS is an integer count, not a duration string.
	if secs := v.GetInt("ingest_interval_seconds"); secs > 0 {
		cfg.Scheduler.Interval = time.Duration(secs) * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv accepts the unprefixed variable names used by existing deployments.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"normalizer.outlier_multiplier":  "OUTLIER_MULTIPLIER",
		"normalizer.rolling_median_days": "ROLLING_MEDIAN_DAYS",
		"database.dsn":                   "DATABASE_URL",
		"adapters.metals_api.api_key":    "METALS_API_KEY",
		"adapters.lbma.api_key":          "LBMA_API_KEY",
		"adapters.lbma.base_url":         "LBMA_BASE_URL",
		"adapters.lbma.csv_path":         "LBMA_CSV_PATH",
		"ingest_interval_seconds":        "INGEST_INTERVAL_SECONDS",
	}
	for key, env := range bindings {
		prefixed := "METALLEDGER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "metalledger")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.actor", "pricing_ingestor")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "300s")
	v.SetDefault("scheduler.align_to_interval", false)
	v.SetDefault("scheduler.run_immediately", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x4d4c4544))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("normalizer.outlier_multiplier", 3.0)
	v.SetDefault("normalizer.rolling_median_days", 7)
	v.SetDefault("normalizer.source_priority", pricing.DefaultSourceRanks())
	v.SetDefault("normalizer.metal_preferences", pricing.DefaultMetalPreferences())
	v.SetDefault("normalizer.collapse_by_priority", false)

	v.SetDefault("adapters.enabled", []string{"dealer_manual", "iscrap", "scrap_register", "recycling_today", "metals_api", "lbma"})
	v.SetDefault("adapters.request_timeout", "15s")
	v.SetDefault("adapters.metals_api.base_url", "https://metals-api.com/api")
	v.SetDefault("adapters.metals_api.symbols", []string{"XAU", "XAG", "CU"})
	v.SetDefault("adapters.metals_api.user_agent", "metalledger/1.0")
	v.SetDefault("adapters.lbma.base_url", "https://api.lbma.org.uk")
	v.SetDefault("adapters.scrap_register.region", "South")
	v.SetDefault("adapters.iscrap.region", "")

	v.SetDefault("egress.allowlist", []string{
		"metals-api.com",
		"api.lbma.org.uk",
		"iscrapapp.com",
		"scrapregister.com",
		"api.fastmarkets.com",
		"recyclingtoday.com",
	})

	v.SetDefault("cache.ttl", "15m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.connect_retries", 10)
	v.SetDefault("database.retry_delay", "3s")
	v.SetDefault("database.auto_migrate", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Normalizer.OutlierMultiplier <= 0 {
		return fmt.Errorf("normalizer.outlier_multiplier must be greater than zero")
	}
	if c.Normalizer.RollingMedianDays < 1 {
		return fmt.Errorf("normalizer.rolling_median_days must be at least 1")
	}
	if _, err := c.PriorityTable(); err != nil {
		return fmt.Errorf("normalizer priority table: %w", err)
	}
	if c.Adapters.RequestTimeout < 0 {
		return fmt.Errorf("adapters.request_timeout cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	return nil
}

// PriorityTable builds the immutable source priority table.
func (c *Config) PriorityTable() (pricing.SourcePriorityTable, error) {
	return pricing.NewSourcePriorityTable(c.Normalizer.SourcePriority, c.Normalizer.MetalPreferences)
}

// RollingWindow is the history span requested from the canonical store.
func (c *Config) RollingWindow() time.Duration {
	return time.Duration(c.Normalizer.RollingMedianDays) * 24 * time.Hour
}

// AdapterEnabled reports whether source is listed in adapters.enabled.
func (c *Config) AdapterEnabled(source pricing.SourceID) bool {
	for _, name := range c.Adapters.Enabled {
		if strings.EqualFold(strings.TrimSpace(name), source.String()) {
			return true
		}
	}
	return false
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
