package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"stockdata/internal/logging"
	"stockdata/internal/marketdata"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig                   `mapstructure:"app"`
	Logging   logging.Config              `mapstructure:"logging"`
	HTTP      HTTPConfig                  `mapstructure:"http"`
	Providers map[string]ProviderSettings `mapstructure:"providers"`
	Manager   ManagerConfig               `mapstructure:"manager"`
	Watch     WatchConfig                 `mapstructure:"watch"`
	Database  DatabaseConfig              `mapstructure:"database"`
	Alerting  AlertingConfig              `mapstructure:"alerting"`
	Export    ExportConfig                `mapstructure:"export"`
	Server    ServerConfig                `mapstructure:"server"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig is shared by every outbound provider call.
type HTTPConfig struct {
	UserAgent string `mapstructure:"user_agent"`
}

// ProviderSettings configures one upstream adapter. The trailing fields only
// apply to the providers that understand them.
type ProviderSettings struct {
	DisplayName  string                     `mapstructure:"display_name"`
	BaseURL      string                     `mapstructure:"base_url"`
	Enabled      bool                       `mapstructure:"enabled"`
	Priority     int                        `mapstructure:"priority"`
	RateLimit    marketdata.RateLimitConfig `mapstructure:"rate_limit"`
	HealthSymbol string                     `mapstructure:"health_symbol"`
	Timeout      time.Duration              `mapstructure:"timeout"`

	MaxSpanDays int           `mapstructure:"max_span_days"`
	ChunkDelay  time.Duration `mapstructure:"chunk_delay"`
	GoldPriceID string        `mapstructure:"gold_price_id"`
	PageSize    int           `mapstructure:"page_size"`
	MaxPages    int           `mapstructure:"max_pages"`
	CountBack   int           `mapstructure:"count_back"`
}

// ProviderConfig converts the settings into the adapter-facing shape.
func (p ProviderSettings) ProviderConfig(name marketdata.ProviderName) marketdata.ProviderConfig {
	return marketdata.ProviderConfig{
		Name:         name,
		DisplayName:  p.DisplayName,
		BaseURL:      p.BaseURL,
		Enabled:      p.Enabled,
		Priority:     p.Priority,
		RateLimit:    p.RateLimit,
		HealthSymbol: p.HealthSymbol,
		Timeout:      p.Timeout,
	}
}

// ManagerConfig holds the routing and caching policy of the source manager.
// A negative TTL turns caching off for that operation.
type ManagerConfig struct {
	DefaultSource    string        `mapstructure:"default_source"`
	FallbackOrder    []string      `mapstructure:"fallback_order"`
	HistoricalTTL    time.Duration `mapstructure:"historical_ttl"`
	CurrentTTL       time.Duration `mapstructure:"current_ttl"`
	BatchTTL         time.Duration `mapstructure:"batch_ttl"`
	MaxCacheEntries  int           `mapstructure:"max_cache_entries"`
	BatchConcurrency int           `mapstructure:"batch_concurrency"`
}

// WatchConfig governs the background refresh loop.
type WatchConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	Symbols         []string      `mapstructure:"symbols"`
	Resolution      string        `mapstructure:"resolution"`
	HealthChecks    bool          `mapstructure:"health_checks"`
	// HealthRetention prunes archived health events older than this. Zero keeps them all.
	HealthRetention time.Duration `mapstructure:"health_retention"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// AlertingConfig routes provider health notifications.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	NotifyRecovery bool           `mapstructure:"notify_recovery"`
	Channels       []string       `mapstructure:"channels"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

type providerDefaults struct {
	name         string
	displayName  string
	baseURL      string
	enabled      bool
	priority     int
	rpm          int
	burst        int
	healthSymbol string
}

var builtinProviders = []providerDefaults{
	{"vndirect", "VNDIRECT Securities", "https://dchart-api.vndirect.com.vn", true, 1, 60, 10, "VNM"},
	{"ssi", "SSI Securities", "https://iboard-api.ssi.com.vn", true, 2, 40, 8, "VNM"},
	{"tcbs", "TCBS Securities", "https://apipubaws.tcbs.com.vn", true, 3, 60, 10, "TCB"},
	{"vngold", "Vietnamese Gold (SJC)", "https://sjc.com.vn/GoldPrice/Services/PriceService.ashx", true, 4, 30, 5, "VNGOLD"},
	{"vietcap", "VietCap Securities", "https://trading.vietcap.com.vn", false, 5, 30, 5, "VNM"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stockdata")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("http.user_agent", "")

	for _, p := range builtinProviders {
		prefix := "providers." + p.name + "."
		v.SetDefault(prefix+"display_name", p.displayName)
		v.SetDefault(prefix+"base_url", p.baseURL)
		v.SetDefault(prefix+"enabled", p.enabled)
		v.SetDefault(prefix+"priority", p.priority)
		v.SetDefault(prefix+"rate_limit.requests_per_minute", p.rpm)
		v.SetDefault(prefix+"rate_limit.burst_limit", p.burst)
		v.SetDefault(prefix+"health_symbol", p.healthSymbol)
		v.SetDefault(prefix+"timeout", "10s")
	}
	v.SetDefault("providers.vngold.max_span_days", 90)
	v.SetDefault("providers.vngold.chunk_delay", "1s")
	v.SetDefault("providers.vngold.gold_price_id", "1")
	v.SetDefault("providers.ssi.page_size", 100)
	v.SetDefault("providers.ssi.max_pages", 20)
	v.SetDefault("providers.tcbs.count_back", 2000)
	v.SetDefault("providers.vietcap.count_back", 2000)

	v.SetDefault("manager.default_source", string(marketdata.ProviderVNDirect))
	v.SetDefault("manager.fallback_order", []string{})
	v.SetDefault("manager.historical_ttl", "60s")
	v.SetDefault("manager.current_ttl", "10s")
	v.SetDefault("manager.batch_ttl", "10s")
	v.SetDefault("manager.max_cache_entries", 1000)
	v.SetDefault("manager.batch_concurrency", 4)

	v.SetDefault("watch.interval", "5m")
	v.SetDefault("watch.align_to_bucket", true)
	v.SetDefault("watch.run_on_start", false)
	v.SetDefault("watch.startup_delay", "0s")
	v.SetDefault("watch.advisory_lock_key", int64(0x53544b44))
	v.SetDefault("watch.symbols", []string{"VNM", "FPT", "VNGOLD"})
	v.SetDefault("watch.resolution", string(marketdata.ResolutionDaily))
	v.SetDefault("watch.health_checks", true)
	v.SetDefault("watch.health_retention", "720h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.notify_recovery", true)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.request_timeout", "45s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Watch.Interval <= 0 {
		return fmt.Errorf("watch.interval must be greater than zero")
	}
	if c.Watch.HealthRetention < 0 {
		return fmt.Errorf("watch.health_retention cannot be negative")
	}
	if _, err := marketdata.ParseResolution(c.Watch.Resolution); err != nil {
		return fmt.Errorf("watch.resolution: %w", err)
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("providers must configure at least one source")
	}
	for key, p := range c.Providers {
		if !KnownProvider(key) {
			return fmt.Errorf("providers.%s is not a supported provider", key)
		}
		if p.RateLimit.RequestsPerMinute < 0 {
			return fmt.Errorf("providers.%s.rate_limit.requests_per_minute cannot be negative", key)
		}
		if p.RateLimit.BurstLimit < 0 {
			return fmt.Errorf("providers.%s.rate_limit.burst_limit cannot be negative", key)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("providers.%s.timeout cannot be negative", key)
		}
		if p.MaxSpanDays < 0 {
			return fmt.Errorf("providers.%s.max_span_days cannot be negative", key)
		}
	}
	if c.Manager.DefaultSource != "" {
		if _, ok := c.Provider(marketdata.ProviderName(c.Manager.DefaultSource)); !ok {
			return fmt.Errorf("manager.default_source %q is not configured", c.Manager.DefaultSource)
		}
	}
	for _, name := range c.Manager.FallbackOrder {
		if _, ok := c.Provider(marketdata.ProviderName(strings.TrimSpace(name))); !ok {
			return fmt.Errorf("manager.fallback_order entry %q is not configured", name)
		}
	}
	if c.Manager.MaxCacheEntries < 0 {
		return fmt.Errorf("manager.max_cache_entries cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// KnownProvider reports whether key names a provider this build can talk to.
func KnownProvider(key string) bool {
	switch marketdata.ProviderName(strings.ToUpper(key)) {
	case marketdata.ProviderVNDirect, marketdata.ProviderSSI, marketdata.ProviderVNGold,
		marketdata.ProviderTCBS, marketdata.ProviderVietcap:
		return true
	}
	return false
}

// Provider looks up settings by provider name, ignoring case.
func (c *Config) Provider(name marketdata.ProviderName) (ProviderSettings, bool) {
	p, ok := c.Providers[strings.ToLower(string(name))]
	return p, ok
}

// ProviderNames lists the configured providers in a stable order.
func (c *Config) ProviderNames() []marketdata.ProviderName {
	out := make([]marketdata.ProviderName, 0, len(c.Providers))
	for key := range c.Providers {
		out = append(out, marketdata.ProviderName(strings.ToUpper(key)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FallbackOrder returns the configured fallback order as provider names.
func (c *Config) FallbackOrder() []marketdata.ProviderName {
	out := make([]marketdata.ProviderName, 0, len(c.Manager.FallbackOrder))
	for _, name := range c.Manager.FallbackOrder {
		out = append(out, marketdata.ProviderName(strings.ToUpper(strings.TrimSpace(name))))
	}
	return out
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
