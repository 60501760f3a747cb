// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Session driver names.
const (
	DriverColly    = "colly"
	DriverHeadless = "headless"
)

// Cache provider names.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// EnvPrefix prefixes every environment override, e.g. ORDERSCRAPER_OUTPUT_DEST_DIR.
const EnvPrefix = "ORDERSCRAPER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site        SiteConfig        `mapstructure:"site"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Session     SessionConfig     `mapstructure:"session"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Output      OutputConfig      `mapstructure:"output"`
	Converter   ConverterConfig   `mapstructure:"converter"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
	GCS         GCSConfig         `mapstructure:"gcs"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// SiteConfig locates the storefront pages.
type SiteConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	ListingPath string `mapstructure:"listing_path"`
	RecordPath  string `mapstructure:"record_path"`
	SignInPath  string `mapstructure:"signin_path"`
}

// CredentialsConfig holds the storefront account.
type CredentialsConfig struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// SessionConfig selects and tunes the session driver.
type SessionConfig struct {
	Driver            string        `mapstructure:"driver"`
	MaxReauthAttempts int           `mapstructure:"max_reauth_attempts"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Headful           bool          `mapstructure:"headful"`
	DoubleLoad        bool          `mapstructure:"double_load"`
	ChromePath        string        `mapstructure:"chrome_path"`
	NoSandbox         bool          `mapstructure:"no_sandbox"`
}

// FetchConfig controls pacing between live fetches.
type FetchConfig struct {
	MinDelay             time.Duration `mapstructure:"min_delay"`
	MaxDelay             time.Duration `mapstructure:"max_delay"`
	MaxRequestsPerSecond float64       `mapstructure:"max_requests_per_second"`
}

// CacheConfig selects the page cache.
type CacheConfig struct {
	Provider string        `mapstructure:"provider"`
	TTL      time.Duration `mapstructure:"ttl"`
	Redis    RedisConfig   `mapstructure:"redis"`
}

// RedisConfig points at a shared Redis cache.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// OutputConfig controls where artifacts land.
type OutputConfig struct {
	DestDir     string `mapstructure:"dest_dir"`
	StrictDedup bool   `mapstructure:"strict_dedup"`
}

// ConverterConfig configures the HTML to PDF tool.
type ConverterConfig struct {
	Binary      string        `mapstructure:"binary"`
	Args        []string      `mapstructure:"args"`
	ValidatePDF bool          `mapstructure:"validate_pdf"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DeliveryConfig enables emailing each new artifact.
type DeliveryConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
	From string     `mapstructure:"from"`
	To   []string   `mapstructure:"to"`
}

// SMTPConfig is the outgoing mail server.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// GCSConfig enables mirroring artifacts to a bucket.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig enables artifact-created notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LedgerConfig enables the Postgres record ledger.
type LedgerConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"user":          "credentials.user",
	"password":      "credentials.password",
	"dest-dir":      "output.dest_dir",
	"cache-ttl":     "cache.ttl",
	"driver":        "session.driver",
	"smtp-host":     "delivery.smtp.host",
	"smtp-port":     "delivery.smtp.port",
	"smtp-user":     "delivery.smtp.user",
	"smtp-password": "delivery.smtp.password",
	"from-email":    "delivery.from",
	"to-email":      "delivery.to",
}

// legacyEnv lists the environment variables the original tool read.
var legacyEnv = map[string]string{
	"credentials.user":       "AMAZON_USER",
	"credentials.password":   "AMAZON_PASSWORD",
	"delivery.smtp.host":     "SMTP_HOST",
	"delivery.smtp.port":     "SMTP_PORT",
	"delivery.smtp.user":     "SMTP_USER",
	"delivery.smtp.password": "SMTP_PASSWORD",
	"delivery.from":          "FROM_EMAIL",
	"delivery.to":            "TO_EMAIL",
}

// Load builds a Config from defaults, an optional file, the environment and
// flags, in increasing precedence. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}
	if err := bindFlags(v, flags); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://www.amazon.com")
	v.SetDefault("site.listing_path", "/gp/css/history/orders/view.html?orderFilter=year-{year}&startAtIndex=1000")
	v.SetDefault("site.record_path", "/gp/css/summary/print.html/ref=od_aui_print_invoice?ie=UTF8&orderID={id}")
	v.SetDefault("site.signin_path", "/gp/sign-in.html")
	v.SetDefault("credentials.user", "")
	v.SetDefault("credentials.password", "")
	v.SetDefault("session.driver", DriverColly)
	v.SetDefault("session.max_reauth_attempts", 3)
	v.SetDefault("session.timeout", "45s")
	v.SetDefault("session.headful", false)
	v.SetDefault("session.double_load", true)
	v.SetDefault("session.user_agent", "")
	v.SetDefault("session.chrome_path", "")
	v.SetDefault("session.no_sandbox", false)
	v.SetDefault("fetch.min_delay", "2s")
	v.SetDefault("fetch.max_delay", "5s")
	v.SetDefault("fetch.max_requests_per_second", 0)
	v.SetDefault("cache.provider", CacheMemory)
	v.SetDefault("cache.ttl", "6h")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key_prefix", "orderscraper:page:")
	v.SetDefault("output.dest_dir", "orders/")
	v.SetDefault("output.strict_dedup", false)
	v.SetDefault("converter.binary", "wkhtmltopdf")
	v.SetDefault("converter.args", []string{"--no-images", "--disable-javascript"})
	v.SetDefault("converter.validate_pdf", true)
	v.SetDefault("converter.timeout", "2m")
	v.SetDefault("delivery.smtp.host", "")
	v.SetDefault("delivery.smtp.port", 0)
	v.SetDefault("delivery.smtp.user", "")
	v.SetDefault("delivery.smtp.password", "")
	v.SetDefault("delivery.from", "")
	v.SetDefault("delivery.to", []string{})
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "orders")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.table", "order_artifacts")
	v.SetDefault("ledger.max_conns", 4)
	v.SetDefault("ledger.max_conn_lifetime", "30m")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("metrics.textfile", "")
}

// Validate enforces required values, limits and all-or-nothing groups.
func (c Config) Validate() error {
	if c.Credentials.User == "" || c.Credentials.Password == "" {
		return errors.New("credentials.user and credentials.password are required")
	}
	if u, err := url.Parse(c.Site.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site.base_url %q must be an absolute URL", c.Site.BaseURL)
	}
	if !strings.Contains(c.Site.ListingPath, "{year}") {
		return errors.New("site.listing_path must contain {year}")
	}
	if !strings.Contains(c.Site.RecordPath, "{id}") {
		return errors.New("site.record_path must contain {id}")
	}
	switch c.Session.Driver {
	case DriverColly, DriverHeadless:
	default:
		return fmt.Errorf("session.driver %q must be %s or %s", c.Session.Driver, DriverColly, DriverHeadless)
	}
	if c.Session.MaxReauthAttempts <= 0 {
		return errors.New("session.max_reauth_attempts must be > 0")
	}
	if c.Session.Timeout <= 0 {
		return errors.New("session.timeout must be > 0")
	}
	if c.Fetch.MinDelay < 0 || c.Fetch.MaxDelay < c.Fetch.MinDelay {
		return fmt.Errorf("fetch delays must satisfy 0 <= min_delay (%s) <= max_delay (%s)", c.Fetch.MinDelay, c.Fetch.MaxDelay)
	}
	if c.Fetch.MaxRequestsPerSecond < 0 {
		return errors.New("fetch.max_requests_per_second must be >= 0")
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Output.DestDir) == "" {
		return errors.New("output.dest_dir is required")
	}
	if c.Converter.Binary == "" {
		return errors.New("converter.binary is required")
	}
	if c.Converter.Timeout < 0 {
		return errors.New("converter.timeout must be >= 0")
	}
	if err := c.Delivery.validate(); err != nil {
		return err
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return errors.New("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

func (c CacheConfig) validate() error {
	switch c.Provider {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if c.Redis.Addr == "" {
			return errors.New("cache.redis.addr is required for the redis cache")
		}
	default:
		return fmt.Errorf("cache.provider %q must be %s, %s or %s", c.Provider, CacheMemory, CacheRedis, CacheNone)
	}
	if c.Provider != CacheNone && c.TTL <= 0 {
		return errors.New("cache.ttl must be > 0")
	}
	return nil
}

// Enabled reports whether email delivery is configured.
func (d DeliveryConfig) Enabled() bool {
	return d.SMTP.Host != "" && d.SMTP.Port != 0 && d.From != "" && len(d.To) > 0
}

func (d DeliveryConfig) validate() error {
	set := map[string]bool{
		"delivery.smtp.host": d.SMTP.Host != "",
		"delivery.smtp.port": d.SMTP.Port != 0,
		"delivery.from":      d.From != "",
		"delivery.to":        len(d.To) > 0,
	}
	var missing []string
	for key, ok := range set {
		if !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 && len(missing) < len(set) {
		slices.Sort(missing)
		return fmt.Errorf("email delivery is partially configured; missing %s", strings.Join(missing, ", "))
	}
	if d.SMTP.Port < 0 || d.SMTP.Port > 65535 {
		return fmt.Errorf("delivery.smtp.port %d out of range", d.SMTP.Port)
	}
	if (d.SMTP.User == "") != (d.SMTP.Password == "") {
		return errors.New("delivery.smtp.user and delivery.smtp.password must be set together")
	}
	if d.SMTP.User != "" && !d.Enabled() {
		return errors.New("delivery.smtp credentials set without a delivery target")
	}
	return nil
}
