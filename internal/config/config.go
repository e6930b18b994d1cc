package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig      `mapstructure:"log"`
	HTTP       HTTPConfig     `mapstructure:"http"`
	MySQL      DatabaseConfig `mapstructure:"mysql"`
	ClickHouse DatabaseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Kafka      KafkaConfig    `mapstructure:"kafka"`
	Admin      AdminConfig    `mapstructure:"admin"`
	Webhooks   WebhooksConfig `mapstructure:"webhooks"`
	Delivery   DeliveryConfig `mapstructure:"delivery"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr      string `mapstructure:"addr"`
	BodyLimit string `mapstructure:"body_limit"` // echo notation, e.g. "1M"
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type AdminConfig struct {
	APIKeys   []string        `mapstructure:"api_keys"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// WebhooksConfig holds inbound verification settings. An empty secret disables
// trust for that provider; it never disables the check.
type WebhooksConfig struct {
	Secrets         SecretsConfig `mapstructure:"secrets"`
	StripeTolerance time.Duration `mapstructure:"stripe_tolerance"`
}

type SecretsConfig struct {
	Stripe  string `mapstructure:"stripe"`
	GitHub  string `mapstructure:"github"`
	Generic string `mapstructure:"generic"`
}

type DeliveryConfig struct {
	MaxAttempts       int             `mapstructure:"max_attempts"`
	Timeout           time.Duration   `mapstructure:"timeout"`
	Backoff           []time.Duration `mapstructure:"backoff"`
	UserAgent         string          `mapstructure:"user_agent"`
	ResponseBodyLimit int             `mapstructure:"response_body_limit"`
	Breaker           BreakerConfig   `mapstructure:"breaker"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"`
	MaxWait       time.Duration `mapstructure:"max_wait"`
}

// secretEnv maps provider secrets to their conventional variable names, which
// do not carry the HOOKGW_ prefix.
var secretEnv = map[string]string{
	"webhooks.secrets.stripe":  "WEBHOOK_SECRET_STRIPE",
	"webhooks.secrets.github":  "WEBHOOK_SECRET_GITHUB",
	"webhooks.secrets.generic": "WEBHOOK_SECRET_GENERIC",
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env
// overrides (HOOKGW_* plus WEBHOOK_SECRET_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (HOOKGW_MYSQL_DSN, HOOKGW_DELIVERY_MAX_ATTEMPTS, ...)
	v.SetEnvPrefix("HOOKGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range secretEnv {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
