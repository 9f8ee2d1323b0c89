package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig      `mapstructure:"http"`
	Log        LogConfig       `mapstructure:"log"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Sending    SendingConfig   `mapstructure:"sending"`
	Webhooks   WebhookConfig   `mapstructure:"webhooks"`
	Providers  ProvidersConfig `mapstructure:"providers"`
	ShortLinks ShortLinkConfig `mapstructure:"short_links"`
	Secrets    SecretsConfig   `mapstructure:"secrets"`
	Worker     WorkerConfig    `mapstructure:"worker"`
	Sweeper    SweeperConfig   `mapstructure:"sweeper"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
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
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

// SendingConfig tunes the send gate and dispatch path.
type SendingConfig struct {
	// Mode selects the dispatcher: "sync" runs the carrier call in-process
	// right after the send transaction commits; "queued" relays through the
	// outbox and Kafka sender workers.
	Mode              string        `mapstructure:"mode"`
	MaxTextLength     int           `mapstructure:"max_text_length"`
	OptOutScope       string        `mapstructure:"opt_out_scope"` // organization | global
	SendWindow        time.Duration `mapstructure:"send_window"`
	SendBeforePadding time.Duration `mapstructure:"send_before_padding"`
}

type WebhookConfig struct {
	// SkipSignatureCheck disables carrier signature verification. Dev only.
	SkipSignatureCheck bool   `mapstructure:"skip_signature_check"`
	BaseURL            string `mapstructure:"base_url"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"`
}

type ProviderConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	TimeoutMs          int           `mapstructure:"timeout_ms"`
	MaxSendAttempts    int           `mapstructure:"max_send_attempts"`
	MaxValidityPeriod  time.Duration `mapstructure:"max_validity_period"`
	Breaker            BreakerConfig `mapstructure:"breaker"`
}

type ProvidersConfig struct {
	Twilio    ProviderConfig `mapstructure:"twilio"`
	Vonage    ProviderConfig `mapstructure:"vonage"`
	Bandwidth ProviderConfig `mapstructure:"bandwidth"`
}

type ShortLinkConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Domains lists the rotation-eligible hostnames that may appear in
	// outbound text and get swapped for the selected target domain.
	Domains []string `mapstructure:"domains"`
}

type SecretsConfig struct {
	// EncryptionKey is the hex-encoded 32-byte AES key for messaging-service
	// auth tokens.
	EncryptionKey string `mapstructure:"encryption_key"`
}

type WorkerConfig struct {
	Count int `mapstructure:"count"`
}

type SweeperConfig struct {
	Interval              time.Duration `mapstructure:"interval"`
	OrphanRetention       time.Duration `mapstructure:"orphan_retention"`
	ErrorPercentThreshold float64       `mapstructure:"error_percent_threshold"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (TEXTRELAY_*).
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

	// env override (TEXTRELAY_*)
	v.SetEnvPrefix("TEXTRELAY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
