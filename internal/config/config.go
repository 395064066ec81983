package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Stream         StreamConfig
	Enrichment     EnrichmentConfig
	Relay          RelayConfig
	Sink           SinkConfig
	CircuitBreaker CircuitBreakerConfig
	Notification   NotificationConfig
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	ClientID     string        `mapstructure:"client_id"`
	GroupID      string        `mapstructure:"group_id"`
	InputTopic   string        `mapstructure:"input_topic"`
	OutputTopic  string        `mapstructure:"output_topic"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
	Retry        RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StreamConfig struct {
	URL              string        `mapstructure:"url"`
	AcceptedType     string        `mapstructure:"accepted_type"`
	FilterExpression string        `mapstructure:"filter_expression"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	MaxEventBytes    int           `mapstructure:"max_event_bytes"`
	Timezone         string        `mapstructure:"timezone"`
	UserAgent        string        `mapstructure:"user_agent"`
}

type EnrichmentConfig struct {
	URL            string          `mapstructure:"url"`
	Model          string          `mapstructure:"model"`
	PromptTemplate string          `mapstructure:"prompt_template"`
	Temperature    float64         `mapstructure:"temperature"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	MaxAttempts    int             `mapstructure:"max_attempts"`
	RetryDelay     time.Duration   `mapstructure:"retry_delay"`
	Cache          CacheConfig     `mapstructure:"cache"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type RelayConfig struct {
	SourceField    string        `mapstructure:"source_field"`
	TargetField    string        `mapstructure:"target_field"`
	DeliveryMode   string        `mapstructure:"delivery_mode"`
	PollErrorDelay time.Duration `mapstructure:"poll_error_delay"`
	AckTimeout     time.Duration `mapstructure:"ack_timeout"`
	DedupTTL       time.Duration `mapstructure:"dedup_ttl"`
	Timezone       string        `mapstructure:"timezone"`
}

type SinkConfig struct {
	Type       string `mapstructure:"type"` // "none", "mongodb", "postgresql"
	Collection string `mapstructure:"collection"`
	Table      string `mapstructure:"table"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type NotificationConfig struct {
	Type                    string        `mapstructure:"type"` // "none", "webhook"
	WebhookURL              string        `mapstructure:"webhook_url"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	ReconnectAlertThreshold int           `mapstructure:"reconnect_alert_threshold"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
