package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"wikirelay/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(v, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	v.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	v.BindEnv("broker.kafka.input_topic", "BROKER_KAFKA_INPUT_TOPIC")
	v.BindEnv("broker.kafka.output_topic", "BROKER_KAFKA_OUTPUT_TOPIC")

	v.BindEnv("stream.url", "STREAM_URL")
	v.BindEnv("stream.accepted_type", "STREAM_ACCEPTED_TYPE")
	v.BindEnv("stream.timezone", "STREAM_TIMEZONE")

	v.BindEnv("enrichment.url", "ENRICHMENT_URL")
	v.BindEnv("enrichment.model", "ENRICHMENT_MODEL")

	v.BindEnv("relay.delivery_mode", "RELAY_DELIVERY_MODE")

	v.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	v.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	v.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	v.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	v.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	v.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	v.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	v.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	v.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	v.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	v.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	v.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	v.BindEnv("notification.webhook_url", "NOTIFICATION_WEBHOOK_URL")

	v.BindEnv("server.port", "SERVER_PORT")

	v.BindEnv("logging.level", "LOGGING_LEVEL")
	v.BindEnv("logging.format", "LOGGING_FORMAT")

	v.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	v.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(v *viper.Viper, cfg *Config) error {
	if brokersEnv := v.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if otlpEndpoint := v.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}

// ApplyDefaults fills every zero-valued setting that has a sensible default.
func ApplyDefaults(cfg *Config) {
	if cfg.Broker.Type == "" {
		cfg.Broker.Type = "kafka"
	}

	k := &cfg.Broker.Kafka
	if k.InputTopic == "" {
		k.InputTopic = constants.DefaultSourceTopic
	}
	if k.OutputTopic == "" {
		k.OutputTopic = constants.DefaultTargetTopic
	}
	if k.GroupID == "" {
		k.GroupID = constants.DefaultConsumerGroup
	}
	if k.PollTimeout <= 0 {
		k.PollTimeout = constants.KafkaPollTimeout
	}
	if k.FlushTimeout <= 0 {
		k.FlushTimeout = constants.DefaultFlushTimeout
	}
	if k.Retry.MaxAttempts == 0 {
		k.Retry.MaxAttempts = 5
	}
	if k.Retry.Multiplier == 0 {
		k.Retry.Multiplier = 2.0
	}

	s := &cfg.Stream
	if s.URL == "" {
		s.URL = constants.DefaultStreamURL
	}
	if s.AcceptedType == "" {
		s.AcceptedType = constants.DefaultAcceptedType
	}
	if s.ReconnectDelay <= 0 {
		s.ReconnectDelay = constants.DefaultReconnectDelay
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = constants.DefaultConnectTimeout
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = constants.DefaultReadTimeout
	}
	if s.MaxEventBytes <= 0 {
		s.MaxEventBytes = constants.DefaultMaxEventBytes
	}
	if s.UserAgent == "" {
		s.UserAgent = constants.DefaultStreamUserAgent
	}

	e := &cfg.Enrichment
	if e.URL == "" {
		e.URL = constants.DefaultEnrichmentURL
	}
	if e.Model == "" {
		e.Model = constants.DefaultEnrichmentModel
	}
	if e.PromptTemplate == "" {
		e.PromptTemplate = constants.DefaultPromptTemplate
	}
	if e.Temperature == 0 {
		e.Temperature = constants.DefaultEnrichmentTemp
	}
	if e.Timeout <= 0 {
		e.Timeout = constants.DefaultHTTPTimeout
	}
	if e.MaxAttempts == 0 {
		e.MaxAttempts = constants.DefaultEnrichmentAttempts
	}
	if e.RetryDelay == 0 {
		e.RetryDelay = constants.DefaultEnrichmentDelay
	}
	if e.Cache.TTL <= 0 {
		e.Cache.TTL = constants.DefaultEnrichmentCacheTTL
	}

	r := &cfg.Relay
	if r.SourceField == "" {
		r.SourceField = constants.DefaultSourceField
	}
	if r.TargetField == "" {
		r.TargetField = constants.DefaultTargetField
	}
	if r.DeliveryMode == "" {
		r.DeliveryMode = constants.DeliveryModeAtMostOnce
	}
	if r.PollErrorDelay <= 0 {
		r.PollErrorDelay = constants.DefaultPollErrorDelay
	}
	if r.AckTimeout <= 0 {
		r.AckTimeout = constants.DefaultAckTimeout
	}
	if r.DedupTTL <= 0 {
		r.DedupTTL = constants.DefaultDedupTTLSeconds * time.Second
	}

	if cfg.Sink.Type == "" {
		cfg.Sink.Type = constants.SinkTypeNone
	}
	if cfg.Sink.Collection == "" {
		cfg.Sink.Collection = constants.DefaultSinkCollection
	}
	if cfg.Sink.Table == "" {
		cfg.Sink.Table = constants.DefaultSinkTable
	}

	if cfg.Notification.Type == "" {
		cfg.Notification.Type = constants.NotifierTypeNone
	}
	if cfg.Notification.Timeout <= 0 {
		cfg.Notification.Timeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
