package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"wikirelay/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateStream(cfg.Stream); err != nil {
		errors = append(errors, err)
	}

	if err := validateEnrichment(cfg.Enrichment); err != nil {
		errors = append(errors, err)
	}

	if err := validateRelay(cfg.Relay); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateSink(cfg.Sink, cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateNotification(cfg.Notification); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	switch cfg.Type {
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.InputTopic == cfg.OutputTopic {
		return &ValidationError{
			Field:   "broker.kafka.output_topic",
			Message: "output topic must differ from input topic",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.InitialInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateStream(cfg StreamConfig) error {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{
			Field:   "stream.url",
			Message: fmt.Sprintf("stream URL must be an absolute http(s) URL, got %q", cfg.URL),
		}
	}

	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return &ValidationError{
				Field:   "stream.timezone",
				Message: fmt.Sprintf("unknown timezone: %s", cfg.Timezone),
			}
		}
	}

	return nil
}

func validateEnrichment(cfg EnrichmentConfig) error {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{
			Field:   "enrichment.url",
			Message: fmt.Sprintf("enrichment URL must be an absolute http(s) URL, got %q", cfg.URL),
		}
	}

	if cfg.MaxAttempts < 1 {
		return &ValidationError{
			Field:   "enrichment.max_attempts",
			Message: "max_attempts must be at least 1",
		}
	}

	if cfg.RetryDelay < 0 {
		return &ValidationError{
			Field:   "enrichment.retry_delay",
			Message: "retry_delay must be non-negative",
		}
	}

	if !strings.Contains(cfg.PromptTemplate, "%s") {
		return &ValidationError{
			Field:   "enrichment.prompt_template",
			Message: "prompt template must contain a %s placeholder for the text",
		}
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.RPS <= 0 {
		return &ValidationError{
			Field:   "enrichment.rate_limit.rps",
			Message: "rps must be positive when rate limiting is enabled",
		}
	}

	return nil
}

func validateRelay(cfg RelayConfig) error {
	switch cfg.DeliveryMode {
	case constants.DeliveryModeAtMostOnce, constants.DeliveryModeAtLeastOnce:
	default:
		return &ValidationError{
			Field: "relay.delivery_mode",
			Message: fmt.Sprintf("invalid delivery mode: %s (valid: %s, %s)",
				cfg.DeliveryMode, constants.DeliveryModeAtMostOnce, constants.DeliveryModeAtLeastOnce),
		}
	}

	if cfg.SourceField == cfg.TargetField {
		return &ValidationError{
			Field:   "relay.target_field",
			Message: "target field must differ from source field",
		}
	}

	if cfg.TargetField == constants.TranslatedAtField {
		return &ValidationError{
			Field:   "relay.target_field",
			Message: fmt.Sprintf("target field cannot be %q", constants.TranslatedAtField),
		}
	}

	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return &ValidationError{
				Field:   "relay.timezone",
				Message: fmt.Sprintf("unknown timezone: %s", cfg.Timezone),
			}
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "database.redis.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateSink(cfg SinkConfig, db DatabaseConfig) error {
	switch cfg.Type {
	case constants.SinkTypeNone:
		return nil
	case constants.SinkTypeMongoDB:
		if db.MongoDB.URI == "" {
			return &ValidationError{
				Field:   "sink.type",
				Message: "mongodb sink requires database.mongodb.uri",
			}
		}
	case constants.SinkTypePostgres:
		if db.Postgres.Host == "" {
			return &ValidationError{
				Field:   "sink.type",
				Message: "postgresql sink requires database.postgres.host",
			}
		}
	default:
		return &ValidationError{
			Field:   "sink.type",
			Message: fmt.Sprintf("unknown sink type: %s (valid: none, mongodb, postgresql)", cfg.Type),
		}
	}

	return nil
}

func validateNotification(cfg NotificationConfig) error {
	switch cfg.Type {
	case constants.NotifierTypeNone:
	case constants.NotifierTypeWebhook:
		if cfg.WebhookURL == "" {
			return &ValidationError{
				Field:   "notification.webhook_url",
				Message: "webhook URL is required for the webhook notifier",
			}
		}
	default:
		return &ValidationError{
			Field:   "notification.type",
			Message: fmt.Sprintf("unknown notification type: %s (valid: none, webhook)", cfg.Type),
		}
	}

	if cfg.ReconnectAlertThreshold < 0 {
		return &ValidationError{
			Field:   "notification.reconnect_alert_threshold",
			Message: "threshold must be non-negative",
		}
	}

	return nil
}
