package constants

import "time"

const (
	KafkaBatchTimeout       = 10 * time.Millisecond
	KafkaWriteTimeout       = 10 * time.Second
	KafkaPollTimeout        = 1 * time.Second
	KafkaDialTimeout        = 10 * time.Second
	KafkaMaxBytes           = 10e6
	KafkaMaxWait            = 500 * time.Millisecond
	KafkaFlushPollInterval  = 10 * time.Millisecond
	KafkaDeliveryReportSize = 10000
)

const (
	DefaultHTTPTimeout = 60 * time.Second
)

const (
	CacheKeyPrefixEnrich = "enrich:"
	CacheKeyPrefixRelay  = "relay:"
)

const (
	DefaultSourceTopic   = "wikipedia-stream-new"
	DefaultTargetTopic   = "wikipedia-new-translator"
	DefaultConsumerGroup = "wikipedia-new-translator-group"
)

const (
	DefaultStreamURL       = "https://stream.wikimedia.org/v2/stream/recentchange"
	DefaultAcceptedType    = "new"
	DefaultReconnectDelay  = 10 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultReadTimeout     = 30 * time.Second
	DefaultMaxEventBytes   = 1 << 20
	EventTypeMessage       = "message"
	StreamAcceptHeader     = "text/event-stream"
	LastEventIDHeader      = "Last-Event-ID"
	DefaultStreamUserAgent = "wikirelay/1.0"
)

const (
	DefaultEnrichmentURL       = "http://localhost:11434/api/generate"
	DefaultEnrichmentModel     = "qwen3:0.6b"
	DefaultEnrichmentAttempts  = 3
	DefaultEnrichmentDelay     = 3 * time.Second
	DefaultEnrichmentTemp      = 0.1
	DefaultEnrichmentCacheTTL  = 24 * time.Hour
	DefaultPromptTemplate      = "Translate the following text into Chinese. Put the original text in the 'source_text' field and the translation in the 'target_text' field, and answer in JSON: %s"
	SourceTextField            = "source_text"
	TargetTextField            = "target_text"
	EnrichmentResponseField    = "response"
	EnrichmentContentType      = "application/json"
)

const (
	DefaultSourceField     = "title"
	DefaultTargetField     = "title_zh"
	TranslatedAtField      = "translated_at"
	DefaultPollErrorDelay  = 10 * time.Second
	DefaultFlushTimeout    = 15 * time.Second
	DefaultAckTimeout      = 30 * time.Second
	DefaultDedupTTLSeconds = 86400
)

const (
	DeliveryModeAtMostOnce  = "at_most_once"
	DeliveryModeAtLeastOnce = "at_least_once"
)

// TimeLayout matches the "%Y-%m-%d %H:%M:%S" layout consumers of both topics expect.
const TimeLayout = "2006-01-02 15:04:05"

const (
	ShutdownTimeout    = 5 * time.Second
	InitTimeout        = 30 * time.Second
	HealthCheckTimeout = 3 * time.Second
	RequestIDHeader    = "X-Request-ID"
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	SinkTypeNone     = "none"
	SinkTypeMongoDB  = "mongodb"
	SinkTypePostgres = "postgresql"
)

const (
	DefaultMongoDBName = "wikirelay"
)

const (
	DefaultSinkCollection = "translated_pages"
	DefaultSinkTable      = "translated_pages"
)

const (
	NotifierTypeNone    = "none"
	NotifierTypeWebhook = "webhook"
)

const (
	ServiceNameStream     = "stream-service"
	ServiceNameTranslator = "translator-service"
)
