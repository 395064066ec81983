package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	StreamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_total",
			Help: "Total number of stream events by outcome (count)",
		},
		[]string{"status"},
	)

	StreamDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_dropped_total",
			Help: "Total number of stream events dropped before publishing, by reason (count)",
		},
		[]string{"reason"},
	)

	StreamReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_reconnects_total",
			Help: "Total number of stream reconnect attempts (count)",
		},
	)

	StreamConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stream_connected",
			Help: "Whether the stream reader currently holds an open connection (0 or 1)",
		},
	)

	RelayMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Total number of messages handled by the relay, by outcome (count)",
		},
		[]string{"status"},
	)

	RelayProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_processing_duration_ms",
			Help:    "Processing duration per relayed message in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"status"},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dedup_checks_total",
			Help: "Total number of redelivery guard checks by result (count)",
		},
		[]string{"status"},
	)

	DedupCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_dedup_check_duration_ms",
			Help:    "Redelivery guard check duration in milliseconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"status"},
	)

	EnrichmentCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_calls_total",
			Help: "Total number of enrichment calls by final result (count)",
		},
		[]string{"result"},
	)

	EnrichmentAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_attempts_total",
			Help: "Total number of enrichment endpoint attempts by outcome (count)",
		},
		[]string{"outcome"},
	)

	EnrichmentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enrichment_duration_ms",
			Help:    "Duration of a full enrichment call including retries in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"result"},
	)

	EnrichmentCacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_cache_requests_total",
			Help: "Total number of enrichment cache lookups by result (count)",
		},
		[]string{"result"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_limit_wait_duration_ms",
			Help:    "Time spent waiting on a rate limiter in milliseconds",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"name"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages confirmed written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaDeliveryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_delivery_failures_total",
			Help: "Total number of messages the producer failed to deliver (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaPendingMessages = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_pending_messages",
			Help: "Messages enqueued in the producer and not yet acknowledged (count)",
		},
		[]string{"service"},
	)

	KafkaCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_commits_total",
			Help: "Total number of offset commits by status (count)",
		},
		[]string{"service", "topic", "status"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_delivery_duration_ms",
			Help:    "Time from enqueue to delivery report in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"service", "topic"},
	)

	SinkWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_writes_total",
			Help: "Total number of record sink writes by status (count)",
		},
		[]string{"sink", "status"},
	)

	SinkWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sink_write_duration_ms",
			Help:    "Duration of record sink writes in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"sink"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total number of warning notifications sent by status (count)",
		},
		[]string{"channel", "status"},
	)
)

var (
	streamOnce         sync.Once
	relayOnce          sync.Once
	enrichmentOnce     sync.Once
	brokerOnce         sync.Once
	circuitBreakerOnce sync.Once
	sinkOnce           sync.Once
	notificationOnce   sync.Once
)

func RegisterStreamMetrics() {
	streamOnce.Do(func() {
		prometheus.MustRegister(StreamEventsTotal)
		prometheus.MustRegister(StreamDroppedTotal)
		prometheus.MustRegister(StreamReconnectsTotal)
		prometheus.MustRegister(StreamConnected)
	})
}

func RegisterRelayMetrics() {
	relayOnce.Do(func() {
		prometheus.MustRegister(RelayMessagesTotal)
		prometheus.MustRegister(RelayProcessingDuration)
		prometheus.MustRegister(DedupChecksTotal)
		prometheus.MustRegister(DedupCheckDuration)
	})
}

func RegisterEnrichmentMetrics() {
	enrichmentOnce.Do(func() {
		prometheus.MustRegister(EnrichmentCallsTotal)
		prometheus.MustRegister(EnrichmentAttemptsTotal)
		prometheus.MustRegister(EnrichmentDuration)
		prometheus.MustRegister(EnrichmentCacheRequestsTotal)
		prometheus.MustRegister(RateLimitWaitDuration)
	})
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(KafkaMessagesReadTotal)
		prometheus.MustRegister(KafkaMessagesWrittenTotal)
		prometheus.MustRegister(KafkaDeliveryFailuresTotal)
		prometheus.MustRegister(KafkaPendingMessages)
		prometheus.MustRegister(KafkaCommitsTotal)
		prometheus.MustRegister(KafkaMessageSizeBytes)
		prometheus.MustRegister(KafkaConsumerLag)
		prometheus.MustRegister(KafkaDeliveryDuration)
	})
}

func RegisterCircuitBreakerMetrics() {
	circuitBreakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func RegisterSinkMetrics() {
	sinkOnce.Do(func() {
		prometheus.MustRegister(SinkWritesTotal)
		prometheus.MustRegister(SinkWriteDuration)
	})
}

func RegisterNotificationMetrics() {
	notificationOnce.Do(func() {
		prometheus.MustRegister(NotificationsTotal)
	})
}

func IncStreamEvent(status string) {
	StreamEventsTotal.WithLabelValues(status).Inc()
}

func IncStreamDropped(reason string) {
	StreamDroppedTotal.WithLabelValues(reason).Inc()
}

func IncStreamReconnect() {
	StreamReconnectsTotal.Inc()
}

func SetStreamConnected(connected bool) {
	if connected {
		StreamConnected.Set(1)
		return
	}
	StreamConnected.Set(0)
}

func IncRelayMessage(status string) {
	RelayMessagesTotal.WithLabelValues(status).Inc()
}

func ObserveRelayDuration(duration time.Duration, status string) {
	RelayProcessingDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func ObserveDedupCheck(duration time.Duration, status string) {
	DedupChecksTotal.WithLabelValues(status).Inc()
	DedupCheckDuration.WithLabelValues(status).Observe(float64(duration.Nanoseconds()) / 1e6)
}

func IncEnrichmentCall(result string) {
	EnrichmentCallsTotal.WithLabelValues(result).Inc()
}

func IncEnrichmentAttempt(outcome string) {
	EnrichmentAttemptsTotal.WithLabelValues(outcome).Inc()
}

func ObserveEnrichmentDuration(duration time.Duration, result string) {
	EnrichmentDuration.WithLabelValues(result).Observe(float64(duration.Milliseconds()))
}

func IncEnrichmentCache(result string) {
	EnrichmentCacheRequestsTotal.WithLabelValues(result).Inc()
}

func ObserveRateLimitWait(name string, duration time.Duration) {
	RateLimitWaitDuration.WithLabelValues(name).Observe(float64(duration.Milliseconds()))
}

func IncRetryAttempt(service, topic string) {
	RetryAttemptsTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaDeliveryFailure(service, topic string) {
	KafkaDeliveryFailuresTotal.WithLabelValues(service, topic).Inc()
}

func SetKafkaPending(service string, pending int64) {
	KafkaPendingMessages.WithLabelValues(service).Set(float64(pending))
}

func IncKafkaCommit(service, topic, status string) {
	KafkaCommitsTotal.WithLabelValues(service, topic, status).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, strconv.Itoa(partition)).Set(float64(lag))
}

func ObserveKafkaDeliveryDuration(service, topic string, duration time.Duration) {
	KafkaDeliveryDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncSinkWrite(sink, status string) {
	SinkWritesTotal.WithLabelValues(sink, status).Inc()
}

func ObserveSinkWriteDuration(sink string, duration time.Duration) {
	SinkWriteDuration.WithLabelValues(sink).Observe(float64(duration.Milliseconds()))
}

func IncNotification(channel, status string) {
	NotificationsTotal.WithLabelValues(channel, status).Inc()
}
