package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikirelay/internal/broker"
	"wikirelay/internal/config"
	"wikirelay/internal/constants"
	"wikirelay/internal/deduplication"
	"wikirelay/internal/enrichment"
	"wikirelay/internal/relay"
	"wikirelay/internal/stream"
	"wikirelay/pkg/models"
)

// readAll reads n messages from topic's single partition, starting at the beginning.
func readAll(t *testing.T, brokers []string, topic string, n int) []kafka.Message {
	t.Helper()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   500 * time.Millisecond,
	})
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), consumeTimeout)
	defer cancel()

	msgs := make([]kafka.Message, 0, n)
	for len(msgs) < n {
		m, err := reader.ReadMessage(ctx)
		require.NoError(t, err, "read %d/%d messages from %s", len(msgs), n, topic)
		msgs = append(msgs, m)
	}
	return msgs
}

func publish(t *testing.T, kafkaCfg config.KafkaConfig, topic string, values map[string][]byte) {
	t.Helper()

	producer := broker.NewKafkaProducer(kafkaCfg, "integration", createTestLogger())
	for key, value := range values {
		_, err := producer.Publish(context.Background(), broker.Envelope{Topic: topic, Key: []byte(key), Value: value})
		require.NoError(t, err)
	}
	require.Equal(t, 0, producer.Flush(30*time.Second))
	require.NoError(t, producer.Close())
}

func TestStreamStage_PublishesNormalizedRecords(t *testing.T) {
	infra := SetupTestInfra(t, InfraOptions{Kafka: true})
	kafkaCfg := createTestKafkaConfig(infra.KafkaBrokers, "stage1")
	infra.CreateTopics(t, kafkaCfg.InputTopic)

	events := []string{
		`{"id":1,"type":"new","title":"Foo","title_url":"https://en.wikipedia.org/wiki/Foo","user":"alice","timestamp":1700000000}`,
		`{"id":2,"type":"edit","title":"Bar","title_url":"https://en.wikipedia.org/wiki/Bar","user":"bob","timestamp":1700000000}`,
		`{"id":3,"type":"new","title":"Talk:Baz","title_url":"https://en.wikipedia.org/wiki/Talk:Baz","user":"carol","timestamp":1700000000}`,
		`{"id":4,"type":"new","title":"北京","title_url":"https://zh.wikipedia.org/wiki/%E5%8C%97%E4%BA%AC","user":"dave","timestamp":1700000001}`,
	}
	sse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i, ev := range events {
			fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", i, ev)
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer sse.Close()

	streamCfg := config.StreamConfig{
		URL:            sse.URL,
		AcceptedType:   constants.DefaultAcceptedType,
		ReconnectDelay: 100 * time.Millisecond,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    time.Minute,
		MaxEventBytes:  constants.DefaultMaxEventBytes,
		Timezone:       "UTC",
	}

	producer := broker.NewKafkaProducer(kafkaCfg, constants.ServiceNameStream, createTestLogger())
	normalizer, err := stream.NewNormalizer(streamCfg, kafkaCfg.InputTopic, producer, createTestLogger())
	require.NoError(t, err)
	reader := stream.NewReader(streamCfg, nil, 0, createTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reader.Run(ctx, normalizer.HandleEvent) }()

	msgs := readAll(t, infra.KafkaBrokers, kafkaCfg.InputTopic, 2)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, producer.Flush(5*time.Second))
	require.NoError(t, producer.Close())

	var first, second models.NormalizedRecord
	require.NoError(t, json.Unmarshal(msgs[0].Value, &first))
	require.NoError(t, json.Unmarshal(msgs[1].Value, &second))

	assert.Equal(t, "1", string(msgs[0].Key))
	require.NotNil(t, first.Title)
	assert.Equal(t, "Foo", *first.Title)
	assert.Equal(t, "2023-11-14 22:13:20", first.OptTime)
	require.NotNil(t, first.Contributor)
	assert.Equal(t, "alice", *first.Contributor)
	assert.Equal(t, "https://zh.wikipedia.org/wiki/北京", second.TitleURL)
}

func TestTranslatorStage_RelaysAndCommits(t *testing.T) {
	infra := SetupTestInfra(t, InfraOptions{Kafka: true})
	kafkaCfg := createTestKafkaConfig(infra.KafkaBrokers, "stage2")
	infra.CreateTopics(t, kafkaCfg.InputTopic, kafkaCfg.OutputTopic)

	titles := make(map[string]string)
	values := make(map[string][]byte)
	for i := 1; i <= 5; i++ {
		key := fmt.Sprintf("%d", i)
		titles[key], values[key] = topicARecord(i)
	}
	publish(t, kafkaCfg, kafkaCfg.InputTopic, values)

	inference, calls := newFakeInference(t)
	log := createTestLogger()

	consumer := broker.NewKafkaConsumer(kafkaCfg, kafkaCfg.InputTopic, constants.ServiceNameTranslator, log)
	producer := broker.NewKafkaProducer(kafkaCfg, constants.ServiceNameTranslator, log)
	client := enrichment.NewClient(createTestEnrichmentConfig(inference.URL), log)

	r, err := relay.New(createTestRelayConfig(constants.DeliveryModeAtMostOnce), kafkaCfg, consumer, producer, client, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	out := readAll(t, infra.KafkaBrokers, kafkaCfg.OutputTopic, len(values))
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, r.Close())

	for _, m := range out {
		var record map[string]interface{}
		require.NoError(t, json.Unmarshal(m.Value, &record))

		title := titles[string(m.Key)]
		assert.Equal(t, title, record["title"])
		assert.Equal(t, title+" (zh)", record[constants.DefaultTargetField])
		assert.NotEmpty(t, record[constants.TranslatedAtField])
		assert.Equal(t, "unknown", record["gender"])
	}
	assert.EqualValues(t, len(values), calls.Load())

	// Every offset was committed, so the group has nothing left to read.
	again := broker.NewKafkaConsumer(kafkaCfg, kafkaCfg.InputTopic, constants.ServiceNameTranslator, log)
	defer again.Close()
	msg, err := again.Poll(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestTranslatorStage_AtLeastOnceWithGuard(t *testing.T) {
	infra := SetupTestInfra(t, InfraOptions{Kafka: true, Redis: true})
	kafkaCfg := createTestKafkaConfig(infra.KafkaBrokers, "stage2-alo")
	infra.CreateTopics(t, kafkaCfg.InputTopic, kafkaCfg.OutputTopic)

	_, value := topicARecord(1)
	publish(t, kafkaCfg, kafkaCfg.InputTopic, map[string][]byte{"1": value})

	inference, _ := newFakeInference(t)
	log := createTestLogger()
	relayCfg := createTestRelayConfig(constants.DeliveryModeAtLeastOnce)
	guard := deduplication.NewGuard(deduplication.NewRepository(infra.RedisClient), relayCfg.DedupTTL, log)

	consumer := broker.NewKafkaConsumer(kafkaCfg, kafkaCfg.InputTopic, constants.ServiceNameTranslator, log)
	producer := broker.NewKafkaProducer(kafkaCfg, constants.ServiceNameTranslator, log)
	r, err := relay.New(relayCfg, kafkaCfg, consumer, producer,
		enrichment.NewClient(createTestEnrichmentConfig(inference.URL), log), log, relay.WithGuard(guard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	out := readAll(t, infra.KafkaBrokers, kafkaCfg.OutputTopic, 1)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, r.Close())

	assert.Equal(t, "1", string(out[0].Key))

	exists, err := infra.RedisClient.Exists(context.Background(), deduplication.Key(&broker.Message{
		Topic:     kafkaCfg.InputTopic,
		Partition: out[0].Partition,
		Offset:    0,
	})).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, exists)
}
