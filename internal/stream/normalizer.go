package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"wikirelay/internal/broker"
	"wikirelay/internal/config"
	"wikirelay/internal/constants"
	"wikirelay/internal/logger"
	"wikirelay/pkg/cel"
	"wikirelay/pkg/logging"
	"wikirelay/pkg/metrics"
	"wikirelay/pkg/models"
)

// titleURLPattern accepts main-namespace article URLs only; any ':' in the title means a namespace prefix.
var titleURLPattern = regexp.MustCompile(`^https://(\w+)\.wikipedia\.org/wiki/[^:]+$`)

// Unix seconds for 0001-01-01 and 9999-12-31T23:59:59 UTC.
const (
	minUnixSeconds = -62135596800
	maxUnixSeconds = 253402300799
)

type DropReason string

const (
	DropInvalidJSON      DropReason = "invalid_json"
	DropTypeFiltered     DropReason = "type_filtered"
	DropExpressionFilter DropReason = "expression_filtered"
	DropFilterError      DropReason = "filter_error"
	DropInvalidURL       DropReason = "invalid_url"
	DropInvalidTimestamp DropReason = "invalid_timestamp"
	DropEncodeFailed     DropReason = "encode_failed"
	DropPublishFailed    DropReason = "publish_failed"
)

// DropError explains why an event produced no record.
type DropError struct {
	Reason DropReason
	Err    error
}

func (e *DropError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *DropError) Unwrap() error {
	return e.Err
}

func drop(reason DropReason, err error) *DropError {
	return &DropError{Reason: reason, Err: err}
}

// Normalizer turns upstream change events into Topic A records and publishes them.
type Normalizer struct {
	producer     broker.Producer
	topic        string
	acceptedType string
	filter       *cel.Filter
	location     *time.Location
	logger       logger.Logger
}

func NewNormalizer(cfg config.StreamConfig, topic string, producer broker.Producer, log logger.Logger) (*Normalizer, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("failed to load timezone %s: %w", cfg.Timezone, err)
		}
		loc = l
	}

	n := &Normalizer{
		producer:     producer,
		topic:        topic,
		acceptedType: cfg.AcceptedType,
		location:     loc,
		logger:       log,
	}

	if cfg.FilterExpression != "" {
		eval, err := cel.NewEvaluator()
		if err != nil {
			return nil, err
		}
		filter, err := eval.CompileFilter(cfg.FilterExpression)
		if err != nil {
			return nil, fmt.Errorf("invalid stream.filter_expression: %w", err)
		}
		n.filter = filter
	}

	return n, nil
}

// HandleEvent is the Reader callback. Failures are logged and counted; they never stop the stream.
func (n *Normalizer) HandleEvent(ctx context.Context, ev Event) {
	metrics.IncStreamEvent("received")
	ctx = logging.WithTraceID(ctx, uuid.NewString())

	raw, record, err := n.Normalize(ctx, []byte(ev.Data))
	if err != nil {
		n.logDrop(ctx, ev, err)
		return
	}

	ctx = logging.WithMessageID(ctx, string(raw.Key()))
	if err := n.publish(ctx, raw, record); err != nil {
		n.logDrop(ctx, ev, err)
		return
	}
	metrics.IncStreamEvent("published")
}

// Normalize validates one event body and builds its record. A *DropError says why nothing was produced.
func (n *Normalizer) Normalize(ctx context.Context, data []byte) (models.RawEvent, models.NormalizedRecord, error) {
	var raw models.RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return raw, models.NormalizedRecord{}, drop(DropInvalidJSON, err)
	}

	if raw.Type != n.acceptedType {
		return raw, models.NormalizedRecord{}, drop(DropTypeFiltered, nil)
	}

	if n.filter != nil {
		var body map[string]interface{}
		if err := json.Unmarshal(data, &body); err != nil {
			return raw, models.NormalizedRecord{}, drop(DropInvalidJSON, err)
		}
		ok, err := n.filter.Match(ctx, raw, body)
		if err != nil {
			return raw, models.NormalizedRecord{}, drop(DropFilterError, err)
		}
		if !ok {
			return raw, models.NormalizedRecord{}, drop(DropExpressionFilter, nil)
		}
	}

	canonical, err := CanonicalTitleURL(raw.TitleURL)
	if err != nil {
		return raw, models.NormalizedRecord{}, drop(DropInvalidURL, err)
	}

	optTime, err := FormatUnixTimestamp(raw.Timestamp, n.location)
	if err != nil {
		return raw, models.NormalizedRecord{}, drop(DropInvalidTimestamp, err)
	}

	return raw, models.NewNormalizedRecord(raw, canonical, optTime), nil
}

func (n *Normalizer) publish(ctx context.Context, raw models.RawEvent, record models.NormalizedRecord) error {
	value, err := models.MarshalJSON(record)
	if err != nil {
		return drop(DropEncodeFailed, err)
	}

	_, err = n.producer.Publish(ctx, broker.Envelope{
		Topic: n.topic,
		Key:   raw.Key(),
		Value: value,
	})
	// Serve delivery reports after every publish, successful or not.
	n.producer.Poll()
	if err != nil {
		return drop(DropPublishFailed, err)
	}

	n.logger.DebugwCtx(ctx, "Record published",
		"topic", n.topic,
		"title_url", record.TitleURL,
		"opt_time", record.OptTime,
	)
	return nil
}

func (n *Normalizer) logDrop(ctx context.Context, ev Event, err error) {
	reason := DropReason("unknown")
	if de, ok := err.(*DropError); ok {
		reason = de.Reason
	}
	metrics.IncStreamDropped(string(reason))
	metrics.IncStreamEvent("dropped")

	switch reason {
	case DropTypeFiltered, DropExpressionFilter:
		n.logger.DebugwCtx(ctx, "Event filtered", "reason", reason)
	case DropInvalidJSON:
		n.logger.ErrorwCtx(ctx, "Failed to parse event JSON",
			"error", err,
			"event_id", ev.ID,
		)
	case DropPublishFailed, DropEncodeFailed:
		n.logger.ErrorwCtx(ctx, "Failed to publish record",
			"error", err,
			"topic", n.topic,
		)
	default:
		n.logger.WarnwCtx(ctx, "Event dropped",
			"reason", reason,
			"error", err,
		)
	}
}

// CanonicalTitleURL checks raw against the article URL pattern and returns it percent-decoded.
// Malformed escapes are left as they are. The decoded form must still be a main-namespace URL.
func CanonicalTitleURL(raw string) (string, error) {
	if !titleURLPattern.MatchString(raw) {
		return "", fmt.Errorf("title_url %q does not match article pattern", raw)
	}

	decoded := unescapeLenient(raw)

	if !titleURLPattern.MatchString(decoded) {
		return "", fmt.Errorf("decoded title_url %q does not match article pattern", decoded)
	}
	return decoded, nil
}

// unescapeLenient decodes each valid %XX escape and keeps malformed ones verbatim.
// Decoded bytes that are not valid UTF-8 become U+FFFD.
func unescapeLenient(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			buf = append(buf, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
			continue
		}
		buf = append(buf, s[i])
	}
	return strings.ToValidUTF8(string(buf), "\uFFFD")
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// FormatUnixTimestamp renders a JSON number of unix seconds in loc using constants.TimeLayout.
func FormatUnixTimestamp(raw json.RawMessage, loc *time.Location) (string, error) {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return "", fmt.Errorf("timestamp missing")
	}
	if v[0] != '-' && (v[0] < '0' || v[0] > '9') {
		return "", fmt.Errorf("timestamp %s is not a number", v)
	}

	seconds, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return "", fmt.Errorf("timestamp %s: %w", v, err)
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < minUnixSeconds || seconds > maxUnixSeconds {
		return "", fmt.Errorf("timestamp %s out of range", v)
	}

	whole := math.Floor(seconds)
	nanos := int64((seconds - whole) * 1e9)
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(int64(whole), nanos).In(loc).Format(constants.TimeLayout), nil
}
