package deduplication

import (
	"context"
	"fmt"
	"time"

	"wikirelay/internal/broker"
	"wikirelay/internal/constants"
	"wikirelay/internal/logger"
	"wikirelay/pkg/metrics"
	"wikirelay/pkg/tracing"
)

// Guard suppresses republishing an input offset that was already relayed.
// A redelivered message is one whose offset was published but not committed before a crash.
type Guard struct {
	repo   Repository
	ttl    time.Duration
	logger logger.Logger
}

func NewGuard(repo Repository, ttl time.Duration, log logger.Logger) *Guard {
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		logger: log,
	}
}

func Key(msg *broker.Message) string {
	return fmt.Sprintf("%s%s:%d:%d", constants.CacheKeyPrefixRelay, msg.Topic, msg.Partition, msg.Offset)
}

// Relayed reports whether msg was already confirmed on the output topic. Redis failures let the message through.
func (g *Guard) Relayed(ctx context.Context, msg *broker.Message) bool {
	ctx, span := tracing.GetTracer("relay-dedup").Start(ctx, "deduplication.check")
	defer span.End()

	start := time.Now()
	seen, err := g.repo.Exists(ctx, Key(msg))
	duration := time.Since(start)

	if err != nil {
		metrics.ObserveDedupCheck(duration, "error")
		g.logger.WarnwCtx(ctx, "Redis error during redelivery check, relaying message",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return false
	}

	if seen {
		metrics.ObserveDedupCheck(duration, "duplicate")
	} else {
		metrics.ObserveDedupCheck(duration, "unique")
	}
	return seen
}

// MarkRelayed records msg once its delivery is confirmed and before its offset is committed.
// A crash between confirmation and marking yields a duplicate, never a loss.
func (g *Guard) MarkRelayed(ctx context.Context, msg *broker.Message) {
	if _, err := g.repo.SetNX(ctx, Key(msg), time.Now().Unix(), g.ttl); err != nil {
		g.logger.WarnwCtx(ctx, "Failed to record relayed offset",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
	}
}
