package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"wikirelay/internal/constants"
	"wikirelay/internal/logger"
)

type PostgresWriter struct {
	db     *sql.DB
	query  string
	logger logger.Logger
}

func NewPostgresWriter(db *sql.DB, table string, log logger.Logger) *PostgresWriter {
	query := fmt.Sprintf(`INSERT INTO %s
		(message_key, source_topic, source_partition, source_offset, title, title_translated, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
		ON CONFLICT (source_topic, source_partition, source_offset) DO NOTHING`, pq.QuoteIdentifier(table))

	return &PostgresWriter{
		db:     db,
		query:  query,
		logger: log,
	}
}

func (w *PostgresWriter) Name() string { return constants.SinkTypePostgres }

func (w *PostgresWriter) Write(ctx context.Context, rec Record) (err error) {
	start := time.Now()
	defer func() { observe(w.Name(), start, err) }()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var key sql.NullString
	if len(rec.Key) > 0 {
		key = sql.NullString{String: string(rec.Key), Valid: true}
	}

	_, err = w.db.ExecContext(ctx, w.query,
		key,
		rec.Topic,
		rec.Partition,
		rec.Offset,
		rec.Title,
		rec.Enriched,
		string(rec.Value),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}
