// Package sink keeps an optional queryable copy of every relayed record.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"wikirelay/internal/config"
	"wikirelay/internal/constants"
	"wikirelay/internal/logger"
	"wikirelay/pkg/metrics"
)

// Record is one published Topic B message together with the input position it came from.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Title     string
	Enriched  string
	CreatedAt time.Time
}

type Writer interface {
	Write(ctx context.Context, rec Record) error
	Name() string
}

type NopWriter struct{}

func (NopWriter) Write(context.Context, Record) error { return nil }

func (NopWriter) Name() string { return constants.SinkTypeNone }

// New picks the writer for cfg.Type. The matching client must be non-nil.
func New(cfg config.SinkConfig, mongoDB *mongo.Database, postgresDB *sql.DB, log logger.Logger) (Writer, error) {
	switch cfg.Type {
	case "", constants.SinkTypeNone:
		return NopWriter{}, nil
	case constants.SinkTypeMongoDB:
		if mongoDB == nil {
			return nil, fmt.Errorf("sink type %s requires database.mongodb", cfg.Type)
		}
		return NewMongoWriter(mongoDB, cfg.Collection, log), nil
	case constants.SinkTypePostgres:
		if postgresDB == nil {
			return nil, fmt.Errorf("sink type %s requires database.postgres", cfg.Type)
		}
		return NewPostgresWriter(postgresDB, cfg.Table, log), nil
	default:
		return nil, fmt.Errorf("unknown sink type: %s", cfg.Type)
	}
}

func observe(name string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncSinkWrite(name, status)
	metrics.ObserveSinkWriteDuration(name, time.Since(start))
}
