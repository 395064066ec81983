package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithMessageID(ctx, "msg-1")
	ctx = WithServiceName(ctx, "translator-service")
	ctx = WithPosition(ctx, 3, 42)

	assert.Equal(t, []interface{}{
		"trace_id", "trace-1",
		"message_id", "msg-1",
		"service_name", "translator-service",
		"partition", 3,
		"offset", int64(42),
	}, GetLogFields(ctx))
}

func TestEarlyLog(t *testing.T) {
	var out, errOut bytes.Buffer
	exitCode := -1
	l := &EarlyLog{out: &out, err: &errOut, exit: func(code int) { exitCode = code }}

	l.Info("loaded %s", "config.yaml")
	l.Warn("falling back to %d", 1)
	l.Error("bad value")
	assert.Equal(t, -1, exitCode)

	l.Fatal("cannot start: %v", "boom")
	assert.Equal(t, 1, exitCode)

	assert.Equal(t, "INFO: loaded config.yaml\n", out.String())
	assert.Equal(t, "WARN: falling back to 1\nERROR: bad value\nFATAL: cannot start: boom\n", errOut.String())
}
