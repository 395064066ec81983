package health

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerRegistry_Statuses(t *testing.T) {
	ok := NewFuncChecker("ok", func(context.Context) error { return nil })
	failing := NewFuncChecker("stream", func(context.Context) error { return errors.New("disconnected") })

	tests := []struct {
		name     string
		setup    func(r *CheckerRegistry)
		expected Status
	}{
		{"empty", func(*CheckerRegistry) {}, StatusHealthy},
		{"all healthy", func(r *CheckerRegistry) { r.Register(ok) }, StatusHealthy},
		{"optional failure", func(r *CheckerRegistry) { r.Register(ok); r.RegisterOptional(failing) }, StatusDegraded},
		{"required failure", func(r *CheckerRegistry) { r.RegisterOptional(ok); r.Register(failing) }, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			tt.setup(r)
			assert.Equal(t, tt.expected, r.Check(context.Background()).Status)
		})
	}
}

func TestCheckerRegistry_ReportsMessages(t *testing.T) {
	r := NewCheckerRegistry()
	r.RegisterOptional(NewFuncChecker("stream", func(context.Context) error { return errors.New("disconnected") }))

	h := r.Check(context.Background())
	require.Contains(t, h.Checks, "stream")
	assert.Equal(t, StatusDegraded, h.Checks["stream"].Status)
	assert.Equal(t, "disconnected", h.Checks["stream"].Message)
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewRedisChecker(client)
	assert.Equal(t, "redis", checker.Name())
	assert.NoError(t, checker.Check(context.Background()))

	mr.Close()
	assert.Error(t, checker.Check(context.Background()))
}

func TestKafkaChecker_NoBrokers(t *testing.T) {
	err := NewKafkaChecker(nil).Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no kafka brokers")
}
