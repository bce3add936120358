package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/prehensile/vidille/internal/metrics"
)

func failing(err error) goredis.ProcessHook {
	return func(context.Context, goredis.Cmder) error { return err }
}

func succeeding(context.Context, goredis.Cmder) error { return nil }

func TestCircuitBreakerHook_StaysClosedOnSuccess(t *testing.T) {
	hook := NewCircuitBreakerHook()
	ctx := context.Background()

	process := hook.ProcessHook(succeeding)
	for range 10 {
		assert.NoError(t, process(ctx, goredis.NewStatusCmd(ctx, "publish", "ch", "x")))
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_RedisNilIsSuccess(t *testing.T) {
	hook := NewCircuitBreakerHook()
	ctx := context.Background()

	process := hook.ProcessHook(failing(goredis.Nil))
	for range 10 {
		assert.ErrorIs(t, process(ctx, goredis.NewStringCmd(ctx, "get", "k")), goredis.Nil)
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_OpensAfterConsecutiveFailures(t *testing.T) {
	metrics.CircuitBreakerState.Reset()
	hook := NewCircuitBreakerHook()
	ctx := context.Background()

	process := hook.ProcessHook(failing(errors.New("connection refused")))
	for range 4 {
		assert.Error(t, process(ctx, goredis.NewStatusCmd(ctx, "publish", "ch", "x")))
	}
	assert.Equal(t, circuitbreaker.ClosedState, hook.State())

	assert.Error(t, process(ctx, goredis.NewStatusCmd(ctx, "publish", "ch", "x")))
	assert.Equal(t, circuitbreaker.OpenState, hook.State())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("redis")))
}

func TestCircuitBreakerHook_FailsFastWhenOpen(t *testing.T) {
	hook := newCircuitBreakerHook(1, time.Hour)
	ctx := context.Background()

	assert.Error(t, hook.ProcessHook(failing(errors.New("timeout")))(ctx, goredis.NewStatusCmd(ctx, "ping")))
	assert.Equal(t, circuitbreaker.OpenState, hook.State())

	called := false
	process := hook.ProcessHook(func(context.Context, goredis.Cmder) error {
		called = true
		return nil
	})
	cmd := goredis.NewStatusCmd(ctx, "ping")
	err := process(ctx, cmd)

	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.ErrorIs(t, cmd.Err(), circuitbreaker.ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreakerHook_PipelineFailsFastWhenOpen(t *testing.T) {
	hook := newCircuitBreakerHook(1, time.Hour)
	ctx := context.Background()

	pipeline := hook.ProcessPipelineHook(func(context.Context, []goredis.Cmder) error {
		return errors.New("broken pipe")
	})
	assert.Error(t, pipeline(ctx, nil))

	cmds := []goredis.Cmder{goredis.NewIntCmd(ctx, "publish", "ch", "x"), goredis.NewStatusCmd(ctx, "set", "k", 1)}
	err := pipeline(ctx, cmds)

	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	for _, cmd := range cmds {
		assert.ErrorIs(t, cmd.Err(), circuitbreaker.ErrOpen)
	}
}

func TestCircuitBreakerHook_RecoversAfterDelay(t *testing.T) {
	hook := newCircuitBreakerHook(1, 20*time.Millisecond)
	ctx := context.Background()

	assert.Error(t, hook.ProcessHook(failing(errors.New("timeout")))(ctx, goredis.NewStatusCmd(ctx, "ping")))
	assert.Equal(t, circuitbreaker.OpenState, hook.State())

	time.Sleep(40 * time.Millisecond)

	assert.NoError(t, hook.ProcessHook(succeeding)(ctx, goredis.NewStatusCmd(ctx, "ping")))
	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}
