package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/controller/internal/netcheck"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/backend"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/router"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/service"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

// flakyPoster fails the first failures attempts and records every attempt.
type flakyPoster struct {
	mu       sync.Mutex
	failures int
	attempts []string
	onPost   func()
}

func (p *flakyPoster) PostEvent(_ context.Context, ev types.LogEvent) error {
	p.mu.Lock()
	p.attempts = append(p.attempts, ev.ID)
	fail := len(p.attempts) <= p.failures
	onPost := p.onPost
	p.mu.Unlock()

	if onPost != nil {
		onPost()
	}
	if fail {
		return backend.ErrTimeout
	}
	return nil
}

func (p *flakyPoster) Attempts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.attempts...)
}

func runDispatcher(t *testing.T, d *service.TelemetryDispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("dispatcher did not stop")
		}
	})
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestTelemetry_DeliversInOrder(t *testing.T) {
	q := router.NewQueue[types.LogEvent](32)
	p := &flakyPoster{}
	d := service.NewTelemetryDispatcher(service.TelemetryConfig{}, service.TelemetryDeps{
		Queue: q, Poster: p, Logger: silentLogger(), Sleep: noSleep,
	})

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.TrySend(types.LogEvent{ID: id, Kind: types.LogActivated}))
	}
	runDispatcher(t, d)

	require.Eventually(t, func() bool { return len(p.Attempts()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, p.Attempts())
}

func TestTelemetry_FailedEventRedeliveredExactlyOnce(t *testing.T) {
	q := router.NewQueue[types.LogEvent](32)
	p := &flakyPoster{failures: 1}

	var cooldowns []time.Duration
	var mu sync.Mutex
	d := service.NewTelemetryDispatcher(service.TelemetryConfig{Cooldown: 30 * time.Second}, service.TelemetryDeps{
		Queue: q, Poster: p, Logger: silentLogger(),
		Sleep: func(ctx context.Context, dur time.Duration) error {
			mu.Lock()
			cooldowns = append(cooldowns, dur)
			mu.Unlock()
			return ctx.Err()
		},
	})

	require.NoError(t, q.TrySend(types.LogEvent{ID: "ev-1", Kind: types.LogLoginFailed}))
	runDispatcher(t, d)

	require.Eventually(t, func() bool { return len(p.Attempts()) == 2 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return len(p.Attempts()) > 2 }, 100*time.Millisecond, 10*time.Millisecond)

	assert.Equal(t, []string{"ev-1", "ev-1"}, p.Attempts())
	assert.Equal(t, 0, q.Len())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{30 * time.Second}, cooldowns)
}

func TestTelemetry_FullQueueLosesFailedEvent(t *testing.T) {
	q := router.NewQueue[types.LogEvent](1)
	p := &flakyPoster{failures: 1}

	// Refill the queue while the first attempt is in flight.
	var once sync.Once
	p.onPost = func() {
		once.Do(func() {
			assert.NoError(t, q.TrySend(types.LogEvent{ID: "ev-2", Kind: types.LogActivated}))
		})
	}

	d := service.NewTelemetryDispatcher(service.TelemetryConfig{}, service.TelemetryDeps{
		Queue: q, Poster: p, Logger: silentLogger(), Sleep: noSleep,
	})

	require.NoError(t, q.TrySend(types.LogEvent{ID: "ev-1", Kind: types.LogActivated}))
	runDispatcher(t, d)

	require.Eventually(t, func() bool { return len(p.Attempts()) == 2 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return len(p.Attempts()) > 2 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, []string{"ev-1", "ev-2"}, p.Attempts())
}

type togglingProbe struct {
	mu    sync.Mutex
	ready bool
	polls int
}

func (p *togglingProbe) Ready(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if p.polls >= 3 {
		p.ready = true
	}
	return p.ready
}

var _ netcheck.Probe = (*togglingProbe)(nil)

func TestTelemetry_WaitsForNetwork(t *testing.T) {
	q := router.NewQueue[types.LogEvent](4)
	p := &flakyPoster{}
	probe := &togglingProbe{}

	var waits int
	var mu sync.Mutex
	d := service.NewTelemetryDispatcher(service.TelemetryConfig{}, service.TelemetryDeps{
		Queue: q, Poster: p, Probe: probe, Logger: silentLogger(),
		Sleep: func(ctx context.Context, _ time.Duration) error {
			mu.Lock()
			waits++
			mu.Unlock()
			return ctx.Err()
		},
	})

	require.NoError(t, q.TrySend(types.LogEvent{ID: "ev-1", Kind: types.LogDeactivated}))
	runDispatcher(t, d)

	require.Eventually(t, func() bool { return len(p.Attempts()) == 1 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, waits, "one cooldown per not-ready check")
}

func TestTelemetry_StopsOnCancel(t *testing.T) {
	d := service.NewTelemetryDispatcher(service.TelemetryConfig{}, service.TelemetryDeps{
		Queue: router.NewQueue[types.LogEvent](1), Poster: &flakyPoster{}, Logger: silentLogger(),
		Probe: netcheck.Static(true),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, d.Run(ctx))
}
