package service

import (
	"context"
	"log"
	"time"

	"github.com/BrandonDHaskell/Portunus/controller/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/controller/internal/netcheck"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/router"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

// EventPoster delivers one log event to the telemetry endpoint.
type EventPoster interface {
	PostEvent(ctx context.Context, ev types.LogEvent) error
}

type TelemetryConfig struct {
	// Timeout bounds one delivery attempt. Defaults to 10s.
	Timeout time.Duration

	// Cooldown follows a failed attempt and each not-ready network check.
	// Defaults to 60s.
	Cooldown time.Duration
}

type TelemetryDeps struct {
	Queue   *router.Queue[types.LogEvent]
	Poster  EventPoster
	Probe   netcheck.Probe
	Logger  *log.Logger
	Metrics *metrics.Metrics

	// Sleep waits for d or until ctx is done. Defaults to a timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// TelemetryDispatcher drains the telemetry queue. Failed events go back on
// the queue; an event that no longer fits is lost.
type TelemetryDispatcher struct {
	cfg     TelemetryConfig
	queue   *router.Queue[types.LogEvent]
	poster  EventPoster
	probe   netcheck.Probe
	logger  *log.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewTelemetryDispatcher(cfg TelemetryConfig, deps TelemetryDeps) *TelemetryDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}

	d := &TelemetryDispatcher{
		cfg:     cfg,
		queue:   deps.Queue,
		poster:  deps.Poster,
		probe:   deps.Probe,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		sleep:   deps.Sleep,
	}
	if d.probe == nil {
		d.probe = netcheck.Static(true)
	}
	if d.sleep == nil {
		d.sleep = sleepCtx
	}
	return d
}

// Run delivers events until ctx is done.
func (d *TelemetryDispatcher) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if !d.probe.Ready(ctx) {
			_ = d.sleep(ctx, d.cfg.Cooldown)
			continue
		}

		ev, err := d.queue.Receive(ctx)
		if err != nil {
			return nil
		}
		if !d.deliver(ctx, ev) {
			_ = d.sleep(ctx, d.cfg.Cooldown)
		}
	}
	return nil
}

func (d *TelemetryDispatcher) deliver(ctx context.Context, ev types.LogEvent) bool {
	pctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	err := d.poster.PostEvent(pctx, ev)
	cancel()

	if err == nil {
		d.metrics.IncTelemetry("delivered")
		d.metrics.SetTelemetryQueue(d.queue.Len())
		return true
	}

	if qerr := d.queue.TrySend(ev); qerr != nil {
		d.logger.Printf("warn: telemetry event lost id=%s type=%s: %v (after %v)", ev.ID, ev.Kind, qerr, err)
		d.metrics.IncTelemetry("dropped")
	} else {
		d.logger.Printf("telemetry delivery failed, requeued id=%s type=%s: %v", ev.ID, ev.Kind, err)
		d.metrics.IncTelemetry("requeued")
	}
	d.metrics.SetTelemetryQueue(d.queue.Len())
	return false
}
