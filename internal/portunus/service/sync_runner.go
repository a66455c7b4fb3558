package service

import (
	"context"
	"errors"
	"log"
	"time"
)

// Synchronizer is implemented by CredentialService.
type Synchronizer interface {
	Synchronize(ctx context.Context) error
}

// SyncRunnerConfig holds the parameters for NewSyncRunner.
type SyncRunnerConfig struct {
	// InitialDelay lets the network come up before the first attempt.
	// Defaults to 60s.
	InitialDelay time.Duration

	// Period between attempts. Defaults to 5m.
	Period time.Duration

	// Alive, if set, is called after every attempt and on every wake-up.
	Alive func()
}

// SyncRunner drives periodic credential synchronisation. Failures are
// logged and retried on the next period; Trigger requests an extra attempt.
type SyncRunner struct {
	svc     Synchronizer
	cfg     SyncRunnerConfig
	logger  *log.Logger
	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSyncRunner creates a runner but does not start it.
func NewSyncRunner(svc Synchronizer, cfg SyncRunnerConfig, logger *log.Logger) *SyncRunner {
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.Period <= 0 {
		cfg.Period = 5 * time.Minute
	}
	if cfg.Alive == nil {
		cfg.Alive = func() {}
	}

	return &SyncRunner{
		svc:     svc,
		cfg:     cfg,
		logger:  logger,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start begins the background loop. The loop exits when ctx is cancelled or
// Stop is called.
func (r *SyncRunner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	go r.loop(ctx)

	r.logger.Printf("sync runner started (initial_delay=%s, period=%s)", r.cfg.InitialDelay, r.cfg.Period)
}

// Stop signals the runner to exit and waits for it to finish.
func (r *SyncRunner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

// Trigger asks for a synchronisation as soon as the runner is idle. It
// returns false if a request is already pending.
func (r *SyncRunner) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (r *SyncRunner) loop(ctx context.Context) {
	defer close(r.done)

	timer := time.NewTimer(r.cfg.InitialDelay)
	defer timer.Stop()

	// Wake at least once per minute so the liveness watchdog sees progress
	// through long periods.
	alive := time.NewTicker(time.Minute)
	defer alive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			r.run(ctx)
			timer.Reset(r.cfg.Period)
		case <-r.trigger:
			r.run(ctx)
		case <-alive.C:
		}
		r.cfg.Alive()
	}
}

func (r *SyncRunner) run(ctx context.Context) {
	err := r.svc.Synchronize(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrNetworkUnavailable):
		r.logger.Printf("sync skipped: network not ready")
	case ctx.Err() != nil:
	default:
		r.logger.Printf("sync error: %v", err)
	}
}
