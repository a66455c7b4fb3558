// Package reader turns card presentations from the local reader or the
// remote link into ReadEvents.
package reader

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/BrandonDHaskell/Portunus/controller/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/identity"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/router"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

var (
	// ErrNoCard is returned by Reader.ReadUID when no card answered.
	ErrNoCard = errors.New("reader: no card")

	ErrReadTimeout = errors.New("reader: read timed out")
)

// Reader is a directly attached card reader.
type Reader interface {
	// Init resets and configures the reader from scratch.
	Init(ctx context.Context) error

	// ReadUID runs one wake/select sequence and returns the raw UID.
	ReadUID(ctx context.Context) ([]byte, error)
}

type LocalConfig struct {
	// PollInterval defaults to 100ms.
	PollInterval time.Duration

	// InitBackoff is the wait after a failed initialisation. Defaults to 10s.
	InitBackoff time.Duration

	// ReadTimeout bounds one ReadUID call. A timeout reinitialises the
	// reader. Defaults to 1s.
	ReadTimeout time.Duration

	// Debounce suppresses repeat reads of a card that stays in the field.
	// Defaults to 1s.
	Debounce time.Duration

	// Alive, if set, is called after every poll.
	Alive func()
}

type readResult struct {
	uid []byte
	err error
}

// LocalAdapter polls a Reader and publishes its cards.
type LocalAdapter struct {
	reader  Reader
	reads   *router.Signal[types.ReadEvent]
	cfg     LocalConfig
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// pending is a ReadUID call that outlived its timeout.
	pending <-chan readResult

	lastID   types.CardIdentity
	lastSeen time.Time
}

func NewLocalAdapter(r Reader, reads *router.Signal[types.ReadEvent], cfg LocalConfig, logger *log.Logger, m *metrics.Metrics) *LocalAdapter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.InitBackoff <= 0 {
		cfg.InitBackoff = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = time.Second
	}
	if cfg.Alive == nil {
		cfg.Alive = func() {}
	}

	return &LocalAdapter{
		reader:  r,
		reads:   reads,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Run initialises the reader and polls it until ctx is done.
func (a *LocalAdapter) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if !a.settle(ctx) {
			a.logger.Printf("error: reader still blocked in a previous read, retrying in %s", a.cfg.InitBackoff)
			a.wait(ctx, a.cfg.InitBackoff)
			continue
		}

		if err := a.reader.Init(ctx); err != nil {
			a.logger.Printf("error: reader init failed, retrying in %s: %v", a.cfg.InitBackoff, err)
			a.wait(ctx, a.cfg.InitBackoff)
			continue
		}
		a.logger.Printf("reader initialised")

		a.poll(ctx)
	}
	return nil
}

// poll returns when ctx is done or the reader must be reinitialised.
func (a *LocalAdapter) poll(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		uid, err := a.read(ctx)
		a.cfg.Alive()

		switch {
		case err == nil:
			a.publish(uid)
		case errors.Is(err, ErrReadTimeout):
			a.logger.Printf("warn: reader read timed out after %s, reinitialising", a.cfg.ReadTimeout)
			a.metrics.IncReaderReinit()
			return
		default:
			// No card, collisions and partial selects retry on the next tick.
		}
	}
}

func (a *LocalAdapter) read(ctx context.Context) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, a.cfg.ReadTimeout)
	defer cancel()

	done := make(chan readResult, 1)
	go func() {
		uid, err := a.reader.ReadUID(rctx)
		done <- readResult{uid: uid, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(rctx.Err(), context.DeadlineExceeded) {
			return nil, ErrReadTimeout
		}
		return res.uid, res.err
	case <-rctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.pending = done
		return nil, ErrReadTimeout
	}
}

// settle waits, bounded by the init backoff, for a timed-out read to return
// so Init does not race it for the bus.
func (a *LocalAdapter) settle(ctx context.Context) bool {
	if a.pending == nil {
		return true
	}

	t := time.NewTimer(a.cfg.InitBackoff)
	defer t.Stop()

	select {
	case <-a.pending:
		a.pending = nil
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (a *LocalAdapter) publish(uid []byte) {
	if !identity.ValidUIDLen(len(uid)) {
		a.logger.Printf("warn: reader returned uid of invalid length %d", len(uid))
		return
	}

	id := identity.Normalize(uid)
	now := a.now()
	repeat := id == a.lastID && now.Sub(a.lastSeen) < a.cfg.Debounce
	a.lastID, a.lastSeen = id, now
	if repeat {
		return
	}

	a.reads.Signal(types.ReadEvent{Identity: id, Source: types.SourceLocal})
}

func (a *LocalAdapter) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
