package reader_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/identity"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/reader"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/router"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// scriptedReader answers ReadUID from a queue of results, then ErrNoCard.
type scriptedReader struct {
	mu        sync.Mutex
	inits     int
	initFails int
	reads     []func(ctx context.Context) ([]byte, error)
	sticky    []byte
}

func (r *scriptedReader) Init(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits++
	if r.inits <= r.initFails {
		return errors.New("spi: no response")
	}
	return nil
}

func (r *scriptedReader) ReadUID(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	var next func(context.Context) ([]byte, error)
	if len(r.reads) > 0 {
		next, r.reads = r.reads[0], r.reads[1:]
	}
	sticky := r.sticky
	r.mu.Unlock()

	if next != nil {
		return next(ctx)
	}
	if sticky != nil {
		return sticky, nil
	}
	return nil, reader.ErrNoCard
}

func (r *scriptedReader) Inits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inits
}

func returns(uid []byte) func(context.Context) ([]byte, error) {
	return func(context.Context) ([]byte, error) { return uid, nil }
}

func startLocal(t *testing.T, r reader.Reader, cfg reader.LocalConfig) *router.Signal[types.ReadEvent] {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.InitBackoff == 0 {
		cfg.InitBackoff = 5 * time.Millisecond
	}

	reads := router.NewSignal[types.ReadEvent]()
	a := reader.NewLocalAdapter(r, reads, cfg, silentLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return reads
}

func waitRead(t *testing.T, reads *router.Signal[types.ReadEvent]) types.ReadEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := reads.Wait(ctx)
	require.NoError(t, err)
	return ev
}

func TestLocal_PublishesNormalizedUID(t *testing.T) {
	uid := []byte{0x04, 0xA2, 0x2B, 0x1C, 0x5D, 0x61, 0x80}
	r := &scriptedReader{reads: []func(context.Context) ([]byte, error){returns(uid)}}

	ev := waitRead(t, startLocal(t, r, reader.LocalConfig{}))
	assert.Equal(t, identity.Normalize(uid), ev.Identity)
	assert.Equal(t, types.SourceLocal, ev.Source)
}

func TestLocal_IgnoresInvalidLength(t *testing.T) {
	r := &scriptedReader{reads: []func(context.Context) ([]byte, error){returns([]byte{1, 2, 3, 4, 5})}}
	reads := startLocal(t, r, reader.LocalConfig{})

	require.Never(t, reads.Pending, 50*time.Millisecond, 5*time.Millisecond)
}

func TestLocal_CardLeftInFieldIsReportedOnce(t *testing.T) {
	r := &scriptedReader{sticky: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	reads := startLocal(t, r, reader.LocalConfig{Debounce: time.Hour})

	waitRead(t, reads)
	require.Never(t, reads.Pending, 50*time.Millisecond, 5*time.Millisecond)
}

func TestLocal_RetriesFailedInit(t *testing.T) {
	r := &scriptedReader{
		initFails: 2,
		reads:     []func(context.Context) ([]byte, error){returns([]byte{1, 2, 3, 4})},
	}
	reads := startLocal(t, r, reader.LocalConfig{})

	waitRead(t, reads)
	assert.Equal(t, 3, r.Inits())
}

func TestLocal_ReadTimeoutReinitialises(t *testing.T) {
	hang := func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := &scriptedReader{reads: []func(context.Context) ([]byte, error){hang, returns([]byte{9, 9, 9, 9})}}
	reads := startLocal(t, r, reader.LocalConfig{ReadTimeout: 10 * time.Millisecond})

	waitRead(t, reads)
	assert.Equal(t, 2, r.Inits())
}

func TestLocal_WedgedReadBlocksInitUntilItReturns(t *testing.T) {
	release := make(chan struct{})
	wedged := func(context.Context) ([]byte, error) {
		<-release
		return nil, errors.New("spi: transfer aborted")
	}
	r := &scriptedReader{reads: []func(context.Context) ([]byte, error){wedged, returns([]byte{7, 7, 7, 7})}}
	reads := startLocal(t, r, reader.LocalConfig{ReadTimeout: 5 * time.Millisecond})

	require.Never(t, func() bool { return r.Inits() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	waitRead(t, reads)
	assert.Equal(t, 2, r.Inits())
}
