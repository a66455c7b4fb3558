package reader_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/controller/internal/linkproto"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/identity"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/reader"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/router"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

type linkHarness struct {
	rt     *router.Router
	remote net.Conn
	alive  *atomic.Int32
	done   chan error
	cancel context.CancelFunc
}

func startLink(t *testing.T) *linkHarness {
	t.Helper()
	local, remote := net.Pipe()

	h := &linkHarness{
		rt:     router.New(4),
		remote: remote,
		alive:  new(atomic.Int32),
		done:   make(chan error, 1),
	}
	link := reader.NewRemoteLink(local, h.rt, reader.RemoteConfig{Alive: func() { h.alive.Add(1) }}, silentLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- link.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = local.Close()
		_ = remote.Close()
	})
	return h
}

func (h *linkHarness) send(t *testing.T, m linkproto.RemoteMessage) {
	t.Helper()
	frame, err := linkproto.EncodeRemote(m)
	require.NoError(t, err)
	h.write(t, frame)
}

func (h *linkHarness) write(t *testing.T, b []byte) {
	t.Helper()
	require.NoError(t, h.remote.SetWriteDeadline(time.Now().Add(time.Second)))
	_, err := h.remote.Write(b)
	require.NoError(t, err)
}

func TestRemote_UIDFramesBecomeReadEvents(t *testing.T) {
	h := startLink(t)

	for _, uid := range [][]byte{
		{0xDE, 0xAD, 0xBE, 0xEF},
		{1, 2, 3, 4, 5, 6, 7},
		{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
	} {
		m, err := linkproto.UIDMessage(uid)
		require.NoError(t, err)
		h.send(t, m)

		ev := waitRead(t, h.rt.Reads)
		assert.Equal(t, identity.Normalize(uid), ev.Identity)
		assert.Equal(t, types.SourceRemote, ev.Source)
	}
}

func TestRemote_StatusFramesAreNotRouted(t *testing.T) {
	h := startLink(t)

	for _, k := range []linkproto.RemoteKind{linkproto.JustReset, linkproto.KeepAlive, linkproto.ReadError, linkproto.ReaderFault} {
		h.send(t, linkproto.RemoteMessage{Kind: k})
	}

	require.Eventually(t, func() bool { return h.alive.Load() == 4 }, time.Second, 5*time.Millisecond)
	assert.False(t, h.rt.Reads.Pending())
}

func TestRemote_BadFramesAreSkipped(t *testing.T) {
	h := startLink(t)

	// Oversized frame, then a corrupt one, then a good one.
	h.write(t, append(bytes.Repeat([]byte{0x07}, 20), 0x00))
	h.write(t, []byte{0x05, 0x01, 0x00})
	m, _ := linkproto.UIDMessage([]byte{4, 3, 2, 1})
	h.send(t, m)

	ev := waitRead(t, h.rt.Reads)
	assert.Equal(t, identity.Normalize([]byte{4, 3, 2, 1}), ev.Identity)
}

func TestRemote_OutboundStatusIsWritten(t *testing.T) {
	h := startLink(t)
	fr := linkproto.NewFrameReader(h.remote)

	for _, want := range []linkproto.MainMessage{linkproto.AccessGranted, linkproto.AwaitingCard} {
		h.rt.Outbound.Signal(want)

		require.NoError(t, h.remote.SetReadDeadline(time.Now().Add(time.Second)))
		got, err := fr.ReadMain()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRemote_OutboundNotBlockedByIdleInbound(t *testing.T) {
	h := startLink(t)
	fr := linkproto.NewFrameReader(h.remote)

	// Nothing is ever sent inbound; the inbound read stays blocked.
	h.rt.Outbound.Signal(linkproto.AccessDenied)

	require.NoError(t, h.remote.SetReadDeadline(time.Now().Add(time.Second)))
	got, err := fr.ReadMain()
	require.NoError(t, err)
	assert.Equal(t, linkproto.AccessDenied, got)
}

func TestRemote_ClosedTransportEndsRun(t *testing.T) {
	h := startLink(t)
	require.NoError(t, h.remote.Close())

	select {
	case err := <-h.done:
		require.ErrorIs(t, err, reader.ErrLinkClosed)
	case <-time.After(time.Second):
		t.Fatal("link did not stop")
	}
}

func TestRemote_CancelEndsRun(t *testing.T) {
	h := startLink(t)
	h.cancel()

	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("link did not stop")
	}
}

// deadPort behaves like a serial device that disappeared: every read fails.
type deadPort struct{}

func (deadPort) Read([]byte) (int, error)    { return 0, errors.New("input/output error") }
func (deadPort) Write(b []byte) (int, error) { return len(b), nil }

func TestRemote_FailingTransportDoesNotFeedAlive(t *testing.T) {
	var alive atomic.Int32
	link := reader.NewRemoteLink(deadPort{}, router.New(4), reader.RemoteConfig{
		Alive:                func() { alive.Add(1) },
		MaxTransportFailures: 1000,
	}, silentLogger(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, link.Run(ctx))
	assert.Zero(t, alive.Load())
}

func TestRemote_RepeatedTransportFailuresEndRun(t *testing.T) {
	var alive atomic.Int32
	link := reader.NewRemoteLink(deadPort{}, router.New(4), reader.RemoteConfig{
		Alive:                func() { alive.Add(1) },
		MaxTransportFailures: 3,
	}, silentLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- link.Run(ctx) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, reader.ErrLinkClosed)
		require.ErrorIs(t, err, linkproto.ErrTransport)
	case <-time.After(2 * time.Second):
		t.Fatal("link did not give up on a dead transport")
	}
	assert.Zero(t, alive.Load())
}
