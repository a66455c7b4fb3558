package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/BrandonDHaskell/Portunus/controller/internal/linkproto"
	"github.com/BrandonDHaskell/Portunus/controller/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/identity"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/router"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

// ErrLinkClosed is returned by RemoteLink.Run when the transport reaches EOF,
// is closed underneath it, or keeps failing every read.
var ErrLinkClosed = errors.New("remote link closed")

// transportRetry is the pause after a non-terminal read failure.
const transportRetry = 100 * time.Millisecond

// DefaultMaxTransportFailures is five seconds of failed reads at transportRetry.
const DefaultMaxTransportFailures = 50

type RemoteConfig struct {
	// Alive, if set, is called for every frame received, including
	// keep-alives and frames that failed to decode. Transport failures do
	// not count.
	Alive func()

	// MaxTransportFailures is the number of consecutive failed reads after
	// which Run gives up with ErrLinkClosed. Defaults to
	// DefaultMaxTransportFailures.
	MaxTransportFailures int
}

// RemoteLink services the serial link to the remote reader unit. Inbound
// frames are read on their own goroutine so an outbound status message is
// never held up by a blocked read.
type RemoteLink struct {
	rw       io.ReadWriter
	reads    *router.Signal[types.ReadEvent]
	outbound *router.Signal[linkproto.MainMessage]
	cfg      RemoteConfig
	logger   *log.Logger
	metrics  *metrics.Metrics
}

func NewRemoteLink(rw io.ReadWriter, rt *router.Router, cfg RemoteConfig, logger *log.Logger, m *metrics.Metrics) *RemoteLink {
	if cfg.Alive == nil {
		cfg.Alive = func() {}
	}
	if cfg.MaxTransportFailures <= 0 {
		cfg.MaxTransportFailures = DefaultMaxTransportFailures
	}
	return &RemoteLink{
		rw:       rw,
		reads:    rt.Reads,
		outbound: rt.Outbound,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

type inbound struct {
	msg linkproto.RemoteMessage
	err error
}

// Run services the link until ctx is done or the transport closes. The
// caller owns the transport and should close it after cancelling ctx to
// release the inbound goroutine.
func (l *RemoteLink) Run(ctx context.Context) error {
	frames := make(chan inbound, 1)
	go l.readLoop(ctx, frames)

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil

		case in, ok := <-frames:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrLinkClosed
			}
			if errors.Is(in.err, linkproto.ErrTransport) {
				l.frameError(in.err)
				failures++
				if failures >= l.cfg.MaxTransportFailures {
					return fmt.Errorf("%w: %d consecutive read failures: %w", ErrLinkClosed, failures, in.err)
				}
				continue
			}
			failures = 0
			l.cfg.Alive()
			if in.err != nil {
				l.frameError(in.err)
				continue
			}
			l.handle(in.msg)

		case <-l.outbound.Ready():
			msg, ok := l.outbound.TryTake()
			if !ok {
				continue
			}
			if err := l.send(msg); err != nil {
				l.logger.Printf("error: remote link send %s: %v", msg, err)
			}
		}
	}
}

func (l *RemoteLink) readLoop(ctx context.Context, out chan<- inbound) {
	defer close(out)

	fr := linkproto.NewFrameReader(l.rw)
	for {
		msg, err := fr.ReadRemote()
		if err != nil && isClosed(err) {
			if ctx.Err() == nil {
				l.logger.Printf("error: remote link transport closed: %v", err)
			}
			return
		}

		select {
		case out <- inbound{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}

		if err != nil && errors.Is(err, linkproto.ErrTransport) {
			select {
			case <-time.After(transportRetry):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (l *RemoteLink) handle(msg linkproto.RemoteMessage) {
	l.metrics.IncLinkFrame("in", msg.Kind.String())

	switch {
	case msg.Kind.IsUID():
		l.reads.Signal(types.ReadEvent{Identity: identity.Normalize(msg.UID), Source: types.SourceRemote})
	case msg.Kind == linkproto.JustReset:
		l.logger.Printf("remote reader started (power-up or watchdog restart)")
	case msg.Kind == linkproto.KeepAlive:
	case msg.Kind == linkproto.ReadError:
		l.logger.Printf("warn: remote reader reported a read error")
	case msg.Kind == linkproto.ReaderFault:
		l.logger.Printf("warn: remote reader reported a reader fault")
	}
}

func (l *RemoteLink) frameError(err error) {
	switch {
	case errors.Is(err, linkproto.ErrBufferOverflow):
		l.metrics.IncLinkError("overflow")
	case errors.Is(err, linkproto.ErrDecode):
		l.metrics.IncLinkError("decode")
	default:
		l.metrics.IncLinkError("transport")
	}
	l.logger.Printf("warn: remote link frame dropped: %v", err)
}

func (l *RemoteLink) send(msg linkproto.MainMessage) error {
	frame, err := linkproto.EncodeMain(msg)
	if err != nil {
		return err
	}
	if _, err := l.rw.Write(frame); err != nil {
		return fmt.Errorf("%w: %w", linkproto.ErrTransport, err)
	}
	l.metrics.IncLinkFrame("out", msg.String())
	return nil
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}
