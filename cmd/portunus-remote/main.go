// Command portunus-remote emulates the remote reader unit on a serial line
// for bench testing. Each stdin line is a hex card UID, or one of "error",
// "fault" and "reset" to send the matching status frame.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/Portunus/controller/internal/hw"
	"github.com/BrandonDHaskell/Portunus/controller/internal/linkproto"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/identity"
)

func main() {
	device := flag.String("device", "/dev/ttyUSB0", "serial device")
	baud := flag.Int("baud", 115200, "baud rate")
	keepAlive := flag.Duration("keepalive", time.Second, "keep-alive interval")
	flag.Parse()

	logger := log.New(os.Stdout, "portunus-remote ", log.LstdFlags|log.LUTC)

	port, err := hw.OpenSerial(*device, *baud)
	if err != nil {
		logger.Fatalf("error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	link := &link{w: port, logger: logger}
	if err := link.send(linkproto.RemoteMessage{Kind: linkproto.JustReset}); err != nil {
		logger.Fatalf("error: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Closing the port unblocks the frame reader.
	g.Go(func() error {
		<-gctx.Done()
		return port.Close()
	})

	g.Go(func() error {
		ticker := time.NewTicker(*keepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := link.send(linkproto.RemoteMessage{Kind: linkproto.KeepAlive}); err != nil {
					return err
				}
			}
		}
	})

	// Indicator updates from the controller.
	g.Go(func() error {
		fr := linkproto.NewFrameReader(port)
		for gctx.Err() == nil {
			msg, err := fr.ReadMain()
			switch {
			case err == nil:
				logger.Printf("indicator: %s", msg)
			case gctx.Err() != nil:
				return nil
			case errors.Is(err, linkproto.ErrTransport):
				return err
			default:
				logger.Printf("warn: frame dropped: %v", err)
			}
		}
		return nil
	})

	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			if err := link.command(strings.TrimSpace(sc.Text())); err != nil {
				logger.Printf("warn: %v", err)
			}
		}
	}()

	if err := g.Wait(); err != nil {
		logger.Printf("error: %v", err)
		os.Exit(1)
	}
}

type link struct {
	mu     sync.Mutex
	w      io.Writer
	logger *log.Logger
}

func (l *link) command(line string) error {
	switch strings.ToLower(line) {
	case "":
		return nil
	case "error":
		return l.send(linkproto.RemoteMessage{Kind: linkproto.ReadError})
	case "fault":
		return l.send(linkproto.RemoteMessage{Kind: linkproto.ReaderFault})
	case "reset":
		return l.send(linkproto.RemoteMessage{Kind: linkproto.JustReset})
	}

	uid, err := identity.ParseUID(line)
	if err != nil {
		return err
	}
	msg, err := linkproto.UIDMessage(uid)
	if err != nil {
		return err
	}
	if err := l.send(msg); err != nil {
		return err
	}
	l.logger.Printf("presented %s id=%s", msg, identity.Normalize(uid))
	return nil
}

func (l *link) send(msg linkproto.RemoteMessage) error {
	frame, err := linkproto.EncodeRemote(msg)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(frame)
	return err
}
