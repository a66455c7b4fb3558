package hw

import (
	"bufio"
	"context"
	"io"
	"log"
	"sync"

	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/identity"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/reader"
)

// SimOutputs logs output changes instead of driving pins.
type SimOutputs struct {
	logger *log.Logger

	mu                     sync.Mutex
	relay, allowed, denied bool
}

func NewSimOutputs(logger *log.Logger) *SimOutputs {
	return &SimOutputs{logger: logger}
}

func (o *SimOutputs) SetRelay(on bool) error   { return o.set("relay", &o.relay, on) }
func (o *SimOutputs) SetAllowed(on bool) error { return o.set("allowed", &o.allowed, on) }
func (o *SimOutputs) SetDenied(on bool) error  { return o.set("denied", &o.denied, on) }

func (o *SimOutputs) set(name string, dst *bool, on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if *dst != on {
		o.logger.Printf("sim: %s=%t", name, on)
	}
	*dst = on
	return nil
}

// State returns relay, allowed and denied.
func (o *SimOutputs) State() (relay, allowed, denied bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.relay, o.allowed, o.denied
}

// SimReader presents one card for every hex UID line read from src.
type SimReader struct {
	logger *log.Logger
	cards  chan []byte
}

func NewSimReader(src io.Reader, logger *log.Logger) *SimReader {
	r := &SimReader{logger: logger, cards: make(chan []byte, 1)}
	go r.scan(src)
	return r
}

func (r *SimReader) scan(src io.Reader) {
	sc := bufio.NewScanner(src)
	for sc.Scan() {
		if sc.Text() == "" {
			continue
		}
		uid, err := identity.ParseUID(sc.Text())
		if err != nil {
			r.logger.Printf("sim: %v", err)
			continue
		}
		r.cards <- uid
	}
}

func (r *SimReader) Init(context.Context) error { return nil }

func (r *SimReader) ReadUID(context.Context) ([]byte, error) {
	select {
	case uid := <-r.cards:
		return uid, nil
	default:
		return nil, reader.ErrNoCard
	}
}
