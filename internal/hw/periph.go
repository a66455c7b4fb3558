// Package hw binds the controller to real hardware: an MFRC522 reader on
// SPI, relay and indicator lines on GPIO, and the serial link to a remote
// reader unit. Sim types stand in for bench runs without hardware.
package hw

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/mfrc522"
	"periph.io/x/host/v3"
)

var errNotInitialised = errors.New("hw: reader not initialised")

var (
	hostOnce sync.Once
	hostErr  error
)

func initHost() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	return hostErr
}

func pin(name string) (gpio.PinIO, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("hw: host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("hw: unknown gpio pin %q", name)
	}
	return p, nil
}

func level(on bool) gpio.Level {
	if on {
		return gpio.High
	}
	return gpio.Low
}

type MFRC522Config struct {
	SPIPort  string // "" selects the first SPI port
	ResetPin string
	IRQPin   string

	// ResetPulse is how long the reset line is held low. Defaults to 250ms.
	ResetPulse time.Duration

	// ScanTimeout bounds the reader's wait for a card answer. Defaults to 50ms.
	ScanTimeout time.Duration
}

// MFRC522 is a reader.Reader for an NXP MFRC522 on SPI.
type MFRC522 struct {
	cfg    MFRC522Config
	logger *log.Logger

	mu   sync.Mutex
	port spi.PortCloser
	dev  *mfrc522.Dev
}

func NewMFRC522(cfg MFRC522Config, logger *log.Logger) *MFRC522 {
	if cfg.ResetPulse <= 0 {
		cfg.ResetPulse = 250 * time.Millisecond
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 50 * time.Millisecond
	}
	return &MFRC522{cfg: cfg, logger: logger}
}

// Init pulses the reset line and opens the device from scratch.
func (r *MFRC522) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()

	rst, err := pin(r.cfg.ResetPin)
	if err != nil {
		return err
	}
	irq, err := pin(r.cfg.IRQPin)
	if err != nil {
		return err
	}

	if err := rst.Out(gpio.Low); err != nil {
		return fmt.Errorf("hw: reset low: %w", err)
	}
	t := time.NewTimer(r.cfg.ResetPulse)
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-t.C:
	}
	if err := rst.Out(gpio.High); err != nil {
		return fmt.Errorf("hw: reset high: %w", err)
	}

	port, err := spireg.Open(r.cfg.SPIPort)
	if err != nil {
		return fmt.Errorf("hw: open spi %q: %w", r.cfg.SPIPort, err)
	}
	dev, err := mfrc522.NewSPI(port, rst, irq)
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("hw: mfrc522: %w", err)
	}

	r.port, r.dev = port, dev
	r.logger.Printf("mfrc522 ready spi=%q reset=%s irq=%s", r.cfg.SPIPort, r.cfg.ResetPin, r.cfg.IRQPin)
	return nil
}

// ReadUID waits at most ScanTimeout, or less if ctx expires first.
func (r *MFRC522) ReadUID(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev == nil {
		return nil, errNotInitialised
	}

	timeout := r.cfg.ScanTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}
	return r.dev.ReadUID(timeout)
}

func (r *MFRC522) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *MFRC522) closeLocked() error {
	r.dev = nil
	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	r.port = nil
	return err
}

type OutputPins struct {
	Relay   string
	Allowed string
	Denied  string
}

// GPIOOutputs drives the relay and indicator lines.
type GPIOOutputs struct {
	relay, allowed, denied gpio.PinOut
}

// OpenGPIOOutputs resolves the pins and drives them all low.
func OpenGPIOOutputs(pins OutputPins) (*GPIOOutputs, error) {
	var o GPIOOutputs
	for _, p := range []struct {
		name string
		dst  *gpio.PinOut
	}{
		{pins.Relay, &o.relay},
		{pins.Allowed, &o.allowed},
		{pins.Denied, &o.denied},
	} {
		io, err := pin(p.name)
		if err != nil {
			return nil, err
		}
		if err := io.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("hw: drive %s low: %w", p.name, err)
		}
		*p.dst = io
	}
	return &o, nil
}

func (o *GPIOOutputs) SetRelay(on bool) error   { return o.relay.Out(level(on)) }
func (o *GPIOOutputs) SetAllowed(on bool) error { return o.allowed.Out(level(on)) }
func (o *GPIOOutputs) SetDenied(on bool) error  { return o.denied.Out(level(on)) }
