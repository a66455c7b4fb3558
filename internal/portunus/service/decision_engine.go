package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/controller/internal/linkproto"
	"github.com/BrandonDHaskell/Portunus/controller/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/router"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

// Outputs are the relay and indicator lines. The decision engine is their
// only writer.
type Outputs interface {
	SetRelay(on bool) error
	SetAllowed(on bool) error
	SetDenied(on bool) error
}

// Lookuper answers whether a card is authorised.
type Lookuper interface {
	Lookup(ctx context.Context, id types.CardIdentity) (bool, error)
}

type DecisionConfig struct {
	Mode types.LatchMode

	// Duration is how long a timed activation holds the relay. Defaults to 5s.
	Duration time.Duration

	// DeniedPulse is how long the denied indicator stays lit. Defaults to 2s.
	DeniedPulse time.Duration

	// RemoteStatus mirrors every decision to the remote reader's indicator.
	RemoteStatus bool
}

type DecisionDeps struct {
	Credentials Lookuper
	Outputs     Outputs
	Router      *router.Router
	Logger      *log.Logger
	Metrics     *metrics.Metrics

	// Sleep waits for d or until ctx is done. Defaults to a timer wait.
	Sleep func(ctx context.Context, d time.Duration) error

	// NewID labels log events. Defaults to random UUIDs.
	NewID func() string

	// Alive, if set, is called whenever the engine is idle, finishes an
	// event, or starts and ends a relay hold or denied pulse.
	Alive func()
}

// DecisionEngine consumes read events one at a time and drives the outputs.
type DecisionEngine struct {
	cfg     DecisionConfig
	creds   Lookuper
	out     Outputs
	router  *router.Router
	logger  *log.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
	newID   func() string
	alive   func()

	mu    sync.RWMutex
	state types.LatchState
}

func NewDecisionEngine(cfg DecisionConfig, deps DecisionDeps) *DecisionEngine {
	if cfg.Duration <= 0 {
		cfg.Duration = 5 * time.Second
	}
	if cfg.DeniedPulse <= 0 {
		cfg.DeniedPulse = 2 * time.Second
	}

	e := &DecisionEngine{
		cfg:     cfg,
		creds:   deps.Credentials,
		out:     deps.Outputs,
		router:  deps.Router,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		sleep:   deps.Sleep,
		newID:   deps.NewID,
		alive:   deps.Alive,
	}
	if e.sleep == nil {
		e.sleep = sleepCtx
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.alive == nil {
		e.alive = func() {}
	}
	return e
}

func (e *DecisionEngine) Mode() types.LatchMode { return e.cfg.Mode }

// State returns the latching state. It is always disabled in timed mode.
func (e *DecisionEngine) State() types.LatchState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *DecisionEngine) setState(s types.LatchState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run processes read events until ctx is done. On return the outputs are
// cleared.
func (e *DecisionEngine) Run(ctx context.Context) error {
	reads := e.router.Reads

	e.notify(linkproto.AwaitingCard)

	idle := time.NewTicker(time.Second)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			e.clearOutputs()
			return nil
		case <-reads.Ready():
			ev, ok := reads.TryTake()
			if !ok {
				continue
			}
			e.Process(ctx, ev)
			// Reads that arrived while this one was processed are stale.
			reads.Reset()
		case <-idle.C:
		}
		e.alive()
	}
}

// Process applies one read event. Run calls it for each event it takes.
func (e *DecisionEngine) Process(ctx context.Context, ev types.ReadEvent) {
	id := ev.Identity
	valid := e.valid(ctx, id)

	switch e.cfg.Mode {
	case types.LatchLatching:
		state := e.State()
		switch {
		case state.Enabled:
			e.setOutputs(false)
			e.setState(types.LatchState{})
			e.notify(linkproto.AwaitingCard)
			e.emit(types.LogDeactivated, &state.Holder)
			e.metrics.IncDecision("deactivated")
			e.logger.Printf("access deactivated holder=%s by=%s source=%s", state.Holder, id, ev.Source)
		case valid:
			e.setOutputs(true)
			e.setState(types.LatchState{Enabled: true, Holder: id})
			e.notify(linkproto.AccessGranted)
			e.emit(types.LogActivated, &id)
			e.metrics.IncDecision("activated")
			e.logger.Printf("access activated holder=%s source=%s", id, ev.Source)
		default:
			e.deny(ctx, id, ev.Source)
		}

	default:
		if !valid {
			e.deny(ctx, id, ev.Source)
			return
		}
		e.setOutputs(true)
		e.notify(linkproto.AccessGranted)
		e.logger.Printf("access granted id=%s source=%s hold=%s", id, ev.Source, e.cfg.Duration)

		if err := e.hold(ctx, e.cfg.Duration); err != nil {
			e.logger.Printf("warn: timed hold interrupted: %v", err)
		}
		e.setOutputs(false)
		e.notify(linkproto.AwaitingCard)
		e.emit(types.LogActivated, &id)
		e.metrics.IncDecision("activated")
	}
}

// valid treats a lookup failure as not authorised and reports it.
func (e *DecisionEngine) valid(ctx context.Context, id types.CardIdentity) bool {
	ok, err := e.creds.Lookup(ctx, id)
	if err != nil {
		e.logger.Printf("error: credential lookup id=%s: %v", id, err)
		e.emit(types.LogError, nil)
		return false
	}
	return ok
}

func (e *DecisionEngine) deny(ctx context.Context, id types.CardIdentity, src types.Source) {
	e.logger.Printf("access denied id=%s source=%s", id, src)
	e.metrics.IncDecision("denied")

	e.set("denied", e.out.SetDenied, true)
	e.notify(linkproto.AccessDenied)

	if err := e.hold(ctx, e.cfg.DeniedPulse); err != nil {
		e.logger.Printf("warn: denied pulse interrupted: %v", err)
	}

	e.set("denied", e.out.SetDenied, false)
	e.notify(linkproto.AwaitingCard)
	e.emit(types.LogLoginFailed, &id)
}

// hold waits d with the liveness deadline restarted on both sides.
func (e *DecisionEngine) hold(ctx context.Context, d time.Duration) error {
	e.alive()
	defer e.alive()
	return e.sleep(ctx, d)
}

func (e *DecisionEngine) setOutputs(on bool) {
	e.set("relay", e.out.SetRelay, on)
	e.set("allowed", e.out.SetAllowed, on)
}

func (e *DecisionEngine) clearOutputs() {
	e.setOutputs(false)
	e.set("denied", e.out.SetDenied, false)
}

func (e *DecisionEngine) set(name string, fn func(bool) error, on bool) {
	if err := fn(on); err != nil {
		e.logger.Printf("error: set %s=%t: %v", name, on, err)
	}
}

func (e *DecisionEngine) notify(msg linkproto.MainMessage) {
	if e.cfg.RemoteStatus && e.router.Outbound != nil {
		e.router.Outbound.Signal(msg)
	}
}

func (e *DecisionEngine) emit(kind types.LogKind, id *types.CardIdentity) {
	ev := types.LogEvent{ID: e.newID(), Kind: kind}
	if id != nil {
		cp := *id
		ev.Identity = &cp
	}
	if err := e.router.Telemetry.TrySend(ev); err != nil {
		e.logger.Printf("warn: telemetry %s dropped: %v", kind, err)
		e.metrics.IncTelemetry("dropped")
	}
	e.metrics.SetTelemetryQueue(e.router.Telemetry.Len())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
