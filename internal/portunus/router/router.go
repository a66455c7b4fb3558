package router

import (
	"github.com/BrandonDHaskell/Portunus/controller/internal/linkproto"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

// DefaultTelemetryCapacity is the number of log events held awaiting delivery.
const DefaultTelemetryCapacity = 32

// Router bundles the process-wide channels. It is created once in main and
// handed to each task; nothing tears it down.
type Router struct {
	// Reads carries card presentations to the decision engine.
	Reads *Signal[types.ReadEvent]

	// Outbound carries status updates for the remote reader's indicator.
	Outbound *Signal[linkproto.MainMessage]

	// Telemetry holds outcome events for the dispatcher.
	Telemetry *Queue[types.LogEvent]
}

func New(telemetryCapacity int) *Router {
	if telemetryCapacity <= 0 {
		telemetryCapacity = DefaultTelemetryCapacity
	}
	return &Router{
		Reads:     NewSignal[types.ReadEvent](),
		Outbound:  NewSignal[linkproto.MainMessage](),
		Telemetry: NewQueue[types.LogEvent](telemetryCapacity),
	}
}
