package types

import "fmt"

// Source records which reader adapter produced a ReadEvent.
type Source uint8

const (
	SourceLocal Source = iota
	SourceRemote
)

func (s Source) String() string {
	if s == SourceRemote {
		return "remote"
	}
	return "local"
}

// ReadEvent is one card presentation on its way to the decision engine.
type ReadEvent struct {
	Identity CardIdentity
	Source   Source
}

// LogKind is the outcome category reported to the telemetry endpoint.
type LogKind uint8

const (
	LogActivated LogKind = iota
	LogDeactivated
	LogLoginFailed
	LogError
)

// String returns the event type string expected by the logging API.
func (k LogKind) String() string {
	switch k {
	case LogActivated:
		return "Activated"
	case LogDeactivated:
		return "Deactivated"
	case LogLoginFailed:
		return "LoginFail"
	case LogError:
		return "ERROR"
	default:
		return fmt.Sprintf("LogKind(%d)", uint8(k))
	}
}

// LogEvent is an access outcome queued for telemetry delivery. Identity is
// nil for events not tied to a card. ID stays the same across redelivery
// attempts so the endpoint can discard duplicates.
type LogEvent struct {
	ID       string
	Kind     LogKind
	Identity *CardIdentity
}

// NoIdentityHash is reported in place of a hash for events without a card.
const NoIdentityHash = "N/A"

// Hash returns the textual identity for the telemetry body.
func (e LogEvent) Hash() string {
	if e.Identity == nil {
		return NoIdentityHash
	}
	return e.Identity.String()
}

// LatchMode selects how long access stays enabled after a valid card.
type LatchMode uint8

const (
	// LatchTimed enables access for a fixed duration.
	LatchTimed LatchMode = iota
	// LatchLatching keeps access enabled until the next card is presented.
	LatchLatching
)

func (m LatchMode) String() string {
	if m == LatchLatching {
		return "latching"
	}
	return "timed"
}

// LatchState is the latching-mode state. Holder is meaningful only while
// Enabled is true.
type LatchState struct {
	Enabled bool
	Holder  CardIdentity
}

func (s LatchState) String() string {
	if !s.Enabled {
		return "disabled"
	}
	return "enabled(" + s.Holder.String() + ")"
}
