package channel

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is the lifecycle position of one topic session
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
	StateReconnectScheduled
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	case StateReconnectScheduled:
		return "reconnect-scheduled"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event is something that happened to a session
type Event int

const (
	EventDial Event = iota
	EventOpened
	EventFailed
	EventClosed
	EventScheduled
	EventTimerFired
	EventStop
)

// Effect is the side effect a transition asks the session to perform
type Effect int

const (
	EffectNone Effect = iota
	EffectConnect
	EffectScheduleReconnect
	EffectTeardown
)

// Next is the session transition function. It has no side effects; callers
// perform the returned Effect.
func Next(s State, e Event) (State, Effect) {
	if s == StateStopped {
		return StateStopped, EffectNone
	}
	if e == EventStop {
		return StateStopped, EffectTeardown
	}

	switch s {
	case StateIdle:
		if e == EventDial {
			return StateConnecting, EffectConnect
		}
	case StateConnecting, StateOpen:
		switch e {
		case EventOpened:
			if s == StateConnecting {
				return StateOpen, EffectNone
			}
		case EventFailed:
			return StateErrored, EffectScheduleReconnect
		case EventClosed:
			return StateClosed, EffectScheduleReconnect
		}
	case StateErrored, StateClosed:
		switch e {
		case EventScheduled:
			return StateReconnectScheduled, EffectNone
		case EventFailed, EventClosed:
			return s, EffectScheduleReconnect
		}
	case StateReconnectScheduled:
		if e == EventTimerFired {
			return StateConnecting, EffectConnect
		}
	}
	return s, EffectNone
}

const (
	// MinBackoff is the reconnect delay after a successful open
	MinBackoff = time.Second
	// MaxBackoff caps the reconnect delay
	MaxBackoff = 30 * time.Second
)

// Backoff tracks the reconnect delay of one session. The zero value starts at MinBackoff.
type Backoff struct {
	exp *backoff.ExponentialBackOff
}

func (b *Backoff) policy() *backoff.ExponentialBackOff {
	if b.exp == nil {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = MinBackoff
		exp.Multiplier = 2
		exp.RandomizationFactor = 0
		exp.MaxInterval = MaxBackoff
		exp.MaxElapsedTime = 0
		exp.Reset()
		b.exp = exp
	}
	return b.exp
}

// Current returns the delay the next reconnect will use
func (b *Backoff) Current() time.Duration {
	peek := *b.policy()
	return peek.NextBackOff()
}

// Advance returns the current delay and doubles the following one up to MaxBackoff
func (b *Backoff) Advance() time.Duration {
	return b.policy().NextBackOff()
}

// Reset returns the delay to MinBackoff
func (b *Backoff) Reset() {
	b.policy().Reset()
}
