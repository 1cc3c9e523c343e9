// Package engine contains the scheduling half of takt: the timeline
// transport, the clip launcher, the note scheduler and the clip trigger
// passes. The engine decides what must sound now and tells the synthesis
// engine through a scsynth.Client; it never renders audio itself.
package engine

import (
	"time"
)

type (
	// Broker is the centralized message broker of the engine. External
	// callers never mutate transport state directly: they send intents to
	// the transport goroutine via ToTransport, and the transport broadcasts
	// snapshots to whatever UI collaborator is listening on ToUI. The broker
	// is many-to-one, one channel per recipient.
	//
	// For closing the transport goroutine there is the usual channel pair:
	// CloseTransport has a capacity of 1 so requesting closure never blocks
	// (a full channel means someone already asked), and FinishedTransport is
	// closed by the transport once it has cleaned up, so "<-FinishedTransport"
	// waits for it, possibly combined with a timeout via TimeoutReceive.
	Broker struct {
		ToTransport chan any
		ToUI        chan Snapshot

		CloseTransport    chan struct{}
		FinishedTransport chan struct{}
	}
)

func NewBroker() *Broker {
	return &Broker{
		ToTransport:       make(chan any, 1024),
		ToUI:              make(chan Snapshot, 1024),
		CloseTransport:    make(chan struct{}, 1),
		FinishedTransport: make(chan struct{}),
	}
}

// TrySend sends a value to a channel if it is not full. It is guaranteed to
// be non-blocking; snapshots are dropped rather than ever stalling a
// scheduling loop. Returns true if the value was sent.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive blocks until a value is received from the channel or the
// timeout elapses. ok is false on timeout or if the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
