// Package transport defines the contract between the voice pipeline and a
// remote voice service.
//
// A [Transport] carries one mono 16-bit stream in each direction at the
// pipeline's sample rate. Implementations own the wire protocol, codec and
// resampling; the pipeline only sees PCM frames.
//
// Implementations live in sub-packages (transport/mumble, transport/discord,
// transport/webrtc). This package lives under pkg/ so that third-party voice
// services can be plugged in without touching the pipeline.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConnected is returned by [Transport.Send] when no session is up.
var ErrNotConnected = errors.New("transport: not connected")

// State is the connection state reported by [Transport.State].
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Transport is a session with a remote voice service.
//
// State and Send may be called from any goroutine. Run is called by a single
// supervisor goroutine at a time and may be called again after it returns to
// reconnect.
type Transport interface {
	// State reports the current connection state. It must be cheap; the
	// transmit pump calls it once per frame.
	State() State

	// Run connects and blocks until the session is lost or ctx is cancelled.
	// It returns nil when ctx was cancelled and an error describing the
	// failure otherwise. The state is StateDisconnected once Run returns.
	Run(ctx context.Context) error

	// Send transmits one frame of mono PCM. It must not retain pcm after it
	// returns. It returns [ErrNotConnected] when no session is up.
	Send(pcm []int16) error

	// OnAudio registers the handler for inbound audio. The handler is always
	// invoked from one goroutine at a time, receives mono PCM at the pipeline
	// rate and may keep the slice. Registering replaces any previous handler.
	OnAudio(handler func(pcm []int16))

	// Close releases every resource. Close is idempotent; Run must not be
	// called afterwards.
	Close() error
}
