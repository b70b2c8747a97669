// Package vox implements the voice-operated switch that decides, frame by
// frame, whether captured audio is worth transmitting.
//
// A [Gate] opens as soon as a frame reaches the threshold and stays open for a
// short hold time after the last loud frame, so that brief dips between words
// do not chop the transmission.
package vox

import (
	"fmt"
	"time"
)

// Defaults used when nothing else is configured.
const (
	DefaultThresholdDB = -90.0
	DefaultHold        = 50 * time.Millisecond
)

// State is the gate's externally visible state.
type State int

const (
	// Silent means the last evaluated frame was suppressed.
	Silent State = iota

	// Talking means the last evaluated frame was transmitted.
	Talking
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case Silent:
		return "silent"
	case Talking:
		return "talking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Decision is the per-frame outcome of [Gate.Evaluate].
type Decision int

const (
	Suppress Decision = iota
	Transmit
)

// String returns the lowercase name of the decision.
func (d Decision) String() string {
	if d == Transmit {
		return "transmit"
	}
	return "suppress"
}

// Params configure a [Gate].
type Params struct {
	// ThresholdDB is the level in dBFS at or above which a frame opens the
	// gate.
	ThresholdDB float64

	// Hold is how long the gate stays open after the last frame that reached
	// the threshold. Zero disables the hold.
	Hold time.Duration
}

// DefaultParams returns a threshold of -90 dBFS and a hold of 50 ms.
func DefaultParams() Params {
	return Params{ThresholdDB: DefaultThresholdDB, Hold: DefaultHold}
}

// Gate is a VOX gate. It is not safe for concurrent use; the transmit pump
// owns it.
type Gate struct {
	params Params
	state  State

	lastOpen time.Time
	opened   bool
}

// NewGate returns a gate in the Silent state that has never opened.
func NewGate(p Params) *Gate {
	return &Gate{params: p}
}

// Evaluate decides the fate of one frame measured at db dBFS and captured at
// now, and updates the gate state:
//
//   - a frame at or above the threshold is transmitted and restarts the hold;
//   - a quieter frame is still transmitted while less than Hold has passed
//     since the gate last opened;
//   - anything else is suppressed and the gate falls silent.
func (g *Gate) Evaluate(db float64, now time.Time) Decision {
	switch {
	case db >= g.params.ThresholdDB:
		g.state = Talking
		g.lastOpen = now
		g.opened = true
		return Transmit
	case g.opened && now.Sub(g.lastOpen) < g.params.Hold:
		g.state = Talking
		return Transmit
	default:
		g.state = Silent
		return Suppress
	}
}

// EvaluateSilent decides the fate of a frame of digital silence captured at
// now. Silence sits at the threshold level but does not open the gate: it is
// transmitted only while a hold from an earlier loud frame is running.
func (g *Gate) EvaluateSilent(now time.Time) Decision {
	if g.opened && now.Sub(g.lastOpen) < g.params.Hold {
		g.state = Talking
		return Transmit
	}
	g.state = Silent
	return Suppress
}

// State returns the state after the most recent Evaluate.
func (g *Gate) State() State {
	return g.state
}

// Params returns the gate's current parameters.
func (g *Gate) Params() Params {
	return g.params
}

// SetParams replaces the threshold and hold. The hold timer keeps running, so
// a change applied between frames takes effect on the next Evaluate.
func (g *Gate) SetParams(p Params) {
	g.params = p
}

// Reset returns the gate to Silent and forgets when it last opened.
func (g *Gate) Reset() {
	g.state = Silent
	g.opened = false
	g.lastOpen = time.Time{}
}
