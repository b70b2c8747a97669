package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio/ring"
	"github.com/MrWong99/voxbridge/pkg/transport"
	"github.com/MrWong99/voxbridge/pkg/vox"
)

// Sender is the part of [transport.Transport] the pump uses.
type Sender interface {
	State() transport.State
	Send(pcm []int16) error
}

// PumpStats is a snapshot of a pump's counters.
type PumpStats struct {
	Transmitted uint64
	Suppressed  uint64
	Discarded   uint64
	SendErrors  uint64
}

// TransmitPump is the consumer of the capture ring. It drains whole frames,
// runs them through the VOX gate and sends the ones that pass.
//
// Run is the only method that touches the ring and the gate; SetVox and
// Stats may be called from any goroutine.
type TransmitPump struct {
	ring   *ring.Ring[int16]
	sender Sender
	gate   *vox.Gate

	frame  []int16
	filled int

	poll time.Duration
	now  func() time.Time

	pending atomic.Pointer[vox.Params]

	transmitted atomic.Uint64
	suppressed  atomic.Uint64
	discarded   atomic.Uint64
	sendErrors  atomic.Uint64

	metrics *observe.Metrics
	log     *slog.Logger
}

// NewTransmitPump returns a pump reading frameSize-sample frames from r.
func NewTransmitPump(r *ring.Ring[int16], sender Sender, frameSize int, params vox.Params, opts ...Option) *TransmitPump {
	o := applyOptions(opts)
	return &TransmitPump{
		ring:    r,
		sender:  sender,
		gate:    vox.NewGate(params),
		frame:   make([]int16, frameSize),
		poll:    o.poll,
		now:     o.now,
		metrics: o.metrics,
		log:     o.log,
	}
}

// Run drains the ring until ctx is cancelled. When less than a frame is
// buffered it sleeps for the poll interval. Run returns nil once ctx is done.
func (p *TransmitPump) Run(ctx context.Context) error {
	timer := time.NewTimer(p.poll)
	defer timer.Stop()

	p.log.Debug("transmit pump started", "frame_size", len(p.frame), "poll", p.poll)
	for {
		if ctx.Err() != nil {
			p.log.Debug("transmit pump stopped")
			return nil
		}
		if p.Step(ctx) {
			continue
		}
		timer.Reset(p.poll)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

// Step handles at most one frame and reports whether it did. It is exported
// so that tests and synthetic drivers can run the pump without a clock.
func (p *TransmitPump) Step(ctx context.Context) bool {
	if p.filled+p.ring.Remaining() < len(p.frame) {
		return false
	}
	p.filled += p.ring.PopSlice(p.frame, p.filled, len(p.frame)-p.filled)
	if p.filled < len(p.frame) {
		// Part of the frame was overwritten while we read; finish it on the
		// next pass.
		return false
	}
	p.filled = 0
	p.applyPending()

	if p.sender.State() != transport.StateConnected {
		p.discarded.Add(1)
		p.metrics.FramesDiscarded.Add(ctx, 1)
		return true
	}

	db, silent := vox.Measure(p.frame, p.gate.Params().ThresholdDB)
	p.metrics.FrameLevel.Record(ctx, db)
	var decision vox.Decision
	if silent {
		decision = p.gate.EvaluateSilent(p.now())
	} else {
		decision = p.gate.Evaluate(db, p.now())
	}
	p.log.Debug("frame evaluated", "db", db, "decision", decision, "gate", p.gate.State())

	if decision == vox.Suppress {
		p.suppressed.Add(1)
		p.metrics.FramesSuppressed.Add(ctx, 1)
		return true
	}
	if err := p.sender.Send(p.frame); err != nil {
		p.sendErrors.Add(1)
		p.metrics.SendErrors.Add(ctx, 1)
		p.log.Warn("send failed", "err", err)
		return true
	}
	p.transmitted.Add(1)
	p.metrics.FramesTransmitted.Add(ctx, 1)
	return true
}

// SetVox schedules new gate parameters. They take effect at the next frame
// boundary.
func (p *TransmitPump) SetVox(params vox.Params) {
	p.pending.Store(&params)
}

func (p *TransmitPump) applyPending() {
	if params := p.pending.Swap(nil); params != nil {
		p.gate.SetParams(*params)
		p.log.Debug("vox parameters applied", "threshold_db", params.ThresholdDB, "hold", params.Hold)
	}
}

// Stats returns a snapshot of the pump's counters.
func (p *TransmitPump) Stats() PumpStats {
	return PumpStats{
		Transmitted: p.transmitted.Load(),
		Suppressed:  p.suppressed.Load(),
		Discarded:   p.discarded.Load(),
		SendErrors:  p.sendErrors.Load(),
	}
}
