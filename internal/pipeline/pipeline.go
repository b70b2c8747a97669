// Package pipeline wires the two audio paths of voxbridge together:
//
//	capture device -> capture ring -> TransmitPump (VOX gate) -> transport
//	transport -> ReceiveSink -> playback ring -> playback device
//
// Each ring has exactly one producer and one consumer. The capture device
// callback produces into the capture ring and the pump consumes from it; the
// transport's inbound dispatcher produces into the playback ring and the
// playback device callback consumes from it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/audio/ring"
	"github.com/MrWong99/voxbridge/pkg/transport"
	"github.com/MrWong99/voxbridge/pkg/vox"
)

// ReceiveSink pushes inbound audio into the playback ring. No gating is
// applied to received audio.
type ReceiveSink struct {
	ring *ring.Ring[int16]
}

// NewReceiveSink returns a sink producing into r.
func NewReceiveSink(r *ring.Ring[int16]) *ReceiveSink {
	return &ReceiveSink{ring: r}
}

// OnAudio bulk-pushes pcm. It must only be called from one goroutine at a
// time, which [transport.Transport.OnAudio] guarantees.
func (s *ReceiveSink) OnAudio(pcm []int16) {
	s.ring.PushSlice(pcm, 0, len(pcm))
}

// Pipeline owns both rings and everything attached to them. The rings live
// as long as the Pipeline, so they outlive every goroutine that touches them.
type Pipeline struct {
	settings Settings

	capture  *ring.Ring[int16]
	playback *ring.Ring[int16]

	captureFeeder  *audio.CaptureFeeder[int16]
	playbackFeeder *audio.PlaybackFeeder[int16]

	pump *TransmitPump
	sink *ReceiveSink

	metrics *observe.Metrics
	log     *slog.Logger
}

// New validates s, allocates the rings and registers the receive sink with
// t. The transport's inbound handler is the sole producer of the playback
// ring from then on.
func New(s Settings, t transport.Transport, opts ...Option) (*Pipeline, error) {
	if s.PollInterval == 0 {
		s.PollInterval = DefaultPollInterval
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(append([]Option{WithPollInterval(s.PollInterval)}, opts...))

	capacity := s.RingCapacity()
	p := &Pipeline{
		settings: s,
		capture:  ring.New[int16](capacity),
		playback: ring.New[int16](capacity),
		metrics:  o.metrics,
		log:      o.log,
	}
	p.captureFeeder = audio.NewCaptureFeeder(p.capture, s.BlockSize)
	p.playbackFeeder = audio.NewPlaybackFeeder(p.playback)
	p.sink = NewReceiveSink(p.playback)
	p.pump = NewTransmitPump(p.capture, t, s.FrameSize(), s.Vox,
		WithMetrics(o.metrics), WithLogger(o.log), WithClock(o.now), WithPollInterval(o.poll))

	t.OnAudio(p.sink.OnAudio)

	p.log.Debug("pipeline ready",
		"sample_rate", s.SampleRate,
		"frame_size", s.FrameSize(),
		"ring_capacity", capacity,
		"block_size", s.BlockSize,
	)
	return p, nil
}

// Run drives the transmit pump until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.pump.Run(ctx)
}

// CaptureSink is the adapter the capture device feeds.
func (p *Pipeline) CaptureSink() audio.CaptureSink { return p.captureFeeder }

// PlaybackSource is the adapter the playback device drains.
func (p *Pipeline) PlaybackSource() audio.PlaybackSource { return p.playbackFeeder }

// Pump returns the transmit pump.
func (p *Pipeline) Pump() *TransmitPump { return p.pump }

// Settings returns the settings the pipeline was built with.
func (p *Pipeline) Settings() Settings { return p.settings }

// UpdateVox applies new gate parameters at the next frame boundary.
func (p *Pipeline) UpdateVox(params vox.Params) {
	p.pump.SetVox(params)
}

// Stats is a snapshot of the pipeline's counters.
type Stats struct {
	PumpStats

	CaptureBuffered  int
	CaptureDropped   uint64
	PlaybackBuffered int
	PlaybackDropped  uint64
	UnderflowSamples uint64
	SilentBlocks     uint64
}

// Stats returns a snapshot of every counter.
func (p *Pipeline) Stats() Stats {
	return Stats{
		PumpStats:        p.pump.Stats(),
		CaptureBuffered:  p.capture.Remaining(),
		CaptureDropped:   p.capture.Dropped(),
		PlaybackBuffered: p.playback.Remaining(),
		PlaybackDropped:  p.playback.Dropped(),
		UnderflowSamples: p.playbackFeeder.UnderflowSamples(),
		SilentBlocks:     p.captureFeeder.SilentBlocks(),
	}
}

// ObserveMetrics registers observable instruments over the rings and
// feeders. inboxDropped may be nil.
func (p *Pipeline) ObserveMetrics(inboxDropped func() uint64) (metric.Registration, error) {
	reg, err := p.metrics.ObserveRings(observe.AudioStats{
		Rings: map[string]observe.RingStats{
			"capture":  p.capture,
			"playback": p.playback,
		},
		UnderflowSamples:    p.playbackFeeder.UnderflowSamples,
		SilentCaptureBlocks: p.captureFeeder.SilentBlocks,
		InboxDropped:        inboxDropped,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: register metrics: %w", err)
	}
	return reg, nil
}
