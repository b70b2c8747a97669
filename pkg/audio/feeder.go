package audio

import (
	"sync/atomic"

	"github.com/MrWong99/voxbridge/pkg/audio/ring"
)

// CaptureFeeder pushes captured blocks into a capture ring. It is the only
// producer of that ring.
type CaptureFeeder[T ring.Sample] struct {
	ring    *ring.Ring[T]
	silence []T

	silentBlocks atomic.Uint64
}

// NewCaptureFeeder returns a feeder that pushes into r. blockSize is the
// number of samples per device period; a period without data is replaced by
// that many zero samples.
func NewCaptureFeeder[T ring.Sample](r *ring.Ring[T], blockSize int) *CaptureFeeder[T] {
	return &CaptureFeeder[T]{
		ring:    r,
		silence: make([]T, blockSize),
	}
}

// OnCaptured pushes block into the ring, or a block of silence when block is
// empty. It never blocks.
func (f *CaptureFeeder[T]) OnCaptured(block []T) {
	if len(block) == 0 {
		f.silentBlocks.Add(1)
		f.ring.PushSlice(f.silence, 0, len(f.silence))
		return
	}
	f.ring.PushSlice(block, 0, len(block))
}

// SilentBlocks returns how many periods arrived without device data.
func (f *CaptureFeeder[T]) SilentBlocks() uint64 {
	return f.silentBlocks.Load()
}

// PlaybackFeeder pops samples from a playback ring into device blocks. It is
// the only consumer of that ring.
type PlaybackFeeder[T ring.Sample] struct {
	ring *ring.Ring[T]

	underflow atomic.Uint64
}

// NewPlaybackFeeder returns a feeder that pops from r.
func NewPlaybackFeeder[T ring.Sample](r *ring.Ring[T]) *PlaybackFeeder[T] {
	return &PlaybackFeeder[T]{ring: r}
}

// Fill copies up to len(out) available samples into out and zeroes the rest.
// It returns the number of real samples written and never blocks.
func (f *PlaybackFeeder[T]) Fill(out []T) int {
	n := f.ring.PopSlice(out, 0, len(out))
	if n < len(out) {
		clear(out[n:])
		f.underflow.Add(uint64(len(out) - n))
	}
	return n
}

// FillRequested returns a new block of exactly n samples: the available audio
// followed by silence. It is meant for callers that do not own a device
// buffer, such as file recorders and tests.
func (f *PlaybackFeeder[T]) FillRequested(n int) []T {
	out := make([]T, n)
	f.Fill(out)
	return out
}

// UnderflowSamples returns how many silent samples were padded into device
// blocks because the ring ran dry.
func (f *PlaybackFeeder[T]) UnderflowSamples() uint64 {
	return f.underflow.Load()
}
