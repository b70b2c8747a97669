// Package audio holds the glue between audio devices and the sample rings of
// the voice pipeline.
//
// The two adapter interfaces are:
//
//   - [CaptureSink] receives each block a capture device records.
//   - [PlaybackSource] fills each block a playback device asks for.
//
// Device callbacks run on real-time threads. Implementations of these
// interfaces must not block, lock or allocate; [CaptureFeeder] and
// [PlaybackFeeder] satisfy that by pushing into and popping from a lock-free
// [ring.Ring].
//
// The package also carries the small sample-format helpers transports need:
// channel conversion, byte encoding, resampling and reframing.
package audio

// CaptureSink receives one captured block per device period. A nil or empty
// block means the device had no data for the period.
type CaptureSink interface {
	OnCaptured(block []int16)
}

// PlaybackSource fills out with the next samples to play. It always fills the
// whole block, padding with silence, and reports how many samples were real
// audio.
type PlaybackSource interface {
	Fill(out []int16) int
}
