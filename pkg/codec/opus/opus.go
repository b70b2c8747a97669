// Package opus wraps the gopus bindings with the fixed frame sizes voice
// transports use. Encoders and decoders carry per-stream state: use one per
// stream and do not share them between goroutines.
package opus

import (
	"fmt"
	"time"

	"layeh.com/gopus"
)

// Voice transports exchange 48 kHz Opus in 20 ms frames.
const (
	SampleRate    = 48000
	FrameDuration = 20 * time.Millisecond
	// FrameSize is the number of samples per channel in one 20 ms frame.
	FrameSize = SampleRate * int(FrameDuration/time.Millisecond) / 1000 // 960

	// maxPacketBytes bounds one encoded packet; 4000 is libopus's recommended
	// output buffer size.
	maxPacketBytes = 4000

	// maxDecodeFrame is the largest frame a packet may carry (120 ms).
	maxDecodeFrame = SampleRate * 120 / 1000
)

// Decoder decodes Opus packets into interleaved int16 PCM.
type Decoder struct {
	dec      *gopus.Decoder
	channels int
}

// NewDecoder returns a 48 kHz decoder producing the given channel count.
func NewDecoder(channels int) (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, channels: channels}, nil
}

// Decode decodes one packet into interleaved PCM.
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(packet, maxDecodeFrame, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return pcm, nil
}

// Channels returns the number of interleaved channels Decode produces.
func (d *Decoder) Channels() int { return d.channels }

// Encoder encodes fixed 20 ms frames of interleaved int16 PCM.
type Encoder struct {
	enc      *gopus.Encoder
	channels int
}

// NewEncoder returns a 48 kHz VoIP encoder for the given channel count.
// bitrate is in bits per second; zero keeps the library default.
func NewEncoder(channels, bitrate int) (*Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	if bitrate > 0 {
		enc.SetBitrate(bitrate)
	}
	return &Encoder{enc: enc, channels: channels}, nil
}

// FrameSamples returns the number of interleaved samples Encode expects.
func (e *Encoder) FrameSamples() int { return FrameSize * e.channels }

// Encode encodes exactly one frame of interleaved PCM.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != e.FrameSamples() {
		return nil, fmt.Errorf("opus: encode: got %d samples, want %d", len(pcm), e.FrameSamples())
	}
	packet, err := e.enc.Encode(pcm, FrameSize, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return packet, nil
}
