// Package device defines the audio I/O collaborator of the pipeline and a
// null implementation. Sub-packages provide real devices (device/portaudio)
// and file-backed ones (device/wavfile).
//
// A device calls [audio.CaptureSink.OnCaptured] once per capture period and
// [audio.PlaybackSource.Fill] once per playback period, from whatever
// goroutine or real-time thread its backend uses. The pipeline's adapters
// never block, so a device needs no buffering of its own.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Device is a duplex audio endpoint: one mono 16-bit capture stream and one
// mono 16-bit playback stream at the pipeline's sample rate.
type Device interface {
	// Start opens both streams and begins calling capture and playback.
	Start(capture audio.CaptureSink, playback audio.PlaybackSource) error

	// Stop halts both streams. After Stop returns no further callbacks
	// run. Stop is idempotent.
	Stop() error

	// Close stops the streams if needed and releases the backend.
	Close() error
}

// Config holds the parameters shared by every device.
type Config struct {
	// SampleRate in Hz.
	SampleRate int

	// BlockSize is the number of samples per period.
	BlockSize int
}

// Period returns the wall-clock duration of one block.
func (c Config) Period() time.Duration {
	return time.Duration(c.BlockSize) * time.Second / time.Duration(c.SampleRate)
}

// Pacer calls a function once per period on its own goroutine, imitating the
// callback thread of a hardware device.
type Pacer struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StartPacer runs tick every period until Stop is called.
func StartPacer(period time.Duration, tick func()) *Pacer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pacer{cancel: cancel}
	p.wg.Go(func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				tick()
			}
		}
	})
	return p
}

// Stop halts the pacer and waits for a running tick to finish.
func (p *Pacer) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Null is a device without hardware: capture reports "no data" every period,
// which the pipeline turns into silence, and playback is drained and
// discarded.
type Null struct {
	cfg Config

	mu    sync.Mutex
	pacer *Pacer
	out   []int16
}

// NewNull returns a null device pacing at cfg's block period.
func NewNull(cfg Config) *Null {
	return &Null{cfg: cfg, out: make([]int16, cfg.BlockSize)}
}

// Start implements [Device].
func (n *Null) Start(capture audio.CaptureSink, playback audio.PlaybackSource) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pacer != nil {
		return nil
	}
	n.pacer = StartPacer(n.cfg.Period(), func() {
		capture.OnCaptured(nil)
		playback.Fill(n.out)
	})
	return nil
}

// Stop implements [Device].
func (n *Null) Stop() error {
	n.mu.Lock()
	p := n.pacer
	n.pacer = nil
	n.mu.Unlock()
	if p != nil {
		p.Stop()
	}
	return nil
}

// Close implements [Device].
func (n *Null) Close() error {
	return n.Stop()
}
