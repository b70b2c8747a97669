// Package portaudio implements [device.Device] on top of the system's
// default input and output devices through PortAudio.
//
// Both streams run in callback mode: PortAudio invokes the capture and
// playback adapters directly on its real-time thread.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxbridge/internal/device"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Config configures a PortAudio [Device].
type Config struct {
	device.Config

	// OutputDelay is the suggested output latency. Zero uses the output
	// device's default high latency, which favours glitch-free playback.
	OutputDelay time.Duration
}

// Device is a duplex PortAudio device. PortAudio is initialised in [New] and
// terminated in [Device.Close].
type Device struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	in, out *portaudio.Stream
	closed  bool
}

var _ device.Device = (*Device)(nil)

// New initialises PortAudio.
func New(cfg Config, log *slog.Logger) (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialise: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Device{cfg: cfg, log: log}, nil
}

// Start opens and starts the capture stream on the default input device and
// the playback stream on the default output device.
func (d *Device) Start(capture audio.CaptureSink, playback audio.PlaybackSource) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("portaudio: device closed")
	}
	if d.in != nil {
		return nil
	}

	inDev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return fmt.Errorf("portaudio: default input device: %w", err)
	}
	outDev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return fmt.Errorf("portaudio: default output device: %w", err)
	}

	outLatency := d.cfg.OutputDelay
	if outLatency <= 0 {
		outLatency = outDev.DefaultHighOutputLatency
	}

	in, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inDev,
			Channels: 1,
			Latency:  inDev.DefaultLowInputLatency,
		},
		SampleRate:      float64(d.cfg.SampleRate),
		FramesPerBuffer: d.cfg.BlockSize,
		Flags:           portaudio.ClipOff,
	}, func(block []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		if flags&portaudio.InputUnderflow != 0 {
			capture.OnCaptured(nil)
			return
		}
		capture.OnCaptured(block)
	})
	if err != nil {
		return fmt.Errorf("portaudio: open input stream: %w", err)
	}

	out, err := portaudio.OpenStream(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outDev,
			Channels: 1,
			Latency:  outLatency,
		},
		SampleRate:      float64(d.cfg.SampleRate),
		FramesPerBuffer: d.cfg.BlockSize,
		Flags:           portaudio.ClipOff,
	}, func(block []int16) {
		playback.Fill(block)
	})
	if err != nil {
		_ = in.Close()
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}

	if err := in.Start(); err != nil {
		_ = in.Close()
		_ = out.Close()
		return fmt.Errorf("portaudio: start input stream: %w", err)
	}
	if err := out.Start(); err != nil {
		_ = in.Stop()
		_ = in.Close()
		_ = out.Close()
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	d.in, d.out = in, out

	d.log.Info("audio device started",
		"input", inDev.Name,
		"output", outDev.Name,
		"sample_rate", d.cfg.SampleRate,
		"frames_per_buffer", d.cfg.BlockSize,
		"input_latency", inDev.DefaultLowInputLatency,
		"output_latency", outLatency,
	)
	return nil
}

// Stop stops both streams; no callback runs after it returns.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *Device) stopLocked() error {
	var errs []error
	for _, s := range []*portaudio.Stream{d.in, d.out} {
		if s == nil {
			continue
		}
		if err := s.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.in, d.out = nil, nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("portaudio: stop streams: %w", err)
	}
	return nil
}

// Close stops the streams and terminates PortAudio. It is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return errors.Join(d.stopLocked(), portaudio.Terminate())
}
