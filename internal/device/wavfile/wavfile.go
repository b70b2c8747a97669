// Package wavfile implements a headless [device.Device] backed by WAV files.
// Capture reads a WAV file at real-time pace; playback is recorded into a
// second WAV file. Either side may be absent.
package wavfile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/voxbridge/internal/device"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

// ErrInvalidFile is returned when an input file is not a readable WAV file.
var ErrInvalidFile = errors.New("wavfile: invalid wav file")

// Config configures a WAV [Device].
type Config struct {
	device.Config

	// Input is the WAV file fed to capture. Empty means capture reports no
	// data every period, which the pipeline turns into silence.
	Input string

	// Record is the WAV file playback is written to. Empty discards playback.
	Record string

	// Loop restarts the input at its end. Without it capture reports no data
	// once the file is exhausted.
	Loop bool
}

// Device plays a WAV file into the capture path and records the playback path.
type Device struct {
	cfg Config
	log *slog.Logger

	source *Source

	mu       sync.Mutex
	pacer    *device.Pacer
	recorder *Recorder
	out      []int16
}

var _ device.Device = (*Device)(nil)

// New loads cfg.Input into memory, converted to mono at cfg.SampleRate.
func New(cfg Config, log *slog.Logger) (*Device, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &Device{cfg: cfg, log: log, out: make([]int16, cfg.BlockSize)}
	if cfg.Input != "" {
		src, err := Open(cfg.Input, cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		src.loop = cfg.Loop
		d.source = src
		log.Info("wav input loaded", "path", cfg.Input, "samples", src.Len(), "loop", cfg.Loop)
	}
	return d, nil
}

// Start implements [device.Device].
func (d *Device) Start(capture audio.CaptureSink, playback audio.PlaybackSource) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pacer != nil {
		return nil
	}
	if d.cfg.Record != "" && d.recorder == nil {
		rec, err := Create(d.cfg.Record, d.cfg.SampleRate)
		if err != nil {
			return err
		}
		d.recorder = rec
	}
	rec := d.recorder
	block := make([]int16, d.cfg.BlockSize)

	d.pacer = device.StartPacer(d.cfg.Period(), func() {
		if d.source != nil && d.source.Read(block) > 0 {
			capture.OnCaptured(block)
		} else {
			capture.OnCaptured(nil)
		}
		playback.Fill(d.out)
		if rec != nil {
			if err := rec.Write(d.out); err != nil {
				d.log.Warn("wav record failed", "path", d.cfg.Record, "err", err)
			}
		}
	})
	return nil
}

// Stop implements [device.Device].
func (d *Device) Stop() error {
	d.mu.Lock()
	p := d.pacer
	d.pacer = nil
	d.mu.Unlock()
	if p != nil {
		p.Stop()
	}
	return nil
}

// Close stops the device and finalises the recording.
func (d *Device) Close() error {
	_ = d.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.recorder == nil {
		return nil
	}
	err := d.recorder.Close()
	d.recorder = nil
	return err
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source serves a decoded WAV file block by block.
type Source struct {
	pcm  []int16
	pos  int
	loop bool
}

// Open decodes the WAV file at path and converts it to mono int16 at rate.
func Open(path string, rate int) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f, rate)
}

// Decode reads a complete WAV stream and converts it to mono int16 at rate.
func Decode(r io.ReadSeeker, rate int) (*Source, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidFile
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode: %w", err)
	}
	channels := int(dec.NumChans)
	if channels < 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidFile, channels)
	}

	pcm := downmix(buf.Data, channels, int(dec.BitDepth))
	pcm = audio.NewResampler(int(dec.SampleRate), rate).Process(pcm)
	return &Source{pcm: pcm}, nil
}

// Len returns the number of samples in the source.
func (s *Source) Len() int { return len(s.pcm) }

// Read fills block from the current position and returns the number of
// samples copied. With looping enabled the block is always filled, otherwise
// the tail of the last block is zeroed and 0 is returned at the end.
func (s *Source) Read(block []int16) int {
	if len(s.pcm) == 0 {
		return 0
	}
	n := 0
	for n < len(block) {
		if s.pos >= len(s.pcm) {
			if !s.loop {
				break
			}
			s.pos = 0
		}
		c := copy(block[n:], s.pcm[s.pos:])
		s.pos += c
		n += c
	}
	if n > 0 {
		clear(block[n:])
	}
	return n
}

// downmix averages interleaved channels and scales samples of any bit depth
// to 16 bits.
func downmix(data []int, channels, bitDepth int) []int16 {
	frames := len(data) / channels
	out := make([]int16, frames)
	for i := range frames {
		sum := 0
		for c := range channels {
			sum += to16(data[i*channels+c], bitDepth)
		}
		out[i] = int16(sum / channels)
	}
	return out
}

func to16(v, bitDepth int) int {
	switch {
	case bitDepth == 8:
		// 8-bit WAV is unsigned.
		return (v - 128) << 8
	case bitDepth > 16:
		return v >> (bitDepth - 16)
	}
	return v
}

// ─── Recorder ─────────────────────────────────────────────────────────────────

// Recorder writes mono 16-bit PCM blocks into a WAV file.
type Recorder struct {
	f   *os.File
	enc *wav.Encoder
	buf *goaudio.IntBuffer
}

// Create creates (or truncates) the WAV file at path.
func Create(path string, rate int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: create %s: %w", path, err)
	}
	return &Recorder{
		f:   f,
		enc: wav.NewEncoder(f, rate, 16, 1, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
			SourceBitDepth: 16,
		},
	}, nil
}

// Write appends block to the recording.
func (r *Recorder) Write(block []int16) error {
	if cap(r.buf.Data) < len(block) {
		r.buf.Data = make([]int, len(block))
	}
	r.buf.Data = r.buf.Data[:len(block)]
	for i, s := range block {
		r.buf.Data[i] = int(s)
	}
	if err := r.enc.Write(r.buf); err != nil {
		return fmt.Errorf("wavfile: write: %w", err)
	}
	return nil
}

// Close writes the WAV header and closes the file.
func (r *Recorder) Close() error {
	encErr := r.enc.Close()
	fileErr := r.f.Close()
	if err := errors.Join(encErr, fileErr); err != nil {
		return fmt.Errorf("wavfile: close: %w", err)
	}
	return nil
}
