package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/voxbridge/pkg/vox"
)

// Pipeline-wide constants.
const (
	// FrameDuration is the length of one transmitted frame.
	FrameDuration = 20 * time.Millisecond

	// Channels is the number of audio channels the pipeline carries.
	Channels = 1

	// DefaultBlockSize is the number of frames per device buffer.
	DefaultBlockSize = 512

	// DefaultPollInterval is how long the transmit pump sleeps when less than
	// a frame is buffered.
	DefaultPollInterval = 20 * time.Millisecond
)

// SupportedSampleRates lists the sample rates the pipeline accepts.
var SupportedSampleRates = []int{12000, 24000, 48000}

// ErrUnsupportedSampleRate is returned for a rate not in [SupportedSampleRates].
var ErrUnsupportedSampleRate = errors.New("pipeline: unsupported sample rate")

// FrameSize returns the number of samples in one 20 ms frame at rate.
func FrameSize(rate int) int {
	return rate / 1000 * int(FrameDuration/time.Millisecond)
}

// RingCapacity returns the ring size for rate: half a second of audio,
// rounded up to the next power of two.
func RingCapacity(rate int) int {
	return nextPowerOfTwo(rate * Channels / 2)
}

// nextPowerOfTwo returns the smallest power of two >= v (1 for v <= 1).
func nextPowerOfTwo(v int) int {
	p := 1
	for p < v {
		p <<= 1
	}
	return p
}

// Settings are the validated parameters of one [Pipeline].
type Settings struct {
	// SampleRate in Hz; one of [SupportedSampleRates].
	SampleRate int

	// BlockSize is the number of samples per device buffer.
	BlockSize int

	// Vox configures the transmit gate.
	Vox vox.Params

	// PollInterval is the pump's idle sleep. Defaults to 20 ms.
	PollInterval time.Duration
}

// DefaultSettings returns settings for rate with every other field at its
// default.
func DefaultSettings(rate int) Settings {
	return Settings{
		SampleRate:   rate,
		BlockSize:    DefaultBlockSize,
		Vox:          vox.DefaultParams(),
		PollInterval: DefaultPollInterval,
	}
}

// Validate reports every problem with s.
func (s Settings) Validate() error {
	var errs []error
	if !slices.Contains(SupportedSampleRates, s.SampleRate) {
		errs = append(errs, fmt.Errorf("%w: %d (want one of %v)", ErrUnsupportedSampleRate, s.SampleRate, SupportedSampleRates))
	}
	if s.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline: block size must be positive, got %d", s.BlockSize))
	}
	if s.Vox.Hold < 0 {
		errs = append(errs, fmt.Errorf("pipeline: vox hold must not be negative, got %v", s.Vox.Hold))
	}
	if s.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("pipeline: poll interval must not be negative, got %v", s.PollInterval))
	}
	return errors.Join(errs...)
}

// FrameSize returns the frame size for s.SampleRate.
func (s Settings) FrameSize() int { return FrameSize(s.SampleRate) }

// RingCapacity returns the ring capacity for s.SampleRate.
func (s Settings) RingCapacity() int { return RingCapacity(s.SampleRate) }
