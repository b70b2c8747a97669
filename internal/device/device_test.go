package device_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/internal/device"
)

type countingSink struct {
	blocks atomic.Int64
	empty  atomic.Int64
}

func (s *countingSink) OnCaptured(block []int16) {
	s.blocks.Add(1)
	if len(block) == 0 {
		s.empty.Add(1)
	}
}

type countingSource struct {
	fills atomic.Int64
}

func (s *countingSource) Fill(out []int16) int {
	s.fills.Add(1)
	clear(out)
	return 0
}

func TestConfig_Period(t *testing.T) {
	t.Parallel()

	cfg := device.Config{SampleRate: 24000, BlockSize: 480}
	if got := cfg.Period(); got != 20*time.Millisecond {
		t.Errorf("Period = %v, want 20ms", got)
	}
}

func TestNull_PacesCallbacks(t *testing.T) {
	t.Parallel()

	d := device.NewNull(device.Config{SampleRate: 48000, BlockSize: 48}) // 1 ms
	sink := &countingSink{}
	src := &countingSource{}
	if err := d.Start(sink, src); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.blocks.Load() < 5 || src.fills.Load() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("too few callbacks: capture=%d playback=%d", sink.blocks.Load(), src.fills.Load())
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sink.empty.Load() != sink.blocks.Load() {
		t.Error("null capture should only report absent blocks")
	}

	// No callbacks after Close.
	n := sink.blocks.Load()
	time.Sleep(10 * time.Millisecond)
	if sink.blocks.Load() != n {
		t.Error("callbacks continued after Close")
	}
	if err := d.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
