package vox_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/vox"
)

// ─── Level ────────────────────────────────────────────────────────────────────

func TestLevel(t *testing.T) {
	t.Parallel()

	const threshold = -90.0

	tests := []struct {
		name  string
		frame []int16
		want  float64
		tol   float64
	}{
		{name: "silence reports threshold", frame: make([]int16, 480), want: threshold},
		{name: "empty reports threshold", frame: nil, want: threshold},
		{name: "full scale square", frame: []int16{32767, -32767, 32767, -32767}, want: 0, tol: 1e-9},
		{name: "about -40 dB", frame: constant(328, 480), want: -40, tol: 0.05},
		{name: "half scale", frame: constant(16384, 10), want: -6.02, tol: 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := vox.Level(tt.frame, threshold)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("Level = %.4f, want %.4f ± %g", got, tt.want, tt.tol)
			}
		})
	}
}

func TestLevel_SampleWidths(t *testing.T) {
	t.Parallel()

	// Full scale of each type must measure 0 dB.
	if got := vox.Level([]int8{127, -127}, -90); math.Abs(got) > 1e-9 {
		t.Errorf("int8 full scale = %f dB", got)
	}
	if got := vox.Level([]int32{math.MaxInt32}, -90); math.Abs(got) > 1e-9 {
		t.Errorf("int32 full scale = %f dB", got)
	}
	if got := vox.Level([]uint8{255}, -90); math.Abs(got) > 1e-9 {
		t.Errorf("uint8 full scale = %f dB", got)
	}
}

func TestMeasure_FlagsSilence(t *testing.T) {
	t.Parallel()

	if db, silent := vox.Measure(make([]int16, 480), -70); !silent || db != -70 {
		t.Errorf("Measure(zeros) = %v, %v; want -70, true", db, silent)
	}
	if _, silent := vox.Measure([]int16{0, 0, 1, 0}, -70); silent {
		t.Error("a single non-zero sample is not silence")
	}
}

func constant(v int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// ─── Gate ─────────────────────────────────────────────────────────────────────

func TestGate_Transitions(t *testing.T) {
	t.Parallel()

	base := time.Unix(1_700_000_000, 0)
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

	type step struct {
		db        float64
		at        int
		want      vox.Decision
		wantState vox.State
	}

	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "quiet before ever opening is suppressed",
			steps: []step{
				{db: -95, at: 0, want: vox.Suppress, wantState: vox.Silent},
			},
		},
		{
			name: "hold keeps quiet frames inside the window",
			steps: []step{
				{db: -40, at: 0, want: vox.Transmit, wantState: vox.Talking},
				{db: -95, at: 20, want: vox.Transmit, wantState: vox.Talking},
				{db: -95, at: 60, want: vox.Suppress, wantState: vox.Silent},
			},
		},
		{
			name: "threshold is inclusive",
			steps: []step{
				{db: -90, at: 0, want: vox.Transmit, wantState: vox.Talking},
			},
		},
		{
			name: "loud frame restarts the hold",
			steps: []step{
				{db: -40, at: 0, want: vox.Transmit, wantState: vox.Talking},
				{db: -40, at: 40, want: vox.Transmit, wantState: vox.Talking},
				{db: -95, at: 80, want: vox.Transmit, wantState: vox.Talking},
				{db: -95, at: 90, want: vox.Suppress, wantState: vox.Silent},
			},
		},
		{
			name: "hold window is exclusive at its end",
			steps: []step{
				{db: -40, at: 0, want: vox.Transmit, wantState: vox.Talking},
				{db: -95, at: 50, want: vox.Suppress, wantState: vox.Silent},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := vox.NewGate(vox.DefaultParams())
			for i, s := range tt.steps {
				if got := g.Evaluate(s.db, at(s.at)); got != s.want {
					t.Errorf("step %d: Evaluate(%v) = %v, want %v", i, s.db, got, s.want)
				}
				if got := g.State(); got != s.wantState {
					t.Errorf("step %d: State = %v, want %v", i, got, s.wantState)
				}
			}
		})
	}
}

func TestGate_ZeroHold(t *testing.T) {
	t.Parallel()

	now := time.Now()
	g := vox.NewGate(vox.Params{ThresholdDB: -50, Hold: 0})
	g.Evaluate(-10, now)
	if got := g.Evaluate(-60, now); got != vox.Suppress {
		t.Errorf("zero hold: got %v, want suppress", got)
	}
}

func TestGate_SetParamsAndReset(t *testing.T) {
	t.Parallel()

	now := time.Now()
	g := vox.NewGate(vox.DefaultParams())
	g.SetParams(vox.Params{ThresholdDB: -30, Hold: 10 * time.Millisecond})
	if got := g.Params().ThresholdDB; got != -30 {
		t.Fatalf("ThresholdDB = %v, want -30", got)
	}
	if got := g.Evaluate(-40, now); got != vox.Suppress {
		t.Errorf("below new threshold: got %v, want suppress", got)
	}
	g.Evaluate(-20, now)
	g.Reset()
	if g.State() != vox.Silent {
		t.Errorf("State after Reset = %v, want silent", g.State())
	}
	if got := g.Evaluate(-40, now); got != vox.Suppress {
		t.Errorf("Reset must forget the hold: got %v", got)
	}
}

func TestGate_EvaluateSilent(t *testing.T) {
	t.Parallel()

	now := time.Now()
	g := vox.NewGate(vox.Params{ThresholdDB: -50, Hold: 100 * time.Millisecond})
	if got := g.EvaluateSilent(now); got != vox.Suppress {
		t.Errorf("silence on a fresh gate: got %v, want suppress", got)
	}
	g.Evaluate(-10, now)
	if got := g.EvaluateSilent(now.Add(40 * time.Millisecond)); got != vox.Transmit {
		t.Errorf("silence within hold: got %v, want transmit", got)
	}
	if got := g.EvaluateSilent(now.Add(100 * time.Millisecond)); got != vox.Suppress {
		t.Errorf("silence after hold: got %v, want suppress", got)
	}
	if g.State() != vox.Silent {
		t.Errorf("State = %v, want silent", g.State())
	}
}
