package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/transport/mock"
)

// recordingSleep replaces the backoff wait and records every duration.
type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
	after func(n int)
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) bool {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	n := len(r.waits)
	r.mu.Unlock()
	if r.after != nil {
		r.after(n)
	}
	return ctx.Err() == nil
}

func (r *recordingSleep) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func newTestSupervisor(tr *mock.Transport, cfg Config) *Supervisor {
	cfg.Transport = tr
	if cfg.Name == "" {
		cfg.Name = "mock"
	}
	cfg.Logger = slog.New(slog.DiscardHandler)
	return New(cfg)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(&mock.Transport{}, Config{})
	if s.backoff != DefaultBackoff {
		t.Errorf("backoff = %v, want %v", s.backoff, DefaultBackoff)
	}
	if s.maxBackoff != DefaultBackoff {
		t.Errorf("maxBackoff = %v, want %v", s.maxBackoff, DefaultBackoff)
	}
}

func TestRun_ReconnectsAfterFailure(t *testing.T) {
	t.Parallel()

	tr := &mock.Transport{RunErr: errors.New("connection reset")}
	s := newTestSupervisor(tr, Config{Backoff: time.Second})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	rs := &recordingSleep{after: func(n int) {
		if n == 3 {
			cancel()
		}
	}}
	s.sleep = rs.sleep

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Drop each session as soon as it starts.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Run returned %v", err)
			}
			if got := s.Attempts(); got != 3 {
				t.Errorf("Attempts = %d, want 3", got)
			}
			if got := s.Failures(); got != 3 {
				t.Errorf("Failures = %d, want 3", got)
			}
			for i, w := range rs.recorded() {
				if w != time.Second {
					t.Errorf("wait %d = %v, want fixed 1s", i, w)
				}
			}
			return
		case <-deadline:
			t.Fatal("supervisor did not stop")
		default:
			tr.Drop()
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRun_ExponentialUntilConnected(t *testing.T) {
	t.Parallel()

	tr := &mock.Transport{RunErr: errors.New("refused")}
	s := newTestSupervisor(tr, Config{Backoff: time.Second, MaxBackoff: 3 * time.Second})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	rs := &recordingSleep{after: func(n int) {
		if n == 4 {
			cancel()
		}
	}}
	s.sleep = rs.sleep

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	for {
		select {
		case <-done:
			want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
			got := rs.recorded()
			if len(got) != len(want) {
				t.Fatalf("waits = %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("wait %d = %v, want %v", i, got[i], want[i])
				}
			}
			return
		default:
			tr.Drop()
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	tr := &mock.Transport{ConnectOnRun: true}
	s := newTestSupervisor(tr, Config{})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for tr.RunCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("transport never ran")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := tr.RunCount(); got != 1 {
		t.Errorf("RunCount = %d, want 1", got)
	}
	if s.Failures() != 0 {
		t.Errorf("Failures = %d, want 0", s.Failures())
	}
}
