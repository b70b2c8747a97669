// Package supervisor keeps a transport session alive. It runs
// [transport.Transport.Run] in a loop and reconnects after every failure
// until its context is cancelled.
package supervisor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/transport"
)

// DefaultBackoff is the pause between a lost session and the next attempt.
const DefaultBackoff = 5 * time.Second

// Config configures a [Supervisor].
type Config struct {
	// Transport is the session to keep alive.
	Transport transport.Transport

	// Name labels logs, spans and metrics, e.g. "mumble".
	Name string

	// Backoff is the wait before reconnecting. Defaults to 5s if zero.
	Backoff time.Duration

	// MaxBackoff caps the wait when consecutive attempts fail without ever
	// reaching a connected state; the wait doubles up to this value. Defaults
	// to Backoff, which keeps the wait fixed.
	MaxBackoff time.Duration

	// Metrics receives session counts. Defaults to [observe.NopMetrics].
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Supervisor runs a transport's sessions one after another.
type Supervisor struct {
	transport  transport.Transport
	name       string
	backoff    time.Duration
	maxBackoff time.Duration
	metrics    *observe.Metrics
	log        *slog.Logger

	attempts atomic.Int64
	failures atomic.Int64

	// sleep waits for d or until ctx is done; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

// New returns a supervisor for cfg.Transport.
func New(cfg Config) *Supervisor {
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	maxBackoff := max(cfg.MaxBackoff, backoff)
	m := cfg.Metrics
	if m == nil {
		m = observe.NopMetrics()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		transport:  cfg.Transport,
		name:       cfg.Name,
		backoff:    backoff,
		maxBackoff: maxBackoff,
		metrics:    m,
		log:        log.With("transport", cfg.Name),
		sleep:      sleepCtx,
	}
}

// Run connects, waits for the session to end and reconnects after the
// backoff, until ctx is cancelled. A failed session is logged, never fatal.
// Run always returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	wait := s.backoff
	for ctx.Err() == nil {
		attempt := s.attempts.Add(1)
		connected := s.runSession(ctx, attempt)
		if ctx.Err() != nil {
			break
		}

		if connected {
			wait = s.backoff
		}
		s.log.Info("reconnecting", "backoff", wait, "attempt", attempt+1)
		if !s.sleep(ctx, wait) {
			break
		}
		if !connected {
			wait = min(wait*2, s.maxBackoff)
		}
	}
	s.log.Info("supervisor stopped")
	return nil
}

// runSession runs one transport session inside a span and reports whether
// the transport reached the connected state.
func (s *Supervisor) runSession(ctx context.Context, attempt int64) bool {
	ctx, span := observe.StartSpan(ctx, "transport.session",
		trace.WithAttributes(
			attribute.String("transport", s.name),
			attribute.Int64("attempt", attempt),
		),
	)
	defer span.End()
	log := observe.Logger(ctx, s.log)

	log.Info("connecting", "attempt", attempt)
	started := time.Now()

	var reached atomic.Bool
	watchCtx, stopWatch := context.WithCancel(ctx)
	go s.watchConnected(watchCtx, &reached, log)

	err := s.transport.Run(ctx)
	stopWatch()
	elapsed := time.Since(started)

	status := "closed"
	switch {
	case ctx.Err() != nil:
		status = "cancelled"
	case err != nil:
		status = "error"
		s.failures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("transport session failed", "err", err, "duration", elapsed)
	default:
		log.Warn("transport session ended by remote", "duration", elapsed)
	}
	s.metrics.RecordSession(context.WithoutCancel(ctx), s.name, status, elapsed.Seconds())
	return reached.Load()
}

// watchConnected logs the transition to connected and records it in reached.
func (s *Supervisor) watchConnected(ctx context.Context, reached *atomic.Bool, log *slog.Logger) {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if s.transport.State() == transport.StateConnected {
				reached.Store(true)
				log.Info("transport connected")
				return
			}
		}
	}
}

// Attempts returns how many sessions have been started.
func (s *Supervisor) Attempts() int64 { return s.attempts.Load() }

// Failures returns how many sessions ended with an error.
func (s *Supervisor) Failures() int64 { return s.failures.Load() }

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
