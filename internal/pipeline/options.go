package pipeline

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxbridge/internal/observe"
)

// Option customises a [Pipeline] or [TransmitPump].
type Option func(*options)

type options struct {
	metrics *observe.Metrics
	log     *slog.Logger
	now     func() time.Time
	poll    time.Duration
}

// WithMetrics records pipeline metrics into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock replaces time.Now for the VOX hold timer.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithPollInterval overrides the pump's idle sleep.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.poll = d }
}

func applyOptions(opts []Option) options {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.NopMetrics()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.poll <= 0 {
		o.poll = DefaultPollInterval
	}
	return o
}
