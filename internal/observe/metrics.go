// Package observe provides application-wide observability primitives for
// voxbridge: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
//
// Nothing in this package is called from real-time audio callbacks. Ring and
// device statistics are exposed through observable instruments ([Metrics.ObserveRings])
// whose callbacks read atomic counters at collection time.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all voxbridge metrics.
const meterName = "github.com/MrWong99/voxbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// --- Transmit pipeline ---

	// FramesTransmitted counts frames the VOX gate let through and that
	// were handed to the transport.
	FramesTransmitted metric.Int64Counter

	// FramesSuppressed counts frames the VOX gate held back.
	FramesSuppressed metric.Int64Counter

	// FramesDiscarded counts captured frames dropped because no transport
	// session was up.
	FramesDiscarded metric.Int64Counter

	// FrameLevel records the measured level of each evaluated frame in dBFS.
	FrameLevel metric.Float64Histogram

	// --- Transport ---

	// SendErrors counts failed Transport.Send calls.
	SendErrors metric.Int64Counter

	// Sessions counts transport sessions by outcome. Use with attributes:
	//   attribute.String("transport", ...), attribute.String("status", ...)
	Sessions metric.Int64Counter

	// SessionDuration tracks how long each transport session lasted.
	SessionDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// levelBuckets are histogram boundaries in dBFS, from the quietest useful
// VOX threshold up to full scale.
var levelBuckets = []float64{
	-120, -100, -90, -80, -70, -60, -50, -40, -30, -20, -10, -6, -3, 0,
}

// sessionBuckets are histogram boundaries in seconds for session lifetimes.
var sessionBuckets = []float64{
	1, 5, 30, 60, 300, 900, 3600, 4 * 3600, 12 * 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.FramesTransmitted, err = m.Int64Counter("voxbridge.frames.transmitted",
		metric.WithDescription("Frames passed by the VOX gate and sent to the transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesSuppressed, err = m.Int64Counter("voxbridge.frames.suppressed",
		metric.WithDescription("Frames held back by the VOX gate."),
	); err != nil {
		return nil, err
	}
	if met.FramesDiscarded, err = m.Int64Counter("voxbridge.frames.discarded",
		metric.WithDescription("Captured frames dropped while no transport session was up."),
	); err != nil {
		return nil, err
	}
	if met.FrameLevel, err = m.Float64Histogram("voxbridge.frame.level",
		metric.WithDescription("Measured RMS level of each evaluated frame."),
		metric.WithUnit("dBFS"),
		metric.WithExplicitBucketBoundaries(levelBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SendErrors, err = m.Int64Counter("voxbridge.transport.send_errors",
		metric.WithDescription("Failed transport sends."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("voxbridge.transport.sessions",
		metric.WithDescription("Transport sessions by transport and outcome."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voxbridge.transport.session.duration",
		metric.WithDescription("Lifetime of transport sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// NopMetrics returns a [Metrics] whose instruments discard every
// measurement.
func NopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Call it only after
// [InitProvider], or the instance binds to the no-op global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSession records the end of one transport session.
func (m *Metrics) RecordSession(ctx context.Context, transportName, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("transport", transportName),
		attribute.String("status", status),
	)
	m.Sessions.Add(ctx, 1, attrs)
	m.SessionDuration.Record(ctx, seconds, attrs)
}

// RingStats is the read-only view of a sample ring that metrics need.
type RingStats interface {
	Remaining() int
	Capacity() int
	Dropped() uint64
}

// AudioStats gathers the atomic counters [Metrics.ObserveRings] reports.
type AudioStats struct {
	// Rings maps a ring name ("capture", "playback") to the ring.
	Rings map[string]RingStats

	// UnderflowSamples returns how many silent samples playback padded in.
	UnderflowSamples func() uint64

	// SilentCaptureBlocks returns how many device periods arrived without
	// data.
	SilentCaptureBlocks func() uint64

	// InboxDropped returns how many inbound blocks the transport dropped.
	InboxDropped func() uint64
}

// ObserveRings registers observable instruments that read stats at
// collection time. Unregister the returned registration on shutdown.
func (m *Metrics) ObserveRings(stats AudioStats) (metric.Registration, error) {
	fill, err := m.meter.Int64ObservableGauge("voxbridge.ring.fill",
		metric.WithDescription("Samples currently buffered in a ring."),
	)
	if err != nil {
		return nil, err
	}
	capacity, err := m.meter.Int64ObservableGauge("voxbridge.ring.capacity",
		metric.WithDescription("Fixed capacity of a ring in samples."),
	)
	if err != nil {
		return nil, err
	}
	dropped, err := m.meter.Int64ObservableCounter("voxbridge.ring.dropped",
		metric.WithDescription("Samples lost to overwrite because the consumer fell behind."),
	)
	if err != nil {
		return nil, err
	}
	underflow, err := m.meter.Int64ObservableCounter("voxbridge.playback.underflow",
		metric.WithDescription("Silent samples padded into playback because no audio was buffered."),
	)
	if err != nil {
		return nil, err
	}
	silent, err := m.meter.Int64ObservableCounter("voxbridge.capture.silent_blocks",
		metric.WithDescription("Capture periods that arrived without device data."),
	)
	if err != nil {
		return nil, err
	}
	inbox, err := m.meter.Int64ObservableCounter("voxbridge.transport.inbox_dropped",
		metric.WithDescription("Inbound audio blocks dropped because playback fell behind."),
	)
	if err != nil {
		return nil, err
	}

	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for name, r := range stats.Rings {
			attrs := metric.WithAttributes(attribute.String("ring", name))
			o.ObserveInt64(fill, int64(r.Remaining()), attrs)
			o.ObserveInt64(capacity, int64(r.Capacity()), attrs)
			o.ObserveInt64(dropped, int64(r.Dropped()), attrs)
		}
		if stats.UnderflowSamples != nil {
			o.ObserveInt64(underflow, int64(stats.UnderflowSamples()))
		}
		if stats.SilentCaptureBlocks != nil {
			o.ObserveInt64(silent, int64(stats.SilentCaptureBlocks()))
		}
		if stats.InboxDropped != nil {
			o.ObserveInt64(inbox, int64(stats.InboxDropped()))
		}
		return nil
	}, fill, capacity, dropped, underflow, silent, inbox)
}
