// Package app wires the voxbridge subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the transport, audio
// device and pipeline from the config, Run starts them and blocks until its
// context is cancelled or Stop is called, then tears everything down in
// order:
//
//  1. stop the device streams so no new audio is captured or played;
//  2. stop the transmit pump and wait for it to return;
//  3. stop the reconnect loop and close the transport;
//  4. close the device.
//
// Both rings are owned by the pipeline, which outlives every goroutine that
// touches them.
//
// For testing, inject a transport or device via functional options
// ([WithTransport], [WithDevice]). When an option is not provided, New
// creates the implementation named in the config through the registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/device"
	"github.com/MrWong99/voxbridge/internal/health"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/pipeline"
	"github.com/MrWong99/voxbridge/internal/supervisor"
	"github.com/MrWong99/voxbridge/pkg/transport"
	"github.com/MrWong99/voxbridge/pkg/vox"
)

// shutdownTimeout bounds the graceful stop of the HTTP server.
const shutdownTimeout = 5 * time.Second

// inboxReporter is implemented by transports that drop inbound audio when
// playback falls behind.
type inboxReporter interface {
	InboxDropped() uint64
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	log *slog.Logger

	transport  transport.Transport
	device     device.Device
	pipeline   *pipeline.Pipeline
	supervisor *supervisor.Supervisor

	metrics        *observe.Metrics
	metricsHandler http.Handler
	registry       *config.Registry
	clock          func() time.Time

	listener net.Listener
	server   *http.Server

	mu      sync.Mutex
	running bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	runErr   error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTransport injects a transport instead of creating one from config.
func WithTransport(t transport.Transport) Option {
	return func(a *App) { a.transport = t }
}

// WithDevice injects an audio device instead of creating one from config.
func WithDevice(d device.Device) Option {
	return func(a *App) { a.device = d }
}

// WithRegistry sets the registry used to create the transport and device.
// The default registry holds the built-in implementations.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics records metrics into m. The default discards them.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics when cfg.ListenAddr is set.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithClock replaces time.Now for the VOX hold timer.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.clock = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Nothing is connected or started until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.NopMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltins(a.registry)
	}

	if err := a.initTransport(); err != nil {
		return nil, fmt.Errorf("app: init transport: %w", err)
	}
	if err := a.initPipeline(); err != nil {
		_ = a.transport.Close()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	if err := a.initDevice(); err != nil {
		_ = a.transport.Close()
		return nil, fmt.Errorf("app: init device: %w", err)
	}
	a.supervisor = supervisor.New(supervisor.Config{
		Transport:  a.transport,
		Name:       cfg.Transport.Name,
		Backoff:    cfg.Transport.ReconnectBackoff,
		MaxBackoff: cfg.Transport.MaxReconnectBackoff,
		Metrics:    a.metrics,
		Logger:     a.log,
	})
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTransport() error {
	if a.transport != nil {
		return nil
	}
	t, err := a.registry.CreateTransport(a.cfg, a.log)
	if err != nil {
		return err
	}
	a.transport = t
	return nil
}

// initPipeline allocates both rings and registers the receive sink with the
// transport. It must run before the transport's first session.
func (a *App) initPipeline() error {
	settings := pipeline.DefaultSettings(a.cfg.Audio.SampleRate)
	settings.BlockSize = a.cfg.Audio.FramesPerBuffer
	settings.Vox = voxParams(a.cfg.Vox)

	opts := []pipeline.Option{pipeline.WithMetrics(a.metrics), pipeline.WithLogger(a.log)}
	if a.clock != nil {
		opts = append(opts, pipeline.WithClock(a.clock))
	}
	p, err := pipeline.New(settings, a.transport, opts...)
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

func (a *App) initDevice() error {
	if a.device != nil {
		return nil
	}
	d, err := a.registry.CreateDevice(a.cfg, a.log)
	if err != nil {
		return err
	}
	a.device = d
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Pipeline returns the audio pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Transport returns the voice transport.
func (a *App) Transport() transport.Transport { return a.transport }

// Addr returns the address the HTTP server listens on, or nil before Run
// or when no listen address is configured.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the device, the transmit pump, the reconnect loop and the HTTP
// server, then blocks until ctx is cancelled, [App.Stop] is called or the
// HTTP server fails. It always performs the full shutdown sequence before
// returning. Run may be called once.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("app: already running")
	}
	a.running = true
	a.mu.Unlock()

	a.runErr = a.run(ctx)
	close(a.done)
	return a.runErr
}

// Stop requests shutdown. It returns immediately; use [App.Wait] to join.
// Stop is safe to call more than once and before Run.
func (a *App) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Wait blocks until Run has returned and reports its error.
func (a *App) Wait() error {
	<-a.done
	return a.runErr
}

func (a *App) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	metricsReg, err := a.observeMetrics()
	if err != nil {
		return err
	}
	defer func() {
		if err := metricsReg.Unregister(); err != nil {
			a.log.Warn("unregister metrics", "err", err)
		}
	}()

	if err := a.startServer(); err != nil {
		return err
	}

	if err := a.device.Start(a.pipeline.CaptureSink(), a.pipeline.PlaybackSource()); err != nil {
		_ = a.stopServer()
		_ = a.transport.Close()
		_ = a.device.Close()
		return fmt.Errorf("app: start device: %w", err)
	}

	// The pump and the supervisor run on contexts of their own so that
	// shutdown can stop them one after the other.
	pumpCtx, stopPump := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPump()
	sessionCtx, stopSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSessions()

	g, gctx := errgroup.WithContext(ctx)
	pumpDone := make(chan struct{})
	g.Go(func() error {
		defer close(pumpDone)
		return a.pipeline.Run(pumpCtx)
	})
	sessionsDone := make(chan struct{})
	g.Go(func() error {
		defer close(sessionsDone)
		return a.supervisor.Run(sessionCtx)
	})
	if a.server != nil {
		g.Go(func() error {
			if err := a.server.Serve(a.listener); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
	}

	a.log.Info("voxbridge running",
		"transport", a.cfg.Transport.Name,
		"device", a.cfg.Audio.Device,
		"sample_rate", a.cfg.Audio.SampleRate,
	)
	<-gctx.Done()

	// ── Shutdown ──────────────────────────────────────────────────────────
	a.log.Info("shutting down")
	var errs []error

	if err := a.device.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("app: stop device: %w", err))
	}
	stopPump()
	<-pumpDone
	stopSessions()
	<-sessionsDone
	if err := a.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("app: close transport: %w", err))
	}
	if err := a.device.Close(); err != nil {
		errs = append(errs, fmt.Errorf("app: close device: %w", err))
	}
	if err := a.stopServer(); err != nil {
		errs = append(errs, err)
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	st := a.pipeline.Stats()
	a.log.Info("shutdown complete",
		"transmitted", st.Transmitted,
		"suppressed", st.Suppressed,
		"discarded", st.Discarded,
		"send_errors", st.SendErrors,
		"sessions", a.supervisor.Attempts(),
	)
	return errors.Join(errs...)
}

func (a *App) observeMetrics() (metric.Registration, error) {
	var inboxDropped func() uint64
	if r, ok := a.transport.(inboxReporter); ok {
		inboxDropped = r.InboxDropped
	}
	return a.pipeline.ObserveMetrics(inboxDropped)
}

// startServer binds cfg.ListenAddr and prepares the operational endpoints.
// It is a no-op when no address is configured.
func (a *App) startServer() error {
	if a.cfg.ListenAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.ListenAddr, err)
	}

	mux := http.NewServeMux()
	health.New(health.TransportChecker(a.cfg.Transport.Name, a.transport)).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}

	a.mu.Lock()
	a.listener = ln
	a.server = &http.Server{
		Handler:           observe.Middleware(a.metrics, a.log)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.mu.Unlock()
	a.log.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

func (a *App) stopServer() error {
	if a.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return nil
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change. VOX
// parameters take effect at the next frame boundary. Changes that need a
// restart are logged and otherwise ignored.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.VoxChanged {
		a.pipeline.UpdateVox(voxParams(d.NewVox))
		a.log.Info("vox parameters updated",
			"threshold_db", d.NewVox.ThresholdDB,
			"hold", d.NewVox.Hold,
		)
	}
	if d.RestartRequired {
		a.log.Warn("config change requires a restart to take effect")
	}
}

func voxParams(c config.VoxConfig) vox.Params {
	return vox.Params{ThresholdDB: c.ThresholdDB, Hold: c.Hold}
}
