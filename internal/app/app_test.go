package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/internal/app"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/device"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/transport"
	"github.com/MrWong99/voxbridge/pkg/transport/mock"
)

// ─── test doubles ────────────────────────────────────────────────────────────

// events records the order of lifecycle calls across doubles.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, s)
}

func (e *events) get() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.list)
}

// scriptedDevice lets a test drive the capture callback by hand.
type scriptedDevice struct {
	ev *events

	mu       sync.Mutex
	capture  audio.CaptureSink
	playback audio.PlaybackSource
	StartErr error
}

var _ device.Device = (*scriptedDevice)(nil)

func (d *scriptedDevice) Start(c audio.CaptureSink, p audio.PlaybackSource) error {
	d.ev.add("device.start")
	if d.StartErr != nil {
		return d.StartErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capture, d.playback = c, p
	return nil
}

func (d *scriptedDevice) Stop() error {
	d.ev.add("device.stop")
	return nil
}

func (d *scriptedDevice) Close() error {
	d.ev.add("device.close")
	return nil
}

func (d *scriptedDevice) feed(block []int16) {
	d.mu.Lock()
	c := d.capture
	d.mu.Unlock()
	c.OnCaptured(block)
}

func (d *scriptedDevice) play(out []int16) int {
	d.mu.Lock()
	p := d.playback
	d.mu.Unlock()
	return p.Fill(out)
}

func (d *scriptedDevice) started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capture != nil
}

// recordingTransport adds Close to the event log.
type recordingTransport struct {
	*mock.Transport
	ev *events
}

func (t *recordingTransport) Close() error {
	t.ev.add("transport.close")
	return t.Transport.Close()
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Audio.SampleRate = 24000
	cfg.Audio.FramesPerBuffer = 480
	cfg.Audio.Device = config.DeviceNull
	cfg.Transport.Mumble.Server = "localhost"
	cfg.Transport.Mumble.Username = "pi"
	cfg.Transport.ReconnectBackoff = 10 * time.Millisecond
	cfg.Vox.ThresholdDB = -40
	cfg.Vox.Hold = 0
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*app.App, *scriptedDevice, *recordingTransport, *events) {
	t.Helper()
	ev := &events{}
	dev := &scriptedDevice{ev: ev}
	tr := &recordingTransport{Transport: &mock.Transport{ConnectOnRun: true}, ev: ev}
	a, err := app.New(cfg,
		app.WithTransport(tr),
		app.WithDevice(dev),
		app.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return a, dev, tr, ev
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func loudBlock(n int) []int16 {
	b := make([]int16, n)
	for i := range b {
		b[i] = 16000
		if i%2 == 1 {
			b[i] = -16000
		}
	}
	return b
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestNew_UnknownTransport(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Transport.Name = "sip"
	_, err := app.New(cfg, app.WithLogger(slog.New(slog.DiscardHandler)))
	if !errors.Is(err, config.ErrTransportNotRegistered) {
		t.Errorf("New() = %v, want ErrTransportNotRegistered", err)
	}
}

func TestNew_BuiltinRegistry(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(), app.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if a.Transport().State() != transport.StateDisconnected {
		t.Errorf("State() = %v before Run, want disconnected", a.Transport().State())
	}
	if got := a.Pipeline().Settings().FrameSize(); got != 480 {
		t.Errorf("FrameSize = %d, want 480 at 24 kHz", got)
	}
}

func TestRun_BridgesAudioAndShutsDownInOrder(t *testing.T) {
	t.Parallel()

	a, dev, tr, ev := newTestApp(t, testConfig())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, "device start", dev.started)
	waitFor(t, "transport connected", func() bool { return tr.State() == transport.StateConnected })

	// Capture side: a loud frame is transmitted, a quiet one is not.
	dev.feed(loudBlock(480))
	dev.feed(make([]int16, 480))
	waitFor(t, "frame transmitted", func() bool { return len(tr.Sent()) == 1 })
	waitFor(t, "frame suppressed", func() bool { return a.Pipeline().Stats().Suppressed == 1 })

	// Receive side: injected audio comes out of the device.
	tr.Inject([]int16{1, 2, 3, 4})
	out := make([]int16, 8)
	if n := dev.play(out); n != 4 || !slices.Equal(out, []int16{1, 2, 3, 4, 0, 0, 0, 0}) {
		t.Errorf("playback = %v (%d real), want injected samples then silence", out, n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	want := []string{"device.start", "device.stop", "transport.close", "device.close"}
	if got := ev.get(); !slices.Equal(got, want) {
		t.Errorf("lifecycle = %v, want %v", got, want)
	}
	if st := a.Pipeline().Stats(); st.Transmitted != 1 || st.Suppressed != 1 {
		t.Errorf("stats = %+v, want 1 transmitted, 1 suppressed", st.PumpStats)
	}
}

func TestRun_DeviceStartFails(t *testing.T) {
	t.Parallel()

	ev := &events{}
	dev := &scriptedDevice{ev: ev, StartErr: errors.New("no input device")}
	tr := &mock.Transport{}
	a, err := app.New(testConfig(),
		app.WithTransport(tr),
		app.WithDevice(dev),
		app.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if err := a.Run(t.Context()); err == nil {
		t.Fatal("Run() = nil, want device error")
	}
	if !tr.Closed() {
		t.Error("transport should be closed after a failed start")
	}
}

func TestRun_ReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	a, _, tr, _ := newTestApp(t, testConfig())
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, "first session", func() bool { return tr.RunCount() == 1 })
	tr.Drop()
	waitFor(t, "second session", func() bool { return tr.RunCount() == 2 })

	cancel()
	<-done
}

func TestRun_HTTPEndpoints(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	ev := &events{}
	dev := &scriptedDevice{ev: ev}
	tr := &mock.Transport{}
	a, err := app.New(cfg,
		app.WithTransport(tr),
		app.WithDevice(dev),
		app.WithLogger(slog.New(slog.DiscardHandler)),
		app.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("voxbridge_frames_transmitted_total 0\n"))
		})),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	waitFor(t, "listener", func() bool { return a.Addr() != nil })
	base := "http://" + a.Addr().String()

	get := func(path string) (int, map[string]any) {
		t.Helper()
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}

	if code, _ := get("/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", code)
	}
	if code, _ := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz while disconnected = %d, want 503", code)
	}
	tr.SetState(transport.StateConnected)
	if code, _ := get("/readyz"); code != http.StatusOK {
		t.Errorf("/readyz while connected = %d, want 200", code)
	}
	if code, _ := get("/metrics"); code != http.StatusOK {
		t.Errorf("/metrics = %d, want 200", code)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}

func TestApplyConfig_UpdatesVox(t *testing.T) {
	t.Parallel()

	old := testConfig()
	a, dev, tr, _ := newTestApp(t, old)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	waitFor(t, "device start", dev.started)
	waitFor(t, "transport connected", func() bool { return tr.State() == transport.StateConnected })

	// Raise the threshold above full scale: nothing may pass any more.
	updated := testConfig()
	updated.Vox.ThresholdDB = 1
	a.ApplyConfig(old, updated)

	dev.feed(loudBlock(480))
	waitFor(t, "frame suppressed", func() bool { return a.Pipeline().Stats().Suppressed == 1 })
	if n := len(tr.Sent()); n != 0 {
		t.Errorf("sent %d frames after raising the threshold, want 0", n)
	}

	cancel()
	<-done
}

func TestStopAndWait(t *testing.T) {
	t.Parallel()

	a, dev, _, ev := newTestApp(t, testConfig())
	go func() { _ = a.Run(context.Background()) }()
	waitFor(t, "device start", dev.started)

	a.Stop()
	a.Stop()

	waitErr := make(chan error, 1)
	go func() { waitErr <- a.Wait() }()
	select {
	case err := <-waitErr:
		if err != nil {
			t.Errorf("Wait() = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Wait did not return after Stop")
	}
	if got := ev.get(); got[len(got)-1] != "device.close" {
		t.Errorf("lifecycle = %v, want device.close last", got)
	}
}
