package config_test

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/device"
	"github.com/MrWong99/voxbridge/pkg/transport"
	"github.com/MrWong99/voxbridge/pkg/transport/mock"
)

const validYAML = `
log_level: debug
listen_addr: ":9090"
audio:
  sample_rate: 24000
  frames_per_buffer: 256
  output_delay: 200ms
  device: wav
  input_wav: testdata/in.wav
  record_wav: out.wav
vox:
  threshold_db: -45.5
  hold: 300ms
transport:
  name: mumble
  reconnect_backoff: 2s
  max_reconnect_backoff: 30s
  mumble:
    server: mumble.example.org:64738
    username: pi
    password: hunter2
    insecure: false
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want debug", cfg.LogLevel)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q", cfg.ListenAddr)
	}
	if cfg.Audio.SampleRate != 24000 || cfg.Audio.FramesPerBuffer != 256 {
		t.Errorf("audio: got %+v", cfg.Audio)
	}
	if cfg.Audio.OutputDelay != 200*time.Millisecond {
		t.Errorf("audio.output_delay: got %v, want 200ms", cfg.Audio.OutputDelay)
	}
	if cfg.Vox.ThresholdDB != -45.5 || cfg.Vox.Hold != 300*time.Millisecond {
		t.Errorf("vox: got %+v", cfg.Vox)
	}
	if cfg.Transport.ReconnectBackoff != 2*time.Second || cfg.Transport.MaxReconnectBackoff != 30*time.Second {
		t.Errorf("transport backoff: got %v/%v", cfg.Transport.ReconnectBackoff, cfg.Transport.MaxReconnectBackoff)
	}
	m := cfg.Transport.Mumble
	if m.Server != "mumble.example.org:64738" || m.Username != "pi" || m.Password != "hunter2" || m.Insecure {
		t.Errorf("transport.mumble: got %+v", m)
	}
}

func TestLoadFromReader_KeepsDefaults(t *testing.T) {
	t.Parallel()

	yaml := `
transport:
  mumble:
    server: localhost
    username: pi
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := config.Default()
	if cfg.Audio != def.Audio {
		t.Errorf("audio: got %+v, want defaults %+v", cfg.Audio, def.Audio)
	}
	if cfg.Vox.ThresholdDB != -90 || cfg.Vox.Hold != 50*time.Millisecond {
		t.Errorf("vox: got %+v, want -90 dB / 50ms", cfg.Vox)
	}
	if cfg.Transport.Name != config.TransportMumble || cfg.Transport.ReconnectBackoff != 5*time.Second {
		t.Errorf("transport: got %q / %v", cfg.Transport.Name, cfg.Transport.ReconnectBackoff)
	}
	if !cfg.Transport.Mumble.Insecure {
		t.Error("transport.mumble.insecure should default to true")
	}
}

func TestLoadFromReader_EmptyNeedsServer(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil {
		t.Fatal("defaults alone lack a mumble server, expected an error")
	}
	if !strings.Contains(err.Error(), "transport.mumble.server") {
		t.Errorf("error should mention transport.mumble.server, got: %v", err)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("vox:\n  treshold_db: -50\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_OverridesWin(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("", func(c *config.Config) {
		c.Transport.Mumble.Server = "10.0.0.2"
		c.Transport.Mumble.Username = "kitchen"
		c.Audio.SampleRate = 12000
		c.Vox.ThresholdDB = -60
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transport.Mumble.Server != "10.0.0.2" || cfg.Audio.SampleRate != 12000 || cfg.Vox.ThresholdDB != -60 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load("/nonexistent/voxbridge.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *config.Config) { c.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "unsupported sample rate",
			mutate:  func(c *config.Config) { c.Audio.SampleRate = 44100 },
			wantErr: "audio.sample_rate",
		},
		{
			name:    "zero frames per buffer",
			mutate:  func(c *config.Config) { c.Audio.FramesPerBuffer = 0 },
			wantErr: "audio.frames_per_buffer",
		},
		{
			name:    "negative output delay",
			mutate:  func(c *config.Config) { c.Audio.OutputDelay = -time.Millisecond },
			wantErr: "audio.output_delay",
		},
		{
			name:    "unknown device",
			mutate:  func(c *config.Config) { c.Audio.Device = "alsa" },
			wantErr: "audio.device",
		},
		{
			name:    "wav device without input",
			mutate:  func(c *config.Config) { c.Audio.Device = config.DeviceWAV },
			wantErr: "audio.input_wav",
		},
		{
			name:    "negative hold",
			mutate:  func(c *config.Config) { c.Vox.Hold = -time.Second },
			wantErr: "vox.hold",
		},
		{
			name:    "max backoff below backoff",
			mutate:  func(c *config.Config) { c.Transport.MaxReconnectBackoff = time.Second },
			wantErr: "max_reconnect_backoff",
		},
		{
			name:    "missing transport name",
			mutate:  func(c *config.Config) { c.Transport.Name = "" },
			wantErr: "transport.name",
		},
		{
			name: "discord without channel",
			mutate: func(c *config.Config) {
				c.Transport.Name = config.TransportDiscord
				c.Transport.Discord.Token = "t"
			},
			wantErr: "transport.discord.guild_id",
		},
		{
			name:    "webrtc without signaling url",
			mutate:  func(c *config.Config) { c.Transport.Name = config.TransportWebRTC },
			wantErr: "transport.webrtc.signaling_url",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.LogLevel = "loud"
	cfg.Audio.SampleRate = 8000
	cfg.Transport.Mumble.Username = ""
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "audio.sample_rate", "transport.mumble.username"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownTransportIsLeftToRegistry(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Transport.Name = "sip"
	if err := config.Validate(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func validConfig() *config.Config {
	cfg := config.Default()
	cfg.Transport.Mumble.Server = "localhost"
	cfg.Transport.Mumble.Username = "pi"
	return cfg
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownTransport(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	_, err := reg.CreateTransport(validConfig(), slog.Default())
	if !errors.Is(err, config.ErrTransportNotRegistered) {
		t.Errorf("expected ErrTransportNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownDevice(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	_, err := reg.CreateDevice(validConfig(), slog.Default())
	if !errors.Is(err, config.ErrDeviceNotRegistered) {
		t.Errorf("expected ErrDeviceNotRegistered, got: %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	want := &mock.Transport{}
	reg.RegisterTransport(config.TransportMumble, func(cfg *config.Config, _ *slog.Logger) (transport.Transport, error) {
		if cfg.Transport.Mumble.Server != "localhost" {
			t.Errorf("factory got server %q", cfg.Transport.Mumble.Server)
		}
		return want, nil
	})
	reg.RegisterDevice(config.DeviceNull, func(cfg *config.Config, _ *slog.Logger) (device.Device, error) {
		return device.NewNull(device.Config{SampleRate: cfg.Audio.SampleRate, BlockSize: cfg.Audio.FramesPerBuffer}), nil
	})

	cfg := validConfig()
	cfg.Audio.Device = config.DeviceNull
	got, err := reg.CreateTransport(cfg, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned transport is not the expected instance")
	}
	if _, err := reg.CreateDevice(cfg, slog.Default()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if names := reg.Transports(); len(names) != 1 || names[0] != config.TransportMumble {
		t.Errorf("Transports() = %v", names)
	}
	if names := reg.Devices(); len(names) != 1 || names[0] != config.DeviceNull {
		t.Errorf("Devices() = %v", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterTransport(config.TransportMumble, func(*config.Config, *slog.Logger) (transport.Transport, error) {
		return nil, wantErr
	})
	_, err := reg.CreateTransport(validConfig(), slog.Default())
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}
