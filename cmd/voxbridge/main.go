// Command voxbridge streams the local microphone to a voice server and plays
// the server's audio on the local speakers, transmitting only while someone
// is talking.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxbridge/internal/app"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

// options holds the command-line values. Only flags that were given on the
// command line override the config file.
type options struct {
	configPath   string
	verbose      bool
	server       string
	username     string
	password     string
	delay        float64
	sampleRate   int
	voxThreshold float64
	voiceHold    float64
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, []config.Override, error) {
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "path to the YAML configuration file (optional)")
	fs.BoolVar(&o.verbose, "v", false, "verbose mode (debug logging)")
	fs.BoolVar(&o.verbose, "verbose", false, "verbose mode (debug logging)")
	fs.StringVar(&o.server, "s", "", "mumble server host[:port]")
	fs.StringVar(&o.server, "server", "", "mumble server host[:port]")
	fs.StringVar(&o.username, "u", "", "mumble username")
	fs.StringVar(&o.username, "username", "", "mumble username")
	fs.StringVar(&o.password, "p", "", "mumble password")
	fs.StringVar(&o.password, "password", "", "mumble password")
	fs.Float64Var(&o.delay, "d", 0, "output delay in seconds (default: the output device's high latency; 0.1-0.5 works well)")
	fs.Float64Var(&o.delay, "delay", 0, "output delay in seconds")
	fs.IntVar(&o.sampleRate, "r", 0, "sample rate: 12000, 24000 or 48000 (default 48000)")
	fs.IntVar(&o.sampleRate, "sample-rate", 0, "sample rate: 12000, 24000 or 48000")
	fs.Float64Var(&o.voxThreshold, "x", 0, "vox threshold in dB (default -90)")
	fs.Float64Var(&o.voxThreshold, "vox-threshold", 0, "vox threshold in dB")
	fs.Float64Var(&o.voiceHold, "i", 0, "voice hold interval in seconds (default 0.050)")
	fs.Float64Var(&o.voiceHold, "voice-hold", 0, "voice hold interval in seconds")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	var overrides []config.Override
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v", "verbose":
			overrides = append(overrides, func(c *config.Config) { c.LogLevel = config.LogDebug })
		case "s", "server":
			overrides = append(overrides, func(c *config.Config) { c.Transport.Mumble.Server = o.server })
		case "u", "username":
			overrides = append(overrides, func(c *config.Config) { c.Transport.Mumble.Username = o.username })
		case "p", "password":
			overrides = append(overrides, func(c *config.Config) { c.Transport.Mumble.Password = o.password })
		case "d", "delay":
			overrides = append(overrides, func(c *config.Config) { c.Audio.OutputDelay = seconds(o.delay) })
		case "r", "sample-rate":
			overrides = append(overrides, func(c *config.Config) { c.Audio.SampleRate = o.sampleRate })
		case "x", "vox-threshold":
			overrides = append(overrides, func(c *config.Config) { c.Vox.ThresholdDB = o.voxThreshold })
		case "i", "voice-hold":
			overrides = append(overrides, func(c *config.Config) { c.Vox.Hold = seconds(o.voiceHold) })
		}
	})
	return o, overrides, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	opts, overrides, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(opts.configPath, overrides...)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxbridge: config file %q not found\n", opts.configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		}
		flag.Usage()
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Registry ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)

	printStartupSummary(logger, opts.configPath, cfg, reg)

	application, err := app.New(cfg,
		app.WithRegistry(reg),
		app.WithLogger(logger),
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithMetricsHandler(provider.MetricsHandler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if opts.configPath != "" {
		w, err := config.NewWatcher(opts.configPath, func(old, new *config.Config) {
			if d := config.Diff(old, new); d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.ApplyConfig(old, new)
		}, config.WithOverrides(overrides...), config.WithLogger(logger))
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("voxbridge ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(log *slog.Logger, path string, cfg *config.Config, reg *config.Registry) {
	if path == "" {
		path = "(none)"
	}
	log.Info("voxbridge starting",
		"version", version,
		"config", path,
		"log_level", cfg.LogLevel,
		"listen_addr", cfg.ListenAddr,
	)
	log.Info("audio",
		"device", cfg.Audio.Device,
		"sample_rate", cfg.Audio.SampleRate,
		"frames_per_buffer", cfg.Audio.FramesPerBuffer,
		"output_delay", outputDelay(cfg.Audio.OutputDelay),
	)
	log.Info("vox",
		"threshold_db", cfg.Vox.ThresholdDB,
		"hold", cfg.Vox.Hold,
	)

	attrs := []any{
		"name", cfg.Transport.Name,
		"reconnect_backoff", cfg.Transport.ReconnectBackoff,
		"available", reg.Transports(),
	}
	switch cfg.Transport.Name {
	case config.TransportMumble:
		attrs = append(attrs, "server", cfg.Transport.Mumble.Server, "username", cfg.Transport.Mumble.Username)
	case config.TransportDiscord:
		attrs = append(attrs, "guild_id", cfg.Transport.Discord.GuildID, "channel_id", cfg.Transport.Discord.ChannelID)
	case config.TransportWebRTC:
		attrs = append(attrs, "signaling_url", cfg.Transport.WebRTC.SignalingURL, "room", cfg.Transport.WebRTC.Room)
	}
	log.Info("transport", attrs...)
}

func outputDelay(d time.Duration) string {
	if d == 0 {
		return "device default"
	}
	return d.String()
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
