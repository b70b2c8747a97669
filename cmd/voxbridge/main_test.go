package main

import (
	"flag"
	"io"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/internal/config"
)

func TestParseFlags_OverridesOnlyGivenFlags(t *testing.T) {
	fs := flag.NewFlagSet("voxbridge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, overrides, err := parseFlags(fs, []string{
		"-s", "mumble.local", "--username", "pi", "-r", "24000", "-x", "-55.5", "-i", "0.25", "-d", "0.3", "-v",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}

	cfg, err := config.FromDefaults(overrides...)
	if err != nil {
		t.Fatalf("FromDefaults: %v", err)
	}
	if cfg.Transport.Mumble.Server != "mumble.local" || cfg.Transport.Mumble.Username != "pi" {
		t.Errorf("mumble = %+v", cfg.Transport.Mumble)
	}
	if cfg.Audio.SampleRate != 24000 {
		t.Errorf("sample rate = %d, want 24000", cfg.Audio.SampleRate)
	}
	if cfg.Vox.ThresholdDB != -55.5 || cfg.Vox.Hold != 250*time.Millisecond {
		t.Errorf("vox = %+v", cfg.Vox)
	}
	if cfg.Audio.OutputDelay != 300*time.Millisecond {
		t.Errorf("output delay = %v, want 300ms", cfg.Audio.OutputDelay)
	}
	if cfg.LogLevel != config.LogDebug {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
	// Not given on the command line: the password keeps its default.
	if cfg.Transport.Mumble.Password != "" {
		t.Errorf("password = %q, want empty", cfg.Transport.Mumble.Password)
	}
}

func TestParseFlags_RejectsUnknown(t *testing.T) {
	fs := flag.NewFlagSet("voxbridge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, _, err := parseFlags(fs, []string{"--bogus"}); err == nil {
		t.Error("expected an error for an unknown flag")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[config.LogLevel]string{
		config.LogDebug: "DEBUG",
		config.LogInfo:  "INFO",
		config.LogWarn:  "WARN",
		config.LogError: "ERROR",
		"":              "INFO",
	}
	for in, want := range tests {
		if got := slogLevel(in).String(); got != want {
			t.Errorf("slogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
