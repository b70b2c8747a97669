package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// SupportedSampleRates lists the accepted values of audio.sample_rate.
var SupportedSampleRates = []int{12000, 24000, 48000}

// Override adjusts a decoded configuration before it is validated. The
// command line uses overrides so that flags win over the file, including on
// every hot reload.
type Override func(*Config)

// Load reads the YAML configuration file at path, applies overrides and
// returns a validated [Config]. It is a convenience wrapper around
// [LoadFromReader]. An empty path yields the defaults.
func Load(path string, overrides ...Override) (*Config, error) {
	if path == "" {
		return FromDefaults(overrides...)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, overrides...)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], applies
// overrides and validates the result. Keys missing from the document keep
// their default values; an empty document yields the defaults.
func LoadFromReader(r io.Reader, overrides ...Override) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return finish(cfg, overrides)
}

// FromDefaults applies overrides to [Default] and validates the result.
func FromDefaults(overrides ...Override) (*Config, error) {
	return finish(Default(), overrides)
}

func finish(cfg *Config, overrides []Override) (*Config, error) {
	for _, o := range overrides {
		o(cfg)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Audio
	if !slices.Contains(SupportedSampleRates, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: 12000, 24000, 48000", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer must be positive, got %d", cfg.Audio.FramesPerBuffer))
	}
	if cfg.Audio.OutputDelay < 0 {
		errs = append(errs, fmt.Errorf("audio.output_delay must not be negative, got %v", cfg.Audio.OutputDelay))
	}
	switch cfg.Audio.Device {
	case DevicePortAudio, DeviceNull:
	case DeviceWAV:
		if cfg.Audio.InputWAV == "" {
			errs = append(errs, errors.New("audio.input_wav is required when audio.device is wav"))
		}
	default:
		errs = append(errs, fmt.Errorf("audio.device %q is invalid; valid values: portaudio, wav, null", cfg.Audio.Device))
	}

	// VOX
	if cfg.Vox.Hold < 0 {
		errs = append(errs, fmt.Errorf("vox.hold must not be negative, got %v", cfg.Vox.Hold))
	}

	// Transport
	t := cfg.Transport
	if t.ReconnectBackoff < 0 {
		errs = append(errs, fmt.Errorf("transport.reconnect_backoff must not be negative, got %v", t.ReconnectBackoff))
	}
	if t.MaxReconnectBackoff != 0 && t.MaxReconnectBackoff < t.ReconnectBackoff {
		errs = append(errs, fmt.Errorf("transport.max_reconnect_backoff %v is below transport.reconnect_backoff %v", t.MaxReconnectBackoff, t.ReconnectBackoff))
	}
	switch t.Name {
	case "":
		errs = append(errs, errors.New("transport.name is required"))
	case TransportMumble:
		if t.Mumble.Server == "" {
			errs = append(errs, errors.New("transport.mumble.server is required"))
		}
		if t.Mumble.Username == "" {
			errs = append(errs, errors.New("transport.mumble.username is required"))
		}
	case TransportDiscord:
		if t.Discord.Token == "" {
			errs = append(errs, errors.New("transport.discord.token is required"))
		}
		if t.Discord.GuildID == "" || t.Discord.ChannelID == "" {
			errs = append(errs, errors.New("transport.discord.guild_id and transport.discord.channel_id are required"))
		}
	case TransportWebRTC:
		if t.WebRTC.SignalingURL == "" {
			errs = append(errs, errors.New("transport.webrtc.signaling_url is required"))
		}
	}
	// Unknown names are left to the Registry, which may carry third-party
	// transports.

	return errors.Join(errs...)
}
