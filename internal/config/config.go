// Package config provides the configuration schema, loader, and factory
// registry for voxbridge.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Built-in device names.
const (
	DevicePortAudio = "portaudio"
	DeviceWAV       = "wav"
	DeviceNull      = "null"
)

// Built-in transport names.
const (
	TransportMumble  = "mumble"
	TransportDiscord = "discord"
	TransportWebRTC  = "webrtc"
)

// Config is the root configuration structure for voxbridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ListenAddr is the TCP address of the metrics and health endpoints
	// (e.g., ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	Audio     AudioConfig     `yaml:"audio"`
	Vox       VoxConfig       `yaml:"vox"`
	Transport TransportConfig `yaml:"transport"`
}

// AudioConfig selects the audio device and the pipeline sample rate.
type AudioConfig struct {
	// SampleRate in Hz: 12000, 24000 or 48000.
	SampleRate int `yaml:"sample_rate"`

	// FramesPerBuffer is the device block size in samples.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// OutputDelay is the suggested output latency. Zero uses the output
	// device's high latency.
	OutputDelay time.Duration `yaml:"output_delay"`

	// Device selects the audio backend: portaudio, wav or null.
	Device string `yaml:"device"`

	// InputWAV is the file played as microphone input by the wav device.
	InputWAV string `yaml:"input_wav"`

	// RecordWAV, when set, records everything the wav device plays back.
	RecordWAV string `yaml:"record_wav"`

	// LoopInput restarts InputWAV from the beginning when it ends.
	LoopInput bool `yaml:"loop_input"`
}

// VoxConfig configures the voice-operated transmit gate.
type VoxConfig struct {
	// ThresholdDB is the level in dBFS at or above which a frame is speech.
	ThresholdDB float64 `yaml:"threshold_db"`

	// Hold keeps the gate open after speech drops below the threshold.
	Hold time.Duration `yaml:"hold"`
}

// TransportConfig selects the voice transport and holds the settings of
// every built-in one. Only the block matching Name is used.
type TransportConfig struct {
	// Name selects the registered transport implementation.
	Name string `yaml:"name"`

	// ReconnectBackoff is the wait between a lost session and the next
	// attempt.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	// MaxReconnectBackoff caps the doubling wait while attempts keep failing
	// without ever connecting. Zero keeps the backoff fixed.
	MaxReconnectBackoff time.Duration `yaml:"max_reconnect_backoff"`

	Mumble  MumbleConfig  `yaml:"mumble"`
	Discord DiscordConfig `yaml:"discord"`
	WebRTC  WebRTCConfig  `yaml:"webrtc"`
}

// MumbleConfig holds the Mumble server credentials.
type MumbleConfig struct {
	// Server is host or host:port. The port defaults to 64738.
	Server   string `yaml:"server"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Insecure skips verification of the server certificate. Most Mumble
	// servers use self-signed certificates.
	Insecure bool `yaml:"insecure"`
}

// DiscordConfig holds the bot credentials and the voice channel to join.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`
}

// WebRTCConfig holds the signaling endpoint of the remote peer.
type WebRTCConfig struct {
	SignalingURL string   `yaml:"signaling_url"`
	Room         string   `yaml:"room"`
	STUNServers  []string `yaml:"stun_servers"`
}

// Default returns the configuration used when no file is given: 48 kHz,
// PortAudio, Mumble, a -90 dB threshold and a 50 ms hold.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Audio: AudioConfig{
			SampleRate:      48000,
			FramesPerBuffer: 512,
			Device:          DevicePortAudio,
		},
		Vox: VoxConfig{
			ThresholdDB: -90,
			Hold:        50 * time.Millisecond,
		},
		Transport: TransportConfig{
			Name:             TransportMumble,
			ReconnectBackoff: 5 * time.Second,
			Mumble:           MumbleConfig{Insecure: true},
		},
	}
}
