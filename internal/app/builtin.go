package app

import (
	"log/slog"

	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/device"
	"github.com/MrWong99/voxbridge/internal/device/portaudio"
	"github.com/MrWong99/voxbridge/internal/device/wavfile"
	"github.com/MrWong99/voxbridge/pkg/transport"
	"github.com/MrWong99/voxbridge/pkg/transport/discord"
	"github.com/MrWong99/voxbridge/pkg/transport/mumble"
	"github.com/MrWong99/voxbridge/pkg/transport/webrtc"
)

// Release is reported to voice servers that ask for a client name.
const Release = "voxbridge"

// RegisterBuiltins wires every transport and device that ships with
// voxbridge into reg.
func RegisterBuiltins(reg *config.Registry) {
	// ── Transports ────────────────────────────────────────────────────────────

	reg.RegisterTransport(config.TransportMumble, func(cfg *config.Config, log *slog.Logger) (transport.Transport, error) {
		m := cfg.Transport.Mumble
		return mumble.New(mumble.Config{
			Server:     m.Server,
			Username:   m.Username,
			Password:   m.Password,
			Insecure:   m.Insecure,
			SampleRate: cfg.Audio.SampleRate,
			Release:    Release,
			Logger:     log,
		})
	})

	reg.RegisterTransport(config.TransportDiscord, func(cfg *config.Config, log *slog.Logger) (transport.Transport, error) {
		d := cfg.Transport.Discord
		return discord.New(discord.Config{
			Token:      d.Token,
			GuildID:    d.GuildID,
			ChannelID:  d.ChannelID,
			SampleRate: cfg.Audio.SampleRate,
			Logger:     log,
		})
	})

	reg.RegisterTransport(config.TransportWebRTC, func(cfg *config.Config, log *slog.Logger) (transport.Transport, error) {
		w := cfg.Transport.WebRTC
		return webrtc.New(webrtc.Config{
			SignalingURL: w.SignalingURL,
			Room:         w.Room,
			STUNServers:  w.STUNServers,
			SampleRate:   cfg.Audio.SampleRate,
			Logger:       log,
		})
	})

	// ── Devices ───────────────────────────────────────────────────────────────

	reg.RegisterDevice(config.DevicePortAudio, func(cfg *config.Config, log *slog.Logger) (device.Device, error) {
		return portaudio.New(portaudio.Config{
			Config:      deviceConfig(cfg),
			OutputDelay: cfg.Audio.OutputDelay,
		}, log)
	})

	reg.RegisterDevice(config.DeviceWAV, func(cfg *config.Config, log *slog.Logger) (device.Device, error) {
		return wavfile.New(wavfile.Config{
			Config: deviceConfig(cfg),
			Input:  cfg.Audio.InputWAV,
			Record: cfg.Audio.RecordWAV,
			Loop:   cfg.Audio.LoopInput,
		}, log)
	})

	reg.RegisterDevice(config.DeviceNull, func(cfg *config.Config, _ *slog.Logger) (device.Device, error) {
		return device.NewNull(deviceConfig(cfg)), nil
	})
}

func deviceConfig(cfg *config.Config) device.Config {
	return device.Config{
		SampleRate: cfg.Audio.SampleRate,
		BlockSize:  cfg.Audio.FramesPerBuffer,
	}
}
