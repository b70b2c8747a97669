package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoxChanged bool
	NewVox     VoxConfig

	// RestartRequired is set when a field that cannot be applied to a running
	// bridge (audio device, sample rate, transport) changed. Such changes
	// are ignored until the process restarts.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if old.Vox != new.Vox {
		d.VoxChanged = true
		d.NewVox = new.Vox
	}

	if old.Audio != new.Audio || old.ListenAddr != new.ListenAddr || !transportEqual(old.Transport, new.Transport) {
		d.RestartRequired = true
	}

	return d
}

// transportEqual compares two transport blocks. TransportConfig holds a slice
// and so cannot be compared with ==.
func transportEqual(a, b TransportConfig) bool {
	return a.Name == b.Name &&
		a.ReconnectBackoff == b.ReconnectBackoff &&
		a.MaxReconnectBackoff == b.MaxReconnectBackoff &&
		a.Mumble == b.Mumble &&
		a.Discord == b.Discord &&
		a.WebRTC.SignalingURL == b.WebRTC.SignalingURL &&
		a.WebRTC.Room == b.WebRTC.Room &&
		slices.Equal(a.WebRTC.STUNServers, b.WebRTC.STUNServers)
}
