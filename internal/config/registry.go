package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/voxbridge/internal/device"
	"github.com/MrWong99/voxbridge/pkg/transport"
)

// ErrTransportNotRegistered is returned by [Registry.CreateTransport] when no
// factory has been registered under the requested name.
var ErrTransportNotRegistered = errors.New("config: transport not registered")

// ErrDeviceNotRegistered is returned by [Registry.CreateDevice] when no
// factory has been registered under the requested name.
var ErrDeviceNotRegistered = errors.New("config: device not registered")

// TransportFactory builds a transport from the full configuration.
type TransportFactory func(cfg *Config, log *slog.Logger) (transport.Transport, error)

// DeviceFactory builds an audio device from the full configuration.
type DeviceFactory func(cfg *Config, log *slog.Logger) (device.Device, error)

// Registry maps transport and device names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]TransportFactory
	devices    map[string]DeviceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transports: make(map[string]TransportFactory),
		devices:    make(map[string]DeviceFactory),
	}
}

// RegisterTransport registers a transport factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTransport(name string, factory TransportFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[name] = factory
}

// RegisterDevice registers a device factory under name.
func (r *Registry) RegisterDevice(name string, factory DeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// CreateTransport instantiates the transport named by cfg.Transport.Name.
func (r *Registry) CreateTransport(cfg *Config, log *slog.Logger) (transport.Transport, error) {
	r.mu.RLock()
	factory, ok := r.transports[cfg.Transport.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTransportNotRegistered, cfg.Transport.Name)
	}
	return factory(cfg, log)
}

// CreateDevice instantiates the device named by cfg.Audio.Device.
func (r *Registry) CreateDevice(cfg *Config, log *slog.Logger) (device.Device, error) {
	r.mu.RLock()
	factory, ok := r.devices[cfg.Audio.Device]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotRegistered, cfg.Audio.Device)
	}
	return factory(cfg, log)
}

// Transports returns the registered transport names in sorted order.
func (r *Registry) Transports() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Devices returns the registered device names in sorted order.
func (r *Registry) Devices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.devices))
	for name := range r.devices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
