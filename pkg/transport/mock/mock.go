// Package mock provides an in-memory [transport.Transport] for unit tests.
//
// The mock is safe for concurrent use. It records every sent frame so tests
// can assert on what the pipeline transmitted, and it exposes exported fields
// that control return values.
//
// Typical usage:
//
//	tr := &mock.Transport{}
//	tr.SetState(transport.StateConnected)
//	// ... run the pipeline ...
//	frames := tr.Sent()
//	tr.Inject([]int16{1, 2, 3}) // simulate inbound audio
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voxbridge/pkg/transport"
)

// Transport is a mock implementation of [transport.Transport].
type Transport struct {
	mu sync.Mutex

	state   transport.State
	sent    [][]int16
	handler func([]int16)
	closed  bool

	// SendErr is returned by Send while the mock is connected.
	SendErr error

	// RunErr is returned by Run when the session ends on its own
	// (see [Transport.Drop]).
	RunErr error

	// ConnectOnRun makes Run switch to StateConnected. Defaults to false, in
	// which case Run keeps whatever state was set via SetState.
	ConnectOnRun bool

	// CallCountRun records how many times Run was called.
	CallCountRun int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	drop chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// State implements [transport.Transport].
func (t *Transport) State() transport.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState forces the reported connection state.
func (t *Transport) SetState(s transport.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// Run implements [transport.Transport]. It blocks until ctx is cancelled or
// Drop is called.
func (t *Transport) Run(ctx context.Context) error {
	t.mu.Lock()
	t.CallCountRun++
	if t.ConnectOnRun {
		t.state = transport.StateConnected
	}
	if t.drop == nil {
		t.drop = make(chan struct{})
	}
	drop := t.drop
	t.mu.Unlock()

	var err error
	select {
	case <-ctx.Done():
	case <-drop:
		t.mu.Lock()
		err = t.RunErr
		t.mu.Unlock()
	}

	t.mu.Lock()
	if t.ConnectOnRun {
		t.state = transport.StateDisconnected
	}
	t.mu.Unlock()
	return err
}

// Drop ends the current Run as if the remote side had hung up.
func (t *Transport) Drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.drop != nil {
		close(t.drop)
		t.drop = nil
	}
}

// RunCount returns CallCountRun under the lock.
func (t *Transport) RunCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CallCountRun
}

// Send implements [transport.Transport]. It records a copy of pcm.
func (t *Transport) Send(pcm []int16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != transport.StateConnected {
		return transport.ErrNotConnected
	}
	if t.SendErr != nil {
		return t.SendErr
	}
	t.sent = append(t.sent, slices.Clone(pcm))
	return nil
}

// Sent returns a copy of every frame passed to Send, in order.
func (t *Transport) Sent() [][]int16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.sent)
}

// OnAudio implements [transport.Transport].
func (t *Transport) OnAudio(h func(pcm []int16)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Inject delivers pcm to the registered handler synchronously, as a
// transport's receive goroutine would.
func (t *Transport) Inject(pcm []int16) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(pcm)
	}
}

// Close implements [transport.Transport].
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountClose++
	t.closed = true
	t.state = transport.StateDisconnected
	return nil
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
