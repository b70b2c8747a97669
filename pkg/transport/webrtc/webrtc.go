// Package webrtc provides a [transport.Transport] that streams voice to a
// single WebRTC peer using pion/webrtc.
//
// The session is negotiated through a JSON-over-WebSocket signaling endpoint:
// voxbridge sends an "offer" carrying its SDP, the remote side answers with
// an "answer", either side may trickle "candidate" messages, and "bye" ends
// the session. Audio is Opus at 48 kHz in 20 ms frames.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/codec/opus"
	"github.com/MrWong99/voxbridge/pkg/transport"
)

// Compile-time interface assertion.
var _ transport.Transport = (*Transport)(nil)

const (
	defaultBitrate = 32000
	byeTimeout     = time.Second
)

// Signal message types.
const (
	signalOffer     = "offer"
	signalAnswer    = "answer"
	signalCandidate = "candidate"
	signalBye       = "bye"
)

// Signal is one message on the signaling WebSocket.
type Signal struct {
	Type      string `json:"type"`
	PeerID    string `json:"peer_id,omitempty"`
	Room      string `json:"room,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Config holds the connection settings.
type Config struct {
	// SignalingURL is the ws:// or wss:// signaling endpoint.
	SignalingURL string

	// Room is passed along with the offer so a signaling server can pair
	// peers. Optional.
	Room string

	// STUNServers are used for ICE. Empty means host candidates only.
	STUNServers []string

	// SampleRate is the pipeline rate of frames passed to Send and of audio
	// delivered to the OnAudio handler.
	SampleRate int

	// Bitrate of the outbound Opus stream in bits per second.
	Bitrate int

	Logger *slog.Logger
}

// Transport implements [transport.Transport] for a WebRTC peer.
//
// Transport is safe for concurrent use.
type Transport struct {
	cfg     Config
	log     *slog.Logger
	peerID  string
	newPeer func() (Peer, error)
	inbox   *transport.Inbox

	state atomic.Int32

	// sendMu guards the outbound encoding state of the current session.
	sendMu   sync.Mutex
	peer     Peer
	enc      *opus.Encoder
	rs       *audio.Resampler
	reframer *audio.Reframer

	closeOnce sync.Once
}

// New returns a WebRTC transport. No connection is made until Run.
func New(cfg Config) (*Transport, error) {
	var errs []error
	if cfg.SignalingURL == "" {
		errs = append(errs, errors.New("webrtc: signaling url is required"))
	}
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("webrtc: invalid sample rate %d", cfg.SampleRate))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	t := newTransport(cfg)
	t.newPeer = func() (Peer, error) { return newPionPeer(cfg.STUNServers, t.log) }
	return t, nil
}

func newTransport(cfg Config) *Transport {
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = defaultBitrate
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	peerID := uuid.NewString()
	return &Transport{
		cfg:    cfg,
		log:    log.With("transport", "webrtc", "peer_id", peerID),
		peerID: peerID,
		inbox:  transport.NewInbox(transport.DefaultInboxDepth),
	}
}

// PeerID returns the identifier this transport announces to the signaling
// server. It is stable across reconnects.
func (t *Transport) PeerID() string { return t.peerID }

// State implements [transport.Transport].
func (t *Transport) State() transport.State {
	return transport.State(t.state.Load())
}

// Run implements [transport.Transport].
func (t *Transport) Run(ctx context.Context) error {
	t.state.Store(int32(transport.StateConnecting))
	defer t.state.Store(int32(transport.StateDisconnected))

	ws, _, err := websocket.Dial(ctx, t.cfg.SignalingURL, nil)
	if err != nil {
		return fmt.Errorf("webrtc: dial signaling %s: %w", t.cfg.SignalingURL, err)
	}
	defer ws.CloseNow()

	peer, err := t.newPeer()
	if err != nil {
		return err
	}
	defer t.detach(peer)

	dec, err := opus.NewDecoder(1)
	if err != nil {
		return err
	}
	rs := audio.NewResampler(opus.SampleRate, t.cfg.SampleRate)
	peer.OnOpus(func(packet []byte) {
		pcm, err := dec.Decode(packet)
		if err != nil {
			t.log.Warn("opus decode error", "err", err)
			return
		}
		t.inbox.Deliver(rs.Process(pcm))
	})

	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		return t.runResult(ctx, err)
	}
	if err := wsjson.Write(ctx, ws, Signal{Type: signalOffer, PeerID: t.peerID, Room: t.cfg.Room, SDP: offer}); err != nil {
		return t.runResult(ctx, fmt.Errorf("webrtc: send offer: %w", err))
	}

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	signals := make(chan Signal)
	readErr := make(chan error, 1)
	go func() {
		for {
			var s Signal
			if err := wsjson.Read(readCtx, ws, &s); err != nil {
				readErr <- err
				return
			}
			select {
			case signals <- s:
			case <-readCtx.Done():
				return
			}
		}
	}()

	connected := peer.Connected()
	for {
		select {
		case <-ctx.Done():
			byeCtx, cancel := context.WithTimeout(context.Background(), byeTimeout)
			_ = wsjson.Write(byeCtx, ws, Signal{Type: signalBye, PeerID: t.peerID, Reason: "shutdown"})
			cancel()
			_ = ws.Close(websocket.StatusNormalClosure, "bye")
			return nil

		case <-peer.Done():
			return t.runResult(ctx, errors.New("webrtc: peer connection closed"))

		case <-connected:
			connected = nil
			if err := t.attach(peer); err != nil {
				return err
			}
			t.state.Store(int32(transport.StateConnected))
			t.log.Info("peer connected", "signaling_url", t.cfg.SignalingURL, "room", t.cfg.Room)

		case err := <-readErr:
			return t.runResult(ctx, fmt.Errorf("webrtc: signaling: %w", err))

		case s := <-signals:
			switch s.Type {
			case signalAnswer:
				if err := peer.AcceptAnswer(s.SDP); err != nil {
					return err
				}
			case signalCandidate:
				if err := peer.AddICECandidate(s.Candidate); err != nil {
					t.log.Warn("rejected remote candidate", "err", err)
				}
			case signalBye:
				return fmt.Errorf("webrtc: remote hung up: %s", s.Reason)
			default:
				t.log.Debug("ignoring signal", "type", s.Type)
			}
		}
	}
}

func (t *Transport) runResult(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// attach installs peer as the outbound target.
func (t *Transport) attach(peer Peer) error {
	enc, err := opus.NewEncoder(1, t.cfg.Bitrate)
	if err != nil {
		return err
	}
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	t.peer = peer
	t.enc = enc
	t.rs = audio.NewResampler(t.cfg.SampleRate, opus.SampleRate)
	t.reframer = audio.NewReframer(opus.FrameSize)
	return nil
}

// detach clears the outbound target and closes peer.
func (t *Transport) detach(peer Peer) {
	t.state.Store(int32(transport.StateDisconnected))
	t.sendMu.Lock()
	t.peer = nil
	t.sendMu.Unlock()
	if err := peer.Close(); err != nil {
		t.log.Debug("peer close failed", "err", err)
	}
}

// Send implements [transport.Transport].
func (t *Transport) Send(pcm []int16) error {
	if t.State() != transport.StateConnected {
		return transport.ErrNotConnected
	}
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if t.peer == nil {
		return transport.ErrNotConnected
	}
	return t.reframer.Write(t.rs.Process(pcm), func(frame []int16) error {
		packet, err := t.enc.Encode(frame)
		if err != nil {
			return err
		}
		if err := t.peer.WriteOpus(packet, opus.FrameDuration); err != nil {
			return fmt.Errorf("webrtc: write sample: %w", err)
		}
		return nil
	})
}

// OnAudio implements [transport.Transport].
func (t *Transport) OnAudio(handler func(pcm []int16)) {
	t.inbox.SetHandler(handler)
}

// InboxDropped returns how many inbound blocks were dropped because the
// playback side fell behind.
func (t *Transport) InboxDropped() uint64 {
	return t.inbox.Dropped()
}

// Close implements [transport.Transport].
func (t *Transport) Close() error {
	t.closeOnce.Do(t.inbox.Close)
	return nil
}
