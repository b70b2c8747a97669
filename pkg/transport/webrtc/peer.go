package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/MrWong99/voxbridge/pkg/codec/opus"
)

// Peer abstracts one WebRTC peer connection carrying a single Opus audio
// track in each direction. It decouples the transport's signaling and audio
// logic from pion so both can be tested without a network.
type Peer interface {
	// CreateOffer creates the local SDP offer. ICE gathering is completed
	// before it returns, so the offer carries every local candidate.
	CreateOffer(ctx context.Context) (sdp string, err error)

	// AcceptAnswer applies the remote peer's SDP answer.
	AcceptAnswer(sdp string) error

	// AddICECandidate adds a trickled remote candidate.
	AddICECandidate(candidate string) error

	// OnOpus registers the handler for inbound Opus payloads. It is invoked
	// from a single goroutine.
	OnOpus(handler func(packet []byte))

	// WriteOpus sends one encoded packet of the given duration.
	WriteOpus(packet []byte, d time.Duration) error

	// Connected is closed once media can flow.
	Connected() <-chan struct{}

	// Done is closed when the connection has failed or been closed.
	Done() <-chan struct{}

	// Close tears down the peer connection.
	Close() error
}

// pionPeer is the [Peer] implementation backed by pion/webrtc.
type pionPeer struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticSample
	log   *slog.Logger

	handlerMu sync.Mutex
	handler   func([]byte)

	connected     chan struct{}
	connectedOnce sync.Once
	done          chan struct{}
	doneOnce      sync.Once
}

// newPionPeer creates a peer connection with one send/receive Opus track.
func newPionPeer(stunServers []string, log *slog.Logger) (*pionPeer, error) {
	cfg := webrtc.Configuration{}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("webrtc: create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opus.SampleRate, Channels: 2},
		"audio", "voxbridge",
	)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtc: create audio track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtc: add audio track: %w", err)
	}

	p := &pionPeer{
		pc:        pc,
		track:     track,
		log:       log,
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}

	// RTCP must be drained for interceptors such as NACK to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.log.Debug("peer connection state changed", "state", s.String())
		switch s {
		case webrtc.PeerConnectionStateConnected:
			p.connectedOnce.Do(func() { close(p.connected) })
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.doneOnce.Do(func() { close(p.done) })
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		p.log.Debug("remote audio track", "codec", remote.Codec().MimeType, "ssrc", uint32(remote.SSRC()))
		for {
			pkt, _, err := remote.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					p.log.Debug("remote track ended", "err", err)
				}
				return
			}
			if len(pkt.Payload) == 0 {
				continue
			}
			p.handlerMu.Lock()
			h := p.handler
			p.handlerMu.Unlock()
			if h != nil {
				h(pkt.Payload)
			}
		}
	})

	return p, nil
}

func (p *pionPeer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("webrtc: create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("webrtc: set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *pionPeer) AcceptAnswer(sdp string) error {
	err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		return fmt.Errorf("webrtc: set remote description: %w", err)
	}
	return nil
}

func (p *pionPeer) AddICECandidate(candidate string) error {
	if err := p.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate}); err != nil {
		return fmt.Errorf("webrtc: add ice candidate: %w", err)
	}
	return nil
}

func (p *pionPeer) OnOpus(handler func([]byte)) {
	p.handlerMu.Lock()
	defer p.handlerMu.Unlock()
	p.handler = handler
}

func (p *pionPeer) WriteOpus(packet []byte, d time.Duration) error {
	return p.track.WriteSample(media.Sample{Data: packet, Duration: d})
}

func (p *pionPeer) Connected() <-chan struct{} { return p.connected }

func (p *pionPeer) Done() <-chan struct{} { return p.done }

func (p *pionPeer) Close() error {
	err := p.pc.Close()
	p.doneOnce.Do(func() { close(p.done) })
	return err
}
