// Package mumble provides a [transport.Transport] that talks to a Mumble
// server over its TLS control channel.
//
// Voice is carried inside UDPTunnel control messages as 48 kHz mono Opus in
// 20 ms frames, so no UDP socket is needed. Outbound frames are resampled
// from the pipeline rate and inbound speakers are decoded and resampled back
// to it.
package mumble

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/codec/opus"
	"github.com/MrWong99/voxbridge/pkg/transport"
)

// Compile-time interface assertion.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultPort is the standard Mumble server port.
	DefaultPort = "64738"

	defaultBitrate      = 40000
	defaultPingInterval = 15 * time.Second
	defaultDialTimeout  = 10 * time.Second
	writeTimeout        = 5 * time.Second

	// The voice sequence number counts 10 ms units.
	sequencePerFrame = int64(opus.FrameDuration / (10 * time.Millisecond))
)

// ErrRejected is returned by Run when the server refuses the login.
var ErrRejected = errors.New("mumble: server rejected connection")

// Config holds the connection settings.
type Config struct {
	// Server is host or host:port. The port defaults to [DefaultPort].
	Server   string
	Username string
	Password string

	// Insecure skips verification of the server certificate. Most private
	// Mumble servers use self-signed certificates.
	Insecure bool

	// SampleRate is the pipeline rate of frames passed to Send and of audio
	// delivered to the OnAudio handler.
	SampleRate int

	// Bitrate of the outbound Opus stream in bits per second.
	Bitrate int

	// PingInterval is how often a keep-alive is sent. Servers drop clients
	// that stay silent for 30 s.
	PingInterval time.Duration

	// Release is reported to the server as the client name.
	Release string

	Logger *slog.Logger
}

type dialFunc func(ctx context.Context) (net.Conn, error)

// Transport implements [transport.Transport] for Mumble.
//
// Transport is safe for concurrent use.
type Transport struct {
	cfg   Config
	log   *slog.Logger
	dial  dialFunc
	inbox *transport.Inbox

	state atomic.Int32

	// writeMu serialises writes to the control connection and guards the
	// outbound encoding state.
	writeMu  sync.Mutex
	conn     net.Conn
	enc      *opus.Encoder
	rs       *audio.Resampler
	reframer *audio.Reframer
	seq      int64
	wbuf     []byte

	closeOnce sync.Once
}

// New returns a Mumble transport. No connection is made until Run.
func New(cfg Config) (*Transport, error) {
	var errs []error
	if cfg.Server == "" {
		errs = append(errs, errors.New("mumble: server is required"))
	}
	if cfg.Username == "" {
		errs = append(errs, errors.New("mumble: username is required"))
	}
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("mumble: invalid sample rate %d", cfg.SampleRate))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	t := newTransport(cfg)
	t.dial = t.dialTLS
	return t, nil
}

func newTransport(cfg Config) *Transport {
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = defaultBitrate
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.Release == "" {
		cfg.Release = "voxbridge"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		cfg:   cfg,
		log:   log.With("transport", "mumble"),
		inbox: transport.NewInbox(transport.DefaultInboxDepth),
	}
}

// Address returns the server address with the default port applied.
func Address(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, DefaultPort)
}

func (t *Transport) dialTLS(ctx context.Context) (net.Conn, error) {
	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: defaultDialTimeout},
		Config: &tls.Config{
			InsecureSkipVerify: t.cfg.Insecure, //nolint:gosec // opt-in for self-signed servers
			MinVersion:         tls.VersionTLS12,
		},
	}
	return d.DialContext(ctx, "tcp", Address(t.cfg.Server))
}

// State implements [transport.Transport].
func (t *Transport) State() transport.State {
	return transport.State(t.state.Load())
}

// Run implements [transport.Transport]. It dials, authenticates, and then
// reads control messages until the connection fails or ctx is cancelled.
func (t *Transport) Run(ctx context.Context) error {
	t.state.Store(int32(transport.StateConnecting))
	defer t.state.Store(int32(transport.StateDisconnected))

	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("mumble: dial %s: %w", Address(t.cfg.Server), err)
	}

	enc, err := opus.NewEncoder(1, t.cfg.Bitrate)
	if err != nil {
		_ = conn.Close()
		return err
	}
	t.writeMu.Lock()
	t.conn = conn
	t.enc = enc
	t.rs = audio.NewResampler(t.cfg.SampleRate, opus.SampleRate)
	t.reframer = audio.NewReframer(opus.FrameSize)
	t.seq = 0
	t.writeMu.Unlock()

	// Closing the connection is how ctx cancellation unblocks the reader.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer t.detach(conn)

	if err := t.handshake(); err != nil {
		return t.runResult(ctx, err)
	}

	var wg sync.WaitGroup
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer func() {
		cancelPing()
		wg.Wait()
	}()
	wg.Go(func() { t.pingLoop(pingCtx) })

	return t.runResult(ctx, t.readLoop(ctx, conn))
}

// runResult maps the error that ended a session: nil when ctx was
// cancelled, the error otherwise.
func (t *Transport) runResult(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// detach closes conn and clears the outbound state.
func (t *Transport) detach(conn net.Conn) {
	t.state.Store(int32(transport.StateDisconnected))
	t.writeMu.Lock()
	t.conn = nil
	t.writeMu.Unlock()
	_ = conn.Close()
}

func (t *Transport) handshake() error {
	version := versionMsg{
		Version:   protocolVersion,
		Release:   t.cfg.Release,
		OS:        runtime.GOOS,
		OSVersion: runtime.Version(),
	}
	if err := t.writeMessage(msgVersion, version.marshal()); err != nil {
		return fmt.Errorf("mumble: send version: %w", err)
	}
	auth := authenticateMsg{
		Username: t.cfg.Username,
		Password: t.cfg.Password,
		Opus:     true,
	}
	if err := t.writeMessage(msgAuthenticate, auth.marshal()); err != nil {
		return fmt.Errorf("mumble: send authenticate: %w", err)
	}
	return nil
}

// speaker is the receive state of one remote user.
type speaker struct {
	name string
	dec  *opus.Decoder
	rs   *audio.Resampler
}

func (t *Transport) readLoop(ctx context.Context, conn net.Conn) error {
	r := bufio.NewReader(conn)
	speakers := make(map[uint32]*speaker)
	speakerFor := func(session uint32) *speaker {
		s, ok := speakers[session]
		if !ok {
			s = &speaker{}
			speakers[session] = s
		}
		return s
	}

	var buf []byte
	for {
		typ, payload, err := readMessage(r, buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("mumble: server closed the connection")
			}
			return fmt.Errorf("mumble: read: %w", err)
		}
		buf = payload[:0]

		switch typ {
		case msgServerSync:
			m, err := unmarshalServerSync(payload)
			if err != nil {
				return fmt.Errorf("mumble: decode server sync: %w", err)
			}
			t.state.Store(int32(transport.StateConnected))
			t.log.Info("joined server", "server", Address(t.cfg.Server), "session", m.Session, "max_bandwidth", m.MaxBandwidth)
			if m.WelcomeText != "" {
				t.log.Info("welcome text", "text", m.WelcomeText)
			}

		case msgReject:
			m, err := unmarshalReject(payload)
			if err != nil {
				return fmt.Errorf("%w: undecodable reject: %w", ErrRejected, err)
			}
			return fmt.Errorf("%w: %s: %s", ErrRejected, rejectReasons[m.Type], m.Reason)

		case msgUDPTunnel:
			t.handleVoice(speakerFor, payload)

		case msgUserState:
			m, err := unmarshalUserState(payload)
			if err == nil && m.Name != "" {
				speakerFor(m.Session).name = m.Name
			}

		case msgUserRemove:
			if m, err := unmarshalUserRemove(payload); err == nil {
				delete(speakers, m.Session)
			}

		case msgTextMessage:
			m, err := unmarshalTextMessage(payload)
			if err != nil {
				t.log.Warn("undecodable text message", "err", err)
				continue
			}
			from := ""
			if s, ok := speakers[m.Actor]; ok {
				from = s.name
			}
			t.log.Info("received text message", "actor", m.Actor, "from", from, "message", m.Message)

		case msgPing, msgVersion, msgCryptSetup, msgCodecVersion:
			// Keep-alive replies and negotiation we have no use for over TCP.

		default:
			t.log.Debug("ignoring control message", "type", typ, "bytes", len(payload))
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (t *Transport) handleVoice(speakerFor func(uint32) *speaker, payload []byte) {
	p, err := parseVoicePacket(payload)
	if err != nil {
		if !errors.Is(err, errUnsupportedCodec) {
			t.log.Debug("malformed voice packet", "err", err)
		}
		return
	}
	if len(p.Opus) == 0 {
		return
	}
	s := speakerFor(p.Session)
	if s.dec == nil {
		dec, err := opus.NewDecoder(1)
		if err != nil {
			t.log.Error("failed to create opus decoder", "session", p.Session, "err", err)
			return
		}
		s.dec = dec
		s.rs = audio.NewResampler(opus.SampleRate, t.cfg.SampleRate)
	}
	pcm, err := s.dec.Decode(p.Opus)
	if err != nil {
		t.log.Warn("opus decode error", "session", p.Session, "err", err)
		return
	}
	t.inbox.Deliver(s.rs.Process(pcm))
}

func (t *Transport) pingLoop(ctx context.Context) {
	tick := time.NewTicker(t.cfg.PingInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			ping := pingMsg{Timestamp: uint64(now.UnixMilli())}
			if err := t.writeMessage(msgPing, ping.marshal()); err != nil {
				t.log.Warn("ping failed", "err", err)
			}
		}
	}
}

func (t *Transport) writeMessage(typ uint16, payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.writeLocked(typ, payload)
}

func (t *Transport) writeLocked(typ uint16, payload []byte) error {
	if t.conn == nil {
		return transport.ErrNotConnected
	}
	t.wbuf = appendMessage(t.wbuf[:0], typ, payload)
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := t.conn.Write(t.wbuf)
	return err
}

// Send implements [transport.Transport]. The frame is resampled to 48 kHz,
// regrouped into 20 ms Opus frames and written to the control channel.
func (t *Transport) Send(pcm []int16) error {
	if t.State() != transport.StateConnected {
		return transport.ErrNotConnected
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return transport.ErrNotConnected
	}
	return t.reframer.Write(t.rs.Process(pcm), func(frame []int16) error {
		packet, err := t.enc.Encode(frame)
		if err != nil {
			return err
		}
		voice := appendVoicePacket(nil, t.seq, packet, false)
		t.seq += sequencePerFrame
		if err := t.writeLocked(msgUDPTunnel, voice); err != nil {
			return fmt.Errorf("mumble: send voice: %w", err)
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
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		if t.conn != nil {
			_ = t.conn.Close()
		}
		t.writeMu.Unlock()
		t.inbox.Close()
	})
	return nil
}
