// Package discord provides a [transport.Transport] backed by a Discord voice
// channel via the bwmarrin/discordgo library. It bridges Discord's 48 kHz
// stereo Opus stream with the pipeline's mono PCM frames.
//
// Every call to [Transport.Run] opens a bot session, joins the configured
// voice channel and stays there until the voice connection drops or the
// context is cancelled.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/codec/opus"
	"github.com/MrWong99/voxbridge/pkg/transport"
)

// Compile-time interface assertion.
var _ transport.Transport = (*Transport)(nil)

const (
	// Discord voice is always stereo on the wire.
	wireChannels = 2

	outputChannelBuffer = 16
	defaultSendTimeout  = 100 * time.Millisecond
	defaultBitrate      = 64000
)

// Config holds the connection settings.
type Config struct {
	Token     string
	GuildID   string
	ChannelID string

	// SampleRate is the pipeline rate of frames passed to Send and of audio
	// delivered to the OnAudio handler.
	SampleRate int

	// Bitrate of the outbound Opus stream in bits per second.
	Bitrate int

	// SendTimeout bounds how long one encoded packet may wait for the voice
	// connection's send queue.
	SendTimeout time.Duration

	Logger *slog.Logger
}

// joinFunc connects to the voice channel. The returned teardown leaves the
// channel and releases the session.
type joinFunc func(ctx context.Context) (vc *discordgo.VoiceConnection, teardown func() error, err error)

// Transport implements [transport.Transport] for Discord.
//
// Transport is safe for concurrent use.
type Transport struct {
	cfg   Config
	log   *slog.Logger
	join  joinFunc
	inbox *transport.Inbox

	state atomic.Int32

	// output is replaced on every session; nil while disconnected.
	outMu  sync.RWMutex
	output chan []int16

	closeOnce sync.Once
}

// New returns a Discord transport. No connection is made until Run.
func New(cfg Config) (*Transport, error) {
	var errs []error
	if cfg.Token == "" {
		errs = append(errs, errors.New("discord: token is required"))
	}
	if cfg.GuildID == "" {
		errs = append(errs, errors.New("discord: guild id is required"))
	}
	if cfg.ChannelID == "" {
		errs = append(errs, errors.New("discord: channel id is required"))
	}
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("discord: invalid sample rate %d", cfg.SampleRate))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	t := newTransport(cfg)
	t.join = t.joinVoice
	return t, nil
}

func newTransport(cfg Config) *Transport {
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = defaultBitrate
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		cfg:   cfg,
		log:   log.With("transport", "discord"),
		inbox: transport.NewInbox(transport.DefaultInboxDepth),
	}
}

// joinVoice opens a bot session and joins the configured voice channel.
func (t *Transport) joinVoice(_ context.Context) (*discordgo.VoiceConnection, func() error, error) {
	session, err := discordgo.New("Bot " + t.cfg.Token)
	if err != nil {
		return nil, nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildVoiceStates | discordgo.IntentsGuilds
	if err := session.Open(); err != nil {
		return nil, nil, fmt.Errorf("discord: open session: %w", err)
	}

	// mute=false (we send audio), deaf=false (we receive audio).
	vc, err := session.ChannelVoiceJoin(t.cfg.GuildID, t.cfg.ChannelID, false, false)
	if err != nil {
		_ = session.Close()
		return nil, nil, fmt.Errorf("discord: join voice channel %q: %w", t.cfg.ChannelID, err)
	}
	teardown := func() error {
		return errors.Join(vc.Disconnect(), session.Close())
	}
	return vc, teardown, nil
}

// State implements [transport.Transport].
func (t *Transport) State() transport.State {
	return transport.State(t.state.Load())
}

// Run implements [transport.Transport].
func (t *Transport) Run(ctx context.Context) error {
	t.state.Store(int32(transport.StateConnecting))
	defer t.state.Store(int32(transport.StateDisconnected))

	vc, teardown, err := t.join(ctx)
	if err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	out := make(chan []int16, outputChannelBuffer)
	t.outMu.Lock()
	t.output = out
	t.outMu.Unlock()

	var wg sync.WaitGroup
	lost := make(chan struct{})
	wg.Go(func() {
		defer close(lost)
		t.recvLoop(sessionCtx, vc)
	})
	wg.Go(func() { t.sendLoop(sessionCtx, vc, out) })

	t.state.Store(int32(transport.StateConnected))
	t.log.Info("joined voice channel", "guild_id", t.cfg.GuildID, "channel_id", t.cfg.ChannelID)

	select {
	case <-ctx.Done():
	case <-lost:
	}

	t.outMu.Lock()
	t.output = nil
	t.outMu.Unlock()
	cancel()
	wg.Wait()

	var tdErr error
	if teardown != nil {
		tdErr = teardown()
	}
	if ctx.Err() != nil {
		if tdErr != nil {
			t.log.Warn("voice teardown failed", "err", tdErr)
		}
		return nil
	}
	return errors.Join(errors.New("discord: voice connection lost"), tdErr)
}

// Send implements [transport.Transport]. The frame is queued for the send
// loop; when the queue is full the frame is dropped.
func (t *Transport) Send(pcm []int16) error {
	t.outMu.RLock()
	defer t.outMu.RUnlock()
	if t.output == nil || t.State() != transport.StateConnected {
		return transport.ErrNotConnected
	}
	select {
	case t.output <- slices.Clone(pcm):
		return nil
	default:
		return errors.New("discord: send queue full")
	}
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

// stream is the receive state of one remote speaker.
type stream struct {
	dec *opus.Decoder
	rs  *audio.Resampler
}

// recvLoop reads Opus packets, decodes them per SSRC and delivers mono PCM at
// the pipeline rate. It returns when ctx is done or OpusRecv is closed.
func (t *Transport) recvLoop(ctx context.Context, vc *discordgo.VoiceConnection) {
	// Each SSRC gets its own decoder to maintain state across frames.
	streams := make(map[uint32]*stream)

	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil || len(pkt.Opus) == 0 {
				continue
			}

			st, exists := streams[pkt.SSRC]
			if !exists {
				dec, err := opus.NewDecoder(wireChannels)
				if err != nil {
					t.log.Error("failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				st = &stream{dec: dec, rs: audio.NewResampler(opus.SampleRate, t.cfg.SampleRate)}
				streams[pkt.SSRC] = st
				t.log.Debug("new speaker", "ssrc", strconv.FormatUint(uint64(pkt.SSRC), 10))
			}

			pcm, err := st.dec.Decode(pkt.Opus)
			if err != nil {
				t.log.Warn("opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}
			t.inbox.Deliver(st.rs.Process(audio.StereoToMono(pcm)))
		}
	}
}

// sendLoop resamples queued mono frames to 48 kHz, regroups them into Opus
// frames, converts them to stereo, encodes them and hands them to Discord.
func (t *Transport) sendLoop(ctx context.Context, vc *discordgo.VoiceConnection, out <-chan []int16) {
	enc, err := opus.NewEncoder(wireChannels, t.cfg.Bitrate)
	if err != nil {
		t.log.Error("failed to create opus encoder", "err", err)
		return
	}
	rs := audio.NewResampler(t.cfg.SampleRate, opus.SampleRate)
	reframer := audio.NewReframer(opus.FrameSize)

	speaking := false
	defer func() {
		if speaking {
			t.setSpeaking(vc, false)
		}
	}()

	emit := func(frame []int16) error {
		packet, err := enc.Encode(audio.MonoToStereo(frame))
		if err != nil {
			t.log.Warn("opus encode error", "err", err)
			return nil
		}
		timer := time.NewTimer(t.cfg.SendTimeout)
		defer timer.Stop()
		select {
		case vc.OpusSend <- packet:
		case <-timer.C:
			t.log.Warn("voice send queue stalled, dropping packet")
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case pcm := <-out:
			if !speaking {
				t.setSpeaking(vc, true)
				speaking = true
			}
			if err := reframer.Write(rs.Process(pcm), emit); err != nil {
				return
			}
		}
	}
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (t *Transport) setSpeaking(vc *discordgo.VoiceConnection, b bool) {
	if err := vc.Speaking(b); err != nil {
		t.log.Debug("speaking notification error", "speaking", b, "err", err)
	}
}
