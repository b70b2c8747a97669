package mumble

import (
	"errors"
	"fmt"
)

// Legacy voice packet codec types, stored in the top three bits of the
// packet header.
const (
	codecCELTAlpha = 0
	codecPing      = 1
	codecSpeex     = 2
	codecCELTBeta  = 3
	codecOpus      = 4
)

// targetNormal is voice target 0: regular talking in the current channel.
const targetNormal = 0

const (
	opusTerminator = 0x2000
	opusLengthMask = 0x1FFF
)

var errUnsupportedCodec = errors.New("mumble: unsupported voice codec")

// voicePacket is one inbound Opus voice packet.
type voicePacket struct {
	Target   byte
	Session  uint32
	Sequence int64
	Last     bool
	Opus     []byte
}

// appendVoicePacket appends an outbound Opus voice packet:
//
//	header | sequence varint | size varint (bit 13: last frame) | payload
func appendVoicePacket(b []byte, seq int64, opus []byte, last bool) []byte {
	b = append(b, codecOpus<<5|targetNormal)
	b = appendVarint(b, seq)
	size := int64(len(opus))
	if last {
		size |= opusTerminator
	}
	b = appendVarint(b, size)
	return append(b, opus...)
}

// parseVoicePacket decodes an inbound voice packet relayed by the server,
// which prefixes the sender's session id. The returned Opus payload aliases b.
func parseVoicePacket(b []byte) (voicePacket, error) {
	var p voicePacket
	if len(b) == 0 {
		return p, errShortVarint
	}
	codec := b[0] >> 5
	p.Target = b[0] & 0x1F
	if codec != codecOpus {
		return p, fmt.Errorf("%w: %d", errUnsupportedCodec, codec)
	}
	b = b[1:]

	session, n, err := consumeVarint(b)
	if err != nil {
		return p, err
	}
	b = b[n:]
	p.Session = uint32(session)

	p.Sequence, n, err = consumeVarint(b)
	if err != nil {
		return p, err
	}
	b = b[n:]

	size, n, err := consumeVarint(b)
	if err != nil {
		return p, err
	}
	b = b[n:]
	p.Last = size&opusTerminator != 0
	length := int(size & opusLengthMask)
	if length > len(b) {
		return p, fmt.Errorf("mumble: voice payload of %d bytes exceeds packet", length)
	}
	// Positional audio data may follow the payload; it is ignored.
	p.Opus = b[:length]
	return p, nil
}
