package mumble

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Control channel message types. Every message on the TLS connection is
// prefixed with a 2-byte type and a 4-byte payload length, both big-endian.
const (
	msgVersion      uint16 = 0
	msgUDPTunnel    uint16 = 1
	msgAuthenticate uint16 = 2
	msgPing         uint16 = 3
	msgReject       uint16 = 4
	msgServerSync   uint16 = 5
	msgUserRemove   uint16 = 8
	msgUserState    uint16 = 9
	msgTextMessage  uint16 = 11
	msgCryptSetup   uint16 = 15
	msgCodecVersion uint16 = 21
)

const (
	headerSize = 6

	// maxMessageSize bounds a single control message. Murmur itself rejects
	// anything above 8 MiB.
	maxMessageSize = 8 << 20
)

// protocolVersion is 1.4.0. Announcing a pre-1.5 client makes the server
// use the legacy binary audio format inside UDPTunnel messages.
const protocolVersion = 1<<16 | 4<<8 | 0

func readMessage(r io.Reader, buf []byte) (typ uint16, payload []byte, err error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	typ = binary.BigEndian.Uint16(hdr[0:2])
	size := binary.BigEndian.Uint32(hdr[2:6])
	if size > maxMessageSize {
		return 0, nil, fmt.Errorf("mumble: message type %d too large (%d bytes)", typ, size)
	}
	if cap(buf) < int(size) {
		buf = make([]byte, size)
	}
	payload = buf[:size]
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return typ, payload, nil
}

func appendMessage(b []byte, typ uint16, payload []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, typ)
	b = binary.BigEndian.AppendUint32(b, uint32(len(payload)))
	return append(b, payload...)
}

// ─── outgoing messages ────────────────────────────────────────────────────────

type versionMsg struct {
	Version   uint32
	Release   string
	OS        string
	OSVersion string
}

func (m versionMsg) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Version))
	b = appendString(b, 2, m.Release)
	b = appendString(b, 3, m.OS)
	b = appendString(b, 4, m.OSVersion)
	return b
}

type authenticateMsg struct {
	Username string
	Password string
	Tokens   []string
	Opus     bool
}

func (m authenticateMsg) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Username)
	b = appendString(b, 2, m.Password)
	for _, t := range m.Tokens {
		b = appendString(b, 3, t)
	}
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(m.Opus))
	return b
}

type pingMsg struct {
	Timestamp uint64
}

func (m pingMsg) marshal() []byte {
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	return protowire.AppendVarint(b, m.Timestamp)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// ─── incoming messages ────────────────────────────────────────────────────────

type rejectMsg struct {
	Type   uint64
	Reason string
}

type serverSyncMsg struct {
	Session      uint32
	MaxBandwidth uint32
	WelcomeText  string
}

type userStateMsg struct {
	Session uint32
	Name    string
}

type userRemoveMsg struct {
	Session uint32
	Reason  string
}

type textMessageMsg struct {
	Actor   uint32
	Message string
}

// field is one decoded protobuf field. Only varint and length-delimited
// values are surfaced; other wire types are skipped.
type field struct {
	num    protowire.Number
	varint uint64
	bytes  []byte
}

// eachField walks the top-level fields of a protobuf message.
func eachField(b []byte, fn func(f field)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		fn(f)
	}
	return nil
}

func unmarshalReject(b []byte) (m rejectMsg, err error) {
	err = eachField(b, func(f field) {
		switch f.num {
		case 1:
			m.Type = f.varint
		case 2:
			m.Reason = string(f.bytes)
		}
	})
	return m, err
}

func unmarshalServerSync(b []byte) (m serverSyncMsg, err error) {
	err = eachField(b, func(f field) {
		switch f.num {
		case 1:
			m.Session = uint32(f.varint)
		case 2:
			m.MaxBandwidth = uint32(f.varint)
		case 3:
			m.WelcomeText = string(f.bytes)
		}
	})
	return m, err
}

func unmarshalUserState(b []byte) (m userStateMsg, err error) {
	err = eachField(b, func(f field) {
		switch f.num {
		case 1:
			m.Session = uint32(f.varint)
		case 3:
			m.Name = string(f.bytes)
		}
	})
	return m, err
}

func unmarshalUserRemove(b []byte) (m userRemoveMsg, err error) {
	err = eachField(b, func(f field) {
		switch f.num {
		case 1:
			m.Session = uint32(f.varint)
		case 3:
			m.Reason = string(f.bytes)
		}
	})
	return m, err
}

func unmarshalTextMessage(b []byte) (m textMessageMsg, err error) {
	err = eachField(b, func(f field) {
		switch f.num {
		case 1:
			m.Actor = uint32(f.varint)
		case 5:
			m.Message = string(f.bytes)
		}
	})
	return m, err
}

// rejectReasons names the Reject.RejectType enum values.
var rejectReasons = map[uint64]string{
	0: "none",
	1: "wrong version",
	2: "invalid username",
	3: "wrong user password",
	4: "wrong server password",
	5: "username in use",
	6: "server full",
	7: "no certificate",
	8: "authenticator fail",
}
