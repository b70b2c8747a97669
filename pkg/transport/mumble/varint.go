package mumble

import (
	"encoding/binary"
	"errors"
)

var errShortVarint = errors.New("mumble: truncated varint")

// appendVarint appends v in Mumble's variable-length integer encoding. The
// prefix bits of the first byte select the length:
//
//	0xxxxxxx                 7-bit positive
//	10xxxxxx + 1 byte        14-bit positive
//	110xxxxx + 2 bytes       21-bit positive
//	1110xxxx + 3 bytes       28-bit positive
//	111100__ + 4 bytes       32-bit positive
//	111101__ + 8 bytes       64-bit
//	111110__ + varint        negated varint
//	111111xx                 negated two-bit number
func appendVarint(b []byte, v int64) []byte {
	i := uint64(v)
	if v < 0 && ^i < 0x100000000 {
		i = ^i
		if i <= 0x3 {
			return append(b, 0xFC|byte(i))
		}
		b = append(b, 0xF8)
	}
	switch {
	case i < 0x80:
		return append(b, byte(i))
	case i < 0x4000:
		return append(b, byte(i>>8)|0x80, byte(i))
	case i < 0x200000:
		return append(b, byte(i>>16)|0xC0, byte(i>>8), byte(i))
	case i < 0x10000000:
		return append(b, byte(i>>24)|0xE0, byte(i>>16), byte(i>>8), byte(i))
	case i < 0x100000000:
		b = append(b, 0xF0)
		return binary.BigEndian.AppendUint32(b, uint32(i))
	default:
		b = append(b, 0xF4)
		return binary.BigEndian.AppendUint64(b, i)
	}
}

// consumeVarint decodes one varint from b and returns it with the number of
// bytes read.
func consumeVarint(b []byte) (int64, int, error) {
	if len(b) == 0 {
		return 0, 0, errShortVarint
	}
	v := b[0]
	need := func(n int) error {
		if len(b) < n {
			return errShortVarint
		}
		return nil
	}

	switch {
	case v&0x80 == 0x00:
		return int64(v & 0x7F), 1, nil
	case v&0xC0 == 0x80:
		if err := need(2); err != nil {
			return 0, 0, err
		}
		return int64(v&0x3F)<<8 | int64(b[1]), 2, nil
	case v&0xE0 == 0xC0:
		if err := need(3); err != nil {
			return 0, 0, err
		}
		return int64(v&0x1F)<<16 | int64(b[1])<<8 | int64(b[2]), 3, nil
	case v&0xF0 == 0xE0:
		if err := need(4); err != nil {
			return 0, 0, err
		}
		return int64(v&0x0F)<<24 | int64(b[1])<<16 | int64(b[2])<<8 | int64(b[3]), 4, nil
	}

	switch v & 0xFC {
	case 0xF0:
		if err := need(5); err != nil {
			return 0, 0, err
		}
		return int64(binary.BigEndian.Uint32(b[1:5])), 5, nil
	case 0xF4:
		if err := need(9); err != nil {
			return 0, 0, err
		}
		return int64(binary.BigEndian.Uint64(b[1:9])), 9, nil
	case 0xF8:
		inner, n, err := consumeVarint(b[1:])
		if err != nil {
			return 0, 0, err
		}
		return ^inner, n + 1, nil
	default: // 0xFC
		return ^int64(v & 0x03), 1, nil
	}
}
