package sv

import (
	"encoding/binary"
	"fmt"
)

// ASN.1 BER tags used by the 9-2 savPDU (context specific, implicit).
const (
	TagSavPDU   byte = 0x60
	TagNoASDU   byte = 0x80
	TagSeqASDU  byte = 0xA2
	TagASDU     byte = 0x30
	TagSvID     byte = 0x80
	TagDatSet   byte = 0x81
	TagSmpCnt   byte = 0x82
	TagConfRev  byte = 0x83
	TagRefrTm   byte = 0x84
	TagSmpSynch byte = 0x85
	TagSmpRate  byte = 0x86
	TagSeqData  byte = 0x87
	TagSmpMod   byte = 0x88
)

// maxBERLength is the largest definite length we encode (two length octets).
const maxBERLength = 0xFFFF

// lengthSize returns the number of octets needed to encode n as a BER
// definite length.
func lengthSize(n int) int {
	switch {
	case n < 0x80:
		return 1
	case n <= 0xFF:
		return 2
	default:
		return 3
	}
}

// putLength writes n as a BER definite length and returns the octets used.
// b must have room for lengthSize(n) octets.
func putLength(b []byte, n int) int {
	switch lengthSize(n) {
	case 1:
		b[0] = byte(n)
		return 1
	case 2:
		b[0] = 0x81
		b[1] = byte(n)
		return 2
	default:
		b[0] = 0x82
		binary.BigEndian.PutUint16(b[1:3], uint16(n))
		return 3
	}
}

// readLength parses a BER definite length. Indefinite and >2 octet forms are
// not used by SV and are rejected.
func readLength(b []byte) (n int, size int, err error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("missing length octet")
	}
	first := b[0]
	if first < 0x80 {
		return int(first), 1, nil
	}
	switch first {
	case 0x81:
		if len(b) < 2 {
			return 0, 0, fmt.Errorf("truncated long-form length")
		}
		return int(b[1]), 2, nil
	case 0x82:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("truncated long-form length")
		}
		return int(binary.BigEndian.Uint16(b[1:3])), 3, nil
	default:
		return 0, 0, fmt.Errorf("unsupported length form 0x%02x", first)
	}
}

// readTLV splits the first tag-length-value element off b.
func readTLV(b []byte) (tag byte, value []byte, rest []byte, err error) {
	if len(b) < 2 {
		return 0, nil, nil, fmt.Errorf("truncated TLV (%d bytes)", len(b))
	}
	tag = b[0]
	n, size, err := readLength(b[1:])
	if err != nil {
		return 0, nil, nil, fmt.Errorf("tag 0x%02x: %w", tag, err)
	}
	start := 1 + size
	if start+n > len(b) {
		return 0, nil, nil, fmt.Errorf("tag 0x%02x: length %d exceeds remaining %d bytes", tag, n, len(b)-start)
	}
	return tag, b[start : start+n], b[start+n:], nil
}
