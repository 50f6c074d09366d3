package websocket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Opcode identifies the purpose of a frame.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether the opcode is close, ping or pong.
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

func (o Opcode) valid() bool {
	switch o {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	}
	return fmt.Sprintf("opcode(0x%x)", byte(o))
}

// CloseCode is a close frame status code.
type CloseCode uint16

const (
	CloseNormal              CloseCode = 1000
	CloseGoingAway           CloseCode = 1001
	CloseProtocolError       CloseCode = 1002
	CloseUnsupportedData     CloseCode = 1003
	CloseNoStatus            CloseCode = 1005
	CloseAbnormal            CloseCode = 1006
	CloseInvalidPayload      CloseCode = 1007
	ClosePolicyViolation     CloseCode = 1008
	CloseMessageTooBig       CloseCode = 1009
	CloseMandatoryExtension  CloseCode = 1010
	CloseInternalServerError CloseCode = 1011
	CloseTLSHandshake        CloseCode = 1015
)

// MaxControlPayload is the largest payload a ping, pong or close frame may carry.
const MaxControlPayload = 125

var (
	ErrIncompleteFrame = errors.New("incomplete frame")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrFrameTooLarge   = errors.New("frame payload too large")
)

// Frame is a single decoded wire unit. Payload is always unmasked.
type Frame struct {
	Final    bool
	Reserved byte
	Opcode   Opcode
	Masked   bool
	MaskKey  [4]byte
	Payload  []byte
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}

// MaskBytes XORs b in place with key. Applying it twice restores b.
func MaskBytes(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}

// parseHeader validates the first two bytes and returns the length marker.
func parseHeader(b0, b1 byte) (Frame, byte, error) {
	f := Frame{
		Final:    b0&0x80 != 0,
		Reserved: (b0 >> 4) & 0x7,
		Opcode:   Opcode(b0 & 0x0F),
		Masked:   b1&0x80 != 0,
	}
	if f.Reserved != 0 {
		return f, 0, malformed("reserved bits set (0x%x)", f.Reserved)
	}
	if !f.Opcode.valid() {
		return f, 0, malformed("unknown opcode 0x%x", byte(f.Opcode))
	}
	length := b1 & 0x7F
	if f.Opcode.IsControl() {
		if !f.Final {
			return f, 0, malformed("fragmented %s frame", f.Opcode)
		}
		if length > MaxControlPayload {
			return f, 0, malformed("%s payload exceeds %d bytes", f.Opcode, MaxControlPayload)
		}
	}
	return f, length, nil
}

func extendedLength(marker byte, ext []byte) (uint64, error) {
	switch marker {
	case 126:
		n := uint64(binary.BigEndian.Uint16(ext))
		if n < 126 {
			return 0, malformed("16-bit length %d is not minimally encoded", n)
		}
		return n, nil
	case 127:
		n := binary.BigEndian.Uint64(ext)
		if n>>63 != 0 {
			return 0, malformed("64-bit length has the most significant bit set")
		}
		if n <= math.MaxUint16 {
			return 0, malformed("64-bit length %d is not minimally encoded", n)
		}
		return n, nil
	}
	return uint64(marker), nil
}

func extendedSize(marker byte) int {
	switch marker {
	case 126:
		return 2
	case 127:
		return 8
	}
	return 0
}

// DecodeFrame decodes one frame from the start of b and reports how many
// bytes it consumed. It returns ErrIncompleteFrame when b holds only part
// of a frame.
func DecodeFrame(b []byte) (Frame, int, error) {
	if len(b) < 2 {
		return Frame{}, 0, ErrIncompleteFrame
	}
	f, marker, err := parseHeader(b[0], b[1])
	if err != nil {
		return Frame{}, 0, err
	}
	pos := 2
	extSize := extendedSize(marker)
	if len(b) < pos+extSize {
		return Frame{}, 0, ErrIncompleteFrame
	}
	n, err := extendedLength(marker, b[pos:pos+extSize])
	if err != nil {
		return Frame{}, 0, err
	}
	pos += extSize
	if f.Masked {
		if len(b) < pos+4 {
			return Frame{}, 0, ErrIncompleteFrame
		}
		copy(f.MaskKey[:], b[pos:pos+4])
		pos += 4
	}
	if uint64(len(b)-pos) < n {
		return Frame{}, 0, ErrIncompleteFrame
	}
	end := pos + int(n)
	f.Payload = make([]byte, n)
	copy(f.Payload, b[pos:end])
	if f.Masked {
		MaskBytes(f.MaskKey, f.Payload)
	}
	return f, end, nil
}

// ReadFrame reads exactly one frame from r. A positive maxPayload bounds
// the payload length; larger frames fail with ErrFrameTooLarge before the
// payload is read.
func ReadFrame(r io.Reader, maxPayload int64) (Frame, error) {
	var hdr [14]byte
	if _, err := io.ReadFull(r, hdr[:2]); err != nil {
		return Frame{}, err
	}
	f, marker, err := parseHeader(hdr[0], hdr[1])
	if err != nil {
		return Frame{}, err
	}
	extSize := extendedSize(marker)
	if extSize > 0 {
		if _, err := io.ReadFull(r, hdr[2:2+extSize]); err != nil {
			return Frame{}, err
		}
	}
	n, err := extendedLength(marker, hdr[2:2+extSize])
	if err != nil {
		return Frame{}, err
	}
	if maxPayload > 0 && n > uint64(maxPayload) {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxPayload)
	}
	if f.Masked {
		if _, err := io.ReadFull(r, f.MaskKey[:]); err != nil {
			return Frame{}, err
		}
	}
	f.Payload = make([]byte, n)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return Frame{}, err
	}
	if f.Masked {
		MaskBytes(f.MaskKey, f.Payload)
	}
	return f, nil
}

func appendHeader(dst []byte, op Opcode, n int, masked bool) []byte {
	b1 := byte(0)
	if masked {
		b1 = 0x80
	}
	dst = append(dst, 0x80|byte(op))
	switch {
	case n < 126:
		dst = append(dst, b1|byte(n))
	case n <= math.MaxUint16:
		dst = append(dst, b1|126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, b1|127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}
	return dst
}

// EncodeFrame encodes a final, unmasked frame as sent by a server.
func EncodeFrame(op Opcode, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+10)
	out = appendHeader(out, op, len(payload), false)
	return append(out, payload...)
}

// EncodeMaskedFrame encodes a final frame masked with key, as sent by a client.
func EncodeMaskedFrame(op Opcode, payload []byte, key [4]byte) []byte {
	out := make([]byte, 0, len(payload)+14)
	out = appendHeader(out, op, len(payload), true)
	out = append(out, key[:]...)
	start := len(out)
	out = append(out, payload...)
	MaskBytes(key, out[start:])
	return out
}

// EncodeClose builds a close frame. The reason is truncated so the payload
// fits in a control frame.
func EncodeClose(code CloseCode, reason string) []byte {
	payload := binary.BigEndian.AppendUint16(nil, uint16(code))
	if len(reason) > MaxControlPayload-2 {
		reason = reason[:MaxControlPayload-2]
	}
	payload = append(payload, reason...)
	return EncodeFrame(OpClose, payload)
}

// ParseClose splits a close payload into its status code and reason. An
// empty payload yields CloseNoStatus.
func ParseClose(payload []byte) (CloseCode, string, error) {
	switch len(payload) {
	case 0:
		return CloseNoStatus, "", nil
	case 1:
		return 0, "", malformed("close payload of 1 byte")
	}
	return CloseCode(binary.BigEndian.Uint16(payload)), string(payload[2:]), nil
}
