package websocket

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}

	tests := []struct {
		name    string
		opcode  Opcode
		payload []byte
	}{
		{"empty text", OpText, nil},
		{"short text", OpText, []byte("GAMEJOIN.g1,alice")},
		{"125 bytes", OpBinary, bytes.Repeat([]byte{'a'}, 125)},
		{"16-bit length", OpText, bytes.Repeat([]byte{'b'}, 126)},
		{"16-bit max", OpText, bytes.Repeat([]byte{'c'}, 65535)},
		{"64-bit length", OpBinary, bytes.Repeat([]byte{'d'}, 65536)},
		{"ping", OpPing, []byte("hi")},
		{"pong", OpPong, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, encoded := range [][]byte{
				EncodeFrame(tt.opcode, tt.payload),
				EncodeMaskedFrame(tt.opcode, tt.payload, key),
			} {
				f, n, err := DecodeFrame(encoded)
				if err != nil {
					t.Fatalf("DecodeFrame() error = %v", err)
				}
				if n != len(encoded) {
					t.Errorf("consumed %d bytes, want %d", n, len(encoded))
				}
				if f.Opcode != tt.opcode {
					t.Errorf("opcode = %v, want %v", f.Opcode, tt.opcode)
				}
				if !f.Final {
					t.Error("expected FIN bit")
				}
				if !bytes.Equal(f.Payload, tt.payload) {
					t.Errorf("payload mismatch (len %d vs %d)", len(f.Payload), len(tt.payload))
				}

				g, err := ReadFrame(bytes.NewReader(encoded), 0)
				if err != nil {
					t.Fatalf("ReadFrame() error = %v", err)
				}
				if g.Opcode != tt.opcode || !bytes.Equal(g.Payload, tt.payload) {
					t.Error("ReadFrame disagrees with DecodeFrame")
				}
			}
		})
	}
}

func TestServerFramesAreUnmasked(t *testing.T) {
	encoded := EncodeFrame(OpText, []byte("x"))
	if encoded[1]&0x80 != 0 {
		t.Fatal("server frame has MASK bit set")
	}
	if !bytes.Equal(encoded, []byte{0x81, 0x01, 'x'}) {
		t.Errorf("EncodeFrame() = % x", encoded)
	}
}

func TestMaskIsInvolutive(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	original := []byte("the quick brown fox jumps")
	buf := append([]byte(nil), original...)

	MaskBytes(key, buf)
	if bytes.Equal(buf, original) {
		t.Fatal("masking left payload unchanged")
	}
	MaskBytes(key, buf)
	if !bytes.Equal(buf, original) {
		t.Errorf("unmask(mask(x)) = %q, want %q", buf, original)
	}
}

func TestRFCMaskedExample(t *testing.T) {
	// RFC 6455 section 5.7: a single-frame masked text message containing "Hello".
	wire := []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58}
	f, n, err := DecodeFrame(wire)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if n != len(wire) || string(f.Payload) != "Hello" || !f.Masked {
		t.Errorf("got %+v consumed %d", f, n)
	}
	if got := EncodeMaskedFrame(OpText, []byte("Hello"), f.MaskKey); !bytes.Equal(got, wire) {
		t.Errorf("EncodeMaskedFrame() = % x, want % x", got, wire)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		wire []byte
	}{
		{"reserved bits", []byte{0x81 | 0x40, 0x00}},
		{"unknown opcode", []byte{0x83, 0x00}},
		{"non-minimal 16-bit", []byte{0x81, 0x7E, 0x00, 0x05, 'a', 'b', 'c', 'd', 'e'}},
		{"non-minimal 64-bit", []byte{0x82, 0x7F, 0, 0, 0, 0, 0, 0, 0x01, 0x00}},
		{"64-bit msb set", []byte{0x82, 0x7F, 0x80, 0, 0, 0, 0, 0, 0, 0}},
		{"long control frame", append([]byte{0x89, 0x7E, 0x00, 0x7E}, make([]byte, 126)...)},
		{"fragmented ping", []byte{0x09, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeFrame(tt.wire)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("DecodeFrame() error = %v, want ErrMalformedFrame", err)
			}
			_, err = ReadFrame(bytes.NewReader(tt.wire), 0)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("ReadFrame() error = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestDecodeIncomplete(t *testing.T) {
	full := EncodeMaskedFrame(OpText, []byte("hello world"), [4]byte{9, 8, 7, 6})
	for i := 0; i < len(full); i++ {
		if _, _, err := DecodeFrame(full[:i]); !errors.Is(err, ErrIncompleteFrame) {
			t.Fatalf("DecodeFrame(%d bytes) error = %v, want ErrIncompleteFrame", i, err)
		}
	}
}

func TestReadFrameLimit(t *testing.T) {
	wire := EncodeMaskedFrame(OpText, bytes.Repeat([]byte{'z'}, 300), [4]byte{})
	if _, err := ReadFrame(bytes.NewReader(wire), 256); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("ReadFrame() error = %v, want ErrFrameTooLarge", err)
	}
}

func TestCloseFrames(t *testing.T) {
	f, _, err := DecodeFrame(EncodeClose(CloseUnsupportedData, "binary frames are not supported"))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	code, reason, err := ParseClose(f.Payload)
	if err != nil {
		t.Fatalf("ParseClose() error = %v", err)
	}
	if code != CloseUnsupportedData || reason != "binary frames are not supported" {
		t.Errorf("ParseClose() = %d %q", code, reason)
	}

	long := string(bytes.Repeat([]byte{'r'}, 200))
	if _, _, err := DecodeFrame(EncodeClose(CloseNormal, long)); err != nil {
		t.Errorf("oversized reason not truncated: %v", err)
	}

	if code, _, _ := ParseClose(nil); code != CloseNoStatus {
		t.Errorf("ParseClose(nil) code = %d, want %d", code, CloseNoStatus)
	}
	if _, _, err := ParseClose([]byte{0x03}); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("ParseClose(1 byte) error = %v", err)
	}
}
