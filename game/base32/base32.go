// Package base32 implements the 5-bit-per-symbol alphabet used to encode
// game actions on the wire.
package base32

import (
	"errors"
	"fmt"
	"strings"
)

// Alphabet lists the 32 symbols in value order.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

const (
	symbolBits = 5
	mask5      = 1<<symbolBits - 1
)

var ErrInvalidSymbol = errors.New("invalid base32 symbol")

// IsValid reports whether every character of s belongs to the alphabet.
func IsValid(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}

// Encode5 encodes the 5 least significant bits of v as one symbol.
func Encode5(v int) string {
	return string(Alphabet[v&mask5])
}

// Encode10 encodes the 10 least significant bits of v as two symbols,
// most significant first.
func Encode10(v int) string {
	return Encode5(v>>symbolBits) + Encode5(v)
}

// Decode returns the value of s, read most significant symbol first.
func Decode(s string) (int, error) {
	v := 0
	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(Alphabet, s[i])
		if idx < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidSymbol, s[i])
		}
		v = v<<symbolBits | idx
	}
	return v, nil
}
