// Package types contains the records shared by the host bridge, the metered
// engine and the host-side collaborators: program configuration, execution
// outcomes and the fixed-width identifiers that guest programs exchange.
package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 20-byte account identifier.
type Address [20]byte

// Bytes32 is a 32-byte word, used for call values and state roots.
type Bytes32 [32]byte

var (
	ZeroAddress = Address{}
	ZeroBytes32 = Bytes32{}
)

func (addr Address) String() string {
	return "0x" + hex.EncodeToString(addr[:])
}

func (b Bytes32) String() string {
	return "0x" + hex.EncodeToString(b[:])
}

// IsZero reports whether every byte of b is zero.
func (b Bytes32) IsZero() bool {
	return b == ZeroBytes32
}

// AddressFromString parses a hex address with or without the 0x prefix.
func AddressFromString(s string) (Address, error) {
	var addr Address
	raw, err := decodeHex(s)
	if err != nil {
		return addr, err
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("invalid address length: got %d bytes, want %d", len(raw), len(addr))
	}
	copy(addr[:], raw)
	return addr, nil
}

// Bytes32FromString parses a hex word. Shorter inputs are left-padded.
func Bytes32FromString(s string) (Bytes32, error) {
	var word Bytes32
	raw, err := decodeHex(s)
	if err != nil {
		return word, err
	}
	if len(raw) > len(word) {
		return word, fmt.Errorf("invalid word length: got %d bytes, want at most %d", len(raw), len(word))
	}
	copy(word[len(word)-len(raw):], raw)
	return word, nil
}

// BytesToAddress copies the first 20 bytes of b into an Address.
func BytesToAddress(b []byte) Address {
	var addr Address
	copy(addr[:], b)
	return addr
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return raw, nil
}
