// Package kernel holds the core types shared across every kernel
// subsystem: opaque identifiers, logical time, capability variants, and
// the canonical hash type. These are the leaves of the dependency graph —
// every other internal package imports this one, never the reverse.
package kernel

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// ID is an opaque 128-bit identifier with a stable textual form
// "<prefix>_<hex>", e.g. "run_4f3c...", "evt_9a21...".
type ID struct {
	prefix string
	bytes  [16]byte
}

// NewID generates a random 128-bit ID with the given prefix.
func NewID(prefix string) ID {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("kernel: failed to read random bytes for id: %v", err))
	}
	return ID{prefix: prefix, bytes: b}
}

// IDFromBytes builds an ID from exactly 16 bytes, e.g. when decoding.
func IDFromBytes(prefix string, b [16]byte) ID {
	return ID{prefix: prefix, bytes: b}
}

// ParseID parses the textual form "<prefix>_<hex32>".
func ParseID(s string) (ID, error) {
	idx := strings.LastIndexByte(s, '_')
	if idx < 0 {
		return ID{}, fmt.Errorf("kernel: malformed id %q: missing prefix separator", s)
	}
	prefix, hexPart := s[:idx], s[idx+1:]
	raw, err := hex.DecodeString(hexPart)
	if err != nil {
		return ID{}, fmt.Errorf("kernel: malformed id %q: %w", s, err)
	}
	if len(raw) != 16 {
		return ID{}, fmt.Errorf("kernel: malformed id %q: expected 16 bytes, got %d", s, len(raw))
	}
	var b [16]byte
	copy(b[:], raw)
	return ID{prefix: prefix, bytes: b}, nil
}

// Bytes returns the 16 raw identifier bytes, used by the canonical codec.
func (id ID) Bytes() [16]byte { return id.bytes }

// Prefix returns the textual prefix, e.g. "run", "evt", "node".
func (id ID) Prefix() string { return id.prefix }

// IsZero reports whether id is the zero value (no prefix, no bytes).
func (id ID) IsZero() bool { return id.prefix == "" && id.bytes == [16]byte{} }

// String returns the textual form "<prefix>_<hex32>".
func (id ID) String() string {
	if id.prefix == "" {
		return ""
	}
	return id.prefix + "_" + hex.EncodeToString(id.bytes[:])
}
