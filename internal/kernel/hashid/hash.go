// Package hashid provides the kernel's single content-hash primitive:
// BLAKE3-32, as mandated by spec §1/§3/§6. Every payload_hash, state_hash,
// content_hash and blob address in the system is an instance of Hash
// produced by this package's H function — there is exactly one hash
// function in the kernel, grounded on lukechampine.com/blake3, the BLAKE3
// implementation referenced across the example pack's blockchain-adjacent
// manifests (erigon forks, certen-validator, helios).
package hashid

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// Size is the length in bytes of a Hash.
const Size = 32

// Hash is a 32-byte BLAKE3 digest. Equality is byte equality.
type Hash [Size]byte

// H hashes b and returns its BLAKE3-32 digest.
func H(b []byte) Hash {
	sum := blake3.Sum256(b)
	return Hash(sum)
}

// IsZero reports whether h is the all-zero hash (used to represent "absent"
// where the canonical codec's optional encoding isn't in play, e.g. in-memory
// defaults before an explicit optional is set).
func (h Hash) IsZero() bool { return h == Hash{} }

// String returns lowercase hex.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// ParseHash parses 64 hex characters into a Hash.
func ParseHash(s string) (Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("hashid: %w", err)
	}
	if len(raw) != Size {
		return Hash{}, fmt.Errorf("hashid: expected %d bytes, got %d", Size, len(raw))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

// Address is the textual content address form "blake3:<64 hex>" used in
// bundle manifests and CLI output (spec §6).
type Address struct {
	Algorithm string
	Hash      Hash
}

// NewAddress builds the address for b under the BLAKE3 algorithm.
func NewAddress(b []byte) Address {
	return Address{Algorithm: "blake3", Hash: H(b)}
}

func (a Address) String() string {
	return a.Algorithm + ":" + a.Hash.String()
}

// ParseAddress parses "blake3:<64 hex>". Any other algorithm tag, or a
// hash that doesn't decode to exactly 32 bytes, is an error.
func ParseAddress(s string) (Address, error) {
	idx := indexByte(s, ':')
	if idx < 0 {
		return Address{}, fmt.Errorf("hashid: malformed address %q: missing ':'", s)
	}
	alg, hexPart := s[:idx], s[idx+1:]
	if alg != "blake3" {
		return Address{}, fmt.Errorf("hashid: unsupported algorithm %q", alg)
	}
	h, err := ParseHash(hexPart)
	if err != nil {
		return Address{}, fmt.Errorf("hashid: malformed address %q: %w", s, err)
	}
	return Address{Algorithm: alg, Hash: h}, nil
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
