// Package guid implements the 160-bit identifier space shared by nodes
// and stored values: a fixed-width unsigned integer with the XOR
// distance metric.
package guid

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"

	"github.com/minio/blake2b-simd"
	"github.com/pkg/errors"
)

// Size is the width of the identifier space in bytes (160 bits).
const Size = 20

// GUID is a 160-bit node or key identifier. The zero value is the all-zero
// identifier, which is never a valid self-assigned node GUID.
type GUID [Size]byte

// Zero is the all-zero identifier.
var Zero GUID

// FromBytes copies b into a GUID. b must be exactly Size bytes.
func FromBytes(b []byte) (GUID, error) {
	var g GUID
	if len(b) != Size {
		return g, errors.Errorf("guid: expected %d bytes, got %d", Size, len(b))
	}
	copy(g[:], b)
	return g, nil
}

// FromHex decodes a hex-encoded GUID.
func FromHex(s string) (GUID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return GUID{}, errors.Wrap(err, "guid: invalid hex")
	}
	return FromBytes(b)
}

// Hash derives a GUID by blake2b-hashing arbitrary input (e.g. a public
// key) down to the identifier width. This is how the node's self GUID
// and stored-value keys are normally produced.
func Hash(data []byte) GUID {
	sum := blake2b.Sum512(data)
	var g GUID
	copy(g[:], sum[:Size])
	return g
}

// Random returns a cryptographically random GUID. Used for find_id
// labels, which must come from a strong source to avoid cross-search
// aliasing.
func Random() GUID {
	var g GUID
	if _, err := rand.Read(g[:]); err != nil {
		panic(err) // crypto/rand failing is unrecoverable
	}
	return g
}

// String returns the lowercase hex encoding of the GUID.
func (g GUID) String() string {
	return hex.EncodeToString(g[:])
}

// IsZero reports whether g is the all-zero identifier.
func (g GUID) IsZero() bool {
	return g == Zero
}

// Equal reports whether g and other are the same identifier.
func (g GUID) Equal(other GUID) bool {
	return g == other
}

// Bytes returns a copy of the identifier's bytes.
func (g GUID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, g[:])
	return b
}

// Xor returns the bitwise XOR distance between g and other.
func (g GUID) Xor(other GUID) GUID {
	var out GUID
	for i := 0; i < Size; i++ {
		out[i] = g[i] ^ other[i]
	}
	return out
}

// Less reports whether g, read as a big-endian integer, is less than other.
// Used to break ties when two contacts are equidistant from a target.
func (g GUID) Less(other GUID) bool {
	return bytes.Compare(g[:], other[:]) < 0
}

// CloserTo reports whether g is strictly closer to target than other is,
// using the XOR metric with big-endian integer ordering and guid as a
// tiebreaker.
func (g GUID) CloserTo(target, other GUID) bool {
	da := g.Xor(target)
	db := other.Xor(target)
	cmp := bytes.Compare(da[:], db[:])
	if cmp != 0 {
		return cmp < 0
	}
	return g.Less(other)
}

// PrefixLen returns the number of leading zero bits shared with the
// all-zero identifier, i.e. the index of the highest set bit counted
// from the most significant bit. It is used to pick which k-bucket (by
// shared-prefix length with the local GUID, after XOR) a contact
// belongs to: PrefixLen(a.Xor(b)) gives the common-prefix length between
// a and b.
func (g GUID) PrefixLen() int {
	for i := 0; i < Size; i++ {
		b := g[i]
		if b == 0 {
			continue
		}
		for j := 0; j < 8; j++ {
			if b&(0x80>>uint(j)) != 0 {
				return i*8 + j
			}
		}
	}
	return Size * 8
}

// Bit returns the value (0 or 1) of the n-th most significant bit of g.
func (g GUID) Bit(n int) int {
	if n < 0 || n >= Size*8 {
		return 0
	}
	byteIdx := n / 8
	bitIdx := uint(n % 8)
	if g[byteIdx]&(0x80>>bitIdx) != 0 {
		return 1
	}
	return 0
}
