// Package handle provides the globally unique, 128-bit opaque identifier
// every producer carries, grounded on google/uuid's V4 (random) generator.
//
// Handles compare bitwise and carry a total order so canonicalization and
// the reducer can use them as map keys and as deterministic tie-breakers,
// mirroring how lvlath/core keys its vertices/edges maps by a stable string
// ID rather than by pointer identity.
package handle

import (
	"bytes"

	"github.com/google/uuid"
)

// Handle is a 128-bit opaque identifier. The zero Handle is never produced
// by New and is reserved to mean "unset" in internal bookkeeping.
type Handle struct {
	id uuid.UUID
}

// New returns a fresh, globally unique Handle. Cloning a producer always
// calls New again; two separately-declared producers never share a Handle.
func New() Handle {
	return Handle{id: uuid.New()}
}

// Zero reports whether h is the unset Handle.
func (h Handle) Zero() bool {
	return h.id == uuid.Nil
}

// String returns the canonical hyphenated hex representation.
func (h Handle) String() string {
	return h.id.String()
}

// Compare returns -1, 0, or 1 as h orders before, equal to, or after other,
// by raw byte comparison. This total order is what the canonicalizer and
// commutative-input sorting rely on for determinism.
func (h Handle) Compare(other Handle) int {
	return bytes.Compare(h.id[:], other.id[:])
}

// Equal reports bitwise equality between two handles.
func (h Handle) Equal(other Handle) bool {
	return h.id == other.id
}

// PositionalHandle derives a deterministic Handle for a PositionalPlaceholder
// at the given index, used by the canonicalizer's fingerprint construction.
// Unlike New, this is pure and repeatable: the same index always yields the
// same Handle, which is precisely what lets two fingerprints of
// structurally-equal graphs compare equal.
func PositionalHandle(index int) Handle {
	return Handle{id: uuid.NewSHA1(positionalNamespace, []byte{
		byte(index >> 24), byte(index >> 16), byte(index >> 8), byte(index),
	})}
}

// positionalNamespace is a fixed namespace UUID (RFC 4122 name-based V5)
// scoping PositionalHandle's derivation away from any other UUID use in the
// module.
var positionalNamespace = uuid.MustParse("6f6e9e2a-6e33-4f7b-8f7f-2a6b6d2f9c41")
