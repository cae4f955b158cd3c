// Package producer defines the tagged union of vertex kinds that make up a
// dagflow graph: Placeholder, Generator, PreparedTransformer,
// PreparableTransformer, and View, plus the internal PositionalPlaceholder
// used only by the canonicalizer's fingerprint construction.
//
// Rather than a deep inheritance hierarchy with reflective introspection,
// each kind is a small concrete struct implementing the narrow Producer
// capability interface below — the same shape lvlath uses for its leaf
// packages (dfs, bfs, dijkstra each consume *core.Graph through their own
// small interface rather than a shared base class).
package producer

import (
	"reflect"

	"github.com/katalvlaran/dagflow/handle"
)

// Kind tags a Producer's concrete variant, used for phase-assignment rules
// (I4) and for reducer-registry lookups without needing reflection on every
// call.
type Kind int

const (
	// KindPlaceholder is a per-example input slot. No parents.
	KindPlaceholder Kind = iota
	// KindPositionalPlaceholder is the canonicalizer-internal placeholder
	// used only inside equality fingerprints (I8 exempts it from dedup).
	KindPositionalPlaceholder
	// KindGenerator is a root producer mapping a row index to a value.
	KindGenerator
	// KindPrepared is an already-trained, directly-applicable transformer.
	KindPrepared
	// KindPreparable is a trainable transformer with a two-phase lifecycle.
	KindPreparable
	// KindView observes a Preparable's prepared form once, after training.
	KindView
)

// String renders a Kind for logs and error messages.
func (k Kind) String() string {
	switch k {
	case KindPlaceholder:
		return "Placeholder"
	case KindPositionalPlaceholder:
		return "PositionalPlaceholder"
	case KindGenerator:
		return "Generator"
	case KindPrepared:
		return "PreparedTransformer"
	case KindPreparable:
		return "PreparableTransformer"
	case KindView:
		return "View"
	default:
		return "UnknownKind"
	}
}

// Producer is the capability trait every vertex kind implements. It is the
// "tagged union + capability trait object" described in the engine's design
// notes: a small interface instead of a class hierarchy with reflective
// internals.
type Producer interface {
	// Handle returns this producer's globally unique identifier.
	Handle() handle.Handle

	// Kind reports the concrete variant for phase assignment and dispatch.
	Kind() Kind

	// TypeTag names the concrete Go type stably (e.g. "producer.Generator"),
	// used as the reducer-registry key and as part of the equality class
	// check ("runtime class ∈ same type or one subclass of the other").
	TypeTag() string

	// Name is a human-readable label for logs and error messages. Equal
	// never consults it; the graph fingerprint (dag.Fingerprint) does
	// include it.
	Name() string

	// Inputs returns the ordered list of parent producers (empty for
	// roots).
	Inputs() []Producer

	// WithInputs returns a producer of the same concrete type with its
	// parent list replaced. It must not mutate the receiver (graphs are
	// immutable; canonicalization/reduction build new producers).
	WithInputs(inputs []Producer) Producer

	// Validate performs a sanity check, returning a non-nil error on
	// failure; dag.Canonicalize wraps it in dagerr.ErrValidation.
	Validate() error

	// Equal reports value-equality with other: same equality class, equal
	// value-equality fields, and equal input sequences (pairwise, honoring
	// CommutativeInputs).
	Equal(other Producer) bool

	// CommutativeInputs reports whether the input list should be sorted
	// into canonical handle order before comparison/interning.
	CommutativeInputs() bool

	// AlwaysConstant reports whether this producer yields the same value
	// for every row. It is a declared flag (a Generator's or Prepared's
	// constructor argument; always true for a View). The reducer does not
	// set it; instead it replaces a Prepared whose parents are all constant
	// Generators, and which isn't flagged nondeterministic, with a constant
	// Generator.
	AlwaysConstant() bool

	// Specificity is the tiebreaker used when interning equal producers:
	// among value-equal instances, the one with the greatest Specificity
	// is kept canonical so every equals-neighbor's fields/methods stay
	// reachable (replaces runtime class-depth ranking).
	Specificity() int
}

// EqualClass reports whether a and b belong to the same equality class: the
// same TypeTag, which stands in for "same runtime class or one subclass of
// the other" from a reflective-OO source language translated to Go's
// concrete-type model.
func EqualClass(a, b Producer) bool {
	return a.TypeTag() == b.TypeTag()
}

// EqualInputs compares two input slices pairwise via .Equal, honoring a
// commutative sort on both sides first when requested.
func EqualInputs(a, b []Producer, commutative bool) bool {
	if len(a) != len(b) {
		return false
	}
	if !commutative {
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	}

	as := SortedByHandle(a)
	bs := SortedByHandle(b)
	for i := range as {
		if !as[i].Equal(bs[i]) {
			return false
		}
	}
	return true
}

// SortedByHandle returns a new slice of producers ordered by Handle, used to
// canonicalize commutative input order before comparison/interning/hashing.
func SortedByHandle(ps []Producer) []Producer {
	out := make([]Producer, len(ps))
	copy(out, ps)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Handle().Compare(out[j].Handle()) > 0; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// valueEqual compares two arbitrary, caller-supplied equality keys with
// reflect.DeepEqual. Producers that carry a Key field (Generator, Prepared,
// Preparable) use this for their value-equality fields, since Go functions
// are not comparable and the key is the caller's declared identity for an
// otherwise-opaque closure.
func valueEqual(a, b interface{}) bool {
	return reflect.DeepEqual(a, b)
}
