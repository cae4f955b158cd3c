package producer

import "github.com/katalvlaran/dagflow/handle"

// Placeholder is a per-example input slot. It has no parents. Two
// placeholders declared separately are never equal (I8: placeholders are
// never deduplicated or replaced by other producer kinds during reduction),
// identity is by Handle.
type Placeholder struct {
	h         handle.Handle
	name      string
	valueType string
}

// NewPlaceholder declares a fresh placeholder with a descriptive name and
// value-type tag (used only for logging/validation messages, e.g. "f64",
// "vec").
func NewPlaceholder(name, valueType string) *Placeholder {
	return &Placeholder{h: handle.New(), name: name, valueType: valueType}
}

func (p *Placeholder) Handle() handle.Handle { return p.h }
func (p *Placeholder) Kind() Kind            { return KindPlaceholder }
func (p *Placeholder) TypeTag() string       { return "producer.Placeholder" }
func (p *Placeholder) Name() string          { return p.name }
func (p *Placeholder) Inputs() []Producer    { return nil }
func (p *Placeholder) ValueType() string     { return p.valueType }

// WithInputs returns p unchanged: a Placeholder has no parents to replace.
func (p *Placeholder) WithInputs(inputs []Producer) Producer {
	return p
}

func (p *Placeholder) Validate() error { return nil }

// Equal reports reference identity: two Placeholders are equal only if they
// are literally the same instance (same Handle).
func (p *Placeholder) Equal(other Producer) bool {
	op, ok := other.(*Placeholder)
	return ok && op.h.Equal(p.h)
}

func (p *Placeholder) CommutativeInputs() bool { return false }
func (p *Placeholder) AlwaysConstant() bool    { return false }
func (p *Placeholder) Specificity() int        { return 10 }

// PositionalPlaceholder is the canonicalizer-internal placeholder used only
// inside equality fingerprints. Unlike Placeholder, it is equal by its
// positional index, not by Handle, which is exactly what lets two
// structurally-equal graphs with different user-declared Placeholder
// instances produce identical fingerprints.
type PositionalPlaceholder struct {
	h     handle.Handle
	index int
}

// NewPositionalPlaceholder builds the index-th positional placeholder used
// when substituting a graph's real placeholders for fingerprint purposes.
func NewPositionalPlaceholder(index int) *PositionalPlaceholder {
	return &PositionalPlaceholder{h: handle.PositionalHandle(index), index: index}
}

func (p *PositionalPlaceholder) Handle() handle.Handle { return p.h }
func (p *PositionalPlaceholder) Kind() Kind            { return KindPositionalPlaceholder }
func (p *PositionalPlaceholder) TypeTag() string       { return "producer.PositionalPlaceholder" }
func (p *PositionalPlaceholder) Name() string          { return "$pos" }
func (p *PositionalPlaceholder) Inputs() []Producer    { return nil }
func (p *PositionalPlaceholder) Index() int            { return p.index }

func (p *PositionalPlaceholder) WithInputs(inputs []Producer) Producer { return p }
func (p *PositionalPlaceholder) Validate() error                       { return nil }

// Equal reports equality by positional index, per I7/I8's carve-out for
// PositionalPlaceholder.
func (p *PositionalPlaceholder) Equal(other Producer) bool {
	op, ok := other.(*PositionalPlaceholder)
	return ok && op.index == p.index
}

func (p *PositionalPlaceholder) CommutativeInputs() bool { return false }
func (p *PositionalPlaceholder) AlwaysConstant() bool    { return false }
func (p *PositionalPlaceholder) Specificity() int        { return 10 }
