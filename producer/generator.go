package producer

import "github.com/katalvlaran/dagflow/handle"

// Generator is a root producer mapping a 64-bit example index to a value
// deterministically. It has no parents and may declare itself always
// constant (same value for every index).
type Generator struct {
	h        handle.Handle
	name     string
	key      interface{} // value-equality identity; Gen closures aren't comparable
	gen      func(index uint64) (interface{}, error)
	constant bool
}

// NewGenerator declares a Generator. key is the caller's declared
// value-equality identity for gen (Go closures are not comparable, so the
// caller supplies a comparable-by-reflect.DeepEqual stand-in, e.g. a small
// config struct — mirroring how lvlath/builder's WithSeed/WithRand options
// carry their own comparable configuration rather than relying on function
// identity).
func NewGenerator(name string, key interface{}, gen func(index uint64) (interface{}, error), constant bool) *Generator {
	return &Generator{h: handle.New(), name: name, key: key, gen: gen, constant: constant}
}

func (g *Generator) Handle() handle.Handle { return g.h }
func (g *Generator) Kind() Kind            { return KindGenerator }
func (g *Generator) TypeTag() string       { return "producer.Generator" }
func (g *Generator) Name() string          { return g.name }
func (g *Generator) Inputs() []Producer    { return nil }

// Generate computes the value at the given row index.
func (g *Generator) Generate(index uint64) (interface{}, error) { return g.gen(index) }

func (g *Generator) WithInputs(inputs []Producer) Producer { return g }

func (g *Generator) Validate() error { return nil }

func (g *Generator) Equal(other Producer) bool {
	og, ok := other.(*Generator)
	return ok && og.constant == g.constant && valueEqual(og.key, g.key)
}

func (g *Generator) CommutativeInputs() bool { return false }
func (g *Generator) AlwaysConstant() bool    { return g.constant }
func (g *Generator) Specificity() int        { return 20 }
