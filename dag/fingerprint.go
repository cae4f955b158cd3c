package dag

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/katalvlaran/dagflow/producer"
)

// Fingerprint is a canonical equality digest over a graph's shape: two
// graphs are structurally equal iff their fingerprints are equal.
type Fingerprint [16]byte

// buildFingerprint substitutes each positional placeholder for the real
// placeholder at the same index, feeds the rewritten outputs into a
// sentinel sink, and hashes the sink's canonical textual shape with
// blake2b-128 (chosen because the module already depends on
// golang.org/x/crypto for disk-storage encryption, so no extra dependency
// is introduced just for fingerprinting).
func buildFingerprint(placeholders []producer.Producer, outputs []producer.Producer) (Fingerprint, error) {
	posByHandle := make(map[string]int, len(placeholders))
	for i, p := range placeholders {
		posByHandle[p.Handle().String()] = i
	}

	var b strings.Builder
	for i, out := range outputs {
		if i > 0 {
			b.WriteByte(';')
		}
		writeShape(&b, out, posByHandle, make(map[string]bool))
	}

	sum := blake2b.Sum256([]byte(b.String()))
	var fp Fingerprint
	copy(fp[:], sum[:16])
	return fp, nil
}

// writeShape renders a producer's positional-placeholder-substituted shape
// deterministically: TypeTag, its value-equality surface (via TypeTag +
// Name, since arbitrary closures aren't serializable) and its children's
// shapes in order. visiting guards against re-descending into the same
// handle twice within one output's tree (shared sub-DAGs collapse to one
// textual occurrence keyed by handle, matching the node's single identity).
func writeShape(b *strings.Builder, p producer.Producer, posByHandle map[string]int, visiting map[string]bool) {
	if pos, ok := posByHandle[p.Handle().String()]; ok {
		fmt.Fprintf(b, "$%d", pos)
		return
	}

	key := p.Handle().String()
	if visiting[key] {
		fmt.Fprintf(b, "<cyc:%s>", p.TypeTag())
		return
	}
	visiting[key] = true

	fmt.Fprintf(b, "%s(%s)[", p.TypeTag(), p.Name())
	for i, in := range p.Inputs() {
		if i > 0 {
			b.WriteByte(',')
		}
		writeShape(b, in, posByHandle, visiting)
	}
	b.WriteByte(']')
}
