package producer

import (
	"github.com/katalvlaran/dagflow/handle"
	"github.com/katalvlaran/dagflow/ioseq"
)

// Mode declares whether a Preparer can finish from a forward-only stream of
// processed rows (STREAM) or needs to re-read the training inputs during
// Finish (BATCH, e.g. a second statistical pass).
type Mode int

const (
	// ModeStream preparers do not need a replayable input reader.
	ModeStream Mode = iota
	// ModeBatch preparers require a replayable input reader in Finish.
	ModeBatch
)

// Preparer is the per-run object a PreparableTransformer hands out; its
// lifecycle is Process(inputs)* over all training examples, then exactly
// one Finish call.
type Preparer interface {
	// Process folds a batch of training rows (rows[i] holds one example's
	// parent values, in parent order) into the preparer's running
	// statistics. Called strictly in input-row order (never
	// concurrently with another Process or with Finish).
	Process(rows [][]interface{}) error

	// Finish completes preparation. replayable is non-nil only when Mode
	// is ModeBatch; it is a Zip of the parents' full training inputs. It
	// returns the prepared transformer exposed for inference
	// (preparedForNewData) and the one applied over the training data
	// itself (preparedForPreparationData) — these may be the identical
	// instance.
	Finish(replayable ioseq.Reader) (preparedForNewData Producer, preparedForPreparationData Producer, err error)
}

// Preparable is a trainable transformer: parents feed a Preparer across the
// whole training dataset, which then emits a Prepared transformer.
type Preparable struct {
	h           handle.Handle
	name        string
	key         interface{}
	parents     []Producer
	newPreparer func() Preparer
	mode        Mode
	idempotent  bool
	commutative bool
}

// NewPreparable declares a PreparableTransformer. idempotent must be true
// only if preparing twice on identical data is guaranteed to yield equal
// prepared transformers (the reducer's constant-folding rule relies on this
// guarantee and will misbehave if it is declared incorrectly).
func NewPreparable(name string, key interface{}, parents []Producer, newPreparer func() Preparer, mode Mode, idempotent bool) *Preparable {
	return &Preparable{
		h:           handle.New(),
		name:        name,
		key:         key,
		parents:     parents,
		newPreparer: newPreparer,
		mode:        mode,
		idempotent:  idempotent,
	}
}

func (pr *Preparable) Handle() handle.Handle { return pr.h }
func (pr *Preparable) Kind() Kind            { return KindPreparable }
func (pr *Preparable) TypeTag() string       { return "producer.Preparable" }
func (pr *Preparable) Name() string          { return pr.name }
func (pr *Preparable) Inputs() []Producer    { return pr.parents }
func (pr *Preparable) Mode() Mode            { return pr.mode }
func (pr *Preparable) Idempotent() bool      { return pr.idempotent }

// NewPreparer allocates a fresh Preparer for one training run.
func (pr *Preparable) NewPreparer() Preparer { return pr.newPreparer() }

func (pr *Preparable) WithInputs(inputs []Producer) Producer {
	clone := *pr
	clone.parents = inputs
	return &clone
}

func (pr *Preparable) Validate() error { return nil }

func (pr *Preparable) Equal(other Producer) bool {
	op, ok := other.(*Preparable)
	if !ok {
		return false
	}
	return op.idempotent == pr.idempotent &&
		op.mode == pr.mode &&
		valueEqual(op.key, pr.key) &&
		EqualInputs(pr.parents, op.parents, pr.commutative)
}

func (pr *Preparable) CommutativeInputs() bool { return pr.commutative }

// MarkCommutative returns a copy of pr with CommutativeInputs() == true.
func (pr *Preparable) MarkCommutative() *Preparable {
	clone := *pr
	clone.commutative = true
	return &clone
}

// AlwaysConstant reports false: a Preparable's constancy is always derived
// by the reducer from whether its idempotent preparer, fed constant inputs,
// actually produces a constant prepared form (see reduce's constant-folding
// rule); it is never declared directly.
func (pr *Preparable) AlwaysConstant() bool { return false }
func (pr *Preparable) Specificity() int     { return 40 }
