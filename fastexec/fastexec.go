// Package fastexec is the fast prepared-only executor: no training, no
// Preparable or View nodes, every node a plain PreparedTransformer applied
// over row-partitioned minibatches in parallel. Grounded on
// flow.Dinic's level-graph "build the structure once, reuse it many times"
// split and on core/concurrency_test.go's errgroup-driven fan-out, adapted
// from one-shot max-flow computation to repeated row-batch application.
//
// Its input is the prepared graph exec.Executor.Prepare or
// refexec.Executor.Prepare returns (either the forNewData or forPrepData
// variant) — both are plain dag.DAGStructure values with ds.IsPrepared
// true, containing no Preparable left to train.
package fastexec

import (
	"golang.org/x/sync/errgroup"

	"github.com/katalvlaran/dagflow/dag"
	"github.com/katalvlaran/dagflow/dagerr"
	"github.com/katalvlaran/dagflow/handle"
	"github.com/katalvlaran/dagflow/ioseq"
	"github.com/katalvlaran/dagflow/producer"
)

// Config parameterizes an Executor.
type Config struct {
	// MinibatchSize is the row-partition width; 0 selects
	// ds.MaxMinibatchSize, falling back to a fixed default.
	MinibatchSize int
	// MaxThreads bounds concurrent minibatch workers; 0 means unbounded
	// (errgroup.SetLimit(-1)).
	MaxThreads int
}

// Option configures a Config.
type Option func(*Config)

// WithMinibatchSize overrides the row-partition width.
func WithMinibatchSize(n int) Option { return func(c *Config) { c.MinibatchSize = n } }

// WithMaxThreads bounds concurrent minibatch workers (0 = unbounded).
func WithMaxThreads(n int) Option { return func(c *Config) { c.MaxThreads = n } }

const defaultMinibatchSize = 1024

// Executor applies an all-Prepared DAGStructure to input data, partitioned
// by row range and run across a bounded or unbounded errgroup.
type Executor struct {
	cfg Config
}

// New builds a fast executor from opts.
func New(opts ...Option) *Executor {
	cfg := Config{}
	for _, o := range opts {
		o(&cfg)
	}
	return &Executor{cfg: cfg}
}

// Run requires every non-placeholder, non-generator node in ds to be a
// *producer.Prepared; any Preparable or View causes ErrNotSupported, since
// this executor never trains (I7).
func (e *Executor) Run(ds *dag.DAGStructure, inputs map[handle.Handle]ioseq.Reader, numRows int64) ([]ioseq.Reader, error) {
	if !ds.IsPrepared {
		return nil, dagerr.NotSupportedError("fastexec: graph contains an untrained Preparable or View; use exec or refexec instead")
	}

	n, err := rowCount(ds, inputs, numRows)
	if err != nil {
		return nil, err
	}

	minibatch := e.cfg.MinibatchSize
	if minibatch <= 0 {
		minibatch = ds.MaxMinibatchSize
	}
	if minibatch <= 0 {
		minibatch = defaultMinibatchSize
	}

	values := make([][]interface{}, len(ds.Nodes))
	for _, p := range ds.Placeholders {
		r, ok := inputs[p.Handle()]
		if !ok {
			return nil, dagerr.ShapeMismatchError("fastexec: no input reader supplied for placeholder %q", p.Name())
		}
		col := make([]interface{}, n)
		it := r.Iterator()
		copied, err := it.NextN(col)
		it.Close()
		if err != nil || int64(copied) != n {
			return nil, dagerr.ShapeMismatchError("fastexec: placeholder %q yielded %d rows, expected %d", p.Name(), copied, n)
		}
		values[ds.IndexOf(p.Handle())] = col
	}

	for phase := 0; phase < ds.NumPhases(); phase++ {
		for _, i := range ds.NodesInPhase(phase) {
			node := ds.Nodes[i]
			switch node.Kind() {
			case producer.KindPlaceholder:
				continue // materialized above
			case producer.KindGenerator:
				gen := node.(*producer.Generator)
				col := make([]interface{}, n)
				for r := int64(0); r < n; r++ {
					v, err := gen.Generate(uint64(r))
					if err != nil {
						return nil, dagerr.ExecutionFailure(err)
					}
					col[r] = v
				}
				values[i] = col
			case producer.KindPrepared:
				p := node.(*producer.Prepared)
				col, err := e.applyPartitioned(p, ds.Parents[i], values, n, minibatch)
				if err != nil {
					return nil, err
				}
				values[i] = col
			default:
				return nil, dagerr.NotSupportedError("fastexec: %q is a %v, not a prepared transformer", node.Name(), node.Kind())
			}
		}
	}

	outputs := make([]ioseq.Reader, len(ds.OutputIndices))
	for i, idx := range ds.OutputIndices {
		outputs[i] = ioseq.FromSlice(values[idx])
	}
	return outputs, nil
}

// applyPartitioned splits [0,n) into minibatch-wide row ranges and applies p
// to each range concurrently via errgroup, writing directly into disjoint
// slices of a preallocated result column (no locking needed: each goroutine
// owns a distinct index range).
func (e *Executor) applyPartitioned(p *producer.Prepared, parentIdx []int, values [][]interface{}, n int64, minibatch int) ([]interface{}, error) {
	out := make([]interface{}, n)
	var g errgroup.Group
	if e.cfg.MaxThreads > 0 {
		g.SetLimit(e.cfg.MaxThreads)
	} else {
		g.SetLimit(-1)
	}

	for start := int64(0); start < n; start += int64(minibatch) {
		start := start
		end := start + int64(minibatch)
		if end > n {
			end = n
		}
		g.Go(func() error {
			rows := make([][]interface{}, end-start)
			for r := start; r < end; r++ {
				row := make([]interface{}, len(parentIdx))
				for j, pi := range parentIdx {
					row[j] = values[pi][r]
				}
				rows[r-start] = row
			}
			state := p.NewExecutionState()
			result, err := p.Apply(state, rows)
			if err != nil {
				return dagerr.ExecutionFailure(err)
			}
			if int64(len(result)) != end-start {
				return dagerr.ShapeMismatchError("fastexec: %q returned %d values for %d rows", p.Name(), len(result), end-start)
			}
			copy(out[start:end], result)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func rowCount(ds *dag.DAGStructure, inputs map[handle.Handle]ioseq.Reader, numRows int64) (int64, error) {
	if len(ds.Placeholders) == 0 {
		if numRows <= 0 {
			return 0, dagerr.GraphError("fastexec: numRows must be > 0 for a placeholder-free graph")
		}
		return numRows, nil
	}
	var n int64 = -1
	for _, p := range ds.Placeholders {
		r, ok := inputs[p.Handle()]
		if !ok {
			return 0, dagerr.ShapeMismatchError("fastexec: no input reader supplied for placeholder %q", p.Name())
		}
		if n == -1 {
			n = r.Size64()
		} else if r.Size64() != n {
			return 0, dagerr.ShapeMismatchError("fastexec: placeholder %q has size %d, expected %d", p.Name(), r.Size64(), n)
		}
	}
	return n, nil
}
