// Package exec is the batched multithreaded executor: the scheduler that
// partitions a run into fixed-size batches and drives each node's work
// across a bounded worker pool, per §4.5's node kinds (ObjectIteratorNode,
// GeneratorNode, PreparedTransformerNode, PreparableTransformerNode,
// BatchAppendNode, TransformerViewNode).
//
// Every node runs in its own goroutine, reading its parents' batches off a
// per-node circular ring buffer of depth K and publishing its own batches to
// its own ring buffer. A ring buffer slot holds one batch until every
// subscriber (its children, plus a BatchAppendNode goroutine for any node
// that is also a DAG output) has consumed it, at which point the producer
// may reuse the slot for a later batch — this is the bounded input buffer
// and per-node output pending-count back-pressure: a node can run at most K
// batches ahead of its slowest consumer, and a slow consumer stalls its
// producer rather than the other way around. Within a node, batch
// computation is additionally bounded by a semaphore.Weighted(K) dispatched
// through a shared ants worker pool.
package exec

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/katalvlaran/dagflow/dag"
	"github.com/katalvlaran/dagflow/dagerr"
	"github.com/katalvlaran/dagflow/handle"
	"github.com/katalvlaran/dagflow/internal/dagmetrics"
	"github.com/katalvlaran/dagflow/ioseq"
	"github.com/katalvlaran/dagflow/producer"
	"github.com/katalvlaran/dagflow/storage"
)

// defaultBatchSize is B, per §4.5.
const defaultBatchSize = 5000

// Config parameterizes one executor instance.
type Config struct {
	BatchSize            int
	MaxConcurrentBatches int // K
	MaxThreads           int
	StorageFactory       storage.Factory
	Logger               *zap.Logger
	// Metrics is optional; a nil Recorder (the default) records nothing.
	Metrics *dagmetrics.Recorder
}

// Option configures a Config, mirroring bfs.Option/builder.GraphOption.
type Option func(*Config)

// WithBatchSize overrides B (default 5000).
func WithBatchSize(n int) Option { return func(c *Config) { c.BatchSize = n } }

// WithMaxConcurrentBatches overrides K (default 2x logical cores).
func WithMaxConcurrentBatches(k int) Option { return func(c *Config) { c.MaxConcurrentBatches = k } }

// WithMaxThreads overrides the worker pool size (default 2x logical cores).
func WithMaxThreads(n int) Option { return func(c *Config) { c.MaxThreads = n } }

// WithStorageFactory overrides the BatchAppendNode writer factory used when
// materializing DAG outputs (default storage.HEAP).
func WithStorageFactory(f storage.Factory) Option { return func(c *Config) { c.StorageFactory = f } }

// WithLogger overrides the scheduler's structured logger (default no-op).
func WithLogger(l *zap.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithMetrics attaches a Prometheus recorder; nil (the default) disables
// instrumentation entirely.
func WithMetrics(m *dagmetrics.Recorder) Option { return func(c *Config) { c.Metrics = m } }

func defaultConfig() Config {
	cores := runtime.NumCPU()
	return Config{
		BatchSize:            defaultBatchSize,
		MaxConcurrentBatches: 2 * cores,
		MaxThreads:           2 * cores,
		StorageFactory:       storage.NewFactory(storage.HEAP),
		Logger:               zap.NewNop(),
	}
}

// Executor is the batched multithreaded executor. Every field used across a
// run lives in a fresh runState allocated inside Run/Prepare, matching §5's
// "no cross-run global mutable state".
type Executor struct {
	cfg Config
}

// New builds an Executor from opts.
func New(opts ...Option) *Executor {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Executor{cfg: cfg}
}

type trainedForms struct {
	forNewData  producer.Producer
	forPrepData producer.Producer
}

// ringSlot holds one published batch awaiting its remaining subscribers.
type ringSlot struct {
	batch   int // -1 when empty
	data    []interface{}
	pending int
}

// ringBuffer is one node's bounded circular output: at most k published
// batches may sit unconsumed by every subscriber at once. Every subscriber
// reads the same slot (no per-subscriber copy), so one buffer per producer
// node realizes the engine's depth-K input buffer for every consumer at
// once.
type ringBuffer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	k       int
	slots   []ringSlot
	aborted bool
}

func newRingBuffer(k int) *ringBuffer {
	if k < 1 {
		k = 1
	}
	rb := &ringBuffer{k: k, slots: make([]ringSlot, k)}
	rb.cond = sync.NewCond(&rb.mu)
	for i := range rb.slots {
		rb.slots[i].batch = -1
	}
	return rb
}

// publish blocks until slot b%k is free (its previous occupant fully
// consumed), then stores data for batch b with subscribers pending readers.
// Returns false if the run was aborted before the slot became available.
func (rb *ringBuffer) publish(b int, data []interface{}, subscribers int) bool {
	if subscribers <= 0 {
		return true
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()
	slot := b % rb.k
	for rb.slots[slot].batch != -1 && !rb.aborted {
		rb.cond.Wait()
	}
	if rb.aborted {
		return false
	}
	rb.slots[slot] = ringSlot{batch: b, data: data, pending: subscribers}
	rb.cond.Broadcast()
	return true
}

// consume blocks until batch b is published, returns its data, and
// decrements the slot's pending-reader count; once it reaches zero the slot
// is freed for the producer to reuse.
func (rb *ringBuffer) consume(b int) ([]interface{}, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	slot := b % rb.k
	for rb.slots[slot].batch != b && !rb.aborted {
		rb.cond.Wait()
	}
	if rb.aborted {
		return nil, false
	}
	data := rb.slots[slot].data
	rb.slots[slot].pending--
	if rb.slots[slot].pending <= 0 {
		rb.slots[slot] = ringSlot{batch: -1}
	}
	rb.cond.Broadcast()
	return data, true
}

func (rb *ringBuffer) abort() {
	rb.mu.Lock()
	rb.aborted = true
	rb.mu.Unlock()
	rb.cond.Broadcast()
}

// runState is allocated fresh per Run/Prepare call, grounded on bfs.go's
// walker struct (a per-call, not per-Executor, mutable scratchpad).
type runState struct {
	cfg       Config
	ds        *dag.DAGStructure
	n         int64
	batchSize int
	numBatch  int
	pool      *ants.Pool
	firstErr  atomic.Pointer[error]

	rings []*ringBuffer // one per node, indexed by ds.Nodes position
	subs  []int         // subscriber count per node: non-View children + (1 if output)

	trained      map[int]trainedForms
	trainedMu    sync.Mutex
	trainedReady []chan struct{} // non-nil only for KindPreparable indices

	abortCh   chan struct{}
	abortOnce sync.Once

	outReaders []ioseq.Reader // one per ds.OutputIndices entry

	wg  sync.WaitGroup
	log *zap.Logger
	met *dagmetrics.Recorder
}

func (rs *runState) checkErr() error {
	if p := rs.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}

// setErr records the first error and aborts every ring buffer and the
// shared abort channel, waking any goroutine blocked waiting on a parent or
// on a Preparable's trained form so the run can unwind instead of
// deadlocking.
func (rs *runState) setErr(err error) {
	if err == nil {
		return
	}
	if rs.firstErr.CompareAndSwap(nil, &err) {
		rs.abortOnce.Do(func() { close(rs.abortCh) })
		for _, rb := range rs.rings {
			if rb != nil {
				rb.abort()
			}
		}
	}
}

func (rs *runState) aborted() bool {
	select {
	case <-rs.abortCh:
		return true
	default:
		return false
	}
}

func (rs *runState) batchBounds(b int) (start, end int64) {
	start = int64(b) * int64(rs.batchSize)
	end = start + int64(rs.batchSize)
	if end > rs.n {
		end = rs.n
	}
	return start, end
}

// Run executes ds over the supplied placeholder inputs, returning one
// Reader per ds.Outputs entry, materialized through cfg.StorageFactory.
func (e *Executor) Run(ds *dag.DAGStructure, inputs map[handle.Handle]ioseq.Reader, numRows int64) ([]ioseq.Reader, error) {
	rs, err := e.runAllPhases(ds, inputs, numRows)
	if err != nil {
		return nil, err
	}
	return rs.outReaders, nil
}

// Prepare runs ds exactly like Run (training every Preparable it contains)
// and, instead of materializing outputs, assembles and returns the prepared
// graph pair: a copy of ds with every Preparable replaced by its
// forNewData form, and a copy with every Preparable replaced by its
// forPrepData form. This is the preparation-run entry point: the primary
// deliverable a caller hands to fastexec for repeated inference.
func (e *Executor) Prepare(ds *dag.DAGStructure, inputs map[handle.Handle]ioseq.Reader, numRows int64) (forNewData *dag.DAGStructure, forPrepData *dag.DAGStructure, err error) {
	rs, err := e.runAllPhases(ds, inputs, numRows)
	if err != nil {
		return nil, nil, err
	}
	trained := make(map[int]dag.TrainedForm, len(rs.trained))
	for i, t := range rs.trained {
		trained[i] = dag.TrainedForm{ForNewData: t.forNewData, ForPrepData: t.forPrepData}
	}
	return dag.AssemblePrepared(ds, trained)
}

// runAllPhases spawns one goroutine per node plus one BatchAppendNode
// goroutine per DAG output, waits for all of them, and returns the
// populated runState (or the first error any of them hit).
func (e *Executor) runAllPhases(ds *dag.DAGStructure, inputs map[handle.Handle]ioseq.Reader, numRows int64) (*runState, error) {
	n, err := rowCount(ds, inputs, numRows)
	if err != nil {
		return nil, err
	}
	batchSize := e.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	numBatch := int((n + int64(batchSize) - 1) / int64(batchSize))
	if numBatch == 0 {
		numBatch = 1
	}

	pool, err := ants.NewPool(maxInt(e.cfg.MaxThreads, 1))
	if err != nil {
		return nil, dagerr.ExecutionFailure(err)
	}
	defer pool.Release()

	k := maxInt(e.cfg.MaxConcurrentBatches, 1)

	rs := &runState{
		cfg:          e.cfg,
		ds:           ds,
		n:            n,
		batchSize:    batchSize,
		numBatch:     numBatch,
		pool:         pool,
		rings:        make([]*ringBuffer, len(ds.Nodes)),
		subs:         make([]int, len(ds.Nodes)),
		trained:      make(map[int]trainedForms),
		trainedReady: make([]chan struct{}, len(ds.Nodes)),
		abortCh:      make(chan struct{}),
		outReaders:   make([]ioseq.Reader, len(ds.OutputIndices)),
		log:          e.cfg.Logger,
		met:          e.cfg.Metrics,
	}
	if rs.log == nil {
		rs.log = zap.NewNop()
	}

	for i, node := range ds.Nodes {
		rs.rings[i] = newRingBuffer(k)
		for _, c := range ds.Children[i] {
			// A View reads its parent's trained form, never its ring buffer.
			if ds.Nodes[c].Kind() != producer.KindView {
				rs.subs[i]++
			}
		}
		if node.Kind() == producer.KindPreparable {
			rs.trainedReady[i] = make(chan struct{})
		}
	}
	for _, idx := range ds.OutputIndices {
		rs.subs[idx]++
	}

	for i, node := range ds.Nodes {
		i, node := i, node
		rs.wg.Add(1)
		go func() {
			defer rs.wg.Done()
			rs.runNode(i, node, inputs)
		}()
	}
	for slot, idx := range ds.OutputIndices {
		rs.startBatchAppend(slot, idx)
	}

	rs.wg.Wait()
	if err := rs.checkErr(); err != nil {
		return nil, err
	}
	return rs, nil
}

func (rs *runState) runNode(i int, node producer.Producer, inputs map[handle.Handle]ioseq.Reader) {
	switch node.Kind() {
	case producer.KindPlaceholder:
		rs.runPlaceholder(i, inputs)
	case producer.KindGenerator:
		rs.runGenerator(i)
	case producer.KindPreparable:
		rs.runPreparable(i)
	case producer.KindView:
		rs.runView(i)
	case producer.KindPrepared:
		rs.runPrepared(i)
	default:
		rs.setErr(dagerr.GraphError("exec: unrecognized producer kind %v for %q", node.Kind(), node.Name()))
	}
}

// runPlaceholder is the ObjectIteratorNode: a single reader Iterator is not
// safe to drive from multiple goroutines, so batches are read sequentially
// off the node's own Iterator and published to its ring buffer in order.
func (rs *runState) runPlaceholder(i int, inputs map[handle.Handle]ioseq.Reader) {
	node := rs.ds.Nodes[i]
	r, ok := inputs[node.Handle()]
	if !ok {
		rs.setErr(dagerr.ShapeMismatchError("exec: no input reader supplied for placeholder %q", node.Name()))
		return
	}
	it := r.Iterator()
	defer it.Close()

	for b := 0; b < rs.numBatch; b++ {
		if rs.aborted() {
			return
		}
		start, end := rs.batchBounds(b)
		buf := make([]interface{}, end-start)
		copied, err := it.NextN(buf)
		if err != nil || int64(copied) != end-start {
			rs.setErr(dagerr.ShapeMismatchError("exec: placeholder %q batch %d: got %d rows, expected %d", node.Name(), b, copied, end-start))
			return
		}
		if ok := rs.rings[i].publish(b, buf, rs.subs[i]); !ok {
			return
		}
	}
}

// runGenerator is the GeneratorNode: pure functions of row index, so every
// batch can be computed concurrently, gated by the node's own
// semaphore.Weighted(K) and dispatched through the shared ants pool; each
// batch publishes to the ring buffer as soon as it's ready, letting children
// start consuming before later batches finish.
func (rs *runState) runGenerator(i int) {
	node := rs.ds.Nodes[i].(*producer.Generator)
	sem := semaphore.NewWeighted(int64(maxInt(rs.cfg.MaxConcurrentBatches, 1)))
	var wg sync.WaitGroup
	ctx := context.Background()

	for b := 0; b < rs.numBatch; b++ {
		if rs.aborted() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			rs.setErr(dagerr.ExecutionFailure(err))
			break
		}
		wg.Add(1)
		b := b
		task := func() {
			defer wg.Done()
			defer sem.Release(1)
			if rs.aborted() {
				return
			}
			start, end := rs.batchBounds(b)
			buf := make([]interface{}, end-start)
			for r := start; r < end; r++ {
				v, err := node.Generate(uint64(r))
				if err != nil {
					rs.setErr(dagerr.ExecutionFailure(err))
					return
				}
				buf[r-start] = v
			}
			rs.rings[i].publish(b, buf, rs.subs[i])
		}
		if err := rs.pool.Submit(task); err != nil {
			sem.Release(1)
			wg.Done()
			rs.setErr(dagerr.ExecutionFailure(err))
			break
		}
	}
	wg.Wait()
}

// gatherRows consumes batch b from every one of parentIdx's ring buffers,
// blocking until each parent has published it — this is where cross-node
// pipelining actually happens: a node's batch b starts as soon as every
// parent's batch b is ready, not once the parent has finished entirely.
func (rs *runState) gatherRows(parentIdx []int, b int) ([][]interface{}, bool) {
	if len(parentIdx) == 0 {
		start, end := rs.batchBounds(b)
		return make([][]interface{}, end-start), true
	}
	cols := make([][]interface{}, len(parentIdx))
	for j, pi := range parentIdx {
		data, ok := rs.rings[pi].consume(b)
		if !ok {
			return nil, false
		}
		cols[j] = data
	}
	rows := make([][]interface{}, len(cols[0]))
	for r := range rows {
		row := make([]interface{}, len(parentIdx))
		for j := range parentIdx {
			row[j] = cols[j][r]
		}
		rows[r] = row
	}
	return rows, true
}

// runPreparable is the PreparableTransformerNode: batches are accepted
// strictly in order (the "lock-free sequential-dispatch guard" in §4.5 is
// realized here simply by not consuming a batch's parent rows until the
// previous one has returned), with each batch's rows cached locally for
// reuse once training finishes. After the last batch, PreparationFinishTask
// runs, producing both prepared forms; trainedReady is then closed so any
// waiting View can proceed, and this node's own per-batch value (its
// application of preparedForPreparationData over its own training rows) is
// computed — batch-parallel, from the cache, since the preparer is now
// immutable.
func (rs *runState) runPreparable(i int) {
	node := rs.ds.Nodes[i].(*producer.Preparable)
	parentIdx := rs.ds.Parents[i]
	preparer := node.NewPreparer()
	cached := make([][][]interface{}, rs.numBatch)

	for b := 0; b < rs.numBatch; b++ {
		if rs.aborted() {
			return
		}
		rows, ok := rs.gatherRows(parentIdx, b)
		if !ok {
			return
		}
		cached[b] = rows
		if err := preparer.Process(rows); err != nil {
			rs.setErr(dagerr.ExecutionFailure(err))
			return
		}
	}

	var replayable ioseq.Reader
	if node.Mode() == producer.ModeBatch {
		cols := make([]ioseq.Reader, len(parentIdx))
		for j := range parentIdx {
			var col []interface{}
			for _, rows := range cached {
				for _, row := range rows {
					col = append(col, row[j])
				}
			}
			cols[j] = ioseq.FromSlice(col)
		}
		replayable = ioseq.Zip(cols...)
	}
	fresh, prep, err := preparer.Finish(replayable)
	if err != nil {
		rs.setErr(dagerr.ExecutionFailure(err))
		return
	}
	rs.trainedMu.Lock()
	rs.trained[i] = trainedForms{forNewData: fresh, forPrepData: prep}
	rs.trainedMu.Unlock()
	if ch := rs.trainedReady[i]; ch != nil {
		close(ch)
	}
	rs.log.Debug("exec: preparable finished training", zap.String("name", node.Name()))

	prepApply, ok := prep.(*producer.Prepared)
	if !ok {
		rs.setErr(dagerr.GraphError("exec: %q's preparer.Finish returned a non-Prepared producer for the preparation-data form", node.Name()))
		return
	}
	rs.applyBatchedFromCache(i, prepApply, cached)
}

// runView is the TransformerViewNode: it subscribes to no per-row stream;
// once its parent preparable has finished (signaled via trainedReady),
// Compute runs exactly once and the resulting constant is broadcast as a
// cached tile per batch.
func (rs *runState) runView(i int) {
	node := rs.ds.Nodes[i].(*producer.View)
	parentIdx := rs.ds.Parents[i][0]

	select {
	case <-rs.trainedReady[parentIdx]:
	case <-rs.abortCh:
		return
	}
	rs.trainedMu.Lock()
	t := rs.trained[parentIdx]
	rs.trainedMu.Unlock()

	val, err := node.Compute(t.forNewData)
	if err != nil {
		rs.setErr(dagerr.ExecutionFailure(err))
		return
	}
	for b := 0; b < rs.numBatch; b++ {
		if rs.aborted() {
			return
		}
		start, end := rs.batchBounds(b)
		tile := make([]interface{}, end-start)
		for r := range tile {
			tile[r] = val
		}
		if ok := rs.rings[i].publish(b, tile, rs.subs[i]); !ok {
			return
		}
	}
}

// runPrepared is the PreparedTransformerNode. A constant-result node
// computes its value once from batch 0 and broadcasts a (trimmed) cached
// tile for the rest, per §4.5's constant-result short-circuit — but every
// batch is still gathered (and so drained) from its parents, since a
// ring-buffer slot is only freed once every subscriber has consumed it.
func (rs *runState) runPrepared(i int) {
	node, ok := rs.ds.Nodes[i].(*producer.Prepared)
	if !ok {
		rs.setErr(dagerr.NotSupportedError("exec: %q must be inlined before execution", rs.ds.Nodes[i].Name()))
		return
	}
	parentIdx := rs.ds.Parents[i]

	if node.AlwaysConstant() {
		var constVal interface{}
		haveConst := false
		for b := 0; b < rs.numBatch; b++ {
			if rs.aborted() {
				return
			}
			rows, ok := rs.gatherRows(parentIdx, b)
			if !ok {
				return
			}
			if !haveConst {
				if len(rows) == 0 {
					rs.setErr(dagerr.GraphError("exec: constant-result %q has no rows to derive its value from", node.Name()))
					return
				}
				out, err := node.Apply(node.NewExecutionState(), rows[:1])
				if err != nil {
					rs.setErr(dagerr.ExecutionFailure(err))
					return
				}
				if len(out) != 1 {
					rs.setErr(dagerr.GraphError("exec: constant-result %q returned %d values, expected 1", node.Name(), len(out)))
					return
				}
				constVal = out[0]
				haveConst = true
			}
			tile := make([]interface{}, len(rows))
			for r := range tile {
				tile[r] = constVal
			}
			if ok := rs.rings[i].publish(b, tile, rs.subs[i]); !ok {
				return
			}
		}
		rs.log.Debug("exec: constant-result short-circuit", zap.String("name", node.Name()))
		return
	}

	rs.applyBatchedStreaming(i, node, parentIdx)
}

// applyBatchedStreaming gathers each batch from the node's parents'
// ring buffers (blocking only on that batch's own inputs, not on the
// parents' later batches) and dispatches the node's own Apply concurrently,
// bounded by a per-node semaphore.Weighted(K).
func (rs *runState) applyBatchedStreaming(i int, node *producer.Prepared, parentIdx []int) {
	sem := semaphore.NewWeighted(int64(maxInt(rs.cfg.MaxConcurrentBatches, 1)))
	var wg sync.WaitGroup
	ctx := context.Background()

	for b := 0; b < rs.numBatch; b++ {
		if rs.aborted() {
			break
		}
		rows, ok := rs.gatherRows(parentIdx, b)
		if !ok {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			rs.setErr(dagerr.ExecutionFailure(err))
			break
		}
		wg.Add(1)
		b, rows := b, rows
		task := func() {
			defer wg.Done()
			defer sem.Release(1)
			started := time.Now()
			state := node.NewExecutionState()
			out, err := node.Apply(state, rows)
			if err != nil {
				rs.met.ObserveError("PreparedTransformerNode")
				rs.setErr(dagerr.ExecutionFailure(err))
				return
			}
			if len(out) != len(rows) {
				rs.met.ObserveError("PreparedTransformerNode")
				rs.setErr(dagerr.ShapeMismatchError("exec: %q returned %d values for %d rows in batch %d", node.Name(), len(out), len(rows), b))
				return
			}
			rs.met.ObserveBatch("PreparedTransformerNode", time.Since(started).Seconds())
			rs.rings[i].publish(b, out, rs.subs[i])
		}
		if err := rs.pool.Submit(task); err != nil {
			sem.Release(1)
			wg.Done()
			rs.setErr(dagerr.ExecutionFailure(err))
			break
		}
	}
	wg.Wait()
}

// applyBatchedFromCache is applyBatchedStreaming's counterpart for a
// Preparable's own post-training application: rows are already gathered
// (cached during the training pass), so no further ring-buffer consumption
// from parents is needed.
func (rs *runState) applyBatchedFromCache(i int, node *producer.Prepared, cached [][][]interface{}) {
	if node.AlwaysConstant() {
		if len(cached) == 0 || len(cached[0]) == 0 {
			rs.setErr(dagerr.GraphError("exec: constant-result %q has no rows to derive its value from", node.Name()))
			return
		}
		out, err := node.Apply(node.NewExecutionState(), cached[0][:1])
		if err != nil {
			rs.setErr(dagerr.ExecutionFailure(err))
			return
		}
		if len(out) != 1 {
			rs.setErr(dagerr.GraphError("exec: constant-result %q returned %d values, expected 1", node.Name(), len(out)))
			return
		}
		for b := 0; b < rs.numBatch; b++ {
			if rs.aborted() {
				return
			}
			tile := make([]interface{}, len(cached[b]))
			for r := range tile {
				tile[r] = out[0]
			}
			if ok := rs.rings[i].publish(b, tile, rs.subs[i]); !ok {
				return
			}
		}
		rs.log.Debug("exec: constant-result short-circuit", zap.String("name", node.Name()))
		return
	}

	sem := semaphore.NewWeighted(int64(maxInt(rs.cfg.MaxConcurrentBatches, 1)))
	var wg sync.WaitGroup
	ctx := context.Background()

	for b := 0; b < rs.numBatch; b++ {
		if rs.aborted() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			rs.setErr(dagerr.ExecutionFailure(err))
			break
		}
		wg.Add(1)
		b := b
		task := func() {
			defer wg.Done()
			defer sem.Release(1)
			started := time.Now()
			rows := cached[b]
			state := node.NewExecutionState()
			out, err := node.Apply(state, rows)
			if err != nil {
				rs.met.ObserveError("PreparedTransformerNode")
				rs.setErr(dagerr.ExecutionFailure(err))
				return
			}
			if len(out) != len(rows) {
				rs.met.ObserveError("PreparedTransformerNode")
				rs.setErr(dagerr.ShapeMismatchError("exec: %q returned %d values for %d rows in batch %d", node.Name(), len(out), len(rows), b))
				return
			}
			rs.met.ObserveBatch("PreparedTransformerNode", time.Since(started).Seconds())
			rs.rings[i].publish(b, out, rs.subs[i])
		}
		if err := rs.pool.Submit(task); err != nil {
			sem.Release(1)
			wg.Done()
			rs.setErr(dagerr.ExecutionFailure(err))
			break
		}
	}
	wg.Wait()
}

// startBatchAppend is the BatchAppendNode: it drains node nodeIdx's ring
// buffer in batch order and writes each batch through cfg.StorageFactory,
// exercising the storage seam on the path every caller observes. It counts
// as one of nodeIdx's ring-buffer subscribers.
func (rs *runState) startBatchAppend(slot, nodeIdx int) {
	rs.wg.Add(1)
	go func() {
		defer rs.wg.Done()
		w, err := rs.cfg.StorageFactory.NewWriter()
		if err != nil {
			rs.setErr(err)
			return
		}
		for b := 0; b < rs.numBatch; b++ {
			data, ok := rs.rings[nodeIdx].consume(b)
			if !ok {
				return
			}
			if len(data) == 0 {
				continue
			}
			if err := w.WriteBatch(data, 0, len(data)); err != nil {
				rs.setErr(err)
				return
			}
		}
		if err := w.Close(); err != nil {
			rs.setErr(err)
			return
		}
		r, err := w.CreateReader()
		if err != nil {
			rs.setErr(err)
			return
		}
		rs.outReaders[slot] = r
	}()
}

func rowCount(ds *dag.DAGStructure, inputs map[handle.Handle]ioseq.Reader, numRows int64) (int64, error) {
	if len(ds.Placeholders) == 0 {
		if numRows <= 0 {
			return 0, dagerr.GraphError("exec: numRows must be > 0 for a placeholder-free graph")
		}
		return numRows, nil
	}
	var n int64 = -1
	for _, p := range ds.Placeholders {
		r, ok := inputs[p.Handle()]
		if !ok {
			return 0, dagerr.ShapeMismatchError("exec: no input reader supplied for placeholder %q", p.Name())
		}
		if n == -1 {
			n = r.Size64()
		} else if r.Size64() != n {
			return 0, dagerr.ShapeMismatchError("exec: placeholder %q has size %d, expected %d", p.Name(), r.Size64(), n)
		}
	}
	return n, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
