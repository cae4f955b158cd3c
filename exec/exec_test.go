package exec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katalvlaran/dagflow/dag"
	"github.com/katalvlaran/dagflow/exec"
	"github.com/katalvlaran/dagflow/handle"
	"github.com/katalvlaran/dagflow/ioseq"
	"github.com/katalvlaran/dagflow/producer"
)

func TestRunBatchesAcrossMultipleBatchSizes(t *testing.T) {
	ph := producer.NewPlaceholder("x", "int")
	doubled := producer.NewPrepared("double", "double-key", []producer.Producer{ph},
		func(_ producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
			out := make([]interface{}, len(rows))
			for i, r := range rows {
				out[i] = r[0].(int) * 2
			}
			return out, nil
		}, 0, nil, false)

	ds, err := dag.Canonicalize([]producer.Producer{ph}, []producer.Producer{doubled})
	require.NoError(t, err)

	inputs := map[handle.Handle]ioseq.Reader{
		ph.Handle(): ioseq.FromSlice([]interface{}{1, 2, 3, 4, 5}),
	}

	e := exec.New(exec.WithBatchSize(2), exec.WithMaxThreads(4), exec.WithMaxConcurrentBatches(2))
	outputs, err := e.Run(ds, inputs, 0)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Equal(t, int64(5), outputs[0].Size64())

	it := outputs[0].Iterator()
	defer it.Close()
	buf := make([]interface{}, 5)
	n, err := it.NextN(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, []interface{}{2, 4, 6, 8, 10}, buf)
}

func TestConstantResultShortCircuit(t *testing.T) {
	ph := producer.NewPlaceholder("x", "int")
	calls := 0
	constant := producer.NewPrepared("answer", "answer-key", []producer.Producer{ph},
		func(_ producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
			calls++
			out := make([]interface{}, len(rows))
			for i := range out {
				out[i] = 99
			}
			return out, nil
		}, 0, nil, true)

	ds, err := dag.Canonicalize([]producer.Producer{ph}, []producer.Producer{constant})
	require.NoError(t, err)

	inputs := map[handle.Handle]ioseq.Reader{
		ph.Handle(): ioseq.FromSlice([]interface{}{1, 2, 3, 4, 5, 6}),
	}

	e := exec.New(exec.WithBatchSize(2))
	outputs, err := e.Run(ds, inputs, 0)
	require.NoError(t, err)
	require.Equal(t, 1, calls, "a constant-result node must be applied exactly once regardless of batch count")

	it := outputs[0].Iterator()
	defer it.Close()
	buf := make([]interface{}, 6)
	_, err = it.NextN(buf)
	require.NoError(t, err)
	for _, v := range buf {
		require.Equal(t, 99, v)
	}
}

func TestRunPropagatesFirstError(t *testing.T) {
	ph := producer.NewPlaceholder("x", "int")
	boom := producer.NewPrepared("boom", "boom-key", []producer.Producer{ph},
		func(_ producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
			return nil, errBoom
		}, 0, nil, false)

	ds, err := dag.Canonicalize([]producer.Producer{ph}, []producer.Producer{boom})
	require.NoError(t, err)

	inputs := map[handle.Handle]ioseq.Reader{
		ph.Handle(): ioseq.FromSlice([]interface{}{1, 2, 3}),
	}
	_, err = exec.New().Run(ds, inputs, 0)
	require.Error(t, err)
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom error = boomError{}

// sumPreparer trains a streaming total over one int parent.
type sumPreparer struct{ sum int }

func (p *sumPreparer) Process(rows [][]interface{}) error {
	for _, r := range rows {
		p.sum += r[0].(int)
	}
	return nil
}

func (p *sumPreparer) Finish(ioseq.Reader) (producer.Producer, producer.Producer, error) {
	total := p.sum
	apply := func(_ producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
		out := make([]interface{}, len(rows))
		for i, r := range rows {
			out[i] = r[0].(int) + total
		}
		return out, nil
	}
	prep := producer.NewPrepared("shift-by-sum", total, nil, apply, 0, nil, false)
	return prep, prep, nil
}

// TestPrepareAssemblesPreparedGraph proves Prepare returns a standalone
// prepared graph: trained over [1,2,3] (sum=6), its forNewData variant
// shifts a fresh batch by the trained sum without re-running training.
func TestPrepareAssemblesPreparedGraph(t *testing.T) {
	ph := producer.NewPlaceholder("x", "int")
	preparable := producer.NewPreparable("sum-shift", "sum-shift-key", []producer.Producer{ph},
		func() producer.Preparer { return &sumPreparer{} }, producer.ModeStream, false)

	ds, err := dag.Canonicalize([]producer.Producer{ph}, []producer.Producer{preparable})
	require.NoError(t, err)

	inputs := map[handle.Handle]ioseq.Reader{
		ph.Handle(): ioseq.FromSlice([]interface{}{1, 2, 3}),
	}

	e := exec.New(exec.WithBatchSize(2))
	forNewData, forPrepData, err := e.Prepare(ds, inputs, 0)
	require.NoError(t, err)
	require.True(t, forNewData.IsPrepared)
	require.True(t, forPrepData.IsPrepared)

	newPh := forNewData.Placeholders[0].(*producer.Placeholder)
	newInputs := map[handle.Handle]ioseq.Reader{
		newPh.Handle(): ioseq.FromSlice([]interface{}{10, 20}),
	}
	outputs, err := e.Run(forNewData, newInputs, 0)
	require.NoError(t, err)
	require.Len(t, outputs, 1)

	it := outputs[0].Iterator()
	defer it.Close()
	buf := make([]interface{}, 2)
	_, err = it.NextN(buf)
	require.NoError(t, err)
	require.Equal(t, []interface{}{16, 26}, buf)
}
