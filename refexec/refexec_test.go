package refexec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katalvlaran/dagflow/dag"
	"github.com/katalvlaran/dagflow/handle"
	"github.com/katalvlaran/dagflow/ioseq"
	"github.com/katalvlaran/dagflow/producer"
	"github.com/katalvlaran/dagflow/refexec"
)

// meanPreparer trains a streaming mean over one f64 parent and centers each
// training row by it.
type meanPreparer struct {
	sum   float64
	count int
}

func (p *meanPreparer) Process(rows [][]interface{}) error {
	for _, r := range rows {
		p.sum += r[0].(float64)
		p.count++
	}
	return nil
}

func (p *meanPreparer) Finish(ioseq.Reader) (producer.Producer, producer.Producer, error) {
	mean := p.sum / float64(p.count)
	apply := func(_ producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
		out := make([]interface{}, len(rows))
		for i, r := range rows {
			out[i] = r[0].(float64) - mean
		}
		return out, nil
	}
	prep := producer.NewPrepared("center-apply", mean, nil, apply, 0, nil, false)
	return prep, prep, nil
}

func meanFromPrepared(p producer.Producer) (interface{}, error) {
	prep := p.(*producer.Prepared)
	out, err := prep.Apply(prep.NewExecutionState(), [][]interface{}{{0.0}})
	if err != nil {
		return nil, err
	}
	return -out[0].(float64), nil
}

func buildCenteringGraph(t *testing.T) (*dag.DAGStructure, *producer.Placeholder) {
	t.Helper()
	ph := producer.NewPlaceholder("x", "f64")
	preparable := producer.NewPreparable("center", "center-key", []producer.Producer{ph},
		func() producer.Preparer { return &meanPreparer{} }, producer.ModeStream, false)
	view := producer.NewView("mean", "mean-key", preparable, meanFromPrepared)

	ds, err := dag.Canonicalize([]producer.Producer{ph}, []producer.Producer{preparable, view})
	require.NoError(t, err)
	return ds, ph
}

func TestRunCentersAndExposesMean(t *testing.T) {
	ds, ph := buildCenteringGraph(t)
	inputs := map[handle.Handle]ioseq.Reader{
		ph.Handle(): ioseq.FromSlice([]interface{}{1.0, 2.0, 3.0}),
	}

	outputs, err := refexec.New().Run(ds, inputs, 0)
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	centeredIt := outputs[0].Iterator()
	defer centeredIt.Close()
	buf := make([]interface{}, 3)
	_, err = centeredIt.NextN(buf)
	require.NoError(t, err)
	require.InDelta(t, -1.0, buf[0].(float64), 1e-9)
	require.InDelta(t, 0.0, buf[1].(float64), 1e-9)
	require.InDelta(t, 1.0, buf[2].(float64), 1e-9)

	meanIt := outputs[1].Iterator()
	defer meanIt.Close()
	v, err := meanIt.Next()
	require.NoError(t, err)
	require.InDelta(t, 2.0, v.(float64), 1e-9)
}

func TestRunRejectsMismatchedPlaceholderSize(t *testing.T) {
	ph := producer.NewPlaceholder("x", "f64")
	ph2 := producer.NewPlaceholder("y", "f64")
	add := producer.NewPrepared("add", "add-key", []producer.Producer{ph, ph2},
		func(_ producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
			out := make([]interface{}, len(rows))
			for i, r := range rows {
				out[i] = r[0].(float64) + r[1].(float64)
			}
			return out, nil
		}, 0, nil, false)

	ds, err := dag.Canonicalize([]producer.Producer{ph, ph2}, []producer.Producer{add})
	require.NoError(t, err)

	inputs := map[handle.Handle]ioseq.Reader{
		ph.Handle():  ioseq.FromSlice([]interface{}{1.0, 2.0}),
		ph2.Handle(): ioseq.FromSlice([]interface{}{1.0}),
	}
	_, err = refexec.New().Run(ds, inputs, 0)
	require.Error(t, err)
}

// TestPrepareAssemblesPreparedGraph proves Prepare's prepared graph is a
// standalone, reusable deliverable: trained once over [1.0, 2.0, 3.0], its
// forNewData variant applies a fresh input ([10.0]) through the trained
// centering transformer without re-training.
func TestPrepareAssemblesPreparedGraph(t *testing.T) {
	ds, ph := buildCenteringGraph(t)
	inputs := map[handle.Handle]ioseq.Reader{
		ph.Handle(): ioseq.FromSlice([]interface{}{1.0, 2.0, 3.0}),
	}

	forNewData, forPrepData, err := refexec.New().Prepare(ds, inputs, 0)
	require.NoError(t, err)
	require.True(t, forNewData.IsPrepared)
	require.True(t, forPrepData.IsPrepared)

	newPh := forNewData.Placeholders[0].(*producer.Placeholder)
	newInputs := map[handle.Handle]ioseq.Reader{
		newPh.Handle(): ioseq.FromSlice([]interface{}{10.0}),
	}
	outputs, err := refexec.New().Run(forNewData, newInputs, 0)
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	centeredIt := outputs[0].Iterator()
	defer centeredIt.Close()
	v, err := centeredIt.Next()
	require.NoError(t, err)
	require.InDelta(t, 8.0, v.(float64), 1e-9)

	meanIt := outputs[1].Iterator()
	defer meanIt.Close()
	m, err := meanIt.Next()
	require.NoError(t, err)
	require.InDelta(t, 2.0, m.(float64), 1e-9)
}
