package fastexec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katalvlaran/dagflow/dag"
	"github.com/katalvlaran/dagflow/dagerr"
	"github.com/katalvlaran/dagflow/fastexec"
	"github.com/katalvlaran/dagflow/handle"
	"github.com/katalvlaran/dagflow/ioseq"
	"github.com/katalvlaran/dagflow/producer"
)

func TestRunAppliesPreparedGraphInParallel(t *testing.T) {
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
	require.True(t, ds.IsPrepared)

	inputs := map[handle.Handle]ioseq.Reader{
		ph.Handle(): ioseq.FromSlice([]interface{}{1, 2, 3, 4, 5, 6, 7}),
	}

	outputs, err := fastexec.New(fastexec.WithMinibatchSize(2)).Run(ds, inputs, 0)
	require.NoError(t, err)
	require.Equal(t, int64(7), outputs[0].Size64())

	it := outputs[0].Iterator()
	defer it.Close()
	buf := make([]interface{}, 7)
	_, err = it.NextN(buf)
	require.NoError(t, err)
	require.Equal(t, []interface{}{2, 4, 6, 8, 10, 12, 14}, buf)
}

func TestRunRejectsUntrainedGraph(t *testing.T) {
	ph := producer.NewPlaceholder("x", "int")
	preparable := producer.NewPreparable("noop", "noop-key", []producer.Producer{ph},
		func() producer.Preparer { return nil }, producer.ModeStream, false)

	ds, err := dag.Canonicalize([]producer.Producer{ph}, []producer.Producer{preparable})
	require.NoError(t, err)
	require.False(t, ds.IsPrepared)

	_, err = fastexec.New().Run(ds, nil, 0)
	require.Error(t, err)
	require.True(t, dagerr.Is(err, dagerr.ErrNotSupported))
}
