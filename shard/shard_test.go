package shard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhiqiangxu/blockstm"
)

func TestPartition(t *testing.T) {
	ranges, err := Partition(10, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []Range{
		{Round: 0, Shard: 0, Start: 0, End: 3},
		{Round: 0, Shard: 1, Start: 3, End: 6},
		{Round: 1, Shard: 0, Start: 6, End: 8},
		{Round: 1, Shard: 1, Start: 8, End: 10},
	}, ranges)

	ranges, err = Partition(1, 1, 3)
	require.NoError(t, err)
	require.Len(t, ranges, 3)
	assert.Equal(t, 1, ranges[0].End)
	assert.Equal(t, ranges[1].Start, ranges[1].End)

	_, err = Partition(10, 0, 2)
	assert.Error(t, err)
}

func TestConcatenate(t *testing.T) {
	out := func(n int) []blockstm.TxnOutput[string, int] {
		outputs := make([]blockstm.TxnOutput[string, int], n)
		for i := range outputs {
			outputs[i] = blockstm.TxnOutput[string, int]{Index: i, Output: n}
		}
		return outputs
	}
	results := []Result[string, int]{
		{Round: 1, Shard: 0, Outputs: out(1)},
		{Round: 0, Shard: 1, Outputs: out(2)},
		{Round: 0, Shard: 0, Outputs: out(3)},
	}

	outputs, err := Concatenate(results)
	require.NoError(t, err)
	require.Len(t, outputs, 6)
	for i, o := range outputs {
		assert.Equal(t, i, o.Index)
	}
	assert.Equal(t, []interface{}{3, 3, 3, 2, 2, 1}, []interface{}{
		outputs[0].Output, outputs[1].Output, outputs[2].Output,
		outputs[3].Output, outputs[4].Output, outputs[5].Output,
	})
	// input untouched
	assert.Equal(t, 1, results[0].Round)

	_, err = Concatenate(append(results, Result[string, int]{Round: 0, Shard: 1}))
	assert.Error(t, err)
}

type appendVM struct{}

func (appendVM) Execute(txnIndex int, view blockstm.TxnView[string, int]) (result blockstm.VMResult, err error) {
	view.Write("last", txnIndex)
	result.Output = txnIndex
	return
}

func TestShardedExecution(t *testing.T) {
	ranges, err := Partition(9, 1, 3)
	require.NoError(t, err)

	results := make([]Result[string, int], 0, len(ranges))
	for _, r := range ranges {
		out, err := blockstm.NewExecutor[string, int](appendVM{}, emptyState{}, r.End-r.Start, blockstm.Options{Concurrency: 2}).Run(context.Background())
		require.NoError(t, err)
		results = append(results, Result[string, int]{Round: r.Round, Shard: r.Shard, Outputs: out.Outputs})
	}

	outputs, err := Concatenate(results)
	require.NoError(t, err)
	require.Len(t, outputs, 9)
	assert.Equal(t, 8, outputs[8].Index)
}

type emptyState struct{}

func (emptyState) Get(string) (int, bool, error) {
	return 0, false, nil
}
