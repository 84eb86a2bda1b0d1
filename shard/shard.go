// Package shard holds the contract between a shard coordinator and the
// executors it runs. Each sub-block is executed by an independent executor;
// the outputs are stitched back together round-major, shard-minor.
package shard

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/zhiqiangxu/blockstm"
)

// Range is a contiguous slice [Start, End) of the block.
type Range struct {
	Round int
	Shard int
	Start int
	End   int
}

type Result[L comparable, V any] struct {
	Round   int
	Shard   int
	Outputs []blockstm.TxnOutput[L, V]
}

// Partition splits a block of blockSize transactions into rounds*shards
// contiguous ranges, in round-major order. Earlier ranges get the remainder.
func Partition(blockSize, rounds, shards int) ([]Range, error) {
	if rounds <= 0 || shards <= 0 {
		return nil, errors.Errorf("invalid partition %d rounds x %d shards", rounds, shards)
	}
	parts := rounds * shards
	chunk, rest := blockSize/parts, blockSize%parts
	ranges := make([]Range, 0, parts)
	start := 0
	for i := 0; i < parts; i++ {
		end := start + chunk
		if i < rest {
			end++
		}
		ranges = append(ranges, Range{Round: i / shards, Shard: i % shards, Start: start, End: end})
		start = end
	}
	return ranges, nil
}

// Concatenate orders shard results by (round, shard) and joins their outputs.
// Output indices are rebased to the position in the joined block.
func Concatenate[L comparable, V any](results []Result[L, V]) ([]blockstm.TxnOutput[L, V], error) {
	sorted := make([]Result[L, V], len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Round != sorted[j].Round {
			return sorted[i].Round < sorted[j].Round
		}
		return sorted[i].Shard < sorted[j].Shard
	})

	var outputs []blockstm.TxnOutput[L, V]
	for i, r := range sorted {
		if i > 0 && sorted[i-1].Round == r.Round && sorted[i-1].Shard == r.Shard {
			return nil, errors.Errorf("duplicate result for round %d shard %d", r.Round, r.Shard)
		}
		for _, out := range r.Outputs {
			out.Index = len(outputs)
			outputs = append(outputs, out)
		}
	}
	return outputs, nil
}
