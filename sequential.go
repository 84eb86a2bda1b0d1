package blockstm

import (
	"context"

	"github.com/pkg/errors"
)

// ExecuteSequential runs the block one transaction at a time without
// speculation. It is the reference the parallel executor must be equivalent
// to, and the path taken when contention exceeds the incarnation bound.
func ExecuteSequential[L comparable, V any](ctx context.Context, vm VM[L, V], base StateView[L, V], blockSize int, budget uint64) (*BlockOutput[L, V], error) {
	c := newCollector[L, V](blockSize, budget)
	if err := executeSequential(ctx, vm, base, blockSize, 0, make(map[L]WriteDescriptor[L, V]), c); err != nil {
		return nil, err
	}
	c.out.Sequential = true
	return c.out, nil
}

// resumeSequential finishes a halted block sequentially on top of the
// committed prefix. Workers must have stopped.
func (e *executor[L, V]) resumeSequential(ctx context.Context) (*BlockOutput[L, V], error) {
	e.commitLock.Lock()
	defer e.commitLock.Unlock()

	committed := make(map[L]WriteDescriptor[L, V])
	for _, out := range e.committed.out.Outputs {
		for _, w := range out.WriteSet {
			committed[w.Location] = w
		}
	}
	if err := executeSequential(ctx, e.vm, e.base, e.blockSize, e.commitIndex, committed, e.committed); err != nil {
		return nil, err
	}
	e.commitIndex = len(e.committed.out.Outputs)
	e.committed.out.Sequential = true
	return e.committed.out, nil
}

// executeSequential runs transactions from start on, each on top of the
// committed writes of all earlier ones, adding them to c until the budget cuts
// the block.
func executeSequential[L comparable, V any](ctx context.Context, vm VM[L, V], base StateView[L, V], blockSize, start int,
	committed map[L]WriteDescriptor[L, V], c *collector[L, V]) error {
	for i := start; i < blockSize && !c.out.Truncated; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		view := &sequentialView[L, V]{version: Version{Index: i}, committed: committed, base: base}
		result, err := vm.Execute(i, view)
		if view.baseErr != nil {
			return view.baseErr
		}
		if err != nil {
			return errors.Wrapf(err, "execute txn %d", i)
		}
		executionCounter.Inc()
		ws := view.writes.ws
		if !c.add(i, ws, result) {
			break
		}
		for _, w := range ws {
			committed[w.Location] = w
		}
	}
	return nil
}
