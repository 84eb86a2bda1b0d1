package blockstm

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// collector assembles outputs in block order and cuts the block at the first
// transaction that does not fit the budget.
type collector[L comparable, V any] struct {
	budget uint64
	out    *BlockOutput[L, V]
}

func newCollector[L comparable, V any](blockSize int, budget uint64) *collector[L, V] {
	return &collector[L, V]{
		budget: budget,
		out:    &BlockOutput[L, V]{Outputs: make([]TxnOutput[L, V], 0, blockSize)},
	}
}

// add appends the next transaction in order. It returns false once the budget
// is exhausted, the transaction passed in is then not part of the block.
func (c *collector[L, V]) add(index int, ws WriteSet[L, V], result VMResult) bool {
	if c.out.Truncated {
		return false
	}
	if c.budget > 0 && result.Cost > c.budget-c.out.TotalCost {
		c.out.Truncated = true
		return false
	}
	c.out.TotalCost += result.Cost
	c.out.Outputs = append(c.out.Outputs, TxnOutput[L, V]{
		Index:    index,
		WriteSet: ws,
		Status:   result.Status,
		Cost:     result.Cost,
		Output:   result.Output,
	})
	return true
}

// committedOutcome returns the outcome of txnIndex if it can no longer change.
// All lower transactions must be committed: their values are final, so an
// executed incarnation whose reads still match them is final too, and any later
// incarnation of the same transaction reproduces it.
func (e *executor[L, V]) committedOutcome(txnIndex int) *outcome[L, V] {
	incarnation, executed := e.scheduler.Incarnation(txnIndex)
	if !executed {
		return nil
	}
	o := e.outcomes[txnIndex].Load()
	if o == nil || o.incarnation != incarnation {
		return nil
	}
	if !e.mvmemory.ValidateReadSet(txnIndex) {
		return nil
	}
	// the read set checked above must belong to the same incarnation
	if after, executed := e.scheduler.Incarnation(txnIndex); !executed || after != incarnation {
		return nil
	}
	return o
}

// tryCommit advances the committed prefix as far as it is final. Once a
// transaction does not fit the budget the scheduler is cut there, and nothing at
// or above it is executed any more. Only one worker commits at a time, the others
// skip.
func (e *executor[L, V]) tryCommit() {
	if !e.commitLock.TryLock() {
		return
	}
	defer e.commitLock.Unlock()

	for e.commitIndex < e.blockSize && !e.committed.out.Truncated {
		o := e.committedOutcome(e.commitIndex)
		if o == nil {
			return
		}
		if !e.committed.add(e.commitIndex, o.writeSet, o.result) {
			e.scheduler.setCutoff(e.commitIndex)
			e.logger.Debug("block budget exhausted",
				zap.Int("cutoff", e.commitIndex),
				zap.Uint64("cost", e.committed.out.TotalCost))
			return
		}
		e.commitIndex++
	}
}

// collect runs once the scheduler is done and commits what tryCommit has not
// reached yet. Every transaction below the cutoff must have an outcome of its
// current incarnation.
func (e *executor[L, V]) collect() (*BlockOutput[L, V], error) {
	e.commitLock.Lock()
	defer e.commitLock.Unlock()

	for ; e.commitIndex < e.blockSize && !e.committed.out.Truncated; e.commitIndex++ {
		i := e.commitIndex
		incarnation, executed := e.scheduler.Incarnation(i)
		o := e.outcomes[i].Load()
		if !executed || o == nil {
			return nil, errors.Wrapf(ErrMissingOutcome, "txn %d", i)
		}
		if o.incarnation != incarnation {
			return nil, errors.Wrapf(ErrMissingOutcome, "txn %d has outcome of incarnation %d, scheduler is at %d",
				i, o.incarnation, incarnation)
		}
		if !e.committed.add(i, o.writeSet, o.result) {
			break
		}
	}
	return e.committed.out, nil
}
