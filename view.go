package blockstm

import (
	"github.com/pkg/errors"
)

// writeBuffer keeps the writes of one incarnation in first-write order so that
// identical executions produce identical write sets.
type writeBuffer[L comparable, V any] struct {
	index map[L]int
	ws    WriteSet[L, V]
}

func (b *writeBuffer[L, V]) get(location L) (w WriteDescriptor[L, V], ok bool) {
	i, ok := b.index[location]
	if !ok {
		return
	}
	return b.ws[i], true
}

func (b *writeBuffer[L, V]) put(w WriteDescriptor[L, V]) {
	if b.index == nil {
		b.index = make(map[L]int)
	}
	if i, ok := b.index[w.Location]; ok {
		b.ws[i] = w
		return
	}
	b.index[w.Location] = len(b.ws)
	b.ws = append(b.ws, w)
}

// txnView serves reads of one incarnation from the multi-version memory and
// falls back to the base state.
type txnView[L comparable, V any] struct {
	version  Version
	mvmemory MVMemory[L, V]
	base     StateView[L, V]

	readSet ReadSet[L]
	writes  writeBuffer[L, V]
	// index of the estimate hit during execution, -1 if none
	blockingIndex int
	// first base state failure, fatal for the block
	baseErr error
}

var _ TxnView[int, int] = (*txnView[int, int])(nil)

func newTxnView[L comparable, V any](version Version, mvmemory MVMemory[L, V], base StateView[L, V]) *txnView[L, V] {
	return &txnView[L, V]{version: version, mvmemory: mvmemory, base: base, blockingIndex: -1}
}

func (v *txnView[L, V]) Version() Version {
	return v.version
}

func (v *txnView[L, V]) Read(location L) (value V, found bool, err error) {
	if w, ok := v.writes.get(location); ok {
		return w.Val, !w.Deleted, nil
	}
	if v.blockingIndex >= 0 {
		// the incarnation is already doomed
		err = &DependencyError{BlockingIndex: v.blockingIndex}
		return
	}

	result := v.mvmemory.Read(location, v.version.Index)
	switch result.Status {
	case ReadStatusDependency:
		v.blockingIndex = result.BlockingIndex
		err = &DependencyError{BlockingIndex: result.BlockingIndex}
		return
	case ReadStatusOK:
		version := result.Version
		v.readSet = append(v.readSet, ReadDescriptor[L]{Location: location, V: &version})
		return result.Value, !result.Deleted, nil
	default:
		v.readSet = append(v.readSet, ReadDescriptor[L]{Location: location})
		value, found, err = v.base.Get(location)
		if err != nil && v.baseErr == nil {
			v.baseErr = errors.Wrapf(err, "read base state of %v", location)
		}
		return
	}
}

func (v *txnView[L, V]) Write(location L, value V) {
	v.writes.put(WriteDescriptor[L, V]{Location: location, Val: value})
}

func (v *txnView[L, V]) Delete(location L) {
	var zero V
	v.writes.put(WriteDescriptor[L, V]{Location: location, Val: zero, Deleted: true})
}

func (v *txnView[L, V]) writeSet() WriteSet[L, V] {
	return v.writes.ws
}

// sequentialView applies each transaction directly on top of the writes of all
// earlier ones.
type sequentialView[L comparable, V any] struct {
	version   Version
	committed map[L]WriteDescriptor[L, V]
	base      StateView[L, V]
	writes    writeBuffer[L, V]
	baseErr   error
}

var _ TxnView[int, int] = (*sequentialView[int, int])(nil)

func (v *sequentialView[L, V]) Version() Version {
	return v.version
}

func (v *sequentialView[L, V]) Read(location L) (value V, found bool, err error) {
	if w, ok := v.writes.get(location); ok {
		return w.Val, !w.Deleted, nil
	}
	if w, ok := v.committed[location]; ok {
		return w.Val, !w.Deleted, nil
	}
	value, found, err = v.base.Get(location)
	if err != nil && v.baseErr == nil {
		v.baseErr = errors.Wrapf(err, "read base state of %v", location)
	}
	return
}

func (v *sequentialView[L, V]) Write(location L, value V) {
	v.writes.put(WriteDescriptor[L, V]{Location: location, Val: value})
}

func (v *sequentialView[L, V]) Delete(location L) {
	var zero V
	v.writes.put(WriteDescriptor[L, V]{Location: location, Val: zero, Deleted: true})
}
