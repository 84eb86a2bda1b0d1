package state

import (
	"cmp"
	"sync"

	"github.com/tidwall/btree"

	"github.com/zhiqiangxu/blockstm"
)

type Pair[K any, V any] struct {
	Key K
	Val V
}

// MemState is an ordered in-memory state. It serves as the base state of a
// block and accepts committed write sets.
type MemState[K cmp.Ordered, V any] struct {
	lock  sync.RWMutex
	btree *btree.BTreeG[Pair[K, V]]
}

var (
	_ blockstm.StateView[string, []byte]   = (*MemState[string, []byte])(nil)
	_ blockstm.StateWriter[string, []byte] = (*MemState[string, []byte])(nil)
)

func NewMemState[K cmp.Ordered, V any]() *MemState[K, V] {
	return &MemState[K, V]{
		btree: btree.NewBTreeG(func(a Pair[K, V], b Pair[K, V]) bool {
			return a.Key < b.Key
		}),
	}
}

func (s *MemState[K, V]) Get(key K) (V, bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	res, present := s.btree.Get(Pair[K, V]{Key: key})
	return res.Val, present, nil
}

func (s *MemState[K, V]) Put(key K, value V) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.btree.Set(Pair[K, V]{Key: key, Val: value})
}

// Commit applies one write set atomically.
func (s *MemState[K, V]) Commit(ws blockstm.WriteSet[K, V]) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, w := range ws {
		if w.Deleted {
			s.btree.Delete(Pair[K, V]{Key: w.Location})
			continue
		}
		s.btree.Set(Pair[K, V]{Key: w.Location, Val: w.Val})
	}
	return nil
}

func (s *MemState[K, V]) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.btree.Len()
}

// Scan visits all pairs in key order until iter returns false.
func (s *MemState[K, V]) Scan(iter func(key K, value V) bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	s.btree.Scan(func(p Pair[K, V]) bool {
		return iter(p.Key, p.Val)
	})
}
