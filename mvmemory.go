package blockstm

import (
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/maps/treemap"
)

type mvMemory[L comparable, V any] struct {
	data         sync.Map
	lastWriteSet []atomic.Pointer[[]L]
	lastReadSet  []atomic.Pointer[ReadSet[L]]
}

// dataCells holds every version of one location, keyed by txn index.
type dataCells struct {
	sync.RWMutex
	tm *treemap.Map
}

type dataCell[V any] struct {
	flag        flag
	incarnation int
	value       V
	deleted     bool
}

type flag uint

const (
	flagDone flag = iota
	flagEstimate
)

var _ MVMemory[int, int] = (*mvMemory[int, int])(nil)

func NewMVMemory[L comparable, V any](blockSize int) MVMemory[L, V] {
	return &mvMemory[L, V]{
		lastWriteSet: make([]atomic.Pointer[[]L], blockSize),
		lastReadSet:  make([]atomic.Pointer[ReadSet[L]], blockSize)}
}

// Record installs the write set of version and remembers its read set.
// wroteNewLocation is true when the write set contains a location the previous
// incarnation did not write.
func (mvm *mvMemory[L, V]) Record(version Version, rs ReadSet[L], ws WriteSet[L, V]) (wroteNewLocation bool, err error) {

	wroteNewLocation, err = mvm.applyWriteSet(version, ws)
	if err != nil {
		return
	}

	mvm.lastReadSet[version.Index].Store(&rs)

	return
}

func (mvm *mvMemory[L, V]) Read(location L, txnIndex int) (result ReadResult[V]) {
	result.Status = ReadStatusNotFound
	cells := mvm.lookup(location)
	if cells == nil {
		return
	}

	cells.RLock()
	defer cells.RUnlock()
	// highest writer below txnIndex
	key, value := cells.tm.Floor(txnIndex - 1)
	if key == nil {
		return
	}
	writer, c := key.(int), value.(*dataCell[V])
	if c.flag == flagEstimate {
		result.Status = ReadStatusDependency
		result.BlockingIndex = writer
		return
	}
	result.Status = ReadStatusOK
	result.Version = Version{Index: writer, Incarnation: c.incarnation}
	result.Value = c.value
	result.Deleted = c.deleted
	return
}

// Snapshot returns the value each location holds after the whole block.
// Deleted locations are left out. It is only meaningful once execution converged.
func (mvm *mvMemory[L, V]) Snapshot() (ret []LocationValue[L, V]) {

	mvm.data.Range(func(location, _ any) bool {
		result := mvm.Read(location.(L), len(mvm.lastReadSet))
		if result.Status == ReadStatusOK && !result.Deleted {
			ret = append(ret, LocationValue[L, V]{Location: location.(L), Value: result.Value})
		}
		return true
	})
	return
}

// ValidateReadSet reports whether every location txnIndex read last time would
// still be read from the same version.
func (mvm *mvMemory[L, V]) ValidateReadSet(txnIndex int) bool {
	reads := mvm.lastReadSet[txnIndex].Load()
	if reads == nil {
		return true
	}
	for _, read := range *reads {
		switch current := mvm.Read(read.Location, txnIndex); current.Status {
		case ReadStatusDependency:
			return false
		case ReadStatusNotFound:
			if read.V != nil {
				return false
			}
		case ReadStatusOK:
			if read.V == nil || *read.V != current.Version {
				return false
			}
		}
	}
	return true
}

func (mvm *mvMemory[L, V]) ConvertWritesToEstimates(txnIndex int) error {
	prevWrites := mvm.lastWriteSet[txnIndex].Load()
	if prevWrites != nil {
		for _, location := range *prevWrites {
			if err := mvm.MarkEstimate(location, txnIndex); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarkEstimate flags the entry txnIndex wrote at location as an estimate
// while keeping its value.
func (mvm *mvMemory[L, V]) MarkEstimate(location L, txnIndex int) error {
	cells := mvm.lookup(location)
	if cells == nil {
		return invariantf("mark estimate on unwritten location %v by txn %d", location, txnIndex)
	}
	cells.Lock()
	defer cells.Unlock()

	ci, ok := cells.tm.Get(txnIndex)
	if !ok {
		return invariantf("mark estimate on unwritten location %v by txn %d", location, txnIndex)
	}
	ci.(*dataCell[V]).flag = flagEstimate
	return nil
}

func (mvm *mvMemory[L, V]) applyWriteSet(version Version, ws WriteSet[L, V]) (wroteNewLocation bool, err error) {
	newLocations := make(map[L]struct{}, len(ws))
	newLocationList := make([]L, 0, len(ws))
	for _, w := range ws {
		if err = mvm.Write(w.Location, version, w.Val, w.Deleted); err != nil {
			return
		}
		if _, ok := newLocations[w.Location]; !ok {
			newLocations[w.Location] = struct{}{}
			newLocationList = append(newLocationList, w.Location)
		}
	}

	prevLocations := mvm.lastWriteSet[version.Index].Load()
	if prevLocations != nil {
		prevLocationList := *prevLocations
		prevLocationMap := make(map[L]struct{}, len(prevLocationList))
		for _, location := range prevLocationList {
			prevLocationMap[location] = struct{}{}
		}

		for location := range newLocations {
			if _, ok := prevLocationMap[location]; !ok {
				wroteNewLocation = true
				break
			}
		}

		for _, location := range prevLocationList {
			if _, ok := newLocations[location]; !ok {
				if err = mvm.Remove(location, version.Index); err != nil {
					return
				}
			}
		}
	} else {
		wroteNewLocation = len(newLocations) > 0
	}

	mvm.lastWriteSet[version.Index].Store(&newLocationList)

	return
}

// Write installs value at (location, version.Index) with the done flag.
func (mvm *mvMemory[L, V]) Write(location L, version Version, value V, deleted bool) error {
	cells := mvm.lookup(location)
	if cells == nil {
		created, _ := mvm.data.LoadOrStore(location, &dataCells{tm: treemap.NewWithIntComparator()})
		cells = created.(*dataCells)
	}

	cells.Lock()
	defer cells.Unlock()

	if existing, ok := cells.tm.Get(version.Index); ok {
		if c := existing.(*dataCell[V]); c.incarnation > version.Incarnation {
			return invariantf("existing value of location %v at txn %d has incarnation %d > %d",
				location, version.Index, c.incarnation, version.Incarnation)
		}
	}
	cells.tm.Put(version.Index, &dataCell[V]{
		flag:        flagDone,
		incarnation: version.Incarnation,
		value:       value,
		deleted:     deleted,
	})
	return nil
}

// Remove drops the entry txnIndex wrote at location.
func (mvm *mvMemory[L, V]) Remove(location L, txnIndex int) error {
	cells := mvm.lookup(location)
	if cells == nil {
		return invariantf("remove unwritten location %v by txn %d", location, txnIndex)
	}
	cells.Lock()
	defer cells.Unlock()
	if _, ok := cells.tm.Get(txnIndex); !ok {
		return invariantf("remove unwritten location %v by txn %d", location, txnIndex)
	}
	cells.tm.Remove(txnIndex)
	return nil
}

// lookup returns the cells of location, nil if it was never written.
func (mvm *mvMemory[L, V]) lookup(location L) *dataCells {
	if cells, ok := mvm.data.Load(location); ok {
		return cells.(*dataCells)
	}
	return nil
}
