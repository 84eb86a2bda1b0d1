package blockstm

import (
	"sync"
	"sync/atomic"
)

type scheduler struct {
	doneMarker       atomic.Bool
	haltMarker       atomic.Bool
	validationIndex  atomic.Int32
	executionIndex   atomic.Int32
	numActiveTasks   atomic.Int32
	decreaseCount    atomic.Int32
	cutoff           atomic.Int32 // end of the block, lowered when the budget is exhausted
	allTxnStatus     []txnStatus
	allTxnDependency []*txnDependency // blocked transactions on each index
	blockSize        int
	// incarnation bound before the block is handed to the sequential path, 0 means unbounded
	maxIncarnation int
}

// txnStatus packs (incarnation, status) into one word so every transition is a
// single compare-and-swap.
type txnStatus struct {
	word atomic.Uint64
}

type txnDependency struct {
	sync.Mutex
	dependencies []int
}

const (
	txnStatusReadyToExecute = 0
	txnStatusExecuting      = 1
	txnStatusExecuted       = 2
	txnStatusAborting       = 3
	// parked by a hint, never executed yet
	txnStatusBlocked = 4
)

const statusBits = 8

func packStatus(status uint, incarnation int) uint64 {
	return uint64(incarnation)<<statusBits | uint64(status)
}

func (ts *txnStatus) load() (status uint, incarnation int) {
	w := ts.word.Load()
	return uint(w & (1<<statusBits - 1)), int(w >> statusBits)
}

func (ts *txnStatus) transit(from, to uint, incarnation, newIncarnation int) bool {
	return ts.word.CompareAndSwap(packStatus(from, incarnation), packStatus(to, newIncarnation))
}

var _ Scheduler = (*scheduler)(nil)

func NewScheduler(blockSize int, maxIncarnation int) Scheduler {
	return newScheduler(blockSize, maxIncarnation)
}

func newScheduler(blockSize int, maxIncarnation int) *scheduler {
	allTxnDependency := make([]*txnDependency, blockSize)
	for i := 0; i < blockSize; i++ {
		allTxnDependency[i] = &txnDependency{}
	}

	s := &scheduler{
		blockSize:        blockSize,
		maxIncarnation:   maxIncarnation,
		allTxnStatus:     make([]txnStatus, blockSize),
		allTxnDependency: allTxnDependency}
	s.cutoff.Store(int32(blockSize))
	if blockSize == 0 {
		s.doneMarker.Store(true)
	}
	return s
}

func (s *scheduler) Done() bool {
	return s.doneMarker.Load() || s.haltMarker.Load()
}

// Halted reports whether some transaction exceeded the incarnation bound.
func (s *scheduler) Halted() bool {
	return s.haltMarker.Load()
}

func (s *scheduler) Incarnation(txnIndex int) (int, bool) {
	status, incarnation := s.allTxnStatus[txnIndex].load()
	return incarnation, status == txnStatusExecuted
}

func (s *scheduler) NextTask() *Task {
	if s.haltMarker.Load() {
		return nil
	}
	if s.validationIndex.Load() < s.executionIndex.Load() {
		versionToValidate := s.nextVersionToValidate()
		if versionToValidate != nil {
			return &Task{Version: *versionToValidate, Kind: TaskKindV}
		}
	} else {
		versionToExecute := s.nextVersionToExecute()
		if versionToExecute != nil {
			return &Task{Version: *versionToExecute, Kind: TaskKindE}
		}
	}
	return nil
}

// AddDependency parks index behind blockingIndex. It returns false when
// blockingIndex already finished executing, in which case the caller should
// simply re-execute.
func (s *scheduler) AddDependency(index, blockingIndex int) bool {

	txnDependency := s.allTxnDependency[blockingIndex]
	txnDependency.Lock()

	// dependency resolved
	if status, _ := s.allTxnStatus[blockingIndex].load(); status == txnStatusExecuted {
		txnDependency.Unlock()
		return false
	}

	_, incarnation := s.allTxnStatus[index].load()
	s.allTxnStatus[index].transit(txnStatusExecuting, txnStatusAborting, incarnation, incarnation)

	txnDependency.dependencies = append(txnDependency.dependencies, index)

	txnDependency.Unlock()

	s.checkIncarnation(incarnation + 1)

	// execution task aborted due to a dependency
	s.numActiveTasks.Add(-1)
	return true
}

// addHintDependency parks a not yet executed index behind blockingIndex
// before any worker starts.
func (s *scheduler) addHintDependency(index, blockingIndex int) {
	if blockingIndex >= index {
		return
	}
	if !s.allTxnStatus[index].transit(txnStatusReadyToExecute, txnStatusBlocked, 0, 0) {
		return
	}
	txnDependency := s.allTxnDependency[blockingIndex]
	txnDependency.Lock()
	txnDependency.dependencies = append(txnDependency.dependencies, index)
	txnDependency.Unlock()
}

func (s *scheduler) FinishExecution(version Version, wroteNewLocation bool) (*Task, error) {

	if !s.allTxnStatus[version.Index].transit(txnStatusExecuting, txnStatusExecuted, version.Incarnation, version.Incarnation) {
		status, incarnation := s.allTxnStatus[version.Index].load()
		return nil, invariantf("finish execution of txn %d incarnation %d in status %d incarnation %d",
			version.Index, version.Incarnation, status, incarnation)
	}

	txnDependency := s.allTxnDependency[version.Index]
	txnDependency.Lock()
	dependencies := txnDependency.dependencies
	txnDependency.dependencies = nil
	txnDependency.Unlock()

	s.resumeDependencies(dependencies)

	if s.validationIndex.Load() > int32(version.Index) { // otherwise index already small enough
		if wroteNewLocation {
			// schedule validation for txn_idx and higher txns
			s.decreaseValidationIndex(version.Index)
		} else {
			return &Task{Version: version, Kind: TaskKindV}, nil
		}
	}

	s.numActiveTasks.Add(-1)
	return nil, nil
}

func (s *scheduler) FinishValidation(txnIndex int, aborted bool) *Task {
	if aborted {
		s.setReadyStatus(txnIndex)
		// schedule validation for higher transactions
		s.decreaseValidationIndex(txnIndex + 1)

		if s.executionIndex.Load() > int32(txnIndex) {
			// tryIncarnation releases the task on failure
			if newVersion := s.tryIncarnation(txnIndex); newVersion != nil {
				return &Task{Version: *newVersion, Kind: TaskKindE}
			}
			return nil
		}
	}
	// done with validation task
	s.numActiveTasks.Add(-1)
	// no task returned to the caller
	return nil
}

func (s *scheduler) TryValidationAbort(version Version) bool {
	return s.allTxnStatus[version.Index].transit(txnStatusExecuted, txnStatusAborting, version.Incarnation, version.Incarnation)
}

func (s *scheduler) resumeDependencies(dependencies []int) {
	if len(dependencies) == 0 {
		return
	}
	minDepTxnIndex := -1
	for _, depTxnIndex := range dependencies {
		s.setReadyStatus(depTxnIndex)
		if minDepTxnIndex == -1 || depTxnIndex < minDepTxnIndex {
			minDepTxnIndex = depTxnIndex
		}
	}

	// ensure dependent indices get re-executed
	s.decreaseExecutionIndex(minDepTxnIndex)
}

func (s *scheduler) setReadyStatus(txnIndex int) {
	ts := &s.allTxnStatus[txnIndex]
	for {
		status, incarnation := ts.load()
		switch status {
		case txnStatusAborting:
			if ts.transit(status, txnStatusReadyToExecute, incarnation, incarnation+1) {
				s.checkIncarnation(incarnation + 1)
				return
			}
		case txnStatusBlocked:
			if ts.transit(status, txnStatusReadyToExecute, incarnation, incarnation) {
				return
			}
		default:
			return
		}
	}
}

func (s *scheduler) checkIncarnation(incarnation int) {
	if s.maxIncarnation > 0 && incarnation > s.maxIncarnation {
		s.haltMarker.Store(true)
	}
}

// setCutoff ends the block before txnIndex. Every lower transaction must
// already be committed.
func (s *scheduler) setCutoff(txnIndex int) {
	decreaseIndex(&s.cutoff, txnIndex)
	// workers may be spinning on the old end of the block
	s.decreaseCount.Add(1)
}

// Cutoff is the end of the block, lower than the block size once the budget
// cut it.
func (s *scheduler) Cutoff() int {
	return int(s.cutoff.Load())
}

func (s *scheduler) nextVersionToValidate() *Version {
	end := s.cutoff.Load()
	if s.validationIndex.Load() >= end {
		s.checkDone()
		return nil
	}

	s.numActiveTasks.Add(1)
	txnIndex := s.validationIndex.Add(1) - 1
	if txnIndex < end {
		if status, incarnation := s.allTxnStatus[txnIndex].load(); status == txnStatusExecuted {
			return &Version{Index: int(txnIndex), Incarnation: incarnation}
		}
	}
	s.numActiveTasks.Add(-1)
	return nil
}

func (s *scheduler) nextVersionToExecute() *Version {
	if s.executionIndex.Load() >= s.cutoff.Load() {
		s.checkDone()
		return nil
	}

	s.numActiveTasks.Add(1)
	return s.tryIncarnation(int(s.executionIndex.Add(1) - 1))
}

// tryIncarnation moves a ready transaction to executing. On failure the task
// slot the caller holds is given back.
func (s *scheduler) tryIncarnation(txnIndex int) *Version {
	if txnIndex < int(s.cutoff.Load()) {
		ts := &s.allTxnStatus[txnIndex]
		for status, incarnation := ts.load(); status == txnStatusReadyToExecute; status, incarnation = ts.load() {
			if ts.transit(status, txnStatusExecuting, incarnation, incarnation) {
				return &Version{Index: txnIndex, Incarnation: incarnation}
			}
		}
	}

	s.numActiveTasks.Add(-1)
	return nil
}

// checkDone marks the block done when both indices passed its end with no task
// in flight. A decrease racing with the check is detected through decreaseCount.
func (s *scheduler) checkDone() {
	before := s.decreaseCount.Load()
	end := s.cutoff.Load()
	if s.executionIndex.Load() < end || s.validationIndex.Load() < end {
		return
	}
	if s.numActiveTasks.Load() != 0 || s.decreaseCount.Load() != before {
		return
	}
	s.doneMarker.Store(true)
}

func (s *scheduler) decreaseExecutionIndex(txnIndex int) {
	decreaseIndex(&s.executionIndex, txnIndex)
	s.decreaseCount.Add(1)
}

func (s *scheduler) decreaseValidationIndex(txnIndex int) {
	decreaseIndex(&s.validationIndex, txnIndex)
	s.decreaseCount.Add(1)
}

// decreaseIndex lowers idx to target unless it is already lower.
func decreaseIndex(idx *atomic.Int32, target int) {
	t := int32(target)
	for {
		cur := idx.Load()
		if cur <= t || idx.CompareAndSwap(cur, t) {
			return
		}
	}
}
