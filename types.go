package blockstm

import (
	"context"
)

type Version struct {
	// transaction index in block
	Index       int
	Incarnation int
}

type ReadSet[L comparable] []ReadDescriptor[L]

// ReadDescriptor records one read of a transaction. A nil V means the read
// fell through to the base state.
type ReadDescriptor[L comparable] struct {
	Location L
	V        *Version
}

type WriteDescriptor[L comparable, V any] struct {
	Location L
	Val      V
	// Deleted marks a deletion, Val is the zero value.
	Deleted bool
}

type WriteSet[L comparable, V any] []WriteDescriptor[L, V]

// Locations returns the written locations in write order.
func (ws WriteSet[L, V]) Locations() []L {
	locations := make([]L, 0, len(ws))
	for _, w := range ws {
		locations = append(locations, w.Location)
	}
	return locations
}

type Executor[L comparable, V any] interface {
	Run(ctx context.Context) (*BlockOutput[L, V], error)
}

type LocationValue[L comparable, V any] struct {
	Location L
	Value    V
}

type MVMemory[L comparable, V any] interface {
	Record(Version, ReadSet[L], WriteSet[L, V]) (bool, error)
	Read(location L, txnIndex int) ReadResult[V]
	Write(location L, version Version, value V, deleted bool) error
	MarkEstimate(location L, txnIndex int) error
	Remove(location L, txnIndex int) error
	Snapshot() []LocationValue[L, V]
	ValidateReadSet(txnIndex int) bool
	ConvertWritesToEstimates(txnIndex int) error
}

type ReadResult[V any] struct {
	Status  ReadStatus
	Version Version
	Value   V
	Deleted bool
	// blocking transaction index
	BlockingIndex int
}

type ReadStatus int

const (
	ReadStatusOK ReadStatus = iota
	ReadStatusNotFound
	ReadStatusDependency
)

func (s ReadStatus) String() string {
	switch s {
	case ReadStatusOK:
		return "ok"
	case ReadStatusNotFound:
		return "not-found"
	case ReadStatusDependency:
		return "dependency"
	default:
		return "unknown"
	}
}

// StateView is the read-only state as of the start of the block.
type StateView[L comparable, V any] interface {
	Get(location L) (value V, found bool, err error)
}

// StateWriter receives committed write sets.
type StateWriter[L comparable, V any] interface {
	Commit(ws WriteSet[L, V]) error
}

// TxnView is the state proxy handed to the VM for one incarnation.
type TxnView[L comparable, V any] interface {
	Version() Version
	// Read returns ErrDependency (wrapped in *DependencyError) when the value is
	// produced by a lower transaction that is currently being re-executed. The VM
	// should return as soon as it sees it.
	Read(location L) (value V, found bool, err error)
	Write(location L, value V)
	Delete(location L)
}

type VM[L comparable, V any] interface {
	// Execute runs the transaction at txnIndex against view. A returned error is
	// fatal for the whole block, a failing transaction reports VMStatusFailed.
	Execute(txnIndex int, view TxnView[L, V]) (VMResult, error)
}

type VMResult struct {
	Status VMStatus
	// Cost is charged against the block budget.
	Cost   uint64
	Output interface{}
}

type VMStatus int

const (
	VMStatusOK VMStatus = iota
	VMStatusFailed
)

func (s VMStatus) String() string {
	if s == VMStatusOK {
		return "ok"
	}
	return "failed"
}

type TaskKind int

const (
	TaskKindE TaskKind = iota
	TaskKindV
)

type Task struct {
	Kind    TaskKind
	Version Version
}

type Scheduler interface {
	Done() bool
	Halted() bool
	NextTask() *Task
	AddDependency(index, blockingIndex int) bool
	FinishExecution(version Version, wroteNewLocation bool) (*Task, error)
	FinishValidation(txnIndex int, aborted bool) *Task
	TryValidationAbort(Version) bool
	Incarnation(txnIndex int) (incarnation int, executed bool)
	Cutoff() int
}

// Hint lists the locations a transaction is expected to touch. Hints only
// shape scheduling.
type Hint[L comparable] struct {
	Reads  []L
	Writes []L
}

// TxnOutput is the committed result of one transaction.
type TxnOutput[L comparable, V any] struct {
	Index    int
	WriteSet WriteSet[L, V]
	Status   VMStatus
	Cost     uint64
	Output   interface{}
}

type BlockOutput[L comparable, V any] struct {
	Outputs []TxnOutput[L, V]
	// Truncated is set when the budget cut the block at len(Outputs).
	Truncated bool
	TotalCost uint64
	// Sequential is set when the block was finished by the sequential fallback.
	Sequential bool
}

// Apply commits the write sets in block order.
func (o *BlockOutput[L, V]) Apply(w StateWriter[L, V]) error {
	for _, out := range o.Outputs {
		if len(out.WriteSet) == 0 {
			continue
		}
		if err := w.Commit(out.WriteSet); err != nil {
			return err
		}
	}
	return nil
}
