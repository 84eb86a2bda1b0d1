package blockstm

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options tunes one executor.
type Options struct {
	// Concurrency is the number of workers, runtime.NumCPU() when <= 0.
	Concurrency int
	// MaxIncarnation bounds re-executions of a single transaction. Once it is
	// exceeded the block is executed sequentially instead. 0 disables the bound.
	MaxIncarnation int
	// Budget caps the cumulative cost of committed transactions, 0 means unlimited.
	Budget uint64
	Logger *zap.Logger
}

type executor[L comparable, V any] struct {
	concurrency int
	blockSize   int
	vm          VM[L, V]
	base        StateView[L, V]
	scheduler   *scheduler
	mvmemory    MVMemory[L, V]
	outcomes    []atomic.Pointer[outcome[L, V]]
	logger      *zap.Logger

	commitLock sync.Mutex
	// every transaction below commitIndex is final and part of committed
	commitIndex int
	committed   *collector[L, V]
}

// outcome is the latest successful execution of one transaction.
type outcome[L comparable, V any] struct {
	incarnation int
	writeSet    WriteSet[L, V]
	result      VMResult
}

var _ Executor[int, int] = (*executor[int, int])(nil)

func NewExecutor[L comparable, V any](vm VM[L, V], base StateView[L, V], blockSize int, opts Options) Executor[L, V] {
	return newExecutor(vm, base, blockSize, opts)
}

// NewExecutorWithDeps parks every transaction behind the nearest of its listed
// dependencies until that one has executed.
func NewExecutorWithDeps[L comparable, V any](vm VM[L, V], base StateView[L, V], blockSize int, opts Options, allDeps [][]int) Executor[L, V] {
	e := newExecutor(vm, base, blockSize, opts)

	for index, deps := range allDeps {
		if index >= blockSize {
			break
		}
		nearest := -1
		for _, depIndex := range deps {
			if depIndex < index && depIndex > nearest {
				nearest = depIndex
			}
		}
		if nearest >= 0 {
			e.scheduler.addHintDependency(index, nearest)
		}
	}
	return e
}

// NewExecutorWithHints derives dependencies from the expected read and write
// locations of each transaction.
func NewExecutorWithHints[L comparable, V any](vm VM[L, V], base StateView[L, V], blockSize int, opts Options, hints []Hint[L]) Executor[L, V] {
	return NewExecutorWithDeps(vm, base, blockSize, opts, depsFromHints(hints))
}

func depsFromHints[L comparable](hints []Hint[L]) [][]int {
	lastWriter := make(map[L]int)
	allDeps := make([][]int, len(hints))
	for index, hint := range hints {
		nearest := -1
		for _, locations := range [][]L{hint.Reads, hint.Writes} {
			for _, location := range locations {
				if w, ok := lastWriter[location]; ok && w > nearest {
					nearest = w
				}
			}
		}
		if nearest >= 0 {
			allDeps[index] = []int{nearest}
		}
		for _, location := range hint.Writes {
			lastWriter[location] = index
		}
	}
	return allDeps
}

func newExecutor[L comparable, V any](vm VM[L, V], base StateView[L, V], blockSize int, opts Options) *executor[L, V] {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	if concurrency > blockSize {
		concurrency = blockSize
	}
	if concurrency == 0 {
		concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.L()
	}
	return &executor[L, V]{
		concurrency: concurrency,
		blockSize:   blockSize,
		vm:          vm,
		base:        base,
		scheduler:   newScheduler(blockSize, opts.MaxIncarnation),
		mvmemory:    NewMVMemory[L, V](blockSize),
		outcomes:    make([]atomic.Pointer[outcome[L, V]], blockSize),
		logger:      logger,
		committed:   newCollector[L, V](blockSize, opts.Budget),
	}
}

// Run executes the block and returns the outputs in block order. It can only
// be called once.
func (e *executor[L, V]) Run(ctx context.Context) (*BlockOutput[L, V], error) {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.concurrency; i++ {
		g.Go(func() error {
			return e.run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		if IsInvariantViolation(err) {
			e.logger.Error("block execution broke an invariant", zap.Int("block-size", e.blockSize), zap.Error(err))
		}
		return nil, err
	}

	if e.scheduler.Halted() {
		fallbackCounter.Inc()
		e.logger.Warn("incarnation bound exceeded, executing rest of block sequentially",
			zap.Int("block-size", e.blockSize),
			zap.Int("committed", e.commitIndex),
			zap.Int("max-incarnation", e.scheduler.maxIncarnation))
		out, err := e.resumeSequential(ctx)
		if err != nil {
			return nil, err
		}
		blockDurationHistogram.WithLabelValues("sequential").Observe(time.Since(start).Seconds())
		return out, nil
	}

	out, err := e.collect()
	if err != nil {
		e.logger.Error("collect block outputs", zap.Int("block-size", e.blockSize), zap.Error(err))
		return nil, err
	}
	blockDurationHistogram.WithLabelValues("parallel").Observe(time.Since(start).Seconds())
	e.logger.Debug("block executed",
		zap.Int("block-size", e.blockSize),
		zap.Int("committed", len(out.Outputs)),
		zap.Bool("truncated", out.Truncated),
		zap.Uint64("cost", out.TotalCost),
		zap.Duration("took", time.Since(start)))
	return out, nil
}

func (e *executor[L, V]) run(ctx context.Context) error {

	var (
		task *Task
		err  error
	)
	for {
		if err = ctx.Err(); err != nil {
			return err
		}
		if task != nil {
			switch task.Kind {
			case TaskKindE:
				task, err = e.tryExecute(task.Version)
			case TaskKindV:
				task, err = e.tryValidate(task.Version)
			default:
				return invariantf("invalid task kind %d", task.Kind)
			}
			if err != nil {
				return err
			}
			e.tryCommit()
		}
		if task == nil {
			task = e.scheduler.NextTask()
		}

		if task == nil {
			if e.scheduler.Done() {
				return nil
			}
			runtime.Gosched()
		}
	}
}

func (e *executor[L, V]) tryExecute(version Version) (*Task, error) {
	for {
		executionCounter.Inc()
		view := newTxnView(version, e.mvmemory, e.base)
		vmResult, err := e.vm.Execute(version.Index, view)
		if view.blockingIndex >= 0 {
			dependencyCounter.Inc()
			if e.scheduler.AddDependency(version.Index, view.blockingIndex) {
				return nil, nil
			}
			// the blocking transaction finished meanwhile
			continue
		}
		if view.baseErr != nil {
			return nil, view.baseErr
		}
		if err != nil {
			return nil, errors.Wrapf(err, "execute txn %d incarnation %d", version.Index, version.Incarnation)
		}

		ws := view.writeSet()
		e.outcomes[version.Index].Store(&outcome[L, V]{incarnation: version.Incarnation, writeSet: ws, result: vmResult})
		wroteNewLocation, err := e.mvmemory.Record(version, view.readSet, ws)
		if err != nil {
			return nil, err
		}
		return e.scheduler.FinishExecution(version, wroteNewLocation)
	}
}

func (e *executor[L, V]) tryValidate(version Version) (*Task, error) {
	validationCounter.Inc()
	readSetValid := e.mvmemory.ValidateReadSet(version.Index)
	aborted := !readSetValid && e.scheduler.TryValidationAbort(version)
	if aborted {
		abortCounter.Inc()
		if err := e.mvmemory.ConvertWritesToEstimates(version.Index); err != nil {
			return nil, err
		}
	}
	return e.scheduler.FinishValidation(version.Index, aborted), nil
}
