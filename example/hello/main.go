package main

import (
	"context"
	"fmt"
	"time"

	"github.com/zhiqiangxu/blockstm"
	"github.com/zhiqiangxu/blockstm/state"
)

// vm increments a single counter in every transaction, the worst case for
// parallel execution.
type vm struct {
}

func NewVM() *vm {
	return &vm{}
}

var _ blockstm.VM[string, int] = (*vm)(nil)

func (vm *vm) Execute(txnIndex int, view blockstm.TxnView[string, int]) (result blockstm.VMResult, err error) {
	counter, _, err := view.Read("counter")
	if err != nil {
		return
	}
	view.Write("counter", counter+1)
	result.Output = counter + 1
	return
}

func main() {

	base := state.NewMemState[string, int]()
	start := time.Now()
	out, err := blockstm.NewExecutor[string, int](NewVM(), base, 100 /*blockSize*/, blockstm.Options{Concurrency: 5}).Run(context.Background())
	if err != nil {
		panic(err)
	}
	fmt.Println("execution took", time.Since(start))

	if err := out.Apply(base); err != nil {
		panic(err)
	}
	counter, _, _ := base.Get("counter")
	fmt.Println("counter", counter)
}
