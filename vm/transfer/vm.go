// Package transfer is a small deterministic interpreter over uint256 balances.
// It is used to exercise the executor and to drive the benchmark.
package transfer

import (
	"fmt"
	"math/rand"

	"github.com/holiman/uint256"

	"github.com/zhiqiangxu/blockstm"
)

type Kind int

const (
	KindTransfer Kind = iota
	KindMint
	KindIncrement
	KindBurn
)

func (k Kind) String() string {
	switch k {
	case KindTransfer:
		return "transfer"
	case KindMint:
		return "mint"
	case KindIncrement:
		return "increment"
	case KindBurn:
		return "burn"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Tx moves Amount from From to To for transfers. Mint credits To,
// Increment adds one to From, Burn deletes From.
type Tx struct {
	Kind   Kind
	From   string
	To     string
	Amount uint64
}

const (
	BaseCost  = 21
	WriteCost = 5
)

// Receipt is the output of one transaction. Balances are decimal strings.
type Receipt struct {
	Kind        Kind
	FromBalance string
	ToBalance   string
	Reason      string
}

type VM struct {
	txs []Tx
}

var _ blockstm.VM[string, []byte] = (*VM)(nil)

func New(txs []Tx) *VM {
	return &VM{txs: txs}
}

func (vm *VM) Len() int {
	return len(vm.txs)
}

func (vm *VM) Execute(txnIndex int, view blockstm.TxnView[string, []byte]) (result blockstm.VMResult, err error) {
	tx := vm.txs[txnIndex]
	result.Cost = BaseCost

	switch tx.Kind {
	case KindTransfer:
		return vm.transfer(tx, view)
	case KindMint:
		to, err := readBalance(view, tx.To)
		if err != nil {
			return result, err
		}
		to.Add(to, uint256.NewInt(tx.Amount))
		writeBalance(view, tx.To, to)
		result.Cost += WriteCost
		result.Output = Receipt{Kind: tx.Kind, ToBalance: to.ToBig().String()}
	case KindIncrement:
		counter, err := readBalance(view, tx.From)
		if err != nil {
			return result, err
		}
		counter.AddUint64(counter, 1)
		writeBalance(view, tx.From, counter)
		result.Cost += WriteCost
		result.Output = Receipt{Kind: tx.Kind, FromBalance: counter.ToBig().String()}
	case KindBurn:
		_, found, err := view.Read(tx.From)
		if err != nil {
			return result, err
		}
		if !found {
			result.Status = blockstm.VMStatusFailed
			result.Output = Receipt{Kind: tx.Kind, Reason: "no such account"}
			return result, nil
		}
		view.Delete(tx.From)
		result.Cost += WriteCost
		result.Output = Receipt{Kind: tx.Kind}
	default:
		result.Status = blockstm.VMStatusFailed
		result.Output = Receipt{Kind: tx.Kind, Reason: "unknown kind"}
	}
	return result, nil
}

func (vm *VM) transfer(tx Tx, view blockstm.TxnView[string, []byte]) (result blockstm.VMResult, err error) {
	result.Cost = BaseCost
	from, err := readBalance(view, tx.From)
	if err != nil {
		return result, err
	}
	amount := uint256.NewInt(tx.Amount)
	if from.Lt(amount) {
		result.Status = blockstm.VMStatusFailed
		result.Output = Receipt{Kind: tx.Kind, FromBalance: from.ToBig().String(), Reason: "insufficient balance"}
		return result, nil
	}
	if tx.From == tx.To {
		result.Output = Receipt{Kind: tx.Kind, FromBalance: from.ToBig().String(), ToBalance: from.ToBig().String()}
		return result, nil
	}
	to, err := readBalance(view, tx.To)
	if err != nil {
		return result, err
	}
	from.Sub(from, amount)
	to.Add(to, amount)
	writeBalance(view, tx.From, from)
	writeBalance(view, tx.To, to)
	result.Cost += 2 * WriteCost
	result.Output = Receipt{Kind: tx.Kind, FromBalance: from.ToBig().String(), ToBalance: to.ToBig().String()}
	return result, nil
}

func readBalance(view blockstm.TxnView[string, []byte], key string) (*uint256.Int, error) {
	raw, found, err := view.Read(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func writeBalance(view blockstm.TxnView[string, []byte], key string, balance *uint256.Int) {
	b := balance.Bytes32()
	view.Write(key, b[:])
}

// Balance decodes a stored balance.
func Balance(raw []byte) *uint256.Int {
	return new(uint256.Int).SetBytes(raw)
}

func Account(i int) string {
	return fmt.Sprintf("acct/%04d", i)
}

// Seed credits every account with balance.
func Seed(w blockstm.StateWriter[string, []byte], accounts int, balance uint64) error {
	ws := make(blockstm.WriteSet[string, []byte], 0, accounts)
	b := uint256.NewInt(balance).Bytes32()
	for i := 0; i < accounts; i++ {
		ws = append(ws, blockstm.WriteDescriptor[string, []byte]{Location: Account(i), Val: append([]byte(nil), b[:]...)})
	}
	return w.Commit(ws)
}

// Generate returns n random transactions over the given number of accounts.
// Fewer accounts means more conflicts.
func Generate(n, accounts int, seed int64) []Tx {
	r := rand.New(rand.NewSource(seed))
	txs := make([]Tx, 0, n)
	for i := 0; i < n; i++ {
		var tx Tx
		switch p := r.Intn(100); {
		case p < 80:
			tx = Tx{Kind: KindTransfer, From: Account(r.Intn(accounts)), To: Account(r.Intn(accounts)), Amount: uint64(r.Intn(50))}
		case p < 90:
			tx = Tx{Kind: KindMint, To: Account(r.Intn(accounts)), Amount: uint64(r.Intn(100))}
		case p < 98:
			tx = Tx{Kind: KindIncrement, From: "counter"}
		default:
			tx = Tx{Kind: KindBurn, From: Account(r.Intn(accounts))}
		}
		txs = append(txs, tx)
	}
	return txs
}

// Hints lists the locations each transaction touches.
func Hints(txs []Tx) []blockstm.Hint[string] {
	hints := make([]blockstm.Hint[string], 0, len(txs))
	for _, tx := range txs {
		var h blockstm.Hint[string]
		switch tx.Kind {
		case KindTransfer:
			h.Reads = []string{tx.From, tx.To}
			h.Writes = []string{tx.From, tx.To}
		case KindMint:
			h.Reads = []string{tx.To}
			h.Writes = []string{tx.To}
		case KindIncrement, KindBurn:
			h.Reads = []string{tx.From}
			h.Writes = []string{tx.From}
		}
		hints = append(hints, h)
	}
	return hints
}
