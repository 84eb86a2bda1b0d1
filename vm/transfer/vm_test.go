package transfer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhiqiangxu/blockstm"
	"github.com/zhiqiangxu/blockstm/state"
)

func runSequential(t *testing.T, base *state.MemState[string, []byte], txs []Tx) *blockstm.BlockOutput[string, []byte] {
	out, err := blockstm.ExecuteSequential[string, []byte](context.Background(), New(txs), base, len(txs), 0)
	require.NoError(t, err)
	require.Len(t, out.Outputs, len(txs))
	require.NoError(t, out.Apply(base))
	return out
}

func balanceOf(t *testing.T, base *state.MemState[string, []byte], key string) uint64 {
	raw, _, err := base.Get(key)
	require.NoError(t, err)
	return Balance(raw).Uint64()
}

func TestTransfer(t *testing.T) {
	base := state.NewMemState[string, []byte]()
	require.NoError(t, Seed(base, 2, 100))

	out := runSequential(t, base, []Tx{
		{Kind: KindTransfer, From: Account(0), To: Account(1), Amount: 30},
		{Kind: KindTransfer, From: Account(0), To: Account(1), Amount: 71},
		{Kind: KindTransfer, From: Account(1), To: Account(1), Amount: 5},
	})

	assert.Equal(t, blockstm.VMStatusOK, out.Outputs[0].Status)
	assert.Equal(t, uint64(BaseCost+2*WriteCost), out.Outputs[0].Cost)
	assert.Equal(t, Receipt{Kind: KindTransfer, FromBalance: "70", ToBalance: "130"}, out.Outputs[0].Output)

	assert.Equal(t, blockstm.VMStatusFailed, out.Outputs[1].Status)
	assert.Empty(t, out.Outputs[1].WriteSet)
	assert.Equal(t, uint64(BaseCost), out.Outputs[1].Cost)
	assert.Equal(t, "insufficient balance", out.Outputs[1].Output.(Receipt).Reason)

	assert.Equal(t, blockstm.VMStatusOK, out.Outputs[2].Status)
	assert.Empty(t, out.Outputs[2].WriteSet)

	assert.Equal(t, uint64(70), balanceOf(t, base, Account(0)))
	assert.Equal(t, uint64(130), balanceOf(t, base, Account(1)))
}

func TestMintIncrementBurn(t *testing.T) {
	base := state.NewMemState[string, []byte]()
	require.NoError(t, Seed(base, 1, 10))

	out := runSequential(t, base, []Tx{
		{Kind: KindMint, To: Account(1), Amount: 7},
		{Kind: KindIncrement, From: "counter"},
		{Kind: KindIncrement, From: "counter"},
		{Kind: KindBurn, From: Account(0)},
		{Kind: KindBurn, From: Account(0)},
		{Kind: Kind(42)},
	})

	assert.Equal(t, uint64(7), balanceOf(t, base, Account(1)))
	assert.Equal(t, uint64(2), balanceOf(t, base, "counter"))
	assert.Equal(t, "2", out.Outputs[2].Output.(Receipt).FromBalance)

	assert.Equal(t, blockstm.VMStatusOK, out.Outputs[3].Status)
	assert.True(t, out.Outputs[3].WriteSet[0].Deleted)
	assert.Equal(t, blockstm.VMStatusFailed, out.Outputs[4].Status)
	assert.Equal(t, blockstm.VMStatusFailed, out.Outputs[5].Status)

	_, found, err := base.Get(Account(0))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGenerateIsDeterministic(t *testing.T) {
	a := Generate(500, 10, 7)
	b := Generate(500, 10, 7)
	require.Len(t, a, 500)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Generate(500, 10, 8))

	hints := Hints(a)
	require.Len(t, hints, len(a))
	for i, tx := range a {
		if tx.Kind == KindTransfer {
			assert.Equal(t, []string{tx.From, tx.To}, hints[i].Writes)
		}
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	for _, accounts := range []int{2, 10, 100} {
		txs := Generate(300, accounts, int64(accounts))

		db, err := state.OpenMemLevelDB()
		require.NoError(t, err)
		require.NoError(t, Seed(db, accounts, 100))

		expected, err := blockstm.ExecuteSequential[string, []byte](context.Background(), New(txs), db, len(txs), 0)
		require.NoError(t, err)

		for _, concurrency := range []int{1, 2, 4, 8} {
			for _, opts := range []blockstm.Options{
				{Concurrency: concurrency},
				{Concurrency: concurrency, MaxIncarnation: 2},
			} {
				out, err := blockstm.NewExecutor[string, []byte](New(txs), db, len(txs), opts).Run(context.Background())
				require.NoError(t, err)
				assert.Equal(t, expected.Outputs, out.Outputs, "accounts %d concurrency %d", accounts, concurrency)
				assert.Equal(t, expected.TotalCost, out.TotalCost)
			}

			out, err := blockstm.NewExecutorWithHints[string, []byte](New(txs), db, len(txs), blockstm.Options{Concurrency: concurrency}, Hints(txs)).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, expected.Outputs, out.Outputs, "hints, accounts %d concurrency %d", accounts, concurrency)
		}
		require.NoError(t, db.Close())
	}
}

func TestParallelBudgetMatchesSequential(t *testing.T) {
	txs := Generate(200, 5, 3)
	base := state.NewMemState[string, []byte]()
	require.NoError(t, Seed(base, 5, 100))

	budget := uint64(200 * BaseCost)
	expected, err := blockstm.ExecuteSequential[string, []byte](context.Background(), New(txs), base, len(txs), budget)
	require.NoError(t, err)
	require.True(t, expected.Truncated)

	for _, concurrency := range []int{2, 8} {
		out, err := blockstm.NewExecutor[string, []byte](New(txs), base, len(txs), blockstm.Options{Concurrency: concurrency, Budget: budget}).Run(context.Background())
		require.NoError(t, err)
		assert.True(t, out.Truncated)
		assert.Equal(t, expected.Outputs, out.Outputs)
		assert.LessOrEqual(t, out.TotalCost, budget)
	}
}
