package contracts

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapio-lang/sapio/contract"
)

func newKey(t *testing.T) *btcec.PublicKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv.PubKey()
}

func payments(t *testing.T, n int) []Payment {
	out := make([]Payment, n)
	for i := range out {
		out[i] = Payment{Amount: 10_000, Key: newKey(t)}
	}
	return out
}

func TestChunkPaymentsWithinRadixSplitsIntoSingletons(t *testing.T) {
	groups := chunkPayments(payments(t, 4), 4)
	require.Len(t, groups, 4)
	for _, g := range groups {
		assert.Len(t, g, 1)
	}
}

// Every group a node produces must be strictly smaller than the node
// itself, so recursion always terminates at single-recipient leaves.
func TestChunkPaymentsGroupsStrictlyShrink(t *testing.T) {
	for _, n := range []int{2, 3, 4, 5, 7, 16, 17, 100} {
		recipients := payments(t, n)
		groups := chunkPayments(recipients, 4)
		total := 0
		for _, g := range groups {
			require.NotEmpty(t, g)
			assert.Less(t, len(g), n, "n=%d", n)
			total += len(g)
		}
		assert.Equal(t, n, total, "n=%d", n)
	}
}

// A treepay whose recipient count fits within one radix pays each
// recipient directly from a single template.
func TestTreePayWithinSingleRadixCompiles(t *testing.T) {
	recipients := payments(t, 4)
	var total btcutil.Amount
	for _, p := range recipients {
		total += p.Amount
	}

	ctx := contract.NewContext(total, &chaincfg.RegressionNetParams, nil)
	obj, err := (TreePay{Radix: 4, Recipients: recipients}).Compile(ctx)
	require.NoError(t, err)

	require.Len(t, obj.CTVToTx, 1)
	for _, tpl := range obj.CTVToTx {
		assert.Len(t, tpl.Tx.TxOut, 4)
	}
}
