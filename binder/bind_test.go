package binder_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapio-lang/sapio/binder"
	"github.com/sapio-lang/sapio/contract"
	"github.com/sapio-lang/sapio/contracts"
	"github.com/sapio-lang/sapio/emulator"
	"github.com/sapio-lang/sapio/locktime"
)

func newKey(t *testing.T) *btcec.PublicKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv.PubKey()
}

func seedOutpoint() wire.OutPoint {
	var h chainhash.Hash
	h[0] = 0x01
	return wire.OutPoint{Hash: h, Index: 0}
}

// A pay-to-pubkey object has no templates at all, so binding it should
// produce a Program with one path entry and zero bound transactions.
func TestBindPayToPublicKey(t *testing.T) {
	ctx := contract.NewContext(100_000, &chaincfg.RegressionNetParams, emulator.Identity{})
	obj, err := (contracts.PayToPublicKey{Key: newKey(t)}).Compile(ctx)
	require.NoError(t, err)

	idx := binder.NewMapTxIndex()
	program, err := binder.Bind(obj, seedOutpoint(), nil, idx, emulator.Identity{})
	require.NoError(t, err)

	entry, ok := program.Program[obj.RootPath.String()]
	require.True(t, ok)
	assert.Empty(t, entry.Txs)
}

// Undo-send has two CTV-enforced branches at the top level; binding should
// produce exactly two linked PSBTs, each spending the seed outpoint at
// input 0, with distinct sequences carried into the unsigned tx.
func TestBindUndoSend(t *testing.T) {
	const funds = btcutil.Amount(200_000)
	c := contracts.UndoSend{Hot: newKey(t), Cold: newKey(t), Timeout: locktime.RelHeight(144)}
	ctx := contract.NewContext(funds, &chaincfg.RegressionNetParams, emulator.Identity{})
	obj, err := c.Compile(ctx)
	require.NoError(t, err)

	seed := seedOutpoint()
	idx := binder.NewMapTxIndex()
	program, err := binder.Bind(obj, seed, nil, idx, emulator.Identity{})
	require.NoError(t, err)

	entry := program.Program[obj.RootPath.String()]
	require.Len(t, entry.Txs, 2)

	seen := map[uint32]bool{}
	for _, linked := range entry.Txs {
		tx := linked.PSBT.UnsignedTx
		require.Len(t, tx.TxIn, 1)
		assert.Equal(t, seed, tx.TxIn[0].PreviousOutPoint)
		seen[tx.TxIn[0].Sequence] = true

		// Every bound tx must have made it into the index, keyed by its
		// own txid, for later lookups (e.g. a grandchild's witness_utxo).
		_, ok := idx.LookupTx(tx.TxHash())
		assert.True(t, ok)
	}
	assert.Len(t, seen, 2, "expected two distinct per-input sequences (timeout vs. default)")
}

// Vault recurses: binding the top-level object must push the to_cold
// output's Contract back onto the walk, producing a second path entry
// keyed by that sub-contract's own root path.
func TestBindVaultRecursesIntoChildren(t *testing.T) {
	const step = btcutil.Amount(1_0000_0000)
	v := contracts.Vault{
		NSteps:     2,
		AmountStep: step,
		Timeout:    locktime.RelHeight(10),
		Mature:     locktime.RelHeight(144),
		Hot:        newKey(t),
		Cold:       newKey(t),
	}
	ctx := contract.NewContext(2*step, &chaincfg.RegressionNetParams, emulator.Identity{})
	obj, err := v.Compile(ctx)
	require.NoError(t, err)

	program, err := binder.Bind(obj, seedOutpoint(), nil, binder.NewMapTxIndex(), emulator.Identity{})
	require.NoError(t, err)

	assert.Greater(t, len(program.Program), 1, "expected the walk to recurse into the step sub-contract")
}
