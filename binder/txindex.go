// Package binder turns a CompiledObject into a tree of linked,
// signed-where-possible PSBTs by walking its template graph depth-first
// from a seed outpoint.
package binder

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TxIndex is a lookup and cache of prior transactions, consulted to
// populate witness_utxo and written to as new transactions are bound.
// Implementations must guarantee AddTx is atomic and LookupTx returns a
// consistent snapshot.
type TxIndex interface {
	AddTx(tx *wire.MsgTx) error
	LookupTx(txid chainhash.Hash) (*wire.MsgTx, bool)
}

// MapTxIndex is the default in-memory TxIndex, a mutex-guarded map; see
// txstore.PostgresTxIndex for the durable alternative.
type MapTxIndex struct {
	mu  sync.RWMutex
	txs map[chainhash.Hash]*wire.MsgTx
}

// NewMapTxIndex returns an empty in-memory transaction index.
func NewMapTxIndex() *MapTxIndex {
	return &MapTxIndex{txs: make(map[chainhash.Hash]*wire.MsgTx)}
}

func (m *MapTxIndex) AddTx(tx *wire.MsgTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.TxHash()] = tx
	return nil
}

func (m *MapTxIndex) LookupTx(txid chainhash.Hash) (*wire.MsgTx, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[txid]
	return tx, ok
}
