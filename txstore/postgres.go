package txstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"gorm.io/gorm"
)

// PostgresTxIndex implements binder.TxIndex against Postgres: a thin gorm
// wrapper storing the raw transaction bytes keyed by hex txid.
type PostgresTxIndex struct {
	db  *gorm.DB
	ctx context.Context
}

// NewPostgresTxIndex returns a TxIndex backed by db. ctx is used for every
// query; pass context.Background() for a long-lived index.
func NewPostgresTxIndex(db *gorm.DB, ctx context.Context) *PostgresTxIndex {
	if ctx == nil {
		ctx = context.Background()
	}
	return &PostgresTxIndex{db: db, ctx: ctx}
}

// Migrate creates the bound_txs table if it does not already exist.
func (p *PostgresTxIndex) Migrate() error {
	return p.db.WithContext(p.ctx).AutoMigrate(&DBBoundTx{})
}

// AddTx persists tx, keyed by its txid. Postgres's row-level locking on
// the primary key keeps concurrent inserts atomic.
func (p *PostgresTxIndex) AddTx(tx *wire.MsgTx) error {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("txstore: serialize tx: %w", err)
	}
	row := &DBBoundTx{
		Txid:      tx.TxHash().String(),
		RawTx:     buf.Bytes(),
		CreatedAt: time.Now(),
	}
	result := p.db.WithContext(p.ctx).Create(row)
	if result.Error != nil {
		return fmt.Errorf("txstore: add tx %s: %w", row.Txid, result.Error)
	}
	return nil
}

// LookupTx returns a consistent snapshot of the stored transaction for
// txid, if any.
func (p *PostgresTxIndex) LookupTx(txid chainhash.Hash) (*wire.MsgTx, bool) {
	var row DBBoundTx
	result := p.db.WithContext(p.ctx).Where("txid = ?", txid.String()).First(&row)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, false
		}
		return nil, false
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(row.RawTx)); err != nil {
		return nil, false
	}
	return tx, true
}
