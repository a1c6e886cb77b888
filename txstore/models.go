// Package txstore provides a gorm/postgres-backed binder.TxIndex: a
// durable alternative to binder.MapTxIndex for deployments that need the
// transaction index to survive a restart.
package txstore

import (
	"time"
)

// DBBoundTx is the database model for one transaction the binder has
// produced, keyed by txid.
type DBBoundTx struct {
	Txid      string    `gorm:"primary_key;type:varchar(64)"`
	RawTx     []byte    `gorm:"type:bytea;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName sets the table name for DBBoundTx.
func (DBBoundTx) TableName() string {
	return "bound_txs"
}
