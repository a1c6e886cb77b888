package template

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// CTVHash computes the BIP-119 CheckTemplateVerify commitment for
// transaction tx at the given input index:
//
//	sha256( version || lock_time || n_inputs ||
//	        sha256(all_sequences) || n_outputs ||
//	        sha256(all_outputs) || input_index )
//
// All integers are little-endian. This must match exactly across every
// implementation in this repository, because the hash is pushed directly
// into on-chain scripts.
func CTVHash(tx *wire.MsgTx, inputIndex uint32) chainhash.Hash {
	outer := sha256.New()

	var u32 [4]byte

	binary.LittleEndian.PutUint32(u32[:], uint32(tx.Version))
	outer.Write(u32[:])

	binary.LittleEndian.PutUint32(u32[:], tx.LockTime)
	outer.Write(u32[:])

	binary.LittleEndian.PutUint32(u32[:], uint32(len(tx.TxIn)))
	outer.Write(u32[:])

	sequences := sha256.New()
	for _, in := range tx.TxIn {
		binary.LittleEndian.PutUint32(u32[:], in.Sequence)
		sequences.Write(u32[:])
	}
	outer.Write(sequences.Sum(nil))

	binary.LittleEndian.PutUint32(u32[:], uint32(len(tx.TxOut)))
	outer.Write(u32[:])

	outputs := sha256.New()
	for _, out := range tx.TxOut {
		var u64 [8]byte
		binary.LittleEndian.PutUint64(u64[:], uint64(out.Value))
		outputs.Write(u64[:])
		_ = wire.WriteVarBytes(outputs, 0, out.PkScript)
	}
	outer.Write(outputs.Sum(nil))

	binary.LittleEndian.PutUint32(u32[:], inputIndex)
	outer.Write(u32[:])

	var h chainhash.Hash
	copy(h[:], outer.Sum(nil))
	return h
}

// TotalOutputAmount sums every output's value, used both by the builder
// (Max = total + fees) and by tests asserting output-sum invariants.
func TotalOutputAmount(tx *wire.MsgTx) int64 {
	var total int64
	for _, out := range tx.TxOut {
		total += out.Value
	}
	return total
}
