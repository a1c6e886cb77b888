// Package emulator implements the CTV-emulator interface's concrete
// identity, HD, and federated implementations, plus the length-prefixed
// JSON wire protocol an HD emulator's client and server speak to each
// other.
package emulator

import (
	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/sapio-lang/sapio/clause"
)

// Identity is the trivial Emulator: every hash gets the real BIP-119
// CheckTemplateVerify clause, and signing is a no-op because the covenant
// itself is the spending condition.
type Identity struct{}

func (Identity) GetSignerFor(hash [32]byte) (clause.Clause, error) {
	return clause.CheckTemplateVerify(hash), nil
}

func (Identity) Sign(p *psbt.Packet) error { return nil }
