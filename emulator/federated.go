package emulator

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/sapio-lang/sapio/clause"
	"github.com/sapio-lang/sapio/contract"
)

// Federated combines k-of-n emulator connections into a single Emulator:
// GetSignerFor threshold-combines each member's clause, and Sign asks every
// member to contribute its own partial signature.
type Federated struct {
	K       int
	Members []contract.Emulator
}

// NewFederated builds a k-of-n Federated emulator. k must be between 1 and
// len(members) inclusive.
func NewFederated(k int, members ...contract.Emulator) (*Federated, error) {
	if k < 1 || k > len(members) {
		return nil, fmt.Errorf("emulator: federated threshold %d invalid for %d members", k, len(members))
	}
	return &Federated{K: k, Members: members}, nil
}

func (f *Federated) GetSignerFor(hash [32]byte) (clause.Clause, error) {
	children := make([]clause.Clause, len(f.Members))
	for i, m := range f.Members {
		c, err := m.GetSignerFor(hash)
		if err != nil {
			return clause.Clause{}, fmt.Errorf("emulator: federated member %d: %w", i, err)
		}
		children[i] = c
	}
	return clause.Threshold(f.K, children...), nil
}

// Sign asks every member to contribute whatever partial signature it can;
// a member's failure to sign (it may hold no relevant key) is not itself
// fatal, since the threshold only needs K of N to succeed. A member
// counts toward the threshold only if it actually attached a signature:
// Sign returning nil is also how a member no-ops when it has nothing to
// contribute.
func (f *Federated) Sign(p *psbt.Packet) error {
	signed := 0
	var lastErr error
	for _, m := range f.Members {
		before := scriptSpendSigCount(p)
		if err := m.Sign(p); err != nil {
			lastErr = err
			continue
		}
		if scriptSpendSigCount(p) > before {
			signed++
		}
	}
	if signed < f.K {
		if lastErr == nil {
			return fmt.Errorf("emulator: federated signing produced %d of %d required signatures", signed, f.K)
		}
		return fmt.Errorf("emulator: federated signing produced %d of %d required signatures: %w", signed, f.K, lastErr)
	}
	return nil
}

func scriptSpendSigCount(p *psbt.Packet) int {
	total := 0
	for i := range p.Inputs {
		total += len(p.Inputs[i].TaprootScriptSpendSig)
	}
	return total
}
