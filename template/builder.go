// Package template implements the incremental transaction builder:
// per-output amount and sub-contract linkage, relative/absolute locktime
// merging, fee accounting, and the BIP-119 CTV hash.
package template

import (
	"encoding/json"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/sapio-lang/sapio/clause"
	"github.com/sapio-lang/sapio/compiled"
	"github.com/sapio-lang/sapio/contract"
	"github.com/sapio-lang/sapio/effects"
	"github.com/sapio-lang/sapio/locktime"
)

// outputEntry holds everything finalize() needs to both build the real
// wire.TxOut and populate compiled.Output's metadata.
type outputEntry struct {
	amount   btcutil.Amount
	contract *compiled.Object
	metadata json.RawMessage
}

// Builder incrementally constructs one Template. Every mutator returns the
// updated Builder by value so call sites can chain; on failure the zero
// Builder and an error are returned instead of panicking.
type Builder struct {
	ctx         *contract.Context
	version     int32
	sequences   []*locktime.LockTime
	lockTime    *locktime.LockTime
	outputs     []outputEntry
	label       string
	color       string
	simp        map[uint16]json.RawMessage
	fees        btcutil.Amount
	guards      []clause.Clause
	minFeerate  *int64
}

// New starts a builder against ctx, with exactly one (empty) sequence
// slot for the input the covenant will eventually spend.
func New(ctx *contract.Context) Builder {
	return Builder{
		ctx:       ctx,
		version:   2,
		sequences: []*locktime.LockTime{nil},
		simp:      make(map[uint16]json.RawMessage),
	}
}

func (b Builder) Ctx() *contract.Context { return b.ctx }

// AddOutput debits amount from the builder's context, compiles child in a
// sub-context carrying exactly that amount, and appends an output whose
// script_pubkey will be child's compiled address. Each output compiles
// under its own numeric branch fragment, in declaration order, so sibling
// sub-contracts never share a root path.
func (b Builder) AddOutput(amount btcutil.Amount, child contract.Compilable, metadata json.RawMessage) (Builder, error) {
	branchCtx := b.ctx.Derive(effects.BranchFragment(uint64(len(b.outputs))))
	subCtx, err := branchCtx.WithAmount(amount)
	if err != nil {
		return Builder{}, err
	}
	compiledChild, err := child.Compile(subCtx)
	if err != nil {
		return Builder{}, err
	}
	if err := b.ctx.SpendAmount(amount); err != nil {
		return Builder{}, err
	}
	b.outputs = append(b.outputs, outputEntry{amount: amount, contract: compiledChild, metadata: metadata})
	return b, nil
}

// AddOpReturn appends a zero-value OP_RETURN output carrying data, failing
// OpReturnTooLong past the standardness limit. The output funds no
// sub-contract, so the binder never recurses into it.
func (b Builder) AddOpReturn(data []byte) (Builder, error) {
	addr, err := compiled.NewOpReturn(data)
	if err != nil {
		return Builder{}, contract.WrapError(contract.OpReturnTooLong, err)
	}
	rootPath := b.ctx.Path().Push(effects.BranchFragment(uint64(len(b.outputs))))
	b.outputs = append(b.outputs, outputEntry{amount: 0, contract: &compiled.Object{Address: addr, RootPath: rootPath}})
	return b, nil
}

// AddSequence pushes a new, initially empty per-input sequence slot.
func (b Builder) AddSequence() Builder {
	b.sequences = append(b.sequences, nil)
	return b
}

// SetSequence sets or merges the lock at index; a negative index counts
// from the end. If the slot already holds a lock of the same
// unit/absolutivity, the two are merged (max wins); a unit mismatch
// fails IncompatibleSequence.
func (b Builder) SetSequence(index int, lock locktime.LockTime) (Builder, error) {
	if lock.Absolutivity() != locktime.Relative {
		return Builder{}, contract.NewError(contract.IncompatibleSequence, "only relative locktimes may be set on a sequence slot")
	}
	i := index
	if i < 0 {
		i = len(b.sequences) + i
	}
	if i < 0 || i >= len(b.sequences) {
		return Builder{}, contract.NewError(contract.NoSuchSequence, "sequence index out of range")
	}
	if b.sequences[i] == nil {
		l := lock
		b.sequences[i] = &l
		return b, nil
	}
	if !b.sequences[i].Compatible(lock) {
		return Builder{}, contract.NewError(contract.IncompatibleSequence, "sequence unit/absolutivity mismatch")
	}
	merged := b.sequences[i].Merge(lock)
	b.sequences[i] = &merged
	return b, nil
}

// SetLockTime sets or merges the transaction-level absolute locktime.
func (b Builder) SetLockTime(lock locktime.LockTime) (Builder, error) {
	if lock.Absolutivity() != locktime.Absolute {
		return Builder{}, contract.NewError(contract.IncompatibleSequence, "only absolute locktimes may be set on lock_time")
	}
	if b.lockTime == nil {
		l := lock
		b.lockTime = &l
		return b, nil
	}
	if !b.lockTime.Compatible(lock) {
		return Builder{}, contract.NewError(contract.IncompatibleSequence, "lock_time unit/absolutivity mismatch")
	}
	merged := b.lockTime.Merge(lock)
	b.lockTime = &merged
	return b, nil
}

// AddAmount grows the builder's context funds, modelling an externally
// contributed input.
func (b Builder) AddAmount(amount btcutil.Amount) Builder {
	b.ctx.AddAmount(amount)
	return b
}

// AddFees debits amount from funds and credits the fee accumulator.
func (b Builder) AddFees(amount btcutil.Amount) (Builder, error) {
	if err := b.ctx.SpendAmount(amount); err != nil {
		return Builder{}, err
	}
	b.fees += amount
	return b, nil
}

// SpendAmount debits amount from funds without any corresponding output or
// fee bookkeeping (used by ensure_amount-style bookkeeping).
func (b Builder) SpendAmount(amount btcutil.Amount) (Builder, error) {
	if err := b.ctx.SpendAmount(amount); err != nil {
		return Builder{}, err
	}
	return b, nil
}

func (b Builder) SetLabel(label string) Builder { b.label = label; return b }
func (b Builder) SetColor(color string) Builder { b.color = color; return b }

// AttachSIMP records a SIMP (Sapio Interactive Metadata Protocol) tag by
// protocol number on the finalized template.
func (b Builder) AttachSIMP(protocol uint16, value json.RawMessage) Builder {
	b.simp[protocol] = value
	return b
}

// AddGuard appends an extra clause that must hold in conjunction with the
// template's CTV clause; carried through to the compiled template for the
// compiler to fold into the branch policy.
func (b Builder) AddGuard(c clause.Clause) Builder {
	b.guards = append(b.guards, c)
	return b
}

// SetMinFeerate records a minimum sats/vbyte the compiler must verify this
// template's amount range satisfies.
func (b Builder) SetMinFeerate(satsPerVByte int64) Builder {
	b.minFeerate = &satsPerVByte
	return b
}

// EstimateTxSize returns a conservative weight estimate: the base
// transaction's serialized weight plus a caller-supplied witness
// estimate. The witness estimate is never derived from the descriptor;
// callers that know their spend path supply a tighter number.
func (b Builder) EstimateTxSize(estimatedWitnessWeight int64) int64 {
	tx := b.rawTx()
	return int64(tx.SerializeSizeStripped())*4 + estimatedWitnessWeight
}

// rawTx assembles the unsigned skeleton transaction from the builder's
// current state, without computing the CTV hash.
func (b Builder) rawTx() *wire.MsgTx {
	tx := wire.NewMsgTx(b.version)
	for i := range b.sequences {
		// An unset slot encodes as a relative time lock of zero windows:
		// immediately satisfiable, but with relative-locktime semantics
		// still enabled so CTV commits to a stable default.
		seq := locktime.RelTime(0).Sequence()
		if b.sequences[i] != nil {
			seq = b.sequences[i].Sequence()
		}
		// input 0's prev-outpoint is a sentinel until the binder replaces
		// it; every remaining input carries the same placeholder, since
		// the builder itself never assigns concrete outpoints.
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{},
			Sequence:         seq,
		})
	}
	for _, o := range b.outputs {
		pkScript := scriptPubKeyFor(o.contract, b.ctx)
		tx.AddTxOut(&wire.TxOut{Value: int64(o.amount), PkScript: pkScript})
	}
	if b.lockTime != nil {
		tx.LockTime = b.lockTime.Value()
	}
	return tx
}

// Finalize constructs the Template: the finished tx, its BIP-119 hash at
// input 0, and the carried-forward metadata.
func (b Builder) Finalize() (compiled.Template, error) {
	tx := b.rawTx()
	hash := CTVHash(tx, 0)

	perInput := make([]uint32, len(tx.TxIn))
	for i, in := range tx.TxIn {
		perInput[i] = in.Sequence
	}

	outputs := make([]compiled.Output, len(b.outputs))
	var total btcutil.Amount
	for i, o := range b.outputs {
		outputs[i] = compiled.Output{Amount: o.amount, Contract: o.contract, Metadata: o.metadata}
		total += o.amount
	}

	return compiled.Template{
		Tx:                  tx,
		PerInputSequence:    perInput,
		Outputs:             outputs,
		CTVHash:             hash,
		CTVIndex:            0,
		Guards:              append([]clause.Clause(nil), b.guards...),
		Label:               b.label,
		Color:               b.color,
		SIMP:                b.simp,
		Max:                 total + b.fees,
		MinFeerateSatsVByte: b.minFeerate,
	}, nil
}

// scriptPubKeyFor turns a compiled sub-contract's address into a concrete
// PkScript: AddressStandard decodes through the target network, the other
// two kinds already carry a raw script.
func scriptPubKeyFor(c *compiled.Object, ctx *contract.Context) []byte {
	if c == nil {
		return nil
	}
	switch c.Address.Kind {
	case compiled.AddressStandard:
		net := ctx.Network()
		if net == nil {
			return nil
		}
		addr, err := btcutil.DecodeAddress(c.Address.Address, net)
		if err != nil {
			return nil
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil
		}
		return script
	default:
		return c.Address.Script
	}
}

// ScriptPubKeyForTaproot is a small helper for callers that want a
// pay-to-taproot output script directly from a Taproot output key, without
// going through a full Compilable.
func ScriptPubKeyForTaproot(outputKey []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().AddOp(txscript.OP_1).AddData(outputKey).Script()
}
