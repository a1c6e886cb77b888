package binder

import (
	"encoding/json"
	"sort"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/sapio-lang/sapio/compiled"
	"github.com/sapio-lang/sapio/contract"
)

// OverrideMap supplies concrete outpoints for a multi-input template's
// non-CTV-covered inputs (index ≥ 1), keyed by the template's CTV hash. A
// nil entry at a given index falls back to a deterministic mock outpoint.
type OverrideMap map[chainhash.Hash][]*wire.OutPoint

// stackItem is one pending (outpoint, sub-contract) pair awaiting binding.
type stackItem struct {
	outpoint wire.OutPoint
	object   *compiled.Object
}

// binding carries the mutable state of one Bind call: the tx index, the
// emulator, the override table and the monotonic mock-vout counter used
// for inputs the caller never supplied a real outpoint for.
type binding struct {
	idx       TxIndex
	emulator  contract.Emulator
	overrides OverrideMap
	mockVout  uint32
}

// mockOutpointHash is the fixed zero hash mock outpoints use; only the vout
// varies, monotonically, across the whole bind operation.
var mockOutpointHash chainhash.Hash

func (b *binding) mockOutpoint() wire.OutPoint {
	op := wire.OutPoint{Hash: mockOutpointHash, Index: b.mockVout}
	b.mockVout++
	return op
}

// Bind walks obj depth-first from seed, producing one LinkedPSBT per
// CTV-enforced and suggested template and recursing into every output
// that funds a further sub-contract.
func Bind(obj *compiled.Object, seed wire.OutPoint, overrides OverrideMap, idx TxIndex, emulator contract.Emulator) (*Program, error) {
	if overrides == nil {
		overrides = OverrideMap{}
	}
	b := &binding{idx: idx, emulator: emulator, overrides: overrides}

	program := &Program{Program: make(map[string]PathPrograms)}
	stack := []stackItem{{outpoint: seed, object: obj}}

	for len(stack) > 0 {
		n := len(stack) - 1
		item := stack[n]
		stack = stack[:n]

		templates := orderedTemplates(item.object)
		entry := program.Program[item.object.RootPath.String()]
		if entry.ContinueAPIs == nil {
			entry.ContinueAPIs = item.object.ContinueAPIs
		}

		for _, tpl := range templates {
			linked, pushes, err := b.bindTemplate(item.outpoint, item.object, tpl)
			if err != nil {
				return nil, err
			}
			entry.Txs = append(entry.Txs, linked)
			stack = append(stack, pushes...)
		}

		program.Program[item.object.RootPath.String()] = entry
	}

	return program, nil
}

// orderedTemplates merges a contract's CTV-enforced and suggested templates
// into one deterministically ordered slice (sorted by CTV hash), since both
// produce bindings.
func orderedTemplates(obj *compiled.Object) []compiled.Template {
	out := make([]compiled.Template, 0, len(obj.CTVToTx)+len(obj.SuggestedTxs))
	for _, t := range obj.CTVToTx {
		out = append(out, t)
	}
	for _, t := range obj.SuggestedTxs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CTVHash.String() < out[j].CTVHash.String()
	})
	return out
}

// bindTemplate binds one template against outpoint: it fills in every
// input's prevout, wraps the result in a PSBT, populates the descriptor-
// specific Taproot fields for the spend of outpoint itself, invokes the
// emulator, commits the resulting transaction to the index, and returns the
// stack pushes for every output funding a further sub-contract.
func (b *binding) bindTemplate(outpoint wire.OutPoint, obj *compiled.Object, tpl compiled.Template) (LinkedPSBT, []stackItem, error) {
	tx := tpl.Tx.Copy()
	if len(tx.TxIn) == 0 {
		return LinkedPSBT{}, nil, contract.NewError(contract.PsbtError, "binder: template has no inputs")
	}
	tx.TxIn[0].PreviousOutPoint = outpoint

	overridesForHash := b.overrides[tpl.CTVHash]
	for i := 1; i < len(tx.TxIn); i++ {
		if i < len(overridesForHash) && overridesForHash[i] != nil {
			tx.TxIn[i].PreviousOutPoint = *overridesForHash[i]
			continue
		}
		tx.TxIn[i].PreviousOutPoint = b.mockOutpoint()
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return LinkedPSBT{}, nil, contract.WrapError(contract.PsbtError, err)
	}

	for i := range packet.Inputs {
		prevOp := tx.TxIn[i].PreviousOutPoint
		if prevTx, ok := b.idx.LookupTx(prevOp.Hash); ok && int(prevOp.Index) < len(prevTx.TxOut) {
			packet.Inputs[i].WitnessUtxo = prevTx.TxOut[prevOp.Index]
		}
	}

	// Input 0 spends obj's own Taproot output: attach its internal key and,
	// when this template is one of obj's own script-path leaves, the leaf
	// script and control block to reveal. tap_merkle_root is left unset:
	// CompiledObject keeps only the internal key and per-leaf control
	// blocks, which already encode the inclusion path a verifier needs.
	packet.Inputs[0].TaprootInternalKey = append([]byte(nil), obj.InternalKeyXOnly[:]...)
	if tpl.Leaf != nil {
		packet.Inputs[0].TaprootLeafScript = []*psbt.TaprootTapLeafScript{{
			ControlBlock: tpl.Leaf.ControlBlock,
			Script:       tpl.Leaf.Script,
			LeafVersion:  txscript.BaseLeafVersion,
		}}
	}

	if b.emulator != nil {
		if err := b.emulator.Sign(packet); err != nil {
			return LinkedPSBT{}, nil, contract.WrapError(contract.PsbtError, err)
		}
	}

	// The CTV covenant and Taproot script-path witness are only completed
	// at spend time; what the binder commits to the index is the unsigned
	// skeleton, whose txid is already final (witness data never affects
	// txid for a segwit transaction).
	if err := b.idx.AddTx(tx); err != nil {
		return LinkedPSBT{}, nil, contract.WrapError(contract.PsbtError, err)
	}
	txid := tx.TxHash()

	var pushes []stackItem
	outputMeta := make([]json.RawMessage, len(tpl.Outputs))
	for j, out := range tpl.Outputs {
		outputMeta[j] = out.Metadata
		if out.Contract != nil {
			pushes = append(pushes, stackItem{
				outpoint: wire.OutPoint{Hash: txid, Index: uint32(j)},
				object:   out.Contract,
			})
		}
	}

	meta, err := json.Marshal(struct {
		Label string                     `json:"label,omitempty"`
		Color string                     `json:"color,omitempty"`
		SIMP  map[uint16]json.RawMessage `json:"simp,omitempty"`
	}{Label: tpl.Label, Color: tpl.Color, SIMP: tpl.SIMP})
	if err != nil {
		return LinkedPSBT{}, nil, contract.WrapError(contract.SerializationError, err)
	}

	linked := LinkedPSBT{
		PSBT:                packet,
		Metadata:            meta,
		OutputMetadata:      outputMeta,
		AddedOutputMetadata: []json.RawMessage{},
	}
	return linked, pushes, nil
}
