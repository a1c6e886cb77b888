// Package compiled defines the compiler's output: CompiledObject and the
// Template it is built from, plus their canonical JSON encodings.
package compiled

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/sapio-lang/sapio/clause"
	"github.com/sapio-lang/sapio/effects"
)

// Output is one output of a Template: an amount, a reference to the
// compiled sub-contract funding it (used by the binder to keep walking),
// and free-form per-output metadata.
type Output struct {
	Amount   btcutil.Amount
	Contract *Object
	Metadata json.RawMessage
}

// Template is the builder's finalized form of one transaction skeleton.
type Template struct {
	Tx                  *wire.MsgTx
	PerInputSequence     []uint32
	Outputs              []Output
	CTVHash              chainhash.Hash
	CTVIndex             uint32
	Guards               []clause.Clause
	Label                string
	Color                string
	SIMP                 map[uint16]json.RawMessage
	Max                  btcutil.Amount
	MinFeerateSatsVByte  *int64

	// Leaf is the Taproot script-path leaf this template's CTV clause was
	// compiled into, filled in by the compiler once the Huffman tree is
	// built. Nil for suggested templates that never became a script leaf
	// of their own (only their guard clause did).
	Leaf *ScriptLeaf
}

// ScriptLeaf is one Taproot script-path spend candidate: the leaf script
// itself and the control block a spender reveals it with (leaf-version
// byte, the internal key, and the Merkle inclusion proof).
type ScriptLeaf struct {
	Script       []byte
	ControlBlock []byte
}

// templateJSON is the canonical wire form of a Template.
type templateJSON struct {
	Tx                  string                      `json:"tx"`
	PerInputSequence     []uint32                    `json:"per_input_sequence"`
	Outputs              []outputJSON                `json:"outputs"`
	CTVHash              string                      `json:"ctv_hash"`
	CTVIndex             uint32                      `json:"ctv_index"`
	Label                string                      `json:"label,omitempty"`
	Color                string                      `json:"color,omitempty"`
	SIMP                 map[string]json.RawMessage  `json:"simp,omitempty"`
	Max                  int64                       `json:"max"`
	MinFeerateSatsVByte  *int64                      `json:"min_feerate_sats_vbyte,omitempty"`
	ControlBlock         string                      `json:"control_block,omitempty"`
	LeafScript           string                      `json:"leaf_script,omitempty"`
}

type outputJSON struct {
	Amount   int64           `json:"amount"`
	Address  string          `json:"address,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Contract *Object         `json:"contract,omitempty"`
}

func (t Template) MarshalJSON() ([]byte, error) {
	var rawTx []byte
	if t.Tx != nil {
		buf := make([]byte, 0, t.Tx.SerializeSize())
		w := &byteSliceWriter{buf: buf}
		if err := t.Tx.Serialize(w); err != nil {
			return nil, fmt.Errorf("compiled: serialize tx: %w", err)
		}
		rawTx = w.buf
	}
	simp := make(map[string]json.RawMessage, len(t.SIMP))
	for k, v := range t.SIMP {
		simp[fmt.Sprintf("%d", k)] = v
	}
	outputs := make([]outputJSON, len(t.Outputs))
	for i, o := range t.Outputs {
		oj := outputJSON{Amount: int64(o.Amount), Metadata: o.Metadata}
		if o.Contract != nil {
			oj.Address = o.Contract.Address.String()
			oj.Contract = o.Contract
		}
		outputs[i] = oj
	}
	var controlBlock, leafScript string
	if t.Leaf != nil {
		controlBlock = hex.EncodeToString(t.Leaf.ControlBlock)
		leafScript = hex.EncodeToString(t.Leaf.Script)
	}
	return json.Marshal(templateJSON{
		Tx:                  hex.EncodeToString(rawTx),
		PerInputSequence:     t.PerInputSequence,
		Outputs:              outputs,
		CTVHash:              t.CTVHash.String(),
		CTVIndex:             t.CTVIndex,
		Label:                t.Label,
		Color:                t.Color,
		SIMP:                 simp,
		Max:                  int64(t.Max),
		MinFeerateSatsVByte:  t.MinFeerateSatsVByte,
		ControlBlock:         controlBlock,
		LeafScript:           leafScript,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON: it rebuilds the wire
// transaction from its serialized bytes, the CTV hash from its chainhash
// string form, and each output's nested Contract when present, so that
// deserialize(serialize(T)) == T.
func (t *Template) UnmarshalJSON(data []byte) error {
	var raw templateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var tx *wire.MsgTx
	if raw.Tx != "" {
		rawTx, err := hex.DecodeString(raw.Tx)
		if err != nil {
			return fmt.Errorf("compiled: decode tx hex: %w", err)
		}
		tx = wire.NewMsgTx(0)
		if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
			return fmt.Errorf("compiled: deserialize tx: %w", err)
		}
	}

	var ctvHash chainhash.Hash
	if raw.CTVHash != "" {
		h, err := chainhash.NewHashFromStr(raw.CTVHash)
		if err != nil {
			return fmt.Errorf("compiled: parse ctv_hash: %w", err)
		}
		ctvHash = *h
	}

	simp := make(map[uint16]json.RawMessage, len(raw.SIMP))
	for k, v := range raw.SIMP {
		n, err := strconv.ParseUint(k, 10, 16)
		if err != nil {
			return fmt.Errorf("compiled: parse simp protocol number %q: %w", k, err)
		}
		simp[uint16(n)] = v
	}

	outputs := make([]Output, len(raw.Outputs))
	for i, oj := range raw.Outputs {
		outputs[i] = Output{Amount: btcutil.Amount(oj.Amount), Contract: oj.Contract, Metadata: oj.Metadata}
	}

	var leaf *ScriptLeaf
	if raw.ControlBlock != "" {
		cb, err := hex.DecodeString(raw.ControlBlock)
		if err != nil {
			return fmt.Errorf("compiled: decode control_block hex: %w", err)
		}
		script, err := hex.DecodeString(raw.LeafScript)
		if err != nil {
			return fmt.Errorf("compiled: decode leaf_script hex: %w", err)
		}
		leaf = &ScriptLeaf{ControlBlock: cb, Script: script}
	}

	*t = Template{
		Tx:                  tx,
		PerInputSequence:    raw.PerInputSequence,
		Outputs:             outputs,
		CTVHash:             ctvHash,
		CTVIndex:            raw.CTVIndex,
		Label:               raw.Label,
		Color:               raw.Color,
		SIMP:                simp,
		Max:                 btcutil.Amount(raw.Max),
		MinFeerateSatsVByte: raw.MinFeerateSatsVByte,
		Leaf:                leaf,
	}
	return nil
}

// byteSliceWriter adapts a growable []byte to io.Writer without pulling in
// bytes.Buffer just for Serialize's sake.
type byteSliceWriter struct{ buf []byte }

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// AmountRange is the legal funding-amount window for a CompiledObject.
type AmountRange struct {
	Min btcutil.Amount
	Max btcutil.Amount
}

// Update widens the range to include a newly observed template max.
func (r *AmountRange) Update(max btcutil.Amount) {
	if r.Min == 0 && r.Max == 0 {
		r.Min, r.Max = max, max
		return
	}
	if max < r.Min {
		r.Min = max
	}
	if max > r.Max {
		r.Max = max
	}
}

// ContinuationPoint is a live re-entry into compilation: an external effect
// may supply arguments at this path conforming to Schema to produce a new
// suggested template.
type ContinuationPoint struct {
	Schema json.RawMessage
	Path   effects.EffectPath
}

// maxOpReturnData is the standardness limit on OP_RETURN payloads.
const maxOpReturnData = 80

// ErrOpReturnTooLong is returned by NewOpReturn for payloads over the
// standardness limit.
var ErrOpReturnTooLong = errors.New("compiled: op_return data exceeds 80 bytes")

// NewOpReturn wraps data in a provably-unspendable OP_RETURN script and
// returns it as an ExtendedAddress.
func NewOpReturn(data []byte) (ExtendedAddress, error) {
	if len(data) > maxOpReturnData {
		return ExtendedAddress{}, fmt.Errorf("%w: got %d bytes", ErrOpReturnTooLong, len(data))
	}
	script, err := txscript.NullDataScript(data)
	if err != nil {
		return ExtendedAddress{}, fmt.Errorf("compiled: build op_return script: %w", err)
	}
	return ExtendedAddress{Kind: AddressOpReturn, Script: script}, nil
}

// AddressKind discriminates ExtendedAddress's three representations.
type AddressKind int

const (
	AddressStandard AddressKind = iota
	AddressOpReturn
	AddressUnknown
)

// ExtendedAddress is a Bitcoin address, an OP_RETURN-wrapped script, or a
// raw script the compiler could not classify as either.
type ExtendedAddress struct {
	Kind    AddressKind
	Address string // AddressStandard
	Script  []byte // AddressOpReturn / AddressUnknown
}

func (a ExtendedAddress) String() string {
	switch a.Kind {
	case AddressStandard:
		return a.Address
	case AddressOpReturn, AddressUnknown:
		return hex.EncodeToString(a.Script)
	default:
		return ""
	}
}

func (a ExtendedAddress) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AddressStandard:
		return json.Marshal(map[string]string{"Address": a.Address})
	case AddressOpReturn:
		return json.Marshal(map[string]string{"OpReturn": hex.EncodeToString(a.Script)})
	default:
		return json.Marshal(map[string]string{"Unknown": hex.EncodeToString(a.Script)})
	}
}

// UnmarshalJSON is the inverse of MarshalJSON, dispatching on whichever of
// the three tagged keys is present.
func (a *ExtendedAddress) UnmarshalJSON(data []byte) error {
	var tagged map[string]string
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if v, ok := tagged["Address"]; ok {
		*a = ExtendedAddress{Kind: AddressStandard, Address: v}
		return nil
	}
	if v, ok := tagged["OpReturn"]; ok {
		script, err := hex.DecodeString(v)
		if err != nil {
			return fmt.Errorf("compiled: decode OpReturn script hex: %w", err)
		}
		*a = ExtendedAddress{Kind: AddressOpReturn, Script: script}
		return nil
	}
	if v, ok := tagged["Unknown"]; ok {
		script, err := hex.DecodeString(v)
		if err != nil {
			return fmt.Errorf("compiled: decode Unknown script hex: %w", err)
		}
		*a = ExtendedAddress{Kind: AddressUnknown, Script: script}
		return nil
	}
	return fmt.Errorf("compiled: address JSON has none of Address/OpReturn/Unknown")
}

// Metadata is a CompiledObject's free-form annotation bag plus its SIMP
// (Sapio Interactive Metadata Protocol) tags, keyed by protocol number.
type Metadata struct {
	Extra map[string]json.RawMessage
	SIMP  map[uint16]json.RawMessage
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Extra)+1)
	for k, v := range m.Extra {
		out[k] = v
	}
	if len(m.SIMP) > 0 {
		simp := make(map[string]json.RawMessage, len(m.SIMP))
		for k, v := range m.SIMP {
			simp[fmt.Sprintf("%d", k)] = v
		}
		raw, err := json.Marshal(simp)
		if err != nil {
			return nil, err
		}
		out["simp"] = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON: every top-level key other
// than "simp" goes back into Extra, and "simp" is split back out into its
// protocol-number-keyed map.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	extra := make(map[string]json.RawMessage, len(flat))
	simp := make(map[uint16]json.RawMessage)
	for k, v := range flat {
		if k != "simp" {
			extra[k] = v
			continue
		}
		var byProtocol map[string]json.RawMessage
		if err := json.Unmarshal(v, &byProtocol); err != nil {
			return fmt.Errorf("compiled: parse metadata simp map: %w", err)
		}
		for pk, pv := range byProtocol {
			n, err := strconv.ParseUint(pk, 10, 16)
			if err != nil {
				return fmt.Errorf("compiled: parse simp protocol number %q: %w", pk, err)
			}
			simp[uint16(n)] = pv
		}
	}
	*m = Metadata{Extra: extra, SIMP: simp}
	return nil
}

// Object is the compiler's result for one contract instance: a DAG of
// transaction templates fingerprinted with BIP-119 hashes, the Taproot
// address guarding them, and every live continuation point.
type Object struct {
	CTVToTx       map[chainhash.Hash]Template
	SuggestedTxs  map[chainhash.Hash]Template
	ContinueAPIs  map[string]ContinuationPoint
	RootPath      effects.EffectPath
	Address       ExtendedAddress
	Descriptor    string
	AmountRange   AmountRange
	Meta          Metadata
	// InternalKeyXOnly is the Taproot internal key this object's address
	// commits to, needed by the binder to populate a PSBT's
	// tap_internal_key field for script-path spends. Empty for objects
	// with no Taproot output (e.g. BareKey's key-path-only address is
	// still Taproot, so this is always populated by the compiler).
	InternalKeyXOnly [32]byte
}

type objectJSON struct {
	TemplateHashToTemplateMap          map[string]Template `json:"template_hash_to_template_map,omitempty"`
	SuggestedTemplateHashToTemplateMap map[string]Template `json:"suggested_template_hash_to_template_map,omitempty"`
	ContinuationPoints                 map[string]continuationPointJSON `json:"continuation_points,omitempty"`
	RootPath                           string               `json:"root_path"`
	Address                            ExtendedAddress      `json:"address"`
	KnownDescriptor                    string               `json:"known_descriptor,omitempty"`
	AmountRange                        amountRangeJSON       `json:"amount_range"`
	Metadata                           Metadata              `json:"metadata"`
	InternalKey                        string               `json:"internal_key,omitempty"`
}

type continuationPointJSON struct {
	Schema json.RawMessage `json:"schema,omitempty"`
	Path   string          `json:"path"`
}

type amountRangeJSON struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

func (o Object) MarshalJSON() ([]byte, error) {
	ctv := make(map[string]Template, len(o.CTVToTx))
	for h, t := range o.CTVToTx {
		ctv[hex.EncodeToString(h[:])] = t
	}
	suggested := make(map[string]Template, len(o.SuggestedTxs))
	for h, t := range o.SuggestedTxs {
		suggested[hex.EncodeToString(h[:])] = t
	}
	continuations := make(map[string]continuationPointJSON, len(o.ContinueAPIs))
	for k, cp := range o.ContinueAPIs {
		continuations[k] = continuationPointJSON{Schema: cp.Schema, Path: cp.Path.String()}
	}
	return json.Marshal(objectJSON{
		TemplateHashToTemplateMap:          ctv,
		SuggestedTemplateHashToTemplateMap: suggested,
		ContinuationPoints:                 continuations,
		RootPath:                           o.RootPath.String(),
		Address:                            o.Address,
		KnownDescriptor:                    o.Descriptor,
		AmountRange:                        amountRangeJSON{Min: int64(o.AmountRange.Min), Max: int64(o.AmountRange.Max)},
		Metadata:                           o.Meta,
		InternalKey:                        hex.EncodeToString(o.InternalKeyXOnly[:]),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON, restoring the hash-keyed
// template maps, the parsed EffectPaths, and the fixed-size internal key,
// so that deserialize(serialize(O)) == O and a bind request can recover a
// fully walkable Object straight from JSON.
func (o *Object) UnmarshalJSON(data []byte) error {
	var raw objectJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	ctv := make(map[chainhash.Hash]Template, len(raw.TemplateHashToTemplateMap))
	for hexKey, t := range raw.TemplateHashToTemplateMap {
		h, err := decodeRawHash(hexKey)
		if err != nil {
			return fmt.Errorf("compiled: template_hash_to_template_map key %q: %w", hexKey, err)
		}
		ctv[h] = t
	}
	suggested := make(map[chainhash.Hash]Template, len(raw.SuggestedTemplateHashToTemplateMap))
	for hexKey, t := range raw.SuggestedTemplateHashToTemplateMap {
		h, err := decodeRawHash(hexKey)
		if err != nil {
			return fmt.Errorf("compiled: suggested_template_hash_to_template_map key %q: %w", hexKey, err)
		}
		suggested[h] = t
	}

	continuations := make(map[string]ContinuationPoint, len(raw.ContinuationPoints))
	for k, cp := range raw.ContinuationPoints {
		path, err := effects.ParsePath(cp.Path)
		if err != nil {
			return fmt.Errorf("compiled: continuation_points[%q].path: %w", k, err)
		}
		continuations[k] = ContinuationPoint{Schema: cp.Schema, Path: path}
	}

	rootPath, err := effects.ParsePath(raw.RootPath)
	if err != nil {
		return fmt.Errorf("compiled: root_path: %w", err)
	}

	var internalKey [32]byte
	if raw.InternalKey != "" {
		decoded, err := hex.DecodeString(raw.InternalKey)
		if err != nil {
			return fmt.Errorf("compiled: internal_key: %w", err)
		}
		copy(internalKey[:], decoded)
	}

	*o = Object{
		CTVToTx:          ctv,
		SuggestedTxs:     suggested,
		ContinueAPIs:     continuations,
		RootPath:         rootPath,
		Address:          raw.Address,
		Descriptor:       raw.KnownDescriptor,
		AmountRange:      AmountRange{Min: btcutil.Amount(raw.AmountRange.Min), Max: btcutil.Amount(raw.AmountRange.Max)},
		Meta:             raw.Metadata,
		InternalKeyXOnly: internalKey,
	}
	return nil
}

// decodeRawHash decodes a 32-byte hash encoded in the same raw (non-
// reversed) byte order Object.MarshalJSON uses for its map keys — distinct
// from chainhash.NewHashFromStr, which reverses for txid-style display.
func decodeRawHash(s string) (chainhash.Hash, error) {
	var h chainhash.Hash
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(decoded) != len(h) {
		return h, fmt.Errorf("expected %d bytes, got %d", len(h), len(decoded))
	}
	copy(h[:], decoded)
	return h, nil
}
