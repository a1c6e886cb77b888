package binder

import (
	"encoding/json"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/sapio-lang/sapio/compiled"
)

// LinkedPSBT is one bound transaction: its PSBT plus the metadata carried
// forward from the template and output definitions that produced it.
type LinkedPSBT struct {
	PSBT                *psbt.Packet
	Metadata            json.RawMessage
	OutputMetadata      []json.RawMessage
	AddedOutputMetadata []json.RawMessage
}

type linkedPSBTJSON struct {
	PSBT                string            `json:"psbt"`
	Metadata            json.RawMessage   `json:"metadata,omitempty"`
	OutputMetadata      []json.RawMessage `json:"output_metadata"`
	AddedOutputMetadata []json.RawMessage `json:"added_output_metadata"`
}

func (l LinkedPSBT) MarshalJSON() ([]byte, error) {
	b64, err := l.PSBT.B64Encode()
	if err != nil {
		return nil, err
	}
	return json.Marshal(linkedPSBTJSON{
		PSBT:                b64,
		Metadata:            l.Metadata,
		OutputMetadata:      nonNil(l.OutputMetadata),
		AddedOutputMetadata: nonNil(l.AddedOutputMetadata),
	})
}

func nonNil(s []json.RawMessage) []json.RawMessage {
	if s == nil {
		return []json.RawMessage{}
	}
	return s
}

// PathPrograms is everything bound under one EffectPath: the continuation
// points the compiler recorded there, and every transaction the binder
// produced while walking that sub-contract's templates.
type PathPrograms struct {
	ContinueAPIs map[string]compiled.ContinuationPoint
	Txs          []LinkedPSBT
}

type pathProgramsJSON struct {
	ContinueAPIs map[string]continuationPointJSON `json:"continue_apis,omitempty"`
	Txs          []LinkedPSBT                      `json:"txs"`
}

type continuationPointJSON struct {
	Schema json.RawMessage `json:"schema,omitempty"`
	Path   string          `json:"path"`
}

func (p PathPrograms) MarshalJSON() ([]byte, error) {
	apis := make(map[string]continuationPointJSON, len(p.ContinueAPIs))
	for k, cp := range p.ContinueAPIs {
		apis[k] = continuationPointJSON{Schema: cp.Schema, Path: cp.Path.String()}
	}
	return json.Marshal(pathProgramsJSON{ContinueAPIs: apis, Txs: p.Txs})
}

// Program is the full output of a bind operation: every EffectPath the
// walk visited, keyed by its string form.
type Program struct {
	Program map[string]PathPrograms
}

type programJSON struct {
	Program map[string]PathPrograms `json:"program"`
}

func (p Program) MarshalJSON() ([]byte, error) {
	return json.Marshal(programJSON{Program: p.Program})
}
