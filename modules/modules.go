// Package modules is the local stand-in for a dynamic plugin bridge: it
// resolves a contract by name and constructor parameters the same way a
// plugin host would hand the compiler a contract built from a loaded
// module, except the "modules" here are the illustrative example contracts
// compiled directly into the binary rather than loaded from a WASM file.
package modules

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/sapio-lang/sapio/contract"
	"github.com/sapio-lang/sapio/contracts"
	"github.com/sapio-lang/sapio/locktime"
)

// CreateRequest names a module ("key" in the WASM bridge's vocabulary) and
// supplies its constructor parameters, plus any effect arguments to seed
// the compilation's effect database with, keyed by path string.
type CreateRequest struct {
	Contract string                                `json:"contract"`
	Funds    int64                                 `json:"funds"`
	Network  string                                `json:"network"`
	Params   json.RawMessage                       `json:"params"`
	Effects  map[string]map[string]json.RawMessage `json:"effects,omitempty"`
}

// List returns the names of every built-in module, for "contract list".
func List() []string {
	return []string{"pay_to_pubkey", "basic_escrow", "undo_send", "vault", "treepay"}
}

// NetworkParams maps a network name to its chain parameters.
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "", "main":
		return &chaincfg.MainNetParams, nil
	case "test":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}

func parsePubKey(hexKey string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(b)
}

// Create constructs the named module's contract. Unknown names and
// malformed params surface as contract.UnknownModule /
// contract.ModuleCouldNotCreateContract errors, mirroring the WASM
// bridge's own failure modes for a module that doesn't exist or whose
// create_contract_by_key call fails.
func Create(req CreateRequest) (contract.Compilable, error) {
	switch req.Contract {
	case "pay_to_pubkey":
		var p struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, moduleCreateErr(req.Contract, err)
		}
		key, err := parsePubKey(p.Key)
		if err != nil {
			return nil, moduleCreateErr(req.Contract, err)
		}
		return contracts.PayToPublicKey{Key: key}, nil

	case "basic_escrow":
		var p struct {
			A      string `json:"a"`
			B      string `json:"b"`
			Escrow string `json:"escrow"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, moduleCreateErr(req.Contract, err)
		}
		a, err := parsePubKey(p.A)
		if err != nil {
			return nil, moduleCreateErr(req.Contract, err)
		}
		b, err := parsePubKey(p.B)
		if err != nil {
			return nil, moduleCreateErr(req.Contract, err)
		}
		e, err := parsePubKey(p.Escrow)
		if err != nil {
			return nil, moduleCreateErr(req.Contract, err)
		}
		return contracts.BasicEscrow{A: a, B: b, Escrow: e}, nil

	case "undo_send":
		var p struct {
			Hot           string `json:"hot"`
			Cold          string `json:"cold"`
			TimeoutBlocks uint16 `json:"timeout_blocks"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, moduleCreateErr(req.Contract, err)
		}
		hot, err := parsePubKey(p.Hot)
		if err != nil {
			return nil, moduleCreateErr(req.Contract, err)
		}
		cold, err := parsePubKey(p.Cold)
		if err != nil {
			return nil, moduleCreateErr(req.Contract, err)
		}
		return contracts.UndoSend{Hot: hot, Cold: cold, Timeout: locktime.RelHeight(p.TimeoutBlocks)}, nil

	case "vault":
		var p struct {
			NSteps        uint32 `json:"n_steps"`
			AmountStep    int64  `json:"amount_step"`
			TimeoutBlocks uint16 `json:"timeout_blocks"`
			MatureBlocks  uint16 `json:"mature_blocks"`
			Hot           string `json:"hot"`
			Cold          string `json:"cold"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, moduleCreateErr(req.Contract, err)
		}
		hot, err := parsePubKey(p.Hot)
		if err != nil {
			return nil, moduleCreateErr(req.Contract, err)
		}
		cold, err := parsePubKey(p.Cold)
		if err != nil {
			return nil, moduleCreateErr(req.Contract, err)
		}
		return contracts.Vault{
			NSteps:     p.NSteps,
			AmountStep: btcutil.Amount(p.AmountStep),
			Timeout:    locktime.RelHeight(p.TimeoutBlocks),
			Mature:     locktime.RelHeight(p.MatureBlocks),
			Hot:        hot,
			Cold:       cold,
		}, nil

	case "treepay":
		var p struct {
			Radix      int `json:"radix"`
			Recipients []struct {
				Amount int64  `json:"amount"`
				Key    string `json:"key"`
			} `json:"recipients"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, moduleCreateErr(req.Contract, err)
		}
		payments := make([]contracts.Payment, 0, len(p.Recipients))
		for _, r := range p.Recipients {
			k, err := parsePubKey(r.Key)
			if err != nil {
				return nil, moduleCreateErr(req.Contract, err)
			}
			payments = append(payments, contracts.Payment{Amount: btcutil.Amount(r.Amount), Key: k})
		}
		return contracts.TreePay{Radix: p.Radix, Recipients: payments}, nil

	default:
		return nil, contract.NewError(contract.UnknownModule, req.Contract)
	}
}

func moduleCreateErr(name string, err error) error {
	return contract.WrapError(contract.ModuleCouldNotCreateContract, fmt.Errorf("module %q: %w", name, err))
}
