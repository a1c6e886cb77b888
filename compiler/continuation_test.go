package compiler_test

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapio-lang/sapio/clause"
	"github.com/sapio-lang/sapio/compiled"
	"github.com/sapio-lang/sapio/compiler"
	"github.com/sapio-lang/sapio/contract"
	"github.com/sapio-lang/sapio/effects"
	"github.com/sapio-lang/sapio/template"
)

// sellableAsset is a minimal ABI exposing one continuation, "sell", guarded
// by the owner's key and parameterized by a buyer key supplied as an
// effect.
type sellableAsset struct {
	owner *btcec.PublicKey
}

func (s sellableAsset) ThenFns() []contract.ThenFunc { return nil }
func (s sellableAsset) FinishFns() []contract.FinishFunc {
	return []contract.FinishFunc{{
		Name: "keep",
		Guard: contract.Guard{
			Name: "keep.owner",
			Mode: contract.Cached,
			Eval: func(ctx *contract.Context) (clause.Clause, error) { return clause.Key(s.owner), nil },
		},
	}}
}

func (s sellableAsset) FinishOrFns() []contract.FinishOrFunc {
	return []contract.FinishOrFunc{{
		Name: "sell",
		Guards: []contract.Guard{{
			Name: "sell.owner",
			Mode: contract.Cached,
			Eval: func(ctx *contract.Context) (clause.Clause, error) { return clause.Key(s.owner), nil },
		}},
		Body: func(ctx *contract.Context, args json.RawMessage) ([]compiled.Template, error) {
			buyer := s.owner
			if args != nil {
				var decoded struct {
					Buyer string `json:"buyer"`
				}
				if err := json.Unmarshal(args, &decoded); err != nil {
					return nil, err
				}
				pubBytes, err := hex.DecodeString(decoded.Buyer)
				if err != nil {
					return nil, err
				}
				buyer, err = btcec.ParsePubKey(pubBytes)
				if err != nil {
					return nil, err
				}
			}
			// Default path (args == nil) proposes paying back to the
			// owner unchanged, since no buyer has been named yet.
			b := template.New(ctx)
			b, err := b.AddOutput(ctx.Funds(), contract.BareKey{Key: buyer}, nil)
			if err != nil {
				return nil, err
			}
			tpl, err := b.Finalize()
			if err != nil {
				return nil, err
			}
			return []compiled.Template{tpl}, nil
		},
	}}
}

func (s sellableAsset) EnsureAmount(ctx *contract.Context) (compiled.AmountRange, error) {
	funds := ctx.Funds()
	return compiled.AmountRange{Min: funds, Max: funds}, nil
}

func (s sellableAsset) Metadata(ctx *contract.Context) (compiled.Metadata, error) {
	return compiled.Metadata{}, nil
}

// A continuation with one effect-DB entry produces two suggested
// templates (default + the effect) and exactly one continuation point,
// with no CTV-enforced branches added.
func TestCompileContinuationWithEffect(t *testing.T) {
	owner := newKey(t)
	priv2, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	buyer := priv2.PubKey()

	ctx := contract.NewContext(100_000, &chaincfg.RegressionNetParams, nil)

	sellPath := ctx.Path().Push(effects.FinishOrFnFragment())
	namedSell, err := effects.NamedFragment("sell")
	require.NoError(t, err)
	sellPath = sellPath.Push(namedSell)

	payload, err := json.Marshal(map[string]interface{}{
		"price": 10_000,
		"buyer": hex.EncodeToString(buyer.SerializeCompressed()),
	})
	require.NoError(t, err)

	edb := effects.NewEditable()
	edb.Set(sellPath, "offer1", payload)
	ctx = ctx.WithEffects(edb.Finish())

	obj, err := compiler.Compile(sellableAsset{owner: owner}, ctx)
	require.NoError(t, err)

	assert.Empty(t, obj.CTVToTx)
	assert.Len(t, obj.SuggestedTxs, 2, "default path and the offer1 effect each propose a template")
	require.Len(t, obj.ContinueAPIs, 1)
	for path := range obj.ContinueAPIs {
		assert.Contains(t, path, "sell")
		assert.Contains(t, path, "@suggested")
	}
}
