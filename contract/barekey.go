package contract

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/sapio-lang/sapio/compiled"
)

// BareKey is the trivial Compilable: a single x-only public key compiled
// directly to a key-path-only Taproot output, with no script tree and no
// continuation surface. It is the leaf case every recursive contract
// bottoms out at (a treepay leaf, a vault's final payout, a channel's
// settlement key), and it is what lets template.Builder.AddOutput treat
// "pay straight to a key" the same as "pay to a nested contract" without a
// special case.
type BareKey struct {
	Key *btcec.PublicKey
}

var _ Compilable = BareKey{}

// Compile implements Compilable: the address is the Taproot output key
// with no Merkle commitment (key-path spend only), the amount range is
// exactly ctx's current funds, and every table is empty.
func (k BareKey) Compile(ctx *Context) (*compiled.Object, error) {
	outputKey := txscript.ComputeTaprootOutputKey(k.Key, nil)
	witnessProgram := schnorr.SerializePubKey(outputKey)

	net := ctx.Network()
	if net == nil {
		return nil, NewError(TaprootBuilderError, "contract: BareKey.Compile requires a network on Context")
	}
	addr, err := btcutil.NewAddressTaproot(witnessProgram, net)
	if err != nil {
		return nil, WrapError(TaprootBuilderError, err)
	}

	var internalKey [32]byte
	compressed := k.Key.SerializeCompressed()
	copy(internalKey[:], compressed[1:])

	funds := ctx.Funds()
	return &compiled.Object{
		CTVToTx:      map[chainhash.Hash]compiled.Template{},
		SuggestedTxs: map[chainhash.Hash]compiled.Template{},
		ContinueAPIs: map[string]compiled.ContinuationPoint{},
		RootPath:     ctx.Path(),
		Address: compiled.ExtendedAddress{
			Kind:    compiled.AddressStandard,
			Address: addr.EncodeAddress(),
		},
		AmountRange:      compiled.AmountRange{Min: funds, Max: funds},
		InternalKeyXOnly: internalKey,
	}, nil
}
