package compiler

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/sapio-lang/sapio/compiled"
	"github.com/sapio-lang/sapio/contract"
)

// taprootAddress computes the Taproot output key from internalKey and the
// leaf-script Merkle root, then derives both the Bitcoin address for the
// target network and the descriptor string recorded on the CompiledObject.
// It also returns the parsed internal key and the output key's Y-parity,
// needed by the caller to build BIP-341 control blocks for script-path
// leaves.
func taprootAddress(ctx *contract.Context, internalKeyXOnly [32]byte, merkleRoot chainhash.Hash, numLeaves int) (compiled.ExtendedAddress, string, *btcec.PublicKey, bool, error) {
	internalKey, err := schnorr.ParsePubKey(internalKeyXOnly[:])
	if err != nil {
		return compiled.ExtendedAddress{}, "", nil, false, contract.WrapError(contract.TaprootBuilderError, err)
	}

	var root []byte
	if numLeaves > 0 {
		root = merkleRoot[:]
	}
	outputKey := txscript.ComputeTaprootOutputKey(internalKey, root)
	outputKeyYIsOdd := outputKey.SerializeCompressed()[0] == secp256k1PubKeyFormatCompressedOdd
	witnessProgram := schnorr.SerializePubKey(outputKey)

	net := ctx.Network()
	if net == nil {
		// Address derivation always needs a network; callers (the CLI,
		// tests) must supply one via contract.NewContext. Falling back
		// silently here would produce addresses nobody asked for.
		return compiled.ExtendedAddress{}, "", nil, false, contract.NewError(contract.TaprootBuilderError, "compiler: no network set on context")
	}

	addr, err := btcutil.NewAddressTaproot(witnessProgram, net)
	if err != nil {
		return compiled.ExtendedAddress{}, "", nil, false, contract.WrapError(contract.TaprootBuilderError, err)
	}

	descriptor := fmt.Sprintf("tr(%s)", hex.EncodeToString(schnorr.SerializePubKey(internalKey)))
	if numLeaves > 0 {
		descriptor = fmt.Sprintf("tr(%s,{...#%d leaves})", hex.EncodeToString(schnorr.SerializePubKey(internalKey)), numLeaves)
	}

	return compiled.ExtendedAddress{Kind: compiled.AddressStandard, Address: addr.EncodeAddress()}, descriptor, internalKey, outputKeyYIsOdd, nil
}

// secp256k1PubKeyFormatCompressedOdd mirrors secp256k1.PubKeyFormatCompressedOdd
// without importing the package solely for one constant.
const secp256k1PubKeyFormatCompressedOdd = 0x03
