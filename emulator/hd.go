package emulator

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/sapio-lang/sapio/clause"
	"github.com/sapio-lang/sapio/template"
)

// childPath turns a 32-byte CTV hash into 8 BIP-32 child indices, one per
// 4-byte big-endian word. The word is used raw, so a word with its top bit
// set selects a hardened child; the derivation only has to be
// deterministic in the hash, not uniformly hardened.
func childPath(hash [32]byte) [8]uint32 {
	var path [8]uint32
	for i := 0; i < 8; i++ {
		path[i] = binary.BigEndian.Uint32(hash[i*4 : i*4+4])
	}
	return path
}

func deriveChild(master *hdkeychain.ExtendedKey, hash [32]byte) (*hdkeychain.ExtendedKey, error) {
	key := master
	for _, idx := range childPath(hash) {
		var err error
		key, err = key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("emulator: derive child: %w", err)
		}
	}
	return key, nil
}

// HDEmulator derives a fresh signing key per CTV hash from a single BIP-32
// master key, instead of enforcing the covenant natively: GetSignerFor
// returns Key(derived_pubkey) rather than CheckTemplateVerify(hash), and
// Sign produces the matching Schnorr signature at bind time. The child
// derivation is keyed by the CTV hash rather than an account/index pair.
type HDEmulator struct {
	master *hdkeychain.ExtendedKey
	net    *chaincfg.Params
}

// NewHDEmulator wraps a master extended key (private, for a server that
// signs). A public-only master can serve GetSignerFor only for hashes whose
// eight words all have the top bit clear, since hardened children cannot
// be derived from a public key.
func NewHDEmulator(master *hdkeychain.ExtendedKey, net *chaincfg.Params) *HDEmulator {
	return &HDEmulator{master: master, net: net}
}

func (e *HDEmulator) GetSignerFor(hash [32]byte) (clause.Clause, error) {
	child, err := deriveChild(e.master, hash)
	if err != nil {
		return clause.Clause{}, err
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return clause.Clause{}, fmt.Errorf("emulator: child pubkey: %w", err)
	}
	return clause.Key(pub), nil
}

// Sign signs input 0 of p's unsigned transaction under the key derived
// from that transaction's own CTV hash (recomputed locally, matching the
// derivation GetSignerFor already committed to the script), attaching a
// TaprootScriptSpendSig for the revealed leaf. Inputs this emulator cannot
// derive a key for (no TaprootLeafScript at index 0) are left untouched.
func (e *HDEmulator) Sign(p *psbt.Packet) error {
	if !e.master.IsPrivate() {
		return nil
	}
	if len(p.Inputs) == 0 || len(p.Inputs[0].TaprootLeafScript) == 0 {
		return nil
	}

	hash := template.CTVHash(p.UnsignedTx, 0)
	child, err := deriveChild(e.master, hash)
	if err != nil {
		return err
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return fmt.Errorf("emulator: child privkey: %w", err)
	}

	fetcher := prevOutFetcherFor(p)
	sigHashes := txscript.NewTxSigHashes(p.UnsignedTx, fetcher)
	leaf := p.Inputs[0].TaprootLeafScript[0]
	tapLeaf := txscript.NewBaseTapLeaf(leaf.Script)

	sigHash, err := txscript.CalcTapscriptSignaturehash(
		sigHashes, txscript.SigHashDefault, p.UnsignedTx, 0, fetcher, tapLeaf,
	)
	if err != nil {
		return fmt.Errorf("emulator: tapscript sighash: %w", err)
	}

	sig, err := schnorr.Sign(priv, sigHash)
	if err != nil {
		return fmt.Errorf("emulator: schnorr sign: %w", err)
	}

	leafHash := tapLeaf.TapHash()
	p.Inputs[0].TaprootScriptSpendSig = append(p.Inputs[0].TaprootScriptSpendSig, &psbt.TaprootScriptSpendSig{
		XOnlyPubKey: schnorr.SerializePubKey(priv.PubKey()),
		LeafHash:    leafHash[:],
		Signature:   sig.Serialize(),
		SigHash:     txscript.SigHashDefault,
	})
	return nil
}

// prevOutFetcherFor builds a txscript.PrevOutputFetcher from whatever
// witness_utxo entries the binder already populated; inputs with none are
// simply absent from the map, which only matters for the (rare)
// multi-input sighash modes this emulator does not otherwise produce.
func prevOutFetcherFor(p *psbt.Packet) txscript.PrevOutputFetcher {
	outs := make(map[wire.OutPoint]*wire.TxOut, len(p.Inputs))
	for i, in := range p.Inputs {
		if in.WitnessUtxo != nil && i < len(p.UnsignedTx.TxIn) {
			outs[p.UnsignedTx.TxIn[i].PreviousOutPoint] = in.WitnessUtxo
		}
	}
	return txscript.NewMultiPrevOutFetcher(outs)
}
