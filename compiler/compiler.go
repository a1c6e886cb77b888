// Package compiler implements the compilation algorithm: given a contract
// ABI and a Context, walk its then-, finish- and continuation-function
// tables, derive effect paths for each, evaluate guards and compile-if
// predicates, recursively compile nested contracts via the template
// builder, and assemble the surviving branch clauses into a Taproot
// script tree.
package compiler

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/sapio-lang/sapio/clause"
	"github.com/sapio-lang/sapio/compiled"
	"github.com/sapio-lang/sapio/contract"
	"github.com/sapio-lang/sapio/effects"
)

// Compile runs the full compilation algorithm against abi under ctx,
// producing the CompiledObject. A single failing branch aborts the whole
// compilation; there is no partial-result recovery.
func Compile(abi contract.ABI, ctx *contract.Context) (*compiled.Object, error) {
	thenFns := abi.ThenFns()
	finishFns := abi.FinishFns()
	finishOrFns := abi.FinishOrFns()
	if len(thenFns) == 0 && len(finishFns) == 0 && len(finishOrFns) == 0 {
		return nil, contract.NewError(contract.EmptyPolicy, "contract exposes no then/finish/continue functions")
	}

	cache := newGuardCache()

	seedRange, err := abi.EnsureAmount(ctx)
	if err != nil {
		return nil, err
	}

	var (
		amountRange = seedRange
		ctvToTx     = make(map[chainhash.Hash]compiled.Template)
		suggested   = make(map[chainhash.Hash]compiled.Template)
		continueAPI = make(map[string]compiled.ContinuationPoint)
		branches    []clause.Clause
		weights     []uint32
		// branchCTVHash tags each entry of branches with the CTV hash of
		// the then-function template it represents, so that once the
		// Taproot tree is built the resulting leaf's control block can be
		// attached back onto that exact template.
		// Entries from finish-functions and continuation guards carry
		// a nil tag: an Or guard may contribute several leaves, and each
		// of them gets its own nil entry.
		branchCTVHash []*chainhash.Hash
		firstKey      *clauseKeyLeaf
	)

	// Then-functions: CTV-enforced transitions, path @then_fn/name.
	thenRoot := ctx.Derive(effects.ThenFnFragment())
	for _, fn := range thenFns {
		fnCtx := thenRoot.Derive(mustNamed(fn.Name))

		cc, err := evalCompileIfs(fnCtx, fn.CompileIfs, cache)
		if err != nil {
			return nil, err
		}
		if cc.Type == contract.Never || cc.Type == contract.Skippable {
			continue
		}

		guardClause, err := evalGuards(fnCtx, fn.Guards, cache)
		if err != nil {
			return nil, err
		}

		nextCtx := fnCtx.Derive(effects.NextFragment())
		templates, err := fn.Body(nextCtx)
		if err != nil {
			return nil, err
		}

		if len(templates) == 0 {
			if cc.Type == contract.Nullable {
				continue
			}
			return nil, contract.NewError(contract.MissingTemplates, fmt.Sprintf("then-function %q produced no templates", fn.Name))
		}
		if clause.Simplify(guardClause).Kind() == clause.UnsatisfiableKind {
			return nil, contract.NewError(contract.MissingTemplates, fmt.Sprintf("then-function %q has an Unsatisfiable guard; use a compile-if instead", fn.Name))
		}

		for _, tpl := range templates {
			amountRange.Update(tpl.Max)
			ctvToTx[tpl.CTVHash] = tpl
			ctvClause, err := ctx.CTVEmulator(tpl.CTVHash)
			if err != nil {
				return nil, err
			}
			extra := append([]clause.Clause(nil), tpl.Guards...)
			extra = append(extra, ctvClause)
			hash := tpl.CTVHash
			branches = append(branches, clause.And(append([]clause.Clause{guardClause}, extra...)...))
			weights = append(weights, uint32(1))
			branchCTVHash = append(branchCTVHash, &hash)
		}
	}

	// Continuation ("finish-or") functions: suggested templates plus a
	// recorded re-entry point, path @finish_or_fn/name/@suggested.
	finishOrRoot := ctx.Derive(effects.FinishOrFnFragment())
	for _, fn := range finishOrFns {
		fnCtx := finishOrRoot.Derive(mustNamed(fn.Name))

		cc, err := evalCompileIfs(fnCtx, fn.CompileIfs, cache)
		if err != nil {
			return nil, err
		}
		if cc.Type == contract.Never || cc.Type == contract.Skippable {
			continue
		}

		guardClause, err := evalGuards(fnCtx, fn.Guards, cache)
		if err != nil {
			return nil, err
		}

		suggestedRoot := fnCtx.Derive(effects.SuggestedFragment())

		var templates []compiled.Template

		defaultCtx := suggestedRoot.Derive(effects.DefaultEffectFragment())
		defaultTemplates, err := fn.Body(defaultCtx, nil)
		if err != nil {
			return nil, err
		}
		templates = append(templates, defaultTemplates...)

		effectsRoot := suggestedRoot.Derive(effects.EffectsFragment())
		entries := ctx.Effects().Get(fnCtx.Path())
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
		for _, kv := range entries {
			namedFrag, err := effects.NamedFragment(kv.Key)
			if err != nil {
				return nil, contract.WrapError(contract.EffectDBError, err)
			}
			effectCtx := effectsRoot.Derive(namedFrag)
			effectTemplates, err := fn.Body(effectCtx, kv.Value)
			if err != nil {
				return nil, err
			}
			templates = append(templates, effectTemplates...)
		}

		if len(templates) == 0 {
			if cc.Type == contract.Nullable {
				continue
			}
			// A continuation with zero templates and no Nullable marker
			// simply contributes no suggested transactions; unlike a
			// then-function it carries no mandatory CTV obligation.
		}
		for _, tpl := range templates {
			if len(tpl.Guards) != 0 {
				return nil, contract.NewError(contract.AdditionalGuardsNotAllowedHere, fmt.Sprintf("continuation %q: per-template guards are not allowed here", fn.Name))
			}
			amountRange.Update(tpl.Max)
			suggested[tpl.CTVHash] = tpl
		}

		if guardClause.Kind() != clause.TrivialKind || len(fn.Guards) > 0 {
			branches = append(branches, guardClause)
			weights = append(weights, uint32(1))
			branchCTVHash = append(branchCTVHash, nil)
		}

		// The continuation's API lives at the @suggested sub-path: that is
		// the address an external effect targets to re-drive this function
		// with new arguments.
		continueAPI[suggestedRoot.Path().String()] = compiled.ContinuationPoint{
			Schema: fn.Schema,
			Path:   suggestedRoot.Path(),
		}
	}

	// Finish-functions: script-only unlocks, OR'd into the top-level
	// policy. Path @finish_fn/name.
	finishRoot := ctx.Derive(effects.FinishFnFragment())
	for _, fn := range finishFns {
		fnCtx := finishRoot.Derive(mustNamed(fn.Name))
		guardCtx := fnCtx.Derive(effects.GuardFragment())
		c, err := evalGuard(guardCtx, fn.Guard, cache)
		if err != nil {
			return nil, err
		}
		branches = append(branches, c)
		weights = append(weights, uint32(1))
		branchCTVHash = append(branchCTVHash, nil)
	}

	if len(branches) == 0 {
		return nil, contract.NewError(contract.EmptyPolicy, "no script-path branches survived compilation")
	}

	// Simplify and flatten each branch independently (rather than
	// combining into one big Or first) so a branch's position in
	// branchCTVHash keeps lining up with the leaves it produces: an
	// AndKind/ThresholdKind branch always yields exactly one leaf: only
	// Trivial/Unsatisfiable branches disappear or collapse.
	type taggedLeaf struct {
		clause clause.Clause
		ctv    *chainhash.Hash
		weight uint32
	}
	var tagged []taggedLeaf
	for i, b := range branches {
		s := clause.Simplify(b)
		if s.Kind() == clause.UnsatisfiableKind {
			continue
		}
		for _, l := range clause.Leaves(s) {
			tagged = append(tagged, taggedLeaf{clause: l, ctv: branchCTVHash[i], weight: weights[i]})
		}
	}
	if len(tagged) == 0 {
		return nil, contract.NewError(contract.EmptyPolicy, "every branch compiled to Unsatisfiable")
	}

	leafScripts := make([]leafScript, 0, len(tagged))
	for _, t := range tagged {
		script, err := clause.Compile(t.clause)
		if err != nil {
			return nil, contract.WrapError(contract.MiniscriptError, err)
		}
		leafScripts = append(leafScripts, leafScript{script: script, weight: uint64(t.weight)})
		if firstKey == nil {
			if k := findKeyLeaf(t.clause); k != nil {
				firstKey = k
			}
		}
	}

	merkleRoot, taprootLeaves, err := buildTaprootTree(leafScripts)
	if err != nil {
		return nil, contract.WrapError(contract.TaprootBuilderError, err)
	}

	internalKey, err := internalKeyFor(firstKey)
	if err != nil {
		return nil, contract.WrapError(contract.TaprootBuilderError, err)
	}

	addr, descriptor, internalKeyPub, outputKeyYIsOdd, err := taprootAddress(ctx, internalKey, merkleRoot, len(tagged))
	if err != nil {
		return nil, err
	}

	// Attach each leaf's control block back onto the then-function
	// template it was derived from, so a spender can reveal the leaf
	// without recomputing the tree.
	for i, tl := range taprootLeaves {
		ctvHash := tagged[i].ctv
		if ctvHash == nil {
			continue
		}
		tpl, ok := ctvToTx[*ctvHash]
		if !ok {
			continue
		}
		cb := txscript.ControlBlock{
			LeafVersion:     txscript.BaseLeafVersion,
			InternalKey:     internalKeyPub,
			OutputKeyYIsOdd: outputKeyYIsOdd,
			InclusionProof:  tl.inclusionProof,
		}
		controlBlock, err := cb.ToBytes()
		if err != nil {
			return nil, contract.WrapError(contract.TaprootBuilderError, err)
		}
		tpl.Leaf = &compiled.ScriptLeaf{Script: tl.script, ControlBlock: controlBlock}
		ctvToTx[*ctvHash] = tpl
	}

	if err := checkMinFeerate(ctvToTx, suggested); err != nil {
		return nil, err
	}

	metaCtx := ctx.Derive(effects.MetadataFragment())
	meta, err := abi.Metadata(metaCtx)
	if err != nil {
		return nil, err
	}

	return &compiled.Object{
		CTVToTx:          ctvToTx,
		SuggestedTxs:     suggested,
		ContinueAPIs:     continueAPI,
		RootPath:         ctx.Path(),
		Address:          addr,
		Descriptor:       descriptor,
		AmountRange:      amountRange,
		Meta:             meta,
		InternalKeyXOnly: internalKey,
	}, nil
}

func mustNamed(name string) effects.PathFragment {
	f, err := effects.NamedFragment(name)
	if err != nil {
		// Contract authors register function names at construction time;
		// an invalid name is a programmer error caught long before
		// compilation ever runs.
		panic(err)
	}
	return f
}

// checkMinFeerate enforces each template's declared MinFeerateSatsVByte
// against the fee it actually carries (Max minus the sum of its own
// outputs). The weight model is base transaction weight only, since the
// witness is not yet known at compile time.
func checkMinFeerate(ctvToTx, suggested map[chainhash.Hash]compiled.Template) error {
	check := func(t compiled.Template) error {
		if t.MinFeerateSatsVByte == nil {
			return nil
		}
		var totalOut int64
		for _, o := range t.Tx.TxOut {
			totalOut += o.Value
		}
		fee := int64(t.Max) - totalOut
		vsize := int64(t.Tx.SerializeSizeStripped())
		minRequiredFee := *t.MinFeerateSatsVByte * vsize
		if fee < minRequiredFee {
			return contract.NewError(contract.MinFeerateError, fmt.Sprintf("template %x under-pays minimum feerate of %d sat/vB", t.CTVHash, *t.MinFeerateSatsVByte))
		}
		return nil
	}
	for _, t := range ctvToTx {
		if err := check(t); err != nil {
			return err
		}
	}
	for _, t := range suggested {
		if err := check(t); err != nil {
			return err
		}
	}
	return nil
}

// clauseKeyLeaf records a bare Key clause discovered among the compiled
// branches, used to pick the Taproot internal key.
type clauseKeyLeaf struct {
	pub [32]byte
}

func findKeyLeaf(c clause.Clause) *clauseKeyLeaf {
	switch c.Kind() {
	case clause.KeyKind:
		if c.Key() == nil {
			return nil
		}
		var k clauseKeyLeaf
		compressed := c.Key().SerializeCompressed()
		copy(k.pub[:], compressed[1:])
		return &k
	case clause.AndKind, clause.ThresholdKind, clause.OrKind:
		for _, ch := range c.Children() {
			if k := findKeyLeaf(ch); k != nil {
				return k
			}
		}
	}
	return nil
}

func internalKeyFor(k *clauseKeyLeaf) ([32]byte, error) {
	if k != nil {
		return k.pub, nil
	}
	sentinel, err := SentinelInternalKey()
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	compressed := sentinel.SerializeCompressed()
	copy(out[:], compressed[1:])
	return out, nil
}
