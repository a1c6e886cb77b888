package compiler_test

import (
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
	"github.com/sapio-lang/sapio/template"
)

// tableContract is a throwaway ABI assembled field-by-field, for driving
// the compiler's edge cases without declaring a new type per test.
type tableContract struct {
	thens     []contract.ThenFunc
	finishes  []contract.FinishFunc
	finishOrs []contract.FinishOrFunc
}

func (c tableContract) ThenFns() []contract.ThenFunc         { return c.thens }
func (c tableContract) FinishFns() []contract.FinishFunc     { return c.finishes }
func (c tableContract) FinishOrFns() []contract.FinishOrFunc { return c.finishOrs }

func (c tableContract) EnsureAmount(ctx *contract.Context) (compiled.AmountRange, error) {
	funds := ctx.Funds()
	return compiled.AmountRange{Min: funds, Max: funds}, nil
}

func (c tableContract) Metadata(ctx *contract.Context) (compiled.Metadata, error) {
	return compiled.Metadata{}, nil
}

func keyFinish(name string, key *btcec.PublicKey) contract.FinishFunc {
	return contract.FinishFunc{
		Name: name,
		Guard: contract.Guard{
			Name: name + ".key",
			Mode: contract.Fresh,
			Eval: func(ctx *contract.Context) (clause.Clause, error) { return clause.Key(key), nil },
		},
	}
}

func payAllBody(key *btcec.PublicKey) func(ctx *contract.Context) ([]compiled.Template, error) {
	return func(ctx *contract.Context) ([]compiled.Template, error) {
		b := template.New(ctx)
		b, err := b.AddOutput(ctx.Funds(), contract.BareKey{Key: key}, nil)
		if err != nil {
			return nil, err
		}
		tpl, err := b.Finalize()
		if err != nil {
			return nil, err
		}
		return []compiled.Template{tpl}, nil
	}
}

func TestCompileEmptyContractFailsEmptyPolicy(t *testing.T) {
	ctx := contract.NewContext(10_000, &chaincfg.RegressionNetParams, nil)
	_, err := compiler.Compile(tableContract{}, ctx)
	assert.ErrorIs(t, err, &contract.Error{Kind: contract.EmptyPolicy})
}

func TestThenFunctionWithoutTemplatesFailsMissingTemplates(t *testing.T) {
	ctx := contract.NewContext(10_000, &chaincfg.RegressionNetParams, nil)
	c := tableContract{
		thens: []contract.ThenFunc{{
			Name: "empty",
			Body: func(ctx *contract.Context) ([]compiled.Template, error) { return nil, nil },
		}},
	}
	_, err := compiler.Compile(c, ctx)
	assert.ErrorIs(t, err, &contract.Error{Kind: contract.MissingTemplates})
}

func TestNullableThenFunctionMayYieldNothing(t *testing.T) {
	ctx := contract.NewContext(10_000, &chaincfg.RegressionNetParams, nil)
	c := tableContract{
		thens: []contract.ThenFunc{{
			Name: "maybe",
			CompileIfs: []contract.CondCompileIf{{
				Name: "maybe.if",
				Eval: func(ctx *contract.Context) (contract.CondCompileResult, error) {
					return contract.CondCompileResult{Type: contract.Nullable}, nil
				},
			}},
			Body: func(ctx *contract.Context) ([]compiled.Template, error) { return nil, nil },
		}},
		finishes: []contract.FinishFunc{keyFinish("recover", newKey(t))},
	}
	obj, err := compiler.Compile(c, ctx)
	require.NoError(t, err)
	assert.Empty(t, obj.CTVToTx)
}

func TestSkippableThenFunctionBodyNeverRuns(t *testing.T) {
	ctx := contract.NewContext(10_000, &chaincfg.RegressionNetParams, nil)
	ran := false
	c := tableContract{
		thens: []contract.ThenFunc{{
			Name: "skipped",
			CompileIfs: []contract.CondCompileIf{{
				Name: "skipped.if",
				Eval: func(ctx *contract.Context) (contract.CondCompileResult, error) {
					return contract.CondCompileResult{Type: contract.Skippable}, nil
				},
			}},
			Body: func(ctx *contract.Context) ([]compiled.Template, error) {
				ran = true
				return nil, nil
			},
		}},
		finishes: []contract.FinishFunc{keyFinish("recover", newKey(t))},
	}
	obj, err := compiler.Compile(c, ctx)
	require.NoError(t, err)
	assert.False(t, ran, "a Skippable branch's body must not run")
	assert.Empty(t, obj.CTVToTx)
}

func TestNeverContinuationAbsentFromContinueAPIs(t *testing.T) {
	ctx := contract.NewContext(10_000, &chaincfg.RegressionNetParams, nil)
	key := newKey(t)
	c := tableContract{
		finishOrs: []contract.FinishOrFunc{{
			Name: "upgrade",
			CompileIfs: []contract.CondCompileIf{{
				Name: "upgrade.if",
				Eval: func(ctx *contract.Context) (contract.CondCompileResult, error) {
					return contract.CondCompileResult{Type: contract.Never}, nil
				},
			}},
			Body: func(ctx *contract.Context, args json.RawMessage) ([]compiled.Template, error) {
				return nil, nil
			},
		}},
		finishes: []contract.FinishFunc{keyFinish("recover", key)},
	}
	obj, err := compiler.Compile(c, ctx)
	require.NoError(t, err)
	assert.Empty(t, obj.ContinueAPIs)
	assert.Empty(t, obj.SuggestedTxs)
}

func TestFailCompileIfSurfacesMessages(t *testing.T) {
	ctx := contract.NewContext(10_000, &chaincfg.RegressionNetParams, nil)
	c := tableContract{
		thens: []contract.ThenFunc{{
			Name: "doomed",
			CompileIfs: []contract.CondCompileIf{{
				Name: "doomed.if",
				Eval: func(ctx *contract.Context) (contract.CondCompileResult, error) {
					return contract.CondCompileResult{Type: contract.Fail, Messages: []string{"unsupported network"}}, nil
				},
			}},
			Body: payAllBody(newKey(t)),
		}},
	}
	_, err := compiler.Compile(c, ctx)
	require.ErrorIs(t, err, &contract.Error{Kind: contract.ConditionalCompilationFailed})
	assert.Contains(t, err.Error(), "unsupported network")
}

func TestUnsatisfiableThenGuardFailsMissingTemplates(t *testing.T) {
	ctx := contract.NewContext(10_000, &chaincfg.RegressionNetParams, nil)
	c := tableContract{
		thens: []contract.ThenFunc{{
			Name: "dead",
			Guards: []contract.Guard{{
				Name: "dead.guard",
				Mode: contract.Fresh,
				Eval: func(ctx *contract.Context) (clause.Clause, error) { return clause.Unsatisfiable, nil },
			}},
			Body: payAllBody(newKey(t)),
		}},
	}
	_, err := compiler.Compile(c, ctx)
	assert.ErrorIs(t, err, &contract.Error{Kind: contract.MissingTemplates})
}

func TestCachedGuardEvaluatedOncePerCompile(t *testing.T) {
	ctx := contract.NewContext(10_000, &chaincfg.RegressionNetParams, nil)
	key := newKey(t)
	evals := 0
	shared := contract.Guard{
		Name: "shared.key",
		Mode: contract.Cached,
		Eval: func(ctx *contract.Context) (clause.Clause, error) {
			evals++
			return clause.Key(key), nil
		},
	}
	c := tableContract{
		finishes: []contract.FinishFunc{
			{Name: "close_a", Guard: shared},
			{Name: "close_b", Guard: shared},
		},
	}
	_, err := compiler.Compile(c, ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, evals, "a Cached guard must be memoized within one compile call")

	// A second top-level compile uses an independent cache.
	_, err = compiler.Compile(c, contract.NewContext(10_000, &chaincfg.RegressionNetParams, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, evals)
}

// Structurally-equal inputs must compile to equal results.
func TestCompileIsDeterministic(t *testing.T) {
	key := newKey(t)
	c := tableContract{
		thens: []contract.ThenFunc{{Name: "sweep", Body: payAllBody(key)}},
		finishes: []contract.FinishFunc{keyFinish("recover", key)},
	}

	a, err := compiler.Compile(c, contract.NewContext(10_000, &chaincfg.RegressionNetParams, nil))
	require.NoError(t, err)
	b, err := compiler.Compile(c, contract.NewContext(10_000, &chaincfg.RegressionNetParams, nil))
	require.NoError(t, err)

	assert.Equal(t, a.Address, b.Address)
	require.Len(t, b.CTVToTx, len(a.CTVToTx))
	for h := range a.CTVToTx {
		_, ok := b.CTVToTx[h]
		assert.True(t, ok)
	}
}
