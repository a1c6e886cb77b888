// Package contracts provides illustrative example contracts exercising
// the core compiler: a bare pay-to-pubkey, a 2-of-3 escrow, an undo-send
// hot/cold split, a recursive vault, and a radix-N treepay fan out. None
// of this is part of the core ABI surface; each type depends only on
// contract, clause, template and locktime.
package contracts

import (
	"encoding/json"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/sapio-lang/sapio/clause"
	"github.com/sapio-lang/sapio/compiled"
	"github.com/sapio-lang/sapio/compiler"
	"github.com/sapio-lang/sapio/contract"
	"github.com/sapio-lang/sapio/locktime"
	"github.com/sapio-lang/sapio/template"
)

// compileVia routes every example contract's Compile method through the
// shared algorithm in package compiler.
func compileVia(abi contract.ABI, ctx *contract.Context) (*compiled.Object, error) {
	return compiler.Compile(abi, ctx)
}

// defaultMetadata is the Metadata hook every example contract shares
// unless it has something specific to attach.
func defaultMetadata(label string) func(ctx *contract.Context) (compiled.Metadata, error) {
	return func(ctx *contract.Context) (compiled.Metadata, error) {
		return compiled.Metadata{
			Extra: map[string]json.RawMessage{
				"label": json.RawMessage(`"` + label + `"`),
			},
		}, nil
	}
}

// PayToPublicKey is the simplest possible contract: a single
// finish-function unlockable by a signature from Key, with an empty
// then/continue surface.
type PayToPublicKey struct {
	Key *btcec.PublicKey
}

var _ contract.ABI = PayToPublicKey{}
var _ contract.Compilable = PayToPublicKey{}

func (p PayToPublicKey) ThenFns() []contract.ThenFunc         { return nil }
func (p PayToPublicKey) FinishOrFns() []contract.FinishOrFunc { return nil }

func (p PayToPublicKey) FinishFns() []contract.FinishFunc {
	return []contract.FinishFunc{{
		Name: "pay",
		Guard: contract.Guard{
			Name: "pay.owner",
			Mode: contract.Cached,
			Eval: func(ctx *contract.Context) (clause.Clause, error) {
				return clause.Key(p.Key), nil
			},
		},
	}}
}

func (p PayToPublicKey) EnsureAmount(ctx *contract.Context) (compiled.AmountRange, error) {
	funds := ctx.Funds()
	return compiled.AmountRange{Min: funds, Max: funds}, nil
}

func (p PayToPublicKey) Metadata(ctx *contract.Context) (compiled.Metadata, error) {
	return defaultMetadata("pay-to-pubkey")(ctx)
}

func (p PayToPublicKey) Compile(ctx *contract.Context) (*compiled.Object, error) {
	return compileVia(p, ctx)
}

// BasicEscrow resolves by Or(Threshold(2,[A,B]), And(Escrow,
// Threshold(1,[A,B]))): a 2-of-2 cooperative close, or the escrow agent
// plus either party alone.
type BasicEscrow struct {
	A, B, Escrow *btcec.PublicKey
}

var _ contract.ABI = BasicEscrow{}
var _ contract.Compilable = BasicEscrow{}

func (e BasicEscrow) ThenFns() []contract.ThenFunc         { return nil }
func (e BasicEscrow) FinishOrFns() []contract.FinishOrFunc { return nil }

func (e BasicEscrow) FinishFns() []contract.FinishFunc {
	return []contract.FinishFunc{{
		Name: "resolve",
		Guard: contract.Guard{
			Name: "resolve.policy",
			Mode: contract.Cached,
			Eval: func(ctx *contract.Context) (clause.Clause, error) {
				cooperative := clause.Threshold(2, clause.Key(e.A), clause.Key(e.B))
				arbitrated := clause.And(clause.Key(e.Escrow), clause.Threshold(1, clause.Key(e.A), clause.Key(e.B)))
				return clause.Or(nil, cooperative, arbitrated), nil
			},
		},
	}}
}

func (e BasicEscrow) EnsureAmount(ctx *contract.Context) (compiled.AmountRange, error) {
	funds := ctx.Funds()
	return compiled.AmountRange{Min: funds, Max: funds}, nil
}

func (e BasicEscrow) Metadata(ctx *contract.Context) (compiled.Metadata, error) {
	return defaultMetadata("basic-escrow")(ctx)
}

func (e BasicEscrow) Compile(ctx *contract.Context) (*compiled.Object, error) {
	return compileVia(e, ctx)
}

// UndoSend holds funds in a two-way covenant: `complete` sends to Hot
// once the relative locktime Timeout has elapsed, while `undo` can sweep
// to Cold immediately during the waiting window.
type UndoSend struct {
	Hot, Cold *btcec.PublicKey
	Timeout   locktime.LockTime
}

var _ contract.ABI = UndoSend{}
var _ contract.Compilable = UndoSend{}

func (u UndoSend) FinishFns() []contract.FinishFunc     { return nil }
func (u UndoSend) FinishOrFns() []contract.FinishOrFunc { return nil }

func (u UndoSend) ThenFns() []contract.ThenFunc {
	return []contract.ThenFunc{
		{
			Name: "complete",
			Body: func(ctx *contract.Context) ([]compiled.Template, error) {
				amount := ctx.Funds()
				b := template.New(ctx)
				b, err := b.SetSequence(0, u.Timeout)
				if err != nil {
					return nil, err
				}
				b, err = b.AddOutput(amount, contract.BareKey{Key: u.Hot}, nil)
				if err != nil {
					return nil, err
				}
				tpl, err := b.Finalize()
				if err != nil {
					return nil, err
				}
				return []compiled.Template{tpl}, nil
			},
		},
		{
			Name: "undo",
			Body: func(ctx *contract.Context) ([]compiled.Template, error) {
				amount := ctx.Funds()
				b := template.New(ctx)
				b, err := b.AddOutput(amount, contract.BareKey{Key: u.Cold}, nil)
				if err != nil {
					return nil, err
				}
				tpl, err := b.Finalize()
				if err != nil {
					return nil, err
				}
				return []compiled.Template{tpl}, nil
			},
		},
	}
}

func (u UndoSend) EnsureAmount(ctx *contract.Context) (compiled.AmountRange, error) {
	funds := ctx.Funds()
	return compiled.AmountRange{Min: funds, Max: funds}, nil
}

func (u UndoSend) Metadata(ctx *contract.Context) (compiled.Metadata, error) {
	return defaultMetadata("undo-send")(ctx)
}

func (u UndoSend) Compile(ctx *contract.Context) (*compiled.Object, error) {
	return compileVia(u, ctx)
}

// Vault recurses into itself: at each step, `to_cold` sweeps the whole
// remaining balance to the trusted cold key, or, after `Mature`, `step`
// releases AmountStep to the hot wallet and continues into a child Vault
// with one fewer step, until a single-step vault pays Hot directly.
type Vault struct {
	NSteps     uint32
	AmountStep btcutil.Amount
	Timeout    locktime.LockTime
	Mature     locktime.LockTime
	Hot        *btcec.PublicKey
	Cold       *btcec.PublicKey
}

var _ contract.ABI = Vault{}
var _ contract.Compilable = Vault{}

func (v Vault) FinishFns() []contract.FinishFunc     { return nil }
func (v Vault) FinishOrFns() []contract.FinishOrFunc { return nil }

func (v Vault) ThenFns() []contract.ThenFunc {
	fns := []contract.ThenFunc{
		{
			Name: "to_cold",
			Body: func(ctx *contract.Context) ([]compiled.Template, error) {
				amount := ctx.Funds()
				b := template.New(ctx)
				b, err := b.SetSequence(0, v.Timeout)
				if err != nil {
					return nil, err
				}
				b, err = b.AddOutput(amount, contract.BareKey{Key: v.Cold}, nil)
				if err != nil {
					return nil, err
				}
				tpl, err := b.Finalize()
				if err != nil {
					return nil, err
				}
				return []compiled.Template{tpl}, nil
			},
		},
	}
	if v.NSteps <= 1 {
		// A single-step vault: no more recursion, the whole balance
		// pays to Hot once Mature has elapsed.
		fns = append(fns, contract.ThenFunc{
			Name: "step",
			Body: func(ctx *contract.Context) ([]compiled.Template, error) {
				amount := ctx.Funds()
				b := template.New(ctx)
				b, err := b.SetSequence(0, v.Mature)
				if err != nil {
					return nil, err
				}
				b, err = b.AddOutput(amount, contract.BareKey{Key: v.Hot}, nil)
				if err != nil {
					return nil, err
				}
				tpl, err := b.Finalize()
				if err != nil {
					return nil, err
				}
				return []compiled.Template{tpl}, nil
			},
		})
		return fns
	}
	fns = append(fns, contract.ThenFunc{
		Name: "step",
		Body: func(ctx *contract.Context) ([]compiled.Template, error) {
			amount := ctx.Funds() - v.AmountStep
			child := Vault{
				NSteps:     v.NSteps - 1,
				AmountStep: v.AmountStep,
				Timeout:    v.Timeout,
				Mature:     v.Mature,
				Hot:        v.Hot,
				Cold:       v.Cold,
			}
			b := template.New(ctx)
			b, err := b.SetSequence(0, v.Mature)
			if err != nil {
				return nil, err
			}
			b, err = b.AddOutput(v.AmountStep, contract.BareKey{Key: v.Hot}, nil)
			if err != nil {
				return nil, err
			}
			b, err = b.AddOutput(amount, child, nil)
			if err != nil {
				return nil, err
			}
			tpl, err := b.Finalize()
			if err != nil {
				return nil, err
			}
			return []compiled.Template{tpl}, nil
		},
	})
	return fns
}

func (v Vault) EnsureAmount(ctx *contract.Context) (compiled.AmountRange, error) {
	funds := ctx.Funds()
	return compiled.AmountRange{Min: funds, Max: funds}, nil
}

func (v Vault) Metadata(ctx *contract.Context) (compiled.Metadata, error) {
	return defaultMetadata("vault")(ctx)
}

func (v Vault) Compile(ctx *contract.Context) (*compiled.Object, error) {
	return compileVia(v, ctx)
}

// TreePay fans payments out in groups of Radix, recursing until each leaf
// is a single BareKey payout; 16 leaves at radix 4 yield a root plus 4
// sub-trees, 5 templates total.
type TreePay struct {
	Radix      int
	Recipients []Payment
}

// Payment pairs a payout amount with the key it is sent to.
type Payment struct {
	Amount btcutil.Amount
	Key    *btcec.PublicKey
}

var _ contract.ABI = TreePay{}
var _ contract.Compilable = TreePay{}

func (t TreePay) FinishFns() []contract.FinishFunc     { return nil }
func (t TreePay) FinishOrFns() []contract.FinishOrFunc { return nil }

func (t TreePay) ThenFns() []contract.ThenFunc {
	return []contract.ThenFunc{{
		Name: "pay",
		Body: func(ctx *contract.Context) ([]compiled.Template, error) {
			b := template.New(ctx)
			groups := chunkPayments(t.Recipients, t.Radix)
			for _, group := range groups {
				var groupAmount btcutil.Amount
				for _, p := range group {
					groupAmount += p.Amount
				}
				var child contract.Compilable
				if len(group) == 1 {
					child = contract.BareKey{Key: group[0].Key}
				} else {
					child = TreePay{Radix: t.Radix, Recipients: group}
				}
				var err error
				b, err = b.AddOutput(groupAmount, child, nil)
				if err != nil {
					return nil, err
				}
			}
			tpl, err := b.Finalize()
			if err != nil {
				return nil, err
			}
			return []compiled.Template{tpl}, nil
		},
	}}
}

// chunkPayments splits recipients into groups of at most radix, in input
// order, so the leaves together pay exactly the recipients in the order
// given. Once the node fits within one radix it splits into singletons,
// so every recursion strictly shrinks its groups and bottoms out at
// single-recipient leaves.
func chunkPayments(recipients []Payment, radix int) [][]Payment {
	if radix <= 0 {
		radix = len(recipients)
	}
	var groups [][]Payment
	if len(recipients) <= radix {
		for i := range recipients {
			groups = append(groups, recipients[i:i+1])
		}
		return groups
	}
	groupCount := (len(recipients) + radix - 1) / radix
	perGroup := (len(recipients) + groupCount - 1) / groupCount
	for i := 0; i < len(recipients); i += perGroup {
		end := i + perGroup
		if end > len(recipients) {
			end = len(recipients)
		}
		groups = append(groups, recipients[i:end])
	}
	return groups
}

func (t TreePay) EnsureAmount(ctx *contract.Context) (compiled.AmountRange, error) {
	var total btcutil.Amount
	for _, p := range t.Recipients {
		total += p.Amount
	}
	return compiled.AmountRange{Min: total, Max: total}, nil
}

func (t TreePay) Metadata(ctx *contract.Context) (compiled.Metadata, error) {
	return defaultMetadata("treepay")(ctx)
}

func (t TreePay) Compile(ctx *contract.Context) (*compiled.Object, error) {
	return compileVia(t, ctx)
}
