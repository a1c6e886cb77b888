package contract

import (
	"encoding/json"

	"github.com/sapio-lang/sapio/clause"
	"github.com/sapio-lang/sapio/compiled"
)

// GuardMode distinguishes a guard clause that is re-evaluated on every use
// (Fresh) from one the compiler evaluates once per top-level compile call
// and memoizes (Cached).
type GuardMode int

const (
	Fresh GuardMode = iota
	Cached
)

// Guard is a named, lazily-evaluated clause attached to a then-, finish-
// or continuation-function. Name is the cache key: Go has no stable
// function-identity value to key a memoization table on, so every Guard
// must be registered with a name unique within its contract.
type Guard struct {
	Name string
	Mode GuardMode
	Eval func(ctx *Context) (clause.Clause, error)
}

// CondCompileType is the compile-if predicate's result.
type CondCompileType int

const (
	NoConstraint CondCompileType = iota
	Nullable
	Skippable
	Required
	Never
	Fail
)

// CondCompileResult pairs a CondCompileType with the failure messages Fail
// carries.
type CondCompileResult struct {
	Type     CondCompileType
	Messages []string
}

// MergeCondCompile folds two compile-if results: Fail absorbs and
// accumulates messages; Required+Never is a conflict that becomes Fail;
// otherwise the stronger of the two (Never > Required > Skippable >
// Nullable > NoConstraint) wins.
func MergeCondCompile(a, b CondCompileResult) CondCompileResult {
	if a.Type == Fail || b.Type == Fail {
		return CondCompileResult{Type: Fail, Messages: append(append([]string{}, a.Messages...), b.Messages...)}
	}
	if (a.Type == Required && b.Type == Never) || (a.Type == Never && b.Type == Required) {
		return CondCompileResult{Type: Fail, Messages: []string{"Never and Required incompatible"}}
	}
	rank := func(t CondCompileType) int {
		switch t {
		case Never:
			return 5
		case Required:
			return 4
		case Skippable:
			return 3
		case Nullable:
			return 2
		default:
			return 1
		}
	}
	if rank(a.Type) >= rank(b.Type) {
		return a
	}
	return b
}

// CondCompileIf is a named predicate guarding whether a function branch
// participates in compilation at all.
type CondCompileIf struct {
	Name string
	Eval func(ctx *Context) (CondCompileResult, error)
}

// ThenFunc is a CTV-enforced transition: the compiler wires every template
// its body returns into the top-level policy via a CheckTemplateVerify
// clause.
type ThenFunc struct {
	Name        string
	CompileIfs  []CondCompileIf
	Guards      []Guard
	Body        func(ctx *Context) ([]compiled.Template, error)
}

// FinishFunc unlocks a contract by script alone, with no CTV commitment.
// Its guard clause becomes one more alternative leaf in the Taproot tree.
type FinishFunc struct {
	Name  string
	Guard Guard
}

// FinishOrFunc ("continuation") produces suggested, non-CTV-enforced
// templates parameterized by externally supplied JSON effects.
type FinishOrFunc struct {
	Name        string
	CompileIfs  []CondCompileIf
	Guards      []Guard
	Schema      json.RawMessage
	// Body is invoked once with the default arguments (args == nil) and
	// once per effect-database entry recorded at this function's path,
	// with args set to that entry's JSON payload.
	Body func(ctx *Context, args json.RawMessage) ([]compiled.Template, error)
}

// ABI is the function-table interface a contract author implements: a
// tagged bundle of closures rather than a generic trait, which keeps the
// compiler non-generic over contract types. Any of the three tables may
// be empty, but all three empty at once fails EmptyPolicy.
type ABI interface {
	ThenFns() []ThenFunc
	FinishFns() []FinishFunc
	FinishOrFns() []FinishOrFunc

	// EnsureAmount returns the funding this instance requires. Advisory
	// only: no output chain may exceed ctx.Funds(), but the returned
	// range is not cross-checked against the sum of output amounts.
	EnsureAmount(ctx *Context) (compiled.AmountRange, error)

	// Metadata returns this instance's ObjectMetadata, derived under a
	// Metadata-tagged sub-context.
	Metadata(ctx *Context) (compiled.Metadata, error)
}
