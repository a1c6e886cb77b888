package compiler

import (
	"github.com/sapio-lang/sapio/clause"
	"github.com/sapio-lang/sapio/contract"
	"github.com/sapio-lang/sapio/effects"
)

// guardCache memoizes Cached guards and compile-ifs by name for the
// duration of one top-level compile call; concurrent top-level compiles
// use independent caches.
type guardCache struct {
	clauses map[string]clause.Clause
	compile map[string]contract.CondCompileResult
}

func newGuardCache() *guardCache {
	return &guardCache{
		clauses: make(map[string]clause.Clause),
		compile: make(map[string]contract.CondCompileResult),
	}
}

// evalGuard evaluates a single guard, consulting/populating the cache when
// its mode is Cached.
func evalGuard(ctx *contract.Context, g contract.Guard, cache *guardCache) (clause.Clause, error) {
	if g.Mode == contract.Cached {
		if c, ok := cache.clauses[g.Name]; ok {
			return c, nil
		}
	}
	if g.Eval == nil {
		return clause.Trivial, nil
	}
	c, err := g.Eval(ctx)
	if err != nil {
		return clause.Clause{}, err
	}
	if g.Mode == contract.Cached {
		cache.clauses[g.Name] = c
	}
	return c, nil
}

// evalGuards evaluates every guard under ctx's @guard-tagged child path
// (one Branch fragment per guard, in declaration order) and folds the
// results into a single conjunction: empty folds to Trivial, a single
// guard is preserved as-is.
func evalGuards(ctx *contract.Context, guards []contract.Guard, cache *guardCache) (clause.Clause, error) {
	if len(guards) == 0 {
		return clause.Trivial, nil
	}
	root := ctx.Derive(effects.GuardFragment())
	clauses := make([]clause.Clause, 0, len(guards))
	for i, g := range guards {
		gctx := root.Derive(effects.BranchFragment(uint64(i)))
		c, err := evalGuard(gctx, g, cache)
		if err != nil {
			return clause.Clause{}, err
		}
		clauses = append(clauses, c)
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return clause.And(clauses...), nil
}

// evalCompileIfs evaluates every compile-if predicate under ctx's
// @cond_comp_if-tagged child path, merging left to right by precedence.
// No predicates yields NoConstraint.
func evalCompileIfs(ctx *contract.Context, preds []contract.CondCompileIf, cache *guardCache) (contract.CondCompileResult, error) {
	result := contract.CondCompileResult{Type: contract.NoConstraint}
	if len(preds) == 0 {
		return result, nil
	}
	root := ctx.Derive(effects.CondCompIfFragment())
	for i, p := range preds {
		pctx := root.Derive(effects.BranchFragment(uint64(i)))
		var r contract.CondCompileResult
		if cached, ok := cache.compile[p.Name]; ok && p.Name != "" {
			r = cached
		} else {
			var err error
			r, err = p.Eval(pctx)
			if err != nil {
				return contract.CondCompileResult{}, err
			}
			if p.Name != "" {
				cache.compile[p.Name] = r
			}
		}
		result = contract.MergeCondCompile(result, r)
	}
	if result.Type == contract.Fail {
		return result, contract.NewError(contract.ConditionalCompilationFailed, joinMessages(result.Messages))
	}
	return result, nil
}

func joinMessages(msgs []string) string {
	out := ""
	for i, m := range msgs {
		if i > 0 {
			out += "; "
		}
		out += m
	}
	return out
}
