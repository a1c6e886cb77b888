// Package clause implements the clause algebra: policy expressions over
// keys, hashes, timelocks and BIP-119 template commitments that compile
// down to Taproot leaf scripts.
package clause

import (
	"github.com/btcsuite/btcd/btcec/v2"
)

// Kind discriminates a Clause's variant.
type Kind int

const (
	KeyKind Kind = iota
	Sha256Kind
	OlderKind
	AfterKind
	CTVKind
	TrivialKind
	UnsatisfiableKind
	AndKind
	OrKind
	ThresholdKind
)

// Clause is the algebraic policy expression type. Leaves are produced by
// the constructor functions below; And/Or/Threshold combine children.
// Clause values are immutable once constructed.
type Clause struct {
	kind     Kind
	key      *btcec.PublicKey
	digest   [32]byte
	sequence uint32
	locktime uint32
	children []Clause
	// weighted parallels children for Or: each child's relative
	// probability weight, kept through Simplify. The compiler's Taproot
	// tree builder does not read it; it gives every leaf unit weight.
	// A nil/empty weights slice means all children are equally likely.
	weights []uint32
	thresh  int
}

// Key is satisfied by a signature from the given x-only public key.
func Key(pub *btcec.PublicKey) Clause { return Clause{kind: KeyKind, key: pub} }

// Sha256 is satisfied by revealing a preimage of digest.
func Sha256(digest [32]byte) Clause { return Clause{kind: Sha256Kind, digest: digest} }

// Older is satisfied once the input has a relative locktime of at least
// sequence (BIP-68 encoded nSequence value).
func Older(sequence uint32) Clause { return Clause{kind: OlderKind, sequence: sequence} }

// After is satisfied once the chain reaches the given absolute nLockTime.
func After(locktime uint32) Clause { return Clause{kind: AfterKind, locktime: locktime} }

// CheckTemplateVerify is satisfied only when the spending transaction
// matches the committed BIP-119 template hash.
func CheckTemplateVerify(hash [32]byte) Clause { return Clause{kind: CTVKind, digest: hash} }

// Trivial is always satisfied; it is the identity element under And.
var Trivial = Clause{kind: TrivialKind}

// Unsatisfiable can never be satisfied; it is the absorbing element under
// And, and Simplify drops it from the children of Or and Threshold.
var Unsatisfiable = Clause{kind: UnsatisfiableKind}

// And requires every child to be satisfied. Trivial children are dropped
// before compilation and an all-Trivial conjunction collapses to Trivial;
// constructing And directly preserves the raw child list, and Simplify
// performs that normalization.
func And(children ...Clause) Clause {
	return Clause{kind: AndKind, children: children}
}

// Or requires at least one child to be satisfied. weights, if non-nil, must
// have the same length as children and records each child's relative
// probability; nil means uniform. The compiler does not use these weights
// when it builds the Taproot tree.
func Or(weights []uint32, children ...Clause) Clause {
	return Clause{kind: OrKind, children: children, weights: weights}
}

// Threshold requires at least k of the children to be satisfied.
func Threshold(k int, children ...Clause) Clause {
	return Clause{kind: ThresholdKind, thresh: k, children: children}
}

func (c Clause) Kind() Kind              { return c.kind }
func (c Clause) Key() *btcec.PublicKey   { return c.key }
func (c Clause) Digest() [32]byte        { return c.digest }
func (c Clause) Sequence() uint32        { return c.sequence }
func (c Clause) Locktime() uint32        { return c.locktime }
func (c Clause) Children() []Clause      { return c.children }
func (c Clause) Weights() []uint32       { return c.weights }
func (c Clause) ThresholdK() int         { return c.thresh }

// Simplify applies the normalization rules the compiler relies on:
// Trivial is dropped from conjunctions (an all-Trivial And
// becomes Trivial), an Unsatisfiable child makes an And Unsatisfiable and
// is dropped from Or and Threshold, and a Threshold-of-1 with a single
// surviving child collapses to that child (with several children it stays
// a Threshold).
func Simplify(c Clause) Clause {
	switch c.kind {
	case AndKind:
		kept := make([]Clause, 0, len(c.children))
		for _, ch := range c.children {
			s := Simplify(ch)
			if s.kind == TrivialKind {
				continue
			}
			if s.kind == UnsatisfiableKind {
				return Unsatisfiable
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			return Trivial
		}
		if len(kept) == 1 {
			return kept[0]
		}
		return Clause{kind: AndKind, children: kept}
	case OrKind:
		kept := make([]Clause, 0, len(c.children))
		var weights []uint32
		hasWeights := len(c.weights) == len(c.children) && len(c.weights) > 0
		for i, ch := range c.children {
			s := Simplify(ch)
			if s.kind == UnsatisfiableKind {
				continue
			}
			kept = append(kept, s)
			if hasWeights {
				weights = append(weights, c.weights[i])
			}
		}
		if len(kept) == 0 {
			return Unsatisfiable
		}
		if len(kept) == 1 {
			return kept[0]
		}
		return Clause{kind: OrKind, children: kept, weights: weights}
	case ThresholdKind:
		kept := make([]Clause, 0, len(c.children))
		for _, ch := range c.children {
			s := Simplify(ch)
			if s.kind == UnsatisfiableKind {
				continue
			}
			kept = append(kept, s)
		}
		if c.thresh <= 0 {
			return Trivial
		}
		if c.thresh > len(kept) {
			return Unsatisfiable
		}
		if c.thresh == 1 && len(kept) == 1 {
			return kept[0]
		}
		return Clause{kind: ThresholdKind, thresh: c.thresh, children: kept}
	default:
		return c
	}
}

// Leaves splits c into its Or-disjuncts, in child order: nested Ors are
// flattened, while an And, a Threshold or a single leaf clause is returned
// whole as one entry. Used by the compiler to enumerate Taproot
// script-path candidates when c itself is the top of an Or spine.
func Leaves(c Clause) []Clause {
	switch c.kind {
	case AndKind, ThresholdKind:
		return []Clause{c}
	case OrKind:
		var out []Clause
		for _, ch := range c.children {
			out = append(out, Leaves(ch)...)
		}
		return out
	default:
		return []Clause{c}
	}
}
