package clause

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// Error wraps a downstream script-compilation failure. Clauses compile
// directly to Bitcoin Script leaves via txscript's builder; this error
// wraps anything txscript itself rejects (oversized scripts, etc).
type Error struct {
	Clause Clause
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("clause: compile failed: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

var errUnsatisfiable = errors.New("clause: Unsatisfiable cannot be compiled to script")

// Compile lowers a simplified Clause into a single Taproot leaf script.
// The caller is expected to have already split any top-level Or into
// individual leaves via Leaves(Simplify(c)) and to compile each leaf
// separately; calling Compile directly on an Or clause compiles only its
// first surviving child, since a single script leaf cannot itself branch
// on disjunction without an accompanying Merkle path.
//
// Every clause kind compiles to a fragment that leaves exactly one boolean
// (0 or 1) stack item behind, so conjunction and threshold can combine children
// uniformly with OP_BOOLAND / OP_ADD rather than tracking a "is this the
// last check" position as in hand-written verify chains.
func Compile(c Clause) ([]byte, error) {
	c = Simplify(c)
	b := txscript.NewScriptBuilder()
	if err := emit(b, c); err != nil {
		return nil, &Error{Clause: c, Err: err}
	}
	script, err := b.Script()
	if err != nil {
		return nil, &Error{Clause: c, Err: err}
	}
	return script, nil
}

func emit(b *txscript.ScriptBuilder, c Clause) error {
	switch c.kind {
	case TrivialKind:
		b.AddOp(txscript.OP_TRUE)
		return nil
	case UnsatisfiableKind:
		return errUnsatisfiable
	case KeyKind:
		if c.key == nil {
			return errors.New("clause: Key leaf missing public key")
		}
		b.AddData(xOnly(c.key))
		b.AddOp(txscript.OP_CHECKSIG)
		return nil
	case Sha256Kind:
		b.AddOp(txscript.OP_SHA256)
		b.AddData(c.digest[:])
		b.AddOp(txscript.OP_EQUAL)
		return nil
	case OlderKind:
		b.AddInt64(int64(c.sequence))
		b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
		b.AddOp(txscript.OP_DROP)
		b.AddOp(txscript.OP_TRUE)
		return nil
	case AfterKind:
		b.AddInt64(int64(c.locktime))
		b.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
		b.AddOp(txscript.OP_DROP)
		b.AddOp(txscript.OP_TRUE)
		return nil
	case CTVKind:
		digest := c.digest
		b.AddData(digest[:])
		// BIP-119 repurposes the NOP4 opcode (0xb3) as
		// OP_CHECKTEMPLATEVERIFY; txscript has no dedicated mnemonic for
		// the repurposed behavior, so the raw opcode is used directly.
		// CTV verifies the top stack item against the template hash and
		// leaves it in place, so it is dropped and replaced with a plain
		// truth value like the timelock checks above.
		b.AddOp(txscript.OP_NOP4)
		b.AddOp(txscript.OP_DROP)
		b.AddOp(txscript.OP_TRUE)
		return nil
	case AndKind:
		if len(c.children) == 0 {
			b.AddOp(txscript.OP_TRUE)
			return nil
		}
		for i, ch := range c.children {
			if err := emit(b, ch); err != nil {
				return err
			}
			if i > 0 {
				b.AddOp(txscript.OP_BOOLAND)
			}
		}
		return nil
	case ThresholdKind:
		return emitThreshold(b, c)
	case OrKind:
		// A bare Or reaching script emission means the caller did not
		// split it into separate Taproot leaves; fall back to the first
		// satisfiable child so compilation still terminates.
		for _, ch := range c.children {
			if ch.kind != UnsatisfiableKind {
				return emit(b, ch)
			}
		}
		return errUnsatisfiable
	default:
		return fmt.Errorf("clause: unknown clause kind %d", c.kind)
	}
}

// emitThreshold implements the classic "push 0/1 per child, sum, compare to
// k" threshold script.
func emitThreshold(b *txscript.ScriptBuilder, c Clause) error {
	if c.thresh <= 0 {
		b.AddOp(txscript.OP_TRUE)
		return nil
	}
	if c.thresh > len(c.children) {
		return errUnsatisfiable
	}
	for i, ch := range c.children {
		if err := emit(b, ch); err != nil {
			return err
		}
		if i > 0 {
			b.AddOp(txscript.OP_ADD)
		}
	}
	b.AddInt64(int64(c.thresh))
	b.AddOp(txscript.OP_GREATERTHANOREQUAL)
	return nil
}

// xOnly returns the 32-byte x-only serialization of a public key, as used
// by Taproot leaf scripts (BIP-340/341).
func xOnly(pub interface{ SerializeCompressed() []byte }) []byte {
	compressed := pub.SerializeCompressed()
	out := make([]byte, 32)
	copy(out, compressed[1:])
	return out
}
