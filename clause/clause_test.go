package clause

import (
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randKey(t *testing.T) *btcec.PublicKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv.PubKey()
}

func TestSimplifyDropsTrivialFromAnd(t *testing.T) {
	k := Key(randKey(t))
	s := Simplify(And(Trivial, k, Trivial))
	assert.Equal(t, KeyKind, s.Kind())
}

func TestSimplifyAllTrivialAndCollapses(t *testing.T) {
	s := Simplify(And(Trivial, Trivial))
	assert.Equal(t, TrivialKind, s.Kind())
}

func TestSimplifyUnsatisfiableAbsorbsAnd(t *testing.T) {
	k := Key(randKey(t))
	s := Simplify(And(k, Unsatisfiable))
	assert.Equal(t, UnsatisfiableKind, s.Kind())
}

func TestSimplifyUnsatisfiableDroppedFromOr(t *testing.T) {
	k := Key(randKey(t))
	s := Simplify(Or(nil, Unsatisfiable, k))
	assert.Equal(t, KeyKind, s.Kind())
}

func TestSimplifyThresholdOfOneCollapses(t *testing.T) {
	k := Key(randKey(t))
	s := Simplify(Threshold(1, k))
	assert.Equal(t, KeyKind, s.Kind())
}

func TestSimplifyThresholdExceedingChildrenIsUnsatisfiable(t *testing.T) {
	k := Key(randKey(t))
	s := Simplify(Threshold(2, k))
	assert.Equal(t, UnsatisfiableKind, s.Kind())
}

func TestLeavesSplitsOr(t *testing.T) {
	a := Key(randKey(t))
	b := Key(randKey(t))
	leaves := Leaves(Or(nil, a, b))
	assert.Len(t, leaves, 2)
}

func TestCompileKeyProducesChecksigScript(t *testing.T) {
	script, err := Compile(Key(randKey(t)))
	require.NoError(t, err)

	disasm, err := txscript.DisasmString(script)
	require.NoError(t, err)
	assert.Contains(t, disasm, "OP_CHECKSIG")
}

func TestCompileCTVEmitsNOP4(t *testing.T) {
	var digest [32]byte
	rand.Read(digest[:])
	script, err := Compile(CheckTemplateVerify(digest))
	require.NoError(t, err)

	disasm, err := txscript.DisasmString(script)
	require.NoError(t, err)
	assert.Contains(t, disasm, "OP_NOP4")
}

func TestCompileUnsatisfiableErrors(t *testing.T) {
	_, err := Compile(Unsatisfiable)
	assert.Error(t, err)
	var clauseErr *Error
	require.ErrorAs(t, err, &clauseErr)
}

func TestCompileThresholdCountsChildren(t *testing.T) {
	a := Key(randKey(t))
	b := Key(randKey(t))
	c := Key(randKey(t))
	script, err := Compile(Threshold(2, a, b, c))
	require.NoError(t, err)

	disasm, err := txscript.DisasmString(script)
	require.NoError(t, err)
	assert.Contains(t, disasm, "OP_GREATERTHANOREQUAL")
}
