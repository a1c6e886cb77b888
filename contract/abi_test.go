package contract

import (
	"testing"

	"github.com/sapio-lang/sapio/effects"
	"github.com/stretchr/testify/assert"
)

func TestMergeCondCompileRequiredAndNeverConflict(t *testing.T) {
	r := MergeCondCompile(CondCompileResult{Type: Required}, CondCompileResult{Type: Never})
	assert.Equal(t, Fail, r.Type)
	assert.Contains(t, r.Messages[0], "Never and Required incompatible")
}

func TestMergeCondCompileFailAbsorbsAndAccumulates(t *testing.T) {
	r := MergeCondCompile(
		CondCompileResult{Type: Fail, Messages: []string{"a"}},
		CondCompileResult{Type: Required, Messages: nil},
	)
	assert.Equal(t, Fail, r.Type)
	assert.Equal(t, []string{"a"}, r.Messages)
}

func TestMergeCondCompilePrecedence(t *testing.T) {
	cases := []struct {
		a, b, want CondCompileType
	}{
		{Never, Skippable, Never},
		{Never, Nullable, Never},
		{Required, Skippable, Required},
		{Required, Nullable, Required},
		{Skippable, Nullable, Skippable},
		{Nullable, Nullable, Nullable},
		{NoConstraint, Nullable, Nullable},
	}
	for _, c := range cases {
		got := MergeCondCompile(CondCompileResult{Type: c.a}, CondCompileResult{Type: c.b})
		assert.Equal(t, c.want, got.Type, "merge(%v,%v)", c.a, c.b)
	}
}

func TestContextWithAmountFailsOutOfFunds(t *testing.T) {
	ctx := NewContext(100, nil, nil)
	_, err := ctx.WithAmount(200)
	assert.ErrorIs(t, err, &Error{Kind: OutOfFunds})
}

func TestContextDeriveDoesNotMutateParent(t *testing.T) {
	ctx := NewContext(100, nil, nil)
	child := ctx.Derive(effects.GuardFragment())
	assert.NotEqual(t, ctx.Path().String(), child.Path().String())
}
