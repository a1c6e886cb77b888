package effects

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentRoundTrip(t *testing.T) {
	named, err := NamedFragment("deposit")
	require.NoError(t, err)

	cases := []PathFragment{
		RootFragment(), ClonedFragment(), ActionFragment(), FinishFnFragment(),
		CondCompIfFragment(), GuardFragment(), NextFragment(), SuggestedFragment(),
		DefaultEffectFragment(), EffectsFragment(), MetadataFragment(),
		BranchFragment(0), BranchFragment(123), named,
	}
	for _, f := range cases {
		parsed, err := ParseFragment(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
	}
}

func TestNamedFragmentRejectsBadChars(t *testing.T) {
	_, err := NamedFragment("has space")
	assert.ErrorIs(t, err, ErrBadFragmentName)

	_, err = NamedFragment("")
	assert.ErrorIs(t, err, ErrBadFragmentName)
}

func TestParseFragmentRejectsUnknownReservedForm(t *testing.T) {
	_, err := ParseFragment("@not_a_real_form")
	assert.ErrorIs(t, err, ErrBadFragmentName)
}

func TestEffectPathStringOrder(t *testing.T) {
	named, err := NamedFragment("hello")
	require.NoError(t, err)

	p := RootPath().Push(named).Push(BranchFragment(123)).Push(FinishFnFragment())
	assert.Equal(t, "@root/hello/#123/@finish_fn", p.String())
}

func TestEffectPathParseMatchesPush(t *testing.T) {
	named, err := NamedFragment("hello")
	require.NoError(t, err)
	built := RootPath().Push(named).Push(BranchFragment(123))

	parsed, err := ParsePath(built.String())
	require.NoError(t, err)
	assert.True(t, built.Equal(parsed))
}

func TestEffectPathDerivationDoesNotMutateParent(t *testing.T) {
	base := RootPath()
	a := base.Push(GuardFragment())
	b := base.Push(NextFragment())

	assert.Equal(t, "@root/@guard", a.String())
	assert.Equal(t, "@root/@next", b.String())
	assert.Equal(t, "@root", base.String())
}

func TestMapDBAbsentPathReturnsEmpty(t *testing.T) {
	db := NewMapDB(nil)
	assert.Empty(t, db.Get(RootPath()))
}

func TestEditableMapDBRoundTrip(t *testing.T) {
	named, err := NamedFragment("amount")
	require.NoError(t, err)
	path := RootPath().Push(named)

	e := NewEditable()
	e.Set(path, "value", json.RawMessage(`100000`))
	e.Set(path, "aaa_key", json.RawMessage(`"first"`))
	db := e.Finish()

	entries := db.Get(path)
	require.Len(t, entries, 2)
	// sorted by key: aaa_key before value
	assert.Equal(t, "aaa_key", entries[0].Key)
	assert.Equal(t, "value", entries[1].Key)
}
