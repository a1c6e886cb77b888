package template

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/sapio-lang/sapio/compiled"
	"github.com/sapio-lang/sapio/contract"
	"github.com/sapio-lang/sapio/locktime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompilable struct {
	script []byte
}

func (f fakeCompilable) Compile(ctx *contract.Context) (*compiled.Object, error) {
	return &compiled.Object{
		Address:  compiled.ExtendedAddress{Kind: compiled.AddressUnknown, Script: f.script},
		RootPath: ctx.Path(),
	}, nil
}

func TestBuilderAddOutputDebitsFunds(t *testing.T) {
	ctx := contract.NewContext(100_000, nil, nil)
	b := New(ctx)

	b, err := b.AddOutput(30_000, fakeCompilable{script: []byte{0x51}}, nil)
	require.NoError(t, err)
	assert.Equal(t, btcutil.Amount(70_000), ctx.Funds())
}

func TestBuilderAddOutputFailsOutOfFunds(t *testing.T) {
	ctx := contract.NewContext(100, nil, nil)
	b := New(ctx)

	_, err := b.AddOutput(200, fakeCompilable{}, nil)
	assert.ErrorIs(t, err, &contract.Error{Kind: contract.OutOfFunds})
}

func TestBuilderAddOutputDerivesDistinctChildPaths(t *testing.T) {
	ctx := contract.NewContext(100_000, nil, nil)
	b := New(ctx)

	b, err := b.AddOutput(10_000, fakeCompilable{script: []byte{0x51}}, nil)
	require.NoError(t, err)
	b, err = b.AddOutput(10_000, fakeCompilable{script: []byte{0x52}}, nil)
	require.NoError(t, err)

	tmpl, err := b.Finalize()
	require.NoError(t, err)
	require.Len(t, tmpl.Outputs, 2)

	first := tmpl.Outputs[0].Contract.RootPath.String()
	second := tmpl.Outputs[1].Contract.RootPath.String()
	assert.NotEqual(t, first, second, "sibling outputs must compile under distinct paths")
	assert.Equal(t, ctx.Path().String()+"/#0", first)
	assert.Equal(t, ctx.Path().String()+"/#1", second)
}

func TestBuilderSetSequenceMergesCompatible(t *testing.T) {
	ctx := contract.NewContext(100, nil, nil)
	b := New(ctx)

	b, err := b.SetSequence(0, locktime.RelHeight(5))
	require.NoError(t, err)
	b, err = b.SetSequence(0, locktime.RelHeight(10))
	require.NoError(t, err)

	tmpl, err := b.Finalize()
	require.NoError(t, err)
	assert.Equal(t, uint32(10), tmpl.PerInputSequence[0])
}

func TestBuilderSetSequenceRejectsIncompatible(t *testing.T) {
	ctx := contract.NewContext(100, nil, nil)
	b := New(ctx)

	b, err := b.SetSequence(0, locktime.RelHeight(5))
	require.NoError(t, err)
	_, err = b.SetSequence(0, locktime.RelTime(5))
	assert.ErrorIs(t, err, &contract.Error{Kind: contract.IncompatibleSequence})
}

func TestBuilderSetSequenceNegativeIndex(t *testing.T) {
	ctx := contract.NewContext(100, nil, nil)
	b := New(ctx).AddSequence().AddSequence()

	b, err := b.SetSequence(-1, locktime.RelHeight(7))
	require.NoError(t, err)

	tmpl, err := b.Finalize()
	require.NoError(t, err)
	require.Len(t, tmpl.PerInputSequence, 3)
	assert.Equal(t, uint32(7), tmpl.PerInputSequence[2])
}

func TestBuilderFinalizeComputesCTVHash(t *testing.T) {
	ctx := contract.NewContext(100_000, nil, nil)
	b := New(ctx)
	b, err := b.AddOutput(50_000, fakeCompilable{script: []byte{0x51}}, nil)
	require.NoError(t, err)

	tmpl, err := b.Finalize()
	require.NoError(t, err)

	want := CTVHash(tmpl.Tx, 0)
	assert.Equal(t, want, tmpl.CTVHash)
	assert.Equal(t, int64(50_000), TotalOutputAmount(tmpl.Tx))
}

func TestBuilderDefaultSequenceIsRelativeTimeZero(t *testing.T) {
	ctx := contract.NewContext(100, nil, nil)
	tmpl, err := New(ctx).Finalize()
	require.NoError(t, err)
	assert.Equal(t, locktime.RelTime(0).Sequence(), tmpl.PerInputSequence[0])
}

func TestBuilderSetSequenceRejectsAbsoluteLock(t *testing.T) {
	ctx := contract.NewContext(100, nil, nil)
	abs, err := locktime.AbsHeight(700_000)
	require.NoError(t, err)
	_, err = New(ctx).SetSequence(0, abs)
	assert.ErrorIs(t, err, &contract.Error{Kind: contract.IncompatibleSequence})
}

func TestBuilderSetLockTimeRejectsRelativeLock(t *testing.T) {
	ctx := contract.NewContext(100, nil, nil)
	_, err := New(ctx).SetLockTime(locktime.RelHeight(10))
	assert.ErrorIs(t, err, &contract.Error{Kind: contract.IncompatibleSequence})
}

func TestBuilderAddOpReturn(t *testing.T) {
	ctx := contract.NewContext(100, nil, nil)
	b, err := New(ctx).AddOpReturn([]byte("anchor"))
	require.NoError(t, err)

	tmpl, err := b.Finalize()
	require.NoError(t, err)
	require.Len(t, tmpl.Tx.TxOut, 1)
	assert.Equal(t, int64(0), tmpl.Tx.TxOut[0].Value)
	assert.Equal(t, btcutil.Amount(100), ctx.Funds(), "an op_return output must not debit funds")

	_, err = New(ctx).AddOpReturn(make([]byte, 81))
	assert.ErrorIs(t, err, &contract.Error{Kind: contract.OpReturnTooLong})
}

func TestBuilderPerInputSequenceLengthMatchesInputs(t *testing.T) {
	ctx := contract.NewContext(100, nil, nil)
	b := New(ctx).AddSequence().AddSequence()
	tmpl, err := b.Finalize()
	require.NoError(t, err)
	assert.Len(t, tmpl.PerInputSequence, len(tmpl.Tx.TxIn))
}
