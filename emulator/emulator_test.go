package emulator_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapio-lang/sapio/clause"
	"github.com/sapio-lang/sapio/emulator"
)

func newTestMaster(t *testing.T) *hdkeychain.ExtendedKey {
	t.Helper()
	seed := make([]byte, hdkeychain.RecommendedSeedLen)
	for i := range seed {
		seed[i] = byte(i)
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return master
}

func TestIdentityReturnsRealCTVClause(t *testing.T) {
	var hash [32]byte
	hash[0] = 0x42

	c, err := emulator.Identity{}.GetSignerFor(hash)
	require.NoError(t, err)
	assert.Equal(t, clause.CTVKind, c.Kind())
	assert.Equal(t, hash, c.Digest())
	assert.NoError(t, emulator.Identity{}.Sign(nil))
}

func TestHDEmulatorDerivesDeterministicKeyPerHash(t *testing.T) {
	master := newTestMaster(t)
	e := emulator.NewHDEmulator(master, &chaincfg.RegressionNetParams)

	var hashA, hashB [32]byte
	hashA[0], hashA[31] = 0x01, 0xAA
	hashB[0], hashB[31] = 0x02, 0xBB

	c1, err := e.GetSignerFor(hashA)
	require.NoError(t, err)
	c2, err := e.GetSignerFor(hashA)
	require.NoError(t, err)
	c3, err := e.GetSignerFor(hashB)
	require.NoError(t, err)

	require.Equal(t, clause.KeyKind, c1.Kind())
	assert.True(t, c1.Key().IsEqual(c2.Key()), "same hash must derive the same child key")
	assert.False(t, c1.Key().IsEqual(c3.Key()), "distinct hashes must derive distinct child keys")
}

func TestFederatedThresholdCombinesMemberClauses(t *testing.T) {
	master := newTestMaster(t)
	a := emulator.NewHDEmulator(master, &chaincfg.RegressionNetParams)
	b := emulator.NewHDEmulator(master, &chaincfg.RegressionNetParams)

	fed, err := emulator.NewFederated(2, a, b)
	require.NoError(t, err)

	var hash [32]byte
	c, err := fed.GetSignerFor(hash)
	require.NoError(t, err)
	assert.Equal(t, clause.ThresholdKind, c.Kind())
}

func TestNewFederatedRejectsBadThreshold(t *testing.T) {
	_, err := emulator.NewFederated(0, emulator.Identity{})
	assert.Error(t, err)

	_, err = emulator.NewFederated(2, emulator.Identity{})
	assert.Error(t, err)
}
