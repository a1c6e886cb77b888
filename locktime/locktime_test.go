package locktime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelHeightSequence(t *testing.T) {
	l := RelHeight(10)
	assert.Equal(t, uint32(10), l.Sequence())
	assert.Equal(t, Relative, l.Absolutivity())
	assert.Equal(t, Height, l.Unit())
}

func TestRelTimeSetsTypeFlag(t *testing.T) {
	l := RelTime(5)
	assert.Equal(t, uint32(5)|sequenceTypeFlag, l.Sequence())
}

func TestRelTimeFromDurationRounds(t *testing.T) {
	l, err := RelTimeFromDuration(1030 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(2)|sequenceTypeFlag, l.Sequence())
}

func TestRelTimeFromDurationOverflow(t *testing.T) {
	_, err := RelTimeFromDuration(time.Duration(1<<32) * time.Second)
	assert.ErrorIs(t, err, ErrDurationTooLong)
}

func TestAbsHeightRejectsTimestampRange(t *testing.T) {
	_, err := AbsHeight(500_000_000)
	assert.ErrorIs(t, err, ErrHeightTooHigh)

	l, err := AbsHeight(700_000)
	require.NoError(t, err)
	assert.Equal(t, uint32(700_000), l.Value())
}

func TestAbsTimeRejectsTooLow(t *testing.T) {
	_, err := AbsTime(100)
	assert.ErrorIs(t, err, ErrTimeTooFarInPast)
}

func TestMergeTakesStrongerConstraint(t *testing.T) {
	a := RelHeight(10)
	b := RelHeight(20)
	assert.True(t, a.Compatible(b))
	assert.Equal(t, uint32(20), a.Merge(b).Sequence())
	assert.Equal(t, uint32(20), b.Merge(a).Sequence())
}

func TestIncompatibleUnitsDetected(t *testing.T) {
	a := RelHeight(10)
	b := RelTime(10)
	assert.False(t, a.Compatible(b))
}
