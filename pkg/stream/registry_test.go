package stream

import (
	"testing"

	"github.com/crasd/crasd/pkg/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFormat() format.Format {
	return format.Format{SampleFormat: format.SampleS16LE, FrameRate: 48000, NumChannels: 2, ChannelLayout: format.DefaultLayout(2)}
}

func TestAddRemoveRoundTripLeavesRegistryUnchanged(t *testing.T) {
	reg := NewRegistry()
	before := reg.Len()

	s, err := New(ID{ClientID: 1, Counter: 1}, Playback, testFormat(), 480, 240, 0, 0)
	require.NoError(t, err)
	require.NoError(t, reg.Add(s))
	require.NoError(t, reg.Remove(s.ID))

	assert.Equal(t, before, reg.Len())
	_, ok := reg.Get(s.ID)
	assert.False(t, ok)
}

func TestDuplicateIDRejected(t *testing.T) {
	reg := NewRegistry()
	s1, err := New(ID{ClientID: 1, Counter: 1}, Playback, testFormat(), 480, 240, 0, 0)
	require.NoError(t, err)
	s2, err := New(ID{ClientID: 1, Counter: 1}, Capture, testFormat(), 480, 240, 0, 0)
	require.NoError(t, err)

	require.NoError(t, reg.Add(s1))
	assert.Error(t, reg.Add(s2))
}

func TestNextCBTsMonotonicNonDecreasing(t *testing.T) {
	s, err := New(ID{ClientID: 1, Counter: 1}, Playback, testFormat(), 480, 240, 0, 0)
	require.NoError(t, err)

	base := s.NextCBTs()
	s.SetNextCBTs(base.Add(10))
	s.SetNextCBTs(base) // attempt to go backwards
	assert.Equal(t, base.Add(10), s.NextCBTs())
}

func TestParseDirectionRejectsUnknown(t *testing.T) {
	_, err := ParseDirection(99)
	assert.Error(t, err)

	d, err := ParseDirection(int(Unified))
	require.NoError(t, err)
	assert.Equal(t, Unified, d)
}

func TestCBThresholdMustFitBuffer(t *testing.T) {
	_, err := New(ID{ClientID: 1, Counter: 1}, Playback, testFormat(), 100, 200, 0, 0)
	assert.Error(t, err)
}
