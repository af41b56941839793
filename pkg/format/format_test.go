package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsAbsentSlots(t *testing.T) {
	f := Format{
		SampleFormat:  SampleS16LE,
		FrameRate:     48000,
		NumChannels:   2,
		ChannelLayout: DefaultLayout(2),
	}
	require.NoError(t, f.Validate())
}

func TestValidateRejectsOutOfRangeChannel(t *testing.T) {
	f := Format{
		SampleFormat: SampleS16LE,
		FrameRate:    48000,
		NumChannels:  2,
	}
	f.ChannelLayout[FL] = 5
	assert.Error(t, f.Validate())
}

func TestValidateRejectsNonPositiveRate(t *testing.T) {
	f := Format{NumChannels: 2}
	assert.Error(t, f.Validate())
}

func TestFrameBytes(t *testing.T) {
	f := Format{SampleFormat: SampleS16LE, FrameRate: 48000, NumChannels: 2}
	assert.Equal(t, 4, f.FrameBytes())
}

func TestIdentical(t *testing.T) {
	a := Format{SampleFormat: SampleS16LE, FrameRate: 48000, NumChannels: 2, ChannelLayout: DefaultLayout(2)}
	b := a
	assert.True(t, a.Identical(b))
	b.FrameRate = 44100
	assert.False(t, a.Identical(b))
}
