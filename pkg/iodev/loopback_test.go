package iodev

import (
	"testing"
	"time"

	"github.com/crasd/crasd/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopbackFeedThenReadRoundTrips(t *testing.T) {
	l := NewLoopback("loop0", TapPostMixPreDSP, 100)
	require.NoError(t, l.Open(stereo48k()))

	samples := make(frame.PCM, 10*2)
	for i := range samples {
		samples[i] = int32(i)
	}
	l.Feed(samples, time.Now())

	queued, err := l.FramesQueued(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 10, queued)

	out, n, err := l.GetBuffer(10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, samples, out)
	require.NoError(t, l.PutBuffer(n))

	queued, err = l.FramesQueued(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, queued)
}

func TestLoopbackNeverReadDoesNotGrowRingBeyondConfiguredSize(t *testing.T) {
	l := NewLoopback("loop0", TapPostMixPreDSP, 50)
	require.NoError(t, l.Open(stereo48k()))

	samples := make(frame.PCM, 200*2)
	l.Feed(samples, time.Now())

	queued, err := l.FramesQueued(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 50, queued) // excess silently dropped, oldest-loses policy

	assert.Equal(t, 100, len(l.ring)) // 50 frames * 2 channels, buffer never grows
}

func TestLoopbackPutBufferRejectsExceedingOutstanding(t *testing.T) {
	l := NewLoopback("loop0", TapPostMixPreDSP, 50)
	require.NoError(t, l.Open(stereo48k()))
	samples := make(frame.PCM, 5*2)
	l.Feed(samples, time.Now())

	_, n, err := l.GetBuffer(5)
	require.NoError(t, err)
	assert.Error(t, l.PutBuffer(n+1))
}
