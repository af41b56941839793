package audiothread

import (
	"testing"
	"time"

	"github.com/crasd/crasd/pkg/devstream"
	"github.com/crasd/crasd/pkg/format"
	"github.com/crasd/crasd/pkg/frame"
	"github.com/crasd/crasd/pkg/shmring"
	"github.com/crasd/crasd/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fmtAt(rate int) format.Format {
	return format.Format{SampleFormat: format.SampleS16LE, FrameRate: rate, NumChannels: 2, ChannelLayout: format.DefaultLayout(2)}
}

// newTestStream builds an attached devstream.DevStream with bufferFrames
// >= cbThreshold, ready frames already produced into its shm, and
// next_cb_ts initialized to nextCBTs. flags lets callers mark a stream
// hotword (stream.FlagHotword).
func newTestStream(t *testing.T, streamRate, deviceRate, cbThreshold, readyFrames int, nextCBTs time.Time, flags stream.Flags) *devstream.DevStream {
	t.Helper()
	sf := fmtAt(streamRate)
	df := fmtAt(deviceRate)
	bufferFrames := cbThreshold * 4
	rs, err := stream.New(stream.ID{ClientID: 1, Counter: 1}, stream.Playback, sf, bufferFrames, cbThreshold, 0, flags)
	require.NoError(t, err)
	shm, err := shmring.New(sf, bufferFrames)
	require.NoError(t, err)
	rs.Shm = shm
	rs.InitNextCBTs(nextCBTs)
	t.Cleanup(func() { _ = rs.Close() })

	if readyFrames > 0 {
		samples := make(frame.PCM, readyFrames*sf.NumChannels)
		require.NoError(t, shm.Produce(samples, time.Now()))
	}

	ds, err := devstream.New(rs, df, bufferFrames)
	require.NoError(t, err)
	t.Cleanup(ds.Close)
	return ds
}

// serviceIfDue models one audio-thread cycle for an ordinary stream:
// when its schedule has arrived and its shm holds a full window, the
// window drains and next_cb_ts advances (spec.md section 4.4, 4.6).
func serviceIfDue(t *testing.T, ds *devstream.DevStream, now time.Time) {
	t.Helper()
	if now.Before(ds.Stream.NextCBTs()) {
		return
	}
	if ds.Stream.Shm.FramesReady() < ds.Stream.CBThreshold {
		return
	}
	_, ok := ds.Stream.Shm.Consume(ds.Stream.CBThreshold)
	require.True(t, ok)
	ds.UpdateNextCBTs(now)
}

// farWake stands in for a device wake deadline that never binds, so a
// scenario's result is governed entirely by its stream(s).
func farWake(now time.Time) time.Time {
	return now.Add(time.Hour)
}

func TestDeviceWake(t *testing.T) {
	now := time.Now()
	got := DeviceWake(now, 480, 240, 48000)
	assert.Equal(t, now.Add(5*time.Millisecond), got)
}

func TestWaitAfterFill(t *testing.T) {
	now := time.Now()
	ds := newTestStream(t, 48000, 48000, 480, 480, now, 0)

	serviceIfDue(t, ds, now)
	needed := ds.FramesStillNeededAtDeviceRate()
	wake := StreamNext(now, ds.Stream.NextCBTs(), needed, 48000)
	earliest := EarliestWake(farWake(now), []time.Time{wake})

	assert.Equal(t, now.Add(10*time.Millisecond), earliest)
}

func TestWaitAfterFillSRC(t *testing.T) {
	now := time.Now()
	ds := newTestStream(t, 44100, 48000, 441, 441, now, 0)

	serviceIfDue(t, ds, now)
	needed := ds.FramesStillNeededAtDeviceRate()
	wake := StreamNext(now, ds.Stream.NextCBTs(), needed, 48000)
	earliest := EarliestWake(farWake(now), []time.Time{wake})

	delta := earliest.Sub(now)
	assert.InDelta(t, 10*time.Millisecond, delta, float64(200*time.Microsecond))
}

func TestWaitTwoStreamsSameFormat(t *testing.T) {
	now := time.Now()
	full := newTestStream(t, 48000, 48000, 480, 480, now, 0)
	half := newTestStream(t, 48000, 48000, 480, 240, now, 0)

	serviceIfDue(t, full, now)
	serviceIfDue(t, half, now)

	w1 := StreamNext(now, full.Stream.NextCBTs(), full.FramesStillNeededAtDeviceRate(), 48000)
	w2 := StreamNext(now, half.Stream.NextCBTs(), half.FramesStillNeededAtDeviceRate(), 48000)
	earliest := EarliestWake(farWake(now), []time.Time{w1, w2})

	assert.Equal(t, now.Add(5*time.Millisecond), earliest)
}

func TestWaitTwoStreamsDifferentRates(t *testing.T) {
	now := time.Now()
	const deviceRate = 44100
	full := newTestStream(t, 44100, deviceRate, 441, 441, now, 0)
	half := newTestStream(t, 48000, deviceRate, 480, 240, now, 0)

	serviceIfDue(t, full, now)
	serviceIfDue(t, half, now)

	w1 := StreamNext(now, full.Stream.NextCBTs(), full.FramesStillNeededAtDeviceRate(), deviceRate)
	w2 := StreamNext(now, half.Stream.NextCBTs(), half.FramesStillNeededAtDeviceRate(), deviceRate)
	earliest := EarliestWake(farWake(now), []time.Time{w1, w2})

	delta := earliest.Sub(now)
	assert.InDelta(t, 5*time.Millisecond, delta, float64(200*time.Microsecond))
}

func TestWaitTwoStreamsDifferentWakeupTimes(t *testing.T) {
	now := time.Now()
	s1 := newTestStream(t, 48000, 44100, 480, 480, now.Add(3*time.Millisecond), 0)
	s2 := newTestStream(t, 48000, 44100, 480, 480, now.Add(5*time.Millisecond), 0)

	w1 := StreamNext(now, s1.Stream.NextCBTs(), s1.FramesStillNeededAtDeviceRate(), 44100)
	w2 := StreamNext(now, s2.Stream.NextCBTs(), s2.FramesStillNeededAtDeviceRate(), 44100)
	earliest := EarliestWake(farWake(now), []time.Time{w1, w2})

	assert.Equal(t, now.Add(3*time.Millisecond), earliest)
}

func TestHotwordStreamUseDevTiming(t *testing.T) {
	now := time.Now()
	ds := newTestStream(t, 48000, 48000, 240, 192, now.Add(3*time.Millisecond), stream.FlagHotword)

	fill := ds.Stream.Shm.FramesReady()
	wake := HotwordWake(now, ds.Stream.NextCBTs(), fill, ds.Stream.CBThreshold, 48000)

	assert.Equal(t, now.Add(6*time.Millisecond), wake)
}

func TestHotwordStreamBulkData(t *testing.T) {
	now := time.Now()
	ds := newTestStream(t, 48000, 48000, 240, 480, now, stream.FlagHotword)

	fill := ds.Stream.Shm.FramesReady()
	wake := HotwordWake(now, ds.Stream.NextCBTs(), fill, ds.Stream.CBThreshold, 48000)

	delta := wake.Sub(now)
	assert.True(t, delta > 19*time.Second && delta < 21*time.Second, "got delta %v", delta)
}
