package convert

import (
	"testing"

	"github.com/crasd/crasd/pkg/format"
	"github.com/crasd/crasd/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func fmt48k(ch int) format.Format {
	return format.Format{SampleFormat: format.SampleS16LE, FrameRate: 48000, NumChannels: ch, ChannelLayout: format.DefaultLayout(ch)}
}

func fmt44k(ch int) format.Format {
	return format.Format{SampleFormat: format.SampleS16LE, FrameRate: 44100, NumChannels: ch, ChannelLayout: format.DefaultLayout(ch)}
}

func TestIdentityShortcut(t *testing.T) {
	c, err := Create(fmt48k(2), fmt48k(2), 1024)
	require.NoError(t, err)
	assert.True(t, c.IsIdentity())

	in := frame.PCM{1, 2, 3, 4}
	out := make(frame.PCM, 4)
	n, err := c.ConvertFrames(in, 2, out, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, in, out)
}

func TestRoundTripRatesExact(t *testing.T) {
	rates := [][2]int{{48000, 44100}, {44100, 48000}, {16000, 48000}, {48000, 16000}, {8000, 48000}}
	for _, r := range rates {
		c, err := Create(
			format.Format{SampleFormat: format.SampleS16LE, FrameRate: r[0], NumChannels: 2, ChannelLayout: format.DefaultLayout(2)},
			format.Format{SampleFormat: format.SampleS16LE, FrameRate: r[1], NumChannels: 2, ChannelLayout: format.DefaultLayout(2)},
			8192,
		)
		require.NoError(t, err)
		for _, k := range []int{1, 10, 100, 441, 480, 1000, 4800} {
			inNeeded := c.OutFramesToIn(k)
			gotOut := c.InFramesToOut(inNeeded)
			diff := gotOut - k
			assert.LessOrEqualf(t, diff, 1, "rates %v k=%d: got %d", r, k, gotOut)
			assert.GreaterOrEqualf(t, diff, -1, "rates %v k=%d: got %d", r, k, gotOut)
		}
	}
}

func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		fromRate := rapid.SampledFrom([]int{8000, 16000, 22050, 44100, 48000, 96000}).Draw(t, "fromRate")
		toRate := rapid.SampledFrom([]int{8000, 16000, 22050, 44100, 48000, 96000}).Draw(t, "toRate")
		k := rapid.IntRange(1, 20000).Draw(t, "k")

		c, err := Create(
			format.Format{SampleFormat: format.SampleS16LE, FrameRate: fromRate, NumChannels: 1, ChannelLayout: format.DefaultLayout(1)},
			format.Format{SampleFormat: format.SampleS16LE, FrameRate: toRate, NumChannels: 1, ChannelLayout: format.DefaultLayout(1)},
			1<<20,
		)
		require.NoError(t, err)

		inNeeded := c.OutFramesToIn(k)
		gotOut := c.InFramesToOut(inNeeded)
		diff := gotOut - k
		if diff > 1 || diff < -1 {
			t.Fatalf("round trip broke: fromRate=%d toRate=%d k=%d inNeeded=%d gotOut=%d", fromRate, toRate, k, inNeeded, gotOut)
		}
	})
}

func TestMonoToStereoBroadcasts(t *testing.T) {
	c, err := Create(fmt48k(1), fmt48k(2), 1024)
	require.NoError(t, err)

	in := frame.PCM{100, 200, 300}
	out := make(frame.PCM, 6)
	n, err := c.ConvertFrames(in, 3, out, 3)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	for f := 0; f < 3; f++ {
		assert.Equal(t, out[f*2], out[f*2+1])
	}
}

func TestStereoToMonoTakesLeft(t *testing.T) {
	c, err := Create(fmt48k(2), fmt48k(1), 1024)
	require.NoError(t, err)

	in := frame.PCM{100, 900, 200, 900}
	out := make(frame.PCM, 2)
	n, err := c.ConvertFrames(in, 2, out, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.Equal(t, int32(100), out[0])
	assert.Equal(t, int32(200), out[1])
}

func TestBitDepthWidening(t *testing.T) {
	from := format.Format{SampleFormat: format.SampleS16LE, FrameRate: 48000, NumChannels: 1, ChannelLayout: format.DefaultLayout(1)}
	to := format.Format{SampleFormat: format.SampleS32LE, FrameRate: 48000, NumChannels: 1, ChannelLayout: format.DefaultLayout(1)}
	c, err := Create(from, to, 1024)
	require.NoError(t, err)

	in := frame.PCM{16384} // half full scale at 16-bit
	out := make(frame.PCM, 1)
	n, err := c.ConvertFrames(in, 1, out, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	// Scaled up to 32-bit range, should be roughly 16384 * (2^31/2^15).
	assert.InDelta(t, float64(16384)*65536, float64(out[0]), float64(65536))
}

func TestInvalidFormatRejected(t *testing.T) {
	bad := format.Format{SampleFormat: format.SampleS16LE, FrameRate: 0, NumChannels: 2}
	_, err := Create(bad, fmt48k(2), 10)
	assert.Error(t, err)
}
