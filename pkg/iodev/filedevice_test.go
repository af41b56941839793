package iodev

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestWav synthesizes a tiny stereo 16-bit wav file for capture tests.
func writeTestWav(t *testing.T, path string, frames int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, 48000, 16, 2, 1)
	data := make([]int, frames*2)
	for i := range data {
		data[i] = i % 1000
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: 48000, NumChannels: 2},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func TestFileCaptureDeviceReadsDecodedSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	writeTestWav(t, path, 20)

	d := NewFileCaptureDevice(path)
	require.NoError(t, d.Open(stereo48k()))
	defer d.Close()

	queued, err := d.FramesQueued(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 20, queued)

	out, n, err := d.GetBuffer(10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 20, len(out))
	require.NoError(t, d.PutBuffer(n))

	queued, err = d.FramesQueued(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 10, queued)
}

func TestFilePlaybackDeviceWritesFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	d := NewFilePlaybackDevice(path)
	require.NoError(t, d.Open(stereo48k()))

	buf, n, err := d.GetBuffer(5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	for i := range buf {
		buf[i] = 100
	}
	require.NoError(t, d.PutBuffer(n))
	require.NoError(t, d.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
