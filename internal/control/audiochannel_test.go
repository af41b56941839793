package control

import (
	"net"
	"testing"
	"time"

	"github.com/crasd/crasd/pkg/format"
	"github.com/crasd/crasd/pkg/shmring"
	"github.com/crasd/crasd/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeAudioChannelAnswersRequestData(t *testing.T) {
	f := format.Format{SampleFormat: format.SampleS16LE, FrameRate: 48000, NumChannels: 2, ChannelLayout: format.DefaultLayout(2)}
	shm, err := shmring.New(f, 480)
	require.NoError(t, err)
	defer shm.Close()
	require.NoError(t, shm.Produce(make([]int32, 200*2), time.Now()))

	dir := t.TempDir()
	l, path, err := ListenAudioSocket(dir, "crasd-audio", 7)
	require.NoError(t, err)
	go ServeAudioChannel(l, shm, nil)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	req := wire.AudioMessage{ID: wire.RequestData}
	_, err = conn.Write(req.Encode())
	require.NoError(t, err)

	buf := make([]byte, wire.AudioMessageSize)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	reply, err := wire.DecodeAudioMessage(buf)
	require.NoError(t, err)

	assert.Equal(t, wire.DataReady, reply.ID)
	assert.Equal(t, uint32(200), reply.Frames)
}

func TestDispatcherOpensAndClosesAudioChannelOnDisconnect(t *testing.T) {
	dir := t.TempDir()
	queue := make(chan Command, 8)
	fakeAudioThread(t, queue)
	d := NewDispatcher(queue, time.Second, dir, "crasd-audio", nil)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	go d.ServeConn(serverConn)

	req := wire.ConnectStreamRequest{Direction: 0, FrameRate: 48000, NumChannels: 2, BufferFrames: 480, CBThreshold: 240}
	require.NoError(t, wire.WriteMessage(clientConn, wire.ConnectStream, req.Encode()))

	id, payload, err := wire.ReadMessage(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.ClientStreamConnected, id)
	reply, err := wire.DecodeClientStreamConnectedReply(payload)
	require.NoError(t, err)
	require.Equal(t, int32(0), reply.Err)

	d.audioMu.Lock()
	_, ok := d.audioSock[reply.StreamID]
	d.audioMu.Unlock()
	assert.True(t, ok, "audio side-channel should have been opened for the connected stream")

	disconnect := wire.DisconnectStreamRequest{StreamID: reply.StreamID}
	require.NoError(t, wire.WriteMessage(clientConn, wire.DisconnectStream, disconnect.Encode()))
	time.Sleep(50 * time.Millisecond)

	d.audioMu.Lock()
	_, stillOpen := d.audioSock[reply.StreamID]
	d.audioMu.Unlock()
	assert.False(t, stillOpen, "audio side-channel should close on disconnect")
}
