package control

import (
	"net"
	"testing"
	"time"

	"github.com/crasd/crasd/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAudioThread drains queue and replies as if it were the scheduler,
// assigning sequential stream ids to CmdConnectStream commands.
func fakeAudioThread(t *testing.T, queue chan Command) chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		var nextID uint64 = 1
		for {
			select {
			case cmd, ok := <-queue:
				if !ok {
					close(done)
					return
				}
				res := Result{}
				if cmd.Kind == CmdConnectStream {
					res.StreamID = nextID
					nextID++
				}
				cmd.Reply <- res
			case <-done:
				return
			}
		}
	}()
	return done
}

func newTestDispatcher(t *testing.T) (*Dispatcher, net.Conn) {
	t.Helper()
	queue := make(chan Command, 8)
	fakeAudioThread(t, queue)
	d := NewDispatcher(queue, time.Second, "", "", nil)

	clientConn, serverConn := net.Pipe()
	go d.ServeConn(serverConn)
	t.Cleanup(func() { clientConn.Close() })
	return d, clientConn
}

func TestDispatcherConnectStreamAssignsStreamID(t *testing.T) {
	_, conn := newTestDispatcher(t)

	req := wire.ConnectStreamRequest{
		Direction: 0, FrameRate: 48000, NumChannels: 2, SampleFormat: 0,
		BufferFrames: 480, CBThreshold: 240, MinCBLevel: 0, Flags: 0,
	}
	require.NoError(t, wire.WriteMessage(conn, wire.ConnectStream, req.Encode()))

	id, payload, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, wire.ClientStreamConnected, id)

	reply, err := wire.DecodeClientStreamConnectedReply(payload)
	require.NoError(t, err)
	assert.Equal(t, int32(0), reply.Err)
	assert.Equal(t, uint64(1), reply.StreamID)
}

func TestDispatcherRejectsUnknownDirection(t *testing.T) {
	_, conn := newTestDispatcher(t)

	req := wire.ConnectStreamRequest{
		Direction: 99, FrameRate: 48000, NumChannels: 2,
		BufferFrames: 480, CBThreshold: 240,
	}
	require.NoError(t, wire.WriteMessage(conn, wire.ConnectStream, req.Encode()))

	// An invalid-direction connect is a protocol error: no reply is sent
	// and the connection stays open, so a second, valid request should
	// still be served on the same connection.
	req.Direction = 0
	require.NoError(t, wire.WriteMessage(conn, wire.ConnectStream, req.Encode()))

	id, payload, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, wire.ClientStreamConnected, id)
	reply, err := wire.DecodeClientStreamConnectedReply(payload)
	require.NoError(t, err)
	assert.Equal(t, int32(0), reply.Err)
}

func TestDispatcherSetSystemVolumeProducesNoReply(t *testing.T) {
	_, conn := newTestDispatcher(t)

	req := wire.SetSystemVolumeRequest{Value: 42}
	require.NoError(t, wire.WriteMessage(conn, wire.SetSystemVolume, req.Encode()))

	// Follow with a request that does reply, to confirm the volume
	// command was processed without wedging the connection.
	cr := wire.ConnectStreamRequest{Direction: 0, FrameRate: 48000, NumChannels: 2, BufferFrames: 480, CBThreshold: 240}
	require.NoError(t, wire.WriteMessage(conn, wire.ConnectStream, cr.Encode()))

	id, _, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, wire.ClientStreamConnected, id)
}
