package audiothread

import (
	"testing"
	"time"

	"github.com/crasd/crasd/internal/control"
	"github.com/crasd/crasd/pkg/audiothread"
	"github.com/crasd/crasd/pkg/format"
	"github.com/crasd/crasd/pkg/serverstate"
	"github.com/crasd/crasd/pkg/shmring"
	"github.com/crasd/crasd/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestThread(t *testing.T) *Thread {
	t.Helper()
	th := New(serverstate.New(), stream.NewRegistry(), 480, 960, nil)
	require.NoError(t, th.Open())
	return th
}

func newPlaybackRequest(t *testing.T, clientID uint32) *stream.RStream {
	t.Helper()
	f := format.Format{SampleFormat: format.SampleS16LE, FrameRate: 48000, NumChannels: 2, ChannelLayout: format.DefaultLayout(2)}
	rs, err := stream.New(stream.ID{ClientID: clientID, Counter: 1}, stream.Playback, f, 1920, 480, 0, 0)
	require.NoError(t, err)
	shm, err := shmring.New(f, 1920)
	require.NoError(t, err)
	rs.Shm = shm
	t.Cleanup(func() { _ = rs.Close() })
	return rs
}

func TestThreadConnectStreamAttachesToHardwareStandIn(t *testing.T) {
	th := newTestThread(t)
	rs := newPlaybackRequest(t, 1)

	res := th.HandleConnectStream(&control.ConnectStreamArgs{Stream: rs})
	require.NoError(t, res.Err)
	assert.Equal(t, rs.ID.Uint64(), res.StreamID)

	_, ok := th.registry.Get(rs.ID)
	assert.True(t, ok)
	assert.Equal(t, audiothread.NormalRun, th.playback.hardware.State)
	assert.Len(t, th.playback.hardware.Streams(), 1)
}

func TestThreadDisconnectStreamRemovesFromRegistry(t *testing.T) {
	th := newTestThread(t)
	rs := newPlaybackRequest(t, 2)

	res := th.HandleConnectStream(&control.ConnectStreamArgs{Stream: rs})
	require.NoError(t, res.Err)

	th.HandleDisconnectStream(res.StreamID)

	_, ok := th.registry.Get(rs.ID)
	assert.False(t, ok)
	assert.Len(t, th.playback.hardware.Streams(), 0)
}

func TestThreadRunCycleDrainsConnectStreamCommand(t *testing.T) {
	th := newTestThread(t)
	rs := newPlaybackRequest(t, 3)

	cmds := make(chan control.Command, 1)
	reply := make(chan control.Result, 1)
	cmds <- control.Command{
		Kind:          control.CmdConnectStream,
		ConnectStream: &control.ConnectStreamArgs{Stream: rs},
		Reply:         reply,
	}

	th.RunCycle(cmds)

	select {
	case res := <-reply:
		require.NoError(t, res.Err)
		assert.Equal(t, rs.ID.Uint64(), res.StreamID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connect_stream reply")
	}

	_, ok := th.registry.Get(rs.ID)
	assert.True(t, ok)
}

func TestThreadSetSystemVolumeUpdatesState(t *testing.T) {
	th := newTestThread(t)
	cmds := make(chan control.Command, 1)
	cmds <- control.Command{Kind: control.CmdSetSystemVolume, SetScalar: &control.SetScalarArgs{Value: 42}}

	th.drainCommands(cmds)

	assert.Equal(t, 42, th.state.Read().SystemVolume)
}

func TestThreadSelectNodeUpdatesSnapshotSelection(t *testing.T) {
	th := newTestThread(t)
	cmds := make(chan control.Command, 1)
	cmds <- control.Command{Kind: control.CmdSelectNode, SelectNode: &control.SelectNodeArgs{DevIndex: playbackDevIndex, NodeIndex: 3}}

	th.drainCommands(cmds)

	snap := th.state.Read()
	assert.Equal(t, 3, snap.SelectedOutput)
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, 3, snap.Nodes[0].NodeIndex)
}

func TestThreadSetNodeVolumeUpdatesSnapshotNode(t *testing.T) {
	th := newTestThread(t)
	cmds := make(chan control.Command, 1)
	cmds <- control.Command{Kind: control.CmdSetNodeVolume, SetNodeVolume: &control.SetNodeVolumeArgs{DevIndex: captureDevIndex, NodeIndex: 1, Volume: 77}}

	th.drainCommands(cmds)

	snap := th.state.Read()
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, 77, snap.Nodes[0].Volume)
}

func TestThreadSetNodeAttrRejectsUnknownDevice(t *testing.T) {
	th := newTestThread(t)
	cmds := make(chan control.Command, 1)
	reply := make(chan control.Result, 1)
	cmds <- control.Command{
		Kind:        control.CmdSetNodeAttr,
		SetNodeAttr: &control.SetNodeAttrArgs{DevIndex: 99, NodeIndex: 0, Attr: uint32(0), Value: 1},
		Reply:       reply,
	}

	th.drainCommands(cmds)

	res := <-reply
	assert.Error(t, res.Err)
}
