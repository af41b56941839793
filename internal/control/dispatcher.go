package control

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crasd/crasd/pkg/crasderr"
	"github.com/crasd/crasd/pkg/format"
	"github.com/crasd/crasd/pkg/shmring"
	"github.com/crasd/crasd/pkg/stream"
	"github.com/crasd/crasd/pkg/wire"
)

// Dispatcher decodes framed client requests and turns them into
// Commands for the audio thread, per spec.md section 4.7. One
// Dispatcher serves every client connection; each connection's
// handling runs on its own goroutine, all funneling into the single
// shared command queue the audio thread drains.
type Dispatcher struct {
	Queue   chan Command
	Timeout time.Duration
	Log     *slog.Logger

	// SockDir/AudFilePattern locate each connected stream's audio
	// side-channel socket (spec.md section 6), opened once the stream
	// has been accepted by the audio thread.
	SockDir        string
	AudFilePattern string

	nextClientID atomic.Uint32
	nextCounter  atomic.Uint32

	audioMu   sync.Mutex
	audioSock map[uint64]net.Listener
}

// NewDispatcher builds a Dispatcher whose commands are sent on queue
// (normally the scheduler-facing channel cmd/crasd wires up) and waited
// on for up to timeout, spec.md section 4.7's "connect timeout ~500ms"
// default supplied by internal/config. sockDir/audFilePattern locate
// each stream's audio side-channel socket once it connects.
func NewDispatcher(queue chan Command, timeout time.Duration, sockDir, audFilePattern string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		Queue:          queue,
		Timeout:        timeout,
		SockDir:        sockDir,
		AudFilePattern: audFilePattern,
		Log:            log,
		audioSock:      make(map[uint64]net.Listener),
	}
}

// ServeConn reads framed messages from conn until it errors or closes,
// dispatching each to the audio thread and writing back a reply.
func (d *Dispatcher) ServeConn(conn net.Conn) {
	defer conn.Close()
	clientID := d.nextClientID.Add(1)
	log := d.Log.With("client_id", clientID)

	for {
		id, payload, err := wire.ReadMessage(conn)
		if err != nil {
			if crasderr.Is(err, crasderr.Protocol) {
				log.Warn("protocol error, dropping message", "err", err)
				continue
			}
			log.Debug("connection closed", "err", err)
			return
		}

		replyID, replyPayload, err := d.handle(clientID, id, payload)
		if err != nil {
			log.Warn("command failed", "msg", id, "err", err)
			continue
		}
		if replyID == 0 {
			continue
		}
		if err := wire.WriteMessage(conn, replyID, replyPayload); err != nil {
			log.Warn("write reply failed", "err", err)
			return
		}
	}
}

func (d *Dispatcher) handle(clientID uint32, id wire.MessageID, payload []byte) (wire.MessageID, []byte, error) {
	switch id {
	case wire.ConnectStream:
		return d.handleConnectStream(clientID, payload)
	case wire.DisconnectStream:
		return 0, nil, d.handleDisconnectStream(payload)
	case wire.SetSystemVolume:
		return 0, nil, d.handleScalar(CmdSetSystemVolume, payload)
	case wire.SetSystemCaptureGain:
		return 0, nil, d.handleScalar(CmdSetCaptureGain, payload)
	case wire.SetSystemMute, wire.SetSystemMuteLocked:
		return 0, nil, d.handleMute(CmdSetSystemMute, id == wire.SetSystemMuteLocked, payload)
	case wire.SetSystemCaptureMute, wire.SetSystemCaptureMuteLocked:
		return 0, nil, d.handleMute(CmdSetCaptureMute, id == wire.SetSystemCaptureMuteLocked, payload)
	case wire.SelectNode:
		return 0, nil, d.handleSelectNode(payload)
	case wire.SetNodeVolume:
		return 0, nil, d.handleSetNodeVolume(payload)
	case wire.SetNodeAttr:
		return 0, nil, d.handleSetNodeAttr(payload)
	case wire.ReloadDSP:
		_, err := Dispatch(d.Queue, Command{Kind: CmdReloadDSP}, d.Timeout)
		return 0, nil, err
	case wire.DumpDSP:
		_, err := Dispatch(d.Queue, Command{Kind: CmdDumpDSP}, d.Timeout)
		return 0, nil, err
	default:
		return 0, nil, crasderr.New(crasderr.Protocol, "dispatch", fmt.Errorf("unknown message id %s", id))
	}
}

func (d *Dispatcher) handleConnectStream(clientID uint32, payload []byte) (wire.MessageID, []byte, error) {
	req, err := wire.DecodeConnectStreamRequest(payload)
	if err != nil {
		return 0, nil, crasderr.New(crasderr.Protocol, "connect_stream", err)
	}
	dir, err := stream.ParseDirection(int(req.Direction))
	if err != nil {
		return 0, nil, crasderr.New(crasderr.Protocol, "connect_stream", err)
	}

	f := format.Format{
		SampleFormat: format.SampleFormat(req.SampleFormat),
		FrameRate:    int(req.FrameRate),
		NumChannels:  int(req.NumChannels),
		ChannelLayout: format.DefaultLayout(int(req.NumChannels)),
	}

	counter := d.nextCounter.Add(1)
	rs, err := stream.New(stream.ID{ClientID: clientID, Counter: counter}, dir, f, int(req.BufferFrames), int(req.CBThreshold), int(req.MinCBLevel), stream.Flags(req.Flags))
	if err != nil {
		return wire.ClientStreamConnected, wire.ClientStreamConnectedReply{Err: 1}.Encode(), nil
	}
	shm, err := shmring.New(f, int(req.BufferFrames))
	if err != nil {
		return wire.ClientStreamConnected, wire.ClientStreamConnectedReply{Err: 1}.Encode(), nil
	}
	rs.Shm = shm

	res, err := Dispatch(d.Queue, Command{Kind: CmdConnectStream, ConnectStream: &ConnectStreamArgs{Stream: rs}}, d.Timeout)
	if err != nil || res.Err != nil {
		_ = rs.Close()
		return wire.ClientStreamConnected, wire.ClientStreamConnectedReply{Err: 1}.Encode(), nil
	}

	if err := d.openAudioChannel(res.StreamID, rs.Shm); err != nil {
		d.Log.Warn("failed to open audio side-channel, stream will run without it", "stream_id", res.StreamID, "err", err)
	}

	reply := wire.ClientStreamConnectedReply{
		StreamID:     res.StreamID,
		FrameRate:    req.FrameRate,
		NumChannels:  req.NumChannels,
		SampleFormat: req.SampleFormat,
		BufferFrames: req.BufferFrames,
		ShmKey:       rs.Shm.Key(),
	}
	return wire.ClientStreamConnected, reply.Encode(), nil
}

func (d *Dispatcher) handleDisconnectStream(payload []byte) error {
	req, err := wire.DecodeDisconnectStreamRequest(payload)
	if err != nil {
		return crasderr.New(crasderr.Protocol, "disconnect_stream", err)
	}
	_, err = Dispatch(d.Queue, Command{Kind: CmdDisconnectStream, DisconnectStream: &DisconnectStreamArgs{StreamID: req.StreamID}}, d.Timeout)
	d.closeAudioChannel(req.StreamID)
	return err
}

// openAudioChannel opens streamID's audio side-channel socket and
// serves it on its own goroutine, spec.md section 6. A failure here is
// non-fatal to the connect: the stream still runs, just without the
// side-channel (a client that never dials it simply never gets
// request_data/data_ready records).
func (d *Dispatcher) openAudioChannel(streamID uint64, shm *shmring.Region) error {
	if d.SockDir == "" {
		return nil
	}
	l, _, err := ListenAudioSocket(d.SockDir, d.AudFilePattern, streamID)
	if err != nil {
		return err
	}
	d.audioMu.Lock()
	d.audioSock[streamID] = l
	d.audioMu.Unlock()
	go ServeAudioChannel(l, shm, d.Log)
	return nil
}

func (d *Dispatcher) closeAudioChannel(streamID uint64) {
	d.audioMu.Lock()
	l, ok := d.audioSock[streamID]
	if ok {
		delete(d.audioSock, streamID)
	}
	d.audioMu.Unlock()
	if ok {
		_ = l.Close()
	}
}

func (d *Dispatcher) handleScalar(kind Kind, payload []byte) error {
	req, err := wire.DecodeSetSystemVolumeRequest(payload)
	if err != nil {
		return crasderr.New(crasderr.Protocol, "set_scalar", err)
	}
	_, err = Dispatch(d.Queue, Command{Kind: kind, SetScalar: &SetScalarArgs{Value: req.Value}}, d.Timeout)
	return err
}

func (d *Dispatcher) handleMute(kind Kind, locked bool, payload []byte) error {
	req, err := wire.DecodeSetMuteRequest(payload)
	if err != nil {
		return crasderr.New(crasderr.Protocol, "set_mute", err)
	}
	_, err = Dispatch(d.Queue, Command{Kind: kind, SetMute: &SetMuteArgs{Mute: req.Mute, Locked: locked || req.Locked}}, d.Timeout)
	return err
}

func (d *Dispatcher) handleSelectNode(payload []byte) error {
	req, err := wire.DecodeSelectNodeRequest(payload)
	if err != nil {
		return crasderr.New(crasderr.Protocol, "select_node", err)
	}
	_, err = Dispatch(d.Queue, Command{Kind: CmdSelectNode, SelectNode: &SelectNodeArgs{DevIndex: req.DevIndex, NodeIndex: req.NodeIndex}}, d.Timeout)
	return err
}

func (d *Dispatcher) handleSetNodeVolume(payload []byte) error {
	req, err := wire.DecodeSetNodeVolumeRequest(payload)
	if err != nil {
		return crasderr.New(crasderr.Protocol, "set_node_volume", err)
	}
	_, err = Dispatch(d.Queue, Command{Kind: CmdSetNodeVolume, SetNodeVolume: &SetNodeVolumeArgs{DevIndex: req.DevIndex, NodeIndex: req.NodeIndex, Volume: req.Volume}}, d.Timeout)
	return err
}

func (d *Dispatcher) handleSetNodeAttr(payload []byte) error {
	req, err := wire.DecodeSetNodeAttrRequest(payload)
	if err != nil {
		return crasderr.New(crasderr.Protocol, "set_node_attr", err)
	}
	_, err = Dispatch(d.Queue, Command{Kind: CmdSetNodeAttr, SetNodeAttr: &SetNodeAttrArgs{DevIndex: req.DevIndex, NodeIndex: req.NodeIndex, Attr: req.Attr, Value: req.Value}}, d.Timeout)
	return err
}
