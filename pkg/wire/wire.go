// Package wire implements the client-server framed wire protocol of
// spec.md section 6: length-prefixed messages on a unix-domain stream
// socket, every message beginning with a 4-byte length and a 4-byte id.
//
// Grounded on the teacher's dedicated-framing discipline in
// cmd/signallingserver (one handler per message kind, explicit
// marshal/unmarshal boundary) — the wire *shape* itself follows this
// spec's binary length-prefixed framing rather than the teacher's
// JSON/HTTP choice, since a local audio IPC protocol is not a JSON/HTTP
// protocol (spec.md section 6/9 design note (a)).
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/crasd/crasd/pkg/crasderr"
)

// MessageID enumerates the abstract message taxonomy of spec.md section
// 6 and section 4.7.
type MessageID uint32

const (
	// Client -> server.
	ConnectStream MessageID = iota + 1
	DisconnectStream
	SwitchStreamTypeIodev
	SetSystemVolume
	SetSystemMute
	SetSystemMuteLocked
	SetSystemCaptureGain
	SetSystemCaptureMute
	SetSystemCaptureMuteLocked
	ReloadDSP
	DumpDSP
	SelectNode
	SetNodeAttr
	SetNodeVolume

	// Server -> client.
	ClientConnected
	ClientStreamConnected
	ClientStreamReattach
	ClientIodevList
	ClientVolumeUpdate
	ClientClientListUpdate
)

func (id MessageID) String() string {
	switch id {
	case ConnectStream:
		return "CONNECT_STREAM"
	case DisconnectStream:
		return "DISCONNECT_STREAM"
	case SwitchStreamTypeIodev:
		return "SWITCH_STREAM_TYPE_IODEV"
	case SetSystemVolume:
		return "SET_SYSTEM_VOLUME"
	case SetSystemMute:
		return "SET_SYSTEM_MUTE"
	case SetSystemMuteLocked:
		return "SET_SYSTEM_MUTE_LOCKED"
	case SetSystemCaptureGain:
		return "SET_SYSTEM_CAPTURE_GAIN"
	case SetSystemCaptureMute:
		return "SET_SYSTEM_CAPTURE_MUTE"
	case SetSystemCaptureMuteLocked:
		return "SET_SYSTEM_CAPTURE_MUTE_LOCKED"
	case ReloadDSP:
		return "RELOAD_DSP"
	case DumpDSP:
		return "DUMP_DSP"
	case SelectNode:
		return "SELECT_NODE"
	case SetNodeAttr:
		return "SET_NODE_ATTR"
	case SetNodeVolume:
		return "SET_NODE_VOLUME"
	case ClientConnected:
		return "CLIENT_CONNECTED"
	case ClientStreamConnected:
		return "CLIENT_STREAM_CONNECTED"
	case ClientStreamReattach:
		return "CLIENT_STREAM_REATTACH"
	case ClientIodevList:
		return "CLIENT_IODEV_LIST"
	case ClientVolumeUpdate:
		return "CLIENT_VOLUME_UPDATE"
	case ClientClientListUpdate:
		return "CLIENT_CLIENT_LIST_UPDATE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(id))
	}
}

const headerSize = 8

// maxMessageSize bounds a single message's payload so a corrupt or
// malicious declared length cannot force an unbounded allocation.
const maxMessageSize = 1 << 20

// ReadMessage reads one framed message from r: a 4-byte little-endian
// total length (header included), a 4-byte little-endian id, and
// length-8 bytes of payload.
//
// Per spec.md section 9 design note (a), the declared length is the
// single source of truth for how much payload follows; a message whose
// declared length is inconsistent with what can be read (too short to
// hold a header, or the payload read comes up short) is refused as a
// protocol error rather than guessed at.
func ReadMessage(r io.Reader) (MessageID, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, fmt.Errorf("wire: read header: %w", err)
	}

	length := binary.LittleEndian.Uint32(hdr[0:4])
	id := MessageID(binary.LittleEndian.Uint32(hdr[4:8]))

	if length < headerSize {
		return 0, nil, crasderr.New(crasderr.Protocol, "read_message", fmt.Errorf("declared length %d shorter than header", length))
	}
	if length > maxMessageSize {
		return 0, nil, crasderr.New(crasderr.Protocol, "read_message", fmt.Errorf("declared length %d exceeds max message size", length))
	}

	payload := make([]byte, length-headerSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, crasderr.New(crasderr.Protocol, "read_message", fmt.Errorf("payload short of declared length %d: %w", length, err))
	}
	return id, payload, nil
}

// WriteMessage frames and writes one message.
func WriteMessage(w io.Writer, id MessageID, payload []byte) error {
	length := uint32(headerSize + len(payload))
	buf := make([]byte, length)
	binary.LittleEndian.PutUint32(buf[0:4], length)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(id))
	copy(buf[headerSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return crasderr.New(crasderr.Transport, "write_message", err)
	}
	return nil
}
