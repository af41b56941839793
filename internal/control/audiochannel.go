package control

import (
	"io"
	"log/slog"
	"net"

	"github.com/crasd/crasd/pkg/shmring"
	"github.com/crasd/crasd/pkg/wire"
)

// ServeAudioChannel accepts the single client connection expected on a
// stream's audio side-channel socket (spec.md section 6) and answers
// request_data records with the stream's current shm fill level. It
// returns once the connection closes or the listener itself is closed
// by the caller (on stream disconnect).
func ServeAudioChannel(l net.Listener, shm *shmring.Region, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := l.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	buf := make([]byte, wire.AudioMessageSize)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		msg, err := wire.DecodeAudioMessage(buf)
		if err != nil {
			log.Warn("audio channel: malformed message", "err", err)
			return
		}
		if msg.ID != wire.RequestData {
			continue
		}
		reply := wire.AudioMessage{ID: wire.DataReady, Frames: uint32(shm.FramesReady())}
		if _, err := conn.Write(reply.Encode()); err != nil {
			return
		}
	}
}
