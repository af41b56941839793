// Package stream implements rstream (spec.md section 3): a registered
// audio stream owned by the server on behalf of one client, and the
// global streams registry.
package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/crasd/crasd/pkg/format"
	"github.com/crasd/crasd/pkg/shmring"
)

// Direction is the stream's data direction.
type Direction int

const (
	Playback Direction = iota
	Capture
	Unified // duplex; spec.md section 9 design note (c)
)

func (d Direction) String() string {
	switch d {
	case Playback:
		return "playback"
	case Capture:
		return "capture"
	case Unified:
		return "unified"
	default:
		return "invalid"
	}
}

// ParseDirection rejects unknown direction values per spec.md section 9
// design note (c) rather than guessing.
func ParseDirection(v int) (Direction, error) {
	switch Direction(v) {
	case Playback, Capture, Unified:
		return Direction(v), nil
	default:
		return 0, fmt.Errorf("stream: unknown direction value %d", v)
	}
}

// Flags are per-stream behavior bits.
type Flags uint32

const (
	FlagHotword Flags = 1 << iota
)

// ID packs (client_id, per-client stream counter) as required by
// spec.md section 3 to be unique across the server.
type ID struct {
	ClientID uint32
	Counter  uint32
}

func (id ID) Uint64() uint64 {
	return uint64(id.ClientID)<<32 | uint64(id.Counter)
}

func (id ID) String() string {
	return fmt.Sprintf("%08x:%08x", id.ClientID, id.Counter)
}

// RStream is a registered client stream: its negotiated format, its
// shared-memory ring, its audio side-channel socket, and scheduling
// bookkeeping (spec.md section 3, 4.6).
type RStream struct {
	ID            ID
	Direction     Direction
	Format        format.Format
	BufferFrames  int
	CBThreshold   int
	MinCBLevel    int
	Flags         Flags

	Shm          *shmring.Region
	AudioSockFD  int // the audio-side socket fd, -1 if not yet attached

	mu               sync.Mutex
	nextCBTs         time.Time
	lastFetchedCBTs  time.Time
	errored          bool
	consecutiveFails int
}

// New constructs an RStream. The caller is responsible for allocating
// Shm and the audio socket before the stream is handed to the audio
// thread.
func New(id ID, dir Direction, f format.Format, bufferFrames, cbThreshold, minCBLevel int, flags Flags) (*RStream, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	if cbThreshold <= 0 || cbThreshold > bufferFrames {
		return nil, fmt.Errorf("stream: cb_threshold %d must be in (0, buffer_frames=%d]", cbThreshold, bufferFrames)
	}
	return &RStream{
		ID:           id,
		Direction:    dir,
		Format:       f,
		BufferFrames: bufferFrames,
		CBThreshold:  cbThreshold,
		MinCBLevel:   minCBLevel,
		Flags:        flags,
		AudioSockFD:  -1,
	}, nil
}

func (s *RStream) IsHotword() bool { return s.Flags&FlagHotword != 0 }

// NextCBTs returns the next scheduled callback time. Monotonically
// non-decreasing per stream per spec.md section 4.6 "Ordering
// guarantees" — enforced by SetNextCBTs.
func (s *RStream) NextCBTs() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextCBTs
}

// SetNextCBTs refuses to move next_cb_ts backwards.
func (s *RStream) SetNextCBTs(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.nextCBTs) {
		s.nextCBTs = t
	}
}

// InitNextCBTs sets the initial next_cb_ts unconditionally (used only at
// stream creation, before the monotonicity guarantee needs to hold).
func (s *RStream) InitNextCBTs(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCBTs = t
}

func (s *RStream) LastFetchedCBTs() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFetchedCBTs
}

func (s *RStream) SetLastFetchedCBTs(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFetchedCBTs = t
}

// MarkTransportFailure records a failed socket op. After a caller-chosen
// failure budget the stream should be torn down (spec.md section 4.6
// "Failure semantics" — exponential-capped backoff, then disconnect).
func (s *RStream) MarkTransportFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFails++
	return s.consecutiveFails
}

func (s *RStream) ResetTransportFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFails = 0
}

func (s *RStream) MarkErrored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errored = true
}

func (s *RStream) Errored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errored
}

// Close releases the stream's shm region. Double-close safe because
// shmring.Region.Close is itself idempotent.
func (s *RStream) Close() error {
	if s.Shm != nil {
		return s.Shm.Close()
	}
	return nil
}
