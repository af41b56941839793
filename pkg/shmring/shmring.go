// Package shmring implements the per-stream shared-memory ring protocol
// of spec.md section 4.2: two double-buffered areas ("A"/"B"), a
// single-bit write_in_progress seqlock per area, and daemon/client
// producer-consumer roles fixed by stream direction.
//
// The region is backed by a real named POSIX-style shared mapping: New
// creates a file under /dev/shm (the same tmpfs-backed mechanism
// shm_open uses on Linux) and golang.org/x/sys/unix.Mmap's it
// MAP_SHARED, the same technique
// richinsley-goshadertoy/sharedmemory/shmi_linux.go uses via cgo
// (shm_open/ftruncate/mmap), reimplemented without cgo since a plain
// os.OpenFile against /dev/shm gets the same tmpfs object. The region's
// control words (offsets, the write_in_progress bit, per-area
// timestamps, volume/mute) live inside the mapped bytes themselves, not
// in ordinary Go-heap fields, so a second process that opens the same
// /dev/shm name and maps it sees the same ring state the daemon does —
// the key a client needs to do that is Region.Key(), carried back in
// wire.ClientStreamConnectedReply (spec.md section 4.7 "shm key").
//
// Resolution of spec.md section 4.2's apparently swapped wording ("For
// playback: Daemon (producer)...") vs. section 3's general rule
// ("daemon-produces for capture, client-produces for playback"): this
// package takes section 3's statement as authoritative and treats
// section 4.2's prose as describing the generic producer/consumer
// mechanics, not a literal role assignment. See DESIGN.md.
package shmring

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/crasd/crasd/pkg/format"
	"github.com/crasd/crasd/pkg/frame"
	"golang.org/x/sys/unix"
)

// Direction mirrors the stream direction that fixes producer/consumer
// roles for a region.
type Direction int

const (
	Playback Direction = iota
	Capture
	Unified
)

// shmDir is where POSIX shared-memory objects live on Linux; shm_open
// itself is implemented this way in glibc.
const shmDir = "/dev/shm"

// Region header layout. Every offset below is a byte offset into the
// mapped region; all fields are accessed through sync/atomic so a
// daemon-side writer and a client-side reader never observe a torn
// value, mirroring the atomics-over-shared-memory story spec.md section
// 9 describes.
const (
	offActiveAreaIdx   = 0  // int32
	offCallbackPending = 4  // int32 (0/1)
	offMute            = 8  // int32 (0/1)
	offVolumeBits      = 12 // uint32, math.Float32bits
	regionHeaderSize   = 32 // remainder reserved for future region-wide fields

	// Per-area header, two of these follow the region header.
	offAreaWriteOffset     = 0  // int32, in samples
	offAreaReadOffset      = 4  // int32, in samples
	offAreaWriteInProgress = 8  // int32 (0/1)
	offAreaTsNanos         = 16 // int64, 8-byte aligned within the area header
	areaHeaderSize         = 24

	// headerSize rounds regionHeaderSize+2*areaHeaderSize (80) up to a
	// cache-line-ish boundary before the sample data starts.
	headerSize = 128
)

// Region is one stream's shared-memory audio region: config, two ring
// areas, the active-area selector, and the callback_pending flag, all
// addressed directly into the mapped bytes.
type Region struct {
	Format         format.Format
	UsedSizeFrames int

	name         string
	mapping      []byte // backing named shared mapping; nil if unmapped
	bytesPerArea int
	bufs         [2][]int32 // views into mapping, one per area
}

// New allocates a region sized for usedSizeFrames frames per area at the
// given format, backed by a named /dev/shm mapping any process that
// learns the name (Region.Key()) can attach to.
func New(f format.Format, usedSizeFrames int) (*Region, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("shmring: %w", err)
	}
	if usedSizeFrames <= 0 {
		return nil, fmt.Errorf("shmring: used_size must be positive, got %d", usedSizeFrames)
	}

	samplesPerArea := usedSizeFrames * f.NumChannels
	bytesPerArea := samplesPerArea * 4 // int32 backing regardless of wire sample width
	total := headerSize + bytesPerArea*2

	name := newShmName()
	path := shmPath(name)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("shmring: shm_open %s: %w", name, err)
	}
	defer file.Close()

	if err := unix.Ftruncate(int(file.Fd()), int64(total)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("shmring: ftruncate: %w", err)
	}

	mapping, err := unix.Mmap(int(file.Fd()), 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("shmring: mmap: %w", err)
	}

	r := &Region{
		Format:         f,
		UsedSizeFrames: usedSizeFrames,
		name:           name,
		mapping:        mapping,
		bytesPerArea:   bytesPerArea,
	}
	r.bufs[0] = int32SliceFromBytes(mapping[headerSize : headerSize+bytesPerArea])
	r.bufs[1] = int32SliceFromBytes(mapping[headerSize+bytesPerArea : headerSize+2*bytesPerArea])
	r.setVolumeBits(float32bits(1.0))
	return r, nil
}

// shmPath builds the /dev/shm path for a region name.
func shmPath(name string) string { return shmDir + "/" + name }

var shmNameSeq atomic.Uint64

// newShmName generates a name unique to this process, following the
// same "/name" convention shm_open expects (minus the leading slash,
// since it is joined onto shmDir directly).
func newShmName() string {
	return fmt.Sprintf("crasd-shm-%d-%d", os.Getpid(), shmNameSeq.Add(1))
}

// Key returns the POSIX shared-memory object name backing this region.
// A client process opens shmDir+"/"+Key() and mmaps it MAP_SHARED to
// attach to the same ring the daemon is writing, per spec.md section
// 4.7's "shm key" field on CLIENT_STREAM_CONNECTED.
func (r *Region) Key() string { return r.name }

// Close unmaps the region's backing memory and unlinks its /dev/shm
// object. Double-close is detected and suppressed per spec.md section 5
// "scoped resource acquisition".
func (r *Region) Close() error {
	if r.mapping == nil {
		return nil
	}
	m := r.mapping
	name := r.name
	r.mapping = nil
	err := unix.Munmap(m)
	if rmErr := os.Remove(shmPath(name)); rmErr != nil && err == nil && !os.IsNotExist(rmErr) {
		err = rmErr
	}
	return err
}

// --- region-header field accessors -----------------------------------

func (r *Region) ptr32(off int) *int32 {
	return (*int32)(unsafe.Pointer(&r.mapping[off]))
}

func (r *Region) ptrU32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mapping[off]))
}

func (r *Region) ptr64(off int) *int64 {
	return (*int64)(unsafe.Pointer(&r.mapping[off]))
}

func (r *Region) areaHeaderOffset(idx int32) int {
	return regionHeaderSize + int(idx)*areaHeaderSize
}

func (r *Region) activeAreaIdx() int32      { return atomic.LoadInt32(r.ptr32(offActiveAreaIdx)) }
func (r *Region) setActiveAreaIdx(v int32)  { atomic.StoreInt32(r.ptr32(offActiveAreaIdx), v) }
func (r *Region) volumeBits() uint32        { return atomic.LoadUint32(r.ptrU32(offVolumeBits)) }
func (r *Region) setVolumeBits(bits uint32) { atomic.StoreUint32(r.ptrU32(offVolumeBits), bits) }

// SetVolume sets the stream's volume scaler. Per spec.md section 8, an
// out-of-range value returns an error and leaves state unchanged.
func (r *Region) SetVolume(v float32) error {
	if v < 0.0 || v > 1.0 {
		return fmt.Errorf("shmring: volume_scaler %.3f out of range [0.0, 1.0]", v)
	}
	r.setVolumeBits(float32bits(v))
	return nil
}

// Volume returns the current volume scaler.
func (r *Region) Volume() float32 { return float32frombits(r.volumeBits()) }

func (r *Region) SetMute(m bool) { atomic.StoreInt32(r.ptr32(offMute), b2i(m)) }
func (r *Region) Mute() bool     { return atomic.LoadInt32(r.ptr32(offMute)) != 0 }

func (r *Region) CallbackPending() bool {
	return atomic.LoadInt32(r.ptr32(offCallbackPending)) != 0
}
func (r *Region) SetCallbackPending(v bool) {
	atomic.StoreInt32(r.ptr32(offCallbackPending), b2i(v))
}

// --- per-area field accessors -----------------------------------------

func (r *Region) areaWriteOffset(idx int32) int32 {
	return atomic.LoadInt32(r.ptr32(r.areaHeaderOffset(idx) + offAreaWriteOffset))
}
func (r *Region) setAreaWriteOffset(idx int32, v int32) {
	atomic.StoreInt32(r.ptr32(r.areaHeaderOffset(idx)+offAreaWriteOffset), v)
}
func (r *Region) areaReadOffset(idx int32) int32 {
	return atomic.LoadInt32(r.ptr32(r.areaHeaderOffset(idx) + offAreaReadOffset))
}
func (r *Region) setAreaReadOffset(idx int32, v int32) {
	atomic.StoreInt32(r.ptr32(r.areaHeaderOffset(idx)+offAreaReadOffset), v)
}
func (r *Region) addAreaReadOffset(idx int32, n int32) {
	atomic.AddInt32(r.ptr32(r.areaHeaderOffset(idx)+offAreaReadOffset), n)
}
func (r *Region) areaWriteInProgress(idx int32) bool {
	return atomic.LoadInt32(r.ptr32(r.areaHeaderOffset(idx)+offAreaWriteInProgress)) != 0
}
func (r *Region) setAreaWriteInProgress(idx int32, v bool) {
	atomic.StoreInt32(r.ptr32(r.areaHeaderOffset(idx)+offAreaWriteInProgress), b2i(v))
}
func (r *Region) setAreaTsNanos(idx int32, v int64) {
	atomic.StoreInt64(r.ptr64(r.areaHeaderOffset(idx)+offAreaTsNanos), v)
}
func (r *Region) areaTsNanos(idx int32) int64 {
	return atomic.LoadInt64(r.ptr64(r.areaHeaderOffset(idx) + offAreaTsNanos))
}

func b2i(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// Produce runs the producer side of the protocol: selects the inactive
// area, marks write_in_progress, copies samples in, stamps the
// timestamp, clears write_in_progress (release), then flips
// active_area_idx so the consumer sees the new data. samples must not
// exceed UsedSizeFrames frames.
func (r *Region) Produce(samples frame.PCM, now time.Time) error {
	frames := samples.Frames(r.Format.NumChannels)
	if frames > r.UsedSizeFrames {
		return fmt.Errorf("shmring: produce %d frames exceeds used_size %d", frames, r.UsedSizeFrames)
	}

	active := r.activeAreaIdx()
	target := 1 - active

	r.setAreaWriteInProgress(target, true)
	copy(r.bufs[target], samples)
	r.setAreaWriteOffset(target, int32(len(samples)))
	r.setAreaReadOffset(target, 0)
	r.setAreaTsNanos(target, now.UnixNano())
	r.setAreaWriteInProgress(target, false) // release: consumer must not observe data until this clears

	r.setActiveAreaIdx(target)
	r.SetCallbackPending(false)
	return nil
}

// Consume runs the consumer side: reads from the active area starting at
// read_offset, applying volume scaling and mute, up to maxFrames frames
// or until the area is drained. Returns the frames read and whether any
// data was available. If write_in_progress is set on the active area
// (producer mid-flip, which should not happen given Produce's ordering,
// but is defended against), Consume reports no data rather than racing.
func (r *Region) Consume(maxFrames int) (frame.PCM, bool) {
	idx := r.activeAreaIdx()

	if r.areaWriteInProgress(idx) { // acquire: refuse to read a partial write
		return nil, false
	}

	wOff := r.areaWriteOffset(idx)
	rOff := r.areaReadOffset(idx)
	if rOff > wOff {
		return nil, false // invariant violation guard; should be unreachable
	}
	availSamples := wOff - rOff
	if availSamples <= 0 {
		return nil, false
	}

	wantSamples := int32(maxFrames * r.Format.NumChannels)
	n := availSamples
	if wantSamples < n {
		n = wantSamples
	}
	if n <= 0 {
		return nil, false
	}

	buf := r.bufs[idx]
	out := make(frame.PCM, n)
	vol := r.Volume()
	muted := r.Mute()
	for i := int32(0); i < n; i++ {
		v := buf[rOff+i]
		if muted {
			out[i] = 0
		} else {
			out[i] = int32(float32(v) * vol)
		}
	}

	r.addAreaReadOffset(idx, n)
	return out, true
}

// Drained reports whether the active area has been fully consumed:
// read_offset == write_offset and no write is in progress.
func (r *Region) Drained() bool {
	idx := r.activeAreaIdx()
	return !r.areaWriteInProgress(idx) && r.areaReadOffset(idx) == r.areaWriteOffset(idx)
}

// ActiveWriteOffsetFrames and ActiveReadOffsetFrames expose the active
// area's offsets in frames, for scheduling/bookkeeping and for the
// invariant tests in spec.md section 8.
func (r *Region) ActiveWriteOffsetFrames() int {
	return int(r.areaWriteOffset(r.activeAreaIdx())) / r.Format.NumChannels
}

func (r *Region) ActiveReadOffsetFrames() int {
	return int(r.areaReadOffset(r.activeAreaIdx())) / r.Format.NumChannels
}

func (r *Region) ActiveTimestamp() time.Time {
	return time.Unix(0, r.areaTsNanos(r.activeAreaIdx()))
}

// FramesReady returns the number of frames available to a consumer on
// the active area right now.
func (r *Region) FramesReady() int {
	idx := r.activeAreaIdx()
	if r.areaWriteInProgress(idx) {
		return 0
	}
	avail := r.areaWriteOffset(idx) - r.areaReadOffset(idx)
	if avail <= 0 {
		return 0
	}
	return int(avail) / r.Format.NumChannels
}
