// Package iodev implements the iodev capability set of spec.md section
// 4.1: polymorphism without inheritance over a small set of device
// variants (hardware stand-in, loopback, empty/fallback, file-backed
// test device, A2DP stand-in), grounded on the teacher's
// AudioSourceDevice/AudioSinkDevice interfaces in
// pkg/audiodevice/device.go, generalized from a channel-only capability
// set to the richer get_buffer/put_buffer/frames_queued contract this
// spec requires.
package iodev

import (
	"time"

	"github.com/crasd/crasd/pkg/format"
	"github.com/crasd/crasd/pkg/frame"
)

// Direction is a device's data direction. Unlike stream.Direction, a
// device is never duplex.
type Direction int

const (
	Playback Direction = iota
	Capture
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "playback"
}

// Info describes a device's static and negotiated metadata, per spec.md
// section 3 "iodev capability set".
type Info struct {
	Name                   string
	Direction              Direction
	BufferSizeFrames       int
	SupportedRates         []int
	SupportedChannelCounts []int
	SupportedFormats       []format.SampleFormat
	ActiveNode             *IONode
	SoftwareVolumeNeeded   bool
}

// IODev is the capability set every device variant implements (spec.md
// section 3/4.1). Between a matched GetBuffer/PutBuffer pair, no other
// GetBuffer/PutBuffer may be issued on the same device — callers (the
// audio thread) are expected to respect that single-threaded discipline
// themselves since IODev implementations are not required to be safe
// for concurrent use.
type IODev interface {
	// Open negotiates f (or the device's closest supported format) and
	// transitions the device into the open state.
	Open(f format.Format) error
	Close() error
	IsOpen() bool

	// DevRunning reports whether the device is actively clocking frames
	// (as opposed to merely open but stalled).
	DevRunning() bool

	// FramesQueued is cheap: for playback, frames queued ahead of the
	// hardware; for capture, frames available to read. May be derived
	// from elapsed wall-clock for virtual devices.
	FramesQueued(now time.Time) (int, error)

	// DelayFrames is the device's fixed hardware latency in frames.
	DelayFrames() (int, error)

	// GetBuffer returns a direct view of at most n frames of linear
	// memory and the number actually available.
	GetBuffer(n int) (frame.PCM, int, error)

	// PutBuffer commits k frames (k <= the n returned by the matching
	// GetBuffer).
	PutBuffer(k int) error

	UpdateSupportedFormats() ([]format.Format, error)
	UpdateActiveNode(node *IONode) error

	Format() format.Format
	Info() Info
}
