// Package format defines the audio format and channel layout shared by
// every stream, device, and shm region in crasd.
package format

import "fmt"

// SampleFormat names the on-the-wire / in-shm sample encoding.
type SampleFormat int

const (
	SampleS16LE SampleFormat = iota
	SampleS24LE
	SampleS32LE
	SampleFloat32
)

// Bytes returns the size in bytes of a single sample in this format.
func (f SampleFormat) Bytes() int {
	switch f {
	case SampleS16LE:
		return 2
	case SampleS24LE:
		return 3
	case SampleS32LE, SampleFloat32:
		return 4
	default:
		return 0
	}
}

func (f SampleFormat) String() string {
	switch f {
	case SampleS16LE:
		return "S16LE"
	case SampleS24LE:
		return "S24LE"
	case SampleS32LE:
		return "S32LE"
	case SampleFloat32:
		return "FLOAT32LE"
	default:
		return "UNKNOWN"
	}
}

// Channel slot indices into a ChannelLayout. Mirrors the semantic channel
// slots named in spec.md section 3.
const (
	FL = iota
	FR
	RL
	RR
	FC
	LFE
	SL
	SR
	ChMax
)

// ChannelLayout maps each semantic channel slot to a physical channel
// index, or -1 if that slot is absent from the stream.
type ChannelLayout [ChMax]int

// DefaultLayout returns the conventional layout for a given channel count
// (mono or stereo are the only configurations crasd mixes natively;
// anything else is passed through FL/FR plus additional raw channels).
func DefaultLayout(numChannels int) ChannelLayout {
	var l ChannelLayout
	for i := range l {
		l[i] = -1
	}
	switch {
	case numChannels <= 0:
	case numChannels == 1:
		l[FC] = 0
	default:
		l[FL] = 0
		l[FR] = 1
	}
	return l
}

// Format is the full audio format descriptor for a stream or device.
type Format struct {
	SampleFormat SampleFormat
	FrameRate    int
	NumChannels  int
	ChannelLayout
}

// Validate checks the invariant from spec.md section 3: every non -1
// channel layout entry must address a real channel.
func (f Format) Validate() error {
	if f.FrameRate <= 0 {
		return fmt.Errorf("format: frame rate must be positive, got %d", f.FrameRate)
	}
	if f.NumChannels <= 0 {
		return fmt.Errorf("format: num channels must be positive, got %d", f.NumChannels)
	}
	for slot, idx := range f.ChannelLayout {
		if idx != -1 && idx >= f.NumChannels {
			return fmt.Errorf("format: channel layout slot %d maps to channel %d >= num_channels %d", slot, idx, f.NumChannels)
		}
	}
	return nil
}

// Identical reports whether two formats describe the same wire shape
// (used by pkg/convert to recognize the identity-conversion shortcut).
func (f Format) Identical(other Format) bool {
	return f.SampleFormat == other.SampleFormat &&
		f.FrameRate == other.FrameRate &&
		f.NumChannels == other.NumChannels &&
		f.ChannelLayout == other.ChannelLayout
}

// FrameBytes is the number of bytes occupied by one frame (all channels)
// at this format.
func (f Format) FrameBytes() int {
	return f.SampleFormat.Bytes() * f.NumChannels
}
