// Package devstream implements dev_stream (spec.md section 4.4): the
// per-device-attachment view of an rstream, wrapping its shm ring with
// an (optional, identity-shortcut) format converter and a mix buffer.
package devstream

import (
	"fmt"
	"time"

	"github.com/crasd/crasd/pkg/convert"
	"github.com/crasd/crasd/pkg/format"
	"github.com/crasd/crasd/pkg/frame"
	"github.com/crasd/crasd/pkg/stream"
)

// DevStream wraps one rstream's shm ring for one device attachment. It
// borrows the rstream (does not own it — the streams registry does,
// spec.md section 3 "Ownership") and owns the converter and mix buffer.
type DevStream struct {
	Stream       *stream.RStream
	DeviceFormat format.Format

	conv   *convert.Converter
	mixBuf frame.PCM
}

// New builds a DevStream attaching rs to a device of deviceFormat.
// Per spec.md section 4.4, the converter direction follows the stream's
// data direction: capture converts device format -> stream format
// (capture_sink's input shape); playback converts stream format ->
// device format (mix_into's input shape).
func New(rs *stream.RStream, deviceFormat format.Format, maxFrames int) (*DevStream, error) {
	var conv *convert.Converter
	var err error
	switch rs.Direction {
	case stream.Capture:
		conv, err = convert.Create(deviceFormat, rs.Format, maxFrames)
	default: // Playback, Unified
		conv, err = convert.Create(rs.Format, deviceFormat, maxFrames)
	}
	if err != nil {
		return nil, fmt.Errorf("devstream: %w", err)
	}

	channels := rs.Format.NumChannels
	if deviceFormat.NumChannels > channels {
		channels = deviceFormat.NumChannels
	}

	return &DevStream{
		Stream:       rs,
		DeviceFormat: deviceFormat,
		conv:         conv,
		mixBuf:       make(frame.PCM, maxFrames*channels),
	}, nil
}

// PlaybackFramesReady returns the number of device-rate frames this
// stream can contribute right now (conversion applied), spec.md section
// 4.4.
func (ds *DevStream) PlaybackFramesReady() int {
	avail := ds.Stream.Shm.FramesReady()
	return ds.conv.InFramesToOut(avail)
}

// CaptureSink pushes nDeviceFrames captured frames (in device format) at
// device rate into the stream's shm, converter applied (spec.md section
// 4.4).
func (ds *DevStream) CaptureSink(deviceArea frame.PCM, nDeviceFrames int, now time.Time) error {
	wantOut := ds.conv.InFramesToOut(nDeviceFrames)
	if wantOut > len(ds.mixBuf)/ds.Stream.Format.NumChannels {
		wantOut = len(ds.mixBuf) / ds.Stream.Format.NumChannels
	}
	n, err := ds.conv.ConvertFrames(deviceArea, nDeviceFrames, ds.mixBuf, wantOut)
	if err != nil {
		return fmt.Errorf("devstream: capture sink convert: %w", err)
	}
	if n == 0 {
		return nil
	}
	converted := ds.mixBuf[:n*ds.Stream.Format.NumChannels]
	return ds.Stream.Shm.Produce(converted, now)
}

// MixInto reads up to maxDeviceFrames device-rate frames from this
// stream (format-converted, volume-scaled by the shm ring on consume),
// applies softwareVolScaler (system/software volume, spec.md section
// 4.1), and additively mixes into deviceBuf with integer saturation at
// the device's sample depth (spec.md section 9). Returns the number of
// device-rate frames actually mixed.
func (ds *DevStream) MixInto(deviceBuf frame.PCM, maxDeviceFrames int, softwareVolScaler float32) (int, error) {
	if ds.Stream.Direction == stream.Capture {
		return 0, fmt.Errorf("devstream: MixInto called on a capture stream")
	}

	inNeeded := ds.conv.OutFramesToIn(maxDeviceFrames)
	streamFrames, ok := ds.Stream.Shm.Consume(inNeeded)
	if !ok {
		return 0, nil
	}

	outCap := len(ds.mixBuf) / ds.DeviceFormat.NumChannels
	if outCap > maxDeviceFrames {
		outCap = maxDeviceFrames
	}
	n, err := ds.conv.ConvertFrames(streamFrames, streamFrames.Frames(ds.Stream.Format.NumChannels), ds.mixBuf, outCap)
	if err != nil {
		return 0, fmt.Errorf("devstream: mix convert: %w", err)
	}

	saturate := saturatorFor(ds.DeviceFormat.SampleFormat)
	samples := n * ds.DeviceFormat.NumChannels
	for i := 0; i < samples && i < len(deviceBuf); i++ {
		scaled := int64(float32(ds.mixBuf[i]) * softwareVolScaler)
		deviceBuf[i] = saturate(int64(deviceBuf[i]) + scaled)
	}
	return n, nil
}

func saturatorFor(f format.SampleFormat) func(int64) int32 {
	switch f {
	case format.SampleS16LE:
		return frame.SaturateS16
	case format.SampleS24LE:
		return frame.SaturateS24
	default:
		return frame.SaturateS32
	}
}

// FramesStillNeededAtDeviceRate is the `frames_still_needed_at_dev_rate`
// quantity of spec.md section 4.6: how many more device-rate frames
// must pass before this stream can next be serviced, clamped to >= 0.
// For playback it is the shortfall between cb_threshold and the
// stream's current shm fill, converted stream-rate -> device-rate; for
// capture it is the symmetric quantity (how many more device-rate
// frames the device must produce before the stream's next callback can
// fire), converted device-rate -> ... by the converter's inverse.
func (ds *DevStream) FramesStillNeededAtDeviceRate() int {
	ready := ds.Stream.Shm.FramesReady()
	needed := ds.Stream.CBThreshold - ready
	if needed < 0 {
		needed = 0
	}
	if ds.Stream.Direction == stream.Capture {
		return ds.conv.OutFramesToIn(needed)
	}
	return ds.conv.InFramesToOut(needed)
}

// UpdateNextCBTs advances the stream's next_cb_ts by cb_threshold /
// stream_rate after a successful fill/drain, per spec.md section 4.4.
func (ds *DevStream) UpdateNextCBTs(now time.Time) {
	interval := time.Duration(float64(ds.Stream.CBThreshold) / float64(ds.Stream.Format.FrameRate) * float64(time.Second))
	ds.Stream.SetNextCBTs(now.Add(interval))
}

// Close releases converter resources. Safe to call once the dev_stream
// is detached (stream removed or device gone, spec.md section 3
// lifecycle).
func (ds *DevStream) Close() {
	ds.conv.Destroy()
}
