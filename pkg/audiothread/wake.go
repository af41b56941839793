// Package audiothread implements the scheduling engine of spec.md
// section 4.6: wake-time computation, the active_dev state machine, and
// hotword special-casing. The teacher has no analogous wake-time
// scheduler of its own (its WebRTC/rtaudio callbacks drive timing
// implicitly), so this package is grounded directly on spec.md section
// 4.6's formulas and the section 8 scenarios, using
// golang.org/x/sys/unix.Poll for the multiplexed wait the way
// doismellburning-samoyed uses golang.org/x/sys for low-level POSIX
// interop.
package audiothread

import "time"

// DeviceWake computes t_dev (spec.md section 4.6): the time by which a
// device's queued level would drop to cbThreshold at the device's
// sample rate, assuming no further fill. level and cbThreshold are both
// device-rate frames.
func DeviceWake(now time.Time, level, cbThreshold, rate int) time.Time {
	if rate <= 0 {
		return now
	}
	deltaFrames := level - cbThreshold
	delta := time.Duration(float64(deltaFrames) / float64(rate) * float64(time.Second))
	return now.Add(delta)
}

// StreamNext computes stream_next (spec.md section 4.6):
// max(stream.next_cb_ts, now + frames_still_needed_at_dev_rate/rate).
func StreamNext(now, nextCBTs time.Time, framesStillNeededAtDevRate, rate int) time.Time {
	if rate <= 0 {
		return nextCBTs
	}
	delta := time.Duration(float64(framesStillNeededAtDevRate) / float64(rate) * float64(time.Second))
	candidate := now.Add(delta)
	if candidate.After(nextCBTs) {
		return candidate
	}
	return nextCBTs
}

// EarliestWake picks the device's wake deadline: min(t_dev,
// min_over_streams(stream_next)). Per spec.md section 4.6 "Tie-break:
// prefer the earlier stream; if equal, any stable order" — time.Time
// equality ties are broken by streamNexts' iteration order, which for a
// slice is already stable.
func EarliestWake(tDev time.Time, streamNexts []time.Time) time.Time {
	earliest := tDev
	for _, sn := range streamNexts {
		if sn.Before(earliest) {
			earliest = sn
		}
	}
	return earliest
}
