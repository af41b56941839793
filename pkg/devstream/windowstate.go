package devstream

import (
	"fmt"
	"sync"
)

// WindowAccounting implements buff_state (spec.md section 4.5): for one
// device's current write window, tracks how many frames each attached
// stream has contributed so far. The device's write pointer only
// advances once every attached stream has contributed, and it advances
// by exactly the minimum contribution across streams (a fast stream
// cannot race ahead of a slow one within a single window).
type WindowAccounting struct {
	mu           sync.Mutex
	windowFrames int
	contributed  map[uint64]int
}

func NewWindowAccounting(windowFrames int) *WindowAccounting {
	return &WindowAccounting{
		windowFrames: windowFrames,
		contributed:  make(map[uint64]int),
	}
}

// Add registers a stream id as a participant in this window, starting
// with zero contribution.
func (w *WindowAccounting) Add(streamID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.contributed[streamID]; !ok {
		w.contributed[streamID] = 0
	}
}

// Remove drops a stream from accounting (stream disconnected or
// detached from the device). It does not retroactively change a
// pending Commit's result.
func (w *WindowAccounting) Remove(streamID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.contributed, streamID)
}

// Contribute records that streamID wrote frames toward the current
// window. Returns an error if that would put the stream's running
// total over the window size — the invariant spec.md section 4.5 names
// ("each entry <= window size").
func (w *WindowAccounting) Contribute(streamID uint64, frames int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := w.contributed[streamID] + frames
	if total > w.windowFrames {
		return fmt.Errorf("devstream: stream %#x contributed %d frames, exceeds window %d", streamID, total, w.windowFrames)
	}
	w.contributed[streamID] = total
	return nil
}

// Commit advances the window: it computes the minimum contribution
// across all participating streams (or the full window size if no
// streams are attached — an empty device still advances), subtracts
// that minimum from every entry, and returns it as the number of
// frames the device's write pointer should advance by.
func (w *WindowAccounting) Commit() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.contributed) == 0 {
		return w.windowFrames
	}

	advance := w.windowFrames
	for _, n := range w.contributed {
		if n < advance {
			advance = n
		}
	}
	for id, n := range w.contributed {
		w.contributed[id] = n - advance
	}
	return advance
}

// Reset clears every stream's contribution back to zero without
// changing which streams are participating, for a device-level reset
// (spec.md section 4.6 xrun handling) where the hardware buffer itself
// was just closed and reopened and any partial window contribution no
// longer corresponds to real buffered audio.
func (w *WindowAccounting) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id := range w.contributed {
		w.contributed[id] = 0
	}
}

// Pending returns streamID's contribution so far in the current window.
func (w *WindowAccounting) Pending(streamID uint64) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.contributed[streamID]
}
