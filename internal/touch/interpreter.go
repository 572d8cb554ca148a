package touch

import "time"

// Gesture is a resolved touch gesture
type Gesture int

const (
	// GestureNone means nothing resolved yet (a single tap may still be pending)
	GestureNone Gesture = iota
	// GestureSingleTap resolves when no second tap arrives within the window
	GestureSingleTap
	// GestureDoubleTap resolves on a second tap within the window
	GestureDoubleTap
)

// Interpreter is the tap debouncing state machine: a second tap within the
// double-tap window resolves to a double tap; the window expiring with one
// tap recorded resolves to a single tap. The caller owns the timer that
// drives Expire; the interpreter itself is pure state.
type Interpreter struct {
	window  time.Duration
	lastTap time.Time
	pending bool
}

// NewInterpreter creates a tap interpreter with the given double-tap window
func NewInterpreter(window time.Duration) *Interpreter {
	return &Interpreter{window: window}
}

// Tap consumes one tap release. It returns GestureDoubleTap when this tap
// completes a double tap, otherwise GestureNone with a single tap now
// pending; the caller must (re)arm its timeout for Window().
func (i *Interpreter) Tap(ts time.Time) Gesture {
	if i.pending && ts.Sub(i.lastTap) <= i.window {
		i.pending = false
		return GestureDoubleTap
	}
	i.pending = true
	i.lastTap = ts
	return GestureNone
}

// Expire resolves a pending single tap when the double-tap window elapses
func (i *Interpreter) Expire() Gesture {
	if !i.pending {
		return GestureNone
	}
	i.pending = false
	return GestureSingleTap
}

// Pending reports whether a single tap is awaiting resolution
func (i *Interpreter) Pending() bool {
	return i.pending
}

// Window returns the double-tap window
func (i *Interpreter) Window() time.Duration {
	return i.window
}
