package tracker

import (
	"errors"
	"sync"
)

// ErrTogglePending indicates a toggle already has a write in flight.
var ErrTogglePending = errors.New("tracker: toggle already pending")

// ToggleState is the lifecycle of one completion checkbox.
type ToggleState int

const (
	// ToggleConfirmed shows a value the data service acknowledged.
	ToggleConfirmed ToggleState = iota
	// TogglePending shows an optimistic value awaiting the write.
	TogglePending
	// ToggleReverted shows the value restored after a failed write.
	ToggleReverted
)

func (s ToggleState) String() string {
	switch s {
	case ToggleConfirmed:
		return "confirmed"
	case TogglePending:
		return "pending"
	case ToggleReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// Toggle is the optimistic state of one completion checkbox.
type Toggle struct {
	routeID  string
	readOnly bool

	mu       sync.Mutex
	state    ToggleState
	value    bool
	previous bool
}

// NewToggle starts a confirmed toggle showing value.
func NewToggle(routeID string, value bool, readOnly bool) *Toggle {
	return &Toggle{routeID: routeID, readOnly: readOnly, value: value}
}

// Toggle builds a checkbox for a route on this view; historical views yield read-only toggles.
func (v WallView) Toggle(routeID string, value bool) *Toggle {
	return NewToggle(routeID, value, v.Historical)
}

// RouteID returns the route the toggle controls.
func (t *Toggle) RouteID() string {
	return t.routeID
}

// ReadOnly reports whether the toggle belongs to a historical view.
func (t *Toggle) ReadOnly() bool {
	return t.readOnly
}

// State returns the current lifecycle state and displayed value.
func (t *Toggle) State() (ToggleState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.value
}

// Begin shows desired optimistically.
func (t *Toggle) Begin(desired bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readOnly {
		return ErrHistoricalView
	}
	if t.state == TogglePending {
		return ErrTogglePending
	}
	t.previous = t.value
	t.value = desired
	t.state = TogglePending
	return nil
}

// Confirm settles a pending toggle on the acknowledged value.
func (t *Toggle) Confirm(value bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TogglePending {
		return
	}
	t.value = value
	t.state = ToggleConfirmed
}

// Revert restores the value shown before Begin.
func (t *Toggle) Revert() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TogglePending {
		return
	}
	t.value = t.previous
	t.state = ToggleReverted
}

// Sync shows a pushed value. Pending toggles ignore it; the write result settles them.
func (t *Toggle) Sync(value bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TogglePending {
		return
	}
	t.value = value
	t.state = ToggleConfirmed
}
