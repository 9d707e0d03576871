package attempt

// FocusDetector counts visible -> hidden transitions while an attempt is
// active. It only records; it never pauses or ends the attempt.
type FocusDetector struct {
	enabled     bool
	visible     bool
	count       int
	warningOpen bool
}

// NewFocusDetector starts visible with a count carried over from a resumed attempt.
func NewFocusDetector(enabled bool, count int) *FocusDetector {
	if count < 0 {
		count = 0
	}
	return &FocusDetector{enabled: enabled, visible: true, count: count}
}

// OnVisibilityChange reports whether the change counted as a focus loss.
// A loss while the warning is already open still counts but does not open
// a second warning.
func (d *FocusDetector) OnVisibilityChange(visible, active bool) bool {
	if visible {
		d.visible = true
		return false
	}
	if !d.visible {
		return false
	}
	d.visible = false
	if !d.enabled || !active {
		return false
	}
	d.count++
	d.warningOpen = true
	return true
}

// Acknowledge closes the warning. It has no other effect.
func (d *FocusDetector) Acknowledge() bool {
	if !d.warningOpen {
		return false
	}
	d.warningOpen = false
	return true
}

func (d *FocusDetector) Count() int        { return d.count }
func (d *FocusDetector) WarningOpen() bool { return d.warningOpen }
