package proctor

// ViolationKind names the transition that produced a violation.
type ViolationKind string

const (
	ViolationPresentationExit ViolationKind = "presentation_exit"
	ViolationVisibilityHidden ViolationKind = "visibility_hidden"
)

// IntegrityMonitor classifies presentation and visibility transitions.
// It only reports; recovery is up to the caller.
type IntegrityMonitor struct {
	armed   bool
	engaged bool
	visible bool
}

// Arm starts watching from the given baseline. Entering presentation mode is
// the baseline, so it never counts as a violation.
func (m *IntegrityMonitor) Arm(engaged, visible bool) {
	m.armed = true
	m.engaged = engaged
	m.visible = visible
}

// Disarm stops classification. Later observations are ignored.
func (m *IntegrityMonitor) Disarm() {
	m.armed = false
}

// Engaged returns the last observed presentation state.
func (m *IntegrityMonitor) Engaged() bool {
	return m.engaged
}

// ObservePresentation records the presentation state and reports a violation
// on an engaged to disengaged transition. Repeated disengaged events collapse.
func (m *IntegrityMonitor) ObservePresentation(engaged bool) (ViolationKind, bool) {
	if !m.armed {
		return "", false
	}
	was := m.engaged
	m.engaged = engaged
	if was && !engaged {
		return ViolationPresentationExit, true
	}
	return "", false
}

// ObserveVisibility records page visibility and reports a violation on a
// visible to hidden transition. Repeated hidden events collapse.
func (m *IntegrityMonitor) ObserveVisibility(visible bool) (ViolationKind, bool) {
	if !m.armed {
		return "", false
	}
	was := m.visible
	m.visible = visible
	if was && !visible {
		return ViolationVisibilityHidden, true
	}
	return "", false
}
