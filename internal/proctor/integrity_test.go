package proctor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntegrityMonitor_IgnoresWhileDisarmed(t *testing.T) {
	var m IntegrityMonitor

	_, ok := m.ObservePresentation(false)
	assert.False(t, ok)
	_, ok = m.ObserveVisibility(false)
	assert.False(t, ok)
}

func TestIntegrityMonitor_PresentationTransitions(t *testing.T) {
	var m IntegrityMonitor
	m.Arm(true, true)

	kind, ok := m.ObservePresentation(false)
	assert.True(t, ok)
	assert.Equal(t, ViolationPresentationExit, kind)
	assert.False(t, m.Engaged())

	// A second exit without re-entry is the same departure.
	_, ok = m.ObservePresentation(false)
	assert.False(t, ok)

	// Re-entry is never a violation.
	_, ok = m.ObservePresentation(true)
	assert.False(t, ok)
	assert.True(t, m.Engaged())

	_, ok = m.ObservePresentation(false)
	assert.True(t, ok)
}

func TestIntegrityMonitor_VisibilityTransitions(t *testing.T) {
	var m IntegrityMonitor
	m.Arm(true, true)

	kind, ok := m.ObserveVisibility(false)
	assert.True(t, ok)
	assert.Equal(t, ViolationVisibilityHidden, kind)

	_, ok = m.ObserveVisibility(false)
	assert.False(t, ok)

	_, ok = m.ObserveVisibility(true)
	assert.False(t, ok)
}

func TestIntegrityMonitor_Disarm(t *testing.T) {
	var m IntegrityMonitor
	m.Arm(true, true)
	m.Disarm()

	assert.False(t, m.armed)
	_, ok := m.ObservePresentation(false)
	assert.False(t, ok)
}
