package proctor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestViolationPolicy_WarnsThenForces(t *testing.T) {
	var p ViolationPolicy

	v := p.OnViolation()
	assert.Equal(t, Verdict{Kind: VerdictWarn, Ordinal: 1, Max: ViolationThreshold}, v)

	v = p.OnViolation()
	assert.Equal(t, Verdict{Kind: VerdictWarn, Ordinal: 2, Max: ViolationThreshold}, v)

	v = p.OnViolation()
	assert.Equal(t, VerdictForceSubmit, v.Kind)
	assert.Equal(t, 3, p.Count())
}

func TestViolationPolicy_StartsAtZero(t *testing.T) {
	var p ViolationPolicy
	assert.Zero(t, p.Count())
}
