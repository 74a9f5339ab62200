package proctor

// ViolationThreshold is the number of violations tolerated with a warning.
// The next one forces submission.
const ViolationThreshold = 2

// VerdictKind is the outcome of a counted violation.
type VerdictKind string

const (
	VerdictWarn        VerdictKind = "warn"
	VerdictForceSubmit VerdictKind = "force_submit"
)

// Verdict is returned by ViolationPolicy.OnViolation.
// Ordinal and Max are only meaningful for VerdictWarn.
type Verdict struct {
	Kind    VerdictKind
	Ordinal int
	Max     int
}

// ViolationPolicy converts a stream of violations into warnings and, past the
// threshold, a forced submission. It holds no state beyond the running count.
type ViolationPolicy struct {
	count int
}

// OnViolation counts one violation and returns the resulting verdict.
func (p *ViolationPolicy) OnViolation() Verdict {
	p.count++
	if p.count <= ViolationThreshold {
		return Verdict{Kind: VerdictWarn, Ordinal: p.count, Max: ViolationThreshold}
	}
	return Verdict{Kind: VerdictForceSubmit}
}

// Count returns the number of violations counted so far.
func (p *ViolationPolicy) Count() int {
	return p.count
}
