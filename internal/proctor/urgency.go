package proctor

import "fmt"

// Urgency classifies the remaining time for display.
type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyWarning  Urgency = "warning"
	UrgencyCritical Urgency = "critical"
)

const (
	criticalSeconds = 60
	warningSeconds  = 300
)

// UrgencyFor derives the urgency from the remaining seconds only.
func UrgencyFor(remaining int) Urgency {
	switch {
	case remaining <= criticalSeconds:
		return UrgencyCritical
	case remaining <= warningSeconds:
		return UrgencyWarning
	default:
		return UrgencyNormal
	}
}

// FormatRemaining renders seconds as MM:SS. Minutes are not wrapped at 60.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
