package behavior

// Severity is a content safety level. The zero value is treated as SAFE.
type Severity string

const (
	SeveritySafe     Severity = "SAFE"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
	SeverityExtreme  Severity = "EXTREME_DANGER"
)

// Rank orders severities; unknown values rank as SAFE.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	case SeverityExtreme:
		return 3
	default:
		return 0
	}
}

// Max returns the more severe of s and o.
func (s Severity) Max(o Severity) Severity {
	if o.Rank() > s.Rank() {
		return o
	}
	if s == "" {
		return SeveritySafe
	}
	return s
}
