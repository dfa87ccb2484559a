package types

// Severity sentinels. Scanner-reported severities are CVSS scores in
// [0.0, 10.0]; the negative values below mark non-vulnerability results.
const (
	SeverityLog           = 0.0
	SeverityFalsePositive = -1.0
	SeverityError         = -3.0

	// SeverityMissing marks "no severity available", e.g. a report
	// with no results yet.
	SeverityMissing = -99.0
)

// Severity class names
const (
	SeverityClassCritical      = "Critical"
	SeverityClassHigh          = "High"
	SeverityClassMedium        = "Medium"
	SeverityClassLow           = "Low"
	SeverityClassLog           = "Log"
	SeverityClassFalsePositive = "False Positive"
	SeverityClassError         = "Error"
)

// SeverityClass maps a severity score to its class name. Scores outside
// the defined bands return the empty string; the caller decides whether
// that deserves a warning.
//
// The bands are closed-open except Critical, which includes 10.0:
// [9.0, 10.0] Critical, [7.0, 9.0) High, [4.0, 7.0) Medium, (0.0, 4.0) Low.
func SeverityClass(severity float64) string {
	switch {
	case severity == SeverityLog:
		return SeverityClassLog
	case severity == SeverityFalsePositive:
		return SeverityClassFalsePositive
	case severity == SeverityError:
		return SeverityClassError
	case severity >= 9.0 && severity <= 10.0:
		return SeverityClassCritical
	case severity >= 7.0:
		return SeverityClassHigh
	case severity >= 4.0:
		return SeverityClassMedium
	case severity > 0.0 && severity < 4.0:
		return SeverityClassLow
	default:
		return ""
	}
}

// SeverityValid reports whether a score is one the controller will
// store without complaint.
func SeverityValid(severity float64) bool {
	return SeverityClass(severity) != ""
}

// TypeSeverity returns the sentinel severity for message-type results.
func TypeSeverity(t ResultType) float64 {
	switch t {
	case ResultTypeError:
		return SeverityError
	default:
		return SeverityLog
	}
}
