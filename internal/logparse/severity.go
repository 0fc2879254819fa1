package logparse

// SeverityFromOTELNumber maps an OpenTelemetry severity number to its short
// level name. Zero (unspecified) maps to the empty string.
func SeverityFromOTELNumber(n int) string {
	switch {
	case n <= 0:
		return ""
	case n <= 4:
		return "TRACE"
	case n <= 8:
		return "DEBUG"
	case n <= 12:
		return "INFO"
	case n <= 16:
		return "WARN"
	case n <= 20:
		return "ERROR"
	default:
		return "FATAL"
	}
}
