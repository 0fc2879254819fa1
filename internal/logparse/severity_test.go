package logparse

import "testing"

func TestSeverityFromOTELNumber(t *testing.T) {
	tests := []struct {
		input    int
		expected string
	}{
		{0, ""}, {-3, ""},
		{1, "TRACE"}, {4, "TRACE"},
		{5, "DEBUG"}, {8, "DEBUG"},
		{9, "INFO"}, {12, "INFO"},
		{13, "WARN"}, {16, "WARN"},
		{17, "ERROR"}, {20, "ERROR"},
		{21, "FATAL"}, {24, "FATAL"}, {99, "FATAL"},
	}

	for _, tt := range tests {
		got := SeverityFromOTELNumber(tt.input)
		if got != tt.expected {
			t.Errorf("SeverityFromOTELNumber(%d) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
