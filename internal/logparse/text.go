package logparse

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/tinytelemetry/logtally/internal/model"
)

// TextParser reads one entry per line in the column order
// timestamp, user, address, level, message. Columns are separated by '|',
// by tabs, or by runs of whitespace in which case the message is the rest
// of the line. Blank lines, '#' comments and lines with fewer than four
// columns are skipped.
type TextParser struct{}

func (TextParser) Name() string { return "text" }

const initialTextBufSize = 64 * 1024

func (TextParser) Parse(data []byte) ([]model.LogRecord, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	// A line can be as long as the whole file.
	scanner.Buffer(make([]byte, 0, min(initialTextBufSize, len(data)+1)), len(data)+1)

	var records []model.LogRecord
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if rec, ok := parseTextLine(line); ok {
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("logparse: text: %w", err)
	}
	return records, nil
}

func parseTextLine(line string) (model.LogRecord, bool) {
	var fields []string
	switch {
	case strings.Contains(line, "|"):
		fields = strings.SplitN(line, "|", 5)
	case strings.Contains(line, "\t"):
		fields = strings.SplitN(line, "\t", 5)
	default:
		fields = splitWhitespace(line, 5)
	}
	if len(fields) < 4 {
		return model.LogRecord{}, false
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	for _, f := range fields[:4] {
		if f == "" {
			return model.LogRecord{}, false
		}
	}

	rec := model.LogRecord{
		Timestamp: fields[0],
		User:      fields[1],
		Address:   fields[2],
		Level:     fields[3],
	}
	if len(fields) == 5 {
		rec.Message = fields[4]
	}
	return rec, true
}

// splitWhitespace splits s on runs of whitespace into at most n fields; the
// last field keeps the remainder of the line.
func splitWhitespace(s string, n int) []string {
	var out []string
	for len(out) < n-1 {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			return out
		}
		i := strings.IndexAny(s, " \t")
		if i < 0 {
			return append(out, s)
		}
		out = append(out, s[:i])
		s = s[i:]
	}
	if s = strings.TrimSpace(s); s != "" {
		out = append(out, s)
	}
	return out
}
