package logsource

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultStdinMaxLineSize is the default maximum size (in bytes) of one path line.
const DefaultStdinMaxLineSize = 64 * 1024

// StdinSource reads the upload list from a reader, one path per line.
// Blank lines and lines starting with '#' are skipped.
type StdinSource struct {
	r io.Reader
}

// NewStdinSource reads paths from os.Stdin.
func NewStdinSource() *StdinSource {
	return newStdinSourceWithReader(os.Stdin)
}

func newStdinSourceWithReader(r io.Reader) *StdinSource {
	return &StdinSource{r: r}
}

func (s *StdinSource) Name() string { return "stdin" }

// Files reads the list to EOF. Every listed path must be a regular file.
func (s *StdinSource) Files() ([]string, error) {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 4096), DefaultStdinMaxLineSize)

	var files []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		info, err := os.Stat(line)
		if err != nil {
			return nil, fmt.Errorf("logsource: %w", err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("logsource: %s is not a regular file", line)
		}
		files = append(files, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("logsource: read stdin: %w", err)
	}
	return files, nil
}
