package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tinytelemetry/logtally/internal/workspace"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755

	// DefaultMaxEntries is how many entries survive compaction on Open.
	DefaultMaxEntries = 10_000
	// DefaultRecentSize is how many entries are kept in memory for Recent.
	DefaultRecentSize = 256
)

// Diagnostic records one file that was left out of an analysis run.
type Diagnostic struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Session string    `json:"session,omitempty"`
	File    string    `json:"file"`
	Error   string    `json:"error"`
}

// Config holds optional journal limits.
type Config struct {
	MaxEntries int
	RecentSize int
}

// Journal is a durable append-only log of analysis diagnostics. It stores
// one JSON entry per line and keeps the newest entries in memory.
type Journal struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	nextSeq uint64
	recent  []Diagnostic
	keep    int
}

// Open creates or opens a journal at path. On startup it drops all but the
// newest entries and ignores a partially written trailing line.
func Open(path string, conf ...Config) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal: path is empty")
	}
	maxEntries, keep := DefaultMaxEntries, DefaultRecentSize
	if len(conf) > 0 {
		if conf[0].MaxEntries > 0 {
			maxEntries = conf[0].MaxEntries
		}
		if conf[0].RecentSize > 0 {
			keep = conf[0].RecentSize
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}

	kept, maxSeq, err := compact(path, maxEntries)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	if len(kept) > keep {
		kept = kept[len(kept)-keep:]
	}
	return &Journal{
		path:    path,
		file:    f,
		nextSeq: maxSeq + 1,
		recent:  kept,
		keep:    keep,
	}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Append persists d and returns its sequence number. A zero Time is set to
// the current time.
func (j *Journal) Append(d Diagnostic) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return 0, errors.New("journal: closed")
	}
	d.Seq = j.nextSeq
	if d.Time.IsZero() {
		d.Time = time.Now().UTC()
	}

	line, err := json.Marshal(d)
	if err != nil {
		return 0, fmt.Errorf("journal: marshal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return 0, fmt.Errorf("journal: write entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return 0, fmt.Errorf("journal: sync entry: %w", err)
	}
	j.nextSeq++

	j.recent = append(j.recent, d)
	if over := len(j.recent) - j.keep; over > 0 {
		j.recent = append(j.recent[:0:0], j.recent[over:]...)
	}
	return d.Seq, nil
}

// FileFailed records a file an analyzer could not read or parse.
func (j *Journal) FileFailed(path string, err error) {
	d := Diagnostic{
		Session: workspace.SessionOf(path),
		File:    filepath.Base(path),
	}
	if err != nil {
		d.Error = err.Error()
	}
	if _, aerr := j.Append(d); aerr != nil {
		log.Printf("journal: record failure of %s: %v", d.File, aerr)
	}
}

// Recent returns up to n of the newest entries, oldest first. A
// non-positive n returns every entry held in memory.
func (j *Journal) Recent(n int) []Diagnostic {
	j.mu.Lock()
	defer j.mu.Unlock()
	start := 0
	if n > 0 && n < len(j.recent) {
		start = len(j.recent) - n
	}
	return append([]Diagnostic(nil), j.recent[start:]...)
}

// Replay calls fn for each entry on disk in sequence order.
func (j *Journal) Replay(fn func(d Diagnostic) error) error {
	if fn == nil {
		return errors.New("journal: replay callback is nil")
	}
	f, err := os.Open(j.path)
	if err != nil {
		return fmt.Errorf("journal: open for replay: %w", err)
	}
	defer f.Close()

	return scan(f, fn)
}

// Close closes the underlying journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// scan decodes complete lines until EOF, a partial trailing line or the
// first malformed line.
func scan(r io.Reader, fn func(d Diagnostic) error) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("journal: read: %w", err)
		}
		if len(line) == 0 {
			return nil
		}
		if line[len(line)-1] != '\n' {
			// Ignore a potentially partial trailing line.
			return nil
		}

		var d Diagnostic
		if uerr := json.Unmarshal(line, &d); uerr != nil {
			return nil
		}
		if ferr := fn(d); ferr != nil {
			return ferr
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

// compact rewrites path keeping the newest maxEntries readable entries and
// returns them with the highest sequence number seen.
func compact(path string, maxEntries int) ([]Diagnostic, uint64, error) {
	src, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, defaultFileMode)
	if err != nil {
		return nil, 0, fmt.Errorf("journal: open source for compact: %w", err)
	}
	defer src.Close()

	var (
		entries []Diagnostic
		maxSeq  uint64
	)
	err = scan(src, func(d Diagnostic) error {
		if d.Seq > maxSeq {
			maxSeq = d.Seq
		}
		entries = append(entries, d)
		if len(entries) > 2*maxEntries {
			entries = append(entries[:0:0], entries[len(entries)-maxEntries:]...)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}

	tmpPath := path + ".compact"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return nil, 0, fmt.Errorf("journal: open compact tmp: %w", err)
	}
	w := bufio.NewWriter(dst)
	enc := json.NewEncoder(w)
	for _, d := range entries {
		if werr := enc.Encode(d); werr != nil {
			_ = dst.Close()
			_ = os.Remove(tmpPath)
			return nil, 0, fmt.Errorf("journal: compact write: %w", werr)
		}
	}
	if err := w.Flush(); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmpPath)
		return nil, 0, fmt.Errorf("journal: compact flush: %w", err)
	}
	if err := dst.Sync(); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmpPath)
		return nil, 0, fmt.Errorf("journal: compact sync: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, 0, fmt.Errorf("journal: compact close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, 0, fmt.Errorf("journal: compact rename: %w", err)
	}
	return entries, maxSeq, nil
}
