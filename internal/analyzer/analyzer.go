// Package analyzer tallies log records from a set of files over one
// dimension, parsing the files in parallel on a per-run worker pool.
package analyzer

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/tinytelemetry/logtally/internal/logparse"
	"github.com/tinytelemetry/logtally/internal/model"
	"github.com/tinytelemetry/logtally/internal/scheduler"
)

// DiagnosticSink receives per-file failures that were isolated during a run.
type DiagnosticSink interface {
	FileFailed(path string, err error)
}

// DiagnosticFunc adapts a function to a DiagnosticSink.
type DiagnosticFunc func(path string, err error)

func (f DiagnosticFunc) FileFailed(path string, err error) { f(path, err) }

// Config holds optional analyzer settings.
type Config struct {
	// Workers sizes the pool for each run. Zero uses the CPU count.
	Workers int
	// Diagnostics is told about files that could not be read or parsed.
	Diagnostics DiagnosticSink
	// ParserFor overrides parser selection. Defaults to logparse.ForFile.
	ParserFor func(filename string) logparse.Parser
}

// Analyzer runs one request's filter and tally over file sets.
type Analyzer struct {
	req       model.AnalysisRequest
	workers   int
	sink      DiagnosticSink
	parserFor func(string) logparse.Parser
}

// New creates an analyzer for req.
func New(req model.AnalysisRequest, conf ...Config) *Analyzer {
	a := &Analyzer{req: req, parserFor: logparse.ForFile}
	if len(conf) > 0 {
		c := conf[0]
		a.workers = c.Workers
		a.sink = c.Diagnostics
		if c.ParserFor != nil {
			a.parserFor = c.ParserFor
		}
	}
	return a
}

// Request returns the request the analyzer filters by.
func (a *Analyzer) Request() model.AnalysisRequest { return a.req }

type accumulator struct {
	mu     sync.Mutex
	result model.AnalysisResult
}

func (acc *accumulator) merge(t tally) {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	for k, n := range t.counts {
		acc.result.Counts[k] += n
	}
	acc.result.TotalEntries += t.total
}

// tally is the file-local count for one file.
type tally struct {
	counts map[string]int
	total  int
}

// Analyze parses every file on a fresh worker pool and returns the merged
// counts. A file that cannot be read or parsed contributes nothing; the
// failure is logged and passed to the diagnostics sink.
func (a *Analyzer) Analyze(files []string) model.AnalysisResult {
	acc := &accumulator{result: model.NewAnalysisResult(a.req.Dimension)}
	if len(files) == 0 {
		return acc.result
	}

	pool := scheduler.New(a.workers)
	defer pool.Shutdown()

	futures := make([]*scheduler.Future[int], len(files))
	for i, path := range files {
		futures[i] = scheduler.Go(pool, func() (int, error) {
			t, err := a.analyzeFile(path)
			if err != nil {
				return 0, err
			}
			acc.merge(t)
			return t.total, nil
		})
	}

	for i, f := range futures {
		if _, err := f.Wait(); err != nil {
			a.fileFailed(files[i], err)
		}
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.result
}

func (a *Analyzer) analyzeFile(path string) (tally, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tally{}, fmt.Errorf("analyzer: read %s: %w", filepath.Base(path), err)
	}
	records, err := a.parserFor(path).Parse(data)
	if err != nil {
		return tally{}, fmt.Errorf("analyzer: parse %s: %w", filepath.Base(path), err)
	}

	t := tally{counts: make(map[string]int)}
	for _, rec := range records {
		if !a.req.InRange(rec.Timestamp) {
			continue
		}
		t.counts[a.req.Dimension.Key(rec)]++
		t.total++
	}
	return t, nil
}

func (a *Analyzer) fileFailed(path string, err error) {
	log.Printf("analyzer: skipping %s: %v", path, err)
	if a.sink != nil {
		a.sink.FileFailed(path, err)
	}
}
