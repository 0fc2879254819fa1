package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tinytelemetry/logtally/internal/journal"
	"github.com/tinytelemetry/logtally/internal/model"
)

func TestNewAnalyzeFunc_JournalsFailedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(good, []byte("2023-01-01 alice 10.0.0.1 INFO ok\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	j, err := journal.Open(filepath.Join(dir, "diag", "diagnostics.jsonl"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	defer j.Close()

	analyze := newAnalyzeFunc(2, j)
	res, err := analyze(model.AnalysisRequest{Dimension: model.DimensionUser}, []string{good, bad})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.TotalEntries != 1 || res.Counts["alice"] != 1 {
		t.Fatalf("result = %+v, want alice=1", res)
	}

	recent := j.Recent(10)
	if len(recent) != 1 || recent[0].File != "bad.json" {
		t.Fatalf("diagnostics = %+v, want one entry for bad.json", recent)
	}
}

func TestNewAnalyzeFunc_WithoutJournal(t *testing.T) {
	t.Parallel()

	analyze := newAnalyzeFunc(0, nil)
	res, err := analyze(model.AnalysisRequest{Dimension: model.DimensionLevel}, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.TotalEntries != 0 || res.Counts == nil {
		t.Fatalf("result = %+v, want empty", res)
	}
}
