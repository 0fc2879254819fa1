// Package report renders analysis results for people: a terminal table and
// saved report files.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/logtally/internal/model"
)

const (
	keyWidth = 30
	barWidth = 20
)

// Rows orders a result's counts by descending count, then by key.
func Rows(res model.AnalysisResult) []model.KeyCount {
	rows := make([]model.KeyCount, 0, len(res.Counts))
	for k, v := range res.Counts {
		rows = append(rows, model.KeyCount{Key: k, Count: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})
	return rows
}

// Bar returns a bar of up to barWidth '#' characters scaled against max.
func Bar(count, max int) string {
	if max <= 0 || count <= 0 {
		return ""
	}
	return strings.Repeat("#", count*barWidth/max)
}

// Render writes the result table to w.
func Render(w io.Writer, res model.AnalysisResult) error {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	bold := lipgloss.NewStyle().Bold(true)

	rows := Rows(res)
	maxCount := 0
	if len(rows) > 0 {
		maxCount = rows[0].Count
	}

	var lines []string
	lines = append(lines, "")
	lines = append(lines, bold.Render("===== Analysis Results ====="))
	lines = append(lines, fmt.Sprintf("Analysis type: %s", cyan.Render(res.Dimension.String())))
	lines = append(lines, fmt.Sprintf("Total log entries: %s", cyan.Render(fmt.Sprint(res.TotalEntries))))
	lines = append(lines, "")
	lines = append(lines, "Counts:")
	lines = append(lines, bold.Render(fmt.Sprintf("%-*s%s", keyWidth, "Key", "Count")))
	lines = append(lines, dim.Render(strings.Repeat("-", keyWidth+10)))
	if len(rows) == 0 {
		lines = append(lines, dim.Render("(no entries)"))
	}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%-*s%-6d  %s", keyWidth, r.Key, r.Count, green.Render(Bar(r.Count, maxCount))))
	}
	lines = append(lines, bold.Render("============================"))

	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

// Document is the structured form of a saved report.
type Document struct {
	Dimension    string           `json:"dimension" yaml:"dimension"`
	TotalEntries int              `json:"total_entries" yaml:"total_entries"`
	GeneratedAt  time.Time        `json:"generated_at" yaml:"generated_at"`
	Counts       []model.KeyCount `json:"counts" yaml:"counts"`
}

// NewDocument builds the saved form of res.
func NewDocument(res model.AnalysisResult, now time.Time) Document {
	return Document{
		Dimension:    res.Dimension.String(),
		TotalEntries: res.TotalEntries,
		GeneratedAt:  now.UTC(),
		Counts:       Rows(res),
	}
}

// Save writes res to path. The format follows the extension: ".json",
// ".yaml" or ".yml", anything else is a plain-text report.
func Save(path string, res model.AnalysisResult, now time.Time) error {
	doc := NewDocument(res, now)

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(doc, "", "  ")
		data = append(data, '\n')
	case ".yaml", ".yml":
		data, err = yaml.Marshal(doc)
	default:
		data = textReport(doc)
	}
	if err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

func textReport(doc Document) []byte {
	var b bytes.Buffer
	b.WriteString("Log Analysis Report\n")
	b.WriteString("===================\n")
	fmt.Fprintf(&b, "Generated: %s\n", doc.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Analysis Type: %s\n", doc.Dimension)
	fmt.Fprintf(&b, "Total Log Entries: %d\n\n", doc.TotalEntries)
	b.WriteString("Counts:\n")
	fmt.Fprintf(&b, "%-*s%s\n", keyWidth, "Key", "Count")
	b.WriteString(strings.Repeat("-", keyWidth+10) + "\n")
	for _, r := range doc.Counts {
		fmt.Fprintf(&b, "%-*s%d\n", keyWidth, r.Key, r.Count)
	}
	b.WriteString("\nEnd of Report\n")
	return b.Bytes()
}
