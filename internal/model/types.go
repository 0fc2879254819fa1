package model

import (
	"fmt"
	"strings"
)

// Dimension is the record attribute an analysis run groups counts by.
type Dimension int

const (
	DimensionUser Dimension = iota
	DimensionAddress
	DimensionLevel
)

// Wire names used in request and result payloads.
const (
	dimensionUserName    = "USER"
	dimensionAddressName = "IP"
	dimensionLevelName   = "LOG_LEVEL"
)

// String returns the wire name of the dimension.
func (d Dimension) String() string {
	switch d {
	case DimensionUser:
		return dimensionUserName
	case DimensionAddress:
		return dimensionAddressName
	case DimensionLevel:
		return dimensionLevelName
	default:
		return "UNKNOWN"
	}
}

// ParseDimension accepts wire names case-insensitively, plus the
// "address" and "level" aliases used on the command line.
func ParseDimension(s string) (Dimension, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case dimensionUserName:
		return DimensionUser, nil
	case dimensionAddressName, "ADDRESS":
		return DimensionAddress, nil
	case dimensionLevelName, "LEVEL":
		return DimensionLevel, nil
	default:
		return 0, fmt.Errorf("unknown dimension %q", s)
	}
}

// Key returns the value of rec that d counts by.
func (d Dimension) Key(rec LogRecord) string {
	switch d {
	case DimensionAddress:
		return rec.Address
	case DimensionLevel:
		return rec.Level
	default:
		return rec.User
	}
}

// LogRecord is one structured entry produced by a format parser.
type LogRecord struct {
	Timestamp string
	User      string
	Address   string
	Level     string
	Message   string
}

// AnalysisRequest is the directive a client sends before uploading files.
// An empty StartDate or EndDate leaves that side of the range open.
type AnalysisRequest struct {
	Dimension Dimension
	StartDate string
	EndDate   string
}

// InRange reports whether timestamp falls inside the request's date range.
// Bounds are inclusive and compared as plain strings.
func (r AnalysisRequest) InRange(timestamp string) bool {
	if r.StartDate != "" && timestamp < r.StartDate {
		return false
	}
	if r.EndDate != "" && timestamp > r.EndDate {
		return false
	}
	return true
}

// AnalysisResult holds per-key counts for one analysis run.
// TotalEntries always equals the sum of Counts.
type AnalysisResult struct {
	Dimension    Dimension
	Counts       map[string]int
	TotalEntries int
}

// NewAnalysisResult returns an empty result for d.
func NewAnalysisResult(d Dimension) AnalysisResult {
	return AnalysisResult{Dimension: d, Counts: map[string]int{}}
}

// KeyCount is one row of a result, used when results are ordered for display.
type KeyCount struct {
	Key   string `json:"key" yaml:"key"`
	Count int    `json:"count" yaml:"count"`
}
