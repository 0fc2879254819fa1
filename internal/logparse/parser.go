package logparse

import (
	"path/filepath"
	"strings"

	"github.com/tinytelemetry/logtally/internal/model"
)

// Parser turns the raw bytes of one log file into ordered records.
type Parser interface {
	Name() string
	Parse(data []byte) ([]model.LogRecord, error)
}

// Format identifies a supported log file format.
type Format int

const (
	FormatText Format = iota
	FormatJSON
	FormatXML
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatXML:
		return "xml"
	default:
		return "text"
	}
}

// DetectFormat picks a format from the file extension. Unknown extensions
// are read as plain text.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return FormatJSON
	case ".xml":
		return FormatXML
	default:
		return FormatText
	}
}

// ForFile returns the parser for filename's format.
func ForFile(filename string) Parser {
	switch DetectFormat(filename) {
	case FormatJSON:
		return JSONParser{}
	case FormatXML:
		return XMLParser{}
	default:
		return TextParser{}
	}
}

// Parse reads data with the parser selected by filename.
func Parse(data []byte, filename string) ([]model.LogRecord, error) {
	return ForFile(filename).Parse(data)
}

// SupportedExtensions lists the extensions clients upload by default.
var SupportedExtensions = []string{".json", ".xml", ".txt"}
