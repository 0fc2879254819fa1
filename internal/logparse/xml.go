package logparse

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tinytelemetry/logtally/internal/model"
)

// XMLParser reads every <entry> element in the document, wherever it is
// nested.
type XMLParser struct{}

func (XMLParser) Name() string { return "xml" }

type xmlEntry struct {
	Timestamp string `xml:"timestamp"`
	User      string `xml:"user"`
	IP        string `xml:"ip"`
	Address   string `xml:"address"`
	Level     string `xml:"level"`
	Message   string `xml:"message"`
}

func (e xmlEntry) record() model.LogRecord {
	addr := strings.TrimSpace(e.IP)
	if addr == "" {
		addr = strings.TrimSpace(e.Address)
	}
	return model.LogRecord{
		Timestamp: strings.TrimSpace(e.Timestamp),
		User:      strings.TrimSpace(e.User),
		Address:   addr,
		Level:     strings.TrimSpace(e.Level),
		Message:   strings.TrimSpace(e.Message),
	}
}

func (XMLParser) Parse(data []byte) ([]model.LogRecord, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var records []model.LogRecord
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("logparse: xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "entry" {
			continue
		}
		var entry xmlEntry
		if err := dec.DecodeElement(&entry, &start); err != nil {
			return nil, fmt.Errorf("logparse: xml: %w", err)
		}
		records = append(records, entry.record())
	}
}
