package logparse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/tinytelemetry/logtally/internal/model"
)

// JSONParser reads a top-level array of entry objects, a single object, or a
// stream of objects (NDJSON or pretty-printed). An object carrying
// "resourceLogs" is read as OTLP/JSON log data.
type JSONParser struct{}

func (JSONParser) Name() string { return "json" }

func (JSONParser) Parse(data []byte) ([]model.LogRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var records []model.LogRecord
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return nil, fmt.Errorf("logparse: json: %w", err)
		}
		recs, err := parseJSONValue(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
}

// Wrapper keys that hold an array of entries.
var jsonEnvelopeKeys = []string{"logs", "entries"}

func parseJSONValue(raw json.RawMessage) ([]model.LogRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("logparse: json: %w", err)
		}
		var records []model.LogRecord
		for _, item := range items {
			recs, err := parseJSONValue(item)
			if err != nil {
				return nil, err
			}
			records = append(records, recs...)
		}
		return records, nil

	case '{':
		var obj map[string]interface{}
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("logparse: json: %w", err)
		}
		if _, ok := obj["resourceLogs"]; ok {
			return parseOTLP(trimmed)
		}
		for _, key := range jsonEnvelopeKeys {
			if _, ok := obj[key].([]interface{}); ok {
				var env map[string]json.RawMessage
				if err := json.Unmarshal(trimmed, &env); err != nil {
					return nil, fmt.Errorf("logparse: json: %w", err)
				}
				return parseJSONValue(env[key])
			}
		}
		return []model.LogRecord{recordFromJSON(obj)}, nil

	default:
		return nil, fmt.Errorf("logparse: json: unexpected top-level value %.32q", trimmed)
	}
}

func recordFromJSON(obj map[string]interface{}) model.LogRecord {
	return model.LogRecord{
		Timestamp: ExtractStringField(obj, "timestamp", "time"),
		User:      ExtractStringField(obj, "user", "username"),
		Address:   ExtractStringField(obj, "ip", "address"),
		Level:     ExtractStringField(obj, "level", "severity"),
		Message:   ExtractStringField(obj, "message", "msg"),
	}
}

// ExtractStringField returns the first non-empty value among keys,
// stringifying numbers and booleans.
func ExtractStringField(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			if s := stringifyJSONValue(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringifyJSONValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
