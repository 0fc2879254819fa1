package logparse

import (
	"fmt"
	"math"
	"strconv"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/tinytelemetry/logtally/internal/model"
)

// OTLPTimestampLayout is fixed-width so formatted timestamps sort lexically.
const OTLPTimestampLayout = "2006-01-02T15:04:05.000000000Z"

var (
	otlpUserKeys    = []string{"user", "enduser.id", "user.name"}
	otlpAddressKeys = []string{"ip", "client.address", "source.address", "net.peer.ip"}
)

var otlpUnmarshal = protojson.UnmarshalOptions{DiscardUnknown: true}

// parseOTLP reads an OTLP/JSON LogsData document. Record attributes take
// precedence over resource attributes.
func parseOTLP(data []byte) ([]model.LogRecord, error) {
	var logs logspb.LogsData
	if err := otlpUnmarshal.Unmarshal(data, &logs); err != nil {
		return nil, fmt.Errorf("logparse: otlp: %w", err)
	}

	var records []model.LogRecord
	for _, rl := range logs.GetResourceLogs() {
		resource := otlpAttributes(rl.GetResource().GetAttributes())
		for _, sl := range rl.GetScopeLogs() {
			for _, lr := range sl.GetLogRecords() {
				attrs := otlpAttributes(lr.GetAttributes())

				level := lr.GetSeverityText()
				if level == "" {
					level = SeverityFromOTELNumber(int(lr.GetSeverityNumber()))
				}

				records = append(records, model.LogRecord{
					Timestamp: otlpTimestamp(lr),
					User:      lookupAttr(attrs, resource, otlpUserKeys),
					Address:   lookupAttr(attrs, resource, otlpAddressKeys),
					Level:     level,
					Message:   anyValueString(lr.GetBody()),
				})
			}
		}
	}
	return records, nil
}

func otlpTimestamp(lr *logspb.LogRecord) string {
	ns := lr.GetTimeUnixNano()
	if ns == 0 {
		ns = lr.GetObservedTimeUnixNano()
	}
	if ns == 0 || ns > math.MaxInt64 {
		return ""
	}
	return time.Unix(0, int64(ns)).UTC().Format(OTLPTimestampLayout)
}

func otlpAttributes(kvs []*commonpb.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if s := anyValueString(kv.GetValue()); s != "" {
			out[kv.GetKey()] = s
		}
	}
	return out
}

// lookupAttr resolves keys against the record attributes and falls back to
// the resource attributes only when no record key is set.
func lookupAttr(record, resource map[string]string, keys []string) string {
	if v := firstAttr(record, keys); v != "" {
		return v
	}
	return firstAttr(resource, keys)
}

func firstAttr(attrs map[string]string, keys []string) string {
	for _, k := range keys {
		if v := attrs[k]; v != "" {
			return v
		}
	}
	return ""
}

func anyValueString(v *commonpb.AnyValue) string {
	if v == nil {
		return ""
	}
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'f', -1, 64)
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	default:
		return ""
	}
}
