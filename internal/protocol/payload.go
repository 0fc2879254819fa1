package protocol

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tinytelemetry/logtally/internal/model"
)

const (
	fieldSep = "|"
	noDate   = "NONE"
)

// ErrMalformedPayload indicates a request or result payload that cannot be decoded.
var ErrMalformedPayload = errors.New("protocol: malformed payload")

// EncodeRequest serializes req as "<DIMENSION>|<start|NONE>|<end|NONE>".
func EncodeRequest(req model.AnalysisRequest) []byte {
	return []byte(strings.Join([]string{
		req.Dimension.String(),
		dateOrNone(req.StartDate),
		dateOrNone(req.EndDate),
	}, fieldSep))
}

// DecodeRequest parses a request payload. Missing date fields are treated
// as open bounds.
func DecodeRequest(data []byte) (model.AnalysisRequest, error) {
	var req model.AnalysisRequest
	fields := strings.Split(string(data), fieldSep)

	dim, err := model.ParseDimension(fields[0])
	if err != nil {
		return req, fmt.Errorf("%w: request: %v", ErrMalformedPayload, err)
	}
	req.Dimension = dim
	if len(fields) > 1 {
		req.StartDate = noneToEmpty(fields[1])
	}
	if len(fields) > 2 {
		req.EndDate = noneToEmpty(fields[2])
	}
	return req, nil
}

// EncodeResult serializes res as "<DIMENSION>|<total>|<n>" followed by n
// "|<key>|<count>" pairs in key order.
func EncodeResult(res model.AnalysisResult) []byte {
	keys := make([]string, 0, len(res.Counts))
	for k := range res.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(res.Dimension.String())
	b.WriteString(fieldSep)
	b.WriteString(strconv.Itoa(res.TotalEntries))
	b.WriteString(fieldSep)
	b.WriteString(strconv.Itoa(len(keys)))
	for _, k := range keys {
		b.WriteString(fieldSep)
		b.WriteString(k)
		b.WriteString(fieldSep)
		b.WriteString(strconv.Itoa(res.Counts[k]))
	}
	return []byte(b.String())
}

// DecodeResult parses a result payload. Keys containing the field
// separator cannot be represented and surface as a count mismatch.
func DecodeResult(data []byte) (model.AnalysisResult, error) {
	var res model.AnalysisResult
	fields := strings.Split(string(data), fieldSep)
	if len(fields) < 3 {
		return res, fmt.Errorf("%w: result has %d fields", ErrMalformedPayload, len(fields))
	}

	dim, err := model.ParseDimension(fields[0])
	if err != nil {
		return res, fmt.Errorf("%w: result: %v", ErrMalformedPayload, err)
	}
	total, err := parseCount(fields[1])
	if err != nil {
		return res, fmt.Errorf("%w: total entries: %v", ErrMalformedPayload, err)
	}
	n, err := parseCount(fields[2])
	if err != nil {
		return res, fmt.Errorf("%w: key count: %v", ErrMalformedPayload, err)
	}
	pairs := fields[3:]
	if len(pairs) != 2*n {
		return res, fmt.Errorf("%w: expected %d keys, got %d fields", ErrMalformedPayload, n, len(pairs))
	}

	res = model.NewAnalysisResult(dim)
	res.TotalEntries = total
	for i := 0; i < len(pairs); i += 2 {
		v, err := parseCount(pairs[i+1])
		if err != nil {
			return model.AnalysisResult{}, fmt.Errorf("%w: count for %q: %v", ErrMalformedPayload, pairs[i], err)
		}
		res.Counts[pairs[i]] += v
	}
	return res, nil
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	return n, nil
}

func dateOrNone(d string) string {
	if d == "" {
		return noDate
	}
	return d
}

func noneToEmpty(d string) string {
	if d == noDate {
		return ""
	}
	return d
}
