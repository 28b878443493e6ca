package flow

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// ParseMB converts an upstream amount into megabytes. Numbers are taken as
// MB; strings may carry a KB, MB or GB suffix and thousands separators.
// Anything unparseable or non-finite yields an invalid measure.
func ParseMB(v any) model.Measure {
	switch t := v.(type) {
	case nil:
		return model.Measure{}
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return model.Known(float64(t))
	case int64:
		return model.Known(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return model.Measure{}
		}
		return finite(f)
	case string:
		return parseMBString(t)
	default:
		return model.Measure{}
	}
}

func parseMBString(s string) model.Measure {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return model.Measure{}
	}

	factor := 1.0
	switch {
	case strings.HasSuffix(s, "GB"):
		factor, s = 1024, strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		factor, s = 1.0/1024, strings.TrimSuffix(s, "KB")
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return model.Measure{}
	}
	return finite(f * factor)
}

// finite rejects the inf and nan spellings strconv accepts.
func finite(f float64) model.Measure {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return model.Measure{}
	}
	return model.Known(f)
}

func str(m map[string]any, key string) string {
	switch t := m[key].(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func objects(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
