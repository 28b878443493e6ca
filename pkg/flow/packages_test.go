package flow_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/ogulcanaydogan/flow-guardian/pkg/flow"
	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
	"github.com/stretchr/testify/assert"
)

func TestIsUnlimited(t *testing.T) {
	tests := []struct {
		name      string
		pkg       string
		total     model.Measure
		used      model.Measure
		remaining model.Measure
		want      bool
		reason    model.UnlimitedReason
	}{
		{"zero total with usage", "通用流量", model.Known(0), model.Known(120), model.Known(0), true, model.UnlimitedZeroTotalUsed},
		{"absent total with usage", "通用流量", model.Measure{}, model.Known(1), model.Measure{}, true, model.UnlimitedZeroTotalUsed},
		{"negative remaining", "套外", model.Known(100), model.Known(150), model.Known(-50), true, model.UnlimitedNegativeLeft},
		{"keyword without total", "腾讯定向流量", model.Known(0), model.Known(0), model.Known(0), true, model.UnlimitedKeyword},
		{"english keyword", "Unlimited Night Pack", model.Measure{}, model.Measure{}, model.Measure{}, true, model.UnlimitedKeyword},
		{"keyword with total", "大王卡专享", model.Known(1024), model.Known(10), model.Known(1014), false, model.UnlimitedNone},
		{"ordinary package", "国内通用流量", model.Known(1024), model.Known(10), model.Known(1014), false, model.UnlimitedNone},
		{"nothing known", "流量包", model.Measure{}, model.Measure{}, model.Measure{}, false, model.UnlimitedNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := flow.IsUnlimited(tt.pkg, tt.total, tt.used, tt.remaining)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestParseMB(t *testing.T) {
	tests := []struct {
		in   any
		want model.Measure
	}{
		{float64(12.5), model.Known(12.5)},
		{42, model.Known(42)},
		{json.Number("7"), model.Known(7)},
		{"1,024", model.Known(1024)},
		{" 2gb ", model.Known(2048)},
		{"300 MB", model.Known(300)},
		{"512KB", model.Known(0.5)},
		{"-3", model.Known(-3)},
		{"", model.Measure{}},
		{"abc", model.Measure{}},
		{nil, model.Measure{}},
		{true, model.Measure{}},
		{"inf", model.Measure{}},
		{"-Infinity", model.Measure{}},
		{"NaN", model.Measure{}},
		{math.Inf(1), model.Measure{}},
		{math.NaN(), model.Measure{}},
		{json.Number("1e400"), model.Measure{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, flow.ParseMB(tt.in), "input %v", tt.in)
	}
}
