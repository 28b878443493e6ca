package flow_test

import (
	"testing"

	"github.com/ogulcanaydogan/flow-guardian/pkg/flow"
	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{
	"sum": "20480",
	"allUserFlow": "1,024.5MB",
	"canUseFlowAll": "19455.5",
	"sumPercent": "5.003",
	"flowSumList": [
		{"flowtype": "1", "xusedvalue": "800", "xcanusevalue": "9440"},
		{"flowtype": "2", "xusedvalue": "224.5", "xcanusevalue": "10015.5"},
		{"flowtype": "3", "xusedvalue": "0"}
	],
	"resources": [
		{"type": "voice", "details": [{"addUpItemName": "minutes", "total": "100"}]},
		{"type": "flow", "details": [
			{"feePolicyName": "大王卡 19元", "addUpItemName": "国内通用流量", "total": "10240", "use": "800", "remain": "9440", "flowType": "1", "endDate": "20261031", "usedPercent": "7.81"},
			{"addUpItemName": "腾讯定向流量", "total": "0", "use": "224.5", "remain": "0", "flowType": "2"}
		]}
	],
	"unshared": [
		{"type": "unsharedFlowList", "details": [{"addUpItemName": "ignored", "total": "999"}]}
	],
	"TwResources": [
		{"type": "flow", "details": [
			{"addUpItemName": "套外通用流量", "total": "1024", "use": "1500", "remain": "-476", "flowType": "1"}
		]}
	]
}`

func TestNormalizeJSON_FullPayload(t *testing.T) {
	snap := flow.NormalizeJSON([]byte(samplePayload))

	assert.Equal(t, model.Known(20480), snap.Total)
	assert.Equal(t, model.Known(1024.5), snap.Used)
	assert.Equal(t, model.Known(19455.5), snap.Remaining)
	assert.Equal(t, 5.0, snap.UsagePercent)
	assert.Equal(t, "大王卡 19元", snap.PackageName)
	assert.NotEmpty(t, snap.Raw)

	general := snap.Category(model.CategoryGeneral)
	assert.Equal(t, model.Known(800), general.Used)
	// 10240 from resources plus 1024 over-quota; negative remainder clamps to zero.
	assert.Equal(t, model.Known(11264), general.Total)
	assert.Equal(t, model.Known(9440), general.Remaining)

	special := snap.Category(model.CategorySpecial)
	assert.Equal(t, model.Known(224.5), special.Used)
	assert.False(t, special.Total.Valid)
	assert.Equal(t, model.Known(0), special.Remaining)

	other := snap.Category(model.CategoryOther)
	assert.Equal(t, model.Known(0), other.Used)
	assert.Equal(t, model.Known(0), other.Remaining)

	require.Len(t, snap.Packages, 3)
	assert.Equal(t, "国内通用流量", snap.Packages[0].Name)
	assert.Equal(t, 7.81, snap.Packages[0].UsedPercent)
	assert.Equal(t, "20261031", snap.Packages[0].EndDate)
	assert.False(t, snap.Packages[0].IsUnlimited)

	assert.True(t, snap.Packages[1].IsUnlimited)
	assert.Equal(t, model.UnlimitedZeroTotalUsed, snap.Packages[1].UnlimitedReason)
	assert.Equal(t, model.CategorySpecial, snap.Packages[1].Category)

	assert.True(t, snap.Packages[2].Extra)
	assert.Equal(t, "TwResources", snap.Packages[2].Source)
	assert.True(t, snap.Packages[2].IsUnlimited)
	assert.Equal(t, model.UnlimitedNegativeLeft, snap.Packages[2].UnlimitedReason)
}

func TestNormalize_EmptyPayload(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte(""), []byte("{}"), []byte("not json"), []byte("[1,2]")} {
		snap := flow.NormalizeJSON(raw)
		assert.Equal(t, 0.0, snap.Total.MB)
		assert.Equal(t, 0.0, snap.Used.MB)
		assert.Equal(t, 0.0, snap.Remaining.MB)
		assert.Equal(t, 0.0, snap.UsagePercent)
		assert.Empty(t, snap.PackageName)
		assert.NotNil(t, snap.Packages)
		assert.Empty(t, snap.Packages)
		for _, c := range model.Categories {
			cu := snap.Category(c)
			assert.Equal(t, 0.0, cu.Total.MB)
			assert.Equal(t, 0.0, cu.Used.MB)
			assert.Equal(t, 0.0, cu.Remaining.MB)
		}
	}
}

func TestNormalize_ZeroTotalWithUsageIsUnlimited(t *testing.T) {
	snap := flow.Normalize(map[string]any{
		"resources": []any{
			map[string]any{"type": "flow", "details": []any{
				map[string]any{"total": float64(0), "use": float64(120)},
			}},
		},
	})
	require.Len(t, snap.Packages, 1)
	assert.True(t, snap.Packages[0].IsUnlimited)
	assert.Equal(t, "流量包", snap.Packages[0].Name)
	assert.Equal(t, model.CategoryGeneral, snap.Packages[0].Category)
}

func TestNormalize_UnsharedFallback(t *testing.T) {
	snap := flow.Normalize(map[string]any{
		"canUseValueAll": "3GB",
		"unshared": []any{
			map[string]any{"type": "unsharedFlowList", "details": []any{
				map[string]any{"feePolicyName": "冰激凌套餐", "total": "2048", "use": "1024", "remain": "1024", "flowType": "1"},
			}},
		},
	})

	assert.Equal(t, model.Known(3072), snap.Remaining)
	require.Len(t, snap.Packages, 1)
	assert.Equal(t, "unshared", snap.Packages[0].Source)
	assert.Equal(t, 50.0, snap.Packages[0].UsedPercent)
	assert.Equal(t, "冰激凌套餐", snap.PackageName)
	assert.Equal(t, model.Known(2048), snap.Category(model.CategoryGeneral).Total)
}

func TestNormalize_DerivedPercentAndBadFields(t *testing.T) {
	snap := flow.Normalize(map[string]any{
		"sum":         "2GB",
		"allUserFlow": "512MB",
		"sumPercent":  "n/a",
		"flowSumList": "garbage",
		"resources":   map[string]any{"type": "flow"},
	})
	assert.Equal(t, 25.0, snap.UsagePercent)
	assert.Empty(t, snap.Packages)
	assert.False(t, snap.Category(model.CategoryGeneral).Used.Valid)
}

func TestNormalize_ZeroTotalGuardsPercent(t *testing.T) {
	snap := flow.Normalize(map[string]any{"sum": "0", "allUserFlow": "100"})
	assert.Equal(t, 0.0, snap.UsagePercent)
}
