package flow

import (
	"strings"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// unlimitedKeywords mark bundled or zero-rated packages that carry no quota.
var unlimitedKeywords = []string{"专享", "免费", "大王卡", "定向", "无限", "unlimited"}

// packageSource is one itemized container in the upstream payload.
type packageSource struct {
	Key         string // top-level payload key
	ItemType    string // required "type" of the container entries
	DefaultName string
	Extra       bool // over-quota packages
	Fallback    bool // only consulted when earlier primary sources yield nothing
}

// packageSources is consulted in order. Primary and over-quota sources are
// both summed into category totals.
var packageSources = []packageSource{
	{Key: "resources", ItemType: "flow", DefaultName: "流量包"},
	{Key: "unshared", ItemType: "unsharedFlowList", DefaultName: "流量包", Fallback: true},
	{Key: "TwResources", ItemType: "flow", DefaultName: "套外流量包", Extra: true},
}

// extract returns the package details found in this source, or nil when the
// container is absent or holds no matching entries.
func (src packageSource) extract(raw map[string]any) []model.PackageDetail {
	var out []model.PackageDetail
	for _, item := range objects(raw[src.Key]) {
		if str(item, "type") != src.ItemType {
			continue
		}
		for _, d := range objects(item["details"]) {
			out = append(out, src.detail(d))
		}
	}
	return out
}

func (src packageSource) detail(d map[string]any) model.PackageDetail {
	name := str(d, "addUpItemName")
	if name == "" {
		name = str(d, "feePolicyName")
	}
	if name == "" {
		name = src.DefaultName
	}

	total := ParseMB(d["total"])
	used := ParseMB(d["use"])
	remaining := ParseMB(d["remain"])

	category, ok := model.CategoryFromCode(str(d, "flowType"))
	if !ok {
		category = model.CategoryGeneral
	}

	percent := ParseMB(d["usedPercent"])
	usedPercent := percent.MB
	if !percent.Valid && total.Positive() {
		usedPercent = used.MB / total.MB * 100
	}

	unlimited, reason := IsUnlimited(name, total, used, remaining)

	return model.PackageDetail{
		Name:            name,
		Total:           total.MB,
		Used:            used.MB,
		Remaining:       remaining.MB,
		Unit:            "MB",
		Category:        category,
		EndDate:         str(d, "endDate"),
		UsedPercent:     round2(usedPercent),
		IsUnlimited:     unlimited,
		UnlimitedReason: reason,
		Source:          src.Key,
		Extra:           src.Extra,
	}
}

// IsUnlimited reports whether a package looks like it has no effective
// quota, and which rule decided it.
func IsUnlimited(name string, total, used, remaining model.Measure) (bool, model.UnlimitedReason) {
	noTotal := !total.Valid || total.MB == 0

	if noTotal && used.Positive() {
		return true, model.UnlimitedZeroTotalUsed
	}
	if remaining.Valid && remaining.MB < 0 {
		return true, model.UnlimitedNegativeLeft
	}
	if noTotal && hasUnlimitedKeyword(name) {
		return true, model.UnlimitedKeyword
	}
	return false, model.UnlimitedNone
}

func hasUnlimitedKeyword(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range unlimitedKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// collectPackages runs every source in order. It reports the primary
// package name candidate alongside the details.
func collectPackages(raw map[string]any) ([]model.PackageDetail, string) {
	var (
		packages    []model.PackageDetail
		primaryName string
		havePrimary bool
	)

	for _, src := range packageSources {
		if src.Fallback && havePrimary {
			continue
		}
		details := src.extract(raw)
		if len(details) == 0 {
			continue
		}
		if !src.Extra {
			havePrimary = true
			if primaryName == "" {
				primaryName = firstFeePolicy(raw, src)
			}
		}
		packages = append(packages, details...)
	}

	return packages, primaryName
}

func firstFeePolicy(raw map[string]any, src packageSource) string {
	for _, item := range objects(raw[src.Key]) {
		if str(item, "type") != src.ItemType {
			continue
		}
		for _, d := range objects(item["details"]) {
			if name := str(d, "feePolicyName"); name != "" {
				return name
			}
		}
	}
	return ""
}
