// Package flow turns loosely structured upstream usage payloads into
// fixed-shape snapshots.
package flow

import (
	"encoding/json"
	"time"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// NormalizeJSON decodes raw and normalizes it. Undecodable input yields an
// empty snapshot.
func NormalizeJSON(raw []byte) model.FlowSnapshot {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload = nil
	}
	snap := Normalize(payload)
	if len(raw) > 0 {
		snap.Raw = append(json.RawMessage(nil), raw...)
	}
	return snap
}

// Normalize maps an upstream payload to a snapshot. It never fails: fields
// that are missing or unparseable read as invalid (zero) measures.
func Normalize(raw map[string]any) model.FlowSnapshot {
	snap := model.FlowSnapshot{
		Categories: make(map[model.Category]model.CategoryUsage, len(model.Categories)),
		Packages:   []model.PackageDetail{},
		CapturedAt: time.Now().UTC(),
	}
	for _, c := range model.Categories {
		snap.Categories[c] = model.CategoryUsage{}
	}
	if len(raw) == 0 {
		return snap
	}

	snap.Total = ParseMB(raw["sum"])
	snap.Used = ParseMB(raw["allUserFlow"])
	snap.Remaining = ParseMB(raw["canUseFlowAll"])
	if !snap.Remaining.Valid {
		snap.Remaining = ParseMB(raw["canUseValueAll"])
	}

	summed := sumFlowList(raw)

	packages, primaryName := collectPackages(raw)
	snap.Packages = append(snap.Packages, packages...)

	fromPackages := sumPackages(packages)
	for _, c := range model.Categories {
		cu := model.CategoryUsage{Used: summed[c].Used, Remaining: summed[c].Remaining}
		if pkg, ok := fromPackages[c]; ok {
			if pkg.Total.Positive() {
				cu.Total = pkg.Total
			}
			if pkg.Remaining.Valid {
				cu.Remaining = pkg.Remaining
			}
		}
		snap.Categories[c] = cu
	}

	snap.PackageName = str(raw, "packageName")
	if snap.PackageName == "" {
		snap.PackageName = primaryName
	}

	if p := ParseMB(raw["sumPercent"]); p.Valid {
		snap.UsagePercent = round2(p.MB)
	} else if snap.Total.Positive() {
		snap.UsagePercent = round2(snap.Used.MB / snap.Total.MB * 100)
	}

	return snap
}

// sumFlowList reads the per-category used and remaining amounts from
// flowSumList. Categories with no entry stay invalid; fields missing from a
// present entry count as zero.
func sumFlowList(raw map[string]any) map[model.Category]model.CategoryUsage {
	out := make(map[model.Category]model.CategoryUsage)
	for _, item := range objects(raw["flowSumList"]) {
		c, ok := model.CategoryFromCode(str(item, "flowtype"))
		if !ok {
			continue
		}
		cu := out[c]
		cu.Used = model.Known(cu.Used.MB + ParseMB(item["xusedvalue"]).MB)
		cu.Remaining = model.Known(cu.Remaining.MB + ParseMB(item["xcanusevalue"]).MB)
		out[c] = cu
	}
	return out
}

// sumPackages accumulates totals and remaining amounts per category across
// every container. Negative remainders count as zero.
func sumPackages(packages []model.PackageDetail) map[model.Category]model.CategoryUsage {
	out := make(map[model.Category]model.CategoryUsage)
	for _, p := range packages {
		cu := out[p.Category]
		cu.Total = model.Known(cu.Total.MB + p.Total)
		cu.Remaining = model.Known(cu.Remaining.MB + max(0, p.Remaining))
		out[p.Category] = cu
	}
	return out
}
