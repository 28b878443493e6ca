package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

const timeLayout = "2006-01-02 15:04:05"

var categoryLabels = map[model.Category]string{
	model.CategoryGeneral: "通用",
	model.CategorySpecial: "专用",
	model.CategoryOther:   "其他",
}

func lowBalanceBody(account model.MonitoredAccount, c model.Category, remainingMB, totalMB float64, at time.Time) string {
	return fmt.Sprintf("账号：%s\n%s流量剩余 %.2fGB/共%.2fGB\n时间：%s",
		account.Label(), categoryLabels[c], remainingMB/1024, totalMB/1024, at.Format(timeLayout))
}

func jumpBody(account model.MonitoredAccount, hit *JumpHit, specialUsedMB float64, largeBuckets int, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "账号：%s\n\n", account.Label())
	fmt.Fprintf(&b, "基线已用通用流量：%.2fMB\n", hit.BaselineMB)
	fmt.Fprintf(&b, "当前已用通用流量：%.2fMB\n", hit.UsedMB)
	fmt.Fprintf(&b, "当前已用专用流量：%.2fMB\n", specialUsedMB)
	fmt.Fprintf(&b, "最近跳点增加%.0fMB，阈值%.0fMB，共跨%d档\n", hit.AdvanceMB, hit.ThresholdMB, hit.Buckets)
	fmt.Fprintf(&b, "时间：%s\n", at.Format(timeLayout))
	b.WriteString("提示：请注意流量使用哦~")
	if hit.Buckets > largeBuckets {
		b.WriteString("\n最近流量跳点过大，快看看免流开关是否打开或者免流是否失效！")
	}
	return b.String()
}
