package state

import (
	"fmt"
	"strconv"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// LeaseKey is the scheduler instance lease.
const LeaseKey = "monitor:scheduler:lock"

// ScanKey is the per-user scan eligibility marker.
func ScanKey(userID int64) string {
	return fmt.Sprintf("monitor:last_scan:%d", userID)
}

// LowBalanceKey is the one-shot dedup marker for a low-balance rule. The
// rule signature is part of the key so a changed threshold starts unfired.
func LowBalanceKey(userID, accountID int64, c model.Category, rule model.LowBalanceRule) string {
	return fmt.Sprintf("alert_once:%d:%d:low:%s:%s", userID, accountID, c, rule.Signature())
}

// LowBalancePrefix matches every low-balance marker of an account.
func LowBalancePrefix(userID, accountID int64) string {
	return fmt.Sprintf("alert_once:%d:%d:low:", userID, accountID)
}

// BaselineKey is the jump-detection baseline for a category and threshold.
func BaselineKey(userID, accountID int64, c model.Category, thresholdMB float64) string {
	return fmt.Sprintf("jump_base:%d:%d:%s:%s", userID, accountID, c, strconv.FormatFloat(thresholdMB, 'f', -1, 64))
}

// BaselinePrefix matches every baseline of an account.
func BaselinePrefix(userID, accountID int64) string {
	return fmt.Sprintf("jump_base:%d:%d:", userID, accountID)
}
