// Package monitor evaluates normalized usage readings against each user's
// alert rules and drives the per-account query pipeline.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/ogulcanaydogan/flow-guardian/pkg/alerts"
	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
	"github.com/ogulcanaydogan/flow-guardian/pkg/state"
)

const (
	DefaultLowBalanceTTL    = 7 * 24 * time.Hour
	DefaultBaselineTTL      = 30 * 24 * time.Hour
	DefaultLargeJumpBuckets = 10
)

// Notifier fans a message out to a user's channels. alerts.Dispatcher
// satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, configs map[string]model.ChannelConfig, msg alerts.Message) map[string]alerts.Result
}

// LowBalanceHit records a low-balance rule that matched.
type LowBalanceHit struct {
	Category    model.Category
	RemainingMB float64
	TotalMB     float64
	Notified    bool // false when an earlier notification is still in effect
}

// JumpHit records a usage jump of at least one threshold.
type JumpHit struct {
	Category    model.Category
	BaselineMB  float64
	UsedMB      float64
	Buckets     int
	AdvanceMB   float64
	ThresholdMB float64
	Notified    bool // false when a concurrent evaluation advanced first
}

// Report summarizes one evaluation.
type Report struct {
	LowBalance           []LowBalanceHit
	Jumps                []JumpHit
	BaselinesInitialized []model.Category
}

// Notified reports whether any notification was dispatched.
func (r Report) Notified() bool {
	for _, h := range r.LowBalance {
		if h.Notified {
			return true
		}
	}
	for _, h := range r.Jumps {
		if h.Notified {
			return true
		}
	}
	return false
}

// Evaluator applies low-balance and usage-jump rules. All cross-tick state
// lives in a state.Store so evaluations of the same key are serialized by
// SetIfAbsent and CompareAndSwap.
type Evaluator struct {
	store            state.Store
	notifier         Notifier
	logger           *slog.Logger
	now              func() time.Time
	lowTTL           time.Duration
	baselineTTL      time.Duration
	largeJumpBuckets int
}

// EvaluatorOption customizes an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock overrides the time source used in messages and markers.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// WithTTLs overrides the low-balance marker and baseline lifetimes.
func WithTTLs(lowBalance, baseline time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		if lowBalance > 0 {
			e.lowTTL = lowBalance
		}
		if baseline > 0 {
			e.baselineTTL = baseline
		}
	}
}

// WithLargeJumpBuckets sets the crossing count above which a jump message
// carries an extra warning.
func WithLargeJumpBuckets(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n > 0 {
			e.largeJumpBuckets = n
		}
	}
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(store state.Store, notifier Notifier, logger *slog.Logger, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		store:            store,
		notifier:         notifier,
		logger:           logger,
		now:              time.Now,
		lowTTL:           DefaultLowBalanceTTL,
		baselineTTL:      DefaultBaselineTTL,
		largeJumpBuckets: DefaultLargeJumpBuckets,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate checks snap against settings and notifies through the user's
// channels. A shared-state failure skips only the affected rule; the
// returned error joins every such failure.
func (e *Evaluator) Evaluate(ctx context.Context, account model.MonitoredAccount, snap *model.FlowSnapshot, settings model.Settings) (Report, error) {
	var (
		report Report
		errs   []error
	)

	for _, c := range []model.Category{model.CategoryGeneral, model.CategorySpecial} {
		rule, ok := settings.Alerts.Low[c]
		if !ok || !rule.Enabled {
			continue
		}
		hit, err := e.lowBalance(ctx, account, snap, settings, c, rule)
		if err != nil {
			errs = append(errs, fmt.Errorf("low balance %s: %w", c, err))
			continue
		}
		if hit != nil {
			report.LowBalance = append(report.LowBalance, *hit)
		}
	}

	if rule, ok := settings.Alerts.Jump[model.CategoryGeneral]; ok && rule.Enabled && rule.ThresholdMB > 0 {
		hit, initialized, err := e.usageJump(ctx, account, snap, settings, model.CategoryGeneral, rule)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("usage jump %s: %w", model.CategoryGeneral, err))
		case initialized:
			report.BaselinesInitialized = append(report.BaselinesInitialized, model.CategoryGeneral)
		case hit != nil:
			report.Jumps = append(report.Jumps, *hit)
		}
	}

	return report, errors.Join(errs...)
}

// lowBalanceInputs resolves remaining and total for c. The general category
// falls back to the overall readings; special uses only its own.
func lowBalanceInputs(snap *model.FlowSnapshot, c model.Category) (remaining, total model.Measure) {
	u := snap.Category(c)
	remaining, total = u.Remaining, u.Total
	if c == model.CategoryGeneral {
		if !remaining.Valid {
			remaining = snap.Remaining
		}
		if !total.Positive() {
			total = snap.Total
		}
	}
	return remaining, total
}

// LowBalanceMatches reports whether the rule fires for the given readings.
func LowBalanceMatches(rule model.LowBalanceRule, remainingMB, totalMB float64) bool {
	if totalMB <= 0 {
		return false
	}
	if rule.NormalizedMode() == model.ModePercent {
		return remainingMB/totalMB*100 <= rule.Value
	}
	return remainingMB <= rule.Value*1024
}

func (e *Evaluator) lowBalance(ctx context.Context, account model.MonitoredAccount, snap *model.FlowSnapshot,
	settings model.Settings, c model.Category, rule model.LowBalanceRule) (*LowBalanceHit, error) {
	remaining, total := lowBalanceInputs(snap, c)
	if !remaining.Valid || !total.Positive() {
		return nil, nil
	}
	if !LowBalanceMatches(rule, remaining.MB, total.MB) {
		return nil, nil
	}

	hit := &LowBalanceHit{Category: c, RemainingMB: remaining.MB, TotalMB: total.MB}
	key := state.LowBalanceKey(account.UserID, account.ID, c, rule)
	claimed, err := e.store.SetIfAbsent(ctx, key, strconv.FormatInt(e.now().Unix(), 10), e.lowTTL)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return hit, nil
	}

	msg := e.message(alerts.KindLowBalance, account, "低余量提醒", lowBalanceBody(account, c, remaining.MB, total.MB, e.now()))
	e.notify(ctx, settings, msg)
	hit.Notified = true
	e.logger.Info("low balance alert sent",
		"account_id", account.ID, "category", c, "remaining_mb", remaining.MB, "total_mb", total.MB)
	return hit, nil
}

// JumpBuckets returns how many whole thresholds separate used from baseline
// and the baseline advance they represent. Non-finite inputs and jumps of
// more than math.MaxInt32 thresholds report no crossing.
func JumpBuckets(baselineMB, usedMB, thresholdMB float64) (int, float64) {
	if !(thresholdMB > 0) || math.IsInf(thresholdMB, 0) {
		return 0, 0
	}
	delta := usedMB - baselineMB
	if math.IsNaN(delta) || math.IsInf(delta, 0) || delta < thresholdMB {
		return 0, 0
	}
	n := math.Floor(delta / thresholdMB)
	if n > math.MaxInt32 {
		return 0, 0
	}
	k := int(n)
	return k, float64(k) * thresholdMB
}

func (e *Evaluator) usageJump(ctx context.Context, account model.MonitoredAccount, snap *model.FlowSnapshot,
	settings model.Settings, c model.Category, rule model.JumpRule) (*JumpHit, bool, error) {
	used := snap.Category(c).Used
	if !used.Valid {
		e.logger.Debug("usage jump skipped, no usage reading", "account_id", account.ID, "category", c)
		return nil, false, nil
	}

	key := state.BaselineKey(account.UserID, account.ID, c, rule.ThresholdMB)
	stored, ok, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		if _, err := e.store.SetIfAbsent(ctx, key, formatMB(used.MB), e.baselineTTL); err != nil {
			return nil, false, err
		}
		e.logger.Info("usage baseline initialized", "account_id", account.ID, "category", c, "used_mb", used.MB)
		return nil, true, nil
	}

	baseline, err := strconv.ParseFloat(stored, 64)
	if err != nil {
		// Unreadable baseline: re-anchor on the current reading without notifying.
		if _, err := e.store.CompareAndSwap(ctx, key, stored, formatMB(used.MB), e.baselineTTL); err != nil {
			return nil, false, err
		}
		e.logger.Warn("usage baseline reset", "account_id", account.ID, "category", c, "stored", stored)
		return nil, true, nil
	}

	buckets, advance := JumpBuckets(baseline, used.MB, rule.ThresholdMB)
	if buckets == 0 {
		return nil, false, nil
	}

	hit := &JumpHit{
		Category:    c,
		BaselineMB:  baseline,
		UsedMB:      used.MB,
		Buckets:     buckets,
		AdvanceMB:   advance,
		ThresholdMB: rule.ThresholdMB,
	}
	swapped, err := e.store.CompareAndSwap(ctx, key, stored, formatMB(baseline+advance), e.baselineTTL)
	if err != nil {
		return nil, false, err
	}
	if !swapped {
		e.logger.Debug("usage baseline advanced concurrently", "account_id", account.ID, "category", c)
		return hit, false, nil
	}

	specialUsed := snap.Category(model.CategorySpecial).Used.MB
	body := jumpBody(account, hit, specialUsed, e.largeJumpBuckets, e.now())
	e.notify(ctx, settings, e.message(alerts.KindUsageJump, account, "用量跳点提醒", body))
	hit.Notified = true
	e.logger.Info("usage jump alert sent",
		"account_id", account.ID, "category", c, "buckets", buckets, "baseline_mb", baseline+advance)
	return hit, false, nil
}

func (e *Evaluator) message(kind alerts.Kind, account model.MonitoredAccount, title, body string) alerts.Message {
	return alerts.Message{
		Kind:      kind,
		Title:     title,
		Body:      body,
		UserID:    account.UserID,
		AccountID: account.ID,
		Timestamp: e.now(),
	}
}

func (e *Evaluator) notify(ctx context.Context, settings model.Settings, msg alerts.Message) {
	if e.notifier == nil {
		return
	}
	results := e.notifier.Dispatch(ctx, settings.Notifications, msg)
	if len(results) == 0 {
		e.logger.Info("no notification channel enabled", "user_id", msg.UserID, "kind", msg.Kind)
	}
}

// ResetLowBalance clears every low-balance marker of an account so the
// next matching reading notifies again.
func (e *Evaluator) ResetLowBalance(ctx context.Context, userID, accountID int64) (int, error) {
	return e.store.DeletePrefix(ctx, state.LowBalancePrefix(userID, accountID))
}

// ResetBaselines drops every usage baseline of an account; the next reading
// re-initializes them.
func (e *Evaluator) ResetBaselines(ctx context.Context, userID, accountID int64) (int, error) {
	return e.store.DeletePrefix(ctx, state.BaselinePrefix(userID, accountID))
}

func formatMB(mb float64) string {
	return strconv.FormatFloat(mb, 'f', -1, 64)
}
