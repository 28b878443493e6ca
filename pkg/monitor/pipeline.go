package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ogulcanaydogan/flow-guardian/pkg/authretry"
	"github.com/ogulcanaydogan/flow-guardian/pkg/flow"
	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
	"github.com/ogulcanaydogan/flow-guardian/pkg/upstream"
)

// SnapshotRecorder persists normalized readings.
type SnapshotRecorder interface {
	RecordSnapshot(ctx context.Context, snap *model.FlowSnapshot) error
}

// Pipeline runs one account through query, auth retry, normalization,
// persistence and evaluation.
type Pipeline struct {
	providers   *upstream.Registry
	coordinator *authretry.Coordinator
	snapshots   SnapshotRecorder
	evaluator   *Evaluator
	logger      *slog.Logger
}

// NewPipeline creates a Pipeline. snapshots may be nil to skip history.
func NewPipeline(providers *upstream.Registry, coordinator *authretry.Coordinator, snapshots SnapshotRecorder,
	evaluator *Evaluator, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		providers:   providers,
		coordinator: coordinator,
		snapshots:   snapshots,
		evaluator:   evaluator,
		logger:      logger,
	}
}

// Result describes what Process did for an account.
type Result struct {
	Outcome  authretry.Kind
	Snapshot *model.FlowSnapshot
	Report   Report
}

// Process queries and evaluates account. A failed query is returned as an
// error; persistence and shared-state failures are logged and tolerated.
func (p *Pipeline) Process(ctx context.Context, account model.MonitoredAccount, settings model.Settings) (Result, error) {
	provider, err := p.providers.Resolve(account.Provider)
	if err != nil {
		return Result{}, fmt.Errorf("resolve provider: %w", err)
	}

	outcome := p.coordinator.Query(ctx, provider, account)
	res := Result{Outcome: outcome.Kind}
	if !outcome.OK() {
		if outcome.NeedReauth() {
			p.logger.Warn("account needs re-authentication",
				"account_id", account.ID, "user_id", account.UserID, "error", outcome.Err)
		}
		return res, fmt.Errorf("query %s: %w", account.Label(), outcome.Err)
	}

	snap := flow.NormalizeJSON(outcome.Result.Data)
	snap.AccountID = account.ID
	snap.IsCached = outcome.Result.IsCached
	snap.QueryTime = outcome.Result.QueryTime
	res.Snapshot = &snap

	if p.snapshots != nil {
		if err := p.snapshots.RecordSnapshot(ctx, &snap); err != nil {
			p.logger.Warn("failed to record snapshot", "account_id", account.ID, "error", err)
		}
	}

	report, err := p.evaluator.Evaluate(ctx, outcome.Account, &snap, settings)
	res.Report = report
	if err != nil {
		p.logger.Warn("evaluation skipped", "account_id", account.ID, "error", err)
	}

	p.logger.Debug("account processed",
		"account_id", account.ID,
		"outcome", outcome.Kind.String(),
		"used_mb", snap.Used.MB,
		"remaining_mb", snap.Remaining.MB,
		"notified", report.Notified(),
	)
	return res, nil
}
