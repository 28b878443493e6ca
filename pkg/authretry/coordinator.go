package authretry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
	"github.com/ogulcanaydogan/flow-guardian/pkg/upstream"
)

// Kind is the terminal state of a coordinated query.
type Kind int

const (
	Success          Kind = iota // First query succeeded
	RetriedSuccess               // Succeeded after one refresh
	NeedsReauth                  // Refresh failed; the account needs a new login
	TransientFailure             // Failed for a reason a later tick may not hit
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case RetriedSuccess:
		return "retried_success"
	case NeedsReauth:
		return "needs_reauth"
	default:
		return "transient_failure"
	}
}

// Outcome is the final result of Coordinator.Query.
type Outcome struct {
	Kind    Kind
	Result  *model.QueryResult
	Account model.MonitoredAccount // carries refreshed credentials after a retry
	Reason  Reason
	Err     error
}

// OK reports whether usage data is available.
func (o Outcome) OK() bool {
	return o.Kind == Success || o.Kind == RetriedSuccess
}

// NeedReauth reports whether the account must be re-authenticated by its owner.
func (o Outcome) NeedReauth() bool {
	return o.Kind == NeedsReauth
}

// AccountStore persists the session state the coordinator changes.
type AccountStore interface {
	SaveCredentials(ctx context.Context, accountID int64, creds model.Credentials) error
	SetAuthValid(ctx context.Context, accountID int64, valid bool) error
}

// Coordinator runs a flow query and performs at most one refresh-then-retry
// cycle when the failure is auth-class.
type Coordinator struct {
	accounts   AccountStore
	classifier *Classifier
	timeout    time.Duration
	logger     *slog.Logger
}

// NewCoordinator creates a coordinator. timeout bounds every provider call.
func NewCoordinator(accounts AccountStore, classifier *Classifier, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if classifier == nil {
		classifier = NewClassifier(true)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Coordinator{
		accounts:   accounts,
		classifier: classifier,
		timeout:    timeout,
		logger:     logger,
	}
}

// Query fetches usage for account through p.
func (c *Coordinator) Query(ctx context.Context, p upstream.Provider, account model.MonitoredAccount) Outcome {
	res, err := c.query(ctx, p, account)
	if err != nil {
		return Outcome{Kind: TransientFailure, Account: account, Err: err}
	}
	if res.Success {
		return Outcome{Kind: Success, Result: res, Account: account}
	}

	reason := c.classifier.Classify(res)
	if reason == ReasonNone {
		return Outcome{Kind: TransientFailure, Result: res, Account: account, Err: failure(res)}
	}
	if reason == ReasonPhrase {
		c.logger.Warn("auth failure detected by message text only",
			"account_id", account.ID, "code", res.Code, "message", res.Message)
	}

	c.logger.Info("refreshing upstream session", "account_id", account.ID, "reason", reason.String())
	creds, err := c.refresh(ctx, p, account)
	if err != nil {
		if markErr := c.accounts.SetAuthValid(ctx, account.ID, false); markErr != nil {
			c.logger.Error("failed to mark auth invalid", "account_id", account.ID, "error", markErr)
		}
		account.AuthValid = false
		return Outcome{
			Kind:    NeedsReauth,
			Result:  res,
			Account: account,
			Reason:  reason,
			Err:     fmt.Errorf("refresh auth: %w", err),
		}
	}

	if err := c.accounts.SaveCredentials(ctx, account.ID, *creds); err != nil {
		return Outcome{
			Kind:    TransientFailure,
			Result:  res,
			Account: account,
			Reason:  reason,
			Err:     fmt.Errorf("save refreshed credentials: %w", err),
		}
	}
	if err := c.accounts.SetAuthValid(ctx, account.ID, true); err != nil {
		c.logger.Warn("failed to mark auth valid", "account_id", account.ID, "error", err)
	}
	account.Credentials = *creds
	account.AuthValid = true

	retried, err := c.query(ctx, p, account)
	if err != nil {
		return Outcome{Kind: TransientFailure, Account: account, Reason: reason, Err: fmt.Errorf("retry after refresh: %w", err)}
	}
	if !retried.Success {
		return Outcome{Kind: TransientFailure, Result: retried, Account: account, Reason: reason, Err: failure(retried)}
	}
	return Outcome{Kind: RetriedSuccess, Result: retried, Account: account, Reason: reason}
}

func (c *Coordinator) query(ctx context.Context, p upstream.Provider, account model.MonitoredAccount) (*model.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := p.QueryFlow(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("query flow: %w", err)
	}
	if res == nil {
		return nil, errors.New("query flow: empty result")
	}
	return res, nil
}

func (c *Coordinator) refresh(ctx context.Context, p upstream.Provider, account model.MonitoredAccount) (*model.Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	creds, err := p.RefreshAuth(ctx, account)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, errors.New("empty credentials")
	}
	return creds, nil
}

func failure(res *model.QueryResult) error {
	if res.Code != "" {
		return fmt.Errorf("upstream query failed (code %s): %s", res.Code, res.Message)
	}
	return fmt.Errorf("upstream query failed: %s", res.Message)
}
