// Package upstream defines how the monitor talks to the providers that
// hold usage data and sessions for monitored accounts.
package upstream

import (
	"context"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// Provider queries usage and refreshes sessions for an upstream account.
type Provider interface {
	// Name returns the provider identifier (e.g., "unicom").
	Name() string

	// QueryFlow fetches the current usage payload. A returned error means the
	// call itself failed; provider-reported failures come back as a result
	// with Success false.
	QueryFlow(ctx context.Context, account model.MonitoredAccount) (*model.QueryResult, error)

	// RefreshAuth obtains fresh credentials for the account.
	RefreshAuth(ctx context.Context, account model.MonitoredAccount) (*model.Credentials, error)
}
