package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines the persistence layer for monitored accounts, per-user
// settings and flow snapshot history.
type Storage interface {
	// ListUserIDs returns every user that owns at least one account.
	ListUserIDs(ctx context.Context) ([]int64, error)

	// ListAccounts returns a user's accounts. With monitoredOnly set, only
	// accounts with monitoring enabled are returned.
	ListAccounts(ctx context.Context, userID int64, monitoredOnly bool) ([]model.MonitoredAccount, error)

	// GetAccount retrieves an account by id.
	GetAccount(ctx context.Context, id int64) (*model.MonitoredAccount, error)

	// UpsertAccount creates or updates an account. A zero ID is assigned.
	UpsertAccount(ctx context.Context, account *model.MonitoredAccount) error

	// SaveCredentials replaces an account's credentials.
	SaveCredentials(ctx context.Context, accountID int64, creds model.Credentials) error

	// SetAuthValid flags whether an account's credentials still work.
	SetAuthValid(ctx context.Context, accountID int64, valid bool) error

	// GetSettings returns a user's settings overlaid on the defaults.
	GetSettings(ctx context.Context, userID int64) (model.Settings, error)

	// SaveSettings stores a user's settings.
	SaveSettings(ctx context.Context, userID int64, settings model.Settings) error

	// RecordSnapshot persists a normalized flow reading.
	RecordSnapshot(ctx context.Context, snap *model.FlowSnapshot) error

	// LatestSnapshot returns the most recent reading for an account.
	LatestSnapshot(ctx context.Context, accountID int64) (*model.FlowSnapshot, error)

	// ListSnapshots returns up to limit readings, newest first.
	ListSnapshots(ctx context.Context, accountID int64, limit int) ([]model.FlowSnapshot, error)

	// Close releases resources.
	Close() error
}

func nullable(m model.Measure) sql.NullFloat64 {
	return sql.NullFloat64{Float64: m.MB, Valid: m.Valid}
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeSnapshot(payload string, raw sql.NullString) (model.FlowSnapshot, error) {
	var snap model.FlowSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot payload: %w", err)
	}
	if raw.Valid && raw.String != "" {
		snap.Raw = json.RawMessage(raw.String)
	}
	return snap, nil
}

func decodeCredentials(data string) (model.Credentials, error) {
	var creds model.Credentials
	if data == "" {
		return creds, nil
	}
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return creds, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}
