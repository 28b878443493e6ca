package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/flow-guardian/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLite implements the Storage interface using an SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const accountColumns = `id, user_id, provider, phone, monitor_enabled, auth_valid, credentials, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (model.MonitoredAccount, error) {
	var (
		a     model.MonitoredAccount
		creds string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Provider, &a.Phone, &a.MonitorEnabled,
		&a.AuthValid, &creds, &a.UpdatedAt); err != nil {
		return a, err
	}
	c, err := decodeCredentials(creds)
	if err != nil {
		return a, err
	}
	a.Credentials = c
	return a, nil
}

func (s *SQLite) ListAccounts(ctx context.Context, userID int64, monitoredOnly bool) ([]model.MonitoredAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = ?`
	if monitoredOnly {
		query += ` AND monitor_enabled = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.MonitoredAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *SQLite) GetAccount(ctx context.Context, id int64) (*model.MonitoredAccount, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func (s *SQLite) UpsertAccount(ctx context.Context, account *model.MonitoredAccount) error {
	creds, err := encodeJSON(account.Credentials)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	account.UpdatedAt = time.Now().UTC()

	if account.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO accounts (user_id, provider, phone, monitor_enabled, auth_valid, credentials, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			account.UserID, account.Provider, account.Phone, account.MonitorEnabled,
			account.AuthValid, creds, account.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read account id: %w", err)
		}
		account.ID = id
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, provider, phone, monitor_enabled, auth_valid, credentials, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id = excluded.user_id,
		   provider = excluded.provider,
		   phone = excluded.phone,
		   monitor_enabled = excluded.monitor_enabled,
		   auth_valid = excluded.auth_valid,
		   credentials = excluded.credentials,
		   updated_at = excluded.updated_at`,
		account.ID, account.UserID, account.Provider, account.Phone, account.MonitorEnabled,
		account.AuthValid, creds, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *SQLite) SaveCredentials(ctx context.Context, accountID int64, creds model.Credentials) error {
	data, err := encodeJSON(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	return s.updateAccount(ctx, accountID, "credentials", data)
}

func (s *SQLite) SetAuthValid(ctx context.Context, accountID int64, valid bool) error {
	return s.updateAccount(ctx, accountID, "auth_valid", valid)
}

// updateAccount sets a single column; column is never user input.
func (s *SQLite) updateAccount(ctx context.Context, id int64, column string, value any) error {
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE accounts SET %s = ?, updated_at = ? WHERE id = ?`, column),
		value, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update account %s: %w", column, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) GetSettings(ctx context.Context, userID int64) (model.Settings, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT settings FROM user_settings WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultSettings(), nil
	}
	if err != nil {
		return model.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return model.ParseSettings([]byte(data))
}

func (s *SQLite) SaveSettings(ctx context.Context, userID int64, settings model.Settings) error {
	data, err := encodeJSON(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, settings, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   settings = excluded.settings,
		   updated_at = excluded.updated_at`,
		userID, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (s *SQLite) RecordSnapshot(ctx context.Context, snap *model.FlowSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now()
	}
	snap.CapturedAt = snap.CapturedAt.UTC()

	payload, err := encodeJSON(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	var raw sql.NullString
	if len(snap.Raw) > 0 {
		raw = sql.NullString{String: string(snap.Raw), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_snapshots (id, account_id, total_mb, used_mb, remaining_mb, package_name,
		   usage_percent, is_cached, query_time, payload, raw, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.AccountID, nullable(snap.Total), nullable(snap.Used), nullable(snap.Remaining),
		snap.PackageName, snap.UsagePercent, snap.IsCached, snap.QueryTime, payload, raw, snap.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *SQLite) LatestSnapshot(ctx context.Context, accountID int64) (*model.FlowSnapshot, error) {
	snaps, err := s.ListSnapshots(ctx, accountID, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("snapshot for account %d: %w", accountID, ErrNotFound)
	}
	return &snaps[0], nil
}

func (s *SQLite) ListSnapshots(ctx context.Context, accountID int64, limit int) ([]model.FlowSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload, raw FROM flow_snapshots WHERE account_id = ?
		 ORDER BY captured_at DESC, rowid DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []model.FlowSnapshot
	for rows.Next() {
		var (
			payload string
			raw     sql.NullString
		)
		if err := rows.Scan(&payload, &raw); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		snap, err := decodeSnapshot(payload, raw)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
