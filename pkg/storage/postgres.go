package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

var pgMigrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id              BIGSERIAL PRIMARY KEY,
		user_id         BIGINT NOT NULL,
		provider        TEXT NOT NULL DEFAULT '',
		phone           TEXT NOT NULL DEFAULT '',
		monitor_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		auth_valid      BOOLEAN NOT NULL DEFAULT TRUE,
		credentials     JSONB NOT NULL DEFAULT '{}',
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);

	CREATE TABLE IF NOT EXISTS user_settings (
		user_id    BIGINT PRIMARY KEY,
		settings   JSONB NOT NULL DEFAULT '{}',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS flow_snapshots (
		id            UUID PRIMARY KEY,
		account_id    BIGINT NOT NULL,
		total_mb      DOUBLE PRECISION,
		used_mb       DOUBLE PRECISION,
		remaining_mb  DOUBLE PRECISION,
		package_name  TEXT NOT NULL DEFAULT '',
		usage_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		is_cached     BOOLEAN NOT NULL DEFAULT FALSE,
		query_time    DOUBLE PRECISION NOT NULL DEFAULT 0,
		payload       TEXT NOT NULL,
		raw           TEXT,
		captured_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_account_time ON flow_snapshots(account_id, captured_at DESC);`,
}

// Postgres implements the Storage interface on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and applies pending migrations.
func NewPostgres(ctx context.Context, databaseURL string, maxConns int32) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var current int
	if err := p.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := current; i < len(pgMigrations); i++ {
		err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, pgMigrations[i]); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, i+1)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (p *Postgres) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan user id: %w", err)
	}
	return ids, nil
}

func (p *Postgres) ListAccounts(ctx context.Context, userID int64, monitoredOnly bool) ([]model.MonitoredAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1`
	if monitoredOnly {
		query += ` AND monitor_enabled`
	}
	query += ` ORDER BY id`

	rows, err := p.pool.Query(ctx, query, userID)
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

func (p *Postgres) GetAccount(ctx context.Context, id int64) (*model.MonitoredAccount, error) {
	a, err := scanAccount(p.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func (p *Postgres) UpsertAccount(ctx context.Context, account *model.MonitoredAccount) error {
	creds, err := encodeJSON(account.Credentials)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	account.UpdatedAt = time.Now().UTC()

	if account.ID == 0 {
		err := p.pool.QueryRow(ctx,
			`INSERT INTO accounts (user_id, provider, phone, monitor_enabled, auth_valid, credentials, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			account.UserID, account.Provider, account.Phone, account.MonitorEnabled,
			account.AuthValid, creds, account.UpdatedAt,
		).Scan(&account.ID)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		return nil
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO accounts (id, user_id, provider, phone, monitor_enabled, auth_valid, credentials, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   user_id = EXCLUDED.user_id,
		   provider = EXCLUDED.provider,
		   phone = EXCLUDED.phone,
		   monitor_enabled = EXCLUDED.monitor_enabled,
		   auth_valid = EXCLUDED.auth_valid,
		   credentials = EXCLUDED.credentials,
		   updated_at = EXCLUDED.updated_at`,
		account.ID, account.UserID, account.Provider, account.Phone, account.MonitorEnabled,
		account.AuthValid, creds, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (p *Postgres) SaveCredentials(ctx context.Context, accountID int64, creds model.Credentials) error {
	data, err := encodeJSON(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	return p.updateAccount(ctx, accountID, "credentials", data)
}

func (p *Postgres) SetAuthValid(ctx context.Context, accountID int64, valid bool) error {
	return p.updateAccount(ctx, accountID, "auth_valid", valid)
}

func (p *Postgres) updateAccount(ctx context.Context, id int64, column string, value any) error {
	tag, err := p.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE accounts SET %s = $1, updated_at = $2 WHERE id = $3`, column),
		value, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update account %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) GetSettings(ctx context.Context, userID int64) (model.Settings, error) {
	var data string
	err := p.pool.QueryRow(ctx, `SELECT settings::text FROM user_settings WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultSettings(), nil
	}
	if err != nil {
		return model.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return model.ParseSettings([]byte(data))
}

func (p *Postgres) SaveSettings(ctx context.Context, userID int64, settings model.Settings) error {
	data, err := encodeJSON(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO user_settings (user_id, settings, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET
		   settings = EXCLUDED.settings,
		   updated_at = EXCLUDED.updated_at`,
		userID, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (p *Postgres) RecordSnapshot(ctx context.Context, snap *model.FlowSnapshot) error {
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

	_, err = p.pool.Exec(ctx,
		`INSERT INTO flow_snapshots (id, account_id, total_mb, used_mb, remaining_mb, package_name,
		   usage_percent, is_cached, query_time, payload, raw, captured_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		snap.ID, snap.AccountID, nullable(snap.Total), nullable(snap.Used), nullable(snap.Remaining),
		snap.PackageName, snap.UsagePercent, snap.IsCached, snap.QueryTime, payload, raw, snap.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (p *Postgres) LatestSnapshot(ctx context.Context, accountID int64) (*model.FlowSnapshot, error) {
	snaps, err := p.ListSnapshots(ctx, accountID, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("snapshot for account %d: %w", accountID, ErrNotFound)
	}
	return &snaps[0], nil
}

func (p *Postgres) ListSnapshots(ctx context.Context, accountID int64, limit int) ([]model.FlowSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.pool.Query(ctx,
		`SELECT payload, raw FROM flow_snapshots WHERE account_id = $1
		 ORDER BY captured_at DESC LIMIT $2`, accountID, limit)
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

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
