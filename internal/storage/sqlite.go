package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

func openSQLite(cfg Config, log zerolog.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers. A single
	// pooled connection also makes each transaction the exclusive
	// section the admission contract needs.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetRecipient(ctx context.Context, id string) (Recipient, error) {
	var (
		r        Recipient
		created  string
		updated  string
		redeemed sql.NullString
		state    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT identifier, display_name, state, created_at, updated_at, redeemed_at
		 FROM recipients WHERE identifier = ?`, id,
	).Scan(&r.Identifier, &r.DisplayName, &state, &created, &updated, &redeemed)
	if errors.Is(err, sql.ErrNoRows) {
		return Recipient{}, ErrNotFound
	}
	if err != nil {
		return Recipient{}, err
	}
	r.State = State(state)
	if !r.State.Valid() {
		return Recipient{}, fmt.Errorf("%w: %q", ErrUnknownState, state)
	}
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	if redeemed.Valid {
		t := parseTime(redeemed.String)
		r.RedeemedAt = &t
	}
	return r, nil
}

func (s *sqliteStore) EnsureRecipient(ctx context.Context, id string) (Recipient, error) {
	now := time.Now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(identifier, state, created_at, updated_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(identifier) DO NOTHING`,
		id, string(StateStart), now, now,
	)
	if err != nil {
		return Recipient{}, err
	}
	return s.GetRecipient(ctx, id)
}

func (s *sqliteStore) UpdateRecipient(ctx context.Context, id string, state State, displayName string) error {
	if !state.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownState, state)
	}
	now := time.Now().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipients
		 SET state = ?,
		     display_name = CASE WHEN ? = '' THEN display_name ELSE ? END,
		     updated_at = ?
		 WHERE identifier = ?`,
		string(state), strings.TrimSpace(displayName), strings.TrimSpace(displayName), now, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TryAdmit runs the whole admission decision in one transaction. The
// delivered insert settles idempotence first; the guarded quota update
// settles the ceiling. A ceiling miss rolls the insert back, which is
// what makes quota exhaustion retryable for the same recipient.
func (s *sqliteStore) TryAdmit(ctx context.Context, id string) (AdmitResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return QuotaExhausted, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO delivered(identifier, granted_at) VALUES(?, ?)`, id, now)
	if err != nil {
		return QuotaExhausted, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return AlreadyDelivered, nil
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE quota SET sent_count = sent_count + 1
		 WHERE id = 1 AND sent_count < max_allowed`)
	if err != nil {
		return QuotaExhausted, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return QuotaExhausted, nil
	}

	if err := tx.Commit(); err != nil {
		return QuotaExhausted, err
	}
	return Admitted, nil
}

func (s *sqliteStore) Quota(ctx context.Context) (Quota, error) {
	var q Quota
	err := s.db.QueryRowContext(ctx,
		`SELECT max_allowed, sent_count FROM quota WHERE id = 1`).Scan(&q.MaxAllowed, &q.SentCount)
	return q, err
}

func (s *sqliteStore) SetMaxAllowed(ctx context.Context, v int64) error {
	if v < 0 {
		return ErrNegativeMax
	}
	_, err := s.db.ExecContext(ctx, `UPDATE quota SET max_allowed = ? WHERE id = 1`, v)
	return err
}

func (s *sqliteStore) Delivered(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM delivered WHERE identifier = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) Redeem(ctx context.Context, id string) (RedeemResult, error) {
	rec, err := s.GetRecipient(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return RedeemNotFound, nil
	}
	if err != nil {
		return RedeemNotFound, err
	}
	if rec.State != StateCompleted {
		return RedeemNotEligible, nil
	}
	now := time.Now().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET redeemed_at = ?, updated_at = ?
		 WHERE identifier = ? AND redeemed_at IS NULL`, now, now, id)
	if err != nil {
		return RedeemNotFound, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return RedeemAlreadyUsed, nil
	}
	return Redeemed, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
