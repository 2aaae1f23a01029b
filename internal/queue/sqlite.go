package queue

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

	"promobot/internal/task"
)

//go:embed outbox.sql
var outboxFS embed.FS

// sqliteQueue is a durable outbox. Rows move queued -> sending -> sent,
// or to failed on a dead-lettered ack. FIFO is by rowid; a batch is
// inserted in one transaction so its rowids are contiguous.
type sqliteQueue struct {
	db   *sql.DB
	log  zerolog.Logger
	poll time.Duration
}

func openSQLiteQueue(cfg Config, log zerolog.Logger) (Queue, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("queue sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	schema, err := outboxFS.ReadFile("outbox.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(string(schema)); err != nil {
		_ = db.Close()
		return nil, err
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &sqliteQueue{db: db, log: log, poll: poll}, nil
}

func (q *sqliteQueue) Enqueue(ctx context.Context, b task.Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Format(time.RFC3339Nano)
	for _, t := range b.Tasks {
		raw, err := task.Encode(t)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO outbox(batch_id, recipient, payload, status, attempts, created_at, updated_at)
			 VALUES(?,?,?,?,0,?,?)`,
			b.ID, b.To, string(raw), "queued", now, now,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (q *sqliteQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		d, ok, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.poll):
		}
	}
}

func (q *sqliteQueue) claim(ctx context.Context) (*Delivery, bool, error) {
	now := time.Now().Format(time.RFC3339Nano)
	var (
		id      int64
		payload string
	)
	err := q.db.QueryRowContext(ctx,
		`UPDATE outbox SET status = 'sending', updated_at = ?
		 WHERE id = (SELECT id FROM outbox WHERE status = 'queued' ORDER BY id LIMIT 1)
		 RETURNING id, payload`, now,
	).Scan(&id, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	t, err := task.Decode([]byte(payload))
	if err != nil {
		q.log.Warn().Int64("outbox_id", id).Err(err).Msg("invalid task dead-lettered")
		q.settle(id, err)
		return nil, false, nil
	}
	return &Delivery{Task: t, ack: func(failure error) { q.settle(id, failure) }}, true, nil
}

func (q *sqliteQueue) settle(id int64, failure error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now().Format(time.RFC3339Nano)
	if failure == nil {
		_, err := q.db.ExecContext(ctx,
			`UPDATE outbox SET status = 'sent', updated_at = ? WHERE id = ?`, now, id)
		if err != nil {
			q.log.Error().Int64("outbox_id", id).Err(err).Msg("ack failed")
		}
		return
	}
	_, err := q.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ?
		 WHERE id = ?`, failure.Error(), now, id)
	if err != nil {
		q.log.Error().Int64("outbox_id", id).Err(err).Msg("dead-letter update failed")
	}
}

// RequeueStale resets claims stuck in 'sending' (crashed worker) back
// to 'queued' and prunes old sent rows.
func (q *sqliteQueue) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := q.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'queued', updated_at = ?
		 WHERE status = 'sending' AND updated_at < ?`,
		time.Now().Format(time.RFC3339Nano), cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()

	dayAgo := time.Now().Add(-24 * time.Hour).Format(time.RFC3339Nano)
	_, _ = q.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE status = 'sent' AND updated_at < ?`, dayAgo)

	return int(n), nil
}

func (q *sqliteQueue) Close() error { return q.db.Close() }
