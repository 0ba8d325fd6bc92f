package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"cv-optimizer/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteLedger is the single-node durable ledger. It uses one connection,
// which serializes writers and avoids SQLITE_BUSY.
type SQLiteLedger struct {
	db *sql.DB
}

func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func NewSQLiteLedger(db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

func (l *SQLiteLedger) Balance(ctx context.Context, owner string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COALESCE((SELECT credits FROM user_credits WHERE owner_key = ?), 0)`, owner).Scan(&n)
	return n, err
}

func (l *SQLiteLedger) Debit(ctx context.Context, owner, reference string) (bool, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE user_credits SET credits = credits - 1, updated_at = ? WHERE owner_key = ? AND credits > 0`,
		time.Now().UTC(), owner)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO credit_transactions (owner_key, amount, reason, reference, created_at) VALUES (?, -1, ?, ?, ?)`,
		owner, domain.ReasonRedeem, reference, time.Now().UTC()); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (l *SQLiteLedger) Credit(ctx context.Context, owner string, amount int, reason, reference string) (int, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `INSERT INTO user_credits (owner_key, credits, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (owner_key) DO UPDATE SET credits = credits + excluded.credits, updated_at = excluded.updated_at`,
		owner, amount, now); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO credit_transactions (owner_key, amount, reason, reference, created_at) VALUES (?, ?, ?, ?, ?)`,
		owner, amount, reason, reference, now); err != nil {
		return 0, err
	}
	var balance int
	if err := tx.QueryRowContext(ctx, `SELECT credits FROM user_credits WHERE owner_key = ?`, owner).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, tx.Commit()
}

func (l *SQLiteLedger) HasProcessed(ctx context.Context, key string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM processed_webhooks WHERE event_key = ?`, key).Scan(&n)
	return n > 0, err
}

func (l *SQLiteLedger) MarkProcessed(ctx context.Context, key string) error {
	_, err := l.db.ExecContext(ctx, `INSERT INTO processed_webhooks (event_key, processed_at) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		key, time.Now().UTC())
	return err
}

func (l *SQLiteLedger) HasUsed(ctx context.Context, owner string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM free_pass_users WHERE owner_key = ?`, owner).Scan(&n)
	return n > 0, err
}

func (l *SQLiteLedger) Claim(ctx context.Context, c domain.FreePassClaim) (bool, error) {
	res, err := l.db.ExecContext(ctx, `INSERT INTO free_pass_users (email, owner_key, first_name, last_name, job_id, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		strings.ToLower(c.Email), nullable(c.OwnerKey), c.FirstName, c.LastName, c.JobID, c.ClaimedAt.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (l *SQLiteLedger) Release(ctx context.Context, email string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM free_pass_users WHERE email = ?`, strings.ToLower(email))
	return err
}

func (l *SQLiteLedger) List(ctx context.Context) ([]domain.FreePassClaim, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT email, COALESCE(owner_key, ''), first_name, last_name, job_id, claimed_at FROM free_pass_users ORDER BY claimed_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FreePassClaim
	for rows.Next() {
		var c domain.FreePassClaim
		if err := rows.Scan(&c.Email, &c.OwnerKey, &c.FirstName, &c.LastName, &c.JobID, &c.ClaimedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
