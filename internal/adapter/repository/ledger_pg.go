package repository

import (
	"context"
	"strings"
	"time"

	"cv-optimizer/internal/domain"

	"github.com/jackc/pgx/v4/pgxpool"
)

// PostgresLedger implements the credit, idempotency and free-pass stores
// on the tables created by migration.RunMigrations.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) Balance(ctx context.Context, owner string) (int, error) {
	var n int
	err := l.pool.QueryRow(ctx, `SELECT COALESCE((SELECT credits FROM user_credits WHERE owner_key = $1), 0)`, owner).Scan(&n)
	return n, err
}

func (l *PostgresLedger) Debit(ctx context.Context, owner, reference string) (bool, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE user_credits SET credits = credits - 1, updated_at = now() WHERE owner_key = $1 AND credits > 0`, owner)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `INSERT INTO credit_transactions (owner_key, amount, reason, reference) VALUES ($1, -1, $2, $3)`,
		owner, domain.ReasonRedeem, reference); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (l *PostgresLedger) Credit(ctx context.Context, owner string, amount int, reason, reference string) (int, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var balance int
	err = tx.QueryRow(ctx, `INSERT INTO user_credits (owner_key, credits, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (owner_key) DO UPDATE SET credits = user_credits.credits + EXCLUDED.credits, updated_at = now()
		RETURNING credits`, owner, amount).Scan(&balance)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO credit_transactions (owner_key, amount, reason, reference) VALUES ($1, $2, $3, $4)`,
		owner, amount, reason, reference); err != nil {
		return 0, err
	}
	return balance, tx.Commit(ctx)
}

func (l *PostgresLedger) HasProcessed(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := l.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_webhooks WHERE event_key = $1)`, key).Scan(&ok)
	return ok, err
}

func (l *PostgresLedger) MarkProcessed(ctx context.Context, key string) error {
	_, err := l.pool.Exec(ctx, `INSERT INTO processed_webhooks (event_key) VALUES ($1) ON CONFLICT DO NOTHING`, key)
	return err
}

func (l *PostgresLedger) HasUsed(ctx context.Context, owner string) (bool, error) {
	var ok bool
	err := l.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM free_pass_users WHERE owner_key = $1)`, owner).Scan(&ok)
	return ok, err
}

func (l *PostgresLedger) Claim(ctx context.Context, c domain.FreePassClaim) (bool, error) {
	tag, err := l.pool.Exec(ctx, `INSERT INTO free_pass_users (email, owner_key, first_name, last_name, job_id, claimed_at)
		VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT DO NOTHING`,
		strings.ToLower(c.Email), nullable(c.OwnerKey), c.FirstName, c.LastName, c.JobID, c.ClaimedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (l *PostgresLedger) Release(ctx context.Context, email string) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM free_pass_users WHERE email = $1`, strings.ToLower(email))
	return err
}

func (l *PostgresLedger) List(ctx context.Context) ([]domain.FreePassClaim, error) {
	rows, err := l.pool.Query(ctx, `SELECT email, COALESCE(owner_key, ''), first_name, last_name, job_id, claimed_at FROM free_pass_users ORDER BY claimed_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FreePassClaim
	for rows.Next() {
		var c domain.FreePassClaim
		var at time.Time
		if err := rows.Scan(&c.Email, &c.OwnerKey, &c.FirstName, &c.LastName, &c.JobID, &at); err != nil {
			return nil, err
		}
		c.ClaimedAt = at
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
