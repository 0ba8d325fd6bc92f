package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cv-optimizer/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// JobsRepo stores jobs in postgres. The full record lives in a JSONB
// payload; status, owner and version are columns for querying and for the
// version-guarded upsert.
type JobsRepo struct {
	pool *pgxpool.Pool
}

func NewJobsRepo(pool *pgxpool.Pool) *JobsRepo {
	return &JobsRepo{pool: pool}
}

func (r *JobsRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `SELECT payload FROM refinement_jobs WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	var j domain.Job
	if err := json.Unmarshal(payload, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

// Put upserts j only when its version is newer than the stored row.
func (r *JobsRepo) Put(ctx context.Context, j *domain.Job) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `INSERT INTO refinement_jobs (id, status, owner_key, version, payload, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, owner_key = EXCLUDED.owner_key, version = EXCLUDED.version, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
		WHERE refinement_jobs.version < EXCLUDED.version`,
		j.ID, string(j.Status), j.OwnerKey, j.Version, payload, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleWrite
	}
	return nil
}
