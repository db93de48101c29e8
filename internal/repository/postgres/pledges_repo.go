package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kanisahub/giving-backend/internal/models"
	repo "github.com/kanisahub/giving-backend/internal/repository"
)

type pledgesRepo struct{ pool *pgxpool.Pool }

const pledgeCols = `id, campaign_id, contributor_id, contributor_name, pledged_amount, paid_amount, status, created_at, updated_at`

func scanPledge(row pgx.Row) (models.Pledge, error) {
	var p models.Pledge
	err := row.Scan(&p.ID, &p.CampaignID, &p.ContributorID, &p.ContributorName,
		&p.PledgedAmount, &p.PaidAmount, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Pledge{}, repo.ErrNotFound
	}
	return p, err
}

func (r *pledgesRepo) Create(ctx context.Context, p models.Pledge) (models.Pledge, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO pledges (id, campaign_id, contributor_id, contributor_name, pledged_amount, status)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 RETURNING `+pledgeCols,
		p.ID, p.CampaignID, p.ContributorID, p.ContributorName, p.PledgedAmount, models.PledgePending,
	)
	return scanPledge(row)
}

func (r *pledgesRepo) GetByID(ctx context.Context, id string) (models.Pledge, error) {
	return scanPledge(r.pool.QueryRow(ctx, `SELECT `+pledgeCols+` FROM pledges WHERE id=$1`, id))
}

func (r *pledgesRepo) ListByCampaign(ctx context.Context, campaignID string, limit, offset int) ([]models.Pledge, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+pledgeCols+` FROM pledges
		  WHERE campaign_id=$1
		  ORDER BY created_at DESC
		  LIMIT $2 OFFSET $3`,
		campaignID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Pledge
	for rows.Next() {
		p, err := scanPledge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *pledgesRepo) ListActiveIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM pledges WHERE status <> $1`, models.PledgeCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SetDerived overwrites the derived fields, except over a committed
// cancel: a recompute whose read predates a staff cancellation must not
// revive the pledge. Writes that themselves carry cancelled pass through.
func (r *pledgesRepo) SetDerived(ctx context.Context, id string, paid int64, status models.PledgeStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE pledges SET paid_amount=$2, status=$3, updated_at=now()
		  WHERE id=$1 AND (status <> $4 OR $3 = $4)`,
		id, paid, status, models.PledgeCancelled,
	)
	return err
}

func (r *pledgesRepo) Cancel(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE pledges SET status=$2, updated_at=now() WHERE id=$1 AND status <> $3`,
		id, models.PledgeCancelled, models.PledgeCompleted,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}
