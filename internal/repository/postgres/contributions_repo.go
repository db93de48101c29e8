package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kanisahub/giving-backend/internal/models"
	repo "github.com/kanisahub/giving-backend/internal/repository"
)

type contributionsRepo struct{ pool *pgxpool.Pool }

const contributionCols = `id, campaign_id, pledge_id, amount, method, external_ref, receipt_no,
contributor_name, contributor_email, contributor_phone, is_anonymous, status, created_at, verified_at`

func scanContribution(row pgx.Row) (models.Contribution, error) {
	var c models.Contribution
	err := row.Scan(&c.ID, &c.CampaignID, &c.PledgeID, &c.Amount, &c.Method, &c.ExternalRef, &c.ReceiptNo,
		&c.ContributorName, &c.ContributorEmail, &c.ContributorPhone, &c.IsAnonymous, &c.Status, &c.CreatedAt, &c.VerifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Contribution{}, repo.ErrNotFound
	}
	return c, err
}

func (r *contributionsRepo) Create(ctx context.Context, c models.Contribution) (models.Contribution, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO contributions
		   (id, campaign_id, pledge_id, amount, method, external_ref,
		    contributor_name, contributor_email, contributor_phone, is_anonymous, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 RETURNING `+contributionCols,
		c.ID, c.CampaignID, c.PledgeID, c.Amount, c.Method, c.ExternalRef,
		c.ContributorName, c.ContributorEmail, c.ContributorPhone, c.IsAnonymous, c.Status,
	)
	return scanContribution(row)
}

func (r *contributionsRepo) GetByID(ctx context.Context, id string) (models.Contribution, error) {
	return scanContribution(r.pool.QueryRow(ctx,
		`SELECT `+contributionCols+` FROM contributions WHERE id=$1`, id))
}

func (r *contributionsRepo) ListByCampaign(ctx context.Context, campaignID string, limit, offset int) ([]models.Contribution, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+contributionCols+` FROM contributions
		  WHERE campaign_id=$1
		  ORDER BY created_at DESC
		  LIMIT $2 OFFSET $3`,
		campaignID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetStatus only moves pending rows. Every contribution transition
// originates from pending, so this can never clobber a verified row.
func (r *contributionsRepo) SetStatus(ctx context.Context, id string, status models.ContributionStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE contributions SET status=$2 WHERE id=$1 AND status=$3`,
		id, status, models.ContributionPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkVerified only moves pending rows: verified contributions are
// immutable and terminal rows stay terminal.
func (r *contributionsRepo) MarkVerified(ctx context.Context, id string, receiptNo *string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE contributions SET status=$2, receipt_no=COALESCE($3, receipt_no), verified_at=$4
		  WHERE id=$1 AND status=$5`,
		id, models.ContributionVerified, receiptNo, at, models.ContributionPending,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *contributionsRepo) SumVerifiedByCampaign(ctx context.Context, campaignID string) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount),0) FROM contributions WHERE campaign_id=$1 AND status=$2`,
		campaignID, models.ContributionVerified,
	).Scan(&sum)
	return sum, err
}

func (r *contributionsRepo) SumVerifiedByPledge(ctx context.Context, pledgeID string) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount),0) FROM contributions WHERE pledge_id=$1 AND status=$2`,
		pledgeID, models.ContributionVerified,
	).Scan(&sum)
	return sum, err
}
