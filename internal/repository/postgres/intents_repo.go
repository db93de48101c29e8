package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kanisahub/giving-backend/internal/models"
	repo "github.com/kanisahub/giving-backend/internal/repository"
)

type intentsRepo struct{ pool *pgxpool.Pool }

const intentCols = `checkout_ref, merchant_request_id, contribution_id, amount, phone, state, created_at, deadline`

func scanIntent(row pgx.Row) (models.PaymentIntent, error) {
	var it models.PaymentIntent
	err := row.Scan(&it.CheckoutRef, &it.MerchantRequestID, &it.ContributionID,
		&it.Amount, &it.Phone, &it.State, &it.CreatedAt, &it.Deadline)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PaymentIntent{}, repo.ErrNotFound
	}
	return it, err
}

func (r *intentsRepo) Create(ctx context.Context, it models.PaymentIntent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payment_intents (checkout_ref, merchant_request_id, contribution_id, amount, phone, state, deadline)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (checkout_ref) DO NOTHING`,
		it.CheckoutRef, it.MerchantRequestID, it.ContributionID, it.Amount, it.Phone, it.State, it.Deadline,
	)
	return err
}

func (r *intentsRepo) Get(ctx context.Context, checkoutRef string) (models.PaymentIntent, error) {
	return scanIntent(r.pool.QueryRow(ctx,
		`SELECT `+intentCols+` FROM payment_intents WHERE checkout_ref=$1`, checkoutRef))
}

func (r *intentsRepo) MarkAwaiting(ctx context.Context, checkoutRef string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE payment_intents SET state=$2 WHERE checkout_ref=$1 AND state=$3`,
		checkoutRef, models.IntentAwaitingCallback, models.IntentInitiated,
	)
	return err
}

// Finalize is the per-intent single-writer point: a conditional UPDATE so
// that of two racing transitions (duplicate callback, callback vs sweeper)
// exactly one observes RowsAffected==1.
func (r *intentsRepo) Finalize(ctx context.Context, checkoutRef string, to models.IntentState) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payment_intents SET state=$2
		  WHERE checkout_ref=$1 AND state IN ($3,$4)`,
		checkoutRef, to, models.IntentInitiated, models.IntentAwaitingCallback,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *intentsRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+intentCols+` FROM payment_intents
		  WHERE state IN ($1,$2) AND deadline < $3
		  ORDER BY deadline
		  LIMIT $4`,
		models.IntentInitiated, models.IntentAwaitingCallback, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIntents(rows)
}

// ListStuck finds the crash window between an intent transition and the
// contribution write: the intent is terminal but its contribution never
// left pending.
func (r *intentsRepo) ListStuck(ctx context.Context, limit int) ([]models.PaymentIntent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT i.checkout_ref, i.merchant_request_id, i.contribution_id, i.amount, i.phone, i.state, i.created_at, i.deadline
		   FROM payment_intents i
		   JOIN contributions c ON c.id = i.contribution_id
		  WHERE i.state IN ($1,$2) AND c.status = $3
		  LIMIT $4`,
		models.IntentFailed, models.IntentExpired, models.ContributionPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIntents(rows)
}

func collectIntents(rows pgx.Rows) ([]models.PaymentIntent, error) {
	var out []models.PaymentIntent
	for rows.Next() {
		it, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
