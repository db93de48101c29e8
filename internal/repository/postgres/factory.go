package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	repo "github.com/kanisahub/giving-backend/internal/repository"
)

type Repositories struct {
	Pledges       repo.Pledges
	Contributions repo.Contributions
	Intents       repo.Intents
	AuditLogs     repo.AuditLogs
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Pledges:       &pledgesRepo{pool},
		Contributions: &contributionsRepo{pool},
		Intents:       &intentsRepo{pool},
		AuditLogs:     &auditLogsRepo{pool},
	}
}
