package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"banknet/internal/domain"
	"banknet/pkg/errors"
)

type RunRepository struct {
	db *sqlx.DB
}

func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) SaveRun(ctx context.Context, summary *domain.RunSummary) error {
	query := `
		INSERT INTO runs (
			run_id, steps_executed, survivors, defaults, final_equity, cascades, seed, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (run_id) DO UPDATE SET
			steps_executed = EXCLUDED.steps_executed,
			survivors = EXCLUDED.survivors,
			defaults = EXCLUDED.defaults,
			final_equity = EXCLUDED.final_equity,
			cascades = EXCLUDED.cascades,
			completed_at = EXCLUDED.completed_at
	`

	_, err := r.db.ExecContext(ctx, query,
		summary.RunID, summary.StepsExecuted, summary.Survivors, summary.Defaults,
		summary.FinalEquity, summary.Cascades, summary.Seed, time.Now().UTC(),
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return errors.Wrap(err, "failed to save run: "+pqErr.Code.Name())
		}
		return errors.Wrap(err, "failed to save run")
	}
	return nil
}

func (r *RunRepository) FindByID(ctx context.Context, runID string) (*domain.RunSummary, error) {
	var summary domain.RunSummary
	query := `
		SELECT run_id, steps_executed, survivors, defaults, final_equity, cascades, seed
		FROM runs WHERE run_id = $1
	`

	err := r.db.GetContext(ctx, &summary, query, runID)
	if err == sql.ErrNoRows {
		return nil, errors.ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find run")
	}
	return &summary, nil
}

func (r *RunRepository) List(ctx context.Context, limit int) ([]*domain.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []*domain.RunSummary
	query := `
		SELECT run_id, steps_executed, survivors, defaults, final_equity, cascades, seed
		FROM runs ORDER BY completed_at DESC LIMIT $1
	`

	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	return runs, nil
}
