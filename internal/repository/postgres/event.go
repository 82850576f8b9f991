package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"banknet/internal/domain"
	"banknet/pkg/errors"
)

type EventRepository struct {
	db *sqlx.DB
}

func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// SaveEvents stores a run's event log in one transaction. Step summaries are
// skipped: their aggregate numbers live in the runs table and the per-bank
// detail is reconstructible from the rest of the log.
func (r *EventRepository) SaveEvents(ctx context.Context, runID string, events []*domain.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO events (
			run_id, seq, type, step, from_bank, to_bank, market_id, amount, reason
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "failed to prepare event insert")
	}
	defer stmt.Close()

	for seq, ev := range events {
		if ev.Type == domain.EventStepSummary {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			runID, seq, ev.Type, ev.Step, ev.FromBank, ev.ToBank, ev.MarketID, ev.Amount, ev.Reason,
		); err != nil {
			return errors.Wrap(err, "failed to insert event")
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit events")
}

// FindByRun returns a run's stored events in log order.
func (r *EventRepository) FindByRun(ctx context.Context, runID string) ([]*domain.Event, error) {
	var events []*domain.Event
	query := `
		SELECT type, step, from_bank, to_bank, market_id, amount, reason
		FROM events WHERE run_id = $1 ORDER BY seq
	`

	err := r.db.SelectContext(ctx, &events, query, runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load events")
	}
	return events, nil
}
