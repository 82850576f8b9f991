package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"banknet/internal/domain"
)

// RunArchive bundles the run and event repositories behind the archive
// interface the simulation sessions persist through.
type RunArchive struct {
	runs   *RunRepository
	events *EventRepository
}

func NewRunArchive(db *sqlx.DB) *RunArchive {
	return &RunArchive{
		runs:   NewRunRepository(db),
		events: NewEventRepository(db),
	}
}

func (a *RunArchive) SaveRun(ctx context.Context, summary *domain.RunSummary) error {
	return a.runs.SaveRun(ctx, summary)
}

func (a *RunArchive) SaveEvents(ctx context.Context, runID string, events []*domain.Event) error {
	return a.events.SaveEvents(ctx, runID, events)
}
