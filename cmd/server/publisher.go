package main

import (
	"context"
	"time"

	"banknet/internal/domain"
	"banknet/internal/handler"
	"banknet/internal/sim"
	"banknet/pkg/logger"
)

type summaryCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

type cachedSummary struct {
	sessionID string
	summary   *domain.StepSummary
}

// cachingPublisher fans event batches out to the websocket hub and keeps the
// latest step summary in the snapshot cache so GET /snapshot can be served
// without touching the session. Cache writes happen on a separate goroutine:
// Publish is called from inside the step loop and must never wait on Redis.
type cachingPublisher struct {
	hub     sim.Publisher
	cache   summaryCache
	log     logger.Logger
	pending chan cachedSummary
}

func newCachingPublisher(hub sim.Publisher, cache summaryCache, log logger.Logger) *cachingPublisher {
	p := &cachingPublisher{
		hub:     hub,
		cache:   cache,
		log:     log,
		pending: make(chan cachedSummary, 64),
	}
	if cache != nil {
		go p.flush()
	}
	return p
}

func (p *cachingPublisher) Publish(sessionID string, events []*domain.Event) {
	p.hub.Publish(sessionID, events)

	if p.cache == nil {
		return
	}
	for _, ev := range events {
		if ev.Type != domain.EventStepSummary || ev.Summary == nil {
			continue
		}
		select {
		case p.pending <- cachedSummary{sessionID: sessionID, summary: ev.Summary}:
		default:
			// The cache is best effort; a full queue must not stall a step.
		}
	}
}

func (p *cachingPublisher) flush() {
	for item := range p.pending {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		err := p.cache.Set(ctx, handler.SnapshotKey(item.sessionID), item.summary, time.Hour)
		cancel()
		if err != nil {
			p.log.Warn("failed to cache step summary", map[string]interface{}{
				"session": item.sessionID,
				"error":   err.Error(),
			})
		}
	}
}
