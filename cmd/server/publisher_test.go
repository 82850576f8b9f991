package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banknet/internal/domain"
	"banknet/internal/handler"
	"banknet/pkg/logger"
)

type stubHub struct {
	mu      sync.Mutex
	batches int
}

func (h *stubHub) Publish(sessionID string, events []*domain.Event) {
	h.mu.Lock()
	h.batches++
	h.mu.Unlock()
}

func (h *stubHub) batchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.batches
}

type slowCache struct {
	mu    sync.Mutex
	keys  []string
	delay time.Duration
}

func (c *slowCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	c.keys = append(c.keys, key)
	c.mu.Unlock()
	return nil
}

func (c *slowCache) keyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

func summaryBatch() []*domain.Event {
	return []*domain.Event{
		{Type: domain.EventHold, Step: 0, FromBank: "A"},
		{
			Type:   domain.EventStepSummary,
			Step:   1,
			Amount: decimal.NewFromInt(1000),
			Summary: &domain.StepSummary{
				Step:        1,
				TotalEquity: decimal.NewFromInt(1000),
			},
		},
	}
}

func TestPublishDoesNotBlockOnSlowCache(t *testing.T) {
	hub := &stubHub{}
	cache := &slowCache{delay: 50 * time.Millisecond}
	p := newCachingPublisher(hub, cache, logger.NewNop())

	start := time.Now()
	for i := 0; i < 10; i++ {
		p.Publish("s", summaryBatch())
	}
	assert.Less(t, time.Since(start), 25*time.Millisecond,
		"publishing must not wait for cache writes")
	assert.Equal(t, 10, hub.batchCount())
}

func TestSummaryEventuallyCached(t *testing.T) {
	hub := &stubHub{}
	cache := &slowCache{}
	p := newCachingPublisher(hub, cache, logger.NewNop())

	p.Publish("session-1", summaryBatch())

	require.Eventually(t, func() bool {
		return cache.keyCount() == 1
	}, time.Second, time.Millisecond)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Equal(t, handler.SnapshotKey("session-1"), cache.keys[0])
}

func TestNilCacheOnlyForwardsToHub(t *testing.T) {
	hub := &stubHub{}
	p := newCachingPublisher(hub, nil, logger.NewNop())

	p.Publish("s", summaryBatch())
	assert.Equal(t, 1, hub.batchCount())
}
