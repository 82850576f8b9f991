package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banknet/internal/domain"
	"banknet/pkg/logger"
)

func TestHubBroadcastsBatches(t *testing.T) {
	hub := NewHub(logger.NewNop())
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the register message time to land before broadcasting.
	time.Sleep(50 * time.Millisecond)

	events := []*domain.Event{{
		Type:     domain.EventIncreaseLending,
		Step:     3,
		FromBank: "A",
		ToBank:   "B",
		Amount:   decimal.NewFromInt(50),
	}}
	hub.Publish("session-1", events)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var batch Batch
	require.NoError(t, json.Unmarshal(payload, &batch))
	assert.Equal(t, "session-1", batch.SessionID)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, domain.EventIncreaseLending, batch.Events[0].Type)
	assert.Equal(t, 3, batch.Events[0].Step)
	assert.True(t, batch.Events[0].Amount.Equal(decimal.NewFromInt(50)))
}

func TestPublishWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewHub(logger.NewNop())
	// No Run loop: the buffered channel absorbs a burst, then drops.
	for i := 0; i < 1000; i++ {
		hub.Publish("s", []*domain.Event{{Type: domain.EventHold, Step: i}})
	}
}
