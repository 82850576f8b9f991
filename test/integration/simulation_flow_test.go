//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banknet/internal/handler"
	"banknet/internal/risk"
	"banknet/internal/sim"
	"banknet/internal/stream"
	"banknet/pkg/logger"
	"banknet/pkg/validator"
)

func setupServer(t *testing.T) (*httptest.Server, *stream.Hub) {
	t.Helper()
	log := logger.NewNop()

	hub := stream.NewHub(log)
	go hub.Run()

	manager := sim.NewManager(hub, nil, []sim.Advisor{risk.NewEngine()}, 50*time.Millisecond, log)
	h := handler.NewSessionHandler(manager, validator.New(), nil, log)

	r := mux.NewRouter()
	r.HandleFunc("/ws", hub.HandleWS)
	h.RegisterRoutes(r.PathPrefix("/api/v1").Subrouter())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub
}

func post(t *testing.T, srv *httptest.Server, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func scenarioPayload(steps int) map[string]interface{} {
	return map[string]interface{}{
		"config": map[string]interface{}{
			"steps":              steps,
			"interest_rate":      0.05,
			"repayment_rate":     0.10,
			"market_volatility":  0.10,
			"recovery_rate":      0.40,
			"min_operating_cash": "10",
			"excess_cash_ratio":  0.80,
			"seed":               42,
		},
		"banks": []map[string]interface{}{
			{"id": "ALPHA", "capital": "1000", "target_leverage": 2.0, "risk_factor": 0.3},
			{"id": "BETA", "capital": "800", "target_leverage": 2.5, "risk_factor": 0.6},
			{"id": "GAMMA", "capital": "600", "target_leverage": 1.5, "risk_factor": 0.1},
		},
		"markets": []map[string]interface{}{
			{"id": "EQUITY", "initial_price": "100"},
		},
	}
}

func TestBatchRunFlow(t *testing.T) {
	srv, _ := setupServer(t)

	var sessionID string

	t.Run("Create Session", func(t *testing.T) {
		resp, body := post(t, srv, "/api/v1/sessions", nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		sessionID = body["session_id"].(string)
		require.NotEmpty(t, sessionID)
	})

	t.Run("Initialize", func(t *testing.T) {
		resp, body := post(t, srv, "/api/v1/sessions/"+sessionID+"/init", scenarioPayload(25))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "INITIALIZED", body["state"])
	})

	t.Run("Run To Completion", func(t *testing.T) {
		resp, body := post(t, srv, "/api/v1/sessions/"+sessionID+"/run", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(25), body["steps_executed"])
		assert.Equal(t, sessionID, body["run_id"])
	})

	t.Run("History And Snapshot", func(t *testing.T) {
		resp, body := get(t, srv, "/api/v1/sessions/"+sessionID+"/history")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body["history"].([]interface{}), 25)

		resp, body = get(t, srv, "/api/v1/sessions/"+sessionID+"/snapshot")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(25), body["step"])
	})

	t.Run("Events Paginate", func(t *testing.T) {
		_, body := get(t, srv, "/api/v1/sessions/"+sessionID+"/events")
		events := body["events"].([]interface{})
		require.NotEmpty(t, events)

		next := int(body["next"].(float64))
		_, body = get(t, srv, fmt.Sprintf("/api/v1/sessions/%s/events?offset=%d", sessionID, next))
		assert.Empty(t, body["events"])
	})
}

func TestInteractiveControlFlow(t *testing.T) {
	srv, _ := setupServer(t)

	_, body := post(t, srv, "/api/v1/sessions", nil)
	sessionID := body["session_id"].(string)

	payload := scenarioPayload(100000)
	payload["config"].(map[string]interface{})["step_delay_ms"] = 1
	resp, _ := post(t, srv, "/api/v1/sessions/"+sessionID+"/init", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = post(t, srv, "/api/v1/sessions/"+sessionID+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "RUNNING", body["state"])

	t.Run("Mutation Rejected While Running", func(t *testing.T) {
		resp, _ := post(t, srv, "/api/v1/sessions/"+sessionID+"/command",
			map[string]interface{}{"command": "add_capital", "bank_id": "ALPHA", "amount": "100"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("Pause And Inject Capital", func(t *testing.T) {
		resp, body := post(t, srv, "/api/v1/sessions/"+sessionID+"/command",
			map[string]interface{}{"command": "pause"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "PAUSED", body["state"])

		resp, _ = post(t, srv, "/api/v1/sessions/"+sessionID+"/command",
			map[string]interface{}{"command": "add_capital", "bank_id": "ALPHA", "amount": "100"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Resume And Stop", func(t *testing.T) {
		resp, _ := post(t, srv, "/api/v1/sessions/"+sessionID+"/command",
			map[string]interface{}{"command": "resume"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := post(t, srv, "/api/v1/sessions/"+sessionID+"/command",
			map[string]interface{}{"command": "stop"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "STOPPED", body["state"])
	})

	t.Run("Delete", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/sessions/"+sessionID, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestWebSocketStreamsEventBatches(t *testing.T) {
	srv, _ := setupServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, body := post(t, srv, "/api/v1/sessions", nil)
	sessionID := body["session_id"].(string)
	post(t, srv, "/api/v1/sessions/"+sessionID+"/init", scenarioPayload(5))
	// Give the hub time to register the client before events flow.
	time.Sleep(100 * time.Millisecond)
	post(t, srv, "/api/v1/sessions/"+sessionID+"/run", nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var batch stream.Batch
	require.NoError(t, json.Unmarshal(msg, &batch))
	assert.Equal(t, sessionID, batch.SessionID)
	assert.NotEmpty(t, batch.Events)
}
