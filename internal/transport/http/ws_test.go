package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return data
}

func TestLiveEndpoint_BlankVehicleIDRejectedBeforeUpgrade(t *testing.T) {
	handler := newTestHandler(t)

	// A whitespace-only id passes routing but fails the handler's guard
	// before any upgrade handshake happens.
	req := httptest.NewRequest(http.MethodGet, "/v1/vehicles/%20/live", nil)
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Header().Get("Upgrade"))
}

func TestLiveEndpoint_SubscribeAndReceiveUpdates(t *testing.T) {
	handler := newTestHandler(t)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/vehicles/truck-alpha/live"
	header := http.Header{"X-API-Key": []string{"test-key"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	var ack struct {
		Type      string `json:"type"`
		VehicleID string `json:"vehicle_id"`
		ServerMS  int64  `json:"server_time_ms"`
	}
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &ack))
	assert.Equal(t, "connected", ack.Type)
	assert.Equal(t, "truck-alpha", ack.VehicleID)
	assert.NotZero(t, ack.ServerMS)

	ingestReq, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/telemetry",
		ingestBody(t, "truck-alpha", 51.5, -0.12))
	require.NoError(t, err)
	ingestReq.Header.Set("X-API-Key", "test-key")
	ingestResp, err := srv.Client().Do(ingestReq)
	require.NoError(t, err)
	defer ingestResp.Body.Close()
	require.Equal(t, http.StatusAccepted, ingestResp.StatusCode)

	var update struct {
		Type      string `json:"type"`
		VehicleID string `json:"vehicle_id"`
		Point     struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"point"`
	}
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &update))
	assert.Equal(t, "position", update.Type)
	assert.Equal(t, "truck-alpha", update.VehicleID)
	assert.Equal(t, 51.5, update.Point.Latitude)
	assert.Equal(t, -0.12, update.Point.Longitude)
}
