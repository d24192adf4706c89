package http

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"behavior-server/pkg/analyzer"
	"behavior-server/pkg/orchestrator"
	"behavior-server/pkg/storage"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store, err := storage.NewEncryptedStore("test-key", storage.NewMemoryBackend(), logger)
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Config{}, logger)
	srv := NewServer(logger, Config{Host: "127.0.0.1", Port: 0}, orch, store, nil)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return srv, ts
}

func pcmChunkB64() string {
	n := analyzer.DefaultSampleRate
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(0.3 * 32767 * math.Sin(2*math.Pi*220*float64(i)/float64(n)))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return base64.StdEncoding.EncodeToString(data)
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	var body map[string]interface{}
	status := getJSON(t, ts.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, 0.0, body["active_sessions"])
}

func TestSessionEndpoints(t *testing.T) {
	srv, ts := newTestServer(t)
	require.NoError(t, srv.orch.CreateSession("s1", "u1", ""))

	var listing struct {
		Sessions []orchestrator.SessionInfo `json:"sessions"`
		Count    int                        `json:"count"`
	}
	status := getJSON(t, ts.URL+"/sessions", &listing)
	assert.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, "s1", listing.Sessions[0].SessionID)

	// Record one measurement so a summary exists.
	pcm, err := base64.StdEncoding.DecodeString(pcmChunkB64())
	require.NoError(t, err)
	_, err = srv.orch.ProcessAudioMeasurement("s1", pcm)
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/sessions/s1/summary", "application/json", nil)
	require.NoError(t, err)
	var summary orchestrator.SessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "s1", summary.SessionID)
	assert.Equal(t, 1, summary.TotalAudioChunks)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/s1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, srv.orch.ActiveSessions())

	// The summary survives teardown through the encrypted store.
	resp, err = http.Post(ts.URL+"/sessions/s1/summary", "application/json", nil)
	require.NoError(t, err)
	var stored orchestrator.SessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stored))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "s1", stored.SessionID)

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/sessions/unknown", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSummary_UnknownSession(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/sessions/ghost/summary", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnalyzeWebSocketProtocol(t *testing.T) {
	srv, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/analyze"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readMsg := func() map[string]interface{} {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":       "start",
		"session_id": "ws-1",
		"user_id":    "u1",
	}))
	started := readMsg()
	assert.Equal(t, "session_started", started["type"])
	assert.Equal(t, "ws-1", started["session_id"])
	assert.Equal(t, 1, srv.orch.ActiveSessions())

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "audio_chunk",
		"data": pcmChunkB64(),
	}))

	metrics := readMsg()
	require.Equal(t, "metrics", metrics["type"])
	data := metrics["data"].(map[string]interface{})
	confidence := data["confidence"].(map[string]interface{})
	assert.Greater(t, confidence["overall"].(float64), 0.0)

	hm := readMsg()
	require.Equal(t, "heatmap", hm["type"])
	hmData := hm["data"].(map[string]interface{})
	assert.NotNil(t, hmData["grid"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "stop"}))
	final := readMsg()
	assert.Equal(t, "session_summary", final["type"])
	assert.Equal(t, 0, srv.orch.ActiveSessions())
}

func TestAnalyzeWebSocket_Errors(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/analyze"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readMsg := func() map[string]interface{} {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	// Measurements before start are rejected.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "audio_chunk", "data": "AAAA"}))
	assert.Equal(t, "error", readMsg()["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "nonsense"}))
	msg := readMsg()
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["message"], "Unknown message type")
}

func TestAnalyzeWebSocket_DisconnectEndsSession(t *testing.T) {
	srv, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/analyze"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":       "start",
		"session_id": "ws-drop",
		"user_id":    "u1",
	}))
	var started map[string]interface{}
	require.NoError(t, conn.ReadJSON(&started))
	require.Equal(t, 1, srv.orch.ActiveSessions())

	conn.Close()

	assert.Eventually(t, func() bool {
		return srv.orch.ActiveSessions() == 0
	}, time.Second, 10*time.Millisecond, "abrupt disconnect must tear the session down")
}
