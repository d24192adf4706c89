package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"behavior-server/pkg/fusion"
	"behavior-server/pkg/metrics"
	"behavior-server/pkg/orchestrator"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from arbitrary origins.
		return true
	},
}

// wsRequest is the inbound client message. Payload fields are base64
// encoded; "video_frame" and "audio_chunk" use Data, "combined" uses
// Video and Audio.
type wsRequest struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	GTOSessionID string `json:"gto_session_id,omitempty"`
	Data         string `json:"data,omitempty"`
	Video        string `json:"video,omitempty"`
	Audio        string `json:"audio,omitempty"`
}

type wsResponse struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// wsConn wraps the connection with a write lock; gorilla/websocket
// allows only one concurrent writer.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// handleAnalyzeWS runs the real-time analysis protocol for one client.
// One connection drives at most one session at a time; the session is
// torn down when the client disconnects without sending "stop".
func (s *Server) handleAnalyzeWS(w http.ResponseWriter, r *http.Request) {
	raw, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warning("Failed to upgrade WebSocket connection")
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	metrics.WSClientConnected(1)
	defer metrics.WSClientConnected(-1)

	logger := s.logger.WithField("remote_addr", r.RemoteAddr)
	logger.Info("Analysis WebSocket client connected")

	sessionID := ""
	seq := 0
	defer func() {
		if sessionID != "" {
			s.finishSession(context.Background(), sessionID, nil)
		}
	}()

	for {
		msgType, payload, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Debug("WebSocket read error")
			}
			return
		}

		var msg wsRequest
		if jsonErr := decodeWSRequest(payload, &msg); jsonErr != nil {
			// Raw binary frames are treated as unencoded video.
			if msgType == websocket.BinaryMessage && sessionID != "" {
				snapshot, procErr := s.orch.ProcessVideoMeasurement(sessionID, payload)
				if procErr != nil {
					s.sendError(conn, procErr.Error())
					continue
				}
				s.emitSnapshot(r.Context(), conn, sessionID, &seq, snapshot)
				continue
			}
			s.sendError(conn, "invalid message")
			continue
		}

		switch msg.Type {
		case "start":
			if sessionID != "" {
				s.sendError(conn, "session already active on this connection")
				continue
			}
			id := msg.SessionID
			if id == "" {
				id = uuid.New().String()
			}
			userID := msg.UserID
			if userID == "" {
				userID = "anonymous"
			}
			if err := s.orch.CreateSession(id, userID, msg.GTOSessionID); err != nil {
				s.sendError(conn, err.Error())
				continue
			}
			sessionID = id
			seq = 0
			logger.WithFields(logrus.Fields{
				"session_id": id,
				"user_id":    userID,
			}).Info("WebSocket session started")
			conn.writeJSON(wsResponse{
				Type:      "session_started",
				SessionID: id,
				Message:   "Behavior analysis active",
			})

		case "video_frame":
			s.processMeasurement(r.Context(), conn, sessionID, &seq, msg.Data, "")

		case "audio_chunk":
			s.processMeasurement(r.Context(), conn, sessionID, &seq, "", msg.Data)

		case "combined":
			s.processMeasurement(r.Context(), conn, sessionID, &seq, msg.Video, msg.Audio)

		case "stop":
			if sessionID == "" {
				s.sendError(conn, "no active session")
				continue
			}
			s.finishSession(r.Context(), sessionID, conn)
			logger.WithField("session_id", sessionID).Info("WebSocket session ended")
			sessionID = ""

		default:
			s.sendError(conn, "Unknown message type: "+msg.Type)
		}
	}
}

// processMeasurement decodes the base64 payloads and runs one pipeline
// pass. Empty payload strings contribute no modality.
func (s *Server) processMeasurement(ctx context.Context, conn *wsConn, sessionID string, seq *int, videoB64, audioB64 string) {
	if sessionID == "" {
		s.sendError(conn, "no active session, send start first")
		return
	}

	video, err := decodeB64(videoB64)
	if err != nil {
		s.sendError(conn, "invalid video payload")
		return
	}
	audio, err := decodeB64(audioB64)
	if err != nil {
		s.sendError(conn, "invalid audio payload")
		return
	}

	snapshot, err := s.orch.ProcessCombinedMeasurement(sessionID, video, audio)
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	s.emitSnapshot(ctx, conn, sessionID, seq, snapshot)
}

// emitSnapshot sends the metrics, heatmap and alert messages for one
// snapshot, then persists and publishes it best-effort.
func (s *Server) emitSnapshot(ctx context.Context, conn *wsConn, sessionID string, seq *int, snapshot *fusion.BehaviorSnapshot) {
	if snapshot == nil {
		return
	}
	c := snapshot.Confidence

	conn.writeJSON(wsResponse{
		Type: "metrics",
		Data: map[string]interface{}{
			"timestamp": c.Timestamp,
			"confidence": map[string]float64{
				"visual":    c.VisualConfidence,
				"vocal":     c.VocalConfidence,
				"gestural":  c.GesturalConfidence,
				"emotional": c.EmotionalConfidence,
				"overall":   c.OverallConfidence,
			},
			"stress": map[string]interface{}{
				"index":      c.StressIndex,
				"trend":      c.StressTrend,
				"components": c.StressComponents,
			},
			"face":  snapshot.FaceMetrics,
			"hands": snapshot.HandMetrics,
			"audio": snapshot.AudioMetrics,
		},
	})

	// The heatmap goes out as its own message so clients can throttle
	// rendering independently of the metrics stream.
	if snapshot.Heatmap != nil {
		conn.writeJSON(wsResponse{
			Type: "heatmap",
			Data: map[string]interface{}{
				"grid":               snapshot.Heatmap.Grid,
				"resolution":         []int{snapshot.Heatmap.Width, snapshot.Heatmap.Height},
				"peak_zones":         snapshot.Heatmap.PeakZones,
				"overall_stress":     snapshot.Heatmap.OverallStressLevel,
				"dominant_indicator": snapshot.Heatmap.DominantIndicator,
			},
		})
	}

	for i := range snapshot.Alerts {
		alert := &snapshot.Alerts[i]
		conn.writeJSON(wsResponse{Type: "alert", Data: alert})
		if s.publisher != nil {
			if err := s.publisher.PublishAlert(sessionID, alert); err != nil {
				s.logger.WithError(err).Debug("Failed to publish alert")
			}
		}
	}

	if err := s.store.StoreSnapshot(ctx, sessionID, *seq, snapshot); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Debug("Failed to store snapshot")
	}
	*seq++

	if s.publisher != nil {
		if err := s.publisher.PublishSnapshot(sessionID, snapshot); err != nil {
			s.logger.WithError(err).Debug("Failed to publish snapshot")
		}
	}
}

// finishSession captures the summary, tears the session down and, when
// the client is still connected, sends the session_summary message.
func (s *Server) finishSession(ctx context.Context, sessionID string, conn *wsConn) {
	summary, sumErr := s.orch.Summary(sessionID)

	if err := s.orch.EndSession(sessionID); err != nil {
		if !errors.Is(err, orchestrator.ErrSessionNotFound) {
			s.logger.WithError(err).WithField("session_id", sessionID).Warning("Failed to end session")
		}
		return
	}

	if sumErr == nil {
		s.persistSummary(ctx, sessionID, summary)
		if conn != nil {
			conn.writeJSON(wsResponse{Type: "session_summary", Data: summary})
		}
	} else if conn != nil {
		conn.writeJSON(wsResponse{
			Type:      "session_summary",
			SessionID: sessionID,
			Message:   "no measurements recorded",
		})
	}
}

func (s *Server) sendError(conn *wsConn, message string) {
	conn.writeJSON(wsResponse{Type: "error", Message: message})
}

// decodeWSRequest parses a protocol message; raw binary payloads fail
// fast on the leading byte check instead of a full JSON parse.
func decodeWSRequest(payload []byte, msg *wsRequest) error {
	if len(payload) == 0 || payload[0] != '{' {
		return errors.New("not a JSON object")
	}
	return json.Unmarshal(payload, msg)
}

func decodeB64(payload string) ([]byte, error) {
	if payload == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(payload)
}
