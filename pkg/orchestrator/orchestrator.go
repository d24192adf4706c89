package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"behavior-server/pkg/analyzer"
	"behavior-server/pkg/fusion"
	"behavior-server/pkg/heatmap"
	"behavior-server/pkg/metrics"
	"behavior-server/pkg/perception"
	"behavior-server/pkg/util"
)

var (
	// ErrSessionNotFound signals an operation on a missing or already
	// ended session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists signals a create for an id already in use.
	ErrSessionExists = errors.New("session already exists")

	// ErrNoSnapshots signals a summary request before any measurement
	// was processed.
	ErrNoSnapshots = errors.New("session has no snapshots")
)

// Default bounded history capacities per session.
const (
	DefaultSnapshotHistory = 600 // ~10 min at 1 snapshot/sec
	DefaultAlertHistory    = 200
)

// Config holds orchestrator tunables.
type Config struct {
	SampleRate      int
	HeatmapWidth    int
	HeatmapHeight   int
	SnapshotHistory int
	AlertHistory    int

	// Perception creates the per-session face/hand collaborator; nil
	// means video frames contribute no face or hand metrics.
	Perception perception.Factory
}

// Session is the mutable per-session state, exclusively owned by the
// orchestrator. The mutex serializes all measurement processing and
// teardown for the session; sessions share nothing with each other.
type Session struct {
	mu sync.Mutex

	ID              string
	UserID          string
	LinkedSessionID string
	StartedAt       time.Time

	FrameCount      int
	AudioChunkCount int

	audio   *analyzer.AudioAnalyzer
	heatmap *heatmap.Generator
	engine  *fusion.Engine
	frames  perception.FrameAnalyzer // may be nil

	snapshots []*fusion.BehaviorSnapshot
	alerts    []fusion.BehaviorAlert

	ended bool
}

// SessionInfo is a read-only view of a live session.
type SessionInfo struct {
	SessionID       string  `json:"session_id"`
	UserID          string  `json:"user_id"`
	LinkedSessionID string  `json:"linked_session_id,omitempty"`
	FrameCount      int     `json:"frame_count"`
	AudioChunks     int     `json:"audio_chunks"`
	Alerts          int     `json:"alerts"`
	DurationSec     float64 `json:"duration_sec"`
}

// SessionSummary aggregates a session's recorded history.
type SessionSummary struct {
	SessionID       string         `json:"session_id"`
	UserID          string         `json:"user_id"`
	LinkedSessionID string         `json:"linked_session_id,omitempty"`
	DurationSec     float64        `json:"duration_sec"`
	TotalFrames     int            `json:"total_frames"`
	TotalAudioChunks int           `json:"total_audio_chunks"`
	TotalSnapshots  int            `json:"total_snapshots"`
	TotalAlerts     int            `json:"total_alerts"`
	ConfidenceAvg   float64        `json:"confidence_avg"`
	ConfidenceMin   float64        `json:"confidence_min"`
	ConfidenceMax   float64        `json:"confidence_max"`
	StressAvg       float64        `json:"stress_avg"`
	StressMax       float64        `json:"stress_max"`
	StressTrend     string         `json:"stress_trend"`
	AlertBreakdown  map[string]int `json:"alert_breakdown"`
}

// Orchestrator owns all live sessions and sequences measurement
// processing. Processing is strictly sequential within a session and
// fully parallel across sessions.
type Orchestrator struct {
	logger *logrus.Logger
	config Config
	table  *sessionTable
	now    func() time.Time
}

// New creates an orchestrator.
func New(config Config, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	if config.SampleRate <= 0 {
		config.SampleRate = analyzer.DefaultSampleRate
	}
	if config.SnapshotHistory <= 0 {
		config.SnapshotHistory = DefaultSnapshotHistory
	}
	if config.AlertHistory <= 0 {
		config.AlertHistory = DefaultAlertHistory
	}
	return &Orchestrator{
		logger: logger,
		config: config,
		table:  newSessionTable(16),
		now:    time.Now,
	}
}

// CreateSession allocates fresh analyzer state for a new session.
func (o *Orchestrator) CreateSession(sessionID, userID, linkedSessionID string) error {
	s := &Session{
		ID:              sessionID,
		UserID:          userID,
		LinkedSessionID: linkedSessionID,
		StartedAt:       o.now(),
		audio:           analyzer.NewAudioAnalyzer(o.config.SampleRate, o.logger),
		heatmap:         heatmap.NewGenerator(o.config.HeatmapWidth, o.config.HeatmapHeight, o.logger),
		engine:          fusion.NewEngine(o.logger),
		snapshots:       make([]*fusion.BehaviorSnapshot, 0, 64),
		alerts:          make([]fusion.BehaviorAlert, 0, 8),
	}

	if o.config.Perception != nil {
		frames, err := o.config.Perception()
		if err != nil {
			return fmt.Errorf("failed to create perception analyzer: %w", err)
		}
		s.frames = frames
	}

	if !o.table.putIfAbsent(sessionID, s) {
		if s.frames != nil {
			s.frames.Release()
		}
		return ErrSessionExists
	}

	metrics.SessionStarted()
	o.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    userID,
	}).Info("Analysis session created")
	return nil
}

// ProcessVideoMeasurement runs one encoded video frame through the
// perception collaborator and the fusion pipeline.
func (o *Orchestrator) ProcessVideoMeasurement(sessionID string, frame []byte) (*fusion.BehaviorSnapshot, error) {
	return o.process(sessionID, "video", frame, nil)
}

// ProcessAudioMeasurement runs one 16-bit PCM audio chunk through the
// audio analyzer and the fusion pipeline.
func (o *Orchestrator) ProcessAudioMeasurement(sessionID string, pcm []byte) (*fusion.BehaviorSnapshot, error) {
	return o.process(sessionID, "audio", nil, pcm)
}

// ProcessCombinedMeasurement processes a synchronized video frame and
// audio chunk in one call; either may be nil.
func (o *Orchestrator) ProcessCombinedMeasurement(sessionID string, frame, pcm []byte) (*fusion.BehaviorSnapshot, error) {
	return o.process(sessionID, "combined", frame, pcm)
}

func (o *Orchestrator) process(sessionID, measurementType string, frame, pcm []byte) (*fusion.BehaviorSnapshot, error) {
	s, ok := o.table.get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, ErrSessionNotFound
	}

	start := o.now()
	var face *analyzer.FaceSnapshot
	var hands *analyzer.HandMetrics
	var audio *analyzer.AudioMetrics

	if len(frame) > 0 && s.frames != nil {
		var err error
		face, hands, err = s.frames.ProcessFrame(frame)
		if err != nil {
			// Malformed frames degrade to a no-modality computation.
			o.logger.WithError(err).WithField("session_id", sessionID).Debug("Frame perception failed")
			face, hands = nil, nil
		} else {
			s.FrameCount++
		}
	} else if len(frame) > 0 {
		s.FrameCount++
	}

	if len(pcm) > 0 {
		s.AudioChunkCount++
		audio = s.audio.ProcessChunk(analyzer.DecodePCM16(pcm), start)
	}

	hm := s.heatmap.Generate(face, hands, audio, start)
	snapshot := s.engine.Compute(face, hands, audio, hm, start)

	s.snapshots = append(s.snapshots, snapshot)
	if len(s.snapshots) > o.config.SnapshotHistory {
		s.snapshots = s.snapshots[len(s.snapshots)-o.config.SnapshotHistory:]
	}
	if len(snapshot.Alerts) > 0 {
		s.alerts = append(s.alerts, snapshot.Alerts...)
		if len(s.alerts) > o.config.AlertHistory {
			s.alerts = s.alerts[len(s.alerts)-o.config.AlertHistory:]
		}
		for _, alert := range snapshot.Alerts {
			metrics.RecordAlert(alert.AlertType, alert.Severity)
		}
	}

	metrics.RecordMeasurement(measurementType, o.now().Sub(start))
	return snapshot, nil
}

// EndSession releases the session's analyzer resources and removes it
// from the live table. Safe to call concurrently with in-flight
// processing; safe (a no-op signalling not-found) on unknown sessions.
func (o *Orchestrator) EndSession(sessionID string) error {
	s, ok := o.table.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	s.ended = true
	if s.frames != nil {
		if err := s.frames.Release(); err != nil {
			// Release failure must not keep the session alive.
			o.logger.WithError(err).WithField("session_id", sessionID).Warning("Failed to release perception resources")
		}
		s.frames = nil
	}
	s.mu.Unlock()

	o.table.remove(sessionID)
	metrics.SessionEnded(o.now().Sub(s.StartedAt))
	o.logger.WithField("session_id", sessionID).Info("Analysis session ended")
	return nil
}

// Summary aggregates the session's recorded snapshots.
func (o *Orchestrator) Summary(sessionID string) (*SessionSummary, error) {
	s, ok := o.table.get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, ErrSessionNotFound
	}
	if len(s.snapshots) == 0 {
		return nil, ErrNoSnapshots
	}
	return buildSummary(s, o.now()), nil
}

// buildSummary aggregates over whatever history is retained. Caller
// holds the session mutex.
func buildSummary(s *Session, now time.Time) *SessionSummary {
	confidences := make([]float64, len(s.snapshots))
	stresses := make([]float64, len(s.snapshots))
	for i, snap := range s.snapshots {
		confidences[i] = snap.Confidence.OverallConfidence
		stresses[i] = snap.Confidence.StressIndex
	}

	minConf, maxConf := confidences[0], confidences[0]
	maxStress := stresses[0]
	for i := 1; i < len(confidences); i++ {
		if confidences[i] < minConf {
			minConf = confidences[i]
		}
		if confidences[i] > maxConf {
			maxConf = confidences[i]
		}
		if stresses[i] > maxStress {
			maxStress = stresses[i]
		}
	}

	breakdown := make(map[string]int)
	for _, alert := range s.alerts {
		breakdown[alert.AlertType]++
	}

	return &SessionSummary{
		SessionID:        s.ID,
		UserID:           s.UserID,
		LinkedSessionID:  s.LinkedSessionID,
		DurationSec:      util.Round1(now.Sub(s.StartedAt).Seconds()),
		TotalFrames:      s.FrameCount,
		TotalAudioChunks: s.AudioChunkCount,
		TotalSnapshots:   len(s.snapshots),
		TotalAlerts:      len(s.alerts),
		ConfidenceAvg:    util.Round1(util.Mean(confidences)),
		ConfidenceMin:    util.Round1(minConf),
		ConfidenceMax:    util.Round1(maxConf),
		StressAvg:        util.Round1(util.Mean(stresses)),
		StressMax:        util.Round1(maxStress),
		StressTrend:      s.snapshots[len(s.snapshots)-1].Confidence.StressTrend,
		AlertBreakdown:   breakdown,
	}
}

// ActiveSessions returns the number of live sessions.
func (o *Orchestrator) ActiveSessions() int {
	return o.table.count()
}

// ListSessions returns a read-only view of every live session.
func (o *Orchestrator) ListSessions() []SessionInfo {
	now := o.now()
	infos := make([]SessionInfo, 0, o.table.count())
	o.table.rangeSessions(func(s *Session) bool {
		s.mu.Lock()
		if !s.ended {
			infos = append(infos, SessionInfo{
				SessionID:       s.ID,
				UserID:          s.UserID,
				LinkedSessionID: s.LinkedSessionID,
				FrameCount:      s.FrameCount,
				AudioChunks:     s.AudioChunkCount,
				Alerts:          len(s.alerts),
				DurationSec:     util.Round1(now.Sub(s.StartedAt).Seconds()),
			})
		}
		s.mu.Unlock()
		return true
	})
	return infos
}
