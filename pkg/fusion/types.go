package fusion

import (
	"time"

	"behavior-server/pkg/analyzer"
	"behavior-server/pkg/heatmap"
)

// Stress trend categories.
const (
	TrendStable     = "STABLE"
	TrendIncreasing = "INCREASING"
	TrendDecreasing = "DECREASING"
	TrendVolatile   = "VOLATILE"
)

// Alert types.
const (
	AlertConfidenceDrop = "CONFIDENCE_DROP"
	AlertStressSpike    = "STRESS_SPIKE"
	AlertAnomaly        = "ANOMALY"
	AlertPattern        = "PATTERN"
)

// Alert severities.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// ConfidenceIndex is the multi-axis confidence and stress scoring for
// one point in time. All scores are clamped to [0, 100].
type ConfidenceIndex struct {
	Timestamp time.Time `json:"timestamp"`

	VisualConfidence    float64 `json:"visual_confidence"`
	VocalConfidence     float64 `json:"vocal_confidence"`
	GesturalConfidence  float64 `json:"gestural_confidence"`
	EmotionalConfidence float64 `json:"emotional_confidence"`
	OverallConfidence   float64 `json:"overall_confidence"`

	StressIndex      float64            `json:"stress_index"`
	StressTrend      string             `json:"stress_trend"`
	StressComponents map[string]float64 `json:"stress_components"`
}

// BehaviorAlert fires when a metric crosses a critical threshold.
type BehaviorAlert struct {
	Timestamp      time.Time `json:"timestamp"`
	AlertType      string    `json:"alert_type"`
	Severity       string    `json:"severity"`
	Indicator      string    `json:"indicator"`
	Value          float64   `json:"value"`
	Threshold      float64   `json:"threshold"`
	Description    string    `json:"description"`
	Recommendation string    `json:"recommendation"`
}

// BehaviorSnapshot is the complete analysis result for one measurement,
// including pass-through copies of the raw per-modality metrics.
type BehaviorSnapshot struct {
	Timestamp  time.Time       `json:"timestamp"`
	Confidence ConfidenceIndex `json:"confidence"`
	Heatmap    *heatmap.Frame  `json:"heatmap,omitempty"`
	Alerts     []BehaviorAlert `json:"alerts"`

	FaceMetrics  *analyzer.FaceSnapshot `json:"face_metrics,omitempty"`
	HandMetrics  *analyzer.HandMetrics  `json:"hand_metrics,omitempty"`
	AudioMetrics *analyzer.AudioMetrics `json:"audio_metrics,omitempty"`
}
