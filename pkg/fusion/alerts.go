package fusion

import (
	"time"

	"behavior-server/pkg/analyzer"
	"behavior-server/pkg/util"
)

// Alert thresholds.
const (
	thresholdConfidenceDrop = 20.0   // points dropped over a 5-sample lookback
	thresholdStressSpike    = 70.0   // stress index
	thresholdBlinkRate      = 30.0   // blinks/min
	thresholdGazeUnstable   = 40.0   // stability below this
	thresholdVoiceTremor    = 60.0   // tremor score
	thresholdSilenceGap     = 5000.0 // ms
	thresholdHandJitter     = 60.0
	thresholdFidgeting      = 60.0
	thresholdFearExpression = 50.0
)

// alertCooldown is the minimum interval between repeated firings of the
// same (type, indicator) pair within a session.
const alertCooldown = 10 * time.Second

// alertText is the static description/recommendation catalog, keyed by
// indicator name.
type alertText struct {
	description    string
	recommendation string
}

var alertCatalog = map[string]alertText{
	"overall_confidence": {
		description:    "Confidence dropped sharply over the last few seconds",
		recommendation: "Pause, take a breath, and restate your point with conviction",
	},
	"stress_index": {
		description:    "Composite stress index crossed the critical level",
		recommendation: "Slow your breathing. Focus on one clear action.",
	},
	"blink_rate": {
		description:    "Blink rate is well above the calm baseline",
		recommendation: "Elevated blink rate indicates anxiety. Try to maintain steady eye contact.",
	},
	"gaze_stability": {
		description:    "Gaze is unstable and darting",
		recommendation: "Your eyes are darting. Pick one focal point and hold.",
	},
	"voice_tremor": {
		description:    "Sustained tremor detected in the voice",
		recommendation: "Speak from your diaphragm. Lower your pitch slightly.",
	},
	"silence_gap": {
		description:    "Extended silence with no speech activity",
		recommendation: "Even a brief \"My plan is...\" buys you time without looking frozen.",
	},
	"hand_jitter": {
		description:    "Hand movement is unstable",
		recommendation: "Place your hands on a surface or clasp them calmly.",
	},
	"fidgeting": {
		description:    "Repetitive small hand movements detected",
		recommendation: "Keep your hands still or use purposeful gestures only.",
	},
	"fear_expression": {
		description:    "Fear expression is showing on the face",
		recommendation: "Maintain a neutral, composed expression.",
	},
}

// checkAlerts evaluates the fixed alert table against the current
// metrics and returns the alerts that fired this call.
func (e *Engine) checkAlerts(face *analyzer.FaceSnapshot, hands *analyzer.HandMetrics, audio *analyzer.AudioMetrics, confidence ConfidenceIndex, now time.Time) []BehaviorAlert {
	e.evictCooldowns(now)

	alerts := make([]BehaviorAlert, 0, 2)
	add := func(alertType, severity, indicator string, value, threshold float64) {
		key := alertType + ":" + indicator
		if last, ok := e.cooldowns[key]; ok && now.Sub(last) < alertCooldown {
			return
		}
		e.cooldowns[key] = now
		text := alertCatalog[indicator]
		alerts = append(alerts, BehaviorAlert{
			Timestamp:      now,
			AlertType:      alertType,
			Severity:       severity,
			Indicator:      indicator,
			Value:          util.Round1(value),
			Threshold:      threshold,
			Description:    text.description,
			Recommendation: text.recommendation,
		})
	}

	// Confidence drop against the 5-sample lookback window, graded by
	// magnitude.
	if e.confidenceHistory.Len() > 5 {
		values := e.confidenceHistory.Values()
		start := len(values) - 10
		if start < 0 {
			start = 0
		}
		prev := util.Mean(values[start : len(values)-5])
		drop := prev - confidence.OverallConfidence
		if drop > thresholdConfidenceDrop {
			severity := SeverityMedium
			if drop > 35 {
				severity = SeverityCritical
			} else if drop > 25 {
				severity = SeverityHigh
			}
			add(AlertConfidenceDrop, severity, "overall_confidence", drop, thresholdConfidenceDrop)
		}
	}

	if confidence.StressIndex > thresholdStressSpike {
		add(AlertStressSpike, SeverityHigh, "stress_index", confidence.StressIndex, thresholdStressSpike)
	}

	if face != nil && face.FaceDetected && face.Eye != nil {
		if face.Eye.BlinkRatePerMin > thresholdBlinkRate {
			add(AlertAnomaly, SeverityMedium, "blink_rate", face.Eye.BlinkRatePerMin, thresholdBlinkRate)
		}
		if face.Eye.GazeStability < thresholdGazeUnstable {
			add(AlertAnomaly, SeverityMedium, "gaze_stability", face.Eye.GazeStability, thresholdGazeUnstable)
		}
	}

	if audio != nil {
		if audio.VoiceTremorScore > thresholdVoiceTremor {
			add(AlertAnomaly, SeverityHigh, "voice_tremor", audio.VoiceTremorScore, thresholdVoiceTremor)
		}
		if audio.SilenceDurationMs > thresholdSilenceGap {
			add(AlertAnomaly, SeverityMedium, "silence_gap", audio.SilenceDurationMs, thresholdSilenceGap)
		}
	}

	if hands != nil && hands.HandsDetected > 0 {
		if hands.JitterScore > thresholdHandJitter {
			add(AlertAnomaly, SeverityMedium, "hand_jitter", hands.JitterScore, thresholdHandJitter)
		}
		if hands.FidgetingScore > thresholdFidgeting {
			add(AlertAnomaly, SeverityLow, "fidgeting", hands.FidgetingScore, thresholdFidgeting)
		}
	}

	if face != nil && face.FaceDetected && face.Expression != nil {
		if face.Expression.FearScore > thresholdFearExpression {
			add(AlertPattern, SeverityHigh, "fear_expression", face.Expression.FearScore, thresholdFearExpression)
		}
	}

	return alerts
}

// evictCooldowns lazily drops cooldown entries older than the window so
// the map stays bounded over long sessions.
func (e *Engine) evictCooldowns(now time.Time) {
	for key, last := range e.cooldowns {
		if now.Sub(last) >= alertCooldown {
			delete(e.cooldowns, key)
		}
	}
}
