package fusion

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"behavior-server/pkg/analyzer"
	"behavior-server/pkg/heatmap"
	"behavior-server/pkg/util"
)

// Composite confidence weights per axis.
const (
	weightVisual    = 0.30
	weightVocal     = 0.30
	weightGestural  = 0.20
	weightEmotional = 0.20
)

// Neutral axis values used when a modality is absent, so the composite
// degrades gracefully instead of failing.
const (
	neutralVisual    = 70.0
	neutralVocal     = 70.0
	neutralGestural  = 75.0
	neutralEmotional = 75.0
)

// Stress modality weights.
const (
	stressWeightFacial   = 0.25
	stressWeightVocal    = 0.30
	stressWeightGestural = 0.25
	stressWeightSpatial  = 0.20
)

const (
	historyCapacity   = 120 // ~2 min at one computation per second
	calibrationFrames = 30
)

// Engine fuses per-modality metrics into composite confidence and
// stress scores and runs threshold alerting. It is stateful and owned
// by exactly one session; calls must be serialized by the owner.
type Engine struct {
	logger *logrus.Entry

	confidenceHistory *util.FloatRing
	stressHistory     *util.FloatRing
	cooldowns         map[string]time.Time

	baselineConfidence float64
	hasBaseline        bool
	frameCount         int
}

// NewEngine creates a fusion engine.
func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		logger:            logger.WithField("component", "fusion_engine"),
		confidenceHistory: util.NewFloatRing(historyCapacity),
		stressHistory:     util.NewFloatRing(historyCapacity),
		cooldowns:         make(map[string]time.Time),
	}
}

// Compute produces a full behavior snapshot from whichever modality
// inputs are present. Absent modalities fall back to neutral values.
func (e *Engine) Compute(face *analyzer.FaceSnapshot, hands *analyzer.HandMetrics, audio *analyzer.AudioMetrics, hm *heatmap.Frame, now time.Time) *BehaviorSnapshot {
	e.frameCount++

	visual := neutralVisual
	if face != nil && face.FaceDetected && face.Eye != nil {
		eye := face.Eye
		saccade := 40.0
		if !eye.SaccadeDetected {
			saccade = 80.0
		}
		visual = eye.GazeStability*0.35 +
			util.Clamp(100-math.Abs(eye.BlinkRatePerMin-15)*3, 0, 100)*0.20 +
			eye.FixationDurationMs/20*0.15 +
			saccade*0.15 +
			util.Clamp(100-math.Abs(face.HeadYaw)*2, 0, 100)*0.15
		visual = util.Clamp(visual, 0, 100)
	}

	vocal := neutralVocal
	if audio != nil {
		vocal = audio.VocalConfidence
	}

	gestural := neutralGestural
	if hands != nil {
		gestural = hands.GestureConfidence
		if hands.GesturingActively {
			// Purposeful active gesturing reads as composure.
			gestural = math.Min(100, gestural+10)
		}
	}

	emotional := neutralEmotional
	if face != nil && face.FaceDetected && face.Expression != nil {
		expr := face.Expression
		emotional = expr.NeutralScore*0.4 +
			math.Max(0, 100-expr.FearScore)*0.25 +
			math.Max(0, 100-expr.AngerScore)*0.15 +
			math.Max(0, 100-expr.LipCompression)*0.10 +
			math.Max(0, 100-face.FacialTension)*0.10
		emotional = util.Clamp(emotional, 0, 100)
	}

	overall := visual*weightVisual + vocal*weightVocal + gestural*weightGestural + emotional*weightEmotional

	// Baseline calibration. Diagnostic state only; trend and alerting
	// reference recent history rather than the baseline.
	if e.frameCount <= calibrationFrames {
		if !e.hasBaseline {
			e.baselineConfidence = overall
			e.hasBaseline = true
		} else {
			e.baselineConfidence = 0.9*e.baselineConfidence + 0.1*overall
		}
	}

	e.confidenceHistory.Push(overall)

	components := make(map[string]float64, 4)
	stressTotal := 0.0

	if face != nil && face.FaceDetected {
		facial := face.FacialTension * 0.5
		if expr := face.Expression; expr != nil {
			facial += expr.FearScore*0.3 + expr.AngerScore*0.2
		}
		facial = math.Min(100, facial)
		components["facial"] = util.Round1(facial)
		stressTotal += facial * stressWeightFacial
	}

	if audio != nil {
		vocalStress := audio.VoiceTremorScore*0.4 +
			(100-audio.VolumeStability)*0.3 +
			math.Min(100, audio.SilenceRatio*300)*0.3
		vocalStress = math.Min(100, vocalStress)
		components["vocal"] = util.Round1(vocalStress)
		stressTotal += vocalStress * stressWeightVocal
	}

	if hands != nil && hands.HandsDetected > 0 {
		selfTouch := 0.0
		if hands.SelfTouchDetected {
			selfTouch = 40
		}
		handStress := hands.JitterScore*0.3 +
			hands.TremorScore*0.3 +
			hands.FidgetingScore*0.2 +
			selfTouch*0.2
		handStress = math.Min(100, handStress)
		components["gestural"] = util.Round1(handStress)
		stressTotal += handStress * stressWeightGestural
	}

	if hm != nil {
		components["spatial"] = util.Round1(hm.OverallStressLevel)
		stressTotal += hm.OverallStressLevel * stressWeightSpatial
	}

	stressIndex := util.Clamp(stressTotal, 0, 100)
	e.stressHistory.Push(stressIndex)

	confidence := ConfidenceIndex{
		Timestamp:           now,
		VisualConfidence:    util.Round1(visual),
		VocalConfidence:     util.Round1(vocal),
		GesturalConfidence:  util.Round1(gestural),
		EmotionalConfidence: util.Round1(emotional),
		OverallConfidence:   util.Round1(overall),
		StressIndex:         util.Round1(stressIndex),
		StressTrend:         e.stressTrend(),
		StressComponents:    components,
	}

	alerts := e.checkAlerts(face, hands, audio, confidence, now)

	return &BehaviorSnapshot{
		Timestamp:    now,
		Confidence:   confidence,
		Heatmap:      hm,
		Alerts:       alerts,
		FaceMetrics:  face,
		HandMetrics:  hands,
		AudioMetrics: audio,
	}
}

// stressTrend classifies the recent stress history.
func (e *Engine) stressTrend() string {
	if e.stressHistory.Len() < 10 {
		return TrendStable
	}
	recent := e.stressHistory.Values()

	var firstHalf float64
	if len(recent) > 20 {
		firstHalf = util.Mean(recent[len(recent)-20 : len(recent)-10])
	} else {
		firstHalf = util.Mean(recent[:len(recent)/2])
	}
	secondHalf := util.Mean(recent[len(recent)-10:])
	diff := secondHalf - firstHalf

	last20 := recent
	if len(last20) > 20 {
		last20 = last20[len(last20)-20:]
	}

	switch {
	case util.Std(last20) > 15:
		return TrendVolatile
	case diff > 8:
		return TrendIncreasing
	case diff < -8:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
