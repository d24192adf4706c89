package analyzer

import "time"

// Pitch contour categories reported by the audio analyzer.
const (
	ContourFlat    = "FLAT"
	ContourRising  = "RISING"
	ContourFalling = "FALLING"
	ContourErratic = "ERRATIC"
)

// AudioMetrics is a single immutable per-chunk analysis result.
type AudioMetrics struct {
	Timestamp time.Time `json:"timestamp"`

	// Speech rate
	SpeechRateWPM       float64 `json:"speech_rate_wpm"`
	SpeechRateStability float64 `json:"speech_rate_stability"`
	SyllableRate        float64 `json:"syllable_rate"`

	// Voice tremor
	PitchMeanHz        float64 `json:"pitch_mean_hz"`
	PitchStdHz         float64 `json:"pitch_std_hz"`
	PitchJitterPercent float64 `json:"pitch_jitter_percent"`
	ShimmerPercent     float64 `json:"shimmer_percent"`
	VoiceTremorScore   float64 `json:"voice_tremor_score"`

	// Silence gaps
	SilenceDurationMs   float64 `json:"silence_duration_ms"`
	SilenceCountLast30s int     `json:"silence_count_last_30s"`
	SilenceRatio        float64 `json:"silence_ratio"`
	LongestSilenceMs    float64 `json:"longest_silence_ms"`

	// Volume
	VolumeRMSDb        float64 `json:"volume_rms_db"`
	VolumeStability    float64 `json:"volume_stability"`
	VolumeDropDetected bool    `json:"volume_drop_detected"`

	// Prosody
	PitchContour         string `json:"pitch_contour"`
	VocalFryDetected     bool   `json:"vocal_fry_detected"`
	PressedVoiceDetected bool   `json:"pressed_voice_detected"`

	// Composite
	VocalConfidence float64 `json:"vocal_confidence"`
}

// EyeMetrics holds per-frame eye tracking results produced by the
// external face perception collaborator.
type EyeMetrics struct {
	GazeDirectionX      float64 `json:"gaze_direction_x"`
	GazeDirectionY      float64 `json:"gaze_direction_y"`
	GazeStability       float64 `json:"gaze_stability"`
	BlinkDetected       bool    `json:"blink_detected"`
	BlinkRatePerMin     float64 `json:"blink_rate_per_min"`
	EyeOpennessLeft     float64 `json:"eye_openness_left"`
	EyeOpennessRight    float64 `json:"eye_openness_right"`
	PupilDilationChange float64 `json:"pupil_dilation_change"`
	SaccadeDetected     bool    `json:"saccade_detected"`
	FixationDurationMs  float64 `json:"fixation_duration_ms"`
}

// ExpressionMetrics holds micro-expression scores (0-100 each).
type ExpressionMetrics struct {
	SurpriseScore  float64 `json:"surprise_score"`
	FearScore      float64 `json:"fear_score"`
	DisgustScore   float64 `json:"disgust_score"`
	ContemptScore  float64 `json:"contempt_score"`
	AngerScore     float64 `json:"anger_score"`
	LipCompression float64 `json:"lip_compression"`
	JawClench      float64 `json:"jaw_clench"`
	NeutralScore   float64 `json:"neutral_score"`
}

// FaceSnapshot is the per-frame output contract of the external face
// analyzer. This package never produces one; it only consumes them.
type FaceSnapshot struct {
	Timestamp    time.Time          `json:"timestamp"`
	FaceDetected bool               `json:"face_detected"`
	Eye          *EyeMetrics        `json:"eye,omitempty"`
	Expression   *ExpressionMetrics `json:"expression,omitempty"`
	HeadPitch    float64            `json:"head_pitch"`
	HeadYaw      float64            `json:"head_yaw"`
	HeadRoll     float64            `json:"head_roll"`
	FacialTension float64           `json:"facial_tension"`
}

// Hand position categories reported by the hand perception collaborator.
const (
	HandZoneNeutral = "NEUTRAL"
	HandZoneFace    = "FACE"
	HandZoneHair    = "HAIR"
	HandZoneBody    = "BODY"
	HandZoneTable   = "TABLE"

	HandElevationHigh = "HIGH"
	HandElevationMid  = "MID"
	HandElevationLow  = "LOW"
)

// HandMetrics is the per-frame output contract of the external hand
// gesture analyzer.
type HandMetrics struct {
	Timestamp        time.Time `json:"timestamp"`
	HandsDetected    int       `json:"hands_detected"`
	LeftHandVisible  bool      `json:"left_hand_visible"`
	RightHandVisible bool      `json:"right_hand_visible"`

	MovementSpeedLeft  float64 `json:"movement_speed_left"`
	MovementSpeedRight float64 `json:"movement_speed_right"`
	JitterScore        float64 `json:"jitter_score"`
	TremorScore        float64 `json:"tremor_score"`

	FidgetingScore       float64 `json:"fidgeting_score"`
	SelfTouchDetected    bool    `json:"self_touch_detected"`
	TappingDetected      bool    `json:"tapping_detected"`
	HandWringingDetected bool    `json:"hand_wringing_detected"`

	HandPositionZone  string `json:"hand_position_zone"`
	HandElevation     string `json:"hand_elevation"`
	HandsClasped      bool   `json:"hands_clasped"`
	GesturingActively bool   `json:"gesturing_actively"`

	GestureConfidence float64 `json:"gesture_confidence"`
}
