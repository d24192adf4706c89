package analyzer

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"behavior-server/pkg/util"
)

const (
	// DefaultSampleRate is the expected client capture rate.
	DefaultSampleRate = 16000

	// SilenceThresholdDB marks the silent/non-silent boundary. A chunk at
	// exactly this level is classified non-silent (strict less-than).
	SilenceThresholdDB = -40.0

	minPitchHz = 50.0
	maxPitchHz = 500.0

	// Chunks shorter than this yield zeroed pitch metrics.
	minPitchSamples = 512

	pitchFrameLen = 2048
	pitchHopLen   = 512

	// Baselines calibrate over this many leading chunks.
	calibrationChunks = 30

	volumeDropDB = 12.0

	silenceWindow = 30 * time.Second

	// Tremor blend coefficients. Tunable; the only contract is that the
	// score is monotonic in jitter and shimmer and saturates at 100.
	tremorJitterWeight  = 4.0
	tremorShimmerWeight = 2.0
)

// silenceEvent records one completed silence gap.
type silenceEvent struct {
	endedAt  time.Time
	duration float64 // ms
}

// AudioAnalyzer extracts prosody metrics from a stream of audio chunks.
// It is stateful and owned by exactly one session; calls must be
// serialized by the owner.
type AudioAnalyzer struct {
	logger     *logrus.Entry
	sampleRate int

	pitchHistory  *util.FloatRing // mean F0 per chunk, ~5 min at 1 chunk/sec
	volumeHistory *util.FloatRing // dB per chunk
	rateHistory   *util.FloatRing // WPM per chunk

	silenceEvents []silenceEvent // bounded at silenceEventCap
	isSilent      bool
	silenceStart  time.Time

	volumeBaseline    float64
	hasVolumeBaseline bool
	pitchBaseline     float64
	hasPitchBaseline  bool

	chunkCount int
}

const silenceEventCap = 100

// NewAudioAnalyzer creates an analyzer for the given sample rate.
func NewAudioAnalyzer(sampleRate int, logger *logrus.Logger) *AudioAnalyzer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &AudioAnalyzer{
		logger:        logger.WithField("component", "audio_analyzer"),
		sampleRate:    sampleRate,
		pitchHistory:  util.NewFloatRing(300),
		volumeHistory: util.NewFloatRing(300),
		rateHistory:   util.NewFloatRing(60),
		silenceEvents: make([]silenceEvent, 0, silenceEventCap),
	}
}

// DecodePCM16 converts little-endian 16-bit PCM bytes into normalized
// mono float samples in [-1, 1]. A trailing odd byte is dropped.
func DecodePCM16(data []byte) []float64 {
	n := len(data) / 2
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		samples[i] = float64(v) / 32768.0
	}
	return samples
}

// ProcessChunk analyzes one mono chunk (~1s expected) and returns its
// metrics snapshot. Samples outside [-1, 1] are treated as raw 16-bit
// amplitudes and renormalized.
func (a *AudioAnalyzer) ProcessChunk(samples []float64, now time.Time) *AudioMetrics {
	a.chunkCount++

	samples = normalize(samples)

	// Volume
	sumSq := 0.0
	for _, s := range samples {
		sumSq += s * s
	}
	rms := 1e-10
	if len(samples) > 0 {
		rms = math.Sqrt(sumSq/float64(len(samples))) + 1e-10
	}
	rmsDB := 20 * math.Log10(rms+1e-10)
	a.volumeHistory.Push(rmsDB)

	if a.chunkCount <= calibrationChunks && rmsDB > SilenceThresholdDB {
		if !a.hasVolumeBaseline {
			a.volumeBaseline = rmsDB
			a.hasVolumeBaseline = true
		} else {
			a.volumeBaseline = 0.9*a.volumeBaseline + 0.1*rmsDB
		}
	}

	volumeStability := a.computeVolumeStability()
	volumeDrop := a.hasVolumeBaseline && rmsDB < a.volumeBaseline-volumeDropDB

	// Silence state machine. The chunk spans [now-duration, now], so a
	// transition into silence backdates the streak to the chunk start.
	chunkDur := time.Duration(float64(len(samples)) / float64(a.sampleRate) * float64(time.Second))
	silent := rmsDB < SilenceThresholdDB
	silenceMs := 0.0

	switch {
	case silent && !a.isSilent:
		a.silenceStart = now.Add(-chunkDur)
		a.isSilent = true
		silenceMs = float64(chunkDur.Milliseconds())
	case !silent && a.isSilent:
		gap := float64(now.Sub(a.silenceStart).Milliseconds())
		a.recordSilence(now, gap)
		a.isSilent = false
	case silent:
		silenceMs = float64(now.Sub(a.silenceStart).Milliseconds())
	}

	silenceCount, longestMs, silenceRatio := a.silenceWindowStats(now, silenceMs)

	// Pitch
	pitchMean, pitchStd, jitter, shimmer := a.analyzePitch(samples)
	if pitchMean > 0 {
		a.pitchHistory.Push(pitchMean)
	}
	if a.chunkCount <= calibrationChunks && pitchMean > 0 {
		if !a.hasPitchBaseline {
			a.pitchBaseline = pitchMean
			a.hasPitchBaseline = true
		} else {
			a.pitchBaseline = 0.9*a.pitchBaseline + 0.1*pitchMean
		}
	}

	tremor := util.Clamp(jitter*tremorJitterWeight+shimmer*tremorShimmerWeight, 0, 100)

	// Speech rate
	wpm, syllableRate := a.estimateSpeechRate(samples)
	a.rateHistory.Push(wpm)
	rateStability := a.computeRateStability()

	// Prosody
	contour := a.pitchContour()
	vocalFry := pitchMean > 0 && pitchMean < 80 && jitter > 5
	pressed := pitchStd > 0 && pitchStd < 5 && rmsDB > -20

	confidence := vocalConfidence(tremor, silenceRatio, volumeStability, rateStability, vocalFry, pressed)

	return &AudioMetrics{
		Timestamp:            now,
		SpeechRateWPM:        util.Round1(wpm),
		SpeechRateStability:  util.Round1(rateStability),
		SyllableRate:         math.Round(syllableRate*100) / 100,
		PitchMeanHz:          util.Round1(pitchMean),
		PitchStdHz:           util.Round1(pitchStd),
		PitchJitterPercent:   math.Round(jitter*100) / 100,
		ShimmerPercent:       math.Round(shimmer*100) / 100,
		VoiceTremorScore:     util.Round1(tremor),
		SilenceDurationMs:    math.Round(silenceMs),
		SilenceCountLast30s:  silenceCount,
		SilenceRatio:         math.Round(silenceRatio*1000) / 1000,
		LongestSilenceMs:     math.Round(longestMs),
		VolumeRMSDb:          util.Round1(rmsDB),
		VolumeStability:      util.Round1(volumeStability),
		VolumeDropDetected:   volumeDrop,
		PitchContour:         contour,
		VocalFryDetected:     vocalFry,
		PressedVoiceDetected: pressed,
		VocalConfidence:      util.Round1(confidence),
	}
}

// normalize rescales raw int16-range samples to [-1, 1].
func normalize(samples []float64) []float64 {
	peak := 0.0
	for _, s := range samples {
		if v := math.Abs(s); v > peak {
			peak = v
		}
	}
	if peak <= 1.0 {
		return samples
	}
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s / 32768.0
	}
	return out
}

func (a *AudioAnalyzer) recordSilence(endedAt time.Time, durationMs float64) {
	a.silenceEvents = append(a.silenceEvents, silenceEvent{endedAt: endedAt, duration: durationMs})
	if len(a.silenceEvents) > silenceEventCap {
		a.silenceEvents = a.silenceEvents[len(a.silenceEvents)-silenceEventCap:]
	}
}

// silenceWindowStats aggregates completed gaps in the trailing 30s plus
// the in-progress streak for the silent-time ratio.
func (a *AudioAnalyzer) silenceWindowStats(now time.Time, currentMs float64) (count int, longestMs, ratio float64) {
	totalMs := 0.0
	for _, ev := range a.silenceEvents {
		if now.Sub(ev.endedAt) >= silenceWindow {
			continue
		}
		count++
		totalMs += ev.duration
		if ev.duration > longestMs {
			longestMs = ev.duration
		}
	}
	windowMs := float64(silenceWindow.Milliseconds())
	ratio = util.Clamp((totalMs+math.Min(currentMs, windowMs))/windowMs, 0, 1)
	return count, longestMs, ratio
}

func (a *AudioAnalyzer) computeVolumeStability() float64 {
	if a.volumeHistory.Len() < 5 {
		return 80.0
	}
	nonSilent := make([]float64, 0, 20)
	for _, db := range a.volumeHistory.Last(20) {
		if db > SilenceThresholdDB {
			nonSilent = append(nonSilent, db)
		}
	}
	if len(nonSilent) < 3 {
		return 50.0
	}
	return util.Clamp(100-util.Std(nonSilent)*5, 0, 100)
}

// analyzePitch extracts F0 statistics via short-time autocorrelation.
func (a *AudioAnalyzer) analyzePitch(samples []float64) (mean, std, jitter, shimmer float64) {
	if len(samples) < minPitchSamples {
		return 0, 0, 0, 0
	}

	f0 := a.autocorrelationPitch(samples)
	if len(f0) < 2 {
		return 0, 0, 0, 0
	}

	mean = util.Mean(f0)
	std = util.Std(f0)

	// Jitter: cycle-to-cycle period variation.
	periods := make([]float64, len(f0))
	for i, hz := range f0 {
		periods[i] = 1.0 / (hz + 1e-6)
	}
	jitter = meanAbsDiff(periods) / (util.Mean(periods) + 1e-6) * 100

	// Shimmer: amplitude variation across pitch-period frames.
	frameSize := int(float64(a.sampleRate) / (mean + 1e-6))
	if frameSize > 0 && frameSize < len(samples) {
		amps := make([]float64, 0, len(samples)/frameSize)
		for start := 0; start+frameSize <= len(samples); start += frameSize {
			peak := 0.0
			for _, s := range samples[start : start+frameSize] {
				if v := math.Abs(s); v > peak {
					peak = v
				}
			}
			amps = append(amps, peak)
		}
		if len(amps) > 1 {
			shimmer = meanAbsDiff(amps) / (util.Mean(amps) + 1e-6) * 100
		}
	}

	return mean, std, jitter, shimmer
}

// autocorrelationPitch estimates per-frame F0 over Hann-windowed frames.
// A frame contributes only when its autocorrelation peak in the valid
// lag range exceeds 10% of the zero-lag value.
func (a *AudioAnalyzer) autocorrelationPitch(samples []float64) []float64 {
	minLag := int(float64(a.sampleRate) / maxPitchHz)
	maxLag := int(float64(a.sampleRate) / minPitchHz)

	pitches := make([]float64, 0, 8)
	frame := make([]float64, pitchFrameLen)

	for start := 0; start+pitchFrameLen <= len(samples); start += pitchHopLen {
		for i := 0; i < pitchFrameLen; i++ {
			w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(pitchFrameLen-1)))
			frame[i] = samples[start+i] * w
		}

		if maxLag >= pitchFrameLen {
			continue
		}

		zero := 0.0
		for i := 0; i < pitchFrameLen; i++ {
			zero += frame[i] * frame[i]
		}

		bestLag, bestVal := 0, 0.0
		for lag := minLag; lag < maxLag; lag++ {
			sum := 0.0
			for i := 0; i < pitchFrameLen-lag; i++ {
				sum += frame[i] * frame[i+lag]
			}
			if sum > bestVal {
				bestVal = sum
				bestLag = lag
			}
		}

		if bestLag == 0 || bestVal < 0.1*zero {
			continue
		}
		hz := float64(a.sampleRate) / float64(bestLag)
		if hz >= minPitchHz && hz <= maxPitchHz {
			pitches = append(pitches, hz)
		}
	}

	return pitches
}

// estimateSpeechRate counts syllable onsets from the smoothed energy
// envelope and converts to words per minute.
func (a *AudioAnalyzer) estimateSpeechRate(samples []float64) (wpm, syllableRate float64) {
	if len(samples) == 0 {
		return 0, 0
	}

	envelope := make([]float64, len(samples))
	for i, s := range samples {
		envelope[i] = math.Abs(s)
	}

	// 20ms moving-average smoothing.
	kernel := int(float64(a.sampleRate) * 0.02)
	if kernel < 1 {
		kernel = 1
	}
	if len(envelope) > kernel {
		envelope = movingAverage(envelope, kernel)
	}

	threshold := util.Mean(envelope) * 1.2
	onsets := 0
	above := envelope[0] > threshold
	for i := 1; i < len(envelope); i++ {
		next := envelope[i] > threshold
		if next && !above {
			onsets++
		}
		above = next
	}

	durationS := float64(len(samples)) / float64(a.sampleRate)
	syllableRate = float64(onsets) / (durationS + 1e-6)
	wpm = math.Min(300, syllableRate*60/1.5)
	return wpm, syllableRate
}

func (a *AudioAnalyzer) computeRateStability() float64 {
	if a.rateHistory.Len() < 5 {
		return 80.0
	}
	nonzero := make([]float64, 0, 15)
	for _, r := range a.rateHistory.Last(15) {
		if r > 0 {
			nonzero = append(nonzero, r)
		}
	}
	if len(nonzero) < 3 {
		return 60.0
	}
	return util.Clamp(100-util.Std(nonzero)*0.5, 0, 100)
}

func (a *AudioAnalyzer) pitchContour() string {
	if a.pitchHistory.Len() < 5 {
		return ContourFlat
	}
	recent := a.pitchHistory.Last(10)
	half := len(recent) / 2
	diff := util.Mean(recent[half:]) - util.Mean(recent[:half])

	switch {
	case util.Std(recent) > 30:
		return ContourErratic
	case diff > 10:
		return ContourRising
	case diff < -10:
		return ContourFalling
	default:
		return ContourFlat
	}
}

func vocalConfidence(tremor, silenceRatio, volStability, rateStability float64, fry, pressed bool) float64 {
	score := 100.0
	score -= tremor * 0.25
	score -= silenceRatio * 100 * 0.2
	score -= (100 - volStability) * 0.2
	score -= (100 - rateStability) * 0.15
	if fry {
		score -= 10
	}
	if pressed {
		score -= 8
	}
	return util.Clamp(score, 0, 100)
}

func meanAbsDiff(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sum := 0.0
	for i := 1; i < len(values); i++ {
		sum += math.Abs(values[i] - values[i-1])
	}
	return sum / float64(len(values)-1)
}

func movingAverage(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		n := window
		if i+1 < window {
			n = i + 1
		}
		out[i] = sum / float64(n)
	}
	return out
}
