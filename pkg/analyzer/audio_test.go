package analyzer

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineChunk(freq, amp float64, n, sampleRate int) []float64 {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return samples
}

func TestDecodePCM16(t *testing.T) {
	data := []byte{0x00, 0x80, 0xFF, 0x7F, 0x00, 0x00, 0x42}
	samples := DecodePCM16(data)

	require.Len(t, samples, 3, "trailing odd byte should be dropped")
	assert.InDelta(t, -1.0, samples[0], 1e-9)
	assert.InDelta(t, 32767.0/32768.0, samples[1], 1e-9)
	assert.InDelta(t, 0.0, samples[2], 1e-9)
}

func TestProcessChunk_PitchDetection(t *testing.T) {
	a := NewAudioAnalyzer(DefaultSampleRate, nil)
	chunk := sineChunk(220, 0.5, DefaultSampleRate, DefaultSampleRate)

	m := a.ProcessChunk(chunk, time.Now())

	assert.InDelta(t, 220.0, m.PitchMeanHz, 10, "pure 220Hz tone should be detected near 220Hz")
	assert.Less(t, m.PitchJitterPercent, 3.0, "steady tone should have near-zero jitter")
	assert.Less(t, m.VoiceTremorScore, 10.0)
	assert.Equal(t, 0.0, m.SilenceDurationMs, "a -9dB tone is not silent")
	assert.False(t, m.VolumeDropDetected)
}

func TestProcessChunk_SilenceThresholdIsStrict(t *testing.T) {
	a := NewAudioAnalyzer(DefaultSampleRate, nil)

	// A constant 0.01 amplitude sits at exactly -40dB RMS; the boundary
	// itself classifies as non-silent.
	exact := make([]float64, DefaultSampleRate)
	for i := range exact {
		exact[i] = 0.01
		if i%2 == 1 {
			exact[i] = -0.01
		}
	}
	m := a.ProcessChunk(exact, time.Now())
	assert.Equal(t, 0.0, m.SilenceDurationMs)
	assert.InDelta(t, -40.0, m.VolumeRMSDb, 0.1)

	b := NewAudioAnalyzer(DefaultSampleRate, nil)
	quiet := sineChunk(220, 0.005, DefaultSampleRate, DefaultSampleRate)
	m = b.ProcessChunk(quiet, time.Now())
	assert.Greater(t, m.SilenceDurationMs, 0.0, "a chunk below -40dB starts a silence streak")
}

func TestProcessChunk_SilenceStreakAndRecovery(t *testing.T) {
	a := NewAudioAnalyzer(DefaultSampleRate, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	zeros := make([]float64, DefaultSampleRate)

	m := a.ProcessChunk(zeros, now)
	assert.Equal(t, 1000.0, m.SilenceDurationMs, "one silent 1s chunk reports a 1s streak")
	assert.Equal(t, 0, m.SilenceCountLast30s)

	m = a.ProcessChunk(zeros, now.Add(time.Second))
	assert.Equal(t, 2000.0, m.SilenceDurationMs)

	// Speech resumes: the 3s gap completes and enters the 30s window.
	m = a.ProcessChunk(sineChunk(220, 0.5, DefaultSampleRate, DefaultSampleRate), now.Add(2*time.Second))
	assert.Equal(t, 0.0, m.SilenceDurationMs)
	assert.Equal(t, 1, m.SilenceCountLast30s)
	assert.Equal(t, 3000.0, m.LongestSilenceMs)
}

func TestProcessChunk_SilencePenalizesConfidence(t *testing.T) {
	a := NewAudioAnalyzer(DefaultSampleRate, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m := a.ProcessChunk(make([]float64, DefaultSampleRate), now)

	// 100 - 1000/30000*100*0.2 - 20*0.2 - 20*0.15, all other terms zero.
	assert.InDelta(t, 92.3, m.VocalConfidence, 0.05)
	assert.Greater(t, m.SilenceRatio, 0.0)

	b := NewAudioAnalyzer(DefaultSampleRate, nil)
	loud := b.ProcessChunk(sineChunk(220, 0.5, DefaultSampleRate, DefaultSampleRate), now)
	assert.Equal(t, 0.0, loud.SilenceRatio)
	assert.Greater(t, loud.VocalConfidence, m.VocalConfidence,
		"silent chunk must score below an equivalent voiced chunk")
}

func TestProcessChunk_ShortChunkSkipsPitch(t *testing.T) {
	a := NewAudioAnalyzer(DefaultSampleRate, nil)
	m := a.ProcessChunk(sineChunk(220, 0.5, 256, DefaultSampleRate), time.Now())

	assert.Equal(t, 0.0, m.PitchMeanHz)
	assert.Equal(t, 0.0, m.PitchJitterPercent)
	assert.Equal(t, 0.0, m.VoiceTremorScore)
}

func TestProcessChunk_SpeechRateCap(t *testing.T) {
	a := NewAudioAnalyzer(DefaultSampleRate, nil)

	// 19 short bursts in one second reads as implausibly fast speech;
	// the estimate saturates at 300 WPM.
	chunk := make([]float64, DefaultSampleRate)
	pos := 700
	for burst := 0; burst < 19; burst++ {
		for i := 0; i < 100; i++ {
			chunk[pos+i] = 0.5
		}
		pos += 800
	}

	m := a.ProcessChunk(chunk, time.Now())
	assert.Equal(t, 300.0, m.SpeechRateWPM)
}

func TestProcessChunk_VolumeDropDetected(t *testing.T) {
	a := NewAudioAnalyzer(DefaultSampleRate, nil)
	now := time.Now()

	for i := 0; i < 5; i++ {
		m := a.ProcessChunk(sineChunk(220, 0.5, DefaultSampleRate, DefaultSampleRate), now.Add(time.Duration(i)*time.Second))
		assert.False(t, m.VolumeDropDetected)
	}

	// ~-23dB against a ~-9dB calibrated baseline is a >12dB drop.
	m := a.ProcessChunk(sineChunk(220, 0.1, DefaultSampleRate, DefaultSampleRate), now.Add(5*time.Second))
	assert.True(t, m.VolumeDropDetected)
	assert.Equal(t, 0.0, m.SilenceDurationMs)
}

func TestProcessChunk_RandomInputStaysBounded(t *testing.T) {
	a := NewAudioAnalyzer(DefaultSampleRate, nil)
	rng := rand.New(rand.NewSource(1))
	now := time.Now()

	for i := 0; i < 50; i++ {
		amp := rng.Float64()
		chunk := make([]float64, DefaultSampleRate)
		for j := range chunk {
			chunk[j] = amp * (rng.Float64()*2 - 1)
		}

		m := a.ProcessChunk(chunk, now.Add(time.Duration(i)*time.Second))

		assert.GreaterOrEqual(t, m.VocalConfidence, 0.0)
		assert.LessOrEqual(t, m.VocalConfidence, 100.0)
		assert.GreaterOrEqual(t, m.VoiceTremorScore, 0.0)
		assert.LessOrEqual(t, m.VoiceTremorScore, 100.0)
		assert.GreaterOrEqual(t, m.SilenceRatio, 0.0)
		assert.LessOrEqual(t, m.SilenceRatio, 1.0)
		assert.LessOrEqual(t, m.SpeechRateWPM, 300.0)
	}
}

func TestProcessChunk_RawInt16SamplesRenormalized(t *testing.T) {
	a := NewAudioAnalyzer(DefaultSampleRate, nil)

	raw := sineChunk(220, 0.5*32768, DefaultSampleRate, DefaultSampleRate)
	m := a.ProcessChunk(raw, time.Now())

	assert.InDelta(t, -9.0, m.VolumeRMSDb, 0.5, "raw 16-bit amplitudes should be rescaled before RMS")
}
