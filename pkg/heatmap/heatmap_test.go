package heatmap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"behavior-server/pkg/analyzer"
)

func stressedAudio() *analyzer.AudioMetrics {
	return &analyzer.AudioMetrics{
		VoiceTremorScore:     100,
		VolumeStability:      0,
		SilenceRatio:         1,
		VocalFryDetected:     true,
		PressedVoiceDetected: true,
	}
}

func stressedFace() *analyzer.FaceSnapshot {
	return &analyzer.FaceSnapshot{
		FaceDetected: true,
		Eye: &analyzer.EyeMetrics{
			GazeStability:   10,
			BlinkRatePerMin: 45,
			SaccadeDetected: true,
		},
		Expression: &analyzer.ExpressionMetrics{
			SurpriseScore:  60,
			FearScore:      80,
			AngerScore:     40,
			DisgustScore:   20,
			ContemptScore:  30,
			LipCompression: 70,
			JawClench:      60,
		},
		HeadPitch:     20,
		FacialTension: 80,
	}
}

func maxCell(f *Frame) int {
	best := 0
	for _, row := range f.Grid {
		for _, v := range row {
			if v > best {
				best = v
			}
		}
	}
	return best
}

func TestGenerate_EmptyInputs(t *testing.T) {
	g := NewGenerator(DefaultWidth, DefaultHeight, nil)
	f := g.Generate(nil, nil, nil, time.Now())

	require.Len(t, f.Grid, DefaultHeight)
	require.Len(t, f.Grid[0], DefaultWidth)
	assert.Equal(t, 0.0, f.OverallStressLevel)
	assert.Empty(t, f.PeakZones)
	assert.Equal(t, "none", f.DominantIndicator)
}

func TestGenerate_AudioPaintsThroat(t *testing.T) {
	g := NewGenerator(DefaultWidth, DefaultHeight, nil)
	f := g.Generate(nil, nil, stressedAudio(), time.Now())

	assert.Equal(t, "vocal_stress", f.DominantIndicator)
	assert.Greater(t, f.OverallStressLevel, 0.0)

	// Throat region center: y in [0.80, 0.95), x in [0.30, 0.70).
	cy := int(0.875 * DefaultHeight)
	cx := DefaultWidth / 2
	assert.Greater(t, f.Grid[cy][cx], 0, "throat center should be painted")

	require.NotEmpty(t, f.PeakZones)
	assert.Equal(t, "THROAT", f.PeakZones[0].Zone, "throat outranks the half-intensity chin spill")
}

func TestGenerate_PeakZonesSortedAndBounded(t *testing.T) {
	g := NewGenerator(DefaultWidth, DefaultHeight, nil)

	var f *Frame
	for i := 0; i < 5; i++ {
		f = g.Generate(stressedFace(), &analyzer.HandMetrics{
			HandsDetected:    2,
			LeftHandVisible:  true,
			RightHandVisible: true,
			JitterScore:      90,
			TremorScore:      90,
			FidgetingScore:   90,
		}, stressedAudio(), time.Now())
	}

	require.NotEmpty(t, f.PeakZones)
	assert.LessOrEqual(t, len(f.PeakZones), 5)
	for i := 1; i < len(f.PeakZones); i++ {
		assert.GreaterOrEqual(t, f.PeakZones[i-1].Intensity, f.PeakZones[i].Intensity)
	}
	for _, p := range f.PeakZones {
		assert.GreaterOrEqual(t, p.X, 0)
		assert.Less(t, p.X, DefaultWidth)
		assert.GreaterOrEqual(t, p.Y, 0)
		assert.Less(t, p.Y, DefaultHeight)
	}
}

func TestGenerate_DecaysToZeroWithoutInput(t *testing.T) {
	g := NewGenerator(DefaultWidth, DefaultHeight, nil)
	f := g.Generate(nil, nil, stressedAudio(), time.Now())
	prev := maxCell(f)
	require.Greater(t, prev, 0)

	for i := 0; i < 60; i++ {
		f = g.Generate(nil, nil, nil, time.Now())
		cur := maxCell(f)
		assert.LessOrEqual(t, cur, prev, "max intensity must never grow without input")
		prev = cur
	}

	assert.Equal(t, 0, maxCell(f))
	assert.Equal(t, 0.0, f.OverallStressLevel)
	assert.Empty(t, f.PeakZones)
}

func TestGenerate_CellsClampedTo255(t *testing.T) {
	g := NewGenerator(DefaultWidth, DefaultHeight, nil)

	var f *Frame
	for i := 0; i < 30; i++ {
		f = g.Generate(stressedFace(), nil, stressedAudio(), time.Now())
	}

	for _, row := range f.Grid {
		for _, v := range row {
			assert.GreaterOrEqual(t, v, 0)
			assert.LessOrEqual(t, v, 255)
		}
	}
}

func TestGenerate_CustomResolution(t *testing.T) {
	g := NewGenerator(32, 24, nil)
	f := g.Generate(nil, nil, stressedAudio(), time.Now())

	assert.Equal(t, 32, f.Width)
	assert.Equal(t, 24, f.Height)
	require.Len(t, f.Grid, 24)
	require.Len(t, f.Grid[0], 32)
}
