package heatmap

import (
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"behavior-server/pkg/analyzer"
	"behavior-server/pkg/util"
)

const (
	// DefaultWidth and DefaultHeight define the grid resolution.
	DefaultWidth  = 64
	DefaultHeight = 48

	// decayRate is the fraction of the previous grid retained per call,
	// so a single noisy frame cannot spike the map.
	decayRate = 0.85

	// Cells below the noise floor are excluded from the overall level.
	noiseFloor = 10.0

	// Regions need at least this mean intensity to rank as a peak zone.
	peakThreshold = 15.0

	maxPeakZones = 5
)

// region maps a named anatomical zone to fractional grid bounds.
type region struct {
	name           string
	y1, y2, x1, x2 float64
}

// Painting and peak scanning iterate in this fixed order so output is
// deterministic for identical inputs.
var regions = []region{
	{"FOREHEAD", 0.00, 0.20, 0.25, 0.75},
	{"LEFT_EYE", 0.15, 0.35, 0.10, 0.45},
	{"RIGHT_EYE", 0.15, 0.35, 0.55, 0.90},
	{"NOSE", 0.30, 0.50, 0.35, 0.65},
	{"LEFT_CHEEK", 0.35, 0.60, 0.05, 0.35},
	{"RIGHT_CHEEK", 0.35, 0.60, 0.65, 0.95},
	{"MOUTH", 0.55, 0.75, 0.25, 0.75},
	{"CHIN", 0.70, 0.85, 0.30, 0.70},
	{"THROAT", 0.80, 0.95, 0.30, 0.70},
	{"LEFT_HAND", 0.60, 1.00, 0.00, 0.20},
	{"RIGHT_HAND", 0.60, 1.00, 0.80, 1.00},
}

// PeakZone identifies a high-stress region on the map.
type PeakZone struct {
	Zone      string  `json:"zone"`
	Intensity float64 `json:"intensity"`
	X         int     `json:"x"`
	Y         int     `json:"y"`
}

// Frame is one immutable heatmap snapshot. The grid is a copy; the
// generator's internal state is never shared.
type Frame struct {
	Timestamp          time.Time  `json:"timestamp"`
	Grid               [][]int    `json:"grid"` // [rows][cols], 0-255
	Width              int        `json:"width"`
	Height             int        `json:"height"`
	PeakZones          []PeakZone `json:"peak_zones"`
	OverallStressLevel float64    `json:"overall_stress_level"`
	DominantIndicator  string     `json:"dominant_indicator"`
}

// Generator paints per-modality stress scores onto a decaying 2D grid.
// It is stateful and owned by exactly one session.
type Generator struct {
	logger *logrus.Entry
	width  int
	height int
	grid   []float64 // row-major, exclusively owned
}

// NewGenerator creates a generator with the given grid resolution.
func NewGenerator(width, height int, logger *logrus.Logger) *Generator {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Generator{
		logger: logger.WithField("component", "stress_heatmap"),
		width:  width,
		height: height,
		grid:   make([]float64, width*height),
	}
}

// Generate produces one heatmap frame from whichever modality snapshots
// are present. A call with no modalities still decays and returns the
// current map.
func (g *Generator) Generate(face *analyzer.FaceSnapshot, hands *analyzer.HandMetrics, audio *analyzer.AudioMetrics, now time.Time) *Frame {
	for i := range g.grid {
		g.grid[i] *= decayRate
	}

	indicators := make(map[string]float64, 6)

	if face != nil && face.FaceDetected && face.Eye != nil {
		eye := face.Eye
		saccade := 0.0
		if eye.SaccadeDetected {
			saccade = 50
		}
		eyeStress := (100-eye.GazeStability)*0.4 +
			math.Min(100, eye.BlinkRatePerMin*2)*0.3 +
			saccade*0.3
		g.paintRegion("LEFT_EYE", eyeStress)
		g.paintRegion("RIGHT_EYE", eyeStress)
		indicators["eye_stress"] = eyeStress

		if expr := face.Expression; expr != nil {
			foreheadStress := expr.SurpriseScore*0.3 +
				expr.FearScore*0.4 +
				math.Min(100, math.Abs(face.HeadPitch)*2)*0.3
			g.paintRegion("FOREHEAD", foreheadStress)
			indicators["forehead_stress"] = foreheadStress

			mouthStress := expr.LipCompression*0.4 +
				expr.JawClench*0.3 +
				expr.AngerScore*0.15 +
				expr.DisgustScore*0.15
			g.paintRegion("MOUTH", mouthStress)
			indicators["mouth_stress"] = mouthStress

			cheekStress := face.FacialTension*0.6 + expr.ContemptScore*0.4
			g.paintRegion("LEFT_CHEEK", cheekStress)
			g.paintRegion("RIGHT_CHEEK", cheekStress*(0.7+expr.ContemptScore*0.003))
			indicators["cheek_stress"] = cheekStress
		}
	}

	if audio != nil {
		fry, pressed := 0.0, 0.0
		if audio.VocalFryDetected {
			fry = 30
		}
		if audio.PressedVoiceDetected {
			pressed = 30
		}
		throatStress := audio.VoiceTremorScore*0.35 +
			(100-audio.VolumeStability)*0.25 +
			math.Min(100, audio.SilenceRatio*200)*0.2 +
			fry*0.1 +
			pressed*0.1
		g.paintRegion("THROAT", throatStress)
		g.paintRegion("CHIN", throatStress*0.5)
		indicators["vocal_stress"] = throatStress
	}

	if hands != nil && hands.HandsDetected > 0 {
		selfTouch, tapping := 0.0, 0.0
		if hands.SelfTouchDetected {
			selfTouch = 30
		}
		if hands.TappingDetected {
			tapping = 25
		}
		handStress := hands.JitterScore*0.25 +
			hands.TremorScore*0.25 +
			hands.FidgetingScore*0.2 +
			selfTouch*0.15 +
			tapping*0.15
		if hands.LeftHandVisible {
			g.paintRegion("LEFT_HAND", handStress)
		}
		if hands.RightHandVisible {
			g.paintRegion("RIGHT_HAND", handStress)
		}
		indicators["hand_stress"] = handStress
	}

	for i, v := range g.grid {
		g.grid[i] = util.Clamp(v, 0, 255)
	}

	return &Frame{
		Timestamp:          now,
		Grid:               g.copyGrid(),
		Width:              g.width,
		Height:             g.height,
		PeakZones:          g.findPeakZones(),
		OverallStressLevel: util.Round1(g.overallLevel()),
		DominantIndicator:  dominantIndicator(indicators),
	}
}

// paintRegion adds a Gaussian blob centered on the region's bounding
// box, scaling 0-100 stress into 0-255 intensity.
func (g *Generator) paintRegion(name string, intensity float64) {
	var reg *region
	for i := range regions {
		if regions[i].name == name {
			reg = &regions[i]
			break
		}
	}
	if reg == nil {
		return
	}

	y1, y2 := int(reg.y1*float64(g.height)), int(reg.y2*float64(g.height))
	x1, x2 := int(reg.x1*float64(g.width)), int(reg.x2*float64(g.width))

	cy, cx := (y1+y2)/2, (x1+x2)/2
	ry, rx := (y2-y1)/2, (x2-x1)/2
	if ry < 1 {
		ry = 1
	}
	if rx < 1 {
		rx = 1
	}

	for y := max(0, y1); y < min(g.height, y2); y++ {
		for x := max(0, x1); x < min(g.width, x2); x++ {
			dy := float64(y-cy) / float64(ry)
			dx := float64(x-cx) / float64(rx)
			falloff := math.Exp(-0.5 * (dx*dx + dy*dy))
			g.grid[y*g.width+x] += intensity * falloff * 2.55
		}
	}
}

// overallLevel is the mean of all cells above the noise floor.
func (g *Generator) overallLevel() float64 {
	sum, n := 0.0, 0
	for _, v := range g.grid {
		if v > noiseFloor {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// findPeakZones ranks regions by mean intensity and reports the top
// five, each with the pixel coordinates of its local maximum.
func (g *Generator) findPeakZones() []PeakZone {
	peaks := make([]PeakZone, 0, len(regions))
	for _, reg := range regions {
		y1, y2 := int(reg.y1*float64(g.height)), int(reg.y2*float64(g.height))
		x1, x2 := int(reg.x1*float64(g.width)), int(reg.x2*float64(g.width))
		if y2 <= y1 || x2 <= x1 {
			continue
		}

		sum, n := 0.0, 0
		maxVal := -1.0
		maxX, maxY := x1, y1
		for y := y1; y < y2 && y < g.height; y++ {
			for x := x1; x < x2 && x < g.width; x++ {
				v := g.grid[y*g.width+x]
				sum += v
				n++
				if v > maxVal {
					maxVal = v
					maxX, maxY = x, y
				}
			}
		}
		if n == 0 {
			continue
		}
		mean := sum / float64(n)
		if mean > peakThreshold {
			peaks = append(peaks, PeakZone{
				Zone:      reg.name,
				Intensity: util.Round1(mean),
				X:         maxX,
				Y:         maxY,
			})
		}
	}

	sort.SliceStable(peaks, func(i, j int) bool {
		return peaks[i].Intensity > peaks[j].Intensity
	})
	if len(peaks) > maxPeakZones {
		peaks = peaks[:maxPeakZones]
	}
	return peaks
}

func (g *Generator) copyGrid() [][]int {
	out := make([][]int, g.height)
	for y := 0; y < g.height; y++ {
		row := make([]int, g.width)
		for x := 0; x < g.width; x++ {
			row[x] = int(g.grid[y*g.width+x])
		}
		out[y] = row
	}
	return out
}

// dominantIndicator returns the largest sub-score painted this call,
// breaking ties by name for determinism.
func dominantIndicator(indicators map[string]float64) string {
	dominant := "none"
	best := math.Inf(-1)
	names := make([]string, 0, len(indicators))
	for name := range indicators {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if indicators[name] > best {
			best = indicators[name]
			dominant = name
		}
	}
	return dominant
}
