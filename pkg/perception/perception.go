// Package perception defines the contract for the external face/hand
// perception collaborators. Image decoding and landmark extraction are
// deliberately outside this server; sessions only consume the metric
// snapshots a FrameAnalyzer produces.
package perception

import "behavior-server/pkg/analyzer"

// FrameAnalyzer turns an encoded video frame into face and hand metric
// snapshots. Either result may be nil when nothing was detected.
type FrameAnalyzer interface {
	ProcessFrame(frame []byte) (*analyzer.FaceSnapshot, *analyzer.HandMetrics, error)

	// Release frees any underlying model resources. Called exactly once
	// when the owning session ends.
	Release() error
}

// Factory creates one FrameAnalyzer per session. A nil Factory means
// video frames contribute no face or hand metrics.
type Factory func() (FrameAnalyzer, error)
