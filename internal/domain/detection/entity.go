package detection

import (
	"io"
	"sync"
	"time"
)

// MediaKind enum
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// Deadline is the collaborator SLA for one transfer of the given kind.
func (k MediaKind) Deadline() time.Duration {
	if k == KindVideo {
		return 300 * time.Second
	}
	return 60 * time.Second
}

// File is what the user selected, before validation. Release, when set, frees the backing
// content and is called once by whoever ends up owning the file.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
	Release     func()
}

// MediaAsset is a validated file owned by one orchestrator.
type MediaAsset struct {
	Kind        MediaKind `json:"kind"`
	ByteSize    int64     `json:"byte_size"`
	DisplayName string    `json:"display_name"`
	ContentType string    `json:"content_type"`

	open    func() (io.ReadCloser, error)
	release func()
	once    sync.Once
}

// NewMediaAsset validates f and wraps it as an asset.
func NewMediaAsset(f File) (*MediaAsset, error) {
	kind, err := Validate(f)
	if err != nil {
		return nil, err
	}
	return &MediaAsset{
		Kind:        kind,
		ByteSize:    f.Size,
		DisplayName: f.Name,
		ContentType: f.ContentType,
		open:        f.Open,
		release:     f.Release,
	}, nil
}

// Release frees the backing content. Calls after the first are no-ops.
func (a *MediaAsset) Release() {
	a.once.Do(func() {
		if a.release != nil {
			a.release()
		}
	})
}

// Open returns a fresh reader over the asset content. Every attempt re-opens the asset.
func (a *MediaAsset) Open() (io.ReadCloser, error) {
	if a.open == nil {
		return nil, ErrNoContent
	}
	return a.open()
}

// RequestID is strictly increasing per orchestrator.
type RequestID uint64

// DetectionRequest is one submission of an asset.
type DetectionRequest struct {
	ID       RequestID     `json:"id"`
	Asset    *MediaAsset   `json:"asset"`
	Attempt  int           `json:"attempt"`
	Deadline time.Duration `json:"deadline_ms"`
}

// Region value object (pixel box)
type Region struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Detection is immutable once produced by Normalize.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Region     *Region `json:"region,omitempty"`
	Frame      *int    `json:"frame,omitempty"`
}

type WeaponInfo struct {
	Name               string            `json:"name"`
	Type               string            `json:"type"`
	Description        string            `json:"description"`
	Specifications     map[string]string `json:"specifications"`
	PreventionMeasures []string          `json:"prevention_measures"`
}

// RiskLevel enum
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskUnknown RiskLevel = "unknown"
)

type RiskAssessment struct {
	RiskLevel           RiskLevel `json:"risk_level"`
	ThreatAnalysis      string    `json:"threat_analysis"`
	RecommendedActions  []string  `json:"recommended_actions"`
	SafetyMeasures      []string  `json:"safety_measures"`
	EmergencyProcedures []string  `json:"emergency_procedures"`
}

// SummaryEntry aggregates every detection of one class.
type SummaryEntry struct {
	Class          string         `json:"class"`
	Count          int            `json:"count"`
	MaxConfidence  float64        `json:"max_confidence"`
	FramesDetected []int          `json:"frames_detected"`
	WeaponInfo     WeaponInfo     `json:"weapon_info"`
	RiskAssessment RiskAssessment `json:"risk_assessment"`
}

type FrameStats struct {
	TotalFrames     int `json:"total_frames"`
	ProcessedFrames int `json:"processed_frames"`
}

// ConfidencePoint is one video frame observation.
type ConfidencePoint struct {
	Frame      int     `json:"frame"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// DetectionResult is the canonical model handed to presentation. Lists and maps are never nil.
type DetectionResult struct {
	Kind                  MediaKind               `json:"kind"`
	Detections            []Detection             `json:"detections"`
	Summary               map[string]SummaryEntry `json:"summary"`
	Classes               []string                `json:"classes"`
	ProcessingTimeSeconds *float64                `json:"processing_time_seconds,omitempty"`
	FrameStats            *FrameStats             `json:"frame_stats,omitempty"`
	ConfidenceSeries      []ConfidencePoint       `json:"confidence_series"`
	ProcessedMediaRef     string                  `json:"processed_media_ref,omitempty"`
}

// Entries returns summary entries in Classes order.
func (r *DetectionResult) Entries() []SummaryEntry {
	out := make([]SummaryEntry, 0, len(r.Classes))
	for _, c := range r.Classes {
		out = append(out, r.Summary[c])
	}
	return out
}
