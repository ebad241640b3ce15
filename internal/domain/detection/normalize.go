package detection

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const unknownClass = "unknown"

// UnknownWeaponInfo is the sentinel used when the service sent no weapon information.
func UnknownWeaponInfo(class string) WeaponInfo {
	return WeaponInfo{
		Name:               class,
		Type:               "Unknown",
		Description:        "No description available",
		Specifications:     map[string]string{},
		PreventionMeasures: []string{},
	}
}

// UnknownRiskAssessment is the sentinel used when the service sent no risk assessment.
func UnknownRiskAssessment() RiskAssessment {
	return RiskAssessment{
		RiskLevel:           RiskUnknown,
		ThreatAnalysis:      "No threat analysis available",
		RecommendedActions:  []string{},
		SafetyMeasures:      []string{},
		EmergencyProcedures: []string{},
	}
}

// ParseRiskLevel maps a service risk label onto the four known levels.
func ParseRiskLevel(s string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow
	case "medium", "moderate":
		return RiskMedium
	case "high", "critical":
		return RiskHigh
	default:
		return RiskUnknown
	}
}

// Normalize converts one raw service response into a DetectionResult.
// An empty kind is inferred from the payload shape.
func Normalize(raw []byte, kind MediaKind) (*DetectionResult, error) {
	var p rawPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if !p.Success {
		msg := p.Error
		if msg == "" {
			msg = "success flag not set"
		}
		return nil, fmt.Errorf("%w: %s", ErrNotSuccessful, msg)
	}
	dets, summary, points := p.sections()
	if kind == "" {
		kind = inferKind(&p, len(points) > 0)
	}

	res := &DetectionResult{
		Kind:             kind,
		Detections:       normalizeDetections(dets),
		Summary:          map[string]SummaryEntry{},
		Classes:          []string{},
		ConfidenceSeries: []ConfidencePoint{},
	}

	if kind == KindVideo {
		for _, pt := range points {
			res.ConfidenceSeries = append(res.ConfidenceSeries, ConfidencePoint{
				Frame:      int(pt.Frame.v),
				Class:      className(pt.Class),
				Confidence: clamp(pt.Confidence.v),
			})
		}
		// video payloads carry no detection list; every frame observation is a detection
		if len(dets) == 0 {
			for _, pt := range res.ConfidenceSeries {
				frame := pt.Frame
				res.Detections = append(res.Detections, Detection{Class: pt.Class, Confidence: pt.Confidence, Frame: &frame})
			}
		}
	}

	buildSummary(res, summary)

	if p.ProcessingTime.ok {
		t := p.ProcessingTime.v
		res.ProcessingTimeSeconds = &t
	}
	if p.TotalFrames.ok || p.ProcessedFrames.ok {
		res.FrameStats = &FrameStats{TotalFrames: int(p.TotalFrames.v), ProcessedFrames: int(p.ProcessedFrames.v)}
	}

	res.ProcessedMediaRef = p.ProcessedImageURL
	if kind == KindVideo || res.ProcessedMediaRef == "" {
		if p.ProcessedVideoURL != "" {
			res.ProcessedMediaRef = p.ProcessedVideoURL
		}
	}

	return res, nil
}

func inferKind(p *rawPayload, hasSeries bool) MediaKind {
	if p.ProcessedVideoURL != "" || p.TotalFrames.ok || p.ProcessedFrames.ok || hasSeries {
		return KindVideo
	}
	return KindImage
}

func normalizeDetections(in []rawDetection) []Detection {
	out := make([]Detection, 0, len(in))
	for _, d := range in {
		det := Detection{Class: className(d.Class), Confidence: clamp(d.Confidence.v)}
		if d.Region.r != nil {
			det.Region = d.Region.r
		} else if d.BBox.r != nil {
			det.Region = d.BBox.r
		}
		if d.Frame.ok {
			f := int(d.Frame.v)
			det.Frame = &f
		}
		out = append(out, det)
	}
	return out
}

// buildSummary keys the summary by every distinct detected class, in first-occurrence order,
// followed by classes only the service summary mentions.
func buildSummary(res *DetectionResult, raw map[string]rawSummary) {
	type agg struct {
		count  int
		max    float64
		frames []int
		seen   map[int]bool
	}
	seen := map[string]*agg{}
	for _, d := range res.Detections {
		a, ok := seen[d.Class]
		if !ok {
			a = &agg{seen: map[int]bool{}}
			seen[d.Class] = a
			res.Classes = append(res.Classes, d.Class)
		}
		a.count++
		a.max = math.Max(a.max, d.Confidence)
		if d.Frame != nil && !a.seen[*d.Frame] {
			a.seen[*d.Frame] = true
			a.frames = append(a.frames, *d.Frame)
		}
	}

	// reported entries only enrich detected classes; the rest are dropped
	rawByClass := make(map[string]rawSummary, len(raw))
	for k, v := range raw {
		rawByClass[className(k)] = v
	}

	for _, class := range res.Classes {
		a := seen[class]
		entry := SummaryEntry{
			Class:          class,
			Count:          a.count,
			MaxConfidence:  a.max,
			FramesDetected: append([]int{}, a.frames...),
			WeaponInfo:     UnknownWeaponInfo(class),
			RiskAssessment: UnknownRiskAssessment(),
		}
		if r, ok := rawByClass[class]; ok {
			if n := int(r.Count.v); n > entry.Count {
				entry.Count = n
			}
			entry.MaxConfidence = math.Max(entry.MaxConfidence, clamp(r.MaxConfidence.v))
			if len(r.FramesDetected) > 0 {
				entry.FramesDetected = entry.FramesDetected[:0]
				for _, f := range r.FramesDetected {
					entry.FramesDetected = append(entry.FramesDetected, int(f.v))
				}
			}
			info := r.WeaponInfo
			if !present(info) {
				info = r.Info
			}
			entry.WeaponInfo = decodeWeaponInfo(info, class)
			entry.RiskAssessment = decodeRisk(r.RiskAssessment)
		}
		if entry.Count < 1 {
			entry.Count = 1
		}
		res.Summary[class] = entry
	}
}

func decodeWeaponInfo(raw json.RawMessage, class string) WeaponInfo {
	info := UnknownWeaponInfo(class)
	if !present(raw) {
		return info
	}
	var w rawWeaponInfo
	if err := json.Unmarshal(raw, &w); err != nil {
		return info
	}
	if w.Name != "" {
		info.Name = w.Name
	}
	if w.Type != "" {
		info.Type = w.Type
	}
	if w.Description != "" {
		info.Description = w.Description
	}
	for k, v := range w.Specifications {
		info.Specifications[k] = stringify(v)
	}
	if len(w.PreventionMeasures) > 0 {
		info.PreventionMeasures = []string(w.PreventionMeasures)
	}
	return info
}

func decodeRisk(raw json.RawMessage) RiskAssessment {
	risk := UnknownRiskAssessment()
	if !present(raw) {
		return risk
	}
	var r rawRisk
	if err := json.Unmarshal(raw, &r); err != nil {
		return risk
	}
	risk.RiskLevel = ParseRiskLevel(r.RiskLevel)
	if r.ThreatAnalysis != "" {
		risk.ThreatAnalysis = r.ThreatAnalysis
	}
	if len(r.RecommendedActions) > 0 {
		risk.RecommendedActions = []string(r.RecommendedActions)
	}
	if len(r.SafetyMeasures) > 0 {
		risk.SafetyMeasures = []string(r.SafetyMeasures)
	}
	if len(r.EmergencyProcedures) > 0 {
		risk.EmergencyProcedures = []string(r.EmergencyProcedures)
	}
	return risk
}

func className(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return unknownClass
	}
	return s
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
