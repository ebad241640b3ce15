package analytics

import "github.com/bryanwahyu/weapon-detect/internal/domain/detection"

type ClassCount struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// WeaponTypeCounts counts detections per class, ordered by first occurrence.
func WeaponTypeCounts(dets []detection.Detection) []ClassCount {
	out := make([]ClassCount, 0)
	idx := map[string]int{}
	for _, d := range dets {
		i, ok := idx[d.Class]
		if !ok {
			i = len(out)
			idx[d.Class] = i
			out = append(out, ClassCount{Class: d.Class})
		}
		out[i].Count++
	}
	return out
}

// TimelinePoint is one frame observation in percent.
type TimelinePoint struct {
	Frame   int     `json:"frame"`
	Class   string  `json:"class"`
	Percent float64 `json:"percent"`
}

// ConfidenceTimeline renders a video confidence series for an over-time chart.
func ConfidenceTimeline(series []detection.ConfidencePoint) []TimelinePoint {
	out := make([]TimelinePoint, 0, len(series))
	for _, p := range series {
		out = append(out, TimelinePoint{Frame: p.Frame, Class: p.Class, Percent: percent(p.Confidence)})
	}
	return out
}

// SeriesPoint is the n-th detection of an image, 1-based.
type SeriesPoint struct {
	Index   int     `json:"index"`
	Class   string  `json:"class"`
	Percent float64 `json:"percent"`
}

func DetectionSeries(dets []detection.Detection) []SeriesPoint {
	out := make([]SeriesPoint, 0, len(dets))
	for i, d := range dets {
		out = append(out, SeriesPoint{Index: i + 1, Class: d.Class, Percent: percent(d.Confidence)})
	}
	return out
}

type SummaryBar struct {
	Class                string  `json:"class"`
	Count                int     `json:"count"`
	MaxConfidencePercent float64 `json:"max_confidence_percent"`
}

// SummaryBars lists one bar per summary entry in result class order.
func SummaryBars(res *detection.DetectionResult) []SummaryBar {
	out := make([]SummaryBar, 0)
	if res == nil {
		return out
	}
	for _, e := range res.Entries() {
		out = append(out, SummaryBar{Class: e.Class, Count: e.Count, MaxConfidencePercent: percent(e.MaxConfidence)})
	}
	return out
}
