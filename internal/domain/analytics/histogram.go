package analytics

import (
	"math"

	"github.com/bryanwahyu/weapon-detect/internal/domain/detection"
)

// Bucket is one confidence range in percent, upper bound inclusive.
type Bucket struct {
	Label string  `json:"label"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

type Histogram struct {
	Buckets []Bucket `json:"buckets"`
	Total   int      `json:"total"`
	// Empty is set when there were no detections to bin.
	Empty bool `json:"empty"`
}

var bucketBounds = [...]struct {
	label string
	lower float64
	upper float64
}{
	{"0-20%", 0, 20},
	{"21-40%", 20, 40},
	{"41-60%", 40, 60},
	{"61-80%", 60, 80},
	{"81-100%", 80, 100},
}

// EmptyHistogram is what ConfidenceHistogram returns for no detections.
func EmptyHistogram() Histogram {
	h := Histogram{Buckets: make([]Bucket, len(bucketBounds)), Empty: true}
	for i, b := range bucketBounds {
		h.Buckets[i] = Bucket{Label: b.label, Lower: b.lower, Upper: b.upper}
	}
	return h
}

// ConfidenceHistogram bins detections into five fixed percent ranges. A value on a boundary
// belongs to the lower bucket and 0% falls into the first one.
func ConfidenceHistogram(dets []detection.Detection) Histogram {
	h := EmptyHistogram()
	if len(dets) == 0 {
		return h
	}
	h.Empty = false
	for _, d := range dets {
		h.Buckets[bucketIndex(percent(d.Confidence))].Count++
		h.Total++
	}
	return h
}

func bucketIndex(p float64) int {
	for i, b := range bucketBounds {
		if p <= b.upper {
			return i
		}
	}
	return len(bucketBounds) - 1
}

// percent rounds away float noise so that 0.2 lands exactly on 20.
func percent(confidence float64) float64 {
	return math.Round(confidence*100*1e6) / 1e6
}
