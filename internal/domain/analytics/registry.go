package analytics

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bryanwahyu/weapon-detect/internal/domain/detection"
)

var (
	ErrNotInitialized = errors.New("analytics not initialized")
	ErrUnknownView    = errors.New("unknown analytics view")
)

// View derives one presentation dataset from a result.
type View func(res *detection.DetectionResult) any

const (
	ViewHistogram   = "confidence_histogram"
	ViewWeaponTypes = "weapon_type_counts"
	ViewTimeline    = "confidence_timeline"
	ViewSeries      = "detection_series"
	ViewSummaryBars = "summary_bars"
)

var (
	initOnce sync.Once
	mu       sync.RWMutex
	views    map[string]View
)

// Init registers the built-in views. It is safe to call more than once.
func Init() {
	initOnce.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		views = map[string]View{
			ViewHistogram:   func(r *detection.DetectionResult) any { return ConfidenceHistogram(r.Detections) },
			ViewWeaponTypes: func(r *detection.DetectionResult) any { return WeaponTypeCounts(r.Detections) },
			ViewTimeline:    func(r *detection.DetectionResult) any { return ConfidenceTimeline(r.ConfidenceSeries) },
			ViewSeries:      func(r *detection.DetectionResult) any { return DetectionSeries(r.Detections) },
			ViewSummaryBars: func(r *detection.DetectionResult) any { return SummaryBars(r) },
		}
	})
}

// Views lists registered view names, sorted.
func Views() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(views))
	for name := range views {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Compute runs the named view over res. A nil result is treated as empty.
func Compute(name string, res *detection.DetectionResult) (any, error) {
	mu.RLock()
	v, ok := views[name]
	ready := views != nil
	mu.RUnlock()
	if !ready {
		return nil, ErrNotInitialized
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownView, name)
	}
	if res == nil {
		res = &detection.DetectionResult{}
	}
	return v(res), nil
}

// Report is every view computed for one result, used by the bridge API and the CLI.
type Report struct {
	Histogram   Histogram       `json:"confidence_histogram"`
	WeaponTypes []ClassCount    `json:"weapon_type_counts"`
	Timeline    []TimelinePoint `json:"confidence_timeline"`
	Series      []SeriesPoint   `json:"detection_series"`
	SummaryBars []SummaryBar    `json:"summary_bars"`
}

// reportFields maps each Report field to the view that fills it.
var reportFields = []struct {
	view   string
	assign func(*Report, any) bool
}{
	{ViewHistogram, func(r *Report, v any) (ok bool) { r.Histogram, ok = v.(Histogram); return }},
	{ViewWeaponTypes, func(r *Report, v any) (ok bool) { r.WeaponTypes, ok = v.([]ClassCount); return }},
	{ViewTimeline, func(r *Report, v any) (ok bool) { r.Timeline, ok = v.([]TimelinePoint); return }},
	{ViewSeries, func(r *Report, v any) (ok bool) { r.Series, ok = v.([]SeriesPoint); return }},
	{ViewSummaryBars, func(r *Report, v any) (ok bool) { r.SummaryBars, ok = v.([]SummaryBar); return }},
}

// BuildReport runs every registered report view over res. It fails with ErrNotInitialized
// before Init.
func BuildReport(res *detection.DetectionResult) (Report, error) {
	mu.RLock()
	table := views
	mu.RUnlock()
	if table == nil {
		return Report{}, ErrNotInitialized
	}
	return buildReport(table, res)
}

func buildReport(table map[string]View, res *detection.DetectionResult) (Report, error) {
	if res == nil {
		res = &detection.DetectionResult{}
	}
	var rep Report
	for _, f := range reportFields {
		v, ok := table[f.view]
		if !ok {
			return Report{}, fmt.Errorf("%w: %s", ErrUnknownView, f.view)
		}
		out := v(res)
		if !f.assign(&rep, out) {
			return Report{}, fmt.Errorf("analytics view %s returned %T", f.view, out)
		}
	}
	return rep, nil
}
