package analytics

import (
	"errors"
	"reflect"
	"testing"

	"github.com/bryanwahyu/weapon-detect/internal/domain/detection"
)

func dets(pairs ...any) []detection.Detection {
	out := make([]detection.Detection, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, detection.Detection{Class: pairs[i].(string), Confidence: pairs[i+1].(float64)})
	}
	return out
}

func TestConfidenceHistogramBoundaries(t *testing.T) {
	t.Parallel()

	h := ConfidenceHistogram(dets(
		"a", 0.0,
		"a", 0.2,
		"a", 0.2000001,
		"a", 0.4,
		"a", 0.6,
		"a", 0.61,
		"a", 0.8,
		"a", 1.0,
	))
	want := []int{2, 2, 1, 2, 1}
	for i, b := range h.Buckets {
		if b.Count != want[i] {
			t.Fatalf("bucket %s: expected %d, got %d", b.Label, want[i], b.Count)
		}
	}
	if h.Empty || h.Total != 8 {
		t.Fatalf("unexpected totals %#v", h)
	}
}

func TestConfidenceHistogramSumsToInput(t *testing.T) {
	t.Parallel()

	in := make([]detection.Detection, 0, 101)
	for i := 0; i <= 100; i++ {
		in = append(in, detection.Detection{Class: "x", Confidence: float64(i) / 100})
	}
	h := ConfidenceHistogram(in)
	sum := 0
	for _, b := range h.Buckets {
		sum += b.Count
	}
	if sum != len(in) {
		t.Fatalf("expected %d binned, got %d", len(in), sum)
	}
	if h.Buckets[0].Label != "0-20%" || h.Buckets[0].Count != 21 {
		t.Fatalf("expected 0..20%% in first bucket, got %#v", h.Buckets[0])
	}
}

func TestConfidenceHistogramEmpty(t *testing.T) {
	t.Parallel()

	h := ConfidenceHistogram(nil)
	if !h.Empty || h.Total != 0 || len(h.Buckets) != 5 {
		t.Fatalf("expected empty sentinel, got %#v", h)
	}
	if !reflect.DeepEqual(h, EmptyHistogram()) {
		t.Fatal("expected EmptyHistogram for no detections")
	}
}

func TestWeaponTypeCountsKeepsFirstOccurrenceOrder(t *testing.T) {
	t.Parallel()

	got := WeaponTypeCounts(dets("knife", 0.5, "gun", 0.9, "knife", 0.7, "rifle", 0.3, "gun", 0.2))
	want := []ClassCount{{"knife", 2}, {"gun", 2}, {"rifle", 1}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := WeaponTypeCounts(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty counts, got %#v", got)
	}
}

func TestSeriesAndBars(t *testing.T) {
	t.Parallel()

	series := DetectionSeries(dets("knife", 0.5, "gun", 0.25))
	if len(series) != 2 || series[1].Index != 2 || series[1].Percent != 25 {
		t.Fatalf("unexpected series %#v", series)
	}

	timeline := ConfidenceTimeline([]detection.ConfidencePoint{{Frame: 7, Class: "gun", Confidence: 0.333}})
	if len(timeline) != 1 || timeline[0].Frame != 7 || timeline[0].Percent != 33.3 {
		t.Fatalf("unexpected timeline %#v", timeline)
	}

	res := &detection.DetectionResult{
		Classes: []string{"gun", "knife"},
		Summary: map[string]detection.SummaryEntry{
			"knife": {Class: "knife", Count: 1, MaxConfidence: 0.4},
			"gun":   {Class: "gun", Count: 3, MaxConfidence: 0.95},
		},
	}
	bars := SummaryBars(res)
	want := []SummaryBar{{"gun", 3, 95}, {"knife", 1, 40}}
	if !reflect.DeepEqual(bars, want) {
		t.Fatalf("expected %v, got %v", want, bars)
	}
	if len(SummaryBars(nil)) != 0 {
		t.Fatal("expected no bars for nil result")
	}
}

// Not parallel: exercises the process-wide registry before Init.
func TestComputeRequiresInit(t *testing.T) {
	if views == nil {
		if _, err := Compute(ViewHistogram, nil); !errors.Is(err, ErrNotInitialized) {
			t.Fatalf("expected ErrNotInitialized, got %v", err)
		}
		if _, err := BuildReport(nil); !errors.Is(err, ErrNotInitialized) {
			t.Fatalf("expected ErrNotInitialized from BuildReport, got %v", err)
		}
	}

	Init()
	Init()
	if got := Views(); len(got) != 5 {
		t.Fatalf("expected 5 views, got %v", got)
	}
	if _, err := Compute("pie", nil); !errors.Is(err, ErrUnknownView) {
		t.Fatalf("expected ErrUnknownView, got %v", err)
	}
	v, err := Compute(ViewWeaponTypes, &detection.DetectionResult{Detections: dets("gun", 0.9)})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if counts := v.([]ClassCount); len(counts) != 1 || counts[0].Class != "gun" {
		t.Fatalf("unexpected counts %#v", v)
	}

	rep, err := BuildReport(nil)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !rep.Histogram.Empty || len(rep.WeaponTypes) != 0 {
		t.Fatalf("expected empty report, got %#v", rep)
	}
}

func TestBuildReportUsesRegisteredViews(t *testing.T) {
	t.Parallel()

	table := map[string]View{
		ViewHistogram:   func(*detection.DetectionResult) any { return Histogram{Empty: true} },
		ViewWeaponTypes: func(*detection.DetectionResult) any { return []ClassCount{{Class: "stub", Count: 7}} },
		ViewTimeline:    func(*detection.DetectionResult) any { return []TimelinePoint{} },
		ViewSeries:      func(*detection.DetectionResult) any { return []SeriesPoint{} },
		ViewSummaryBars: func(*detection.DetectionResult) any { return []SummaryBar{} },
	}
	rep, err := buildReport(table, nil)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rep.WeaponTypes) != 1 || rep.WeaponTypes[0].Class != "stub" {
		t.Fatalf("expected the registered view's output, got %#v", rep.WeaponTypes)
	}

	delete(table, ViewTimeline)
	if _, err := buildReport(table, nil); !errors.Is(err, ErrUnknownView) {
		t.Fatalf("expected ErrUnknownView for a missing view, got %v", err)
	}

	table[ViewTimeline] = func(*detection.DetectionResult) any { return "oops" }
	if _, err := buildReport(table, nil); err == nil {
		t.Fatal("expected an error for a view of the wrong type")
	}
}
