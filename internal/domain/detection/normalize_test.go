package detection

import (
	"errors"
	"reflect"
	"testing"
)

func TestNormalizeEmptySummary(t *testing.T) {
	t.Parallel()

	res, err := Normalize([]byte(`{"success":true,"detections_summary":{}}`), KindImage)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(res.Summary) != 0 || len(res.Detections) != 0 {
		t.Fatalf("expected empty result, got %#v", res)
	}
	if res.Detections == nil || res.Summary == nil || res.ConfidenceSeries == nil {
		t.Fatal("expected empty, non-nil collections")
	}
}

func TestNormalizeDropsReportedClassesThatWereNotDetected(t *testing.T) {
	t.Parallel()

	raw := `{"success":true,"detections":[],"detections_summary":{"gun":{"count":2,"max_confidence":0.8}}}`
	res, err := Normalize([]byte(raw), KindImage)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(res.Summary) != 0 || len(res.Classes) != 0 {
		t.Fatalf("expected empty summary, got %#v", res.Summary)
	}

	raw = `{"success":true,"detections":[{"class":"knife","confidence":0.5}],` +
		`"detections_summary":{"knife":{"count":3,"max_confidence":0.7},"gun":{"count":1,"max_confidence":0.9}}}`
	res, err = Normalize([]byte(raw), KindImage)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if _, ok := res.Summary["gun"]; ok || len(res.Summary) != 1 {
		t.Fatalf("expected only the detected class, got %#v", res.Summary)
	}
	if knife := res.Summary["knife"]; knife.Count != 3 || knife.MaxConfidence != 0.7 {
		t.Fatalf("expected knife enriched from the reported summary, got %#v", knife)
	}
}

func TestNormalizeRejectsUnsuccessfulAndMalformed(t *testing.T) {
	t.Parallel()

	if _, err := Normalize([]byte(`{"success":false,"error":"boom"}`), KindImage); !errors.Is(err, ErrNotSuccessful) {
		t.Fatalf("expected ErrNotSuccessful, got %v", err)
	}
	if _, err := Normalize([]byte(`<html>`), KindImage); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestNormalizeImagePayload(t *testing.T) {
	t.Parallel()

	raw := `{
		"success": true,
		"detections": [
			{"class": "knife", "confidence": 0.82, "bbox": [10, 20, 30, 40]},
			{"class": "gun", "confidence": "0.64", "region": {"x1": 1, "y1": 2, "x2": 3, "y2": 4}},
			{"class": "knife", "confidence": 1.7}
		],
		"detections_summary": {
			"knife": {
				"count": 2,
				"max_confidence": 0.9,
				"weapon_info": {
					"name": "Combat knife",
					"type": "Bladed",
					"specifications": {"length_cm": 30, "folding": false},
					"prevention_measures": ["Metal detectors"]
				},
				"risk_assessment": {"risk_level": "critical", "threat_analysis": "close range"}
			}
		},
		"processed_image_url": "/static/processed/a.jpg"
	}`
	res, err := Normalize([]byte(raw), KindImage)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !reflect.DeepEqual(res.Classes, []string{"knife", "gun"}) {
		t.Fatalf("unexpected class order %v", res.Classes)
	}
	if res.Detections[0].Region == nil || res.Detections[0].Region.X2 != 30 {
		t.Fatalf("expected bbox region, got %#v", res.Detections[0].Region)
	}
	if res.Detections[1].Confidence != 0.64 || res.Detections[1].Region == nil {
		t.Fatalf("unexpected second detection %#v", res.Detections[1])
	}
	if res.Detections[2].Confidence != 1 {
		t.Fatalf("expected confidence clamped to 1, got %v", res.Detections[2].Confidence)
	}

	knife := res.Summary["knife"]
	if knife.Count != 2 || knife.MaxConfidence != 1 {
		t.Fatalf("unexpected knife entry %#v", knife)
	}
	if knife.WeaponInfo.Name != "Combat knife" || knife.WeaponInfo.Specifications["length_cm"] != "30" ||
		knife.WeaponInfo.Specifications["folding"] != "false" {
		t.Fatalf("unexpected weapon info %#v", knife.WeaponInfo)
	}
	if knife.WeaponInfo.Description != "No description available" {
		t.Fatalf("expected description sentinel, got %q", knife.WeaponInfo.Description)
	}
	if knife.RiskAssessment.RiskLevel != RiskHigh {
		t.Fatalf("expected critical to map to high, got %s", knife.RiskAssessment.RiskLevel)
	}
	if knife.RiskAssessment.RecommendedActions == nil || len(knife.RiskAssessment.RecommendedActions) != 0 {
		t.Fatalf("expected empty recommended actions, got %#v", knife.RiskAssessment.RecommendedActions)
	}

	gun := res.Summary["gun"]
	if gun.Count != 1 || gun.MaxConfidence != 0.64 {
		t.Fatalf("expected synthesised gun entry, got %#v", gun)
	}
	if gun.RiskAssessment.RiskLevel != RiskUnknown || gun.WeaponInfo.Type != "Unknown" {
		t.Fatalf("expected sentinels for gun, got %#v", gun)
	}
	if res.ProcessedMediaRef != "/static/processed/a.jpg" {
		t.Fatalf("unexpected processed ref %q", res.ProcessedMediaRef)
	}
}

func TestNormalizeVideoPayload(t *testing.T) {
	t.Parallel()

	raw := `{
		"success": true,
		"total_frames": 300,
		"processed_frames": 60,
		"processing_time": 12.5,
		"detections_summary": {
			"pistol": {
				"count": 3,
				"max_confidence": 0.77,
				"frames_detected": [5, 10, 15],
				"info": {"name": "Pistol", "type": "Firearm", "description": "Handgun"},
				"risk_assessment": {"risk_level": "HIGH", "safety_measures": "Evacuate"}
			}
		},
		"confidence_data": [
			{"frame": 5, "class": "pistol", "confidence": 0.7},
			{"frame": 10, "class": "pistol", "confidence": 0.77},
			{"frame": 12, "class": "rifle", "confidence": 0.4}
		],
		"processed_video_url": "/static/processed/v.mp4"
	}`
	res, err := Normalize([]byte(raw), "")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Kind != KindVideo {
		t.Fatalf("expected inferred video kind, got %s", res.Kind)
	}
	if len(res.Detections) != 3 || res.Detections[2].Frame == nil || *res.Detections[2].Frame != 12 {
		t.Fatalf("expected detections derived from confidence data, got %#v", res.Detections)
	}
	if len(res.ConfidenceSeries) != 3 {
		t.Fatalf("expected 3 series points, got %d", len(res.ConfidenceSeries))
	}

	pistol := res.Summary["pistol"]
	if pistol.Count != 3 || !reflect.DeepEqual(pistol.FramesDetected, []int{5, 10, 15}) {
		t.Fatalf("unexpected pistol entry %#v", pistol)
	}
	if pistol.WeaponInfo.Name != "Pistol" || pistol.WeaponInfo.Description != "Handgun" {
		t.Fatalf("expected info alias to be read, got %#v", pistol.WeaponInfo)
	}
	if pistol.RiskAssessment.RiskLevel != RiskHigh || !reflect.DeepEqual(pistol.RiskAssessment.SafetyMeasures, []string{"Evacuate"}) {
		t.Fatalf("unexpected risk %#v", pistol.RiskAssessment)
	}
	rifle := res.Summary["rifle"]
	if rifle.Count != 1 || !reflect.DeepEqual(rifle.FramesDetected, []int{12}) {
		t.Fatalf("unexpected rifle entry %#v", rifle)
	}

	if res.ProcessingTimeSeconds == nil || *res.ProcessingTimeSeconds != 12.5 {
		t.Fatalf("unexpected processing time %v", res.ProcessingTimeSeconds)
	}
	if res.FrameStats == nil || res.FrameStats.TotalFrames != 300 || res.FrameStats.ProcessedFrames != 60 {
		t.Fatalf("unexpected frame stats %#v", res.FrameStats)
	}
	if res.ProcessedMediaRef != "/static/processed/v.mp4" {
		t.Fatalf("unexpected processed ref %q", res.ProcessedMediaRef)
	}
}

func TestNormalizeToleratesOddShapes(t *testing.T) {
	t.Parallel()

	raw := `{
		"success": true,
		"detections": "not a list",
		"detections_summary": {"": {"count": "x", "risk_assessment": {"risk_level": "severe"}}},
		"processing_time": null
	}`
	res, err := Normalize([]byte(raw), KindImage)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(res.Detections) != 0 {
		t.Fatalf("expected malformed detections to be dropped, got %#v", res.Detections)
	}
	if len(res.Summary) != 0 {
		t.Fatalf("expected no summary without detections, got %#v", res.Summary)
	}
	if res.ProcessingTimeSeconds != nil {
		t.Fatal("expected absent processing time")
	}
}

func TestParseRiskLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]RiskLevel{
		"low":      RiskLow,
		"Medium":   RiskMedium,
		"moderate": RiskMedium,
		" high ":   RiskHigh,
		"critical": RiskHigh,
		"":         RiskUnknown,
		"other":    RiskUnknown,
	}
	for in, want := range cases {
		if got := ParseRiskLevel(in); got != want {
			t.Fatalf("%q: expected %s, got %s", in, want, got)
		}
	}
}
