package detection

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Envelope is the part of every service response the transport looks at.
type Envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// DecodeEnvelope reads only the success flag and error message of raw.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// raw response shapes; both image and video payloads decode into rawPayload.
type rawPayload struct {
	Success           bool            `json:"success"`
	Error             string          `json:"error"`
	Detections        json.RawMessage `json:"detections"`
	Summary           json.RawMessage `json:"detections_summary"`
	ProcessedImageURL string          `json:"processed_image_url"`
	ProcessedVideoURL string          `json:"processed_video_url"`
	TotalFrames       flexFloat       `json:"total_frames"`
	ProcessedFrames   flexFloat       `json:"processed_frames"`
	ProcessingTime    flexFloat       `json:"processing_time"`
	ConfidenceData    json.RawMessage `json:"confidence_data"`
}

// sections decodes the collection fields of p, dropping any that are not shaped as expected.
func (p *rawPayload) sections() ([]rawDetection, map[string]rawSummary, []rawPoint) {
	var (
		dets    []rawDetection
		summary map[string]rawSummary
		points  []rawPoint
	)
	if present(p.Detections) && json.Unmarshal(p.Detections, &dets) != nil {
		dets = nil
	}
	if present(p.Summary) && json.Unmarshal(p.Summary, &summary) != nil {
		summary = nil
	}
	if present(p.ConfidenceData) && json.Unmarshal(p.ConfidenceData, &points) != nil {
		points = nil
	}
	return dets, summary, points
}

type rawDetection struct {
	Class      string    `json:"class"`
	Confidence flexFloat `json:"confidence"`
	Region     rawRegion `json:"region"`
	BBox       rawRegion `json:"bbox"`
	Frame      flexFloat `json:"frame"`
}

type rawSummary struct {
	Count          flexFloat       `json:"count"`
	MaxConfidence  flexFloat       `json:"max_confidence"`
	FramesDetected []flexFloat     `json:"frames_detected"`
	WeaponInfo     json.RawMessage `json:"weapon_info"`
	Info           json.RawMessage `json:"info"` // video routes use "info"
	RiskAssessment json.RawMessage `json:"risk_assessment"`
}

type rawPoint struct {
	Frame      flexFloat `json:"frame"`
	Class      string    `json:"class"`
	Confidence flexFloat `json:"confidence"`
}

type rawWeaponInfo struct {
	Name               string         `json:"name"`
	Type               string         `json:"type"`
	Description        string         `json:"description"`
	Specifications     map[string]any `json:"specifications"`
	PreventionMeasures flexStrings    `json:"prevention_measures"`
}

type rawRisk struct {
	RiskLevel           string      `json:"risk_level"`
	ThreatAnalysis      string      `json:"threat_analysis"`
	RecommendedActions  flexStrings `json:"recommended_actions"`
	SafetyMeasures      flexStrings `json:"safety_measures"`
	EmergencyProcedures flexStrings `json:"emergency_procedures"`
}

// flexFloat accepts a number, a numeric string or null. Anything else is treated as absent.
type flexFloat struct {
	v  float64
	ok bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.v, f.ok = v, true
	return nil
}

// flexStrings accepts a list of scalars, a single string or null.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if item == nil {
				continue
			}
			out = append(out, stringify(item))
		}
		*f = out
	case string:
		if x != "" {
			*f = flexStrings{x}
		}
	}
	return nil
}

// rawRegion accepts [x1,y1,x2,y2] or {"x1":..,"y1":..,"x2":..,"y2":..}.
type rawRegion struct {
	r *Region
}

func (rr *rawRegion) UnmarshalJSON(b []byte) error {
	var arr []float64
	if err := json.Unmarshal(b, &arr); err == nil {
		if len(arr) == 4 {
			rr.r = &Region{X1: arr[0], Y1: arr[1], X2: arr[2], Y2: arr[3]}
		}
		return nil
	}
	var obj struct {
		X1 *float64 `json:"x1"`
		Y1 *float64 `json:"y1"`
		X2 *float64 `json:"x2"`
		Y2 *float64 `json:"y2"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil
	}
	if obj.X1 == nil || obj.Y1 == nil || obj.X2 == nil || obj.Y2 == nil {
		return nil
	}
	rr.r = &Region{X1: *obj.X1, Y1: *obj.Y1, X2: *obj.X2, Y2: *obj.Y2}
	return nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func present(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && !bytes.Equal(t, []byte("null"))
}
