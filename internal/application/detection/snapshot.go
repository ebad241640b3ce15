package detection

import (
	"fmt"

	domain "github.com/bryanwahyu/weapon-detect/internal/domain/detection"
)

// ErrorView is the JSON form of a *domain.Error.
type ErrorView struct {
	Kind      domain.ErrorKind `json:"kind"`
	Message   string           `json:"message"`
	Permanent bool             `json:"permanent,omitempty"`
}

// Snapshot is a flat, serialisable view of a State for presentation.
type Snapshot struct {
	Phase      domain.Phase            `json:"phase"`
	RequestID  domain.RequestID        `json:"request_id,omitempty"`
	Kind       domain.MediaKind        `json:"kind,omitempty"`
	File       string                  `json:"file,omitempty"`
	Attempt    int                     `json:"attempt"`
	MaxRetries int                     `json:"max_retries"`
	RetryInMS  int64                   `json:"retry_in_ms,omitempty"`
	Progress   string                  `json:"progress,omitempty"`
	Error      *ErrorView              `json:"error,omitempty"`
	Result     *domain.DetectionResult `json:"result,omitempty"`
	PreviewURL string                  `json:"preview_url,omitempty"`
}

// Describe flattens s.
func Describe(s domain.State) Snapshot {
	snap := Snapshot{Phase: s.Phase(), MaxRetries: MaxRetries}
	if req, ok := domain.RequestOf(s); ok {
		snap.RequestID = req.ID
		snap.Attempt = req.Attempt
		if req.Asset != nil {
			snap.Kind = req.Asset.Kind
			snap.File = req.Asset.DisplayName
		}
	}

	switch st := s.(type) {
	case domain.Validating:
		snap.File = st.File
		snap.Progress = "Validating file..."
	case domain.Transmitting:
		snap.Progress = fmt.Sprintf("Uploading %s...", st.Request.Asset.Kind)
	case domain.AwaitingResult:
		snap.Progress = "Processing..."
	case domain.RetryPending:
		snap.RetryInMS = st.Delay.Milliseconds()
		snap.Progress = fmt.Sprintf("Retrying... Attempt %d/%d", st.Request.Attempt+1, MaxRetries)
		snap.Error = viewOf(st.Cause)
	case domain.Success:
		snap.Result = st.Result
	case domain.Failed:
		snap.Error = viewOf(st.Err)
	}
	return snap
}

// Snapshot describes the current state including the preview location.
func (o *Orchestrator) Snapshot() Snapshot {
	snap := Describe(o.State())
	if p, ok := o.Preview(); ok {
		snap.PreviewURL = p.URL()
	}
	return snap
}

func viewOf(e *domain.Error) *ErrorView {
	if e == nil {
		return nil
	}
	return &ErrorView{Kind: e.Kind, Message: e.Message, Permanent: e.Permanent}
}
