package detection

import "time"

// Phase enum
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseValidating     Phase = "validating"
	PhaseTransmitting   Phase = "transmitting"
	PhaseAwaitingResult Phase = "awaiting_result"
	PhaseRetryPending   Phase = "retry_pending"
	PhaseSuccess        Phase = "success"
	PhaseFailed         Phase = "failed"
)

// State is the orchestrator's single tagged state. Only the types in this file implement it.
type State interface {
	Phase() Phase
	state()
}

type Idle struct{}

type Validating struct {
	File string
}

type Transmitting struct {
	Request DetectionRequest
}

type AwaitingResult struct {
	Request DetectionRequest
}

// RetryPending carries the failed attempt's cause and the delay before the next one.
type RetryPending struct {
	Request DetectionRequest
	Cause   *Error
	Delay   time.Duration
}

type Success struct {
	Request DetectionRequest
	Result  *DetectionResult
}

// Failed is terminal. Request is the zero value when validation rejected the file.
type Failed struct {
	Request DetectionRequest
	Err     *Error
}

func (Idle) Phase() Phase           { return PhaseIdle }
func (Validating) Phase() Phase     { return PhaseValidating }
func (Transmitting) Phase() Phase   { return PhaseTransmitting }
func (AwaitingResult) Phase() Phase { return PhaseAwaitingResult }
func (RetryPending) Phase() Phase   { return PhaseRetryPending }
func (Success) Phase() Phase        { return PhaseSuccess }
func (Failed) Phase() Phase         { return PhaseFailed }

func (Idle) state()           {}
func (Validating) state()     {}
func (Transmitting) state()   {}
func (AwaitingResult) state() {}
func (RetryPending) state()   {}
func (Success) state()        {}
func (Failed) state()         {}

// Terminal reports whether s is Success or Failed.
func Terminal(s State) bool {
	switch s.(type) {
	case Success, Failed:
		return true
	default:
		return false
	}
}

// RequestOf returns the request a state refers to, if any.
func RequestOf(s State) (DetectionRequest, bool) {
	switch st := s.(type) {
	case Transmitting:
		return st.Request, true
	case AwaitingResult:
		return st.Request, true
	case RetryPending:
		return st.Request, true
	case Success:
		return st.Request, true
	case Failed:
		return st.Request, st.Request.ID != 0
	default:
		return DetectionRequest{}, false
	}
}
