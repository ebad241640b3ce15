package detection

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/bryanwahyu/weapon-detect/internal/application"
	"github.com/bryanwahyu/weapon-detect/internal/domain/analytics"
	domain "github.com/bryanwahyu/weapon-detect/internal/domain/detection"
)

const (
	// MaxRetries is the number of re-transmissions after the first attempt.
	MaxRetries = 3
	RetryDelay = 2000 * time.Millisecond
)

var (
	ErrClosed   = errors.New("orchestrator closed")
	ErrNoResult = errors.New("no detection result available")

	errDeadline = errors.New("detection deadline exceeded")
)

// Metrics receives orchestrator events. Implementations must be safe for concurrent use.
type Metrics interface {
	Submitted(kind domain.MediaKind)
	Attempted(kind domain.MediaKind)
	Retried(kind domain.MediaKind)
	Succeeded(kind domain.MediaKind)
	Failed(kind domain.MediaKind, errKind domain.ErrorKind)
	// Discarded is called once per superseded request when its goroutine finishes.
	Discarded()
}

type nopMetrics struct{}

func (nopMetrics) Submitted(domain.MediaKind)                {}
func (nopMetrics) Attempted(domain.MediaKind)                {}
func (nopMetrics) Retried(domain.MediaKind)                  {}
func (nopMetrics) Succeeded(domain.MediaKind)                {}
func (nopMetrics) Failed(domain.MediaKind, domain.ErrorKind) {}
func (nopMetrics) Discarded()                                {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option           { return func(o *Orchestrator) { o.log = l } }
func WithClock(c application.Clock) Option      { return func(o *Orchestrator) { o.clock = c } }
func WithMetrics(m Metrics) Option              { return func(o *Orchestrator) { o.metrics = m } }
func WithPreviews(p domain.PreviewStore) Option { return func(o *Orchestrator) { o.previews = p } }
func WithFetcher(f domain.MediaFetcher) Option  { return func(o *Orchestrator) { o.fetcher = f } }

// WithOnChange registers a callback for every applied transition. It may run on any goroutine,
// but calls never overlap and arrive in the order the transitions were applied.
func WithOnChange(fn func(domain.State)) Option { return func(o *Orchestrator) { o.onChange = fn } }

// Orchestrator drives one selected file at a time through validation, transfer, retry and
// normalization. Orchestrator is safe for concurrent use.
type Orchestrator struct {
	transport domain.Transport
	previews  domain.PreviewStore
	fetcher   domain.MediaFetcher
	clock     application.Clock
	log       *zap.Logger
	metrics   Metrics
	onChange  func(domain.State)

	mu      sync.Mutex
	nextID  domain.RequestID
	current domain.RequestID
	state   domain.State
	active  *run
	changed chan struct{}
	closed  bool

	// outbox holds applied states not yet passed to onChange; one goroutine drains it at a time.
	outbox   []domain.State
	emitting bool
}

// run is the lifetime of one request: its transfer goroutine and its preview.
type run struct {
	req    domain.DetectionRequest
	cancel context.CancelFunc

	mu       sync.Mutex
	preview  domain.Preview
	released bool
}

func New(transport domain.Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport: transport,
		clock:     application.SystemClock{},
		log:       zap.NewNop(),
		metrics:   nopMetrics{},
		state:     domain.Idle{},
		changed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit validates file and, when it is an image or video, starts a new request that supersedes
// any request in flight. The transfer outlives ctx cancellation; use Reset to stop it.
// Submit owns file from here on and calls its Release once it is no longer needed.
func (o *Orchestrator) Submit(ctx context.Context, file domain.File) (domain.RequestID, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		if file.Release != nil {
			file.Release()
		}
		return 0, ErrClosed
	}
	prev := o.detachLocked()
	o.setLocked(domain.Validating{File: file.Name})

	asset, err := domain.NewMediaAsset(file)
	if err != nil {
		if file.Release != nil {
			file.Release()
		}
		derr := domain.InvalidInput(err)
		failed := domain.Failed{Err: derr}
		o.setLocked(failed)
		o.mu.Unlock()
		o.stop(ctx, prev)
		o.emit()
		o.metrics.Failed("", derr.Kind)
		o.log.Info("file rejected", zap.String("file", file.Name), zap.String("content_type", file.ContentType))
		return 0, derr
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.nextID++
	r := &run{
		req: domain.DetectionRequest{
			ID:       o.nextID,
			Asset:    asset,
			Deadline: asset.Kind.Deadline(),
		},
		cancel: cancel,
	}
	o.current = r.req.ID
	o.active = r
	o.mu.Unlock()

	o.stop(ctx, prev)
	o.emit()
	o.metrics.Submitted(asset.Kind)
	o.log.Info("detection submitted",
		zap.Uint64("request_id", uint64(r.req.ID)),
		zap.String("kind", string(asset.Kind)),
		zap.String("file", asset.DisplayName),
		zap.Int64("bytes", asset.ByteSize),
	)
	go o.run(runCtx, r)
	return r.req.ID, nil
}

// Reset returns to Idle from any state and cancels the request in flight.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	prev := o.detachLocked()
	o.setLocked(domain.Idle{})
	o.mu.Unlock()
	o.stop(context.Background(), prev)
	o.emit()
}

// Close resets the orchestrator and rejects further submissions.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.closed = true
	prev := o.detachLocked()
	o.setLocked(domain.Idle{})
	o.mu.Unlock()
	o.stop(context.Background(), prev)
	o.emit()
	return nil
}

// State returns the current state.
func (o *Orchestrator) State() domain.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Wait blocks until the orchestrator is Idle or terminal.
func (o *Orchestrator) Wait(ctx context.Context) (domain.State, error) {
	for {
		o.mu.Lock()
		st, ch := o.state, o.changed
		o.mu.Unlock()
		if _, idle := st.(domain.Idle); idle || domain.Terminal(st) {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Changed returns a channel closed on the next transition.
func (o *Orchestrator) Changed() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.changed
}

// Result returns the result of the last successful request.
func (o *Orchestrator) Result() (*domain.DetectionResult, error) {
	if s, ok := o.State().(domain.Success); ok {
		return s.Result, nil
	}
	return nil, ErrNoResult
}

// Analytics computes every registered view over the current result.
func (o *Orchestrator) Analytics() (analytics.Report, error) {
	res, err := o.Result()
	if err != nil {
		return analytics.Report{}, err
	}
	return analytics.BuildReport(res)
}

// Processed fetches the annotated media of the current result.
func (o *Orchestrator) Processed(ctx context.Context) (io.ReadCloser, string, error) {
	res, err := o.Result()
	if err != nil {
		return nil, "", err
	}
	if o.fetcher == nil || res.ProcessedMediaRef == "" {
		return nil, "", ErrNoResult
	}
	return o.fetcher.FetchProcessed(ctx, res.ProcessedMediaRef)
}

// Preview returns the preview of the current asset, if one was acquired.
func (o *Orchestrator) Preview() (domain.Preview, bool) {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preview, r.preview != nil
}

func (o *Orchestrator) run(ctx context.Context, r *run) {
	defer r.cancel()
	log := o.log.With(zap.Uint64("request_id", uint64(r.req.ID)), zap.String("kind", string(r.req.Asset.Kind)))

	if o.previews != nil {
		p, err := o.previews.Acquire(ctx, r.req.Asset)
		switch {
		case err != nil:
			log.Warn("preview unavailable", zap.Error(err))
		case !r.attach(p):
			o.release(ctx, p)
		}
	}

	var (
		attempt = -1
		last    *domain.Error
		result  *domain.DetectionResult
	)
	current := func() domain.DetectionRequest {
		req := r.req
		req.Attempt = attempt
		return req
	}
	operation := func() error {
		attempt++
		req := current()
		if !o.apply(req.ID, domain.Transmitting{Request: req}) {
			return backoff.Permanent(context.Canceled)
		}
		res, derr := o.attempt(ctx, req)
		if derr == nil {
			result = res
			return nil
		}
		last = derr
		log.Warn("detection attempt failed",
			zap.Int("attempt", attempt),
			zap.String("error_kind", string(derr.Kind)),
			zap.Error(derr),
		)
		if ctx.Err() != nil || !derr.Retryable() {
			return backoff.Permanent(derr)
		}
		return derr
	}
	notify := func(_ error, next time.Duration) {
		o.metrics.Retried(r.req.Asset.Kind)
		o.apply(r.req.ID, domain.RetryPending{Request: current(), Cause: last, Delay: next})
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(RetryDelay), MaxRetries), ctx)
	err := backoff.RetryNotifyWithTimer(operation, policy, notify, newClockTimer(o.clock))

	switch {
	case ctx.Err() != nil:
		o.metrics.Discarded()
		log.Debug("detection superseded", zap.Int("attempt", attempt))
	case err == nil:
		if o.apply(r.req.ID, domain.Success{Request: current(), Result: result}) {
			o.metrics.Succeeded(r.req.Asset.Kind)
			log.Info("detection succeeded", zap.Int("attempt", attempt), zap.Int("detections", len(result.Detections)))
		}
	default:
		final := last
		if final == nil {
			final = domain.AsError(err)
		}
		if final.Retryable() {
			final = domain.Exhausted(MaxRetries, final)
		}
		if o.apply(r.req.ID, domain.Failed{Request: current(), Err: final}) {
			o.metrics.Failed(r.req.Asset.Kind, final.Kind)
			log.Error("detection failed", zap.Int("attempt", attempt), zap.Error(final))
		}
	}
}

// attempt runs one transfer under the request deadline. The deadline is tracked as the cancel
// cause so that a timeout stays distinguishable from a transport failure.
func (o *Orchestrator) attempt(ctx context.Context, req domain.DetectionRequest) (*domain.DetectionResult, *domain.Error) {
	o.metrics.Attempted(req.Asset.Kind)
	actx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := o.clock.AfterFunc(req.Deadline, func() { cancel(errDeadline) })
	defer stop()

	// Detect may ignore cancellation, so the attempt ends at the deadline either way and a
	// late response is dropped.
	done := make(chan detectOutcome, 1)
	go func() {
		raw, err := o.transport.Detect(actx, req.Asset, func() { o.markSent(req) })
		done <- detectOutcome{raw: raw, err: err}
	}()

	var out detectOutcome
	select {
	case out = <-done:
	case <-actx.Done():
		out.err = context.Cause(actx)
	}
	if out.err != nil {
		if errors.Is(context.Cause(actx), errDeadline) {
			return nil, domain.Timeout(req.Deadline)
		}
		return nil, domain.AsError(out.err)
	}
	raw := out.raw

	res, err := domain.Normalize(raw, req.Asset.Kind)
	if err != nil {
		if errors.Is(err, domain.ErrNotSuccessful) {
			env, _ := domain.DecodeEnvelope(raw)
			return nil, domain.Rejected(env.Error, false)
		}
		return nil, domain.TransportError(err)
	}
	return res, nil
}

type detectOutcome struct {
	raw []byte
	err error
}

// markSent moves req to AwaitingResult only while that same attempt is still transmitting.
func (o *Orchestrator) markSent(req domain.DetectionRequest) {
	o.mu.Lock()
	tr, ok := o.state.(domain.Transmitting)
	if !ok || req.ID != o.current || tr.Request.Attempt != req.Attempt {
		o.mu.Unlock()
		return
	}
	next := domain.AwaitingResult{Request: req}
	o.setLocked(next)
	o.mu.Unlock()
	o.emit()
}

// apply sets next if id is still the current request and, when from is given, the current
// phase is one of from. Transitions of superseded requests are discarded.
func (o *Orchestrator) apply(id domain.RequestID, next domain.State, from ...domain.Phase) bool {
	o.mu.Lock()
	if id == 0 || id != o.current {
		o.mu.Unlock()
		return false
	}
	if len(from) > 0 && !hasPhase(from, o.state.Phase()) {
		o.mu.Unlock()
		return false
	}
	o.setLocked(next)
	o.mu.Unlock()
	o.emit()
	return true
}

// detachLocked fences the active request and hands it back for stopping outside the lock.
func (o *Orchestrator) detachLocked() *run {
	r := o.active
	o.active = nil
	o.current = 0
	return r
}

func (o *Orchestrator) setLocked(s domain.State) {
	o.state = s
	close(o.changed)
	o.changed = make(chan struct{})
	if o.onChange != nil {
		o.outbox = append(o.outbox, s)
	}
}

// emit delivers queued states to onChange in the order they were applied. A call made while
// another goroutine, or the callback itself, is delivering leaves the queue to that deliverer.
func (o *Orchestrator) emit() {
	o.mu.Lock()
	if o.emitting {
		o.mu.Unlock()
		return
	}
	o.emitting = true
	for len(o.outbox) > 0 {
		batch := o.outbox
		o.outbox = nil
		o.mu.Unlock()
		for _, s := range batch {
			o.onChange(s)
		}
		o.mu.Lock()
	}
	o.emitting = false
	o.mu.Unlock()
}

func (o *Orchestrator) release(ctx context.Context, p domain.Preview) {
	if err := p.Release(context.WithoutCancel(ctx)); err != nil {
		o.log.Warn("preview release failed", zap.Error(err))
	}
}

// stop cancels the transfer of r and releases its preview and asset. Safe on a nil run.
func (o *Orchestrator) stop(ctx context.Context, r *run) {
	if r == nil {
		return
	}
	r.cancel()
	r.req.Asset.Release()
	r.mu.Lock()
	p := r.preview
	r.preview = nil
	r.released = true
	r.mu.Unlock()
	if p != nil {
		o.release(ctx, p)
	}
}

// attach stores p unless the run was already stopped.
func (r *run) attach(p domain.Preview) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return false
	}
	r.preview = p
	return true
}

func hasPhase(set []domain.Phase, p domain.Phase) bool {
	for _, s := range set {
		if s == p {
			return true
		}
	}
	return false
}

// clockTimer adapts application.Clock to backoff.Timer so retry delays follow the injected clock.
type clockTimer struct {
	clock application.Clock
	ch    chan time.Time
	stopF func() bool
}

func newClockTimer(c application.Clock) *clockTimer {
	return &clockTimer{clock: c}
}

func (t *clockTimer) Start(d time.Duration) {
	t.Stop()
	ch := make(chan time.Time, 1)
	t.ch = ch
	t.stopF = t.clock.AfterFunc(d, func() { ch <- t.clock.Now() })
}

func (t *clockTimer) Stop() {
	if t.stopF != nil {
		t.stopF()
		t.stopF = nil
	}
}

func (t *clockTimer) C() <-chan time.Time { return t.ch }
