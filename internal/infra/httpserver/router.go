package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appdetection "github.com/bryanwahyu/weapon-detect/internal/application/detection"
	"github.com/bryanwahyu/weapon-detect/internal/application/sessions"
	"github.com/bryanwahyu/weapon-detect/internal/domain/analytics"
	domain "github.com/bryanwahyu/weapon-detect/internal/domain/detection"
	"github.com/bryanwahyu/weapon-detect/internal/middleware"
)

const maxWait = 60 * time.Second

// Options configure the bridge router. Zero values disable the optional parts.
type Options struct {
	APIKey         string
	AllowedOrigins []string
	Limiter        *middleware.RateLimiter
	Health         map[string]middleware.HealthChecker
	HealthTimeout  time.Duration
	UploadDir      string
	MaxUploadBytes int64
	Logger         *zap.Logger
}

type Router struct {
	sessions  *sessions.Registry
	log       *zap.Logger
	uploadDir string
	maxUpload int64
}

func NewRouter(reg *sessions.Registry, opts Options) (http.Handler, error) {
	analytics.Init()

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	dir := opts.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}
	r := &Router{sessions: reg, log: log, uploadDir: dir, maxUpload: opts.MaxUploadBytes}

	mux := chi.NewRouter()
	mux.Use(middleware.Logging(log))
	mux.Use(middleware.MetricsMiddleware)
	if len(opts.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	mux.Use(middleware.APIKeyAuth(opts.APIKey))

	mux.Get("/health", middleware.HealthHandler(opts.Health, opts.HealthTimeout))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1/sessions", func(rt chi.Router) {
		rt.Post("/", r.wrap(r.handleCreate))
		rt.Route("/{id}", func(rt chi.Router) {
			rt.Use(middleware.SessionID("id"))
			rt.Get("/", r.wrap(r.handleState))
			rt.Delete("/", r.wrap(r.handleDelete))
			if opts.Limiter != nil {
				rt.With(middleware.RateLimit(opts.Limiter)).Post("/submit", r.wrap(r.handleSubmit))
			} else {
				rt.Post("/submit", r.wrap(r.handleSubmit))
			}
			rt.Post("/reset", r.wrap(r.handleReset))
			rt.Get("/wait", r.wrap(r.handleWait))
			rt.Get("/analytics", r.wrap(r.handleAnalytics))
			rt.Get("/processed", r.wrap(r.handleProcessed))
			rt.Get("/preview", r.wrap(r.handlePreview))
		})
	})

	return mux, nil
}

// httpError carries a status chosen by the handler.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var (
			he     *httpError
			de     *domain.Error
			tooBig *http.MaxBytesError
		)
		switch {
		case errors.As(err, &he):
			writeError(w, he.status, he.msg)
		case errors.As(err, &tooBig):
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		case errors.Is(err, sessions.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, appdetection.ErrNoResult):
			writeError(w, http.StatusNotFound, "no detection result available")
		case errors.Is(err, appdetection.ErrClosed):
			writeError(w, http.StatusGone, "session closed")
		case errors.As(err, &de) && de.Kind == domain.KindInvalidInput:
			writeError(w, http.StatusBadRequest, de.Message)
		default:
			r.log.Error("request failed", zap.String("path", req.URL.Path), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	middleware.WriteError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func (r *Router) session(req *http.Request) (uuid.UUID, *appdetection.Orchestrator, error) {
	id, _ := middleware.SessionFromContext(req.Context())
	o, err := r.sessions.Get(id)
	return id, o, err
}

// POST /v1/sessions
func (r *Router) handleCreate(w http.ResponseWriter, req *http.Request) error {
	id, o := r.sessions.Create()
	w.Header().Set("Location", "/v1/sessions/"+id.String())
	return writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": id,
		"state":      o.Snapshot(),
	})
}

// GET /v1/sessions/{id}
func (r *Router) handleState(w http.ResponseWriter, req *http.Request) error {
	_, o, err := r.session(req)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, o.Snapshot())
}

// DELETE /v1/sessions/{id}
func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) error {
	id, _ := middleware.SessionFromContext(req.Context())
	if err := r.sessions.Delete(id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// POST /v1/sessions/{id}/submit, multipart field "file"
// The upload is spooled to disk and handed to the orchestrator, which transfers it in the
// background. The response is the state right after submission.
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) error {
	id, o, err := r.session(req)
	if err != nil {
		return err
	}
	if r.maxUpload > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, r.maxUpload)
	}

	file, err := r.spool(req)
	if err != nil {
		return err
	}

	reqID, err := o.Submit(req.Context(), file)
	if err != nil {
		return err
	}
	r.log.Debug("upload accepted",
		zap.String("session", id.String()),
		zap.Uint64("request_id", uint64(reqID)),
		zap.String("file", file.Name),
		zap.Int64("bytes", file.Size),
	)
	return writeJSON(w, http.StatusAccepted, o.Snapshot())
}

// spool copies the "file" part to a private temp file. The returned File removes it on Release.
func (r *Router) spool(req *http.Request) (domain.File, error) {
	mr, err := req.MultipartReader()
	if err != nil {
		return domain.File{}, badRequest("expected multipart form: %v", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return domain.File{}, badRequest("missing form field %q", "file")
		}
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return domain.File{}, err
			}
			return domain.File{}, badRequest("read multipart form: %v", err)
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		defer part.Close()
		return r.save(part)
	}
}

func (r *Router) save(part *multipart.Part) (domain.File, error) {
	tmp, err := os.CreateTemp(r.uploadDir, "upload-*")
	if err != nil {
		return domain.File{}, err
	}
	path := tmp.Name()
	size, err := io.Copy(tmp, part)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return domain.File{}, err
	}

	contentType := part.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		// browsers send octet-stream for unknown extensions; sniff instead
		if mt, err := mimetype.DetectFile(path); err == nil {
			contentType = mt.String()
		}
	}

	log := r.log
	return domain.File{
		Name:        middleware.SanitizeFilename(part.FileName()),
		ContentType: contentType,
		Size:        size,
		Open:        func() (io.ReadCloser, error) { return os.Open(path) },
		Release: func() {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn("remove upload", zap.String("path", path), zap.Error(err))
			}
		},
	}, nil
}

// POST /v1/sessions/{id}/reset
func (r *Router) handleReset(w http.ResponseWriter, req *http.Request) error {
	_, o, err := r.session(req)
	if err != nil {
		return err
	}
	o.Reset()
	return writeJSON(w, http.StatusOK, o.Snapshot())
}

// GET /v1/sessions/{id}/wait?timeout=30s
// Long-polls until the session is Idle or terminal, or the timeout passes.
func (r *Router) handleWait(w http.ResponseWriter, req *http.Request) error {
	_, o, err := r.session(req)
	if err != nil {
		return err
	}
	timeout := maxWait
	if v := req.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return badRequest("invalid timeout %q", v)
		}
		if d < timeout {
			timeout = d
		}
	}
	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()

	st, err := o.Wait(ctx)
	status := http.StatusOK
	if err != nil {
		status = http.StatusAccepted
	}
	return writeJSON(w, status, appdetection.Describe(st))
}

// GET /v1/sessions/{id}/analytics
func (r *Router) handleAnalytics(w http.ResponseWriter, req *http.Request) error {
	_, o, err := r.session(req)
	if err != nil {
		return err
	}
	report, err := o.Analytics()
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, report)
}

// GET /v1/sessions/{id}/processed
func (r *Router) handleProcessed(w http.ResponseWriter, req *http.Request) error {
	_, o, err := r.session(req)
	if err != nil {
		return err
	}
	rc, contentType, err := o.Processed(req.Context())
	if err != nil {
		return err
	}
	defer rc.Close()
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	_, err = io.Copy(w, rc)
	return err
}

// GET /v1/sessions/{id}/preview
func (r *Router) handlePreview(w http.ResponseWriter, req *http.Request) error {
	_, o, err := r.session(req)
	if err != nil {
		return err
	}
	p, ok := o.Preview()
	if !ok {
		return &httpError{status: http.StatusNotFound, msg: "no preview available"}
	}
	rc, err := p.Open(req.Context())
	if err != nil {
		return err
	}
	defer rc.Close()
	if sr, ok := domain.RequestOf(o.State()); ok && sr.Asset != nil {
		w.Header().Set("Content-Type", sr.Asset.ContentType)
	}
	_, err = io.Copy(w, rc)
	return err
}
