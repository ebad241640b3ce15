package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptrace"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/weapon-detect/internal/domain/detection"
)

const (
	formField = "file"
	// defaultMaxResponse bounds a detection payload read into memory.
	defaultMaxResponse = 32 << 20
)

// Client talks to the remote weapon detection service.
type Client struct {
	base        *url.URL
	http        *http.Client
	log         *zap.Logger
	maxResponse int64
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithLogger(l *zap.Logger) Option      { return func(c *Client) { c.log = l } }

// WithMaxResponseBytes caps the detection payload size; larger payloads fail permanently.
func WithMaxResponseBytes(n int64) Option { return func(c *Client) { c.maxResponse = n } }

// New parses baseURL (for example http://localhost:5000). The http.Client has no overall
// timeout; deadlines come from the caller's context.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse detector url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("detector url %q must be http or https", baseURL)
	}
	c := &Client{base: u, http: &http.Client{}, log: zap.NewNop(), maxResponse: defaultMaxResponse}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Detect implements domain.Transport. The asset is streamed as multipart field "file" to
// /api/{kind}/detect.
func (c *Client) Detect(ctx context.Context, asset *domain.MediaAsset, sent func()) ([]byte, error) {
	content, err := asset.Open()
	if err != nil {
		return nil, domain.InvalidInput(fmt.Errorf("open %s: %w", asset.DisplayName, err))
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer content.Close()
		pw.CloseWithError(writeForm(mw, asset, content))
	}()

	var once sync.Once
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil && sent != nil {
				once.Do(sent)
			}
		},
	}
	endpoint := c.endpoint(asset.Kind)
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodPost, endpoint, pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, domain.TransportError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.TransportError(fmt.Errorf("detection request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponse+1))
	if err != nil {
		return nil, domain.TransportError(fmt.Errorf("read detection response: %w", err))
	}
	if int64(len(raw)) > c.maxResponse {
		c.log.Warn("detection response too large", zap.String("url", endpoint), zap.Int64("limit", c.maxResponse))
		return nil, domain.Rejected(fmt.Sprintf("detection response exceeds %d bytes", c.maxResponse), true)
	}
	c.log.Debug("detection response",
		zap.String("url", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Duration("duration", time.Since(start)),
	)
	return classify(resp.StatusCode, raw)
}

// classify passes 2xx bodies through. Other statuses carrying a {success:false,error} envelope
// become rejections, permanent for 4xx other than 408 and 429. Anything else is a transport
// failure.
func classify(status int, raw []byte) ([]byte, error) {
	if status >= 200 && status < 300 {
		return raw, nil
	}
	env, err := domain.DecodeEnvelope(raw)
	if err != nil || env.Success || env.Error == "" {
		return nil, domain.TransportError(fmt.Errorf("detection service returned status %d", status))
	}
	permanent := status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
	return nil, domain.Rejected(env.Error, permanent)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeForm(mw *multipart.Writer, asset *domain.MediaAsset, content io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		formField, quoteEscaper.Replace(asset.DisplayName)))
	ct := asset.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("stream %s: %w", asset.DisplayName, err)
	}
	return mw.Close()
}

func (c *Client) endpoint(kind domain.MediaKind) string {
	return c.base.JoinPath("api", string(kind), "detect").String()
}

// FetchProcessed implements domain.MediaFetcher. ref is usually a path such as
// /static/processed/x.jpg relative to the service.
func (c *Client) FetchProcessed(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch processed media: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("fetch processed media: status %d", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

var errForeignHost = errors.New("processed media ref points to another host")

func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse processed ref: %w", err)
	}
	abs := c.base.ResolveReference(u)
	if abs.Host != c.base.Host {
		return "", errForeignHost
	}
	return abs.String(), nil
}

// Check reports whether the service answers at all. The service has no dedicated health
// route, so any status below 500 counts as up.
func (c *Client) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.JoinPath("health").String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("detection service not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("detection service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
