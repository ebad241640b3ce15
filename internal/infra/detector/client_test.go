package detector

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	domain "github.com/bryanwahyu/weapon-detect/internal/domain/detection"
)

func testAsset(t *testing.T, name, contentType, body string) *domain.MediaAsset {
	t.Helper()
	asset, err := domain.NewMediaAsset(domain.File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Open:        func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(body)), nil },
	})
	if err != nil {
		t.Fatalf("asset: %v", err)
	}
	return asset
}

func TestDetectStreamsMultipartFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/video/detect" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "frames" || hdr.Filename != `my "clip".mp4` {
			t.Errorf("unexpected upload %q %q", hdr.Filename, data)
		}
		if ct := hdr.Header.Get("Content-Type"); ct != "video/mp4" {
			t.Errorf("unexpected part content type %q", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"total_frames":10}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL + "/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var sent atomic.Int32
	raw, err := c.Detect(context.Background(), testAsset(t, `my "clip".mp4`, "video/mp4", "frames"), func() { sent.Add(1) })
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if string(raw) != `{"success":true,"total_frames":10}` {
		t.Fatalf("unexpected payload %s", raw)
	}
	if sent.Load() != 1 {
		t.Fatalf("expected sent once, got %d", sent.Load())
	}
}

func TestDetectClassifiesFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		body      string
		kind      domain.ErrorKind
		permanent bool
		message   string
	}{
		{"bad request", http.StatusBadRequest, `{"success":false,"error":"No file provided"}`, domain.KindServerRejected, true, "No file provided"},
		{"throttled", http.StatusTooManyRequests, `{"success":false,"error":"slow down"}`, domain.KindServerRejected, false, "slow down"},
		{"server error", http.StatusInternalServerError, `{"success":false,"error":"Error processing image"}`, domain.KindServerRejected, false, "Error processing image"},
		{"bad gateway", http.StatusBadGateway, `<html>bad gateway</html>`, domain.KindTransport, false, "detection service returned status 502"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.Copy(io.Discard, r.Body)
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			c, _ := New(srv.URL)
			_, err := c.Detect(context.Background(), testAsset(t, "a.jpg", "image/jpeg", "img"), nil)
			var derr *domain.Error
			if !errors.As(err, &derr) {
				t.Fatalf("expected *domain.Error, got %v", err)
			}
			if derr.Kind != tc.kind || derr.Permanent != tc.permanent || derr.Message != tc.message {
				t.Fatalf("unexpected error %#v", derr)
			}
		})
	}
}

func TestDetectRejectsOversizedResponse(t *testing.T) {
	t.Parallel()

	payload := `{"success":true,"detections":[]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		io.WriteString(w, payload)
	}))
	defer srv.Close()

	exact, _ := New(srv.URL, WithMaxResponseBytes(int64(len(payload))))
	raw, err := exact.Detect(context.Background(), testAsset(t, "a.jpg", "image/jpeg", "img"), nil)
	if err != nil || string(raw) != payload {
		t.Fatalf("expected payload at the limit to pass, got %q %v", raw, err)
	}

	small, _ := New(srv.URL, WithMaxResponseBytes(int64(len(payload)-1)))
	_, err = small.Detect(context.Background(), testAsset(t, "a.jpg", "image/jpeg", "img"), nil)
	var derr *domain.Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected *domain.Error, got %v", err)
	}
	if derr.Retryable() || !strings.Contains(derr.Message, "exceeds") {
		t.Fatalf("expected permanent size error, got %#v", derr)
	}
}

func TestDetectPassesUnsuccessfulOKBodyThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"error":"busy"}`)
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	raw, err := c.Detect(context.Background(), testAsset(t, "a.jpg", "image/jpeg", "img"), nil)
	if err != nil {
		t.Fatalf("expected 2xx body to be returned, got %v", err)
	}
	if !strings.Contains(string(raw), "busy") {
		t.Fatalf("unexpected body %s", raw)
	}
}

func TestDetectUnreachableIsTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := New(url)
	_, err := c.Detect(context.Background(), testAsset(t, "a.jpg", "image/jpeg", "img"), nil)
	var derr *domain.Error
	if !errors.As(err, &derr) || derr.Kind != domain.KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestFetchProcessed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/static/processed/a.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		io.WriteString(w, "annotated")
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	body, ct, err := c.FetchProcessed(context.Background(), "/static/processed/a.jpg")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "annotated" || ct != "image/jpeg" {
		t.Fatalf("unexpected media %q %q", data, ct)
	}

	if _, _, err := c.FetchProcessed(context.Background(), "/static/missing.jpg"); err == nil {
		t.Fatal("expected error for missing media")
	}
	if _, _, err := c.FetchProcessed(context.Background(), "http://elsewhere.example/x.jpg"); !errors.Is(err, errForeignHost) {
		t.Fatalf("expected errForeignHost, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	up := httptest.NewServer(http.NotFoundHandler())
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	c, _ := New(up.URL)
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("expected 404 to count as up, got %v", err)
	}
	c, _ = New(down.URL)
	if err := c.Check(context.Background()); err == nil {
		t.Fatal("expected 503 to count as down")
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	t.Parallel()

	if _, err := New("ftp://detector"); err == nil {
		t.Fatal("expected error for non-http scheme")
	}
}
