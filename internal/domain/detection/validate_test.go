package detection

import (
	"context"
	"errors"
	"testing"
	"time"
)

type transportFunc func(ctx context.Context, asset *MediaAsset, sent func()) ([]byte, error)

func (f transportFunc) Detect(ctx context.Context, asset *MediaAsset, sent func()) ([]byte, error) {
	return f(ctx, asset, sent)
}

func TestTransportFailuresSurfaceThroughThePort(t *testing.T) {
	t.Parallel()

	var port Transport = transportFunc(func(context.Context, *MediaAsset, func()) ([]byte, error) {
		return nil, errors.New("connection reset")
	})
	_, err := port.Detect(context.Background(), nil, nil)
	derr := AsError(err)
	if derr.Kind != KindTransport || !derr.Retryable() || derr.Message != "connection reset" {
		t.Fatalf("expected retryable transport error, got %#v", derr)
	}
	if direct := TransportError(err); direct.Kind != derr.Kind || !errors.Is(direct, err) {
		t.Fatalf("expected TransportError to wrap the cause, got %#v", direct)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		contentType string
		want        MediaKind
		wantErr     bool
	}{
		{"image/jpeg", KindImage, false},
		{"IMAGE/PNG", KindImage, false},
		{" video/mp4 ", KindVideo, false},
		{"video/webm; codecs=vp9", KindVideo, false},
		{"application/pdf", "", true},
		{"text/plain", "", true},
		{"", "", true},
		{"imagejpeg", "", true},
	}
	for _, tc := range cases {
		got, err := Validate(File{Name: "f", ContentType: tc.contentType})
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidFileType) {
				t.Fatalf("%q: expected ErrInvalidFileType, got %v", tc.contentType, err)
			}
			if err.Error() != "Please select an image or video file" {
				t.Fatalf("%q: unexpected message %q", tc.contentType, err.Error())
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: expected %s, got %s (%v)", tc.contentType, tc.want, got, err)
		}
	}
}

func TestNewMediaAssetKeepsFileAttributes(t *testing.T) {
	t.Parallel()

	asset, err := NewMediaAsset(File{Name: "clip.mp4", ContentType: "video/mp4", Size: 2048})
	if err != nil {
		t.Fatalf("new asset: %v", err)
	}
	if asset.Kind != KindVideo || asset.ByteSize != 2048 || asset.DisplayName != "clip.mp4" {
		t.Fatalf("unexpected asset %#v", asset)
	}
	if _, err := asset.Open(); !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent without a source, got %v", err)
	}
}

func TestKindDeadline(t *testing.T) {
	t.Parallel()

	if KindImage.Deadline() != 60*time.Second {
		t.Fatalf("expected 60s image deadline, got %s", KindImage.Deadline())
	}
	if KindVideo.Deadline() != 300*time.Second {
		t.Fatalf("expected 300s video deadline, got %s", KindVideo.Deadline())
	}
}

func TestErrorRetryable(t *testing.T) {
	t.Parallel()

	if InvalidInput(ErrInvalidFileType).Retryable() {
		t.Fatal("invalid input must not be retried")
	}
	if !Timeout(time.Minute).Retryable() || !TransportError(errors.New("reset")).Retryable() {
		t.Fatal("timeout and transport failures must be retried")
	}
	if !Rejected("busy", false).Retryable() {
		t.Fatal("transient rejection must be retried")
	}
	if Rejected("bad request", true).Retryable() {
		t.Fatal("permanent rejection must not be retried")
	}

	ex := Exhausted(3, TransportError(errors.New("connection refused")))
	if ex.Error() != "Failed after 3 attempts: connection refused" {
		t.Fatalf("unexpected message %q", ex.Error())
	}
	if !errors.Is(ex, ErrRetriesExhausted) || ex.Kind != KindTransport {
		t.Fatalf("unexpected exhausted error %#v", ex)
	}
}
