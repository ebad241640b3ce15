package preview

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	domain "github.com/bryanwahyu/weapon-detect/internal/domain/detection"
)

func TestTempDirAcquireAndRelease(t *testing.T) {
	t.Parallel()

	store, err := NewTempDir(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	asset, err := domain.NewMediaAsset(domain.File{
		Name:        "../evil name.jpg",
		ContentType: "image/jpeg",
		Size:        5,
		Open:        func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("pixel")), nil },
	})
	if err != nil {
		t.Fatalf("asset: %v", err)
	}

	p, err := store.Acquire(context.Background(), asset)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	fp := p.(*filePreview)
	if !strings.HasSuffix(fp.path, "-evil_name.jpg") {
		t.Fatalf("unexpected preview path %s", fp.path)
	}
	if !strings.HasPrefix(p.URL(), "file://") {
		t.Fatalf("unexpected url %s", p.URL())
	}

	rc, err := p.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "pixel" {
		t.Fatalf("unexpected preview content %q", data)
	}

	if err := p.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := p.Release(context.Background()); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, err := os.Stat(fp.path); !os.IsNotExist(err) {
		t.Fatalf("expected preview file removed, got %v", err)
	}
}

func TestTempDirAcquireWithoutContent(t *testing.T) {
	t.Parallel()

	store, _ := NewTempDir(t.TempDir())
	asset, _ := domain.NewMediaAsset(domain.File{Name: "a.jpg", ContentType: "image/jpeg"})
	if _, err := store.Acquire(context.Background(), asset); err == nil {
		t.Fatal("expected error for asset without content")
	}
}

func TestSafeName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"clip.mp4":         "clip.mp4",
		`C:\tmp\a b.png`:   "a_b.png",
		"":                 "media",
		"../../etc/passwd": "passwd",
	}
	for in, want := range cases {
		if got := safeName(in); got != want {
			t.Fatalf("%q: expected %q, got %q", in, want, got)
		}
	}
}
