package preview

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/weapon-detect/internal/domain/detection"
)

// TempDir keeps previews as files under a local directory (default ./temp/previews).
type TempDir struct {
	dir string
}

func NewTempDir(dir string) (*TempDir, error) {
	if dir == "" {
		dir = filepath.Join(".", "temp", "previews")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create preview dir: %w", err)
	}
	return &TempDir{dir: dir}, nil
}

// Acquire copies the asset content into a fresh file.
func (s *TempDir) Acquire(ctx context.Context, asset *domain.MediaAsset) (domain.Preview, error) {
	src, err := asset.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	path := filepath.Join(s.dir, uuid.NewString()+"-"+safeName(asset.DisplayName))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create preview: %w", err)
	}
	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: src}); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write preview: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write preview: %w", err)
	}
	return &filePreview{path: path}, nil
}

type filePreview struct {
	path string
	once sync.Once
	err  error
}

func (p *filePreview) URL() string {
	abs, err := filepath.Abs(p.path)
	if err != nil {
		abs = p.path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

func (p *filePreview) Open(context.Context) (io.ReadCloser, error) {
	return os.Open(p.path)
}

// Release removes the file; later calls return the first result.
func (p *filePreview) Release(context.Context) error {
	p.once.Do(func() {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			p.err = err
		}
	})
	return p.err
}

// safeName keeps the base name and replaces characters that are awkward in paths and keys.
func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "media"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
