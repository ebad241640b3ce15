package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/weapon-detect/internal/domain/detection"
)

// Store keeps session previews in a MinIO / S3 bucket.
type Store struct {
	client     *minio.Client
	bucketName string
	prefix     string
	urlExpiry  time.Duration
	log        *zap.Logger
}

type Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
	URLExpiry time.Duration
}

// New buat koneksi MinIO dan pastikan bucket ada
func New(ctx context.Context, opts Options, log *zap.Logger) (*Store, error) {
	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", opts.Bucket, err)
		}
	}

	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		client:     cli,
		bucketName: opts.Bucket,
		prefix:     defaultString(opts.Prefix, "previews"),
		urlExpiry:  defaultDuration(opts.URLExpiry, 15*time.Minute),
		log:        log,
	}, nil
}

// Acquire uploads the asset and returns a handle whose Release deletes the object.
func (s *Store) Acquire(ctx context.Context, asset *domain.MediaAsset) (domain.Preview, error) {
	src, err := asset.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	key := objectKey(s.prefix, asset.DisplayName)
	size := asset.ByteSize
	if size <= 0 {
		size = -1
	}
	contentType := asset.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.client.PutObject(ctx, s.bucketName, key, src, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return nil, fmt.Errorf("upload preview: %w", err)
	}

	// bucket private, jadi pakai presigned URL
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, key, s.urlExpiry, nil)
	if err != nil {
		s.remove(ctx, key)
		return nil, fmt.Errorf("presign preview: %w", err)
	}
	s.log.Debug("preview stored", zap.String("bucket", s.bucketName), zap.String("key", key))
	return &objectPreview{store: s, key: key, url: u.String()}, nil
}

func (s *Store) remove(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{})
}

type objectPreview struct {
	store *Store
	key   string
	url   string
	once  sync.Once
	err   error
}

func (p *objectPreview) URL() string { return p.url }

func (p *objectPreview) Open(ctx context.Context) (io.ReadCloser, error) {
	return p.store.client.GetObject(ctx, p.store.bucketName, p.key, minio.GetObjectOptions{})
}

func (p *objectPreview) Release(ctx context.Context) error {
	p.once.Do(func() {
		if err := p.store.remove(ctx, p.key); err != nil {
			p.err = fmt.Errorf("remove preview %s: %w", p.key, err)
		}
	})
	return p.err
}

func objectKey(prefix, name string) string {
	base := path.Base(path.Clean("/" + name))
	if base == "/" || base == "." {
		base = "media"
	}
	return path.Join(prefix, uuid.NewString(), base)
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
