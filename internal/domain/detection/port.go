package detection

import (
	"context"
	"io"
)

// Transport port (interface to the remote detection service)
type Transport interface {
	// Detect performs exactly one outbound transfer of asset and returns the raw body of a 2xx
	// response. sent is invoked once the request body has been fully written. Failures are
	// returned as *Error classified Transport or ServerRejected.
	Detect(ctx context.Context, asset *MediaAsset, sent func()) ([]byte, error)
}

// MediaFetcher port (second fetch for the annotated media)
type MediaFetcher interface {
	FetchProcessed(ctx context.Context, ref string) (io.ReadCloser, string, error)
}

// PreviewStore port (local preview resource for a selected asset)
type PreviewStore interface {
	Acquire(ctx context.Context, asset *MediaAsset) (Preview, error)
}

// Preview is a handle released exactly once by its owner.
type Preview interface {
	URL() string
	Open(ctx context.Context) (io.ReadCloser, error)
	Release(ctx context.Context) error
}
