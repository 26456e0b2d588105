package crawler

import (
	"context"
	"io"
	"time"
)

// Renderer renders a page, optionally executing JavaScript. Implementations
// return *Error values so callers can tell retryable failures apart.
type Renderer interface {
	Render(ctx context.Context, url string, opts RenderOptions) (RenderResult, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run reports to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunQueue provides enqueue/dequeue semantics for crawl runs.
type RunQueue interface {
	Enqueue(ctx context.Context, req RunRequest) error
	Dequeue(ctx context.Context) (RunRequest, error)
}

// Hasher computes digests for snapshot keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
