package crawl

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

// SnapshotArchiver writes the rendered HTML of each discovery to a BlobStore
// under prefix/<run>/<domain>/<sha256>.html.
type SnapshotArchiver struct {
	store  crawler.BlobStore
	hasher crawler.Hasher
	prefix string
}

// NewSnapshotArchiver wires a SnapshotArchiver.
func NewSnapshotArchiver(store crawler.BlobStore, hasher crawler.Hasher, prefix string) (*SnapshotArchiver, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	return &SnapshotArchiver{store: store, hasher: hasher, prefix: strings.Trim(prefix, "/")}, nil
}

// Archive stores html and returns the blob URI.
func (a *SnapshotArchiver) Archive(ctx context.Context, runID string, d crawler.DiscoveredURL, html string) (string, error) {
	digest, err := a.hasher.Hash([]byte(d.CanonicalURL + "\n" + html))
	if err != nil {
		return "", fmt.Errorf("hash snapshot: %w", err)
	}
	domain := d.Domain
	if domain == "" {
		domain = "unknown"
	}
	key := path.Join(a.prefix, runID, domain, digest+".html")
	uri, err := a.store.PutObject(ctx, key, "text/html; charset=utf-8", strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("put snapshot %s: %w", key, err)
	}
	return uri, nil
}
