package s3

import (
	"context"
	"fmt"
	"os"
	"strings"

	"finrep/internal/domain"
	"finrep/internal/port"
)

// Fetcher resolves "s3://bucket/key" references through object storage and anything else
// as a local file path. A bare "key" uses the default bucket when one is configured.
type Fetcher struct {
	storage       port.ObjectStorage
	defaultBucket string
}

var _ port.DocumentFetcher = (*Fetcher)(nil)

// NewFetcher creates a Fetcher. storage may be nil when only local paths are used.
func NewFetcher(storage port.ObjectStorage, defaultBucket string) *Fetcher {
	return &Fetcher{storage: storage, defaultBucket: defaultBucket}
}

func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty document reference", domain.ErrInvalidInput)
	}

	if bucket, key, ok := ParseRef(ref); ok {
		if f.storage == nil {
			return nil, fmt.Errorf("%w: object storage is not configured for %s", domain.ErrConfiguration, ref)
		}
		if bucket == "" {
			bucket = f.defaultBucket
		}
		if bucket == "" {
			return nil, fmt.Errorf("%w: no bucket for %s", domain.ErrInvalidInput, ref)
		}
		return f.storage.Download(ctx, bucket, key)
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, ref)
		}
		return nil, fmt.Errorf("reading %s: %w", ref, err)
	}
	return data, nil
}

// ParseRef splits an s3 reference. "s3:///key" and "s3://key" with no slash leave the
// bucket empty.
func ParseRef(ref string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(ref, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, hasKey := strings.Cut(rest, "/")
	if !hasKey {
		return "", bucket, true
	}
	return bucket, key, true
}
