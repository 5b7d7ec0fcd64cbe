package port

import "context"

// ObjectStorage abstracts cloud object storage reads.
type ObjectStorage interface {
	Download(ctx context.Context, bucket, key string) ([]byte, error)
}

// DocumentFetcher resolves a document reference to its raw bytes.
type DocumentFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}
