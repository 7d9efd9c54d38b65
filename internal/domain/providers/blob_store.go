package providers

import "context"

// BlobStore stores scan images and hands out retrievable references
type BlobStore interface {
	// Put stores data under key and returns its image reference
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get returns the stored bytes and content type
	Get(ctx context.Context, imageRef string) ([]byte, string, error)

	// URL returns a URL a client or collaborator can fetch the image from
	URL(ctx context.Context, imageRef string) (string, error)

	// Exists reports whether imageRef refers to a persisted object
	Exists(ctx context.Context, imageRef string) (bool, error)
}
