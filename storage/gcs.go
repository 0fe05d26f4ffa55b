// Package storage fronts the photo object store. Rows in the database hold
// object keys; bytes live in a GCS bucket reached through V4 signed URLs so
// uploads never pass through the API server.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// PhotoStore is the object-store surface the handlers use. Tests substitute
// an in-memory fake.
type PhotoStore interface {
	// SignedUploadURL returns a URL the client PUTs the photo bytes to,
	// plus the object key to record on the log row.
	SignedUploadURL(ctx context.Context, userID int64, contentType string) (url, key string, err error)
	// Reader opens the stored object for serving.
	Reader(ctx context.Context, key string) (io.ReadCloser, error)
}

// GCSStore is the production PhotoStore backed by a GCS bucket.
type GCSStore struct {
	client *gcs.Client
	bucket string
	ttl    time.Duration
}

// NewGCSStore creates a GCSStore. ttl bounds how long a signed upload URL
// stays valid (default 3 minutes).
func NewGCSStore(ctx context.Context, bucket string, ttl time.Duration) (*GCSStore, error) {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, ttl: ttl}, nil
}

// SignedUploadURL mints a V4 signed PUT URL for a fresh object key under
// the user's prefix.
func (s *GCSStore) SignedUploadURL(_ context.Context, userID int64, contentType string) (string, string, error) {
	key := fmt.Sprintf("photos/%d/%s", userID, uuid.New().String())
	opts := &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodPut,
		Headers: []string{"Content-Type:" + contentType},
		Expires: time.Now().Add(s.ttl),
	}
	url, err := s.client.Bucket(s.bucket).SignedURL(key, opts)
	if err != nil {
		return "", "", fmt.Errorf("storage: sign upload url: %w", err)
	}
	return url, key, nil
}

// Reader opens the object for streaming to the client.
func (s *GCSStore) Reader(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", key, err)
	}
	return r, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
