package gcsuploader

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/statement-reconciler/internal/gcs"
)

// StorageService is re-exported for callers that only import this package.
type StorageService = gcs.StorageService

// GCSStorageService is the concrete implementation of StorageService
// that interacts with Google Cloud Storage. It holds one client for its lifetime.
type GCSStorageService struct {
	client *storage.Client
	bucket string
}

// NewGCSStorageService creates a storage service for bucket.
// It assumes Application Default Credentials are configured.
func NewGCSStorageService(ctx context.Context, bucket string) (*GCSStorageService, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewGCSStorageService: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStorageService: create storage client: %w", err)
	}
	return &GCSStorageService{client: client, bucket: bucket}, nil
}

// Bucket returns the bucket name.
func (s *GCSStorageService) Bucket() string {
	return s.bucket
}

// Close closes the storage client.
func (s *GCSStorageService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var _ StorageService = (*GCSStorageService)(nil)
