package gcsuploader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/statement-reconciler/internal/gcs"
)

// Get implements StorageService.
func (s *GCSStorageService) Get(ctx context.Context, objectPath string) ([]byte, error) {
	return readObject(ctx, s.client, s.bucket, objectPath)
}

// FetchFromGCS downloads the file bytes from the given gs:// URI with a short-lived client.
func FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	bucket, objectPath, err := gcs.ParseURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: %w", err)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: creating storage client: %w", err)
	}
	defer client.Close()

	return readObject(ctx, client, bucket, objectPath)
}

func readObject(ctx context.Context, client *storage.Client, bucket, objectPath string) ([]byte, error) {
	rc, err := client.Bucket(bucket).Object(objectPath).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("readObject %s/%s: %w", bucket, objectPath, gcs.ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("readObject: opening %s/%s: %w", bucket, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("readObject: reading bytes: %w", err)
	}
	return data, nil
}
