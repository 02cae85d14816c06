package gcs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrObjectNotFound is returned when an object path does not exist.
var ErrObjectNotFound = errors.New("object not found")

// StorageService provides an interface for cloud storage operations.
// Object paths are relative to the service's bucket.
type StorageService interface {
	// Put stores data under objectPath and returns its storage URI.
	Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error)

	// Get downloads the bytes stored under objectPath.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// SignedURL returns a time-limited read URL for objectPath.
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

// URI builds a gs:// URI.
func URI(bucket, objectPath string) string {
	return "gs://" + bucket + "/" + strings.TrimPrefix(objectPath, "/")
}

// ParseURI splits a gs:// URI into bucket and object path.
func ParseURI(uri string) (bucket, objectPath string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FileName extracts the file name from a URI or object path.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func FileName(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	if strings.HasPrefix(uri, "gs://") {
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) < 2 {
			return trimmed
		}
		trimmed = parts[1]
	}
	return path.Base(trimmed)
}

// StatementPath is the canonical location of an uploaded statement:
// statements/<company>/<bank>/<yyyy>/<mm>/<file>.
func StatementPath(companyID, bankID string, year, month int, fileName string) string {
	if companyID == "" {
		companyID = "_"
	}
	return fmt.Sprintf("statements/%s/%s/%04d/%02d/%s", companyID, bankID, year, month, sanitize(fileName))
}

// IncomingPath is where a batch upload is staged before processing.
func IncomingPath(jobID string, index int, fileName string) string {
	return fmt.Sprintf("incoming/%s/%03d-%s", jobID, index, sanitize(fileName))
}

func sanitize(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "document.pdf"
	}
	return name
}
