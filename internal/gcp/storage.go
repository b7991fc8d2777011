package gcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// ParseGCSURI splits a gs://bucket/object URI into its bucket and object
// name. The object part may be empty for a bare bucket URI.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URI: %q", uri)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in URI: %q", uri)
	}
	return bucket, object, nil
}

// GCSStore provides URI-addressed access to Cloud Storage objects.
// It is a shared utility for all pipeline stages.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a new GCSStore instance.
func NewGCSStore(ctx context.Context) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Upload writes content to a GCS object only if it doesn't already exist,
// so a rerun that re-uploads the same chunk is a no-op rather than a failure.
func (s *GCSStore) Upload(ctx context.Context, uri string, content []byte) error {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return err
	}

	writer := s.client.Bucket(bucket).Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 412 {
			log.Printf("SKIPPING: Object %s already exists.", uri)
			return nil // Not a failure in an idempotent pipeline.
		}
		log.Printf("ERROR: Failed to copy content to GCS object %s: %v", uri, err)
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 412 {
			log.Printf("SKIPPING: Object %s already exists.", uri)
			return nil
		}
		log.Printf("ERROR: Failed to close GCS writer for %s: %v", uri, err)
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// Download reads the full content of a GCS object.
func (s *GCSStore) Download(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}

	reader, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object %s: %w", uri, err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %s: %w", uri, err)
	}
	return content, nil
}

// List returns the full gs:// URIs of all objects under the given URI
// prefix, in lexicographic object-name order.
func (s *GCSStore) List(ctx context.Context, uriPrefix string) ([]string, error) {
	bucket, prefix, err := ParseGCSURI(uriPrefix)
	if err != nil {
		return nil, err
	}

	query := &storage.Query{Prefix: prefix}
	it := s.client.Bucket(bucket).Objects(ctx, query)

	var uris []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", uriPrefix, err)
		}
		uris = append(uris, fmt.Sprintf("gs://%s/%s", bucket, attrs.Name))
	}
	return uris, nil
}
