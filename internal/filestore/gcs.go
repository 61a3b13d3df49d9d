package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const uploadTimeout = 2 * time.Minute

// GCSMirror archives staged files in a Google Cloud Storage bucket.
type GCSMirror struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSMirror connects to GCS. An empty credentialsFile falls back to
// Application Default Credentials.
func NewGCSMirror(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSMirror, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs mirror: bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSMirror{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Close releases the storage client.
func (m *GCSMirror) Close() error {
	return m.client.Close()
}

// ObjectName maps a store-relative path to its object name.
func (m *GCSMirror) ObjectName(relativePath string) string {
	if m.prefix == "" {
		return relativePath
	}
	return path.Join(m.prefix, relativePath)
}

// URI returns the gs:// URI of an archived file.
func (m *GCSMirror) URI(relativePath string) string {
	return "gs://" + m.bucket + "/" + m.ObjectName(relativePath)
}

// Put uploads the local file.
func (m *GCSMirror) Put(ctx context.Context, relativePath, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", localPath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := m.client.Bucket(m.bucket).Object(m.ObjectName(relativePath)).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// Fetch downloads an archived file.
func (m *GCSMirror) Fetch(ctx context.Context, relativePath string) ([]byte, error) {
	object := m.ObjectName(relativePath)
	rc, err := m.client.Bucket(m.bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading object %s/%s: %w", m.bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading bytes: %w", err)
	}
	return data, nil
}

// ParseURI splits "gs://bucket/path/to/file" into bucket and object name.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}
