// Package gcs stores resource records as JSON objects in Google Cloud Storage.
// Objects are named {prefix}{resource}/{id}.json.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/sitescout/internal/resource"
)

const objectSuffix = ".json"

// Config captures the bucket and object prefix records live under.
type Config struct {
	Bucket string
	Prefix string
}

// Backend is a resource.Backend over a GCS bucket.
type Backend struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed resource backend.
func New(client *storage.Client, cfg Config) (*Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	prefix := strings.TrimPrefix(cfg.Prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Backend{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (b *Backend) objectName(res, id string) string {
	return b.prefix + res + "/" + id + objectSuffix
}

// Put uploads one record in a single request.
func (b *Backend) Put(ctx context.Context, res, id string, data []byte) error {
	writer := b.client.Bucket(b.bucket).Object(b.objectName(res, id)).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.ChunkSize = 0
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Get downloads one record.
func (b *Backend) Get(ctx context.Context, res, id string) ([]byte, error) {
	return b.read(ctx, b.objectName(res, id))
}

func (b *Backend) read(ctx context.Context, name string) ([]byte, error) {
	reader, err := b.client.Bucket(b.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, resource.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", name, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", name, err)
	}
	return data, nil
}

// Delete removes one record object.
func (b *Backend) Delete(ctx context.Context, res, id string) error {
	err := b.client.Bucket(b.bucket).Object(b.objectName(res, id)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return resource.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// List downloads every record of res. Object listing is lexicographic, so
// records come back ordered by id.
func (b *Backend) List(ctx context.Context, res string) ([][]byte, error) {
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: b.prefix + res + "/"})
	var out [][]byte
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		if !strings.HasSuffix(attrs.Name, objectSuffix) {
			continue
		}
		data, err := b.read(ctx, attrs.Name)
		if errors.Is(err, resource.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// Resources lists the resource "directories" under the prefix.
func (b *Backend) Resources(ctx context.Context) ([]string, error) {
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: b.prefix, Delimiter: "/"})
	var out []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list prefixes: %w", err)
		}
		if attrs.Prefix == "" {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, b.prefix), "/")
		if name != "" {
			out = append(out, name)
		}
	}
	return out, nil
}

// Close closes the storage client.
func (b *Backend) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
