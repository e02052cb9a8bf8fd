// Package memory provides an in-memory resource backend for development and tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/JakeFAU/sitescout/internal/resource"
)

// Backend keeps records in nested maps keyed by resource then id.
type Backend struct {
	mu      sync.RWMutex
	records map[string]map[string][]byte
}

// New constructs an empty Backend.
func New() *Backend {
	return &Backend{records: make(map[string]map[string][]byte)}
}

// Put stores a copy of data.
func (b *Backend) Put(_ context.Context, res, id string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket, ok := b.records[res]
	if !ok {
		bucket = make(map[string][]byte)
		b.records[res] = bucket
	}
	bucket[id] = slices.Clone(data)
	return nil
}

// Get returns a copy of the stored bytes.
func (b *Backend) Get(_ context.Context, res, id string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.records[res][id]
	if !ok {
		return nil, resource.ErrNotFound
	}
	return slices.Clone(data), nil
}

// Delete removes a record. Empty resources are dropped.
func (b *Backend) Delete(_ context.Context, res, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket := b.records[res]
	if _, ok := bucket[id]; !ok {
		return resource.ErrNotFound
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(b.records, res)
	}
	return nil
}

// List returns the records of res ordered by id.
func (b *Backend) List(_ context.Context, res string) ([][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bucket := b.records[res]
	ids := slices.Sorted(maps.Keys(bucket))
	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, slices.Clone(bucket[id]))
	}
	return out, nil
}

// Resources lists the resource names holding records.
func (b *Backend) Resources(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Sorted(maps.Keys(b.records)), nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }
