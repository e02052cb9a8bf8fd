package fulltext

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescout/internal/metrics"
	"github.com/JakeFAU/sitescout/internal/resource"
)

// Persisted entry attributes.
const (
	attrResource    = "resourceName"
	attrField       = "fieldName"
	attrWord        = "word"
	attrRecordIDs   = "recordIds"
	attrCount       = "count"
	attrLastUpdated = "lastUpdated"
)

// entryID derives the stable storage id of a bucket.
func entryID(key Key) string {
	sum := sha256.Sum256([]byte(key.Resource + "\x00" + key.Field + "\x00" + key.Word))
	return hex.EncodeToString(sum[:16])
}

type pending struct {
	key Key
	gen uint64
	rec resource.Record
}

// SaveIndexes flushes changed buckets to the store. Each bucket write is a
// delete followed by an insert; emptied buckets are only deleted. A key
// leaves the change sets once flushed, so a failed save can be retried.
func (ix *Index) SaveIndexes(ctx context.Context) error {
	ix.saveMu.Lock()
	defer ix.saveMu.Unlock()

	writes, deletes := ix.snapshotChanges()
	if len(writes) == 0 && len(deletes) == 0 {
		return nil
	}
	target := ix.IndexResource()

	for _, p := range deletes {
		if err := ix.deleteEntry(ctx, target, p.key); err != nil {
			return err
		}
		ix.mu.Lock()
		if ix.deleted[p.key] == p.gen {
			delete(ix.deleted, p.key)
		}
		ix.mu.Unlock()
	}
	for _, p := range writes {
		if err := ix.deleteEntry(ctx, target, p.key); err != nil {
			return err
		}
		if _, err := ix.store.Insert(ctx, target, p.rec); err != nil {
			return fmt.Errorf("save index entry %s/%s/%s: %w", p.key.Resource, p.key.Field, p.key.Word, err)
		}
		ix.mu.Lock()
		if ix.dirty[p.key] == p.gen {
			delete(ix.dirty, p.key)
		}
		ix.mu.Unlock()
	}

	ix.mu.RLock()
	ix.reportPendingLocked()
	ix.mu.RUnlock()
	ix.lastSave = ix.clock.Now()
	metrics.ObserveIndexOperation(target, "save")
	ix.logger.Debug("fulltext indexes saved",
		zap.Int("written", len(writes)),
		zap.Int("deleted", len(deletes)),
	)
	return nil
}

func (ix *Index) deleteEntry(ctx context.Context, target string, key Key) error {
	err := ix.store.Delete(ctx, target, entryID(key))
	if err != nil && !errors.Is(err, resource.ErrNotFound) {
		return fmt.Errorf("delete index entry %s/%s/%s: %w", key.Resource, key.Field, key.Word, err)
	}
	return nil
}

// snapshotChanges copies the change sets in key order.
func (ix *Index) snapshotChanges() (writes, deletes []pending) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, key := range sortedKeys(ix.deleted) {
		deletes = append(deletes, pending{key: key, gen: ix.deleted[key]})
	}
	for _, key := range sortedKeys(ix.dirty) {
		e, ok := ix.entries[key]
		if !ok {
			continue
		}
		writes = append(writes, pending{key: key, gen: ix.dirty[key], rec: resource.Record{
			resource.IDField: entryID(key),
			attrResource:     key.Resource,
			attrField:        key.Field,
			attrWord:         key.Word,
			attrRecordIDs:    slices.Clone(e.recordIDs),
			attrCount:        len(e.recordIDs),
			attrLastUpdated:  e.lastUpdated.UTC().Format(time.RFC3339Nano),
		}})
	}
	return writes, deletes
}

func sortedKeys(m map[Key]uint64) []Key {
	return slices.SortedFunc(maps.Keys(m), func(a, b Key) int {
		switch {
		case a.Resource != b.Resource:
			return cmp.Compare(a.Resource, b.Resource)
		case a.Field != b.Field:
			return cmp.Compare(a.Field, b.Field)
		default:
			return cmp.Compare(a.Word, b.Word)
		}
	})
}

// LoadIndexes replaces the in-memory index with the persisted entries.
// Malformed entries are logged and skipped.
func (ix *Index) LoadIndexes(ctx context.Context) error {
	records, err := ix.store.GetAll(ctx, ix.IndexResource())
	if err != nil {
		return fmt.Errorf("load indexes: %w", err)
	}

	loaded := make(map[Key]*entry, len(records))
	for _, rec := range records {
		key, e, err := decodeEntry(rec)
		if err != nil {
			ix.logger.Warn("skipping malformed index entry", zap.String("id", rec.ID()), zap.Error(err))
			continue
		}
		loaded[key] = e
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.resetLocked()
	ix.entries = loaded
	for key := range loaded {
		ix.known[key.Resource] = struct{}{}
	}
	ix.reportPendingLocked()
	ix.logger.Info("fulltext indexes loaded", zap.Int("entries", len(loaded)))
	return nil
}

func decodeEntry(rec resource.Record) (Key, *entry, error) {
	key := Key{}
	var ok bool
	if key.Resource, ok = rec[attrResource].(string); !ok || key.Resource == "" {
		return Key{}, nil, fmt.Errorf("missing %s", attrResource)
	}
	if key.Field, ok = rec[attrField].(string); !ok || key.Field == "" {
		return Key{}, nil, fmt.Errorf("missing %s", attrField)
	}
	if key.Word, ok = rec[attrWord].(string); !ok || key.Word == "" {
		return Key{}, nil, fmt.Errorf("missing %s", attrWord)
	}

	var ids []string
	switch raw := rec[attrRecordIDs].(type) {
	case []any:
		for _, v := range raw {
			if id, isString := v.(string); isString && !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	case string:
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return Key{}, nil, fmt.Errorf("decode %s: %w", attrRecordIDs, err)
		}
	default:
		return Key{}, nil, fmt.Errorf("missing %s", attrRecordIDs)
	}
	if len(ids) == 0 {
		return Key{}, nil, fmt.Errorf("empty %s", attrRecordIDs)
	}

	e := &entry{recordIDs: ids}
	if s, isString := rec[attrLastUpdated].(string); isString {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			e.lastUpdated = ts
		}
	}
	return key, e, nil
}

// RebuildIndex wipes the entries of res, reindexes every stored record in
// batches and flushes. Store writes to res that land while the rebuild runs
// are applied after it. A resource that is neither stored, configured nor
// indexed fails with *ResourceNotFoundError.
func (ix *Index) RebuildIndex(ctx context.Context, res string) error {
	if ix.Excluded(res) {
		return fmt.Errorf("rebuild %s: resource is excluded from indexing", res)
	}
	ix.rebuildMu.Lock()
	defer ix.rebuildMu.Unlock()

	ix.holdWrites(res)
	defer ix.releaseWrites(res)

	records, err := ix.store.GetAll(ctx, res)
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", res, err)
	}
	if len(records) == 0 {
		if err := ix.checkRebuildable(ctx, res); err != nil {
			return err
		}
	}

	ix.mu.Lock()
	for key := range ix.entries {
		if key.Resource == res {
			delete(ix.entries, key)
			ix.markDeletedLocked(key)
		}
	}
	ix.known[res] = struct{}{}
	ix.mu.Unlock()

	for batch := range slices.Chunk(records, ix.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("rebuild %s: %w", res, err)
		}
		ix.mu.Lock()
		for _, rec := range batch {
			if id := rec.ID(); id != "" {
				ix.indexLocked(res, id, rec)
			}
		}
		ix.reportPendingLocked()
		ix.mu.Unlock()
	}
	ix.releaseWrites(res)

	metrics.ObserveIndexOperation(res, "rebuild")
	ix.logger.Info("fulltext index rebuilt", zap.String("resource", res), zap.Int("records", len(records)))
	return ix.SaveIndexes(ctx)
}

// checkRebuildable fails for a resource with no stored records unless it is
// listed by the store, configured or already indexed.
func (ix *Index) checkRebuildable(ctx context.Context, res string) error {
	names, err := ix.store.Resources(ctx)
	if err != nil {
		return fmt.Errorf("rebuild %s: list resources: %w", res, err)
	}
	if slices.Contains(names, res) {
		return nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.knownLocked(res) {
		return nil
	}
	available := ix.availableLocked()
	for _, name := range names {
		if !ix.Excluded(name) && !slices.Contains(available, name) {
			available = append(available, name)
		}
	}
	slices.Sort(available)
	return &ResourceNotFoundError{Resource: res, Available: available}
}

func (ix *Index) holdWrites(res string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.held[res] = []resource.Event{}
}

// releaseWrites stops holding writes to res and applies the held ones in
// arrival order. It is a no-op when nothing is held.
func (ix *Index) releaseWrites(res string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	pending, ok := ix.held[res]
	if !ok {
		return
	}
	delete(ix.held, res)
	for _, ev := range pending {
		ix.applyLocked(ev)
	}
	ix.reportPendingLocked()
}

// RebuildAllIndexes rebuilds every non-excluded resource in the store plus
// the configured ones. With a positive timeout the caller waits at most
// that long and gets ErrRebuildTimeout; the rebuild itself keeps running.
func (ix *Index) RebuildAllIndexes(ctx context.Context, timeout time.Duration) error {
	names, err := ix.store.Resources(ctx)
	if err != nil {
		return fmt.Errorf("list resources: %w", err)
	}
	for name := range ix.cfg.Fields {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	run := func(ctx context.Context) error {
		var errs []error
		for _, name := range names {
			if ix.Excluded(name) {
				continue
			}
			if err := ix.RebuildIndex(ctx, name); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	if timeout <= 0 {
		return run(ctx)
	}

	done := make(chan error, 1)
	go func() { done <- run(context.WithoutCancel(ctx)) }()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		ix.logger.Warn("fulltext rebuild still running after timeout", zap.Duration("timeout", timeout))
		return ErrRebuildTimeout
	case <-ctx.Done():
		return fmt.Errorf("rebuild indexes: %w", ctx.Err())
	}
}
