// Package fulltext maintains an in-memory inverted index over resource
// records, keyed by (resource, field, word). The index follows resource
// writes through DB.OnAfterWrite and persists its entries back into the
// resource store under a plugin-owned resource.
package fulltext

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescout/internal/clock"
	"github.com/JakeFAU/sitescout/internal/metrics"
	"github.com/JakeFAU/sitescout/internal/resource"
)

const (
	// DefaultMaxResults caps Search when no limit is given.
	DefaultMaxResults = 100
	// DefaultBatchSize is the number of records reindexed per rebuild step.
	DefaultBatchSize = 100

	// pluginPrefix marks resources owned by plugins; they are never indexed.
	pluginPrefix = "plg_"
)

var (
	// ErrEmptyQuery is returned when Search receives a blank query.
	ErrEmptyQuery = errors.New("search query is empty")
	// ErrResourceNotFound is wrapped by ResourceNotFoundError.
	ErrResourceNotFound = errors.New("resource not indexed")
	// ErrRebuildTimeout is returned when RebuildAllIndexes outlives its timeout.
	ErrRebuildTimeout = errors.New("index rebuild timed out")
)

// ResourceNotFoundError reports a search against an unknown resource.
type ResourceNotFoundError struct {
	Resource  string
	Available []string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("resource %q not indexed (available: %s)", e.Resource, strings.Join(e.Available, ", "))
}

func (e *ResourceNotFoundError) Unwrap() error { return ErrResourceNotFound }

// conventionFields are indexed for well-known resource names when no
// fields are configured.
var conventionFields = map[string][]string{
	"users":    {"name", "email"},
	"products": {"name", "description"},
	"articles": {"title", "content"},
	"posts":    {"title", "content"},
}

// Key identifies one inverted-index bucket.
type Key struct {
	Resource string
	Field    string
	Word     string
}

type entry struct {
	recordIDs   []string
	lastUpdated time.Time
}

// Store is the slice of resource.DB the index needs.
type Store interface {
	Insert(ctx context.Context, res string, rec resource.Record) (resource.Record, error)
	Delete(ctx context.Context, res, id string) error
	GetAll(ctx context.Context, res string) ([]resource.Record, error)
	GetMany(ctx context.Context, res string, ids []string) ([]resource.Record, error)
	Resources(ctx context.Context) ([]string, error)
	OnAfterWrite(hook resource.Hook) (unsubscribe func())
}

// Config tunes tokenization, field selection and persistence.
type Config struct {
	MinWordLength    int
	MaxResults       int
	BatchSize        int
	Fields           map[string][]string
	ExcludeResources []string
	Namespace        string
	AutoSave         time.Duration
}

// Options wires an Index to its collaborators.
type Options struct {
	Store  Store
	Config Config
	Clock  clock.Clock
	Logger *zap.Logger
}

// Hit is one ranked search result.
type Hit struct {
	RecordID string `json:"recordId"`
	Score    int    `json:"score"`
}

// SearchOptions narrows a search.
type SearchOptions struct {
	Fields     []string
	Limit      int
	Offset     int
	ExactMatch bool
}

// Index is the inverted index. All methods are safe for concurrent use.
type Index struct {
	store   Store
	cfg     Config
	clock   clock.Clock
	logger  *zap.Logger
	exclude map[string]struct{}

	mu      sync.RWMutex
	entries map[Key]*entry
	known   map[string]struct{}
	gen     uint64
	dirty   map[Key]uint64
	deleted map[Key]uint64
	// held buffers store writes for resources with a rebuild in flight.
	held map[string][]resource.Event

	rebuildMu sync.Mutex

	saveMu   sync.Mutex
	lastSave time.Time

	lifeMu      sync.Mutex
	unsubscribe func()
	stopSave    context.CancelFunc
	saveDone    chan struct{}
}

// New builds an empty Index.
func New(opts Options) (*Index, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("fulltext store is required")
	}
	cfg := opts.Config
	if cfg.MinWordLength <= 0 {
		cfg.MinWordLength = DefaultMinWordLength
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ix := &Index{
		store:   opts.Store,
		cfg:     cfg,
		clock:   clock.OrSystem(opts.Clock),
		logger:  logger,
		exclude: make(map[string]struct{}, len(cfg.ExcludeResources)),
	}
	for _, name := range cfg.ExcludeResources {
		ix.exclude[name] = struct{}{}
	}
	ix.resetLocked()
	ix.held = make(map[string][]resource.Event)
	return ix, nil
}

// IndexResource is the resource the index persists its entries to.
func (ix *Index) IndexResource() string {
	if ix.cfg.Namespace == "" {
		return pluginPrefix + "fulltext_indexes"
	}
	return pluginPrefix + ix.cfg.Namespace + "_fulltext_indexes"
}

// Excluded reports whether writes to res are ignored.
func (ix *Index) Excluded(res string) bool {
	if strings.HasPrefix(res, pluginPrefix) {
		return true
	}
	_, ok := ix.exclude[res]
	return ok
}

// Reset drops every in-memory entry and pending change.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.resetLocked()
	metrics.SetPendingIndexChanges(0)
}

func (ix *Index) resetLocked() {
	ix.entries = make(map[Key]*entry)
	ix.known = make(map[string]struct{})
	ix.dirty = make(map[Key]uint64)
	ix.deleted = make(map[Key]uint64)
}

// IndexRecord adds id to the bucket of every word in the record's indexed fields.
func (ix *Index) IndexRecord(res, id string, data map[string]any) {
	if id == "" || ix.Excluded(res) {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.indexLocked(res, id, data)
	ix.reportPendingLocked()
	metrics.ObserveIndexOperation(res, "index")
}

// ReindexRecord removes id from the resource's buckets and indexes data afresh.
func (ix *Index) ReindexRecord(res, id string, data map[string]any) {
	if id == "" || ix.Excluded(res) {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(res, id)
	ix.indexLocked(res, id, data)
	ix.reportPendingLocked()
	metrics.ObserveIndexOperation(res, "reindex")
}

// RemoveRecordFromIndex drops id from every bucket of res. Buckets left
// empty are deleted and queued for deletion from storage.
func (ix *Index) RemoveRecordFromIndex(res, id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(res, id)
	ix.reportPendingLocked()
	metrics.ObserveIndexOperation(res, "remove")
}

func (ix *Index) indexLocked(res, id string, data map[string]any) {
	ix.known[res] = struct{}{}
	now := ix.clock.Now()
	for _, field := range ix.fieldsFor(res, data) {
		value, ok := lookup(data, field)
		if !ok {
			continue
		}
		for _, word := range Tokenize(textOf(value), ix.cfg.MinWordLength) {
			key := Key{Resource: res, Field: field, Word: word}
			e, ok := ix.entries[key]
			if !ok {
				e = &entry{}
				ix.entries[key] = e
			}
			if slices.Contains(e.recordIDs, id) {
				continue
			}
			e.recordIDs = append(e.recordIDs, id)
			e.lastUpdated = now
			ix.markDirtyLocked(key)
		}
	}
}

func (ix *Index) removeLocked(res, id string) {
	now := ix.clock.Now()
	for key, e := range ix.entries {
		if key.Resource != res {
			continue
		}
		i := slices.Index(e.recordIDs, id)
		if i < 0 {
			continue
		}
		e.recordIDs = slices.Delete(e.recordIDs, i, i+1)
		e.lastUpdated = now
		if len(e.recordIDs) == 0 {
			delete(ix.entries, key)
			ix.markDeletedLocked(key)
			continue
		}
		ix.markDirtyLocked(key)
	}
}

func (ix *Index) markDirtyLocked(key Key) {
	ix.gen++
	ix.dirty[key] = ix.gen
	delete(ix.deleted, key)
}

func (ix *Index) markDeletedLocked(key Key) {
	ix.gen++
	ix.deleted[key] = ix.gen
	delete(ix.dirty, key)
}

func (ix *Index) reportPendingLocked() {
	metrics.SetPendingIndexChanges(len(ix.dirty) + len(ix.deleted))
}

// fieldsFor resolves the indexed fields: configured, then naming
// convention, then every top-level string field except id.
func (ix *Index) fieldsFor(res string, data map[string]any) []string {
	if fields, ok := ix.cfg.Fields[res]; ok && len(fields) > 0 {
		return fields
	}
	if fields, ok := conventionFields[res]; ok {
		return fields
	}
	var fields []string
	for k, v := range data {
		if k == resource.IDField || strings.HasPrefix(k, "_") {
			continue
		}
		if _, ok := v.(string); ok {
			fields = append(fields, k)
		}
	}
	slices.Sort(fields)
	return fields
}

// configuredFields returns the fields Search scans for res when the caller
// names none. nil means every indexed field.
func (ix *Index) configuredFields(res string) []string {
	if fields, ok := ix.cfg.Fields[res]; ok && len(fields) > 0 {
		return fields
	}
	return conventionFields[res]
}

// lookup resolves a dotted path through nested maps.
func lookup(data map[string]any, path string) (any, bool) {
	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			if r, isRecord := current.(resource.Record); isRecord {
				m = r
			} else {
				return nil, false
			}
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// textOf flattens a field value into indexable text. Only strings and
// lists of strings carry text.
func textOf(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, " ")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

// Search ranks the records of res against query.
func (ix *Index) Search(ctx context.Context, res, query string, opts SearchOptions) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", res, err)
	}
	start := time.Now()
	defer func() { metrics.ObserveSearch(res, time.Since(start)) }()

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if !ix.knownLocked(res) {
		return nil, &ResourceNotFoundError{Resource: res, Available: ix.availableLocked()}
	}

	words := Tokenize(query, ix.cfg.MinWordLength)
	fields := opts.Fields
	if len(fields) == 0 {
		fields = ix.configuredFields(res)
	}

	scores := make(map[string]int)
	bump := func(e *entry) {
		for _, id := range e.recordIDs {
			scores[id]++
		}
	}
	for _, word := range words {
		if opts.ExactMatch {
			for _, field := range ix.fieldsToProbeLocked(res, fields) {
				if e, ok := ix.entries[Key{Resource: res, Field: field, Word: word}]; ok {
					bump(e)
				}
			}
			continue
		}
		for key, e := range ix.entries {
			if key.Resource != res || !strings.HasPrefix(key.Word, word) {
				continue
			}
			if len(fields) > 0 && !slices.Contains(fields, key.Field) {
				continue
			}
			bump(e)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{RecordID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].RecordID < hits[j].RecordID
	})

	offset := max(opts.Offset, 0)
	if offset >= len(hits) {
		return []Hit{}, nil
	}
	hits = hits[offset:]
	limit := opts.Limit
	if limit <= 0 {
		limit = ix.cfg.MaxResults
	}
	if limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

// fieldsToProbeLocked lists the fields an exact lookup visits.
func (ix *Index) fieldsToProbeLocked(res string, fields []string) []string {
	if len(fields) > 0 {
		return fields
	}
	seen := make(map[string]struct{})
	for key := range ix.entries {
		if key.Resource == res {
			seen[key.Field] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// SearchRecords runs Search and resolves hits to records, stamping each
// with _searchScore. Hits whose records no longer exist are dropped.
func (ix *Index) SearchRecords(ctx context.Context, res, query string, opts SearchOptions) ([]resource.Record, error) {
	hits, err := ix.Search(ctx, res, query, opts)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []resource.Record{}, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.RecordID
	}
	records, err := ix.store.GetMany(ctx, res, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve search hits: %w", err)
	}
	byID := make(map[string]resource.Record, len(records))
	for _, rec := range records {
		byID[rec.ID()] = rec
	}
	out := make([]resource.Record, 0, len(hits))
	for _, h := range hits {
		rec, ok := byID[h.RecordID]
		if !ok {
			continue
		}
		rec = rec.Clone()
		rec["_searchScore"] = h.Score
		out = append(out, rec)
	}
	return out, nil
}

func (ix *Index) knownLocked(res string) bool {
	if _, ok := ix.known[res]; ok {
		return true
	}
	_, ok := ix.cfg.Fields[res]
	return ok
}

func (ix *Index) availableLocked() []string {
	set := maps.Clone(ix.known)
	for name := range ix.cfg.Fields {
		set[name] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// ResourceStats summarises one resource's buckets.
type ResourceStats struct {
	Entries int            `json:"entries"`
	Words   int            `json:"words"`
	Records int            `json:"records"`
	Fields  map[string]int `json:"fields"`
}

// Stats summarises the whole index.
type Stats struct {
	TotalEntries   int                      `json:"totalEntries"`
	TotalWords     int                      `json:"totalWords"`
	PendingWrites  int                      `json:"pendingWrites"`
	PendingDeletes int                      `json:"pendingDeletes"`
	LastSave       time.Time                `json:"lastSave,omitzero"`
	Resources      map[string]ResourceStats `json:"resources"`
}

// IndexStats reports bucket, word and record counts per resource.
func (ix *Index) IndexStats() Stats {
	ix.saveMu.Lock()
	lastSave := ix.lastSave
	ix.saveMu.Unlock()

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	words := make(map[string]map[string]struct{})
	records := make(map[string]map[string]struct{})
	allWords := make(map[string]struct{})
	stats := Stats{
		TotalEntries:   len(ix.entries),
		PendingWrites:  len(ix.dirty),
		PendingDeletes: len(ix.deleted),
		LastSave:       lastSave,
		Resources:      make(map[string]ResourceStats),
	}
	for key, e := range ix.entries {
		rs, ok := stats.Resources[key.Resource]
		if !ok {
			rs = ResourceStats{Fields: make(map[string]int)}
			words[key.Resource] = make(map[string]struct{})
			records[key.Resource] = make(map[string]struct{})
		}
		rs.Entries++
		rs.Fields[key.Field]++
		words[key.Resource][key.Word] = struct{}{}
		allWords[key.Word] = struct{}{}
		for _, id := range e.recordIDs {
			records[key.Resource][id] = struct{}{}
		}
		stats.Resources[key.Resource] = rs
	}
	for name, rs := range stats.Resources {
		rs.Words = len(words[name])
		rs.Records = len(records[name])
		stats.Resources[name] = rs
	}
	stats.TotalWords = len(allWords)
	return stats
}
