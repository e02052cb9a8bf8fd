// Package resource is the document store the indexer and API write through.
// Records are JSON objects keyed by resource name and id, kept in a pluggable
// Backend. Every successful write fires the registered after-write hooks.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"slices"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned by Insert when the id is already taken.
	ErrExists = errors.New("record already exists")
	// ErrInvalidName is returned for resource names outside [A-Za-z0-9_-].
	ErrInvalidName = errors.New("invalid resource name")
)

var validName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// IDField is the record key holding the record id.
const IDField = "id"

// Record is one stored JSON object.
type Record map[string]any

// ID returns the record id, or "" when absent or not a string.
func (r Record) ID() string {
	id, _ := r[IDField].(string)
	return id
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// Backend persists raw JSON records. List returns records ordered by id.
type Backend interface {
	Put(ctx context.Context, resource, id string, data []byte) error
	Get(ctx context.Context, resource, id string) ([]byte, error)
	Delete(ctx context.Context, resource, id string) error
	List(ctx context.Context, resource string) ([][]byte, error)
	Resources(ctx context.Context) ([]string, error)
	Close() error
}

// IDGenerator mints ids for records inserted without one.
type IDGenerator interface {
	NewID() (string, error)
}

// Op names a write operation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event describes a completed write. Record is the stored state after the
// write, or the removed record for OpDelete.
type Event struct {
	Resource string
	Op       Op
	ID       string
	Record   Record
}

// Hook observes completed writes.
type Hook func(ctx context.Context, ev Event) error

// Filter narrows Query results. Where matches top-level fields by equality.
type Filter struct {
	Where  map[string]any
	Limit  int
	Offset int
}

// Options configures a DB.
type Options struct {
	IDs    IDGenerator
	Logger *zap.Logger
}

type hookEntry struct {
	id int
	fn Hook
}

// DB is the record store facade.
type DB struct {
	backend Backend
	ids     IDGenerator
	logger  *zap.Logger

	// writeMu serialises read-modify-write sequences against the backend.
	writeMu sync.Mutex

	hookMu   sync.RWMutex
	hooks    []hookEntry
	nextHook int
}

// New wraps backend in a DB.
func New(backend Backend, opts Options) (*DB, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	ids := opts.IDs
	if ids == nil {
		ids = NewUUIDGenerator()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{backend: backend, ids: ids, logger: logger}, nil
}

// Close releases the backend.
func (db *DB) Close() error {
	if err := db.backend.Close(); err != nil {
		return fmt.Errorf("close backend: %w", err)
	}
	return nil
}

// OnAfterWrite registers hook and returns a function that removes it.
// Hooks run in registration order after the backend write succeeds.
func (db *DB) OnAfterWrite(hook Hook) (unsubscribe func()) {
	db.hookMu.Lock()
	id := db.nextHook
	db.nextHook++
	db.hooks = append(db.hooks, hookEntry{id: id, fn: hook})
	db.hookMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			db.hookMu.Lock()
			defer db.hookMu.Unlock()
			db.hooks = slices.DeleteFunc(db.hooks, func(h hookEntry) bool { return h.id == id })
		})
	}
}

func (db *DB) emit(ctx context.Context, ev Event) {
	db.hookMu.RLock()
	hooks := slices.Clone(db.hooks)
	db.hookMu.RUnlock()
	for _, h := range hooks {
		if err := h.fn(ctx, Event{Resource: ev.Resource, Op: ev.Op, ID: ev.ID, Record: ev.Record.Clone()}); err != nil {
			db.logger.Warn("after-write hook failed",
				zap.String("resource", ev.Resource),
				zap.String("op", string(ev.Op)),
				zap.String("id", ev.ID),
				zap.Error(err),
			)
		}
	}
}

// Insert stores rec, assigning an id when it has none.
func (db *DB) Insert(ctx context.Context, resource string, rec Record) (Record, error) {
	if err := checkName(resource); err != nil {
		return nil, err
	}
	stored := rec.Clone()
	if stored == nil {
		stored = Record{}
	}
	id := stored.ID()
	if id == "" {
		generated, err := db.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("assign id: %w", err)
		}
		id = generated
		stored[IDField] = id
	}

	db.writeMu.Lock()
	_, err := db.backend.Get(ctx, resource, id)
	switch {
	case err == nil:
		db.writeMu.Unlock()
		return nil, fmt.Errorf("insert %s/%s: %w", resource, id, ErrExists)
	case !errors.Is(err, ErrNotFound):
		db.writeMu.Unlock()
		return nil, fmt.Errorf("insert %s/%s: %w", resource, id, err)
	}
	stored, err = db.put(ctx, resource, id, stored)
	db.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	db.emit(ctx, Event{Resource: resource, Op: OpInsert, ID: id, Record: stored})
	return stored.Clone(), nil
}

// Update merges patch into the stored record. The id field cannot change.
func (db *DB) Update(ctx context.Context, resource, id string, patch Record) (Record, error) {
	if err := checkName(resource); err != nil {
		return nil, err
	}
	db.writeMu.Lock()
	current, err := db.get(ctx, resource, id)
	if err != nil {
		db.writeMu.Unlock()
		return nil, fmt.Errorf("update %s/%s: %w", resource, id, err)
	}
	for k, v := range patch {
		if k == IDField {
			continue
		}
		current[k] = v
	}
	stored, err := db.put(ctx, resource, id, current)
	db.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	db.emit(ctx, Event{Resource: resource, Op: OpUpdate, ID: id, Record: stored})
	return stored.Clone(), nil
}

// Delete removes a record.
func (db *DB) Delete(ctx context.Context, resource, id string) error {
	if err := checkName(resource); err != nil {
		return err
	}
	db.writeMu.Lock()
	current, err := db.get(ctx, resource, id)
	if err != nil {
		db.writeMu.Unlock()
		return fmt.Errorf("delete %s/%s: %w", resource, id, err)
	}
	err = db.backend.Delete(ctx, resource, id)
	db.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", resource, id, err)
	}

	db.emit(ctx, Event{Resource: resource, Op: OpDelete, ID: id, Record: current})
	return nil
}

// Get returns one record.
func (db *DB) Get(ctx context.Context, resource, id string) (Record, error) {
	if err := checkName(resource); err != nil {
		return nil, err
	}
	rec, err := db.get(ctx, resource, id)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", resource, id, err)
	}
	return rec, nil
}

// GetAll returns every record of resource ordered by id.
func (db *DB) GetAll(ctx context.Context, resource string) ([]Record, error) {
	if err := checkName(resource); err != nil {
		return nil, err
	}
	raw, err := db.backend.List(ctx, resource)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", resource, err)
	}
	out := make([]Record, 0, len(raw))
	for _, data := range raw {
		rec, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", resource, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetMany returns the records for ids in the given order, skipping ids that
// do not exist.
func (db *DB) GetMany(ctx context.Context, resource string, ids []string) ([]Record, error) {
	if err := checkName(resource); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := db.get(ctx, resource, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s/%s: %w", resource, id, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Query returns the records matching f, ordered by id.
func (db *DB) Query(ctx context.Context, resource string, f Filter) ([]Record, error) {
	all, err := db.GetAll(ctx, resource)
	if err != nil {
		return nil, err
	}
	where, err := normalizeWhere(f.Where)
	if err != nil {
		return nil, err
	}
	matched := all[:0]
	for _, rec := range all {
		if matches(rec, where) {
			matched = append(matched, rec)
		}
	}
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []Record{}, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// Resources lists the resource names that hold at least one record.
func (db *DB) Resources(ctx context.Context) ([]string, error) {
	names, err := db.backend.Resources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

func (db *DB) get(ctx context.Context, resource, id string) (Record, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	data, err := db.backend.Get(ctx, resource, id)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// put stores rec and returns it as the backend will hand it back.
func (db *DB) put(ctx context.Context, resource, id string, rec Record) (Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", resource, id, err)
	}
	if err := db.backend.Put(ctx, resource, id, data); err != nil {
		return nil, fmt.Errorf("store %s/%s: %w", resource, id, err)
	}
	return decode(data)
}

func decode(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec == nil {
		rec = Record{}
	}
	return rec, nil
}

func checkName(resource string) error {
	if !validName.MatchString(resource) {
		return fmt.Errorf("%w: %q", ErrInvalidName, resource)
	}
	return nil
}

// normalizeWhere round-trips the filter through JSON so values compare the
// same way stored records decode.
func normalizeWhere(where map[string]any) (map[string]any, error) {
	if len(where) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(where)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode filter: %w", err)
	}
	return out, nil
}

func matches(rec Record, where map[string]any) bool {
	for k, want := range where {
		got, ok := rec[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
