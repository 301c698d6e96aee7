// Package appstorage implements a reactive, revisioned key/value directory
// over a flat persistence layer: named "prefixes" of typed Items whose
// in-memory Cell state debounce-flushes to disk and periodically refreshes
// from disk so multiple processes sharing the same store converge.
package appstorage

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/whisprhq/reactorpc/pkg/cell"
)

const storageLogPrefix = "appstorage:Appstorage"

const refreshInterval = 200 * time.Millisecond

// IndexEntry is the lightweight, type-erased view of an item surfaced by an
// Appstorage's Index cell: presence and revision, not the decoded payload.
// Callers wanting the typed payload call Get for the key.
type IndexEntry struct {
	Key string
	Rev int64
}

var (
	defaultPersistenceMu sync.Mutex
	defaultPersistence   Persistence

	instances sync.Map // string prefix -> *Appstorage
)

// SetPersistence installs the shared persistence layer new Appstorage
// instances are built on. Must be called once during startup, before the
// first GetInstance call; treated as an explicit lifecycle resource rather
// than a lazily-opened side effect.
func SetPersistence(p Persistence) {
	defaultPersistenceMu.Lock()
	defer defaultPersistenceMu.Unlock()
	defaultPersistence = p
}

// GetInstance returns the process-wide Appstorage for prefix, creating it on
// first use. Panics if SetPersistence has not been called.
func GetInstance(prefix string) *Appstorage {
	if v, ok := instances.Load(prefix); ok {
		return v.(*Appstorage)
	}
	defaultPersistenceMu.Lock()
	p := defaultPersistence
	defaultPersistenceMu.Unlock()
	if p == nil {
		panic(fmt.Sprintf("%s - GetInstance(%q) called before SetPersistence", storageLogPrefix, prefix))
	}
	as := newAppstorage(prefix, p)
	actual, loaded := instances.LoadOrStore(prefix, as)
	if loaded {
		as.stopRefresh()
	}
	return actual.(*Appstorage)
}

// itemHandle lets Appstorage's refresh loop merge freshly-scanned disk state
// into an already-materialized, strongly-typed Item without knowing T.
type itemHandle interface {
	reloadIfNewer(rev int64, deleted bool, rawData []byte)
}

// Appstorage is a reactive directory of Items sharing one key prefix over a
// common Persistence.
type Appstorage struct {
	prefix string
	store  Persistence

	mu     sync.Mutex
	active map[string]itemHandle

	index *cell.Cell[map[string]IndexEntry]

	stopOnce sync.Once
	stop     chan struct{}
}

func newAppstorage(prefix string, store Persistence) *Appstorage {
	as := &Appstorage{
		prefix: prefix,
		store:  store,
		active: make(map[string]itemHandle),
		index:  cell.New(map[string]IndexEntry{}),
		stop:   make(chan struct{}),
	}
	go as.refreshLoop()
	return as
}

func (a *Appstorage) stopRefresh() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// Index exposes the set of live (non-tombstoned) keys and their persisted
// revisions. Republished whenever the key set or a persisted revision
// changes; per-item payloads flow through that Item's own Cell instead.
func (a *Appstorage) Index() *cell.Cell[map[string]IndexEntry] {
	return a.index
}

func (a *Appstorage) fullKey(key string) string {
	return a.prefix + key
}

func (a *Appstorage) register(fullKey string, h itemHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active[fullKey] = h
}

// New creates a new Item under key with initial data. Returns an error if
// key already exists (in memory or on disk).
func New[T any](a *Appstorage, key string, data T) (*Item[T], error) {
	full := a.fullKey(key)

	a.mu.Lock()
	_, alreadyActive := a.active[full]
	a.mu.Unlock()
	if alreadyActive {
		return nil, fmt.Errorf("%s - key %q already exists", storageLogPrefix, key)
	}

	raw, found, err := a.store.Get(full)
	if err != nil {
		return nil, err
	}
	if found {
		rec, err := decodeRecord(raw)
		if err == nil && !rec.Deleted {
			return nil, fmt.Errorf("%s - key %q already exists", storageLogPrefix, key)
		}
	}

	item := newItem(a, full, key, data, 0, false)
	// A brand-new item has never been persisted; its rev-0 state still needs
	// a first flush.
	item.flushedRev.Store(-1)
	a.register(full, item)
	return item, nil
}

// Get returns the already-materialized Item for key, or loads it from disk.
// Returns an error if key does not exist or is tombstoned.
func Get[T any](a *Appstorage, key string) (*Item[T], error) {
	full := a.fullKey(key)

	a.mu.Lock()
	if h, ok := a.active[full]; ok {
		a.mu.Unlock()
		item, ok := h.(*Item[T])
		if !ok {
			return nil, fmt.Errorf("%s - key %q is registered with a different type", storageLogPrefix, key)
		}
		return item, nil
	}
	a.mu.Unlock()

	raw, found, err := a.store.Get(full)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s - key %q does not exist", storageLogPrefix, key)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("%s - key %q has corrupt record: %w", storageLogPrefix, key, err)
	}
	if rec.Deleted {
		return nil, fmt.Errorf("%s - key %q does not exist", storageLogPrefix, key)
	}
	var data T
	if len(rec.Data) > 0 {
		if err := unmarshalRecordData(rec.Data, &data); err != nil {
			return nil, fmt.Errorf("%s - key %q has undecodable data: %w", storageLogPrefix, key, err)
		}
	}
	item := newItem(a, full, key, data, rec.Rev, false)
	a.register(full, item)
	return item, nil
}

func (a *Appstorage) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.refreshOnce()
		}
	}
}

func (a *Appstorage) refreshOnce() {
	raws, err := a.store.ScanPrefix(a.prefix)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - refresh scan failed for prefix %q: %v", storageLogPrefix, a.prefix, err))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	next := make(map[string]IndexEntry, len(raws))

	for full, raw := range raws {
		rec, err := decodeRecord(raw)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - skipping corrupt record %q: %v", storageLogPrefix, full, err))
			continue
		}
		key := strings.TrimPrefix(full, a.prefix)

		if h, ok := a.active[full]; ok {
			h.reloadIfNewer(rec.Rev, rec.Deleted, rec.Data)
		}

		if rec.Deleted {
			continue
		}
		next[key] = IndexEntry{Key: key, Rev: rec.Rev}
	}

	// Unconditional: a tombstoned key must drop out even on a tick with no
	// additions. The cell's deep-equality filter suppresses no-op republishes.
	a.index.Set(next)
}
