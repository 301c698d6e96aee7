package appstorage

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/whisprhq/reactorpc/pkg/cell"
	"github.com/whisprhq/reactorpc/pkg/dispatcher"
)

const itemLogPrefix = "appstorage:Item"

const flushDebounce = 500 * time.Millisecond

// ItemData is the reactive value of an Item: its current payload, revision,
// and tombstone flag.
type ItemData[T any] struct {
	Data    T
	Rev     int64
	Deleted bool
}

// Item is a single revisioned, persisted value living under an Appstorage
// prefix. Its Cell publishes synchronously on every Update/Remove; an
// internal Dispatcher on that same Cell debounce-flushes to persistence
// 500ms after the last change.
type Item[T any] struct {
	store   *Appstorage
	fullKey string
	key     string

	data *cell.Cell[ItemData[T]]

	flushedRev atomic.Int64
	flush      *dispatcher.Dispatcher[ItemData[T], struct{}]
}

func newItem[T any](store *Appstorage, fullKey, key string, initial T, rev int64, deleted bool) *Item[T] {
	item := &Item[T]{
		store:   store,
		fullKey: fullKey,
		key:     key,
		data:    cell.New(ItemData[T]{Data: initial, Rev: rev, Deleted: deleted}),
	}
	item.flushedRev.Store(rev)
	item.flush = dispatcher.New(item.data, func(ctx context.Context, v ItemData[T], progress func(float64)) (struct{}, error) {
		return struct{}{}, item.flushToDisk(v)
	}, flushDebounce)
	return item
}

// Cell exposes the item's reactive value.
func (i *Item[T]) Cell() *cell.Cell[ItemData[T]] {
	return i.data
}

// Value returns the current data.
func (i *Item[T]) Value() ItemData[T] {
	return i.data.Value()
}

// Update replaces the item's data, bumping its revision.
func (i *Item[T]) Update(data T) {
	cur := i.data.Value()
	i.data.Set(ItemData[T]{Data: data, Rev: cur.Rev + 1, Deleted: false})
}

// Remove tombstones the item; it stops appearing in the owning Appstorage's
// Index but its Cell keeps publishing its last (zero) value.
func (i *Item[T]) Remove() {
	cur := i.data.Value()
	var zero T
	i.data.Set(ItemData[T]{Data: zero, Rev: cur.Rev + 1, Deleted: true})
}

// Flush synchronously writes the item's current value to persistence,
// bypassing the debounce window, and returns any write error.
func (i *Item[T]) Flush() error {
	return i.flushToDisk(i.data.Value())
}

func (i *Item[T]) flushToDisk(v ItemData[T]) error {
	if v.Rev <= i.flushedRev.Load() {
		return nil
	}
	raw, err := encodeRecord(v.Rev, v.Deleted, v.Data)
	if err != nil {
		return fmt.Errorf("%s - failed to encode %q: %w", itemLogPrefix, i.key, err)
	}
	if err := i.store.store.Set(i.fullKey, raw); err != nil {
		slog.Warn(fmt.Sprintf("%s - background flush of %q failed, will retry on next change: %v", itemLogPrefix, i.key, err))
		return err
	}
	i.flushedRev.Store(v.Rev)
	return nil
}

// reloadIfNewer merges a freshly-scanned disk record into this item when it
// is strictly newer than the item's in-memory revision, so a value written
// by another process (or a previous run) is picked up by the refresh loop.
func (i *Item[T]) reloadIfNewer(rev int64, deleted bool, rawData []byte) {
	cur := i.data.Value()
	if rev <= cur.Rev {
		return
	}
	var data T
	if !deleted && len(rawData) > 0 {
		if err := unmarshalRecordData(rawData, &data); err != nil {
			slog.Warn(fmt.Sprintf("%s - discarding undecodable refreshed record for %q: %v", itemLogPrefix, i.key, err))
			return
		}
	}
	i.flushedRev.Store(rev)
	i.data.Set(ItemData[T]{Data: data, Rev: rev, Deleted: deleted})
}
