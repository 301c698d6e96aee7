// Package asyncinput coordinates a synchronous, user-editable config with an
// asynchronous, externally-visible result, discarding stale completions by
// timestamp.
package asyncinput

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/whisprhq/reactorpc/pkg/cell"
	"github.com/whisprhq/reactorpc/pkg/dispatcher"
)

// Meta pairs a config value with the monotonic timestamp of the edit that
// produced it.
type Meta[C any] struct {
	TS     int64
	Config C
}

// Value is an externally-owned AsyncInputValue: a result R tagged with the
// Meta of the config that produced it.
type Value[C, R any] struct {
	Meta   Meta[C]
	Result R
}

// Handler computes R from a config C. It should observe ctx.Done().
type Handler[C, R any] func(ctx context.Context, c C) (R, error)

// Gateway exposes a synchronous, editable config alongside an asynchronous
// result that only ever moves forward in time relative to what the external
// cell already holds.
type Gateway[C, R any] struct {
	external *cell.Cell[Value[C, R]]
	handler  Handler[C, R]

	mu     sync.Mutex
	meta   Meta[C]
	lastTS int64

	metaInput  *cell.Cell[Meta[C]]
	configCell *cell.Cell[C]
	pending    *cell.Cell[bool]
	disp       *dispatcher.Dispatcher[Meta[C], Value[C, R]]
}

// New creates a Gateway driving handler from external's current meta, and
// keeping external in sync with fresh results as they arrive.
func New[C, R any](external *cell.Cell[Value[C, R]], handler Handler[C, R]) *Gateway[C, R] {
	g := &Gateway[C, R]{external: external, handler: handler}

	initial := external.Value()
	g.meta = initial.Meta
	g.lastTS = initial.Meta.TS
	g.configCell = cell.New(g.meta.Config)
	g.pending = cell.New(false)
	g.metaInput = cell.New(g.meta)

	g.disp = dispatcher.New(g.metaInput, func(ctx context.Context, v Meta[C], progress func(float64)) (Value[C, R], error) {
		r, err := handler(ctx, v.Config)
		if err != nil {
			return Value[C, R]{}, err
		}
		return Value[C, R]{Meta: v, Result: r}, nil
	}, 0)
	g.disp.StateCell().Subscribe(func(s dispatcher.StatePayload[Value[C, R]]) {
		if s.Loading {
			return
		}
		g.onResolved(s)
	})

	external.Subscribe(func(ext Value[C, R]) {
		g.mu.Lock()
		if ext.Meta.TS <= g.meta.TS {
			g.mu.Unlock()
			return
		}
		g.meta = ext.Meta
		if ext.Meta.TS > g.lastTS {
			g.lastTS = ext.Meta.TS
		}
		newMeta := g.meta
		g.mu.Unlock()

		g.configCell.Set(newMeta.Config)
		g.pending.Set(true)
		g.metaInput.Set(newMeta)
	})

	return g
}

// Config returns the synchronous, user-editable config.
func (g *Gateway[C, R]) Config() C {
	return g.configCell.Value()
}

// ConfigCell exposes the config as a reactive cell for UI consumption.
func (g *Gateway[C, R]) ConfigCell() *cell.Cell[C] {
	return g.configCell
}

// PendingCell is true whenever meta has changed and no resolved result has
// been processed yet (fresh or stale).
func (g *Gateway[C, R]) PendingCell() *cell.Cell[bool] {
	return g.pending
}

// Result returns the latest resolved result the external setter has
// accepted, or nil while pending.
func (g *Gateway[C, R]) Result() *R {
	if g.pending.Value() {
		return nil
	}
	r := g.external.Value().Result
	return &r
}

// SetConfig clones the current config, applies updater, and schedules async
// recomputation with a strictly increasing timestamp. The updater may either
// return a replacement config, or mutate the clone in place and return nil
// (the mutation is used when nil is returned).
func (g *Gateway[C, R]) SetConfig(updater func(next *C) *C) {
	g.mu.Lock()
	next := cloneViaJSON(g.meta.Config)
	if replaced := updater(&next); replaced != nil {
		next = *replaced
	}
	ts := g.nextTS()
	g.meta = Meta[C]{Config: next, TS: ts}
	newMeta := g.meta
	g.mu.Unlock()

	g.configCell.Set(newMeta.Config)
	g.pending.Set(true)
	g.metaInput.Set(newMeta)
}

// nextTS returns a timestamp strictly greater than every previously used
// timestamp from this instance, falling back to lastTS+1 on clock
// regressions. Caller must hold g.mu.
func (g *Gateway[C, R]) nextTS() int64 {
	now := time.Now().UnixNano()
	next := g.lastTS + 1
	if now > next {
		next = now
	}
	g.lastTS = next
	return next
}

func (g *Gateway[C, R]) onResolved(s dispatcher.StatePayload[Value[C, R]]) {
	defer g.pending.Set(false)
	if !s.Ok {
		return
	}
	result := s.Data
	if result.Meta.TS <= g.external.Value().Meta.TS {
		return
	}
	g.external.Set(result)
}

func cloneViaJSON[C any](c C) C {
	var out C
	data, err := json.Marshal(c)
	if err != nil {
		return c
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return c
	}
	return out
}
