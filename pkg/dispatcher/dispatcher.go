// Package dispatcher turns a reactive input cell and an async function into
// a reactive loading/ok/error state cell, with debounce and cancellation.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/whisprhq/reactorpc/pkg/cell"
)

const logPrefix = "dispatcher:Dispatcher"

// StatePayload is the tagged loading/ok/error variant a Dispatcher publishes.
type StatePayload[O any] struct {
	Loading  bool
	Progress float64
	Ok       bool
	Data     O
	Err      error
}

// DispatchFunc is the async work a Dispatcher runs whenever its input
// changes. It should observe ctx.Done() and return promptly when cancelled;
// a late return after cancellation is harmless since the Dispatcher never
// publishes a payload derived from an aborted run.
type DispatchFunc[I, O any] func(ctx context.Context, v I, progress func(float64)) (O, error)

// controller is the cancellation handle for one dispatch. At most one
// controller is ever "current" on a Dispatcher.
type controller struct {
	mu      sync.Mutex
	aborted bool
	cancel  context.CancelFunc
}

func (c *controller) abort() {
	c.mu.Lock()
	c.aborted = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *controller) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// Dispatcher adapts value_cell: Cell[I] and f: DispatchFunc[I, O] into
// state_cell: Cell[StatePayload[O]].
type Dispatcher[I, O any] struct {
	f        DispatchFunc[I, O]
	debounce time.Duration

	mu         sync.Mutex
	lastValue  I
	hasValue   bool
	current    *controller
	stateCell  *cell.Cell[StatePayload[O]]
	filtered   *cell.Cell[*O]
}

// New creates a Dispatcher subscribed to input. debounce of 0 means f runs
// on the same dispatch without an artificial delay, but cancellation is
// still respected.
func New[I, O any](input *cell.Cell[I], f DispatchFunc[I, O], debounce time.Duration) *Dispatcher[I, O] {
	d := &Dispatcher[I, O]{
		f:         f,
		debounce:  debounce,
		stateCell: cell.New(StatePayload[O]{Loading: true}),
	}
	d.filtered = cell.New[*O](nil)

	d.lastValue = input.Value()
	d.hasValue = true
	d.dispatch(d.lastValue)

	input.Subscribe(func(v I) {
		d.mu.Lock()
		unchanged := d.hasValue && equal(d.lastValue, v)
		d.lastValue = v
		d.hasValue = true
		d.mu.Unlock()
		if unchanged {
			return
		}
		d.dispatch(v)
	})

	return d
}

// StateCell exposes the reactive loading/ok/error payload.
func (d *Dispatcher[I, O]) StateCell() *cell.Cell[StatePayload[O]] {
	return d.stateCell
}

// FilteredCell projects the ok payload's data, or nil while loading or on error.
func (d *Dispatcher[I, O]) FilteredCell() *cell.Cell[*O] {
	return d.filtered
}

// State returns the current payload without subscribing.
func (d *Dispatcher[I, O]) State() StatePayload[O] {
	return d.stateCell.Value()
}

func (d *Dispatcher[I, O]) dispatch(v I) {
	// Reset: abort the current controller, install a fresh one, and publish
	// the loading payload synchronously before returning control.
	d.mu.Lock()
	if d.current != nil {
		d.current.abort()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &controller{cancel: cancel}
	d.current = c
	d.mu.Unlock()

	d.stateCell.Set(StatePayload[O]{Loading: true, Progress: 0})
	d.filtered.Set(nil)

	go d.run(ctx, c, v)
}

func (d *Dispatcher[I, O]) run(ctx context.Context, c *controller, v I) {
	if d.debounce > 0 {
		timer := time.NewTimer(d.debounce)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	if c.Aborted() {
		d.raise(c, fmt.Errorf("dispatcher: aborted"))
		return
	}

	progress := func(p float64) {
		if c.Aborted() {
			return
		}
		d.publish(c, StatePayload[O]{Loading: true, Progress: p})
	}

	out, err := d.f(ctx, v, progress)
	if err != nil {
		d.raise(c, err)
		return
	}
	d.commit(c, out)
}

func (d *Dispatcher[I, O]) commit(c *controller, out O) {
	if c.Aborted() {
		return
	}
	d.publish(c, StatePayload[O]{Ok: true, Data: out})
	d.filtered.Set(&out)
}

func (d *Dispatcher[I, O]) raise(c *controller, err error) {
	if c.Aborted() {
		return
	}
	slog.Debug(fmt.Sprintf("%s - dispatch failed: %v", logPrefix, err))
	d.publish(c, StatePayload[O]{Ok: false, Err: err})
	d.filtered.Set(nil)
}

// publish writes a payload only if c is still the Dispatcher's current
// controller, not merely non-aborted. A late callback from a superseded run
// can never clobber a newer run's state.
func (d *Dispatcher[I, O]) publish(c *controller, payload StatePayload[O]) {
	d.mu.Lock()
	isCurrent := d.current == c
	d.mu.Unlock()
	if !isCurrent || c.Aborted() {
		return
	}
	d.stateCell.Set(payload)
}

func equal[I any](a, b I) bool {
	return reflect.DeepEqual(a, b)
}
