package asyncinput

import (
	"context"
	"testing"
	"time"

	"github.com/whisprhq/reactorpc/pkg/cell"
)

const gatewayTestPrefix = "asyncinput:gateway_test"

type query struct {
	Q string
}

type result struct {
	Text string
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("%s - timed out waiting for condition", gatewayTestPrefix)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGateway_StalenessDiscard(t *testing.T) {
	external := cell.New(Value[query, result]{Meta: Meta[query]{TS: 0, Config: query{Q: ""}}})

	var observed []Value[query, result]
	external.Subscribe(func(v Value[query, result]) { observed = append(observed, v) })

	g := New[query, result](external, func(ctx context.Context, c query) (result, error) {
		if c.Q == "a" {
			time.Sleep(120 * time.Millisecond)
		} else {
			time.Sleep(10 * time.Millisecond)
		}
		return result{Text: c.Q + "-result"}, nil
	})

	g.SetConfig(func(c *query) *query { c.Q = "a"; return nil })
	time.Sleep(5 * time.Millisecond)
	g.SetConfig(func(c *query) *query { c.Q = "ab"; return nil })

	waitUntil(t, time.Second, func() bool { return !g.PendingCell().Value() })
	// let the slow "a" handler's result (if any) land too
	time.Sleep(150 * time.Millisecond)

	for _, v := range observed {
		if v.Result.Text == "a-result" {
			t.Fatalf("%s - stale result from superseded edit must never be forwarded, got %+v", gatewayTestPrefix, v)
		}
	}
	if external.Value().Result.Text != "ab-result" {
		t.Fatalf("%s - expected fresh ab-result, got %+v", gatewayTestPrefix, external.Value())
	}
}

func TestGateway_MonotonicTimestamps(t *testing.T) {
	external := cell.New(Value[query, result]{Meta: Meta[query]{TS: 0}})
	g := New[query, result](external, func(ctx context.Context, c query) (result, error) {
		return result{Text: c.Q}, nil
	})

	var tsSeen []int64
	external.Subscribe(func(v Value[query, result]) { tsSeen = append(tsSeen, v.Meta.TS) })

	for i := 0; i < 5; i++ {
		g.SetConfig(func(c *query) *query { c.Q = c.Q + "x"; return nil })
	}
	waitUntil(t, time.Second, func() bool { return !g.PendingCell().Value() })
	time.Sleep(20 * time.Millisecond)

	for i := 1; i < len(tsSeen); i++ {
		if tsSeen[i] <= tsSeen[i-1] {
			t.Fatalf("%s - timestamps observed on the external setter must strictly increase, got %v", gatewayTestPrefix, tsSeen)
		}
	}
}

func TestGateway_ConfigUpdatesSynchronously(t *testing.T) {
	external := cell.New(Value[query, result]{Meta: Meta[query]{TS: 0, Config: query{Q: "start"}}})
	g := New[query, result](external, func(ctx context.Context, c query) (result, error) {
		time.Sleep(50 * time.Millisecond)
		return result{Text: c.Q}, nil
	})

	g.SetConfig(func(c *query) *query { c.Q = "typed"; return nil })
	if g.Config().Q != "typed" {
		t.Fatalf("%s - expected Config() to update immediately without waiting on the handler, got %q", gatewayTestPrefix, g.Config().Q)
	}
}

func TestGateway_SetConfigReturnedValueReplacesConfig(t *testing.T) {
	external := cell.New(Value[query, result]{Meta: Meta[query]{TS: 0, Config: query{Q: "start"}}})
	g := New[query, result](external, func(ctx context.Context, c query) (result, error) {
		return result{Text: c.Q + "-result"}, nil
	})

	g.SetConfig(func(c *query) *query {
		return &query{Q: "replaced"}
	})
	if g.Config().Q != "replaced" {
		t.Fatalf("%s - expected returned config to replace the clone, got %q", gatewayTestPrefix, g.Config().Q)
	}

	waitUntil(t, time.Second, func() bool { return !g.PendingCell().Value() })
	if external.Value().Result.Text != "replaced-result" {
		t.Fatalf("%s - expected handler to run with the returned config, got %+v", gatewayTestPrefix, external.Value())
	}
}

func TestGateway_SetConfigMutationUsedWhenNilReturned(t *testing.T) {
	external := cell.New(Value[query, result]{Meta: Meta[query]{TS: 0, Config: query{Q: "start"}}})
	g := New[query, result](external, func(ctx context.Context, c query) (result, error) {
		return result{Text: c.Q}, nil
	})

	g.SetConfig(func(c *query) *query {
		c.Q = "mutated"
		return nil
	})
	if g.Config().Q != "mutated" {
		t.Fatalf("%s - expected in-place mutation to be used on nil return, got %q", gatewayTestPrefix, g.Config().Q)
	}
}

func TestGateway_ExternalSyncAdoptsNewerMeta(t *testing.T) {
	external := cell.New(Value[query, result]{Meta: Meta[query]{TS: 0, Config: query{Q: "start"}}})
	g := New[query, result](external, func(ctx context.Context, c query) (result, error) {
		return result{Text: c.Q}, nil
	})

	external.Set(Value[query, result]{Meta: Meta[query]{TS: 1000, Config: query{Q: "server-pushed"}}, Result: result{Text: "server-result"}})

	waitUntil(t, time.Second, func() bool { return g.Config().Q == "server-pushed" })
}
