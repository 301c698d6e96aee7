// Package tests contains end-to-end tests for reactorpc: a full RPC round
// trip through an httptest-backed rpc.Server, with call completion fanned
// out over an embedded NATS server the way a deployed reactorpc process
// fans call events out to pkg/events.CommsPublisher.
package tests

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/whisprhq/reactorpc/pkg/commsutil"
	"github.com/whisprhq/reactorpc/pkg/events"
	"github.com/whisprhq/reactorpc/pkg/rpc"
)

const (
	e2eNatsPort = 14240
	e2eSecret   = "e2e-test-secret"
)

// e2eEnv holds the test environment for end-to-end tests.
type e2eEnv struct {
	nc *comms.Conn
	ns *commsserver.Server

	mu       sync.Mutex
	captured []*events.RPCCallEvent
}

func (e *e2eEnv) record(ev *events.RPCCallEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.captured = append(e.captured, ev)
}

func (e *e2eEnv) snapshot() []*events.RPCCallEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*events.RPCCallEvent, len(e.captured))
	copy(out, e.captured)
	return out
}

// setupE2E starts an embedded NATS server and an rpc.Server wired to publish
// RPCCallEvents through it, returning a Client ready to call against it.
func setupE2E(t *testing.T) (*e2eEnv, *rpc.Client) {
	t.Helper()

	opts := &commsserver.Options{Host: "127.0.0.1", Port: e2eNatsPort, NoLog: true, NoSigs: true}
	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("e2e_test - failed to create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("e2e_test - NATS server failed to start")
	}

	nc, err := commsutil.Connect(ns.ClientURL(), "e2e-test")
	if err != nil {
		ns.Shutdown()
		t.Fatalf("e2e_test - failed to connect: %v", err)
	}

	env := &e2eEnv{nc: nc, ns: ns}

	sub, err := nc.Subscribe(commsutil.SubjectRPCCalled, func(msg *comms.Msg) {
		var ev events.RPCCallEvent
		if err := json.Unmarshal(msg.Data, &ev); err == nil {
			env.record(&ev)
		}
	})
	if err != nil {
		nc.Close()
		ns.Shutdown()
		t.Fatalf("e2e_test - failed to subscribe: %v", err)
	}

	pub := events.NewCommsPublisher(nc, nil)

	srv := rpc.NewServer(rpc.ServerConfig{
		JWTSecret: e2eSecret,
		OnCalled: func(rec rpc.CallRecord) {
			userID := ""
			if rec.User != nil {
				userID = rec.User.ID
			}
			pub.PublishCalled(context.Background(), &events.RPCCallEvent{
				Action:     rec.Action,
				Version:    rec.Version,
				UserID:     userID,
				Status:     rec.Status,
				ErrorKind:  rec.ErrorKind,
				DurationMs: rec.Duration.Milliseconds(),
				Timestamp:  time.Now().UTC().Format(time.RFC3339),
			})
		},
	})
	srv.Register("echo", []byte(`{"type":"object","required":["n"],"properties":{"n":{"type":"number"}}}`), false,
		func(_ context.Context, in map[string]any, _ *rpc.User) (any, error) {
			return map[string]any{"n": in["n"]}, nil
		})
	srv.Register("boom", nil, false, func(_ context.Context, _ map[string]any, _ *rpc.User) (any, error) {
		return nil, rpc.NewHandledError(409, "CONFLICT", "already exists", nil)
	})

	httpSrv := newHTTPTestServer(t, srv)
	client := rpc.NewClient(httpSrv, nil)

	t.Cleanup(func() {
		sub.Unsubscribe()
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	return env, client
}

func TestE2E_SuccessfulCallPublishesEvent(t *testing.T) {
	env, client := setupE2E(t)

	var out map[string]any
	if err := client.Exec(context.Background(), "echo", map[string]any{"n": 7}, &out); err != nil {
		t.Fatalf("e2e_test - unexpected error: %v", err)
	}

	var got *events.RPCCallEvent
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range env.snapshot() {
			if ev.Action == "echo" {
				got = ev
			}
		}
		if got != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got == nil {
		t.Fatal("e2e_test - expected an echo call event to be published")
	}
	if got.Status != 200 {
		t.Errorf("e2e_test - Status = %d, want 200", got.Status)
	}
}

func TestE2E_HandledErrorPublishesFailureEvent(t *testing.T) {
	env, client := setupE2E(t)

	var out map[string]any
	err := client.Exec(context.Background(), "boom", map[string]any{}, &out)
	if err == nil {
		t.Fatal("e2e_test - expected handled error")
	}

	var got *events.RPCCallEvent
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range env.snapshot() {
			if ev.Action == "boom" {
				got = ev
			}
		}
		if got != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got == nil {
		t.Fatal("e2e_test - expected a boom call event to be published")
	}
	if got.Status != 409 {
		t.Errorf("e2e_test - Status = %d, want 409", got.Status)
	}
	if got.ErrorKind != string(rpc.KindHandledError) {
		t.Errorf("e2e_test - ErrorKind = %q, want %q", got.ErrorKind, rpc.KindHandledError)
	}
}

func TestE2E_UnknownActionPublishesNotFoundEvent(t *testing.T) {
	env, client := setupE2E(t)

	var out map[string]any
	if err := client.Exec(context.Background(), "nope", map[string]any{}, &out); err == nil {
		t.Fatal("e2e_test - expected not-found error")
	}

	var got *events.RPCCallEvent
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range env.snapshot() {
			if ev.Action == "nope" {
				got = ev
			}
		}
		if got != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got == nil {
		t.Fatal("e2e_test - expected a nope call event to be published")
	}
	if got.Status != 404 {
		t.Errorf("e2e_test - Status = %d, want 404", got.Status)
	}
}
