package rpc

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

const clientTestPrefix = "rpc:client_test"

func newAuthTestServer(t *testing.T) *Client {
	t.Helper()
	srv := NewServer(ServerConfig{JWTSecret: "client-test-secret"})
	srv.Register("auth/whoami", nil, true, func(_ context.Context, _ map[string]any, user *User) (any, error) {
		return map[string]any{"id": user.ID}, nil
	})
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return NewClient(httpSrv.URL, httpSrv.Client())
}

func TestClient_LoginResolvesUser(t *testing.T) {
	client := newAuthTestServer(t)
	token := signTestToken(t, "client-test-secret", "user-7")

	ok, err := client.Login(context.Background(), token)
	if err != nil {
		t.Fatalf("%s - Login failed: %v", clientTestPrefix, err)
	}
	if !ok {
		t.Fatalf("%s - expected Login to report ok", clientTestPrefix)
	}

	s := client.UserDispatcher().State()
	if !s.Ok || s.Data == nil || s.Data.ID != "user-7" {
		t.Fatalf("%s - expected user dispatcher to resolve user-7, got %+v", clientTestPrefix, s)
	}
}

func TestClient_NilTokenResolvesNilUser(t *testing.T) {
	client := newAuthTestServer(t)

	deadline := time.Now().Add(time.Second)
	for {
		s := client.UserDispatcher().State()
		if !s.Loading {
			if !s.Ok || s.Data != nil {
				t.Fatalf("%s - expected ok nil user with no token, got %+v", clientTestPrefix, s)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s - user dispatcher never settled", clientTestPrefix)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_SetAuthTokenIsNoOpForEqualToken(t *testing.T) {
	client := newAuthTestServer(t)
	token := signTestToken(t, "client-test-secret", "user-1")

	client.SetAuthToken(&token)
	first := client.AuthTokenCell().Value()

	same := token
	client.SetAuthToken(&same)
	if client.AuthTokenCell().Value() != first {
		t.Errorf("%s - expected setting an equal token to be a no-op", clientTestPrefix)
	}
}
