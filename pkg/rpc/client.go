package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/whisprhq/reactorpc/pkg/cell"
	"github.com/whisprhq/reactorpc/pkg/dispatcher"
)

const clientLogPrefix = "rpc:Client"

// UserData is the shape returned by the auth/whoami action this client's
// user Dispatcher resolves against.
type UserData struct {
	ID     string         `msgpack:"id"`
	Claims map[string]any `msgpack:"claims,omitempty"`
}

// Client is a typed, authenticated RPC caller whose login state is itself
// reactive.
type Client struct {
	url        string
	httpClient *http.Client
	authToken  *cell.Cell[*string]
	user       *dispatcher.Dispatcher[*string, *UserData]
}

// NewClient creates a Client against the given base URL. httpClient may be
// nil to use http.DefaultClient.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{url: url, httpClient: httpClient, authToken: cell.New[*string](nil)}
	c.user = dispatcher.New(c.authToken, func(ctx context.Context, token *string, progress func(float64)) (*UserData, error) {
		if token == nil {
			return nil, nil
		}
		var out UserData
		if err := c.unsafeExec(ctx, "/exec/auth/whoami", map[string]any{}, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}, 0)
	return c
}

// AuthTokenCell exposes the current bearer token reactively.
func (c *Client) AuthTokenCell() *cell.Cell[*string] {
	return c.authToken
}

// UserDispatcher exposes the reactive resolution of the current user from
// the current auth token.
func (c *Client) UserDispatcher() *dispatcher.Dispatcher[*string, *UserData] {
	return c.user
}

// SetAuthToken publishes a new token (or clears it with nil), triggering
// the user Dispatcher. A no-op if t already equals the current token.
func (c *Client) SetAuthToken(t *string) {
	c.authToken.Set(t)
}

// Login sets the token then waits for the user Dispatcher to leave loading,
// reporting whether it resolved ok. Bounded by timeout so a Dispatcher whose
// handler never settles cannot block the caller indefinitely (this was an open
// question).
func (c *Client) Login(ctx context.Context, t string) (bool, error) {
	c.SetAuthToken(&t)

	const timeout = 10 * time.Second
	deadline := time.Now().Add(timeout)
	for {
		s := c.user.State()
		if !s.Loading {
			return s.Ok, nil
		}
		if time.Now().After(deadline) {
			return false, fmt.Errorf("%s - login timed out waiting for user resolution", clientLogPrefix)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Exec performs an authenticated call to action and decodes the response
// into out.
func (c *Client) Exec(ctx context.Context, action string, input any, out any) error {
	return c.unsafeExec(ctx, "/exec/"+action, input, out)
}

func (c *Client) unsafeExec(ctx context.Context, path string, input any, out any) error {
	testedToken := c.authToken.Value()

	body, err := Encode(input)
	if err != nil {
		return fmt.Errorf("%s - failed to encode request: %w", clientLogPrefix, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s - failed to build request: %w", clientLogPrefix, err)
	}
	req.Header.Set("Content-Type", ContentType)
	if testedToken != nil {
		req.Header.Set("Authorization", "Bearer "+*testedToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s - request failed: %w", clientLogPrefix, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s - failed to read response: %w", clientLogPrefix, err)
	}

	decoded, _ := DecodeMap(respBody)

	switch resp.StatusCode {
	case http.StatusOK:
		if out != nil {
			if err := Decode(respBody, out); err != nil {
				return fmt.Errorf("%s - failed to decode response: %w", clientLogPrefix, err)
			}
		}
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		current := c.authToken.Value()
		if samePointerValue(current, testedToken) {
			c.authToken.Set(nil)
		}
		return NewPermissionDenied(messageOf(decoded))
	case http.StatusNotFound:
		return NewNotFound(messageOf(decoded))
	case 422:
		return NewValidationError(issuesOf(decoded), decoded["received"])
	case http.StatusBadRequest, http.StatusInternalServerError:
		code, _ := decoded["code"].(string)
		return NewServerError(resp.StatusCode, code, messageOf(decoded), decoded["payload"])
	default:
		return NewUnexpected(resp.StatusCode)
	}
}

func samePointerValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func messageOf(decoded map[string]any) string {
	if m, ok := decoded["error"].(string); ok {
		return m
	}
	return ""
}

func issuesOf(decoded map[string]any) []ValidationIssue {
	raw, ok := decoded["errors"].([]any)
	if !ok {
		return nil
	}
	issues := make([]ValidationIssue, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		path, _ := m["path"].(string)
		msg, _ := m["message"].(string)
		issues = append(issues, ValidationIssue{Path: path, Message: msg})
	}
	return issues
}
