package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/whisprhq/reactorpc/pkg/actionref"
	"github.com/whisprhq/reactorpc/pkg/idgen"
	"github.com/whisprhq/reactorpc/pkg/metrics"
)

const logPrefix = "rpc:Server"

// User is the resolved identity of an authenticated caller.
type User struct {
	ID     string
	Claims map[string]any
}

// Handler is an action's business logic: input decoded from the envelope,
// the resolved user (nil if unauthenticated), and a typed output or error.
// Returning a *Error (including one built with NewHandledError) surfaces its
// status/code/payload to the client; any other error is logged and turned
// into a generic 500.
type Handler func(ctx context.Context, input map[string]any, user *User) (any, error)

type registeredAction struct {
	version      actionref.Version
	authRequired bool
	schema       *jsonschema.Schema
	handler      Handler
}

// CallRecord summarizes one completed call, passed to ServerConfig.OnCalled
// for the audit trail and event publishing.
type CallRecord struct {
	RequestID string
	Action    string
	Version   string
	User      *User
	Status    int
	ErrorKind string
	Duration  time.Duration
}

// ServerConfig configures NewServer.
type ServerConfig struct {
	// JWTSecret verifies the HMAC-signed bearer tokens this server accepts.
	JWTSecret string
	// GetMetrics returns the current metrics, in the order they should be
	// exposed, for the /metrics endpoint.
	GetMetrics func() []metrics.Sample
	// OnCalled, if set, is invoked after every completed call (successful
	// or not) with a summary for the audit trail and event publishing.
	OnCalled func(CallRecord)
}

// Server hosts POST /exec/<action> and GET /metrics.
type Server struct {
	cfg ServerConfig

	mu      sync.RWMutex
	actions map[string]map[string]*registeredAction // action -> version string -> entry
}

// NewServer creates a Server. Re-registering an action+version combination
// is a fatal configuration error, enforced at Register time.
func NewServer(cfg ServerConfig) *Server {
	return &Server{cfg: cfg, actions: make(map[string]map[string]*registeredAction)}
}

// Register registers action at version 1.0.0. schema is a JSON Schema
// document (or nil to skip validation). Panics if action@1.0.0 is already
// registered.
func (s *Server) Register(action string, schema []byte, authRequired bool, handler Handler) {
	s.RegisterVersion(action, actionref.Version{Major: 1}, schema, authRequired, handler)
}

// RegisterVersion registers action at a specific version, enabling clients
// to request "action@constraint" via the X-Action-Version header.
func (s *Server) RegisterVersion(action string, version actionref.Version, schema []byte, authRequired bool, handler Handler) {
	var compiled *jsonschema.Schema
	if len(schema) > 0 {
		c, err := compileSchema(action, version.String(), schema)
		if err != nil {
			panic(fmt.Sprintf("%s - invalid schema for action %q@%s: %v", logPrefix, action, version, err))
		}
		compiled = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.actions[action]
	if !ok {
		versions = make(map[string]*registeredAction)
		s.actions[action] = versions
	}
	key := version.String()
	if _, exists := versions[key]; exists {
		panic(fmt.Sprintf("%s - action %q@%s already registered", logPrefix, action, key))
	}
	versions[key] = &registeredAction{version: version, authRequired: authRequired, schema: compiled, handler: handler}
}

func compileSchema(action, version string, schema []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("mem://%s@%s", action, version)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Handler returns the http.Handler to mount at the root of the RPC surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/exec/", s.handleExec)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/exec/")
	if action == "" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	start := time.Now()
	reqID := idgen.NewWithPrefix("req")
	w.Header().Set("X-Request-Id", reqID)

	var version string
	var user *User
	status := http.StatusOK
	var errKind string
	respond := func(rpcErr *Error) {
		if rpcErr != nil {
			status = rpcErr.Status
			errKind = string(rpcErr.Kind)
			writeError(w, rpcErr)
		}
		s.recordCall(reqID, action, version, user, status, errKind, time.Since(start))
	}

	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, ContentType) {
		respond(newRequestInvalidTypeHeader(fmt.Sprintf("Content-Type must be %s", ContentType)))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respond(newRequestInvalidBody(err.Error()))
		return
	}
	input, err := DecodeMap(body)
	if err != nil {
		respond(newRequestInvalidBody(err.Error()))
		return
	}

	entry, rpcErr := s.resolve(action, r.Header.Get("X-Action-Version"))
	if rpcErr != nil {
		respond(rpcErr)
		return
	}
	version = entry.version.String()

	if authz := r.Header.Get("Authorization"); authz != "" {
		token, ok := strings.CutPrefix(authz, "Bearer ")
		if ok && token != "" {
			user, _ = s.parseUser(token)
		}
	}
	if entry.authRequired && user == nil {
		respond(newAuthenticationRequired())
		return
	}

	if entry.schema != nil {
		if issues := validateInput(entry.schema, input); issues != nil {
			respond(newValidationFailed(issues, input))
			return
		}
	}

	out, err := entry.handler(r.Context(), input, user)
	if err != nil {
		if rpcErr, ok := err.(*Error); ok {
			respond(rpcErr)
			return
		}
		slog.Error(fmt.Sprintf("%s - handler for action %q panicked or errored (request %s): %v", logPrefix, action, reqID, err))
		respond(newInternalServerError())
		return
	}

	data, err := Encode(out)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response for action %q (request %s): %v", logPrefix, action, reqID, err))
		respond(newInternalServerError())
		return
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	s.recordCall(reqID, action, version, user, status, errKind, time.Since(start))
}

func (s *Server) recordCall(reqID, action, version string, user *User, status int, errKind string, duration time.Duration) {
	if s.cfg.OnCalled == nil {
		return
	}
	s.cfg.OnCalled(CallRecord{
		RequestID: reqID,
		Action:    action,
		Version:   version,
		User:      user,
		Status:    status,
		ErrorKind: errKind,
		Duration:  duration,
	})
}

func (s *Server) resolve(action, versionHeader string) (*registeredAction, *Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.actions[action]
	if !ok {
		return nil, &Error{Kind: KindNotFound, Message: fmt.Sprintf("unknown action %q", action), Status: 404}
	}

	if versionHeader == "" {
		return pickHighest(versions), nil
	}

	ref, err := actionref.Parse(action + "@" + versionHeader)
	if err != nil {
		return nil, newRequestInvalidBody(err.Error())
	}
	candidates := make([]actionref.Version, 0, len(versions))
	for k := range versions {
		candidates = append(candidates, parseVersion(k))
	}
	resolved, err := actionref.Resolve(ref, candidates)
	if err != nil {
		return nil, &Error{Kind: KindNotFound, Message: err.Error(), Status: 404}
	}
	return versions[resolved.String()], nil
}

func pickHighest(versions map[string]*registeredAction) *registeredAction {
	var bestKey string
	var best *actionref.Version
	for k := range versions {
		v := parseVersion(k)
		if best == nil || compareVersions(v, *best) > 0 {
			best = &v
			bestKey = k
		}
	}
	return versions[bestKey]
}

func compareVersions(a, b actionref.Version) int {
	if a.Major != b.Major {
		return a.Major - b.Major
	}
	if a.Minor != b.Minor {
		return a.Minor - b.Minor
	}
	return a.Patch - b.Patch
}

func parseVersion(s string) actionref.Version {
	var maj, min, pat int
	parts := strings.SplitN(s, "-", 2)
	nums := strings.Split(parts[0], ".")
	if len(nums) > 0 {
		maj, _ = strconv.Atoi(nums[0])
	}
	if len(nums) > 1 {
		min, _ = strconv.Atoi(nums[1])
	}
	if len(nums) > 2 {
		pat, _ = strconv.Atoi(nums[2])
	}
	pre := ""
	if len(parts) > 1 {
		pre = parts[1]
	}
	return actionref.Version{Major: maj, Minor: min, Patch: pat, Prerelease: pre}
}

func (s *Server) parseUser(token string) (*User, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%s - invalid token: %w", logPrefix, err)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%s - token missing sub claim", logPrefix)
	}
	return &User{ID: sub, Claims: claims}, nil
}

func validateInput(schema *jsonschema.Schema, input map[string]any) []ValidationIssue {
	// The envelope decoder hands us msgpack-typed values (int64 etc.); the
	// validator expects the types encoding/json produces, so re-decode
	// through JSON before validating. Handlers still receive the original map.
	v, err := jsonValue(input)
	if err != nil {
		return []ValidationIssue{{Path: "", Message: err.Error()}}
	}
	if err := schema.Validate(v); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return flattenValidationError(ve)
		}
		return []ValidationIssue{{Path: "", Message: err.Error()}}
	}
	return nil
}

func jsonValue(input map[string]any) (any, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}

var validationPrinter = message.NewPrinter(language.English)

func flattenValidationError(ve *jsonschema.ValidationError) []ValidationIssue {
	var issues []ValidationIssue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			path := ""
			if len(e.InstanceLocation) > 0 {
				path = "/" + strings.Join(e.InstanceLocation, "/")
			}
			issues = append(issues, ValidationIssue{
				Path:    path,
				Message: e.ErrorKind.LocalizedString(validationPrinter),
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return issues
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.cfg.GetMetrics == nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		return
	}
	snapshot := s.cfg.GetMetrics()
	text, err := metrics.RenderPrometheus(snapshot)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - metrics render failed: %v", logPrefix, err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}

func writeError(w http.ResponseWriter, e *Error) {
	data, err := Encode(map[string]any{
		"error":    e.Message,
		"code":     e.Code,
		"kind":     string(e.Kind),
		"errors":   e.Errors,
		"received": e.Received,
		"payload":  e.Payload,
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(e.Status)
	w.Write(data)
}
