// Package server orchestrates all components: NATS client, Postgres audit
// trail, Appstorage persistence, and the RPC server's HTTP surface.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/whisprhq/reactorpc/internal/config"
	"github.com/whisprhq/reactorpc/pkg/appstorage"
	"github.com/whisprhq/reactorpc/pkg/audit"
	"github.com/whisprhq/reactorpc/pkg/commsutil"
	"github.com/whisprhq/reactorpc/pkg/events"
	"github.com/whisprhq/reactorpc/pkg/logging"
	"github.com/whisprhq/reactorpc/pkg/metrics"
	"github.com/whisprhq/reactorpc/pkg/rpc"
)

const logPrefix = "server:server"

// Server is the reactorpc process orchestrator.
type Server struct {
	cfg *config.Config

	nc      *comms.Conn
	pool    *pgxpool.Pool
	store   *appstorage.BoltPersistence
	repo    *audit.Repository
	pub     events.Publisher
	metrics *metrics.Recorder
	rpc     *rpc.Server

	httpServer *http.Server
}

// Run starts the server, blocks until a shutdown signal, then cleans up in
// reverse order of acquisition.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return fmt.Errorf("%s - invalid config: %w", logPrefix, err)
	}

	logging.Init(cfg.LogLevel)

	slog.Info(fmt.Sprintf("%s - starting reactorpc", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg, metrics: metrics.NewRecorder()}

	// Step 1: Postgres audit trail.
	pool, err := audit.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool
	if err := audit.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("%s - failed to ensure audit schema: %w", logPrefix, err)
	}
	s.repo = audit.NewRepository(pool)

	// Step 2: NATS for RPC call events. A server can run without NATS
	// configured; events become a NoOpPublisher.
	s.pub = &events.NoOpPublisher{}
	nc, err := commsutil.Connect(cfg.NATSURL, cfg.NATSName)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - NATS unavailable, falling back to NoOpPublisher: %v", logPrefix, err))
	} else {
		s.nc = nc
		opts := &events.CommsPublisherOpts{}
		if cfg.RPCCallEventSubject != "" {
			opts.GlobalSubject = cfg.RPCCallEventSubject
		}
		s.pub = events.NewCommsPublisher(nc, opts)
		slog.Info(fmt.Sprintf("%s - connected to NATS at %s", logPrefix, cfg.NATSURL))
	}

	// Step 3: Appstorage persistence.
	store, err := appstorage.OpenBolt(cfg.AppstorageFile)
	if err != nil {
		s.shutdownPartial(ctx)
		return fmt.Errorf("%s - failed to open appstorage file %q: %w", logPrefix, cfg.AppstorageFile, err)
	}
	s.store = store
	appstorage.SetPersistence(store)

	// Step 4: RPC server.
	s.rpc = rpc.NewServer(rpc.ServerConfig{
		JWTSecret:  cfg.JWTSecret,
		GetMetrics: s.metrics.OrderedSnapshot,
		OnCalled:   s.onCalled,
	})
	s.registerBuiltins()

	// Step 5: HTTP surface: /health, /ready, and the RPC server's own
	// /exec/{action} and /metrics routes.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/", s.rpc.Handler())

	s.httpServer = &http.Server{Addr: cfg.Addr(), Handler: mux}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP listening on %s", logPrefix, cfg.Addr()))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - reactorpc is ready", logPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - received signal %s, shutting down", logPrefix, sig))

	s.shutdownPartial(ctx)
	slog.Info(fmt.Sprintf("%s - shutdown complete", logPrefix))
	return nil
}

// shutdownPartial tears down whatever subset of resources has been acquired
// so far, in reverse order, tolerating nil fields from a partially-failed
// startup.
func (s *Server) shutdownPartial(ctx context.Context) {
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		s.httpServer.Shutdown(shutdownCtx)
		cancel()
	}
	if s.store != nil {
		s.store.Close()
	}
	if s.nc != nil {
		s.nc.Drain()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// registerBuiltins registers the actions every reactorpc server exposes
// regardless of the embedding program: auth/whoami resolves the caller's
// identity from their bearer token, mirroring pkg/rpc/client.go's
// UserDispatcher.
func (s *Server) registerBuiltins() {
	s.rpc.Register("auth/whoami", nil, true, func(_ context.Context, _ map[string]any, user *rpc.User) (any, error) {
		if user == nil {
			return nil, rpc.NewPermissionDenied("no authenticated user")
		}
		return rpc.UserData{ID: user.ID, Claims: user.Claims}, nil
	})
}

// onCalled is the rpc.ServerConfig.OnCalled hook: it records the call to the
// audit trail, publishes an RPCCallEvent, and bumps in-memory metrics.
// Audit/event I/O runs in a detached goroutine so a slow database or NATS
// publish never adds latency to the caller's response.
func (s *Server) onCalled(rec rpc.CallRecord) {
	s.metrics.Inc(metrics.Normalize(fmt.Sprintf("rpc_calls_%s_total", rec.Action)), 1)
	s.metrics.Set(metrics.Normalize(fmt.Sprintf("rpc_last_duration_ms_%s", rec.Action)), float64(rec.Duration.Milliseconds()))
	if rec.Status >= 400 {
		s.metrics.Inc(metrics.Normalize(fmt.Sprintf("rpc_errors_%s_total", rec.Action)), 1)
	}

	userID := ""
	if rec.User != nil {
		userID = rec.User.ID
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if s.repo == nil {
			return
		}
		if err := s.repo.Insert(ctx, audit.Record{
			RequestID:  rec.RequestID,
			Action:     rec.Action,
			Version:    rec.Version,
			UserID:     userID,
			Status:     rec.Status,
			ErrorKind:  rec.ErrorKind,
			DurationMs: rec.Duration.Milliseconds(),
			CalledAt:   time.Now().UTC(),
		}); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to insert audit record for %q (request %s): %v", logPrefix, rec.Action, rec.RequestID, err))
		}

		if err := s.pub.PublishCalled(ctx, &events.RPCCallEvent{
			RequestID:  rec.RequestID,
			Action:     rec.Action,
			Version:    rec.Version,
			UserID:     userID,
			Status:     rec.Status,
			ErrorKind:  rec.ErrorKind,
			DurationMs: rec.Duration.Milliseconds(),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to publish call event for %q (request %s): %v", logPrefix, rec.Action, rec.RequestID, err))
		}
	}()
}

type healthOutput struct {
	Status    string `json:"status"`
	Database  bool   `json:"database"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbOK := s.pool.Ping(ctx) == nil
	out := healthOutput{Database: dbOK, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if dbOK {
		out.Status = "healthy"
	} else {
		out.Status = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	if out.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
