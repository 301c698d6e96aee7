// Package main is the entrypoint for reactorpc.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/whisprhq/reactorpc/internal/config"
	"github.com/whisprhq/reactorpc/internal/server"
	"github.com/whisprhq/reactorpc/pkg/audit"
)

const usage = `Usage: reactorpc [command]
       reactorpc serve              Start the RPC server (NATS, Postgres audit trail, HTTP).
       reactorpc migrate            Ensure the audit schema exists (idempotent; no migration files).
       reactorpc ensure-db [name]   Create database if missing (default name: reactorpc_test). Uses DATABASE_URL host/user.

Commands:
  serve            (default) Start the reactorpc server.
  migrate          Ensure the audit schema exists.
  ensure-db [name] Create database (e.g. reactorpc_test) on the same host as DATABASE_URL.

Environment: DATABASE_URL (required), JWT_SECRET (required), NATS_URL, APPSTORAGE_FILE, RPC_HTTP_ADDR / HTTP_PORT. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if err := runMigrate(); err != nil {
			log.Fatalf("reactorpc migrate: %v", err)
		}
		return
	case "ensure-db":
		dbName := "reactorpc_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("reactorpc ensure-db: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("reactorpc: %v", err)
	}
}

func runMigrate() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	ctx := context.Background()
	pool, err := audit.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := audit.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	// Replace path with target database name; query (e.g. sslmode) is kept on u.RawQuery.
	u.Path = "/" + dbName
	targetURL := u.String()
	ctx := context.Background()
	if err := audit.EnsureDatabase(ctx, targetURL); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}
