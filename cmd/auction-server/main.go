// Command auction-server runs the cross-currency auction engine behind a
// JSON-per-connection socket, over vsock inside an enclave or TCP elsewhere.
//
// The server does not authenticate callers. The sender of every request is whatever
// account the request names, so owner-only and owner-of-balance checks hold only for
// a trusted client, such as the parent instance on the other end of vsock.
//
// Configuration comes from the environment (or a .env file named by ENV_FILE):
//
//	ENGINE_MAX_WORKERS    required, concurrent connections served
//	LISTEN_MODE           vsock or tcp (default tcp)
//	VSOCK_PORT            vsock port (default 5000)
//	LISTEN_ADDR           tcp address (default 127.0.0.1:5000)
//	ENGINE_OWNER          owner installed on first start
//	NATIVE_FEED           feed reference for the native coin
//	TOKENS                ref:decimals list, e.g. usdt:6,dai:18
//	COLLECTIONS           asset collection refs (default demo)
//	STATIC_FEEDS          ref:price:decimals fixed-rate feeds, used without REDIS_URL
//	REDIS_URL             price feeds from redis hashes
//	SNAPSHOT_FILE         persist storage to a file
//	POSTGRES_HOST         persist storage to postgres (POSTGRES_* for the rest)
//	NATS_URL, AMQP_URL    publish engine events
//	MANIFEST_PUBLIC_KEY   PEM key that upgrade manifests must be signed with
//	DEMO_ACTIONS          serve fund, approve and mint_asset (default false)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := buildServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	if err := srv.Start(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		srv.Close()
		os.Exit(1)
	}
	logger.Info("server shut down")
}
