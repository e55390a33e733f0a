// Package pg wires PostgreSQL connectivity for the billing services: pool
// construction with startup retry, goose schema migrations, a health check
// closure, and error classification helpers for pgx/pgconn errors.
//
// # Usage
//
//	import (
//	    "github.com/dmitrymomot/billingkit/pkg/config"
//	    "github.com/dmitrymomot/billingkit/pkg/pg"
//	)
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    log.Error("db connect failed", "error", err)
//	    os.Exit(1)
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, slog.Default()); err != nil {
//	    log.Error("migrations failed", "error", err)
//	    os.Exit(1)
//	}
//
// # Error classification
//
// Store implementations use IsNotFoundError and IsDuplicateKeyError to map
// low-level pgx errors onto domain sentinels, for example translating a
// unique violation on the active-subscription index into a duplicate
// subscription error.
package pg
