package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lmsquiz/internal/app"
	"lmsquiz/internal/attempt"
	"lmsquiz/internal/attempt/sqlstore"
	"lmsquiz/internal/catalogcache"
	"lmsquiz/internal/db"
)

func main() {
	cfg := app.LoadConfig()
	if cfg.JWTSecret == "" {
		log.Printf("config error: JWT_SECRET is required")
		os.Exit(1)
	}

	ctx := context.Background()
	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		log.Printf("database error: %v", err)
		os.Exit(1)
	}
	defer closeBackend()

	if cfg.RedisAddr != "" {
		client, err := catalogcache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Printf("redis unavailable, catalog cache disabled: %v", err)
		} else {
			defer client.Close()
			backend.Catalog = catalogcache.New(backend.Catalog, client, cfg.CatalogTTL)
			log.Printf("catalog cache enabled addr=%s ttl=%s", cfg.RedisAddr, cfg.CatalogTTL)
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.NewRouter(cfg, backend),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("lmsquiz web listening on %s driver=%s", cfg.HTTPAddr, cfg.DBDriver)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}

func openBackend(ctx context.Context, cfg app.Config) (app.Backend, func(), error) {
	var (
		conn *sql.DB
		err  error
	)
	switch cfg.DBDriver {
	case "memory":
		store := attempt.NewMemoryStore()
		return app.Backend{Attempts: store, Catalog: store}, func() {}, nil
	case "sqlite":
		conn, err = db.OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		conn, err = db.OpenPostgresWithConfig(ctx, cfg.DBDSN, db.PostgresConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
		})
	default:
		return app.Backend{}, nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
	if err != nil {
		return app.Backend{}, nil, err
	}

	store, err := sqlstore.New(conn, sqlstore.Driver(cfg.DBDriver))
	if err != nil {
		_ = conn.Close()
		return app.Backend{}, nil, err
	}
	if cfg.DBAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = conn.Close()
			return app.Backend{}, nil, err
		}
	}
	return app.Backend{Attempts: store, Catalog: store, DB: conn}, func() { _ = conn.Close() }, nil
}
