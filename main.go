package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geocab/api"
	"geocab/cache"
	"geocab/config"
	"geocab/database"
	"geocab/logger"
	"geocab/migration"
	"geocab/service"
	"geocab/store"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}

	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	cfg := config.Cfg
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg, os.Args[2:]); err != nil {
			log.Error("migration_failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		log.Error("server_failed", "err", err)
		os.Exit(1)
	}
}

func runMigrate(cfg *config.Config, args []string) error {
	dsn := cfg.DB.DSN()
	if len(args) > 0 && args[0] == "down" {
		return migration.Rollback(dsn)
	}
	return migration.RunMigrations(dsn)
}

func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "redis":
		return cache.InitializeRedis(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	case "postgres":
		dsn := cfg.DB.DSN()
		if err := migration.RunMigrations(dsn); err != nil {
			return nil, err
		}
		return database.Connect(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func run(cfg *config.Config) error {
	log := logger.L()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	owner, err := cfg.Ledger.OwnerAddress()
	if err != nil {
		return err
	}
	escrow, err := cfg.Ledger.EscrowAddress()
	if err != nil {
		return err
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	hub := api.NewHub()
	go hub.Run(ctx)

	svc, err := service.New(backend, service.Config{
		Precision:     cfg.Geo.Precision,
		Owner:         owner,
		EscrowAccount: escrow,
	}, service.WithNotifier(hub), service.WithLogger(log))
	if err != nil {
		return err
	}
	if err := svc.InitFee(ctx, cfg.Ledger.InitialFee); err != nil {
		return err
	}
	if err := svc.WarmCellTree(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.RegisterRoutes(svc, hub, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("server_started",
		"addr", cfg.Server.Addr,
		"backend", cfg.Store.Backend,
		"precision", cfg.Geo.Precision,
		"owner", svc.Owner(),
		"escrow_account", svc.EscrowAccount(),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("server_stopped")
	return nil
}
