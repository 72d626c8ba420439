package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"git.sr.ht/~jakintosh/orden/internal/bridge"
	"git.sr.ht/~jakintosh/orden/internal/config"
	"git.sr.ht/~jakintosh/orden/internal/domain"
	"git.sr.ht/~jakintosh/orden/internal/realtime"
	"git.sr.ht/~jakintosh/orden/internal/store"
	"git.sr.ht/~jakintosh/orden/internal/web"
)

// getConfigValue returns the CLI flag value if set, otherwise the env value.
func getConfigValue(flagVal, envVal string) string {
	if flagVal != "" {
		return flagVal
	}
	return envVal
}

func main() {
	addr := flag.String("addr", "", "Listen address (env: ORDEN_ADDR)")
	storeKind := flag.String("store", "", "Store backend: sqlite, mysql or memory (env: ORDEN_STORE)")
	dbPath := flag.String("db", "", "SQLite database path (env: ORDEN_DB_PATH)")
	seedPath := flag.String("seed", "", "YAML seed file to import at startup (env: ORDEN_SEED)")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (env: ORDEN_LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Addr = getConfigValue(*addr, cfg.Addr)
	cfg.Store = strings.ToLower(getConfigValue(*storeKind, cfg.Store))
	cfg.DBPath = getConfigValue(*dbPath, cfg.DBPath)
	cfg.SeedPath = getConfigValue(*seedPath, cfg.SeedPath)
	cfg.LogLevel = getConfigValue(*logLevel, cfg.LogLevel)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("orden stopped", "err", err)
		os.Exit(1)
	}
}

func parseLevel(raw string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func openStore(cfg config.Config) (domain.Store, error) {
	switch cfg.Store {
	case "sqlite":
		return store.NewSQLiteStore(cfg.DBPath)
	case "mysql":
		return store.NewMySQLStore(cfg.MySQL)
	case "memory":
		return store.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if cfg.SeedPath != "" {
		seed, err := store.LoadSeedFile(cfg.SeedPath)
		if err != nil {
			return err
		}
		imp, ok := st.(store.Importer)
		if !ok {
			return fmt.Errorf("store %q cannot import seeds", cfg.Store)
		}
		if err := imp.Import(ctx, seed); err != nil {
			return fmt.Errorf("import seed: %w", err)
		}
		logger.Info("seed imported", "path", cfg.SeedPath, "leads", len(seed.Leads))
	}

	hub := realtime.NewHub()
	defer hub.Close()

	srv, err := web.NewServer(bridge.New(st, hub, logger), hub, logger, cfg.ReadLimit)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Addr, "store", cfg.Store)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown)
		defer cancel()
		// Sockets are hijacked connections; closing the hub ends their pumps.
		hub.Close()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
