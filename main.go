package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"doit/internal/config"
	"doit/internal/handlers"
	"doit/internal/logging"
	"doit/internal/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("DOIT_CONFIG"), "path to a .toml or .yaml config file")
	flag.Parse()

	// Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config", "err", err)
	}

	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server failed", "err", err)
	}
	logger.Info("server stopped")
}

// run serves the API until ctx is cancelled. The store is closed only after
// in-flight requests have finished.
func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	// Ensure data directory exists
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	// Initialize store
	s, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer s.Close()

	h := handlers.New(s, handlers.RequestConfirmer{}, logger)

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
	}

	srv := &http.Server{
		Handler:           newRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server
	logger.Info("starting server", "addr", "http://"+ln.Addr().String(), "driver", cfg.Driver)
	return serve(ctx, srv, ln, logger)
}

func newRouter(h *handlers.Handlers) chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	h.Routes(r)
	return r
}

// serve runs srv on ln until ctx is done, then waits for Shutdown to drain
// in-flight requests before returning.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, logger *log.Logger) error {
	shutdownDone := make(chan error, 1)
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownDone <- srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdownDone; err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// openStore opens the configured backend. With RecoverCorrupt set, an
// unreadable task file is moved aside and the store starts empty.
func openStore(cfg *config.Config, logger *log.Logger) (store.Store, error) {
	path := cfg.StoragePath()

	if cfg.Driver == config.DriverSQLite {
		s, err := store.NewSQLiteStore(path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	s, err := store.NewJSONStore(path, logger)
	if err == nil {
		logger.Info("opened task file", "path", s.Path())
		return s, nil
	}

	if !cfg.RecoverCorrupt || !errors.Is(err, store.ErrCorruptState) {
		return nil, err
	}

	moved, qerr := store.QuarantineCorrupt(path)
	if qerr != nil {
		return nil, errors.Join(err, qerr)
	}
	logger.Warn("task file was corrupt, starting with an empty list", "err", err, "moved_to", moved)

	s, err = store.NewJSONStore(path, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}
