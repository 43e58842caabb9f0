// Package app wires the traderoom server runtime: config, logging, storage,
// the chat core, and HTTP routes.
//
// It is intentionally small and deterministic so boot failures surface at
// startup rather than on the first request.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"traderoom/cmd/internal/chat"
	"traderoom/cmd/internal/metrics"
	"traderoom/cmd/internal/preview"
)

// closer is a small app-level lifecycle abstraction. It exists so
// DB- and disk-backed resources can be closed gracefully on shutdown.
type closer interface {
	Close(ctx context.Context) error
}

type nopCloser struct{}

func (nopCloser) Close(_ context.Context) error { return nil }

// App is the traderoom server runtime.
type App struct {
	cfg Config
	log Logger

	store     closer
	dbPool    *pgxpool.Pool
	dbEnabled bool

	previews *preview.Service
	chat     *chat.Handler
	met      *metrics.Metrics
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	auth, err := NewAuthenticator(cfg, log)
	if err != nil {
		return nil, err
	}

	st, dbPool, dbEnabled, msgStore, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	previews, previewCloser, err := newPreviewService(cfg, log)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	met := metrics.New()

	chatHandler := chat.NewHandler(
		log,
		msgStore,
		previews,
		directoryFromConfig(cfg),
		auth,
		chat.StreamConfigFromEnv(os.Getenv),
		met,
	)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     multiCloser{st, previewCloser},
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		previews:  previews,
		chat:      chatHandler,
		met:       met,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.chat, a.met)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 60*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (closer, *pgxpool.Pool, bool, chat.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopCloser{}, nil, false, chat.NewInMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, err
	}

	log.Info("db.enabled.postgres_store")

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore.Close() is a no-op
	msgStore, err := chat.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, err
	}

	return dbStore{pool: pool, msgStore: msgStore}, pool, true, msgStore, nil
}

type dbStore struct {
	pool     *pgxpool.Pool
	msgStore chat.Store
}

func (s dbStore) Close(_ context.Context) error {
	if s.msgStore != nil {
		_ = s.msgStore.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// newPreviewService builds the link-preview service over a disk-backed
// cache when a cache dir is configured, or a process-local one otherwise.
func newPreviewService(cfg Config, log Logger) (*preview.Service, closer, error) {
	var cache preview.Cache
	if cfg.PreviewCacheDir == "" {
		log.Info("preview.cache.inmemory")
		cache = preview.NewMemoryCache()
	} else {
		pc, err := preview.OpenPebbleCache(cfg.PreviewCacheDir)
		if err != nil {
			return nil, nil, err
		}
		log.Info("preview.cache.pebble", "dir", cfg.PreviewCacheDir)
		cache = pc
	}

	svc := preview.NewService(log, cache, preview.Config{TTL: cfg.PreviewTTL})
	return svc, closerFunc(func(context.Context) error { return cache.Close() }), nil
}

type closerFunc func(ctx context.Context) error

func (f closerFunc) Close(ctx context.Context) error { return f(ctx) }

type multiCloser []closer

func (m multiCloser) Close(ctx context.Context) error {
	var first error
	for _, c := range m {
		if c == nil {
			continue
		}
		if err := c.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
