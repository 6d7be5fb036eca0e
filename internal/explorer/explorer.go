// Package explorer serves the resolved build graph over a JSON HTTP
// API. The server holds one session and answers family and target
// lookups from it; with watching enabled, declaration file edits swap
// in a freshly built session so answers never go stale.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/quarrybuild/quarry/internal/session"
	"github.com/quarrybuild/quarry/internal/watch"
)

// DefaultListen is the listen address used when none is configured.
const DefaultListen = "127.0.0.1:8745"

// Config holds configuration for the explorer server.
type Config struct {
	// Session answers lookups. Required.
	Session *session.Session

	// Rebuild constructs a replacement session after declaration files
	// change. Required when Watch is set.
	Rebuild func() (*session.Session, error)

	// Addr is the listen address; empty uses DefaultListen.
	Addr string

	// Watch enables filesystem invalidation; Root is the on-disk build
	// root it observes.
	Watch bool
	Root  string

	// Debounce spaces change bursts; zero uses the watch default.
	Debounce time.Duration

	Logger *slog.Logger
}

// Server is the explorer HTTP server.
type Server struct {
	mu      sync.RWMutex
	sess    *session.Session
	rebuild func() (*session.Session, error)
	watcher *watch.Watcher
	addr    string
	logger  *slog.Logger
}

// NewServer creates an explorer server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("explorer: Config.Session is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultListen
	}

	s := &Server{
		sess:    cfg.Session,
		rebuild: cfg.Rebuild,
		addr:    addr,
		logger:  logger,
	}

	if cfg.Watch {
		if cfg.Root == "" {
			return nil, fmt.Errorf("explorer: Config.Root is required with Watch")
		}
		if cfg.Rebuild == nil {
			return nil, fmt.Errorf("explorer: Config.Rebuild is required with Watch")
		}
		w, err := watch.New(watch.Config{
			Root:     cfg.Root,
			Patterns: cfg.Session.Patterns(),
			Ignores:  cfg.Session.Ignores(),
			Debounce: cfg.Debounce,
			OnChange: s.invalidate,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		s.watcher = w
	}
	return s, nil
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting explorer", slog.String("addr", s.addr))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watcher != nil {
		eg.Go(func() error {
			return s.watcher.Run(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down explorer")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// Handler returns the route tree, for serving and for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.Recoverer,
		middleware.Compress(5),
	)
	s.routes(r)
	return r
}

// session returns the current session under the read lock.
func (s *Server) session() *session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess
}

// invalidate swaps in a freshly built session. A rebuild failure keeps
// the old session serving.
func (s *Server) invalidate() {
	next, err := s.rebuild()
	if err != nil {
		s.logger.Error("session rebuild failed", slog.Any("error", err))
		return
	}
	s.mu.Lock()
	s.sess = next
	s.mu.Unlock()
	s.logger.Debug("session rebuilt")
}
