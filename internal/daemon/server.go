package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bridgecall/bridgecall/internal/api/handlers"
	"github.com/bridgecall/bridgecall/internal/api/middleware"
	"github.com/bridgecall/bridgecall/internal/auth"
	"github.com/bridgecall/bridgecall/internal/config"
	"github.com/bridgecall/bridgecall/internal/notify"
	"github.com/bridgecall/bridgecall/internal/queue"
	"github.com/bridgecall/bridgecall/internal/storage/sqlite"
)

// sweepInterval is how often expired sessions are purged from storage.
// Expiry itself is enforced at read time; the sweep only reclaims rows.
const sweepInterval = time.Hour

// Server is the bridgecall API daemon: storage, auth service, notifier and
// HTTP surface assembled from config.
type Server struct {
	cfg    *config.Config
	server *http.Server
	router *http.ServeMux

	authService *auth.Service
	notifier    notify.Notifier

	// Exactly one of pool/db is set, depending on DATABASE_URL.
	pool      *pgxpool.Pool
	db        *sqlite.DB
	queueConn *queue.Connection

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// NewServer creates a new daemon server
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		router:    http.NewServeMux(),
		sweepDone: make(chan struct{}),
	}

	repo, err := s.openStorage(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	s.authService = auth.NewService(repo)

	// Queue-backed delivery when a broker is configured; otherwise links
	// only appear in the debug log.
	if cfg.AMQPURL != "" {
		conn, err := queue.NewConnection(cfg.AMQPURL)
		if err != nil {
			return nil, fmt.Errorf("connect queue: %w", err)
		}
		s.queueConn = conn
		s.notifier = notify.NewQueueNotifier(conn)
	} else {
		slog.Warn("AMQP_URL not set, magic links will not be delivered")
		s.notifier = notify.LogNotifier{}
	}

	s.setupRoutes()

	handler := middleware.Recovery(middleware.RequestID(middleware.Logger(middleware.CORS(cfg.WebBaseURL)(s.router))))
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// openStorage selects the backing store from the URL scheme: "sqlite:" paths
// get the embedded store, anything else is treated as a Postgres DSN.
func (s *Server) openStorage(ctx context.Context, databaseURL string) (auth.Repository, error) {
	if path, ok := strings.CutPrefix(databaseURL, "sqlite:"); ok {
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		s.db = db
		slog.Info("storage ready", "backend", "sqlite", "path", path)
		return auth.NewSQLiteRepository(db), nil
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s.pool = pool
	slog.Info("storage ready", "backend", "postgres")
	return auth.NewPostgresRepository(pool), nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	cookies := &handlers.CookieCodec{
		Name:   s.cfg.CookieName,
		Secret: s.cfg.SessionSecret,
		Secure: !s.cfg.Debug,
	}
	authHandler := handlers.NewAuthHandler(s.authService, s.notifier, cookies, s.cfg.WebBaseURL, s.cfg.TokenTTLMinutes)
	requireSession := middleware.RequireSession(authHandler.ResolveRequest)

	s.router.HandleFunc("POST /auth/request-link", authHandler.RequestLink)
	s.router.HandleFunc("POST /auth/verify", authHandler.Verify)
	s.router.HandleFunc("GET /auth/verify", authHandler.VerifyLink)
	s.router.Handle("GET /auth/me", requireSession(http.HandlerFunc(authHandler.Me)))

	s.router.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pingStorage(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"ok": false})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":      true,
		"version": "1.0.0",
	})
}

func (s *Server) pingStorage(ctx context.Context) error {
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}
	return s.db.PingContext(ctx)
}

// Start starts the HTTP server and the background session sweep.
func (s *Server) Start() error {
	sweepCtx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	go s.sweepLoop(sweepCtx)

	slog.Info("starting bridgecall daemon",
		"addr", s.server.Addr,
		"web_base_url", s.cfg.WebBaseURL,
		"debug", s.cfg.Debug,
	)
	return s.server.ListenAndServe()
}

// sweepLoop periodically deletes expired sessions so the table does not grow
// without bound.
func (s *Server) sweepLoop(ctx context.Context) {
	defer close(s.sweepDone)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.authService.SweepExpired(ctx)
			if err != nil {
				slog.Error("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("swept expired sessions", "deleted", n)
			}
		}
	}
}

// Shutdown gracefully shuts down the server and closes all connections.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")

	if s.sweepCancel != nil {
		s.sweepCancel()
		<-s.sweepDone
	}

	err := s.server.Shutdown(ctx)

	if s.queueConn != nil {
		if cerr := s.queueConn.Close(); cerr != nil {
			slog.Warn("failed to close queue connection", "error", cerr)
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil {
			slog.Warn("failed to close database", "error", cerr)
		}
	}

	return err
}
