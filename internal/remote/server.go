package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/simdb-io/simdb/internal/notify"
	"github.com/simdb-io/simdb/internal/store"
)

// ServerConfig configures the SimDB remote service.
type ServerConfig struct {
	Store *store.Store
	// Listen is the host:port to bind.
	Listen string
	// UploadDir receives staged file payloads.
	UploadDir string
	// Credentials validates token requests.
	Credentials CredentialValidator
	// TokenLifetime bounds issued tokens. Defaults to 24h.
	TokenLifetime time.Duration
	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
	// Notifier delivers watcher notifications. Nil disables them.
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// Server is the SimDB remote service.
type Server struct {
	store     *store.Store
	listen    string
	uploadDir string
	certFile  string
	keyFile   string
	creds     CredentialValidator
	tokens    *TokenStore
	notify    *notify.Dispatcher
	logger    *slog.Logger

	// locksMu guards the per-simulation mutexes serializing push and
	// publish transactions.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewServer creates the remote service.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	creds := cfg.Credentials
	if creds == nil {
		creds = func(string, string) bool { return false }
	}
	return &Server{
		store:     cfg.Store,
		listen:    cfg.Listen,
		uploadDir: cfg.UploadDir,
		certFile:  cfg.CertFile,
		keyFile:   cfg.KeyFile,
		creds:     creds,
		tokens:    NewTokenStore(cfg.TokenLifetime),
		notify:    notify.NewDispatcher(cfg.Store, cfg.Notifier, logger),
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Routes assembles the API router. Exposed separately so tests can
// mount it on httptest servers.
func (s *Server) Routes() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleVersion)
		r.Get("/token", s.handleToken)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Get("/simulations", s.handleListSimulations)
			r.Post("/simulations", s.handlePushSimulation)
			r.Post("/simulations/query", s.handleQuery)
			r.Get("/simulations/{sim}", s.handleGetSimulation)
			r.Delete("/simulations/{sim}", s.handleDeleteSimulation)
			r.Patch("/simulations/{sim}/status", s.handleStatus)
			r.Post("/simulations/{sim}/validation", s.handleValidation)

			r.Get("/simulations/{sim}/files/{file}", s.handleUploadStatus)
			r.Put("/simulations/{sim}/files/{file}/chunks/{chunk}", s.handleUploadChunk)
			r.Get("/simulations/{sim}/files/{file}/content", s.handleDownloadFile)

			r.Get("/simulations/{sim}/watchers", s.handleListWatchers)
			r.Post("/simulations/{sim}/watchers", s.handleAddWatcher)
			r.Delete("/simulations/{sim}/watchers/{username}", s.handleRemoveWatcher)
		})
	})
	return r
}

// Serve runs the service until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting remote service", "listen", s.listen)

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.listen,
		Handler: s.Routes(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			err = srv.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down remote service")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// simLock returns the mutex serializing push and publish transactions
// of one simulation.
func (s *Server) simLock(simUUID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[simUUID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[simUUID] = mu
	}
	return mu
}

// requireToken gates the API behind bearer token auth.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		username, ok := s.tokens.Check(header[len(prefix):])
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), usernameKey{}, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type usernameKey struct{}

func requestUser(r *http.Request) string {
	if u, ok := r.Context().Value(usernameKey{}).(string); ok {
		return u
	}
	return ""
}
