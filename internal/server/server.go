// Package server orchestrates all components: config, logging, database,
// sessions, kill switch, events, the action dispatcher and the HTTP routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/cyfrying/foodtruck/internal/config"
	"github.com/cyfrying/foodtruck/internal/logging"
	"github.com/cyfrying/foodtruck/pkg/auth"
	"github.com/cyfrying/foodtruck/pkg/commsutil"
	"github.com/cyfrying/foodtruck/pkg/db"
	"github.com/cyfrying/foodtruck/pkg/discord"
	"github.com/cyfrying/foodtruck/pkg/dispatcher"
	"github.com/cyfrying/foodtruck/pkg/events"
	"github.com/cyfrying/foodtruck/pkg/killswitch"
	"github.com/cyfrying/foodtruck/pkg/menu"
	"github.com/cyfrying/foodtruck/pkg/metrics"
	"github.com/cyfrying/foodtruck/pkg/orders"
	"github.com/cyfrying/foodtruck/pkg/seed"
)

const logPrefix = "server:server"

// Store is the repository surface the server needs.
type Store interface {
	menu.Store
	orders.Store
	auth.UserStore
	killswitch.SettingsStore
	Ping(ctx context.Context) error
	Probe(ctx context.Context) (*db.ProbeResult, error)
	Stats(ctx context.Context) (*db.Stats, error)
}

// Deps are the collaborators New wires together. Only Store is required.
type Deps struct {
	Store     Store
	Sessions  auth.Store
	Switch    *killswitch.Switch
	Publisher events.EventPublisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// Interactions serves /api/discord; the route answers 404 when nil.
	Interactions http.Handler
}

// Server is the cyfrying HTTP service.
type Server struct {
	cfg          *config.Config
	store        Store
	sessions     *auth.Manager
	sw           *killswitch.Switch
	metrics      *metrics.Metrics
	menu         *menu.Service
	registry     *dispatcher.Registry
	dispatcher   *dispatcher.Dispatcher
	interactions http.Handler
	logger       *slog.Logger
	debugNets    []netip.Prefix
	apiLimiter   *clientLimiters
	loginLimiter *clientLimiters
	started      time.Time
	handler      http.Handler
}

// New builds the action registry, dispatcher and route table.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("%s - store is required", logPrefix)
	}
	nets, err := cfg.DebugPrefixes()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = auth.NewMemoryStore()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	sw := deps.Switch
	if sw == nil {
		sw = killswitch.New(deps.Store, killswitch.Options{
			StoragePath: cfg.StoragePath,
			CacheTTL:    cfg.KillSwitchCacheTTL,
			Publisher:   publisher,
			Logger:      logger,
		})
	}

	s := &Server{
		cfg:   cfg,
		store: deps.Store,
		sessions: auth.NewManager(sessions, auth.ManagerOptions{
			CookieName: cfg.SessionCookieName,
			TTL:        cfg.SessionTTL,
			Secure:     cfg.SessionSecure,
		}),
		sw:           sw,
		metrics:      m,
		menu:         menu.NewService(deps.Store, publisher),
		registry:     dispatcher.NewRegistry(),
		interactions: deps.Interactions,
		logger:       logger,
		debugNets:    nets,
		loginLimiter: newClientLimiters(loginAttemptsPerMinute/60.0, loginAttemptsPerMinute),
		started:      time.Now(),
	}
	if cfg.APIRateLimit > 0 {
		s.apiLimiter = newClientLimiters(cfg.APIRateLimit, cfg.APIRateBurst)
	}

	auth.NewActions(deps.Store).Register(s.registry)
	if login, ok := s.registry.Resolve("login"); ok {
		s.registry.Register("login", s.throttleLogin(login))
	}
	s.menu.Register(s.registry)
	orders.NewService(deps.Store, publisher).Register(s.registry)
	s.registry.Register("debug", s.handleDebug)

	s.dispatcher = dispatcher.NewDispatcher(s.registry, dispatcher.Options{
		Logger:   logger,
		Observer: m,
		Decorate: s.decorate,
	})
	m.RegisterKillSwitch(func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HealthCheckTimeout)
		defer cancel()
		return sw.Engaged(ctx)
	})

	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry returns the action registry.
func (s *Server) Registry() *dispatcher.Registry {
	return s.registry
}

// routes builds the route table and wraps it in the middleware chain, outermost first:
// request info, request log, panic recovery, security headers, CORS, request timeout,
// kill switch, sessions.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metrics.Middleware)

	api := s.limitAPI(s.dispatcher)
	r.Handle("/api", api)
	r.Handle("/api/", api)
	r.Handle("/api/index.php", api)
	r.Handle("/api/discord", s.discordHandler())
	r.HandleFunc("/~~~~~", s.handleDiagnostics)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/ready", handleReady).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleHome()).Methods(http.MethodGet, http.MethodHead)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if isAPIRequest(req) {
			dispatcher.WriteEnvelope(w, http.StatusNotFound, dispatcher.Fail("Not found"))
			return
		}
		http.NotFound(w, req)
	})

	var h http.Handler = r
	h = s.sessions.Middleware(h)
	h = s.sw.Guard(killswitch.DefaultExempt)(h)
	h = s.withTimeout(h)
	h = s.cors(h)
	h = securityHeaders(h)
	h = s.recoverPanics(h)
	h = s.logRequests(h)
	h = s.withRequestInfo(h)
	return h
}

func (s *Server) discordHandler() http.Handler {
	if s.interactions == nil {
		return http.NotFoundHandler()
	}
	return s.interactions
}

// HealthOutput is the /health response body.
type HealthOutput struct {
	Status    string          `json:"status"`
	Checks    map[string]bool `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) health(ctx context.Context) *HealthOutput {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HealthCheckTimeout)
	defer cancel()
	out := &HealthOutput{
		Status:    "healthy",
		Checks:    map[string]bool{"database": true},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn(fmt.Sprintf("%s - health check database: %v", logPrefix, err))
		out.Checks["database"] = false
		out.Status = "unhealthy"
	}
	out.Checks["kill_switch"] = s.sw.Engaged(ctx)
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.health(r.Context())
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - encode response: %v", logPrefix, err))
	}
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	// Step 1: Logging, with the Discord webhook as an extra sink
	var extra []slog.Handler
	var webhook *discord.Handler
	if cfg.DiscordWebhookURL != "" {
		webhook = discord.NewHandler(discord.HandlerOptions{
			WebhookURL: cfg.DiscordWebhookURL,
			AppName:    cfg.AppName,
			Level:      logging.ParseLevel(cfg.DiscordLogLevel),
			Throttle:   cfg.DiscordLogThrottle,
			Fallback:   os.Stderr,
		})
		extra = append(extra, webhook)
	}
	logger, logCloser, err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Extra:  extra,
	})
	if err != nil {
		return fmt.Errorf("%s - failed to set up logging: %w", logPrefix, err)
	}
	defer logCloser.Close()
	if webhook != nil {
		defer webhook.Close()
	}
	slog.SetDefault(logger)

	slog.Info(fmt.Sprintf("%s - Starting %s v%s", logPrefix, cfg.AppName, cfg.AppVersion))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	instanceID := cfg.ServiceName + "-" + uuid.NewString()[:8]

	// Step 2: Connect to NATS (optional)
	var nc *comms.Conn
	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if cfg.NATSURL != "" {
		nc, err = commsutil.Dial(commsutil.Options{URL: cfg.NATSURL, Name: instanceID, Logger: logger})
		if err != nil {
			return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
		}
		defer commsutil.Drain(nc)
		publisher = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{Namespace: cfg.ServiceName, Source: instanceID})
	} else {
		slog.Info(fmt.Sprintf("%s - NATS_URL not set, domain events disabled", logPrefix))
	}

	// Step 3: Connect to database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	defer pool.Close()
	repo := db.NewRepository(pool)

	// Step 3b: Run migrations, seed the menu and ensure the admin account
	if cfg.RunMigrations {
		if err := prepareDatabase(ctx, cfg, pool, repo); err != nil {
			return err
		}
	} else if missing, err := db.MissingTables(ctx, pool); err == nil && len(missing) > 0 {
		slog.Warn(fmt.Sprintf("%s - missing tables %v; run `cyfrying migrate up` or set RUN_MIGRATIONS=true", logPrefix, missing))
	}

	// Step 4: Session store
	var sessions auth.Store
	if cfg.RedisURL != "" {
		rs, err := auth.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to Redis: %w", logPrefix, err)
		}
		defer rs.Close()
		sessions = rs
		slog.Info(fmt.Sprintf("%s - Sessions stored in Redis", logPrefix))
	} else {
		ms := auth.NewMemoryStore()
		go ms.RunSweeper(ctx, time.Minute)
		sessions = ms
		slog.Info(fmt.Sprintf("%s - Sessions stored in memory", logPrefix))
	}

	// Step 5: Kill switch, invalidated across instances over NATS
	sw := killswitch.New(repo, killswitch.Options{
		StoragePath: cfg.StoragePath,
		CacheTTL:    cfg.KillSwitchCacheTTL,
		Publisher:   publisher,
		Logger:      logger,
	})
	if nc != nil {
		sub, err := sw.Subscribe(nc, cfg.ServiceName, instanceID)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
	}

	// Step 6: Server and HTTP listener
	interactions := discord.NewInteractions(cfg.DiscordPublicKey, cfg.DiscordAllowedUserID, sw)
	s, err := New(cfg, Deps{
		Store:        repo,
		Sessions:     sessions,
		Switch:       sw,
		Publisher:    publisher,
		Logger:       logger,
		Interactions: interactions,
	})
	if err != nil {
		return err
	}

	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info(fmt.Sprintf("%s - %s is ready (%d actions)", logPrefix, cfg.AppName, len(s.Registry().Actions())))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))
	case err := <-errCh:
		slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		return fmt.Errorf("%s - HTTP server: %w", logPrefix, err)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// prepareDatabase applies migrations, seeds an empty menu and creates the
// admin account when it does not exist yet.
func prepareDatabase(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, repo *db.Repository) error {
	migrationSQL, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
	}
	if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
		return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
	}
	if err := seedIfEmpty(ctx, repo, cfg.MenuSeedFile); err != nil {
		return err
	}
	if _, err := auth.EnsureAdmin(ctx, repo, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return fmt.Errorf("%s - failed to ensure admin user: %w", logPrefix, err)
	}
	return nil
}

type seedStore interface {
	seed.MenuUpserter
	ListMenuItems(ctx context.Context, filter db.MenuFilter) ([]db.MenuItem, error)
}

// seedIfEmpty loads the menu seed only into an empty menu so admin edits survive restarts.
func seedIfEmpty(ctx context.Context, store seedStore, file string) error {
	existing, err := store.ListMenuItems(ctx, db.MenuFilter{IncludeUnavailable: true})
	if err != nil {
		return fmt.Errorf("%s - failed to read menu: %w", logPrefix, err)
	}
	if len(existing) > 0 {
		return nil
	}
	mf, source, err := seed.LoadMenuFile(file)
	if err != nil {
		return fmt.Errorf("%s - failed to load menu seed: %w", logPrefix, err)
	}
	if _, err := seed.SeedMenu(ctx, store, mf); err != nil {
		return fmt.Errorf("%s - failed to seed menu: %w", logPrefix, err)
	}
	if source == "" {
		source = "built-in default"
	}
	slog.Info(fmt.Sprintf("%s - Seeded empty menu from %s", logPrefix, source))
	return nil
}
