// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/pillbox/internal/config"
	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/identity/jwt"
	"github.com/bissquit/pillbox/internal/medications"
	medicationspostgres "github.com/bissquit/pillbox/internal/medications/postgres"
	"github.com/bissquit/pillbox/internal/notifications"
	"github.com/bissquit/pillbox/internal/notifications/email"
	"github.com/bissquit/pillbox/internal/notifications/memory"
	"github.com/bissquit/pillbox/internal/notifications/push"
	notificationsredis "github.com/bissquit/pillbox/internal/notifications/redis"
	"github.com/bissquit/pillbox/internal/notifications/sms"
	"github.com/bissquit/pillbox/internal/notifications/telegram"
	"github.com/bissquit/pillbox/internal/pkg/ctxlog"
	"github.com/bissquit/pillbox/internal/pkg/httputil"
	"github.com/bissquit/pillbox/internal/pkg/metrics"
	"github.com/bissquit/pillbox/internal/pkg/postgres"
	redisconn "github.com/bissquit/pillbox/internal/pkg/redis"
	"github.com/bissquit/pillbox/internal/realtime"
	"github.com/bissquit/pillbox/internal/realtime/ws"
	"github.com/bissquit/pillbox/internal/reminders"
	remindersredis "github.com/bissquit/pillbox/internal/reminders/redis"
	"github.com/bissquit/pillbox/internal/schedule"
	"github.com/bissquit/pillbox/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	metricsInterval  = 15 * time.Second
	readinessTimeout = 3 * time.Second
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *redis.Client
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc

	queue              notifications.Queue
	registry           *realtime.Registry
	notificationWorker *notifications.Worker
	planner            *reminders.Planner
	pushSender         *push.Sender
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), time.Minute)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		ApplicationName: cfg.Database.ApplicationName,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	if cfg.Redis.URL != "" {
		client, err := redisconn.Connect(connectCtx, redisconn.Config{
			URL:             cfg.Redis.URL,
			PoolSize:        cfg.Redis.PoolSize,
			ConnectAttempts: cfg.Redis.ConnectAttempts,
		})
		if err != nil {
			db.Close()
			metricsCancel()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		app.redis = client
	} else {
		logger.Warn("redis is not configured: notification queue is kept in memory and lost on restart")
	}

	go app.collectPoolMetrics(metricsCtx)

	router, err := app.setupRouter(metricsCtx)
	if err != nil {
		app.closeStores()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server", append([]any{
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	}, version.Get().LogAttrs()...)...)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Stop producers and the worker first so nothing is dequeued mid-shutdown
	if a.planner != nil {
		a.planner.Stop()
	}
	if a.notificationWorker != nil {
		a.notificationWorker.Stop()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if a.pushSender != nil {
		if err := a.pushSender.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close push sender: %w", err))
		}
	}
	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	a.db.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			return fmt.Errorf("close redis: %w", err)
		}
	}
	return nil
}

func (a *App) collectPoolMetrics(ctx context.Context) {
	record := func() {
		metrics.RecordDBPoolMetrics(a.db)
		if a.redis != nil {
			metrics.RecordRedisPoolMetrics(a.redis)
		}
	}

	// Collect immediately on start
	record()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			record()
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, queue notifications.Queue) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := queue.Stats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			notifications.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// NotificationWorker returns the notification worker instance.
func (a *App) NotificationWorker() *notifications.Worker {
	return a.notificationWorker
}

func (a *App) newQueue() notifications.Queue {
	if a.redis != nil {
		return notificationsredis.New(a.redis, notificationsredis.WithKeyPrefix(a.config.Redis.KeyPrefix))
	}
	return memory.New()
}

func (a *App) newDeduper() reminders.Deduper {
	if a.redis != nil {
		return remindersredis.New(a.redis, remindersredis.DefaultKeyPrefix)
	}
	return reminders.NewMemoryDeduper()
}

func (a *App) newEvaluator(meals schedule.MealTimes) (*schedule.Evaluator, error) {
	anchor, err := domain.ParseTimeOfDay(a.config.Schedule.DefaultAnchor)
	if err != nil {
		return nil, fmt.Errorf("parse default anchor: %w", err)
	}

	policy := schedule.DefaultPolicy()
	policy.MinIntervalHours = a.config.Schedule.MinIntervalHours
	policy.MinGap = a.config.Schedule.MinGap
	policy.DefaultAnchor = anchor

	return schedule.NewEvaluator(policy, meals), nil
}

func (a *App) newDispatcher() (*notifications.Dispatcher, error) {
	cfg := a.config.Notifications

	slog.Info("notifications configured",
		"email_enabled", cfg.Email.Enabled,
		"telegram_enabled", cfg.Telegram.Enabled,
		"sms_enabled", cfg.SMS.Enabled,
		"push_enabled", cfg.Push.Enabled,
	)

	emailSender, err := email.NewSender(cfg.Email)
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}
	if !cfg.Email.Enabled {
		slog.Warn("email sender is disabled: email reminders will not be sent")
	}

	telegramSender, err := telegram.NewSender(cfg.Telegram)
	if err != nil {
		return nil, fmt.Errorf("create telegram sender: %w", err)
	}
	if !cfg.Telegram.Enabled {
		slog.Warn("telegram sender is disabled: telegram reminders will not be sent")
	}

	smsSender, err := sms.NewSender(cfg.SMS)
	if err != nil {
		return nil, fmt.Errorf("create sms sender: %w", err)
	}

	pushSender, err := push.NewSender(cfg.Push)
	if err != nil {
		return nil, fmt.Errorf("create push sender: %w", err)
	}
	a.pushSender = pushSender

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	return notifications.NewDispatcher(renderer,
		notifications.InAppSender{},
		emailSender,
		telegramSender,
		smsSender,
		pushSender,
	), nil
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	medicationsRepo := medicationspostgres.NewRepository(a.db)
	evaluator, err := a.newEvaluator(medicationsRepo)
	if err != nil {
		return nil, err
	}
	medicationsService := medications.NewService(medicationsRepo, evaluator)
	medicationsHandler := medications.NewHandler(medicationsService, a.config.Location())

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return nil, err
	}

	a.queue = a.newQueue()
	a.registry = realtime.NewRegistry()

	notificationsService := notifications.NewService(a.queue, dispatcher, a.registry)
	notificationsHandler := notifications.NewHandler(notificationsService)

	a.notificationWorker = notifications.NewWorker(a.config.Notifications.Worker, a.queue, dispatcher, a.registry)
	a.notificationWorker.Start(ctx)

	go a.collectQueueMetrics(ctx, a.queue)

	if a.config.Reminders.Enabled {
		plannerConfig := a.config.Reminders.Config
		plannerConfig.Location = a.config.Location()
		a.planner = reminders.NewPlanner(plannerConfig, medicationsService, evaluator, notificationsService, a.newDeduper())
		a.planner.Start(ctx)
	} else {
		slog.Warn("reminder planner is disabled: only explicitly queued notifications are delivered")
	}

	validator := jwt.NewValidator(a.config.JWT)

	// WebSocket authenticates on its own so browsers can pass the token as a query parameter
	r.Handle("/ws", ws.NewHandler(a.config.Realtime, a.registry, validator))

	r.Route("/api/v1", func(r chi.Router) {
		// Bounded request time for plain API calls; /ws connections are long-lived
		r.Use(middleware.Timeout(60 * time.Second))

		notificationsHandler.RegisterPublicRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(validator))

			medicationsHandler.RegisterUserRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleOperator))
				notificationsHandler.RegisterOperatorRoutes(r)
			})

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleAdmin))
				notificationsHandler.RegisterAdminRoutes(r)
			})
		})
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	if err := postgres.Healthcheck(ctx, a.db); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	if a.redis != nil {
		if err := redisconn.Healthcheck(a.redis)(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Queue unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
