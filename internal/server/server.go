package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/ai-gateway/internal/config"
	"github.com/aman-churiwal/ai-gateway/internal/gatewaylog"
	"github.com/aman-churiwal/ai-gateway/internal/handler"
	"github.com/aman-churiwal/ai-gateway/internal/healthcheck"
	"github.com/aman-churiwal/ai-gateway/internal/metrics"
	"github.com/aman-churiwal/ai-gateway/internal/middleware"
	"github.com/aman-churiwal/ai-gateway/internal/pipeline"
	"github.com/aman-churiwal/ai-gateway/internal/provider"
	"github.com/aman-churiwal/ai-gateway/internal/ratelimit"
	"github.com/aman-churiwal/ai-gateway/internal/repository"
	"github.com/aman-churiwal/ai-gateway/internal/security"
	"github.com/aman-churiwal/ai-gateway/internal/service"
	"github.com/aman-churiwal/ai-gateway/internal/storage"
	"github.com/aman-churiwal/ai-gateway/internal/webhook"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "1.0.0"

// Login and register share a stricter per-IP budget than API traffic.
const authRateLimit = 10

type Server struct {
	router     *gin.Engine
	config     *config.Config
	logger     *slog.Logger
	httpServer *http.Server

	registry     *prometheus.Registry
	orchestrator *pipeline.Orchestrator
	dispatcher   *webhook.Dispatcher
	checker      *healthcheck.Checker
	stats        *gatewaylog.StatsService
	cancel       context.CancelFunc

	authService *service.AuthService
	limiter     ratelimit.Limiter

	authHandler     *handler.AuthHandler
	chatHandler     *handler.ChatHandler
	projectHandler  *handler.ProjectHandler
	apiKeyHandler   *handler.APIKeyHandler
	budgetHandler   *handler.BudgetHandler
	securityHandler *handler.SecurityHandler
	webhookHandler  *handler.WebhookHandler
	logsHandler     *handler.LogsHandler
	systemHandler   *handler.SystemHandler
	metrics         *metrics.Metrics
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres, logger *slog.Logger) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	providers, err := provider.FromConfig(cfg.Providers, logger)
	if err != nil {
		return nil, err
	}

	circuits := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		Timeout:          cfg.CircuitBreaker.Timeout,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit state changed", "provider", name, "from", from.String(), "to", to.String())
			m.CircuitTransition(name, from.String(), to.String(), int(to))
		},
	})
	for _, name := range providers.Names() {
		circuits.Register(name)
	}

	limiter := ratelimit.NewFixedWindow(redis, cfg.RateLimit.Window, logger)
	limiter.OnFailOpen = func(error) { m.RateLimitFailOpen() }

	// Repositories
	apiKeyRepo := repository.NewAPIKeyRepository(postgres)
	userRepo := repository.NewUserRepository(postgres)
	projectRepo := repository.NewProjectRepository(postgres)
	budgetRepo := repository.NewBudgetRepository(postgres)
	securityRepo := repository.NewSecurityRepository(postgres)
	webhookRepo := repository.NewWebhookRepository(postgres)
	logRepo := repository.NewGatewayLogRepository(postgres)

	// Services
	apiKeyService := service.NewAPIKeyService(apiKeyRepo, redis, cfg.Auth.KeyPepper, cfg.Auth.KeyCacheTTL, logger)
	authService := service.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.JWTExpiryHours, cfg.Auth.AllowRegister)
	budgetService := service.NewBudgetService(budgetRepo)
	securityService := security.NewService(securityRepo, cfg.Security.DefaultSafetyThreshold, logger)

	scanner := security.NewScanner(security.NewHeuristicClassifier(), cfg.Security.ClassifierTimeout, cfg.Security.InputFailOpen, logger)
	scanner.OnClassifierFailure = func(stage security.Stage, err error) {
		m.ClassifierFailure(string(stage))
	}

	requestLogger := gatewaylog.NewLogger(logRepo, cfg.Logging.WriteTimeout, logger)
	requestLogger.OnDegraded = func(error) { m.PersistenceDegraded("gateway_log") }

	dispatcher := webhook.NewDispatcher(webhookRepo, webhook.Options{
		QueueSize:            cfg.Webhooks.QueueSize,
		Workers:              cfg.Webhooks.Workers,
		MaxAttempts:          cfg.Webhooks.MaxAttempts,
		Timeout:              cfg.Webhooks.Timeout,
		RetryBaseDelay:       cfg.Webhooks.RetryBaseDelay,
		DisableAfterFailures: cfg.Webhooks.DisableAfterFailures,
	}, logger)
	dispatcher.OnDropped = func(webhook.Event) { m.WebhookDropped() }
	dispatcher.OnDelivery = m.WebhookDelivery

	orchestrator := pipeline.NewOrchestrator(pipeline.Dependencies{
		Keys:     apiKeyService,
		Limiter:  limiter,
		Budgets:  budgetService,
		Scanner:  scanner,
		Policy:   securityService,
		Router:   providers,
		Circuits: circuits,
		Logger:   requestLogger,
		Notifier: dispatcher,
		Metrics:  m,
	}, pipeline.Options{
		DefaultProvider:  defaultProvider(cfg),
		DefaultRateLimit: cfg.RateLimit.Requests,
		PreviewLength:    cfg.Security.PreviewLength,
	}, logger)

	checker := healthcheck.NewChecker(healthcheck.Config{}, logger)
	checker.Add("postgres", postgres)
	checker.Add("redis", redis)

	stats := gatewaylog.NewStatsService(logRepo, logger)

	s := &Server{
		router:       gin.New(),
		config:       cfg,
		logger:       logger,
		registry:     reg,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		checker:      checker,
		stats:        stats,
		authService:  authService,
		limiter:      limiter,
		metrics:      m,

		authHandler:     handler.NewAuthHandler(authService),
		chatHandler:     handler.NewChatHandler(orchestrator),
		projectHandler:  handler.NewProjectHandler(projectRepo, providers.Names()),
		apiKeyHandler:   handler.NewAPIKeyHandler(apiKeyService),
		budgetHandler:   handler.NewBudgetHandler(budgetService),
		securityHandler: handler.NewSecurityHandler(securityService),
		webhookHandler:  handler.NewWebhookHandler(webhook.NewService(webhookRepo, dispatcher, logger)),
		logsHandler:     handler.NewLogsHandler(stats),
		systemHandler:   handler.NewSystemHandler(circuits, checker, version),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// The first configured provider serves projects and requests that name none.
func defaultProvider(cfg *config.Config) string {
	if len(cfg.Providers) == 0 {
		return ""
	}
	return cfg.Providers[0].Name
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger, s.metrics))
	s.router.Use(middleware.CORS(s.config.Server.AllowedOrigins))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.systemHandler.Health)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})))

	v1 := s.router.Group("/v1")
	v1.Use(middleware.APIKeyExtractor())
	{
		v1.POST("/chat/completions", s.chatHandler.Complete)
	}

	auth := s.router.Group("/auth")
	auth.Use(middleware.RateLimitByIP(s.limiter, authRateLimit, "auth"))
	{
		auth.POST("/register", s.authHandler.Register)
		auth.POST("/login", s.authHandler.Login)
	}

	admin := s.router.Group("/admin")
	admin.Use(middleware.RequireAuth(s.authService))
	{
		admin.GET("/me", s.authHandler.Me)

		admin.GET("/circuits", s.systemHandler.CircuitBreakerStatus)
		admin.POST("/circuits/:provider/reset", s.systemHandler.ResetCircuitBreaker)

		admin.POST("/projects", s.projectHandler.Create)
		admin.GET("/projects", s.projectHandler.List)

		project := admin.Group("/projects/:project_id")
		project.GET("", s.projectHandler.Get)

		project.POST("/keys", s.apiKeyHandler.Create)
		project.GET("/keys", s.apiKeyHandler.List)
		project.GET("/keys/:id", s.apiKeyHandler.Get)
		project.PATCH("/keys/:id", s.apiKeyHandler.Rename)
		project.DELETE("/keys/:id", s.apiKeyHandler.Revoke)

		project.GET("/budget", s.budgetHandler.Status)
		project.GET("/budget/settings", s.budgetHandler.GetSettings)
		project.PUT("/budget", s.budgetHandler.Update)

		project.GET("/security", s.securityHandler.GetSettings)
		project.PUT("/security", s.securityHandler.UpdateSettings)
		project.GET("/security/incidents", s.securityHandler.ListIncidents)
		project.PATCH("/security/incidents/:id", s.securityHandler.ReviewIncident)

		project.POST("/webhooks", s.webhookHandler.Create)
		project.GET("/webhooks", s.webhookHandler.List)
		project.GET("/webhooks/:id", s.webhookHandler.Get)
		project.PATCH("/webhooks/:id", s.webhookHandler.Update)
		project.DELETE("/webhooks/:id", s.webhookHandler.Delete)
		project.POST("/webhooks/:id/test", s.webhookHandler.Test)

		project.GET("/logs", s.logsHandler.List)
		project.GET("/logs/stats", s.logsHandler.Summary)
	}
}

// Run starts background workers and blocks serving HTTP until Shutdown.
func (s *Server) Run(addr string) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.dispatcher.Start(ctx)
	s.checker.Start(ctx)
	if s.config.Logging.Retention > 0 {
		go s.stats.RunRetention(ctx, s.config.Logging.Retention, time.Hour)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  2 * s.config.Server.ReadTimeout,
	}

	s.logger.Info("starting AI gateway", "addr", addr, "environment", s.config.Server.Environment)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then drains detached pipeline work and
// queued webhook events.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.orchestrator.Wait()
	if stopErr := s.dispatcher.Stop(ctx); stopErr != nil {
		s.logger.Warn("webhook queue not drained", "error", stopErr)
	}
	s.checker.Stop()
	if s.cancel != nil {
		s.cancel()
	}

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
