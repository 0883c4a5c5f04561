package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/fitsync/fitsync/internal/cache"
	"github.com/fitsync/fitsync/internal/circuitbreaker"
	"github.com/fitsync/fitsync/internal/config"
	"github.com/fitsync/fitsync/internal/credentials"
	"github.com/fitsync/fitsync/internal/handler"
	"github.com/fitsync/fitsync/internal/middleware"
	"github.com/fitsync/fitsync/internal/queue"
	"github.com/fitsync/fitsync/internal/ratelimit"
	"github.com/fitsync/fitsync/internal/repository"
	"github.com/fitsync/fitsync/internal/service"
	"github.com/fitsync/fitsync/internal/storage"
	"github.com/fitsync/fitsync/internal/upstream"
	"github.com/gin-gonic/gin"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient
	postgres   *storage.Postgres
	httpServer *http.Server

	webhookHandler  *handler.WebhookHandler
	activityHandler *handler.ActivityHandler
	adminHandler    *handler.AdminHandler
	authHandler     *handler.AuthHandler
	authService     *service.AuthService
	governor        *ratelimit.Governor
	tierService     *service.TierService
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	jobQueue := queue.New(redis, queue.Config{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BackoffBase: cfg.Worker.BackoffBase(),
		FailedCap:   cfg.Worker.FailedSinkCap,
	})

	governor := ratelimit.NewGovernor(redis, cfg.TierLimit, cfg.Upstream.FifteenMinLimit, cfg.Upstream.DailyLimit)
	complianceCache := cache.NewComplianceCache(redis, cfg.Cache.RawStreamTTL(), cfg.Cache.ComplianceCeiling())
	creds := credentials.NewRedisStore(redis)

	breaker := circuitbreaker.New(circuitbreaker.Config{})
	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout(), breaker)

	summaryRepo := repository.NewSummaryRepository(postgres)
	tierRepo := repository.NewTierRepository(postgres)
	userRepo := repository.NewUserRepository(postgres)
	requestLogRepo := repository.NewRequestLogRepository(postgres)

	tierService := service.NewTierService(tierRepo, cfg.LowestTier())
	authService := service.NewAuthService(userRepo, cfg.Server.JWTSecret, cfg.Server.JWTExpiry)

	middleware.InitRequestLogger(requestLogRepo, 1000)

	s := &Server{
		router:          router,
		config:          cfg,
		redis:           redis,
		postgres:        postgres,
		webhookHandler:  handler.NewWebhookHandler(jobQueue, creds, complianceCache, cfg.Webhook.VerificationCode, cfg.Webhook.SignatureSecret),
		activityHandler: handler.NewActivityHandler(summaryRepo, complianceCache, client, creds),
		adminHandler:    handler.NewAdminHandler(jobQueue, tierRepo),
		authHandler:     handler.NewAuthHandler(authService),
		authService:     authService,
		governor:        governor,
		tierService:     tierService,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.RequestLogger())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	// The provider calls these; intake never blocks on upstream
	s.router.GET("/webhooks/activity", s.webhookHandler.Verify)
	s.router.POST("/webhooks/activity", s.webhookHandler.Receive)

	s.router.POST("/auth/register", s.authHandler.Register)
	s.router.POST("/auth/login", s.authHandler.Login)

	api := s.router.Group("/api/v1")
	api.Use(middleware.Admission(s.governor, s.tierService, "activities"))
	{
		api.GET("/subjects/:subjectID/activities", s.activityHandler.List)
		api.GET("/subjects/:subjectID/activities/:resourceID", s.activityHandler.Get)
	}

	admin := s.router.Group("/admin")
	admin.Use(middleware.RequireAuth(s.authService))
	{
		admin.GET("/status", s.adminHandler.QueueStatus)
		admin.GET("/failed-jobs", s.adminHandler.FailedJobs)
		admin.POST("/failed-jobs/requeue", s.adminHandler.RequeueFailed)
		admin.POST("/backfill", s.adminHandler.Backfill)
		admin.GET("/tiers", s.adminHandler.ListTiers)
		admin.POST("/tiers", s.adminHandler.UpsertTier)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true

	if err := s.redis.Ping(c.Request.Context()); err != nil {
		redisHealthy = false
		log.Printf("Redis health check failed: %v", err)
	}

	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		log.Printf("Database health check failed: %v", err)
	}

	status := "healthy"
	statusCode := http.StatusOK

	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "fitsync",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
		},
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting fitsync server on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
