package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/inkroom/inkroom-api/internal/handler"
	"github.com/inkroom/inkroom-api/internal/mailer"
	"github.com/inkroom/inkroom-api/internal/middleware"
	"github.com/inkroom/inkroom-api/internal/models"
	"github.com/inkroom/inkroom-api/internal/repository"
	"github.com/inkroom/inkroom-api/internal/service"
	"github.com/inkroom/inkroom-api/internal/token"
	"github.com/inkroom/inkroom-api/pkg/cache"
	"github.com/inkroom/inkroom-api/pkg/config"
	"github.com/inkroom/inkroom-api/pkg/database"
	"github.com/inkroom/inkroom-api/pkg/logger"
	corsmiddleware "github.com/inkroom/inkroom-api/pkg/middleware/cors"
	reqidmiddleware "github.com/inkroom/inkroom-api/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, rate limiting disabled", "error", err)
		redisClient = nil
	}

	codec := token.NewCodec(token.Config{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
	})

	var mail mailer.Mailer
	if cfg.Mail.Enabled {
		mail = mailer.NewSMTPMailer(cfg.Mail, cfg.AppURL)
	} else {
		mail = mailer.NewLogMailer(logr)
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	tokenRepo := repository.NewAuthTokenRepository(db)
	projectRepo := repository.NewProjectRepository(db)

	authSvc := service.NewAuthService(userRepo, sessionRepo, tokenRepo, codec, mail, validate, logr, metricsSvc, service.AuthTokenTTLs{
		VerifyEmail:   cfg.Tokens.VerifyEmailTTL,
		ResetPassword: cfg.Tokens.ResetPasswordTTL,
	})
	projectSvc := service.NewProjectService(projectRepo, validate, logr)

	authPath := cfg.APIPrefix + "/auth"
	authHandler := handler.NewAuthHandler(authSvc, cfg.AppURL, authPath)
	projectHandler := handler.NewProjectHandler(projectSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/stats", metricsHandler.Stats)

	limited := middleware.RateLimit(redisClient, cfg.RateLimit, metricsSvc, logr)

	auth := r.Group(authPath)
	{
		auth.POST("/register", limited, authHandler.Register)
		auth.GET("/verify-email", authHandler.VerifyEmail)
		auth.POST("/resend-verify", limited, authHandler.ResendVerify)
		auth.POST("/login", limited, authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.POST("/forgot-password", limited, authHandler.ForgotPassword)
		auth.POST("/reset-password", limited, authHandler.ResetPassword)
		auth.GET("/me", middleware.OptionalAuth(codec), authHandler.Me)
	}

	api := r.Group(cfg.APIPrefix, middleware.Auth(codec))
	{
		projects := api.Group("/projects")
		projects.GET("", projectHandler.List)
		projects.POST("", projectHandler.Create)
		projects.GET("/:slug", projectHandler.Get)
		projects.PATCH("/:slug", projectHandler.Update)
		projects.DELETE("/:slug", projectHandler.Delete)
		projects.POST("/:slug/restore", middleware.RequireRoles(models.RoleEditor, models.RoleAdmin), projectHandler.Restore)
		projects.GET("/:slug/books", projectHandler.ListBooks)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
	if redisClient != nil {
		redisClient.Close() //nolint:errcheck
	}
}
