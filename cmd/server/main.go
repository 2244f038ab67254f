// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/license-desk/internal/config"
	"github.com/javajoker/license-desk/internal/database"
	"github.com/javajoker/license-desk/internal/i18n"
	"github.com/javajoker/license-desk/internal/jobs"
	"github.com/javajoker/license-desk/internal/router"
	"github.com/javajoker/license-desk/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	setupLogging(cfg.Log)

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}
	if err := database.SeedInitialData(db, cfg.Workflow); err != nil {
		logrus.WithError(err).Fatal("Failed to seed initial data")
	}

	rdb := connectRedis(cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	}

	srv, svc, err := buildServer(cfg, db, rdb, prometheus.DefaultRegisterer)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build server")
	}

	// Background delivery
	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go svc.Outbox.Run(ctx)

	var scheduler *jobs.Scheduler
	if cfg.Outbox.SchedulerEnabled {
		scheduler = jobs.NewScheduler(jobs.NewJobRunner(svc.Outbox, svc.Licenses, cfg.Outbox))
		scheduler.Start()
	}

	// Start server in a goroutine
	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	if scheduler != nil {
		scheduler.Stop()
	}
	stopBackground()

	// Deliver what the last requests queued
	if _, err := svc.Outbox.DispatchPending(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Final outbox dispatch failed")
	}

	logrus.Info("Server exited")
}

// buildServer wires locales, services and routes into an HTTP server.
func buildServer(cfg *config.Config, db *gorm.DB, rdb *redis.Client, registerer prometheus.Registerer) (*http.Server, *services.Services, error) {
	if err := i18n.Initialize(cfg.I18n.DefaultLocale); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize i18n: %w", err)
	}

	svc, err := services.New(db, cfg, services.Options{
		Redis:      rdb,
		Registerer: registerer,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router.Initialize(cfg, svc),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}
	return srv, svc, nil
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// connectRedis returns nil when Redis is not configured or unreachable;
// notifications then stay in the database inbox only.
func connectRedis(cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled() {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).Warn("Redis unavailable, realtime notifications disabled")
		rdb.Close()
		return nil
	}

	return rdb
}
