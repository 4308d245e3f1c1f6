package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livepoll/config"
	"livepoll/handlers"
	"livepoll/middleware"
	"livepoll/models"
	"livepoll/routes"
	"livepoll/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg := config.Load()
	config.SetupLogging(cfg)

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}

	// Auto-migrate database models
	if err := models.Migrate(db); err != nil {
		log.WithError(err).Fatal("Failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize services
	tokens := services.NewTokenIssuer(cfg.JWTSecret)
	pollService := services.NewPollService(db, tokens, cfg.BcryptCost)

	// Initialize WebSocket hub
	hub := services.NewHub(pollService, cfg.VoteRateLimit, cfg.VoteBurst)

	if cfg.RedisEnabled() {
		redisClient := config.InitRedis(cfg)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisClient.Close()

		relay := services.NewRedisRelay(redisClient)
		hub.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx, hub.Deliver); err != nil {
				log.WithError(err).Fatal("Redis relay stopped")
			}
		}()
	}

	go hub.Run(ctx)

	// Initialize handlers
	pollHandler := handlers.NewPollHandler(pollService, hub)

	// Setup Gin router
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(), middleware.Metrics(), middleware.CORS())

	routes.SetupRoutes(router, pollHandler, hub, cfg.FrontendDir)

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Server shutdown failed")
		}
	}()

	// Start server
	log.WithField("addr", cfg.Addr()).Info("Server starting")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("Failed to start server")
	}
	log.Info("Server stopped")
}
