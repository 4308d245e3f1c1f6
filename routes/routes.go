package routes

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"livepoll/handlers"
	"livepoll/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the API is open to any origin
	},
}

func SetupRoutes(
	router *gin.Engine,
	pollHandler *handlers.PollHandler,
	hub *services.Hub,
	frontendDir string,
) {
	// API routes
	api := router.Group("/api")
	{
		polls := api.Group("/polls")
		{
			polls.POST("", pollHandler.CreatePoll)
			polls.GET("/:joinCode", pollHandler.GetPollByJoinCode)
			polls.PUT("/:pollId/active-question", pollHandler.SetActiveQuestion)
		}
	}

	// WebSocket endpoint for live results
	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already replied with an HTTP error.
			log.WithError(err).WithField("remote", c.ClientIP()).Warn("WebSocket upgrade failed")
			return
		}

		client := hub.RegisterClient(conn)
		if client == nil {
			log.Warn("WebSocket connection refused, hub is stopped")
			return
		}
		log.WithFields(log.Fields{"client_id": client.ID(), "remote": c.ClientIP()}).Info("WebSocket connection established")
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	serveFrontend(router, frontendDir)
}

// serveFrontend serves the built client from dir and falls back to its
// index.html so client-side routes load the app.
func serveFrontend(router *gin.Engine, dir string) {
	index := filepath.Join(dir, "index.html")
	if _, err := os.Stat(index); err != nil {
		log.WithField("dir", dir).Info("No frontend build found, serving API only")
		router.NoRoute(func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		})
		return
	}

	router.NoRoute(func(c *gin.Context) {
		method := c.Request.Method
		if (method != http.MethodGet && method != http.MethodHead) || strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}

		path := filepath.Join(dir, filepath.Clean("/"+c.Request.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			c.File(path)
			return
		}
		c.File(index)
	})
}
