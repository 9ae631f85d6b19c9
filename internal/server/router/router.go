package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cuptrace/cuptrace/internal/server/handlers"
)

// New wires the Gin engine with required routes and middlewares.
func New(batches *handlers.BatchHandler, ussdHandler *handlers.USSDHandler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))

	api := r.Group("/api")
	{
		api.POST("/batches", batches.Register)
		api.PUT("/batches/:id/stage", batches.UpdateStage)
		api.GET("/batches/:id/history", batches.History)
	}

	// Public consumer endpoints; no auth, reached from QR codes and the
	// USSD aggregator.
	r.GET("/api/trace/:id", batches.Trace)
	r.POST("/ussd", ussdHandler.Callback)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if logger != nil {
		logger.Info("router initialized")
	}

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
