package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"reminder-service/internal/handler"
)

// Pinger 就绪检查，*pgxpool.Pool 满足
type Pinger interface {
	Ping(ctx context.Context) error
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	dispatchHandler *handler.DispatchHandler,
	endpointHandler *handler.EndpointHandler,
	jwtSecret string,
	db Pinger,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), MetricsMiddleware(), requestLogger(logger))

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		if db == nil {
			c.JSON(200, gin.H{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// Public: 由 cron 或外部定时器调用，用 API key 鉴权
	api.GET("/reminders/dispatch", dispatchHandler.Dispatch)
	api.POST("/reminders/dispatch", dispatchHandler.Dispatch)
	api.GET("/notifications/vapid-public-key", endpointHandler.VAPIDPublicKey)

	// Protected
	auth := api.Group("/notifications")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.POST("/push", endpointHandler.SubscribePush)
		auth.DELETE("/push", endpointHandler.UnsubscribePush)
		auth.PUT("/email", endpointHandler.SubscribeEmail)
		auth.DELETE("/email", endpointHandler.UnsubscribeEmail)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/healthz" {
			return
		}
		// 不记录 query，里面有 API key
		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("trace_id", c.Writer.Header().Get("X-Trace-ID")),
		)
	}
}
