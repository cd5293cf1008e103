package router

import (
	"time"

	"github.com/Monthlyaway/short-it/config"
	"github.com/Monthlyaway/short-it/internal/handler"
	"github.com/Monthlyaway/short-it/internal/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router builds the HTTP engine with all routes registered
func Router(cfg *config.ServerConfig, log *zap.Logger, urlHandler *handler.URLHandler) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	r.Use(middleware.RequestID(), middleware.Logger(log), middleware.Recovery(log))
	// cors.New panics on an empty origin list
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
			AllowHeaders:     []string{"*"},
			ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/", urlHandler.Root)
	r.GET("/health", urlHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/url", urlHandler.CreateShortURL)

	admin := r.Group("/admin")
	{
		admin.GET("/:secret_key", urlHandler.AdminInfo)
		admin.DELETE("/:secret_key", urlHandler.Deactivate)
	}

	r.GET("/:key", urlHandler.Redirect)
	r.GET("/:key/qr", urlHandler.QRCode)

	return r, nil
}
