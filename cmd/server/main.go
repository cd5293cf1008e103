package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Monthlyaway/short-it/config"
	"github.com/Monthlyaway/short-it/internal/analytics"
	"github.com/Monthlyaway/short-it/internal/cache"
	"github.com/Monthlyaway/short-it/internal/filter"
	"github.com/Monthlyaway/short-it/internal/geo"
	"github.com/Monthlyaway/short-it/internal/handler"
	"github.com/Monthlyaway/short-it/internal/maintenance"
	"github.com/Monthlyaway/short-it/internal/qr"
	"github.com/Monthlyaway/short-it/internal/ratelimit"
	"github.com/Monthlyaway/short-it/internal/repository"
	"github.com/Monthlyaway/short-it/internal/router"
	"github.com/Monthlyaway/short-it/internal/service"
	"github.com/Monthlyaway/short-it/internal/utils"
	"github.com/Monthlyaway/short-it/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	zl, err := logger.New(os.Getenv("ENV") == "development")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		zl.Fatal("Failed to load config", zap.String("path", configPath), zap.Error(err))
	}

	// Initialize Snowflake ID generator
	ids, err := utils.NewIDGenerator(cfg.Snowflake.DatacenterID, cfg.Snowflake.WorkerID)
	if err != nil {
		zl.Fatal("Failed to initialize Snowflake", zap.Error(err))
	}

	// Initialize database
	db, err := repository.Open(&cfg.Database, zl)
	if err != nil {
		zl.Fatal("Failed to initialize database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer func() {
		if err := repository.Close(db); err != nil {
			zl.Warn("Failed to close database", zap.Error(err))
		}
	}()
	repo := repository.NewURLRepository(db, ids)

	// Initialize Redis
	rdb, err := cache.NewClient(&cfg.Redis)
	if err != nil {
		zl.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer rdb.Close()

	var limiter service.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(rdb, ratelimit.Config{
			Limit:  cfg.RateLimit.Limit,
			Window: cfg.RateLimit.Window,
		})
		zl.Info("Rate limiting enabled", zap.Int("limit", cfg.RateLimit.Limit), zap.Duration("window", cfg.RateLimit.Window))
	}

	// Background click recording
	recorder := analytics.NewRecorder(repo, geo.NewClient(cfg.Analytics.GeoProvider, cfg.Analytics.GeoTimeout), zl, analytics.Config{
		Workers:   cfg.Analytics.Workers,
		QueueSize: cfg.Analytics.QueueSize,
	})
	recorder.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Bloom filter and keep it in sync with the store
	var keyFilter service.KeyFilter
	var scheduler *maintenance.Scheduler
	if cfg.BloomFilter.Enabled {
		bloomFilter := filter.NewBloomFilter(cfg.BloomFilter.Capacity, cfg.BloomFilter.FalsePositiveRate)
		scheduler = maintenance.NewScheduler(zl, repo, bloomFilter, cfg.BloomFilter.RefreshSpec)
		if err := scheduler.Start(ctx); err != nil {
			zl.Fatal("Failed to start maintenance scheduler", zap.Error(err))
		}
		keyFilter = bloomFilter
	}

	urlService := service.NewURLService(service.Dependencies{
		Store:   repo,
		Cache:   cache.NewRedisCache(rdb),
		Limiter: limiter,
		Clicks:  recorder,
		QR:      qr.NewEncoder(cfg.QR.Size),
		Filter:  keyFilter,
	}, service.Options{
		ShortKeyLength:  cfg.Keys.ShortLength,
		SecretKeyLength: cfg.Keys.SecretLength,
		KeyAttempts:     cfg.Keys.MaxAttempts,
		CacheTTL:        cfg.Redis.URLTTL,
	}, zl)

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	r, err := router.Router(&cfg.Server, zl, handler.NewURLHandler(urlService, cfg.Server.BaseURL, zl))
	if err != nil {
		zl.Fatal("Failed to build router", zap.Error(err))
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		zl.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Server forced to shutdown", zap.Error(err))
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		zl.Warn("Click recorder did not drain", zap.Error(err))
	}
	if scheduler != nil {
		scheduler.Stop()
	}

	zl.Info("Server exited")
}
