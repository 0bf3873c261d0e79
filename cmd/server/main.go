package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Skufu/lungtriage/internal/analysis"
	"github.com/Skufu/lungtriage/internal/api"
	"github.com/Skufu/lungtriage/internal/classifier"
	"github.com/Skufu/lungtriage/internal/config"
	"github.com/Skufu/lungtriage/internal/observability"
	"github.com/Skufu/lungtriage/internal/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type routerDeps struct {
	db          HealthChecker
	models      api.Models
	handler     *api.Handler
	logger      zerolog.Logger
	maxBody     int64
	corsOrigins []string
	staticRoot  string
	uploadDir   string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	gin.SetMode(cfg.GinMode)
	logger := observability.InitLogger("lungtriage", cfg.LogLevel)
	observability.RegisterMetrics()

	ctx := context.Background()
	var (
		st store.Store
		db HealthChecker
	)
	if cfg.EnableDB {
		pool, err := connectDB(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer pool.Close()

		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("database schema failed")
		}
		st, db = pg, pg
	} else {
		logger.Warn().Msg("ENABLE_DB is false; patients and predictions are kept in memory")
		st = store.NewMemory()
	}

	classifiers, err := config.LoadClassifiers(cfg.ModelsConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("models config error")
	}
	registry, err := classifier.Load(classifiers, classifier.LoadOptions{ONNXLibrary: cfg.ONNXLibrary}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("classifier registry failed")
	}
	defer registry.Close()

	uploads, err := analysis.NewUploads(cfg.UploadDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("upload dir error")
	}

	var validator api.Validator
	if cfg.APIToken != "" {
		validator = api.StaticToken{Token: cfg.APIToken}
	}
	handler := api.New(api.Options{
		Store:     st,
		Analyzer:  analysis.NewService(registry, st, uploads, logger),
		Models:    registry,
		Uploads:   uploads,
		Logger:    logger,
		Validator: validator,
	})

	router := setupRouter(routerDeps{
		db:          db,
		models:      registry,
		handler:     handler,
		logger:      logger,
		maxBody:     cfg.MaxUploadBytes,
		corsOrigins: cfg.CORSOrigins,
		staticRoot:  detectStaticRoot(),
		uploadDir:   cfg.UploadDir,
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	logger.Info().
		Str("port", cfg.Port).
		Int("classifiers", registry.Ready()).
		Bool("db", cfg.EnableDB).
		Bool("auth", validator != nil).
		Msg("server listening")
	waitForShutdown(server, logger)
}

func connectDB(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

func setupRouter(deps routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		observability.RequestLogger(deps.logger),
		observability.RequestMetricsMiddleware(),
		limitBodySize(deps.maxBody),
		cors.New(cors.Config{
			AllowOrigins:  deps.corsOrigins,
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders: []string{"Content-Disposition"},
			MaxAge:        12 * time.Hour,
		}),
	)

	// Serve the bundled frontend when one is present. It is public, so a
	// directory that would also expose uploads or secrets is refused.
	if deps.staticRoot != "" {
		if err := checkStaticRoot(deps.staticRoot, deps.uploadDir); err != nil {
			deps.logger.Warn().Err(err).Msg("static frontend disabled")
		} else {
			router.Static("/static", deps.staticRoot)
			router.StaticFile("/", filepath.Join(deps.staticRoot, "index.html"))
		}
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/readyz", func(c *gin.Context) {
		models := gin.H{"ready": 0, "status": []classifier.ModelStatus{}}
		if deps.models != nil {
			models = gin.H{"ready": deps.models.Ready(), "status": deps.models.Statuses()}
		}

		if deps.db == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "disabled", "models": models})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		if err := deps.db.Ping(ctx); err != nil {
			dbStatus = fmt.Sprintf("unhealthy: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"db":     dbStatus,
				"models": models,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"db":     dbStatus,
			"models": models,
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.handler != nil {
		deps.handler.Register(router)
	}

	return router
}

func waitForShutdown(server *http.Server, logger zerolog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func limitBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// detectStaticRoot looks for a web/index.html under the working directory
// and its two parents. It returns "" when there is none.
func detectStaticRoot() string {
	startDir, err := os.Getwd()
	if err != nil {
		return ""
	}

	candidates := []string{
		filepath.Join(startDir, "web"),
		filepath.Join(filepath.Dir(startDir), "web"),
		filepath.Join(filepath.Dir(filepath.Dir(startDir)), "web"),
	}

	for _, dir := range candidates {
		if fileExists(filepath.Join(dir, "index.html")) {
			return dir
		}
	}

	return ""
}

// checkStaticRoot rejects a frontend directory that holds environment files
// or contains the upload directory.
func checkStaticRoot(root, uploadDir string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("static root: %w", err)
	}
	entries, err := os.ReadDir(absRoot)
	if err != nil {
		return fmt.Errorf("static root: %w", err)
	}
	for _, e := range entries {
		if name := e.Name(); name == ".env" || strings.HasPrefix(name, ".env.") {
			return fmt.Errorf("static root %s contains %s", absRoot, name)
		}
	}

	if uploadDir == "" {
		return nil
	}
	absUploads, err := filepath.Abs(uploadDir)
	if err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}
	rel, err := filepath.Rel(absRoot, absUploads)
	if err != nil {
		return nil
	}
	if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("static root %s contains upload dir %s", absRoot, absUploads)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
