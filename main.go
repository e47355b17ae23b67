package main

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"policy_kline_backend/config"
	"policy_kline_backend/middleware"
	"policy_kline_backend/models"
	"policy_kline_backend/routes"
	"policy_kline_backend/scheduler"
	"policy_kline_backend/services"
	"policy_kline_backend/services/aianalysis"
	"policy_kline_backend/services/marketdata"
	"policy_kline_backend/templates"
)

// dbInitialized tracks whether the database has been successfully initialized.
// Guarded by dbInitMutex so the /ready probe can check it from request
// goroutines while the background init is still running.
var dbInitialized bool
var dbInitMutex sync.RWMutex

func main() {
	log.Println("==============================================")
	log.Println("  Policy Kline Backend - Starting...")
	log.Println("==============================================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	if err := loadTemplates(router); err != nil {
		log.Printf("Warning: Could not load templates: %v", err)
	}

	// Health endpoints go up first so the platform sees the service as live
	// while the database initializes in the background.
	setupHealthEndpoints(router)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	var jobScheduler *scheduler.Scheduler
	go func() {
		db, err := config.InitDB()
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		log.Println("Running database migrations...")
		if err := runMigrations(); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		} else {
			log.Println("Database migrations completed successfully")
		}

		if err := models.SeedDefaultAdminUser(db, cfg.AdminPassword); err != nil {
			log.Printf("Warning: Could not seed admin user: %v", err)
		}

		initializeGlobalServices(cfg)

		dbInitMutex.Lock()
		dbInitialized = true
		dbInitMutex.Unlock()

		routes.SetupRoutes(router)

		jobScheduler = scheduler.NewScheduler(db)
		go jobScheduler.Start()

		log.Println("Application fully initialized with database")
	}()

	gracefulShutdown(server, jobScheduler)
}

// runMigrations runs all database migrations
func runMigrations() error {
	db := config.DB

	if err := models.MigrateKlineModels(db); err != nil {
		return err
	}
	if err := models.MigrateEventModels(db); err != nil {
		return err
	}
	if err := models.MigrateAdminModels(db); err != nil {
		return err
	}
	return nil
}

// initializeGlobalServices initializes global service instances
func initializeGlobalServices(cfg *config.Config) {
	gormDB := config.DB

	fetcher := marketdata.NewFetcher(cfg.MarketDataBaseURL, cfg.MarketDataToken)
	services.InitKlineService(gormDB, fetcher, cfg.KlineStartDate)

	client := aianalysis.NewClient(cfg.SiliconFlowAPIURL, cfg.SiliconFlowAPIKey)
	analyzer := aianalysis.NewAnalyzer(gormDB, client)
	services.InitEventService(gormDB, analyzer)
	services.InitStatsService(gormDB)

	services.InitEventFeed()
	middleware.InitLoginRateLimiter()

	if err := services.InitArchive(cfg.MongoURI); err != nil {
		log.Printf("MongoDB archive not available: %v", err)
	}

	log.Println("Global services initialized")
}

// loadTemplates parses the embedded HTML templates into the router.
func loadTemplates(router *gin.Engine) error {
	tmpl := template.New("")

	err := fs.WalkDir(templates.TemplateFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path == "embed.go" {
			return nil
		}
		content, err := fs.ReadFile(templates.TemplateFS, path)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", path, err)
		}
		if _, err := tmpl.New(path).Parse(string(content)); err != nil {
			return fmt.Errorf("failed to parse template %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	router.SetHTMLTemplate(tmpl)
	log.Println("HTML templates loaded successfully")
	return nil
}

// setupHealthEndpoints registers the liveness and readiness probes.
func setupHealthEndpoints(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		dbInitMutex.RLock()
		isDBReady := dbInitialized
		dbInitMutex.RUnlock()

		if !isDBReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not connected",
			})
			return
		}

		sqlDB, err := config.DB.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}
		if err := sqlDB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}

		status := gin.H{"status": "ready"}
		if services.GlobalArchive != nil {
			status["archive"] = services.GlobalArchive.GetConnectionStatus()
		}
		if services.GlobalEventFeed != nil {
			status["event_feed"] = services.GlobalEventFeed.GetStatus()
		}
		c.JSON(http.StatusOK, status)
	})

	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "started",
		})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// skip probe noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/startup" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, jobScheduler *scheduler.Scheduler) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	if jobScheduler != nil {
		jobScheduler.Stop()
	}
	if services.GlobalEventFeed != nil {
		services.GlobalEventFeed.Shutdown()
	}
	if services.GlobalArchive != nil {
		if err := services.GlobalArchive.Close(); err != nil {
			log.Printf("Archive close error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
