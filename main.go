package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"grant-scout/config"
	"grant-scout/models"
	"grant-scout/services"
	"grant-scout/sources"
	"grant-scout/sources/catapult"
	"grant-scout/sources/nihr"
	"grant-scout/sources/ukri"
	"grant-scout/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	grantsCreatedCounter   prometheus.Counter
	grantsUpdatedCounter   prometheus.Counter
	grantsUnchangedCounter prometheus.Counter
	scrapeRunsCounter      *prometheus.CounterVec
	workpackagesCounter    *prometheus.CounterVec
)

func init() {
	grantsCreatedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grants_created_total",
		Help: "Total number of new grants added to the database.",
	})
	grantsUpdatedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grants_updated_total",
		Help: "Total number of grants updated after a content change.",
	})
	grantsUnchangedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grants_unchanged_total",
		Help: "Total number of upserts that left the grant unchanged.",
	})
	scrapeRunsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scrape_runs_total",
		Help: "Total number of finished scrape runs per source and outcome.",
	}, []string{"source", "outcome"})
	workpackagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "match_workpackages_total",
		Help: "Total number of finished match workpackages per status.",
	}, []string{"status"})
	prometheus.MustRegister(grantsCreatedCounter, grantsUpdatedCounter,
		grantsUnchangedCounter, scrapeRunsCounter, workpackagesCounter)
}

// apiKeyAuthMiddleware prüft das Bearer-Token gegen das Shared Secret.
// Der Vergleich läuft in konstanter Zeit (siehe UpsertGateway.Authorize).
func apiKeyAuthMiddleware(gateway *services.UpsertGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || !gateway.Authorize(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to grants database.")

	// Auto-Migration
	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(
		&models.Grant{},
		&models.ScrapeLog{},
		&models.Company{},
		&models.CompanyGrant{},
		&models.GrantMatchWorkpackage{},
	); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Setup Sources
	var enabledSources []sources.Source
	for _, name := range cfg.SourceOrder() {
		switch name {
		case "ukri":
			enabledSources = append(enabledSources, ukri.NewFetcher(cfg, logging))
		case "nihr":
			enabledSources = append(enabledSources, nihr.NewFetcher(cfg, logging))
		case "catapult":
			enabledSources = append(enabledSources, catapult.NewFetcher(cfg, logging))
		default:
			logging.Warn("Unknown source in config", zap.String("source_name", name))
		}
	}
	if len(enabledSources) == 0 {
		logging.Fatal("No valid sources enabled. Check ENABLED_SOURCES in .env")
	}
	logging.Info("Active sources loaded", zap.Strings("sources", cfg.SourceOrder()))

	// Setup Services
	store := services.NewGrantStore(db, logging)
	gateway := services.NewUpsertGateway(store, cfg.ScraperAPIKey, logging)

	retry := services.RetryPolicy{
		MaxAttempts: cfg.ScrapeMaxAttempts,
		BaseDelay:   cfg.ScrapeBaseDelay,
		Multiplier:  2.0,
		MaxDelay:    cfg.ScrapeMaxDelay,
	}
	orchestrator := services.NewOrchestrator(db, gateway, store, logging, retry,
		cfg.UpsertBatchSize, cfg.SourceOrder(), enabledSources...)

	if cfg.ArchiveEnabled() {
		s3Client, err := storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		orchestrator.Archive = storage.NewS3Archiver(s3Client, cfg)
		logging.Info("Run snapshot archive enabled", zap.String("bucket", cfg.ArchiveS3Bucket))
	}

	var matchService *services.MatchService
	if cfg.ScorerURL != "" {
		scorer := services.NewHTTPScorer(cfg.ScorerURL, cfg.ScorerAPIKey, cfg.ScorerTimeout, logging)
		matchService = services.NewMatchService(db, scorer, logging,
			cfg.MatchBatchSize, cfg.MatchMaxAttempts, cfg.MatchWorkers, cfg.MatchScoreMin, retry)
	} else {
		logging.Warn("SCORER_URL not set, matching endpoints disabled")
	}

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	setupGrantRoutes(router, store, gateway, logging)
	setupRunRoutes(router, orchestrator, gateway, logging)
	setupScrapeLogRoutes(router, db, gateway, logging)
	setupMatchRoutes(router, db, matchService, gateway, logging)

	// Setup Cron
	if cfg.CronEnabled {
		cronScheduler := cron.New()
		cronScheduler.AddFunc(cfg.CronSchedule, func() {
			logging.Info("Running scheduled scrape of all sources...")
			results := orchestrator.RunAll(context.Background(), "")
			for _, res := range results {
				recordRunResult(res)
			}
			logging.Info("Scheduled scrape completed", zap.Int("sources", len(results)))
		})
		cronScheduler.Start()
	}

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// recordRunResult aktualisiert die Prometheus-Zähler nach einem Quell-Lauf.
func recordRunResult(res services.RunResult) {
	scrapeRunsCounter.WithLabelValues(res.Source, res.Status).Inc()
	grantsCreatedCounter.Add(float64(res.Summary.Created))
	grantsUpdatedCounter.Add(float64(res.Summary.Updated))
	grantsUnchangedCounter.Add(float64(res.Summary.Unchanged))
}

func setupGrantRoutes(router *gin.Engine, store services.GrantStore, gateway *services.UpsertGateway, log *zap.Logger) {
	rg := router.Group("/api/grants")
	rg.Use(apiKeyAuthMiddleware(gateway))

	// Bestand einer Quelle, für die Scraper-Optimierung (bekannte
	// URLs/Fingerprints) und operatives Tooling.
	rg.GET("", func(c *gin.Context) {
		source := c.Query("source")
		if source == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "source parameter required"})
			return
		}
		grants, err := store.ListBySource(c.Request.Context(), source)
		if err != nil {
			log.Error("Database query for grants failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		now := time.Now().UTC()
		out := make([]gin.H, 0, len(grants))
		for i := range grants {
			g := &grants[i]
			out = append(out, gin.H{
				"source":      g.Source,
				"source_id":   g.SourceID,
				"slug":        g.Slug,
				"title":       g.Title,
				"url":         g.URL,
				"fingerprint": g.Fingerprint,
				"deadline":    g.Deadline,
				"status":      g.ComputedStatus(now),
			})
		}
		c.JSON(http.StatusOK, gin.H{"grants": out})
	})

	rg.POST("/upsert", func(c *gin.Context) {
		var req struct {
			Grants []models.CanonicalGrant `json:"grants"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if len(req.Grants) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "grants array required"})
			return
		}

		summary := gateway.ApplyBatch(c.Request.Context(), req.Grants)
		grantsCreatedCounter.Add(float64(summary.Created))
		grantsUpdatedCounter.Add(float64(summary.Updated))
		grantsUnchangedCounter.Add(float64(summary.Unchanged))

		if summary.Errors == nil {
			summary.Errors = []services.BatchError{}
		}
		c.JSON(http.StatusOK, summary)
	})
}

func setupRunRoutes(router *gin.Engine, orchestrator *services.Orchestrator, gateway *services.UpsertGateway, log *zap.Logger) {
	rg := router.Group("/run")
	rg.Use(apiKeyAuthMiddleware(gateway))

	rg.POST("/all", func(c *gin.Context) {
		runID := uuid.NewString()
		go func() {
			results := orchestrator.RunAll(context.Background(), runID)
			for _, res := range results {
				recordRunResult(res)
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "message": "Scrape of all sources triggered."})
	})

	rg.POST("/:source", func(c *gin.Context) {
		source := c.Param("source")
		if !orchestrator.HasSource(source) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown source"})
			return
		}
		runID := uuid.NewString()
		go func() {
			recordRunResult(orchestrator.RunSource(context.Background(), source, runID))
		}()
		c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "source": source, "message": "Scrape triggered."})
	})
}

func setupScrapeLogRoutes(router *gin.Engine, db *gorm.DB, gateway *services.UpsertGateway, log *zap.Logger) {
	rg := router.Group("/runs")
	rg.Use(apiKeyAuthMiddleware(gateway))

	rg.GET("", func(c *gin.Context) {
		query := db.Model(&models.ScrapeLog{})
		if source := c.Query("source"); source != "" {
			query = query.Where("source = ?", source)
		}
		if runID := c.Query("run_id"); runID != "" {
			query = query.Where("run_id = ?", runID)
		}
		var logs []models.ScrapeLog
		if err := query.Order("started_at desc").Limit(100).Find(&logs).Error; err != nil {
			log.Error("Database query for scrape logs failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, logs)
	})
}

func setupMatchRoutes(router *gin.Engine, db *gorm.DB, matchService *services.MatchService, gateway *services.UpsertGateway, log *zap.Logger) {
	rg := router.Group("/companies")
	rg.Use(apiKeyAuthMiddleware(gateway))

	rg.POST("/:id/match", func(c *gin.Context) {
		if matchService == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "matching disabled"})
			return
		}
		var company models.Company
		if err := db.First(&company, c.Param("id")).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "company not found"})
			return
		}
		go func() {
			summary, err := matchService.MatchCompany(context.Background(), company.ID)
			if err != nil {
				log.Error("Async matching failed", zap.Uint("company_id", company.ID), zap.Error(err))
				return
			}
			workpackagesCounter.WithLabelValues(models.WorkpackageCompleted).Add(float64(summary.Completed))
			workpackagesCounter.WithLabelValues(models.WorkpackageFailed).Add(float64(summary.Failed))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Matching triggered.", "company_id": company.ID})
	})

	rg.GET("/:id/matches", func(c *gin.Context) {
		var matches []models.CompanyGrant
		if err := db.Where("company_id = ?", c.Param("id")).
			Order("score desc").Find(&matches).Error; err != nil {
			log.Error("Database query for matches failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, matches)
	})

	// Confirm/Dismiss kommt von außerhalb des Kerns; hier wird nur der
	// Status umgeschaltet, nie der Score neu berechnet.
	mg := router.Group("/matches")
	mg.Use(apiKeyAuthMiddleware(gateway))
	mg.PATCH("/:id", func(c *gin.Context) {
		var payload struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status required"})
			return
		}
		if payload.Status != models.MatchConfirmed && payload.Status != models.MatchDismissed {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be confirmed or dismissed"})
			return
		}
		var match models.CompanyGrant
		if err := db.First(&match, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
				return
			}
			log.Error("DB error checking for match on PATCH", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if err := db.Model(&match).Update("status", payload.Status).Error; err != nil {
			log.Error("DB error updating match status", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update match"})
			return
		}
		c.JSON(http.StatusOK, match)
	})
}
