package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"4280"`

	// Shared Secret für die Scraper-/Upsert-API (Bearer-Token).
	ScraperAPIKey string `envconfig:"SCRAPER_API_KEY" required:"true"`

	// Quellen-Konfiguration. Die Reihenfolge bestimmt die Abarbeitung
	// innerhalb eines "run all" (ukri -> nihr -> catapult).
	EnabledSources string `envconfig:"ENABLED_SOURCES" default:"ukri,nihr,catapult"`

	UKRIBaseURL   string        `envconfig:"UKRI_BASE_URL" default:"https://www.ukri.org/opportunity/"`
	UKRIMaxPages  int           `envconfig:"UKRI_MAX_PAGES" default:"20"`
	NIHRBaseURL   string        `envconfig:"NIHR_BASE_URL" default:"https://www.nihr.ac.uk/researchers/funding-opportunities/"`
	NIHRMaxPages  int           `envconfig:"NIHR_MAX_PAGES" default:"15"`
	CatapultSites string        `envconfig:"CATAPULT_SITES" default:"https://cp.catapult.org.uk/opportunities/,https://hvm.catapult.org.uk/opportunities/"`
	FetchTimeout  time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	FetchThrottle time.Duration `envconfig:"FETCH_THROTTLE" default:"1s"`

	// Orchestrator
	UpsertBatchSize   int           `envconfig:"UPSERT_BATCH_SIZE" default:"25"`
	ScrapeMaxAttempts int           `envconfig:"SCRAPE_MAX_ATTEMPTS" default:"3"`
	ScrapeBaseDelay   time.Duration `envconfig:"SCRAPE_BASE_DELAY" default:"2s"`
	ScrapeMaxDelay    time.Duration `envconfig:"SCRAPE_MAX_DELAY" default:"60s"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`
	CronEnabled  bool   `envconfig:"CRON_ENABLED" default:"true"`

	// Matching
	MatchBatchSize   int           `envconfig:"MATCH_BATCH_SIZE" default:"10"`
	MatchMaxAttempts int           `envconfig:"MATCH_MAX_ATTEMPTS" default:"3"`
	MatchWorkers     int           `envconfig:"MATCH_WORKERS" default:"3"`
	MatchScoreMin    float64       `envconfig:"MATCH_SCORE_MIN" default:"0.2"`
	ScorerURL        string        `envconfig:"SCORER_URL"`
	ScorerAPIKey     string        `envconfig:"SCORER_API_KEY"`
	ScorerTimeout    time.Duration `envconfig:"SCORER_TIMEOUT" default:"120s"`

	// S3-Archiv für Run-Snapshots (optional, leer = deaktiviert)
	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET"`
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION" default:"eu-central-1"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// SourceOrder liefert die aktivierten Quellen in konfigurierter Reihenfolge.
func (c *Config) SourceOrder() []string {
	var out []string
	for _, s := range strings.Split(c.EnabledSources, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CatapultSiteList liefert die konfigurierten Catapult-Listing-Seiten.
func (c *Config) CatapultSiteList() []string {
	var out []string
	for _, s := range strings.Split(c.CatapultSites, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ArchiveEnabled meldet, ob das S3-Archiv konfiguriert ist.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveS3URL != "" && c.ArchiveS3Bucket != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
