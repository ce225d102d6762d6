package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"grant-scout/models"
	"grant-scout/sources"
)

// SnapshotArchiver legt den finalisierten Log eines Quell-Laufs in einem
// externen Archiv ab (S3). Optional; nil deaktiviert das Archiv.
type SnapshotArchiver interface {
	ArchiveRunLog(ctx context.Context, source, runID string, payload []byte) (string, error)
}

// RunResult fasst einen abgeschlossenen Quell-Lauf zusammen.
type RunResult struct {
	RunID    string       `json:"run_id"`
	Source   string       `json:"source"`
	Status   string       `json:"status"`
	Attempts int          `json:"attempts"`
	Summary  BatchSummary `json:"summary"`
	Found    int          `json:"found"`
	Error    string       `json:"error,omitempty"`
}

// Orchestrator fährt die Quell-Adapter in konfigurierter Reihenfolge.
// Innerhalb eines Laufs strikt sequenziell (ukri -> nihr -> catapult);
// unabhängige Trigger verschiedener Quellen dürfen parallel laufen, derselbe
// Quell-Name ist über einen Mutex serialisiert. ScrapeLog-Zeilen gehören
// exklusiv dem Orchestrator.
type Orchestrator struct {
	DB        *gorm.DB
	Gateway   *UpsertGateway
	Store     GrantStore
	Logger    *zap.Logger
	Retry     RetryPolicy
	BatchSize int
	Archive   SnapshotArchiver

	order   []string
	sources map[string]sources.Source

	mu          sync.Mutex
	sourceLocks map[string]*sync.Mutex
}

// NewOrchestrator erstellt den Orchestrator. order bestimmt die
// Abarbeitungsreihenfolge für RunAll.
func NewOrchestrator(db *gorm.DB, gateway *UpsertGateway, store GrantStore, logger *zap.Logger, retry RetryPolicy, batchSize int, order []string, srcs ...sources.Source) *Orchestrator {
	if batchSize <= 0 {
		batchSize = 25
	}
	byName := make(map[string]sources.Source, len(srcs))
	for _, s := range srcs {
		byName[s.Name()] = s
	}
	return &Orchestrator{
		DB:          db,
		Gateway:     gateway,
		Store:       store,
		Logger:      logger,
		Retry:       retry,
		BatchSize:   batchSize,
		order:       order,
		sources:     byName,
		sourceLocks: make(map[string]*sync.Mutex),
	}
}

// HasSource meldet, ob eine Quelle konfiguriert ist.
func (o *Orchestrator) HasSource(name string) bool {
	_, ok := o.sources[name]
	return ok
}

// sourceLock serialisiert Läufe derselben Quelle.
func (o *Orchestrator) sourceLock(name string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.sourceLocks[name]
	if !ok {
		l = &sync.Mutex{}
		o.sourceLocks[name] = l
	}
	return l
}

// RunAll fährt alle konfigurierten Quellen nacheinander. Der Ausfall einer
// Quelle verhindert nicht die Abarbeitung der nächsten (Isolations-Invariante).
func (o *Orchestrator) RunAll(ctx context.Context, runID string) []RunResult {
	if runID == "" {
		runID = uuid.NewString()
	}
	results := make([]RunResult, 0, len(o.order))
	for _, name := range o.order {
		res := o.RunSource(ctx, name, runID)
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// RunSource fährt genau einen Quell-Lauf: ScrapeLog öffnen, Adapter-Output
// in Batches durchs Gateway streamen, bei retryable AdapterError den ganzen
// Quell-Lauf mit exponentiellem Backoff wiederholen, Log finalisieren.
func (o *Orchestrator) RunSource(ctx context.Context, name, runID string) RunResult {
	if runID == "" {
		runID = uuid.NewString()
	}
	res := RunResult{RunID: runID, Source: name}

	src, ok := o.sources[name]
	if !ok {
		res.Status = models.ScrapeError
		res.Error = fmt.Sprintf("unbekannte Quelle: %s", name)
		return res
	}

	lock := o.sourceLock(name)
	lock.Lock()
	defer lock.Unlock()

	log := o.Logger.With(zap.String("source", name), zap.String("run_id", runID))

	entry := models.ScrapeLog{
		RunID:     runID,
		Source:    name,
		Status:    models.ScrapeRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := o.DB.Create(&entry).Error; err != nil {
		log.Error("ScrapeLog konnte nicht angelegt werden", zap.Error(err))
		res.Status = models.ScrapeError
		res.Error = "scrape log create failed"
		return res
	}

	var (
		summary  BatchSummary
		found    int
		runErr   error
		attempts int
	)

	for attempt := 1; attempt <= o.Retry.MaxAttempts; attempt++ {
		attempts = attempt
		if err := o.Retry.Wait(ctx, attempt); err != nil {
			runErr = err
			break
		}
		if attempt > 1 {
			log.Info("Wiederhole Quell-Lauf", zap.Int("attempt", attempt))
		}

		// Jeder Versuch startet frisch; Upserts sind idempotent, bereits
		// geschriebene Ergebnisse des Vorversuchs bleiben gültig.
		summary = BatchSummary{}
		found = 0
		runErr = o.streamSource(ctx, src, &summary, &found)
		if runErr == nil || !sources.IsRetryable(runErr) || ctx.Err() != nil {
			break
		}
		log.Warn("Quell-Lauf fehlgeschlagen (retryable)",
			zap.Int("attempt", attempt), zap.Error(runErr))
	}

	status := models.ScrapeSuccess
	errMsg := ""
	switch {
	case ctx.Err() != nil:
		status = models.ScrapeCancelled
		errMsg = ctx.Err().Error()
	case runErr != nil:
		status = models.ScrapeError
		errMsg = runErr.Error()
	case len(summary.Errors) > 0:
		status = models.ScrapePartial
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.CompletedAt = &now
	entry.Attempts = attempts
	entry.GrantsFound = found
	entry.GrantsCreated = summary.Created
	entry.GrantsUpdated = summary.Updated
	entry.GrantsUnchanged = summary.Unchanged
	entry.GrantsErrored = len(summary.Errors)
	entry.ErrorMessage = errMsg
	if err := o.DB.Save(&entry).Error; err != nil {
		log.Error("ScrapeLog konnte nicht finalisiert werden", zap.Error(err))
	}

	log.Info("Quell-Lauf abgeschlossen",
		zap.String("status", status),
		zap.Int("attempts", attempts),
		zap.Int("found", found),
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("errored", len(summary.Errors)))

	o.archive(ctx, &entry, log)

	res.Status = status
	res.Attempts = attempts
	res.Summary = summary
	res.Found = found
	res.Error = errMsg
	return res
}

// streamSource streamt den Adapter-Output in Batches fester Größe durchs
// Gateway. Teilergebnisse vor einem Adapter-Fehler werden noch upserted,
// Cancel wird kooperativ an Batch-Grenzen geprüft.
func (o *Orchestrator) streamSource(ctx context.Context, src sources.Source, summary *BatchSummary, found *int) error {
	known, err := o.Store.KnownFingerprints(ctx, src.Name())
	if err != nil {
		return fmt.Errorf("bestand nicht lesbar: %w", err)
	}

	batch := make([]models.CanonicalGrant, 0, o.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		summary.Merge(o.Gateway.ApplyBatch(ctx, batch))
		batch = batch[:0]
	}

	fetchErr := src.Fetch(ctx, sources.FetchRequest{Known: known}, func(g models.CanonicalGrant) {
		*found++
		batch = append(batch, g)
		if len(batch) >= o.BatchSize {
			flush()
		}
	})

	// Auch bei Fehler: was der Adapter geliefert hat, wird angewendet.
	flush()

	if fetchErr != nil {
		return fetchErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// archive legt den finalisierten Log im Snapshot-Archiv ab, sofern
// konfiguriert. Archiv-Fehler sind nie fatal für den Lauf.
func (o *Orchestrator) archive(ctx context.Context, entry *models.ScrapeLog, log *zap.Logger) {
	if o.Archive == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	link, err := o.Archive.ArchiveRunLog(ctx, entry.Source, entry.RunID, payload)
	if err != nil {
		log.Warn("Run-Snapshot konnte nicht archiviert werden", zap.Error(err))
		return
	}
	log.Debug("Run-Snapshot archiviert", zap.String("link", link))
}
