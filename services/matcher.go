package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"grant-scout/models"
)

// MatchRunSummary fasst einen Matching-Lauf für eine Firma zusammen.
type MatchRunSummary struct {
	CompanyID      uint `json:"company_id"`
	Workpackages   int  `json:"workpackages"`
	Completed      int  `json:"completed"`
	Failed         int  `json:"failed"`
	MatchesWritten int  `json:"matches_written"`
}

// MatchService baut Workpackages (eine Firma x maximal BatchSize
// Kandidaten-Grants), dispatcht sie an den externen Scorer und schreibt
// die Ergebnisse als CompanyGrant-Zeilen. CompanyGrant-Zeilen gehören
// exklusiv diesem Service (plus externem Confirm/Dismiss des Status).
type MatchService struct {
	DB          *gorm.DB
	Scorer      Scorer
	Logger      *zap.Logger
	BatchSize   int
	MaxAttempts int
	Workers     int
	ScoreMin    float64
	Retry       RetryPolicy

	mu           sync.Mutex
	companyLocks map[uint]*sync.Mutex
}

// NewMatchService erstellt den Match-Service.
func NewMatchService(db *gorm.DB, scorer Scorer, logger *zap.Logger, batchSize, maxAttempts, workers int, scoreMin float64, retry RetryPolicy) *MatchService {
	if batchSize <= 0 {
		batchSize = 10
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if workers <= 0 {
		workers = 3
	}
	return &MatchService{
		DB:           db,
		Scorer:       scorer,
		Logger:       logger,
		BatchSize:    batchSize,
		MaxAttempts:  maxAttempts,
		Workers:      workers,
		ScoreMin:     scoreMin,
		Retry:        retry,
		companyLocks: make(map[uint]*sync.Mutex),
	}
}

// companyLock serialisiert Workpackage-Arbeit je Firma, damit nie zwei
// Pakete mit überlappenden Grant-Mengen gleichzeitig laufen.
func (m *MatchService) companyLock(companyID uint) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.companyLocks[companyID]
	if !ok {
		l = &sync.Mutex{}
		m.companyLocks[companyID] = l
	}
	return l
}

// BuildWorkpackages wählt offene, für die Firma noch nicht bewertete Grants
// und partitioniert sie in Pakete mit maximal BatchSize Kandidaten.
func (m *MatchService) BuildWorkpackages(ctx context.Context, companyID uint) ([]models.GrantMatchWorkpackage, error) {
	lock := m.companyLock(companyID)
	lock.Lock()
	defer lock.Unlock()

	candidates, err := m.candidateGrantIDs(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var packages []models.GrantMatchWorkpackage
	for start := 0; start < len(candidates); start += m.BatchSize {
		end := start + m.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		wp := models.GrantMatchWorkpackage{
			CompanyID: companyID,
			Status:    models.WorkpackagePending,
		}
		wp.SetGrantIDs(candidates[start:end])
		if err := m.DB.WithContext(ctx).Create(&wp).Error; err != nil {
			return packages, err
		}
		packages = append(packages, wp)
	}

	m.Logger.Info("Workpackages gebaut",
		zap.Uint("company_id", companyID),
		zap.Int("candidates", len(candidates)),
		zap.Int("packages", len(packages)))
	return packages, nil
}

// candidateGrantIDs: offene Grants ohne CompanyGrant-Zeile für die Firma
// und ohne Zuordnung in einem noch nicht abgeschlossenen Workpackage
// (keine überlappenden Pakete je Firma). Geordnet nach ID für
// deterministische Pakete.
func (m *MatchService) candidateGrantIDs(ctx context.Context, companyID uint) ([]uint, error) {
	now := time.Now().UTC()

	var grants []models.Grant
	err := m.DB.WithContext(ctx).
		Select("id").
		Where("deadline IS NULL OR deadline >= ?", now).
		Where("id NOT IN (?)", m.DB.Model(&models.CompanyGrant{}).
			Select("grant_id").Where("company_id = ?", companyID)).
		Order("id asc").
		Find(&grants).Error
	if err != nil {
		return nil, err
	}

	var openPackages []models.GrantMatchWorkpackage
	err = m.DB.WithContext(ctx).
		Where("company_id = ? AND status IN ?", companyID,
			[]string{models.WorkpackagePending, models.WorkpackageInProgress}).
		Find(&openPackages).Error
	if err != nil {
		return nil, err
	}
	inFlight := make(map[uint]bool)
	for _, wp := range openPackages {
		for _, id := range wp.GrantIDList() {
			inFlight[id] = true
		}
	}

	var ids []uint
	for _, g := range grants {
		if !inFlight[g.ID] {
			ids = append(ids, g.ID)
		}
	}
	return ids, nil
}

// MatchCompany baut und dispatcht alle Workpackages für eine Firma.
func (m *MatchService) MatchCompany(ctx context.Context, companyID uint) (MatchRunSummary, error) {
	summary := MatchRunSummary{CompanyID: companyID}

	var company models.Company
	if err := m.DB.WithContext(ctx).First(&company, companyID).Error; err != nil {
		return summary, fmt.Errorf("firma %d nicht gefunden: %w", companyID, err)
	}

	packages, err := m.BuildWorkpackages(ctx, companyID)
	if err != nil {
		return summary, err
	}
	summary.Workpackages = len(packages)
	if len(packages) == 0 {
		return summary, nil
	}

	// Begrenzte Parallelität über Semaphore-Channel; das per-Company-Lock
	// serialisiert Pakete derselben Firma trotzdem.
	var wg sync.WaitGroup
	var resMu sync.Mutex
	semaphore := make(chan struct{}, m.Workers)

	for i := range packages {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(wp models.GrantMatchWorkpackage) {
			defer wg.Done()
			defer func() { <-semaphore }()

			written, err := m.runWorkpackage(ctx, company, wp)
			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				summary.Failed++
				return
			}
			summary.Completed++
			summary.MatchesWritten += written
		}(packages[i])
	}

	wg.Wait()
	m.Logger.Info("Matching-Lauf abgeschlossen",
		zap.Uint("company_id", companyID),
		zap.Int("workpackages", summary.Workpackages),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("matches_written", summary.MatchesWritten))
	return summary, nil
}

// runWorkpackage fährt ein Paket durch den Scorer: pending -> in_progress ->
// completed bzw. failed nach MaxAttempts. Scorer-Fehler eines Pakets
// blockieren andere Pakete nicht.
func (m *MatchService) runWorkpackage(ctx context.Context, company models.Company, wp models.GrantMatchWorkpackage) (int, error) {
	lock := m.companyLock(company.ID)
	lock.Lock()
	defer lock.Unlock()

	log := m.Logger.With(zap.Uint("workpackage_id", wp.ID), zap.Uint("company_id", company.ID))

	now := time.Now().UTC()
	wp.Status = models.WorkpackageInProgress
	wp.DispatchedAt = &now
	if err := m.DB.WithContext(ctx).Save(&wp).Error; err != nil {
		return 0, err
	}

	var grants []models.Grant
	if err := m.DB.WithContext(ctx).Where("id IN ?", wp.GrantIDList()).Order("id asc").Find(&grants).Error; err != nil {
		return 0, m.failWorkpackage(ctx, &wp, 1, err)
	}

	var scores []MatchScore
	var scoreErr error
	attempts := 0
	for attempt := 1; attempt <= m.MaxAttempts; attempt++ {
		attempts = attempt
		if err := m.Retry.Wait(ctx, attempt); err != nil {
			scoreErr = err
			break
		}
		scores, scoreErr = m.Scorer.Score(ctx, company, grants)
		if scoreErr == nil || !IsScorerRetryable(scoreErr) || ctx.Err() != nil {
			break
		}
		log.Warn("Scorer-Aufruf fehlgeschlagen (retryable)",
			zap.Int("attempt", attempt), zap.Error(scoreErr))
	}
	if scoreErr != nil {
		return 0, m.failWorkpackage(ctx, &wp, attempts, scoreErr)
	}

	written := 0
	for _, score := range scores {
		if score.Score < m.ScoreMin {
			continue
		}
		match := models.CompanyGrant{
			CompanyID:   company.ID,
			GrantID:     score.GrantID,
			Score:       score.Score,
			Explanation: score.Explanation,
			Status:      models.MatchProposed,
		}
		// Duplikat auf (company, grant) ist Unchanged, kein Fehler.
		result := m.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "company_id"}, {Name: "grant_id"}},
			DoNothing: true,
		}).Create(&match)
		if result.Error != nil {
			log.Warn("CompanyGrant-Insert fehlgeschlagen",
				zap.Uint("grant_id", score.GrantID), zap.Error(result.Error))
			continue
		}
		if result.RowsAffected > 0 {
			written++
		}
	}

	done := time.Now().UTC()
	wp.Status = models.WorkpackageCompleted
	wp.Attempts = attempts
	wp.MatchesWritten = written
	wp.CompletedAt = &done
	if err := m.DB.WithContext(ctx).Save(&wp).Error; err != nil {
		return written, err
	}

	log.Info("Workpackage abgeschlossen",
		zap.Int("attempts", attempts),
		zap.Int("scores", len(scores)),
		zap.Int("matches_written", written))
	return written, nil
}

// failWorkpackage finalisiert ein Paket als failed.
func (m *MatchService) failWorkpackage(ctx context.Context, wp *models.GrantMatchWorkpackage, attempts int, cause error) error {
	now := time.Now().UTC()
	wp.Status = models.WorkpackageFailed
	wp.Attempts = attempts
	wp.ErrorMessage = cause.Error()
	wp.CompletedAt = &now
	if err := m.DB.WithContext(ctx).Save(wp).Error; err != nil {
		m.Logger.Error("Workpackage konnte nicht als failed markiert werden",
			zap.Uint("workpackage_id", wp.ID), zap.Error(err))
	}
	m.Logger.Error("Workpackage endgültig fehlgeschlagen",
		zap.Uint("workpackage_id", wp.ID),
		zap.Int("attempts", attempts),
		zap.Error(cause))
	return cause
}
