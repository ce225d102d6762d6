package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"grant-scout/models"
)

// UpsertOutcome ist das Ergebnis eines Upserts im Change-Detection-Store.
type UpsertOutcome string

const (
	OutcomeCreated   UpsertOutcome = "created"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

// GrantStore ist die einzige Komponente, die Grant-Zeilen schreiben darf.
// Das Interface existiert, damit Tests eine In-Memory-Datenbank injizieren.
type GrantStore interface {
	Upsert(ctx context.Context, grant models.CanonicalGrant) (UpsertOutcome, error)
	ListBySource(ctx context.Context, source string) ([]models.Grant, error)
	KnownFingerprints(ctx context.Context, source string) (map[string]string, error)
}

// GormGrantStore implementiert den Change-Detection-Store auf GORM.
type GormGrantStore struct {
	DB     *gorm.DB
	Logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGrantStore erstellt den Store.
func NewGrantStore(db *gorm.DB, logger *zap.Logger) *GormGrantStore {
	return &GormGrantStore{
		DB:     db,
		Logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// identityLock liefert den Mutex für eine (source, source_id)-Identität.
// Damit sind konkurrierende Upserts derselben Identität im Prozess
// serialisiert; prozessübergreifend sichert der Unique-Index ab.
func (s *GormGrantStore) identityLock(source, sourceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := source + "|" + sourceID
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Upsert wendet einen kanonischen Grant auf den Bestand an:
// nicht vorhanden -> Created; Fingerprint gleich -> Unchanged ohne Write;
// Fingerprint verschieden -> alle Felder überschreiben, LastChangedAt setzen.
func (s *GormGrantStore) Upsert(ctx context.Context, grant models.CanonicalGrant) (UpsertOutcome, error) {
	grant.Normalize()
	if err := ValidateGrant(&grant); err != nil {
		return "", err
	}

	lock := s.identityLock(grant.Source, grant.SourceID)
	lock.Lock()
	defer lock.Unlock()

	outcome, err := s.upsertLocked(ctx, grant)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Ein anderer Prozess hat das Insert gewonnen; der Verlierer sieht
		// beim erneuten Versuch dessen Ergebnis (Updated oder Unchanged).
		outcome, err = s.upsertLocked(ctx, grant)
	}
	return outcome, err
}

func (s *GormGrantStore) upsertLocked(ctx context.Context, grant models.CanonicalGrant) (UpsertOutcome, error) {
	fingerprint := grant.FingerprintHash()
	now := time.Now().UTC()

	var existing models.Grant
	err := s.DB.WithContext(ctx).
		Where("source = ? AND source_id = ?", grant.Source, grant.SourceID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) && grant.URL != "" {
		// Fallback über die URL, falls sich das Identifier-Format der
		// Quelle geändert hat (Altbestand).
		err = s.DB.WithContext(ctx).
			Where("source = ? AND url = ?", grant.Source, grant.URL).
			First(&existing).Error
	}

	switch {
	case err == nil:
		if existing.Fingerprint == fingerprint {
			return OutcomeUnchanged, nil
		}
		updated := s.apply(&existing, grant, fingerprint)
		updated.LastChangedAt = &now
		if err := s.DB.WithContext(ctx).Save(updated).Error; err != nil {
			return "", err
		}
		return OutcomeUpdated, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		record := s.apply(&models.Grant{FirstSeenAt: now}, grant, fingerprint)
		if err := s.DB.WithContext(ctx).Create(record).Error; err != nil {
			return "", err
		}
		return OutcomeCreated, nil

	default:
		return "", err
	}
}

// apply überträgt den kanonischen Grant in die Bestandszeile.
func (s *GormGrantStore) apply(record *models.Grant, grant models.CanonicalGrant, fingerprint string) *models.Grant {
	record.Source = grant.Source
	record.SourceID = grant.SourceID
	record.Slug = models.Slugify(grant.Title, grant.Source)
	record.Title = grant.Title
	record.Summary = grant.Summary
	record.Description = grant.Description
	record.Funder = grant.Funder
	record.URL = grant.URL
	record.FundingAmount = grant.FundingAmount
	record.Deadline = grant.Deadline
	record.OpeningDate = grant.OpeningDate
	record.Fingerprint = fingerprint
	scrapedAt := grant.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}
	record.ScrapedAt = &scrapedAt
	if len(grant.RawData) > 0 {
		if raw, err := json.Marshal(grant.RawData); err == nil {
			record.RawData = raw
		}
	}
	return record
}

// ListBySource liefert den Bestand einer Quelle, stabil sortiert.
func (s *GormGrantStore) ListBySource(ctx context.Context, source string) ([]models.Grant, error) {
	var grants []models.Grant
	err := s.DB.WithContext(ctx).
		Where("source = ?", source).
		Order("source_id asc").
		Find(&grants).Error
	return grants, err
}

// KnownFingerprints liefert URL -> Fingerprint für eine Quelle, damit
// Adapter bekannte Einträge erkennen können.
func (s *GormGrantStore) KnownFingerprints(ctx context.Context, source string) (map[string]string, error) {
	var grants []models.Grant
	err := s.DB.WithContext(ctx).
		Select("url", "fingerprint").
		Where("source = ?", source).
		Find(&grants).Error
	if err != nil {
		return nil, err
	}
	known := make(map[string]string, len(grants))
	for _, g := range grants {
		if g.URL != "" {
			known[g.URL] = g.Fingerprint
		}
	}
	return known, nil
}

// ValidateGrant prüft die Pflichtfelder eines kanonischen Grants.
func ValidateGrant(grant *models.CanonicalGrant) error {
	if grant.Source == "" {
		return &ValidationError{Field: "source"}
	}
	if grant.SourceID == "" {
		return &ValidationError{Field: "source_id"}
	}
	if grant.Title == "" {
		return &ValidationError{Field: "title"}
	}
	return nil
}
