package services

import (
	"context"
	"crypto/subtle"

	"go.uber.org/zap"

	"grant-scout/models"
)

// BatchError beschreibt ein fehlgeschlagenes Item eines Upsert-Batches.
type BatchError struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

// BatchSummary ist das Ergebnis eines Upsert-Batches.
type BatchSummary struct {
	Created   int          `json:"created"`
	Updated   int          `json:"updated"`
	Unchanged int          `json:"unchanged"`
	Errors    []BatchError `json:"errors"`
}

// Merge addiert eine weitere Summary (für Batch-über-Batch-Akkumulation
// im Orchestrator).
func (b *BatchSummary) Merge(other BatchSummary) {
	b.Created += other.Created
	b.Updated += other.Updated
	b.Unchanged += other.Unchanged
	b.Errors = append(b.Errors, other.Errors...)
}

// UpsertGateway ist die authentifizierte Grenze, über die Batches
// normalisierter Grants in den Change-Detection-Store gelangen.
type UpsertGateway struct {
	Store  GrantStore
	APIKey string
	Logger *zap.Logger
}

// NewUpsertGateway erstellt das Gateway.
func NewUpsertGateway(store GrantStore, apiKey string, logger *zap.Logger) *UpsertGateway {
	return &UpsertGateway{Store: store, APIKey: apiKey, Logger: logger}
}

// Authorize prüft das Bearer-Token in konstanter Zeit gegen das Shared
// Secret; Timing-Seitenkanäle auf dem Secret-Vergleich sind ein Defekt.
func (g *UpsertGateway) Authorize(token string) bool {
	if g.APIKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(g.APIKey)) == 1
}

// ApplyBatch wendet jeden Grant des Batches sequenziell (in Batch-Reihenfolge,
// für deterministische Logs) auf den Store an. Ein kaputtes Item bricht den
// Batch nicht ab, es landet in Errors.
func (g *UpsertGateway) ApplyBatch(ctx context.Context, grants []models.CanonicalGrant) BatchSummary {
	var summary BatchSummary

	for i := range grants {
		outcome, err := g.Store.Upsert(ctx, grants[i])
		if err != nil {
			identifier := grants[i].SourceID
			if identifier == "" {
				identifier = grants[i].URL
			}
			g.Logger.Warn("Upsert eines Batch-Items fehlgeschlagen",
				zap.String("source", grants[i].Source),
				zap.String("identifier", identifier),
				zap.Error(err))
			summary.Errors = append(summary.Errors, BatchError{
				Identifier: identifier,
				Reason:     err.Error(),
			})
			continue
		}

		switch outcome {
		case OutcomeCreated:
			summary.Created++
		case OutcomeUpdated:
			summary.Updated++
		case OutcomeUnchanged:
			summary.Unchanged++
		}
	}

	return summary
}
