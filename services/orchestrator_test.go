package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"grant-scout/models"
	"grant-scout/sources"
)

// fakeRound beschreibt das Verhalten eines Fetch-Aufrufs.
type fakeRound struct {
	grants []models.CanonicalGrant
	err    error
}

// fakeSource spielt pro Fetch-Aufruf die nächste Runde ab; die letzte
// Runde wiederholt sich.
type fakeSource struct {
	name   string
	rounds []fakeRound
	calls  int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, _ sources.FetchRequest, emit func(models.CanonicalGrant)) error {
	idx := f.calls
	if idx >= len(f.rounds) {
		idx = len(f.rounds) - 1
	}
	f.calls++
	round := f.rounds[idx]
	for _, g := range round.grants {
		emit(g)
	}
	return round.err
}

func newTestOrchestrator(t *testing.T, db *gorm.DB, order []string, srcs ...sources.Source) (*Orchestrator, *GormGrantStore) {
	t.Helper()
	store := NewGrantStore(db, zap.NewNop())
	gateway := NewUpsertGateway(store, "geheim", zap.NewNop())
	retry := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2.0, MaxDelay: 10 * time.Millisecond}
	return NewOrchestrator(db, gateway, store, zap.NewNop(), retry, 25, order, srcs...), store
}

func sourceGrant(source, sourceID string) models.CanonicalGrant {
	g := testGrant(sourceID)
	g.Source = source
	g.URL = "https://example.org/" + source + "/" + sourceID
	return g
}

func TestRunSourceSuccess(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	known := sourceGrant("ukri", "opp-known")
	src := &fakeSource{name: "ukri", rounds: []fakeRound{
		{grants: []models.CanonicalGrant{known, sourceGrant("ukri", "opp-new-1"), sourceGrant("ukri", "opp-new-2")}},
	}}
	orch, store := newTestOrchestrator(t, db, []string{"ukri"}, src)

	_, err := store.Upsert(ctx, known)
	require.NoError(t, err)

	res := orch.RunSource(ctx, "ukri", "run-1")
	require.Equal(t, models.ScrapeSuccess, res.Status)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, 3, res.Found)
	require.Equal(t, 2, res.Summary.Created)
	require.Equal(t, 1, res.Summary.Unchanged)
	require.Empty(t, res.Summary.Errors)

	var entry models.ScrapeLog
	require.NoError(t, db.Where("run_id = ?", "run-1").First(&entry).Error)
	require.Equal(t, models.ScrapeSuccess, entry.Status)
	require.Equal(t, "ukri", entry.Source)
	require.Equal(t, 3, entry.GrantsFound)
	require.Equal(t, 2, entry.GrantsCreated)
	require.Equal(t, 1, entry.GrantsUnchanged)
	require.Equal(t, 1, entry.Attempts)
	require.True(t, entry.Finalized())
	require.NotNil(t, entry.CompletedAt)
}

func TestRunSourceRetryThenSuccess(t *testing.T) {
	db := newTestDB(t)

	transient := sources.NewAdapterError("ukri", true, errors.New("status 503"))
	src := &fakeSource{name: "ukri", rounds: []fakeRound{
		{err: transient},
		{err: transient},
		{grants: []models.CanonicalGrant{sourceGrant("ukri", "opp-late")}},
	}}
	orch, _ := newTestOrchestrator(t, db, []string{"ukri"}, src)

	res := orch.RunSource(context.Background(), "ukri", "run-retry")
	require.Equal(t, models.ScrapeSuccess, res.Status)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, 1, res.Summary.Created)
	require.Equal(t, 3, src.calls)

	// genau ein Log-Eintrag für den gesamten Lauf inklusive Retries
	var count int64
	require.NoError(t, db.Model(&models.ScrapeLog{}).Where("run_id = ?", "run-retry").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRunSourceRetryableExhausted(t *testing.T) {
	db := newTestDB(t)

	src := &fakeSource{name: "ukri", rounds: []fakeRound{
		{err: sources.NewAdapterError("ukri", true, errors.New("status 503"))},
	}}
	orch, _ := newTestOrchestrator(t, db, []string{"ukri"}, src)

	res := orch.RunSource(context.Background(), "ukri", "run-fail")
	require.Equal(t, models.ScrapeError, res.Status)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, 3, src.calls)
	require.Contains(t, res.Error, "503")
}

func TestRunSourceNonRetryable(t *testing.T) {
	db := newTestDB(t)

	src := &fakeSource{name: "ukri", rounds: []fakeRound{
		{err: sources.NewAdapterError("ukri", false, errors.New("status 404"))},
	}}
	orch, _ := newTestOrchestrator(t, db, []string{"ukri"}, src)

	res := orch.RunSource(context.Background(), "ukri", "")
	require.Equal(t, models.ScrapeError, res.Status)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, 1, src.calls)
	require.NotEmpty(t, res.RunID)
}

func TestRunSourcePartialResultsBeforeError(t *testing.T) {
	db := newTestDB(t)

	src := &fakeSource{name: "ukri", rounds: []fakeRound{
		{
			grants: []models.CanonicalGrant{sourceGrant("ukri", "opp-early-1"), sourceGrant("ukri", "opp-early-2")},
			err:    sources.NewAdapterError("ukri", false, errors.New("seite 3 kaputt")),
		},
	}}
	orch, store := newTestOrchestrator(t, db, []string{"ukri"}, src)

	res := orch.RunSource(context.Background(), "ukri", "run-partial")
	require.Equal(t, models.ScrapeError, res.Status)
	require.Equal(t, 2, res.Summary.Created)

	// Teilergebnisse vor dem Fehler sind persistiert
	grants, err := store.ListBySource(context.Background(), "ukri")
	require.NoError(t, err)
	require.Len(t, grants, 2)
}

func TestRunSourceItemErrorsPartialStatus(t *testing.T) {
	db := newTestDB(t)

	broken := sourceGrant("ukri", "opp-broken")
	broken.Title = ""
	src := &fakeSource{name: "ukri", rounds: []fakeRound{
		{grants: []models.CanonicalGrant{sourceGrant("ukri", "opp-good"), broken}},
	}}
	orch, _ := newTestOrchestrator(t, db, []string{"ukri"}, src)

	res := orch.RunSource(context.Background(), "ukri", "run-items")
	require.Equal(t, models.ScrapePartial, res.Status)
	require.Equal(t, 1, res.Summary.Created)
	require.Len(t, res.Summary.Errors, 1)

	var entry models.ScrapeLog
	require.NoError(t, db.Where("run_id = ?", "run-items").First(&entry).Error)
	require.Equal(t, models.ScrapePartial, entry.Status)
	require.Equal(t, 1, entry.GrantsErrored)
}

func TestRunAllIsolation(t *testing.T) {
	db := newTestDB(t)

	failing := &fakeSource{name: "ukri", rounds: []fakeRound{
		{err: sources.NewAdapterError("ukri", false, errors.New("status 404"))},
	}}
	healthy := &fakeSource{name: "nihr", rounds: []fakeRound{
		{grants: []models.CanonicalGrant{sourceGrant("nihr", "opp-ok")}},
	}}
	orch, store := newTestOrchestrator(t, db, []string{"ukri", "nihr"}, failing, healthy)

	results := orch.RunAll(context.Background(), "run-all")
	require.Len(t, results, 2)
	require.Equal(t, "ukri", results[0].Source)
	require.Equal(t, models.ScrapeError, results[0].Status)
	require.Equal(t, "nihr", results[1].Source)
	require.Equal(t, models.ScrapeSuccess, results[1].Status)

	grants, err := store.ListBySource(context.Background(), "nihr")
	require.NoError(t, err)
	require.Len(t, grants, 1)
}

func TestRunSourceUnknown(t *testing.T) {
	db := newTestDB(t)
	orch, _ := newTestOrchestrator(t, db, nil)

	res := orch.RunSource(context.Background(), "gtr", "run-x")
	require.Equal(t, models.ScrapeError, res.Status)
	require.Contains(t, res.Error, "unbekannte Quelle")

	var count int64
	require.NoError(t, db.Model(&models.ScrapeLog{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestHasSource(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newTestDB(t), []string{"ukri"}, &fakeSource{name: "ukri"})
	require.True(t, orch.HasSource("ukri"))
	require.False(t, orch.HasSource("nihr"))
}
