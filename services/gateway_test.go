package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"grant-scout/models"
)

func TestAuthorize(t *testing.T) {
	gateway := NewUpsertGateway(nil, "geheim", zap.NewNop())

	require.True(t, gateway.Authorize("geheim"))
	require.False(t, gateway.Authorize("falsch"))
	require.False(t, gateway.Authorize(""))

	// ohne konfigurierten Key darf niemand durch
	open := NewUpsertGateway(nil, "", zap.NewNop())
	require.False(t, open.Authorize(""))
	require.False(t, open.Authorize("irgendwas"))
}

func TestApplyBatchIsolation(t *testing.T) {
	store := NewGrantStore(newTestDB(t), zap.NewNop())
	gateway := NewUpsertGateway(store, "geheim", zap.NewNop())

	broken := testGrant("opp-b")
	broken.Title = ""

	summary := gateway.ApplyBatch(context.Background(), []models.CanonicalGrant{
		testGrant("opp-a"),
		broken,
		testGrant("opp-c"),
	})

	require.Equal(t, 2, summary.Created)
	require.Equal(t, 0, summary.Updated)
	require.Equal(t, 0, summary.Unchanged)
	require.Len(t, summary.Errors, 1)
	require.Equal(t, "opp-b", summary.Errors[0].Identifier)
	require.Contains(t, summary.Errors[0].Reason, "title")

	var count int64
	require.NoError(t, store.DB.Model(&models.Grant{}).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestBatchSummaryMerge(t *testing.T) {
	a := BatchSummary{Created: 2, Updated: 1, Errors: []BatchError{{Identifier: "x"}}}
	a.Merge(BatchSummary{Created: 1, Unchanged: 3, Errors: []BatchError{{Identifier: "y"}}})

	require.Equal(t, 3, a.Created)
	require.Equal(t, 1, a.Updated)
	require.Equal(t, 3, a.Unchanged)
	require.Len(t, a.Errors, 2)
}
