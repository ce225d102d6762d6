package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"grant-scout/models"
)

func scorerTestCompany() models.Company {
	return models.Company{
		CompanyNumber: "87654321",
		Name:          "Beta Health Ltd",
		SICCodes:      `["86900"]`,
		SizeBracket:   "micro",
		Locality:      "Leeds",
	}
}

func scorerTestGrants() []models.Grant {
	deadline := time.Date(2026, 11, 30, 23, 59, 59, 0, time.UTC)
	return []models.Grant{
		{ID: 1, Title: "Digital Health", Summary: "NHS pilots", Funder: "NIHR", FundingAmount: "£500,000", Deadline: &deadline},
		{ID: 2, Title: "Clean Maritime", Funder: "UKRI", FundingAmount: "unknown"},
	}
}

func TestHTTPScorerScore(t *testing.T) {
	var gotAuth string
	var gotBody scoreRequest
	var decodeErr error
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		decodeErr = json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(scoreResponse{Matches: []MatchScore{
			{GrantID: 1, Score: 0.85, Explanation: "sic code passt"},
			{GrantID: 2, Score: 0.05, Explanation: "falscher sektor"},
		}})
	}))
	defer server.Close()

	scorer := NewHTTPScorer(server.URL, "scorer-key", 5*time.Second, zap.NewNop())
	scores, err := scorer.Score(context.Background(), scorerTestCompany(), scorerTestGrants())
	require.NoError(t, err)
	require.Len(t, scores, 2)
	require.Equal(t, uint(1), scores[0].GrantID)
	require.InDelta(t, 0.85, scores[0].Score, 0.001)

	require.NoError(t, decodeErr)
	require.Equal(t, "Bearer scorer-key", gotAuth)
	require.Equal(t, "87654321", gotBody.Company.CompanyNumber)
	require.Equal(t, []string{"86900"}, gotBody.Company.SICCodes)
	require.Len(t, gotBody.Grants, 2)
	require.Equal(t, "2026-11-30T23:59:59Z", gotBody.Grants[0].Deadline)
	require.Empty(t, gotBody.Grants[1].Deadline)
}

func TestHTTPScorerTransientStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	scorer := NewHTTPScorer(server.URL, "", 5*time.Second, zap.NewNop())
	_, err := scorer.Score(context.Background(), scorerTestCompany(), scorerTestGrants())
	require.Error(t, err)
	require.True(t, IsScorerRetryable(err))
}

func TestHTTPScorerClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	scorer := NewHTTPScorer(server.URL, "", 5*time.Second, zap.NewNop())
	_, err := scorer.Score(context.Background(), scorerTestCompany(), scorerTestGrants())
	require.Error(t, err)
	require.False(t, IsScorerRetryable(err))
}

func TestHTTPScorerNetworkError(t *testing.T) {
	scorer := NewHTTPScorer("http://127.0.0.1:1", "", time.Second, zap.NewNop())
	_, err := scorer.Score(context.Background(), scorerTestCompany(), scorerTestGrants())
	require.Error(t, err)
	require.True(t, IsScorerRetryable(err))
}

func TestHTTPScorerBadResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("kein json"))
	}))
	defer server.Close()

	scorer := NewHTTPScorer(server.URL, "", 5*time.Second, zap.NewNop())
	_, err := scorer.Score(context.Background(), scorerTestCompany(), scorerTestGrants())
	require.Error(t, err)
	require.False(t, IsScorerRetryable(err))
}
