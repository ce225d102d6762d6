package nihr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"grant-scout/config"
	"grant-scout/models"
	"grant-scout/sources"
)

func TestAbsoluteOpportunityURL(t *testing.T) {
	f := &Fetcher{}
	listing := "https://www.nihr.ac.uk/researchers/funding-opportunities/"

	cases := []struct {
		href string
		want string
	}{
		// relativer Opportunity-Link wird absolut
		{"/funding/ai-in-health/12345", "https://www.nihr.ac.uk/funding/ai-in-health/12345"},
		// absoluter Opportunity-Link bleibt wie er ist
		{"https://www.nihr.ac.uk/funding/digital-care/99", "https://www.nihr.ac.uk/funding/digital-care/99"},
		// Navigation, Paginierung und Fremddomains fallen raus
		{"#main-content", ""},
		{"", ""},
		{listing, ""},
		{"https://www.nihr.ac.uk/researchers/funding-opportunities/?page=2", ""},
		{"https://example.org/funding/other", ""},
		{"https://www.nihr.ac.uk/about-us/", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, f.absoluteOpportunityURL(tc.href, listing), tc.href)
	}
}

func TestFetchFailsWhenListingUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	cfg := &config.Config{
		NIHRBaseURL:   server.URL + "/funding-opportunities/",
		NIHRMaxPages:  2,
		FetchTimeout:  5 * time.Second,
		FetchThrottle: 0,
	}
	fetcher := &Fetcher{Config: cfg, Logger: zap.NewNop(), Client: server.Client()}

	err := fetcher.Fetch(context.Background(), sources.FetchRequest{}, func(models.CanonicalGrant) {
		t.Fatal("es darf nichts emittiert werden")
	})
	require.Error(t, err)
	require.False(t, sources.IsRetryable(err))
}
