package catapult

import (
	"context"
	"fmt"
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

func newTestFetcher(sites string) *Fetcher {
	cfg := &config.Config{
		CatapultSites: sites,
		FetchTimeout:  5 * time.Second,
		FetchThrottle: 0,
	}
	return &Fetcher{Config: cfg, Logger: zap.NewNop(), Client: http.DefaultClient}
}

func newCatapultServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/opportunities/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/opportunities/":
			fmt.Fprintf(w, `<html><body>
<a href="%s/opportunities/drone-trial/">Drone Corridor Trial</a>
<a href="/opportunities/port-logistics/">Port Logistics Accelerator</a>
<a href="https://example.org/unrelated/">External link</a>
<a href="%s/news/some-article/">Some news article</a>
</body></html>`, server.URL, server.URL)
		case "/opportunities/drone-trial/":
			fmt.Fprint(w, `<html><body><main><p>Flight trials with £750,000 funding. Closing date: 15 October 2026</p></main></body></html>`)
		case "/opportunities/port-logistics/":
			fmt.Fprint(w, `<html><body><main><p>Accelerator for port logistics startups.</p></main></body></html>`)
		default:
			http.NotFound(w, r)
		}
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchEmitsGrantsFromSite(t *testing.T) {
	server := newCatapultServer(t)
	fetcher := newTestFetcher(server.URL + "/opportunities/")

	var got []models.CanonicalGrant
	err := fetcher.Fetch(context.Background(), sources.FetchRequest{}, func(g models.CanonicalGrant) {
		got = append(got, g)
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	require.Equal(t, "catapult", first.Source)
	require.Equal(t, "Drone Corridor Trial", first.Title)
	require.Equal(t, "Catapult Network", first.Funder)
	require.Equal(t, "£750,000", first.FundingAmount)
	require.NotNil(t, first.Deadline)

	second := got[1]
	require.Equal(t, "Port Logistics Accelerator", second.Title)
	require.Contains(t, second.Description, "port logistics")
}

func TestFetchToleratesSingleSiteFailure(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer broken.Close()
	healthy := newCatapultServer(t)

	fetcher := newTestFetcher(broken.URL + "/opportunities/," + healthy.URL + "/opportunities/")

	var got []models.CanonicalGrant
	err := fetcher.Fetch(context.Background(), sources.FetchRequest{}, func(g models.CanonicalGrant) {
		got = append(got, g)
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestFetchFailsWhenAllSitesDown(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer broken.Close()

	fetcher := newTestFetcher(broken.URL + "/opportunities/")
	err := fetcher.Fetch(context.Background(), sources.FetchRequest{}, func(models.CanonicalGrant) {
		t.Fatal("es darf nichts emittiert werden")
	})
	require.Error(t, err)
	require.True(t, sources.IsRetryable(err))
}

func TestCatapultFunder(t *testing.T) {
	require.Equal(t, "Connected Places Catapult", catapultFunder("cp.catapult.org.uk"))
	require.Equal(t, "HVM Catapult", catapultFunder("www.hvm.catapult.org.uk"))
	require.Equal(t, "Catapult Network", catapultFunder("energy.catapult.org.uk"))
}
