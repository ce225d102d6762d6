package ukri

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"grant-scout/config"
	"grant-scout/models"
	"grant-scout/sources"
)

// Fetcher kapselt das Scraping der UKRI-Opportunity-Seiten.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	Client *http.Client
}

// NewFetcher erstellt eine neue Instanz des UKRI-Fetchers.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config: cfg,
		Logger: logger,
		Client: sources.NewHTTPClient(cfg.FetchTimeout),
	}
}

// Name gibt den eindeutigen Quell-Namen zurück.
func (f *Fetcher) Name() string {
	return "ukri"
}

// Fetch sammelt erst alle Opportunity-URLs über die Paginierung, dann die
// Details je Ausschreibung. Teilergebnisse werden vor einem Fehler emittiert.
func (f *Fetcher) Fetch(ctx context.Context, req sources.FetchRequest, emit func(models.CanonicalGrant)) error {
	log := f.Logger.With(zap.String("source", f.Name()))
	baseURL := f.Config.UKRIBaseURL
	log.Info("Starte UKRI-Scrape", zap.String("base_url", baseURL), zap.Int("known", len(req.Known)))

	seen := make(map[string]bool)
	var listings []sources.Link

	for page := 1; page <= f.Config.UKRIMaxPages; page++ {
		pageURL := baseURL
		if page > 1 {
			pageURL = fmt.Sprintf("%spage/%d/", baseURL, page)
		}

		body, err := sources.FetchPage(ctx, f.Client, f.Name(), pageURL, baseURL)
		if err != nil {
			// Seite 1 muss funktionieren, sonst ist der Lauf wertlos.
			if page == 1 {
				return err
			}
			log.Warn("Listing-Seite nicht abrufbar, beende Paginierung",
				zap.Int("page", page), zap.Error(err))
			break
		}

		newOnPage := 0
		for _, link := range sources.ExtractLinks(string(body), "ukri-funding-opp__link") {
			href := link.Href
			if strings.HasPrefix(href, "/") {
				href = "https://www.ukri.org" + href
			} else if !strings.HasPrefix(href, "http") {
				continue
			}
			// Paginierungs-Links und Nicht-Opportunity-Seiten überspringen
			if strings.Contains(href, "/page/") || href == baseURL || !strings.Contains(href, "/opportunity/") {
				continue
			}
			if seen[href] || len(link.Text) <= 5 {
				continue
			}
			seen[href] = true
			listings = append(listings, sources.Link{Href: href, Text: link.Text})
			newOnPage++
		}

		if newOnPage == 0 {
			log.Debug("Keine neuen Opportunities auf Seite, Paginierung beendet", zap.Int("page", page))
			break
		}
		if err := sources.Throttle(ctx, f.Config.FetchThrottle); err != nil {
			return sources.NewAdapterError(f.Name(), true, err)
		}
	}

	log.Info("UKRI-Listing abgeschlossen", zap.Int("opportunities", len(listings)))

	for idx, listing := range listings {
		if err := sources.Throttle(ctx, f.Config.FetchThrottle); err != nil {
			return sources.NewAdapterError(f.Name(), true, err)
		}

		grant, err := f.fetchDetail(ctx, listing, baseURL)
		if err != nil {
			// Einzelne Detail-Seite blockiert nicht den ganzen Lauf.
			log.Warn("Detail-Seite fehlgeschlagen, überspringe",
				zap.String("url", listing.Href), zap.Error(err))
			continue
		}
		emit(*grant)

		if (idx+1)%10 == 0 {
			log.Debug("UKRI-Fortschritt", zap.Int("processed", idx+1), zap.Int("total", len(listings)))
		}
	}

	return nil
}

// fetchDetail lädt eine Opportunity-Seite und normalisiert sie.
func (f *Fetcher) fetchDetail(ctx context.Context, listing sources.Link, baseURL string) (*models.CanonicalGrant, error) {
	body, err := sources.FetchPage(ctx, f.Client, f.Name(), listing.Href, baseURL)
	if err != nil {
		return nil, err
	}

	htmlSrc := string(body)
	description := sources.ExtractDescription(htmlSrc)
	pageText := sources.StripTags(htmlSrc)

	grant := models.CanonicalGrant{
		Source:        f.Name(),
		SourceID:      listing.Href,
		Title:         listing.Text,
		Summary:       sources.ExtractSummary(htmlSrc, description),
		Description:   description,
		Funder:        "UKRI",
		URL:           listing.Href,
		FundingAmount: sources.ExtractFundingAmount(pageText),
		Deadline:      sources.ExtractDeadline(pageText),
		RawData: map[string]any{
			"listing_url": baseURL,
			"scraped_url": listing.Href,
		},
		ScrapedAt: time.Now().UTC(),
	}
	grant.Normalize()
	return &grant, nil
}
