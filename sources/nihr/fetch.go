package nihr

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

// Fetcher kapselt das Scraping der NIHR-Funding-Seiten.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	Client *http.Client
}

// NewFetcher erstellt eine neue Instanz des NIHR-Fetchers.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config: cfg,
		Logger: logger,
		Client: sources.NewHTTPClient(cfg.FetchTimeout),
	}
}

// Name gibt den eindeutigen Quell-Namen zurück.
func (f *Fetcher) Name() string {
	return "nihr"
}

// Fetch paginiert über die NIHR-Listing-Seite (?page=N, nullbasiert) und
// holt anschließend die Detail-Seiten.
func (f *Fetcher) Fetch(ctx context.Context, req sources.FetchRequest, emit func(models.CanonicalGrant)) error {
	log := f.Logger.With(zap.String("source", f.Name()))
	listingURL := f.Config.NIHRBaseURL
	log.Info("Starte NIHR-Scrape", zap.String("listing_url", listingURL), zap.Int("known", len(req.Known)))

	seen := make(map[string]bool)
	var listings []sources.Link

	for page := 1; page <= f.Config.NIHRMaxPages; page++ {
		pageURL := listingURL
		if page > 1 {
			pageURL = fmt.Sprintf("%s?page=%d", listingURL, page-1)
		}

		body, err := sources.FetchPage(ctx, f.Client, f.Name(), pageURL, listingURL)
		if err != nil {
			if page == 1 {
				return err
			}
			log.Warn("NIHR-Listing-Seite nicht abrufbar, beende Paginierung",
				zap.Int("page", page), zap.Error(err))
			break
		}

		newOnPage := 0
		for _, link := range sources.ExtractLinks(string(body), "") {
			href := f.absoluteOpportunityURL(link.Href, listingURL)
			if href == "" || seen[href] {
				continue
			}
			title := strings.TrimSpace(link.Text)
			if len(title) <= 5 {
				continue
			}
			seen[href] = true
			listings = append(listings, sources.Link{Href: href, Text: title})
			newOnPage++
		}

		if newOnPage == 0 {
			log.Debug("Keine neuen Einträge auf NIHR-Seite, Paginierung beendet", zap.Int("page", page))
			break
		}
		if err := sources.Throttle(ctx, f.Config.FetchThrottle); err != nil {
			return sources.NewAdapterError(f.Name(), true, err)
		}
	}

	log.Info("NIHR-Listing abgeschlossen", zap.Int("opportunities", len(listings)))

	for _, listing := range listings {
		if err := sources.Throttle(ctx, f.Config.FetchThrottle); err != nil {
			return sources.NewAdapterError(f.Name(), true, err)
		}

		grant, err := f.fetchDetail(ctx, listing, listingURL)
		if err != nil {
			log.Warn("NIHR-Detail-Seite fehlgeschlagen, überspringe",
				zap.String("url", listing.Href), zap.Error(err))
			continue
		}
		emit(*grant)
	}

	return nil
}

// absoluteOpportunityURL filtert Navigations- und Paginierungs-Links heraus
// und macht relative Opportunity-Links absolut.
func (f *Fetcher) absoluteOpportunityURL(href, listingURL string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	if strings.HasPrefix(href, "/") {
		href = "https://www.nihr.ac.uk" + href
	}
	if !strings.HasPrefix(href, "http") {
		return ""
	}
	if !strings.Contains(href, "nihr.ac.uk") {
		return ""
	}
	if href == listingURL || strings.Contains(href, "?page=") || strings.Contains(href, "/funding-opportunities") {
		return ""
	}
	// Opportunity-Detailseiten liegen unter /funding/…
	if !strings.Contains(href, "/funding/") {
		return ""
	}
	return href
}

// fetchDetail lädt eine Funding-Opportunity-Seite und normalisiert sie.
func (f *Fetcher) fetchDetail(ctx context.Context, listing sources.Link, listingURL string) (*models.CanonicalGrant, error) {
	body, err := sources.FetchPage(ctx, f.Client, f.Name(), listing.Href, listingURL)
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
		Funder:        "NIHR",
		URL:           listing.Href,
		FundingAmount: sources.ExtractFundingAmount(pageText),
		Deadline:      sources.ExtractDeadline(pageText),
		RawData: map[string]any{
			"listing_url": listingURL,
			"scraped_url": listing.Href,
		},
		ScrapedAt: time.Now().UTC(),
	}
	grant.Normalize()
	return &grant, nil
}
