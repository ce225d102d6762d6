package catapult

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"grant-scout/config"
	"grant-scout/models"
	"grant-scout/sources"
)

// Fetcher sammelt Ausschreibungen über mehrere Catapult-Netzwerk-Seiten.
// Die Seiten haben keine gemeinsame Struktur; der Adapter ist bewusst
// tolerant: eine kaputte Seite bricht nicht den ganzen Lauf ab.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	Client *http.Client
}

// NewFetcher erstellt eine neue Instanz des Catapult-Fetchers.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config: cfg,
		Logger: logger,
		Client: sources.NewHTTPClient(cfg.FetchTimeout),
	}
}

// Name gibt den eindeutigen Quell-Namen zurück.
func (f *Fetcher) Name() string {
	return "catapult"
}

// Fetch läuft über alle konfigurierten Catapult-Seiten. Erst wenn keine
// einzige Seite Ergebnisse liefert, gilt der Lauf als fehlgeschlagen.
func (f *Fetcher) Fetch(ctx context.Context, req sources.FetchRequest, emit func(models.CanonicalGrant)) error {
	log := f.Logger.With(zap.String("source", f.Name()))
	siteList := f.Config.CatapultSiteList()
	log.Info("Starte Catapult-Scrape", zap.Int("sites", len(siteList)), zap.Int("known", len(req.Known)))

	var siteErrs []string
	okSites := 0

	for _, site := range siteList {
		if err := f.fetchSite(ctx, site, emit); err != nil {
			if ctx.Err() != nil {
				return sources.NewAdapterError(f.Name(), true, ctx.Err())
			}
			log.Warn("Catapult-Seite fehlgeschlagen, fahre mit nächster fort",
				zap.String("site", site), zap.Error(err))
			siteErrs = append(siteErrs, fmt.Sprintf("%s: %v", site, err))
			continue
		}
		okSites++
		if err := sources.Throttle(ctx, f.Config.FetchThrottle); err != nil {
			return sources.NewAdapterError(f.Name(), true, err)
		}
	}

	if okSites == 0 && len(siteErrs) > 0 {
		return sources.NewAdapterError(f.Name(), true,
			fmt.Errorf("alle Catapult-Seiten fehlgeschlagen: %s", strings.Join(siteErrs, "; ")))
	}
	return nil
}

// fetchSite verarbeitet eine einzelne Catapult-Listing-Seite.
func (f *Fetcher) fetchSite(ctx context.Context, site string, emit func(models.CanonicalGrant)) error {
	body, err := sources.FetchPage(ctx, f.Client, f.Name(), site, "")
	if err != nil {
		return err
	}

	parsed, err := url.Parse(site)
	if err != nil {
		return err
	}
	host := parsed.Scheme + "://" + parsed.Host
	funder := catapultFunder(parsed.Host)

	seen := make(map[string]bool)
	for _, link := range sources.ExtractLinks(string(body), "") {
		href := strings.TrimSpace(link.Href)
		if strings.HasPrefix(href, "/") {
			href = host + href
		}
		if !strings.HasPrefix(href, "http") || !strings.Contains(href, parsed.Host) {
			continue
		}
		// Nur Detail-Seiten unterhalb des Opportunity-Listings
		if !strings.Contains(strings.ToLower(href), "opportunit") || href == site {
			continue
		}
		title := strings.TrimSpace(link.Text)
		if seen[href] || len(title) <= 5 {
			continue
		}
		seen[href] = true

		if err := sources.Throttle(ctx, f.Config.FetchThrottle); err != nil {
			return err
		}
		detail, err := sources.FetchPage(ctx, f.Client, f.Name(), href, site)
		if err != nil {
			f.Logger.Warn("Catapult-Detail-Seite fehlgeschlagen, überspringe",
				zap.String("url", href), zap.Error(err))
			continue
		}

		htmlSrc := string(detail)
		description := sources.ExtractDescription(htmlSrc)
		pageText := sources.StripTags(htmlSrc)

		grant := models.CanonicalGrant{
			Source:        f.Name(),
			SourceID:      href,
			Title:         title,
			Summary:       sources.ExtractSummary(htmlSrc, description),
			Description:   description,
			Funder:        funder,
			URL:           href,
			FundingAmount: sources.ExtractFundingAmount(pageText),
			Deadline:      sources.ExtractDeadline(pageText),
			RawData: map[string]any{
				"listing_url": site,
				"scraped_url": href,
			},
			ScrapedAt: time.Now().UTC(),
		}
		grant.Normalize()
		emit(grant)
	}

	return nil
}

// catapultFunder leitet den Funder-Namen aus dem Hostnamen ab.
func catapultFunder(host string) string {
	host = strings.TrimPrefix(host, "www.")
	switch {
	case strings.HasPrefix(host, "cp."):
		return "Connected Places Catapult"
	case strings.HasPrefix(host, "hvm."):
		return "HVM Catapult"
	default:
		return "Catapult Network"
	}
}
