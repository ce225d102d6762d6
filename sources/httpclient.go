package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// browserTransport fügt jeder Anfrage browserartige Header hinzu, damit die
// Quellen uns nicht mit 403 abweisen.
type browserTransport struct {
	Transport http.RoundTripper
}

func (t *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
	return t.Transport.RoundTrip(req)
}

// NewHTTPClient erstellt den Client für alle Quell-Abfragen.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &browserTransport{
			Transport: http.DefaultTransport,
		},
	}
}

// transientStatus: HTTP-Status, die einen Wiederholungsversuch rechtfertigen.
func transientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retryPause ist die Basis-Pause zwischen Seiten-Versuchen.
var retryPause = 2 * time.Second

// FetchPage holt eine Seite mit kleinem Retry auf transiente Status.
// Netzwerkfehler und transiente Status nach dem letzten Versuch kommen als
// retryable AdapterError zurück, 4xx als permanent.
func FetchPage(ctx context.Context, client *http.Client, source, url, referer string) ([]byte, error) {
	const maxTries = 3
	var lastErr error
	for attempt := 0; attempt < maxTries; attempt++ {
		if attempt > 0 {
			// lineare Pause zwischen den Versuchen, wie im alten Scraper
			select {
			case <-ctx.Done():
				return nil, NewAdapterError(source, true, ctx.Err())
			case <-time.After(time.Duration(attempt) * retryPause):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, NewAdapterError(source, false, err)
		}
		if referer != "" {
			req.Header.Set("Referer", referer)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, NewAdapterError(source, true, ctx.Err())
			}
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				lastErr = err
				continue
			}
			return body, nil
		}

		resp.Body.Close()
		if transientStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("status %d für %s", resp.StatusCode, url)
			continue
		}
		return nil, NewAdapterError(source, false, fmt.Errorf("status %d für %s", resp.StatusCode, url))
	}
	return nil, NewAdapterError(source, true, fmt.Errorf("fetch nach %d Versuchen aufgegeben: %w", maxTries, lastErr))
}

// Throttle wartet die konfigurierte Pause zwischen zwei Quell-Anfragen,
// bricht aber bei Cancel sofort ab.
func Throttle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
