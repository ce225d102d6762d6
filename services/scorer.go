package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"grant-scout/models"
)

// MatchScore ist das Ergebnis der externen Matching-Engine für genau
// einen Kandidaten-Grant.
type MatchScore struct {
	GrantID     uint    `json:"grant_id"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

// Scorer ist die externe Matching-Engine. Ihr Bewertungsmodell ist für den
// Kern opak; der Kern verantwortet nur das Batching.
type Scorer interface {
	Score(ctx context.Context, company models.Company, grants []models.Grant) ([]MatchScore, error)
}

// HTTPScorer ruft die Matching-Engine über deren HTTP-API auf.
type HTTPScorer struct {
	URL    string
	APIKey string
	Client *http.Client
	Logger *zap.Logger
}

// NewHTTPScorer erstellt den Scorer-Client.
func NewHTTPScorer(url, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPScorer {
	return &HTTPScorer{
		URL:    url,
		APIKey: apiKey,
		Client: &http.Client{Timeout: timeout},
		Logger: logger,
	}
}

type scoreRequest struct {
	Company struct {
		CompanyNumber string   `json:"company_number"`
		Name          string   `json:"name"`
		SICCodes      []string `json:"sic_codes"`
		SizeBracket   string   `json:"size_bracket"`
		Locality      string   `json:"locality"`
	} `json:"company"`
	Grants []scoreGrant `json:"grants"`
}

type scoreGrant struct {
	ID            uint   `json:"id"`
	Title         string `json:"title"`
	Summary       string `json:"summary"`
	Funder        string `json:"funder"`
	FundingAmount string `json:"funding_amount"`
	Deadline      string `json:"deadline,omitempty"`
}

type scoreResponse struct {
	Matches []MatchScore `json:"matches"`
}

// Score schickt ein Workpackage (eine Firma, N Grants) an die Engine.
// Timeouts und 5xx/429 kommen als retryable ScorerError zurück.
func (s *HTTPScorer) Score(ctx context.Context, company models.Company, grants []models.Grant) ([]MatchScore, error) {
	var reqBody scoreRequest
	reqBody.Company.CompanyNumber = company.CompanyNumber
	reqBody.Company.Name = company.Name
	reqBody.Company.SICCodes = company.SICCodesArray()
	reqBody.Company.SizeBracket = company.SizeBracket
	reqBody.Company.Locality = company.Locality
	for _, g := range grants {
		sg := scoreGrant{
			ID:            g.ID,
			Title:         g.Title,
			Summary:       g.Summary,
			Funder:        g.Funder,
			FundingAmount: g.FundingAmount,
		}
		if g.Deadline != nil {
			sg.Deadline = g.Deadline.UTC().Format(time.RFC3339)
		}
		reqBody.Grants = append(reqBody.Grants, sg)
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ScorerError{Retryable: false, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, &ScorerError{Retryable: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		// Netzwerkfehler und Timeouts gelten als wiederholbar.
		return nil, &ScorerError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := transientStatusCode(resp.StatusCode)
		return nil, &ScorerError{Retryable: retryable, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var result scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ScorerError{Retryable: false, Err: fmt.Errorf("antwort nicht lesbar: %w", err)}
	}
	return result.Matches, nil
}

func transientStatusCode(code int) bool {
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
