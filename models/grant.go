package models

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Grant-Status, berechnet aus Opening-Date und Deadline.
const (
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusUnknown = "unknown"
)

// UnknownSentinel markiert optionale Felder, die die Quelle nicht liefert.
// Leere Strings werden nie stillschweigend durchgereicht.
const UnknownSentinel = "unknown"

// Grant repräsentiert eine Förderausschreibung im Bestand.
// Identität ist (Source, SourceID); Schreibzugriff ausschließlich über den GrantStore.
type Grant struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Source   string `json:"source" gorm:"index;uniqueIndex:uniq_source_sid;size:50"`
	SourceID string `json:"source_id" gorm:"uniqueIndex:uniq_source_sid;size:500"`
	Slug     string `json:"slug" gorm:"index;size:500"`

	Title         string     `json:"title" gorm:"size:500;index"`
	Summary       string     `json:"summary,omitempty" gorm:"type:text"`
	Description   string     `json:"description,omitempty" gorm:"type:text"`
	Funder        string     `json:"funder,omitempty" gorm:"size:255"`
	URL           string     `json:"url,omitempty" gorm:"size:1000;index"`
	FundingAmount string     `json:"funding_amount,omitempty" gorm:"size:255"`
	Deadline      *time.Time `json:"deadline,omitempty" gorm:"index"`
	OpeningDate   *time.Time `json:"opening_date,omitempty"`

	// RawData: das rohe Quell-Payload (Listing-URL, Detail-URL etc.)
	RawData []byte `json:"raw_data,omitempty" gorm:"type:jsonb"`

	Fingerprint   string     `json:"fingerprint" gorm:"size:64;index"`
	ScrapedAt     *time.Time `json:"scraped_at,omitempty"`
	FirstSeenAt   time.Time  `json:"first_seen_at"`
	LastChangedAt *time.Time `json:"last_changed_at,omitempty"`
}

// ComputedStatus berechnet den Status aus den Datumsfeldern, nie aus
// gespeicherten Werten (Original-Semantik: zukünftige Deadline = open).
func (g *Grant) ComputedStatus(now time.Time) string {
	if g.Deadline != nil {
		if g.Deadline.Before(now) {
			return StatusClosed
		}
		return StatusOpen
	}
	if g.OpeningDate != nil {
		return StatusOpen
	}
	return StatusUnknown
}

// CanonicalGrant ist die normalisierte, quellenunabhängige Form einer
// Ausschreibung, wie die Adapter sie liefern.
type CanonicalGrant struct {
	Source        string         `json:"source" binding:"required"`
	SourceID      string         `json:"source_id" binding:"required"`
	Title         string         `json:"title" binding:"required"`
	Summary       string         `json:"summary"`
	Description   string         `json:"description"`
	Funder        string         `json:"funder"`
	URL           string         `json:"url"`
	FundingAmount string         `json:"funding_amount"`
	Deadline      *time.Time     `json:"deadline"`
	OpeningDate   *time.Time     `json:"opening_date"`
	RawData       map[string]any `json:"raw_data"`
	ScrapedAt     time.Time      `json:"scraped_at"`
}

// Normalize trimmt Felder und setzt Sentinels für fehlende optionale Angaben.
func (c *CanonicalGrant) Normalize() {
	c.Source = strings.TrimSpace(strings.ToLower(c.Source))
	c.SourceID = strings.TrimSpace(c.SourceID)
	c.Title = strings.TrimSpace(c.Title)
	c.Summary = strings.TrimSpace(c.Summary)
	c.Description = strings.TrimSpace(c.Description)
	c.URL = strings.TrimSpace(c.URL)
	if c.Funder = strings.TrimSpace(c.Funder); c.Funder == "" {
		c.Funder = UnknownSentinel
	}
	if c.FundingAmount = strings.TrimSpace(c.FundingAmount); c.FundingAmount == "" {
		c.FundingAmount = UnknownSentinel
	}
}

// Fingerprint berechnet den SHA256-Hash über eine fest geordnete Feldliste.
// Die Reihenfolge ist im Code fixiert, damit der Hash unabhängig von der
// Feldreihenfolge der Quelle und stabil über Prozess-Neustarts ist.
func (c *CanonicalGrant) FingerprintHash() string {
	deadline := ""
	if c.Deadline != nil {
		deadline = c.Deadline.UTC().Format(time.RFC3339)
	}
	opening := ""
	if c.OpeningDate != nil {
		opening = c.OpeningDate.UTC().Format(time.RFC3339)
	}
	parts := []string{
		c.Source,
		c.SourceID,
		c.Title,
		c.Summary,
		c.Description,
		c.Funder,
		c.URL,
		c.FundingAmount,
		deadline,
		opening,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "||")))
	return hex.EncodeToString(sum[:])
}

var slugCleanRegex = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify erzeugt einen URL-tauglichen Slug aus Titel und Quelle.
// Diakritika werden über NFD-Zerlegung entfernt.
func Slugify(title, source string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	clean, _, err := transform.String(t, strings.ToLower(title+" "+source))
	if err != nil {
		clean = strings.ToLower(title + " " + source)
	}
	slug := slugCleanRegex.ReplaceAllString(clean, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 500 {
		slug = slug[:500]
	}
	return slug
}
