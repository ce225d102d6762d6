package sources

import (
	"html"
	"regexp"
	"strings"
	"time"
)

// Die Quell-Seiten liefern HTML ohne stabile API; wie im alten Scraper
// arbeiten wir mit Regexen statt einem DOM-Parser.
var (
	tagRegex      = regexp.MustCompile(`(?s)<[^>]*>`)
	scriptRegex   = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
	anchorRegex   = regexp.MustCompile(`(?s)<a\b[^>]*>.*?</a>`)
	hrefRegex     = regexp.MustCompile(`href="([^"]+)"`)
	classRegex    = regexp.MustCompile(`class="([^"]*)"`)
	metaDescRegex = regexp.MustCompile(`(?s)<meta[^>]+name="description"[^>]+content="([^"]*)"`)
	mainRegex     = regexp.MustCompile(`(?s)<main[^>]*>(.*?)</main>`)
	articleRegex  = regexp.MustCompile(`(?s)<article[^>]*>(.*?)</article>`)

	fundingRegex = regexp.MustCompile(`£[\d,]+(?:\.\d+)?(?:\s*(?:million|m|k))?`)

	deadlinePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)deadline[:\s]+(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`),
		regexp.MustCompile(`(?i)closing[:\s]+(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`),
		regexp.MustCompile(`(?i)closes?[:\s]+(\d{1,2}\s+\w+\s+\d{4})`),
		regexp.MustCompile(`(?i)closing date[:\s]+(\d{1,2}\s+\w+\s+\d{4})`),
		regexp.MustCompile(`(\d{1,2}\s+(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{4})`),
	}

	whitespaceRegex = regexp.MustCompile(`[ \t]+`)
	blankLineRegex  = regexp.MustCompile(`\n{3,}`)
)

// Link ist ein extrahierter Ausschreibungs-Link mit Anzeigetext.
type Link struct {
	Href string
	Text string
}

// ExtractLinks zieht alle Anker aus dem HTML. Ist class nicht leer, werden
// nur Anker mit dieser CSS-Klasse berücksichtigt.
func ExtractLinks(htmlSrc, class string) []Link {
	var out []Link
	for _, anchor := range anchorRegex.FindAllString(htmlSrc, -1) {
		if class != "" {
			cm := classRegex.FindStringSubmatch(anchor)
			if cm == nil || !strings.Contains(cm[1], class) {
				continue
			}
		}
		hm := hrefRegex.FindStringSubmatch(anchor)
		if hm == nil {
			continue
		}
		out = append(out, Link{
			Href: html.UnescapeString(hm[1]),
			Text: StripTags(anchor),
		})
	}
	return out
}

// StripTags entfernt Markup und normalisiert Whitespace.
func StripTags(src string) string {
	s := scriptRegex.ReplaceAllString(src, " ")
	s = tagRegex.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = whitespaceRegex.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	s = strings.Join(lines, "\n")
	s = blankLineRegex.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// ExtractDescription sucht den Hauptinhalt einer Detail-Seite.
func ExtractDescription(htmlSrc string) string {
	if m := mainRegex.FindStringSubmatch(htmlSrc); m != nil {
		return StripTags(m[1])
	}
	if m := articleRegex.FindStringSubmatch(htmlSrc); m != nil {
		return StripTags(m[1])
	}
	return StripTags(htmlSrc)
}

// ExtractSummary nutzt die Meta-Description, sonst die ersten 200 Zeichen
// der Beschreibung.
func ExtractSummary(htmlSrc, description string) string {
	if m := metaDescRegex.FindStringSubmatch(htmlSrc); m != nil && strings.TrimSpace(m[1]) != "" {
		return strings.TrimSpace(html.UnescapeString(m[1]))
	}
	runes := []rune(description)
	if len(runes) > 200 {
		return string(runes[:200]) + "..."
	}
	return description
}

// ExtractDeadline sucht ein Deadline-Datum im Seitentext.
func ExtractDeadline(pageText string) *time.Time {
	for _, pattern := range deadlinePatterns {
		if m := pattern.FindStringSubmatch(pageText); m != nil {
			if t := ParseDate(m[1]); t != nil {
				return t
			}
		}
	}
	return nil
}

// ExtractFundingAmount sucht einen Förderbetrag im Seitentext.
func ExtractFundingAmount(pageText string) string {
	return fundingRegex.FindString(pageText)
}

var dateLayouts = []string{
	"2 January 2006",
	"02 January 2006",
	"2/1/2006",
	"02/01/2006",
	"2-1-2006",
	"02-01-2006",
	"2006-01-02",
	"2/1/06",
}

// ParseDate versucht die in den Quellen üblichen britischen Datumsformate.
// Deadlines werden auf Tagesende gelegt, damit der Stichtag selbst noch
// als offen zählt.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
			return &t
		}
	}
	return nil
}
