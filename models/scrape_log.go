package models

import "time"

// Status-Werte eines Scrape-Laufs.
const (
	ScrapeRunning   = "running"
	ScrapeSuccess   = "success"
	ScrapePartial   = "partial"
	ScrapeError     = "error"
	ScrapeCancelled = "cancelled"
)

// ScrapeLog ist der Append-only-Eintrag für genau einen Quell-Lauf des
// Orchestrators. Nach Finalisierung wird der Eintrag nicht mehr verändert.
type ScrapeLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RunID  string `json:"run_id" gorm:"index;size:36"`
	Source string `json:"source" gorm:"index;size:50"`
	Status string `json:"status" gorm:"index;size:20;default:running"`

	StartedAt   time.Time  `json:"started_at" gorm:"index"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	GrantsFound     int `json:"grants_found"`
	GrantsCreated   int `json:"grants_created"`
	GrantsUpdated   int `json:"grants_updated"`
	GrantsUnchanged int `json:"grants_unchanged"`
	GrantsErrored   int `json:"grants_errored"`

	// Attempts zählt die Versuche inklusive des ersten (1 = kein Retry).
	Attempts     int    `json:"attempts"`
	ErrorMessage string `json:"error_message,omitempty" gorm:"type:text"`
}

// DurationSeconds liefert die Laufzeit in Sekunden, sofern abgeschlossen.
func (s *ScrapeLog) DurationSeconds() float64 {
	if s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt).Seconds()
}

// Finalized meldet, ob der Eintrag einen Endzustand erreicht hat.
func (s *ScrapeLog) Finalized() bool {
	return s.Status != ScrapeRunning
}
