package models

import (
	"encoding/json"
	"time"
)

// Status eines Match-Workpackage.
const (
	WorkpackagePending    = "pending"
	WorkpackageInProgress = "in_progress"
	WorkpackageCompleted  = "completed"
	WorkpackageFailed     = "failed"
)

// GrantMatchWorkpackage ist eine begrenzte Einheit Matching-Arbeit:
// eine Firma gegen eine geordnete Liste von Kandidaten-Grants.
type GrantMatchWorkpackage struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CompanyID uint   `json:"company_id" gorm:"index"`
	Status    string `json:"status" gorm:"index;size:20;default:pending"`

	// GrantIDs: geordnete Kandidatenliste als JSON-Array.
	GrantIDs []byte `json:"grant_ids" gorm:"type:jsonb"`

	Attempts       int    `json:"attempts"`
	MatchesWritten int    `json:"matches_written"`
	ErrorMessage   string `json:"error_message,omitempty" gorm:"type:text"`

	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// SetGrantIDs serialisiert die Kandidatenliste.
func (w *GrantMatchWorkpackage) SetGrantIDs(ids []uint) {
	b, _ := json.Marshal(ids)
	w.GrantIDs = b
}

// GrantIDList deserialisiert die Kandidatenliste.
func (w *GrantMatchWorkpackage) GrantIDList() []uint {
	var ids []uint
	_ = json.Unmarshal(w.GrantIDs, &ids)
	return ids
}
