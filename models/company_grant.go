package models

import "time"

// Status einer Company-Grant-Zuordnung. Proposed kommt vom Matching,
// confirmed/dismissed setzen Nutzer außerhalb des Kerns.
const (
	MatchProposed  = "proposed"
	MatchConfirmed = "confirmed"
	MatchDismissed = "dismissed"
)

// CompanyGrant verknüpft eine Firma mit einer Ausschreibung, inklusive
// Score aus dem externen Matching. (CompanyID, GrantID) ist eindeutig.
type CompanyGrant struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CompanyID uint `json:"company_id" gorm:"uniqueIndex:uniq_company_grant;index"`
	GrantID   uint `json:"grant_id" gorm:"uniqueIndex:uniq_company_grant;index"`

	Score       float64 `json:"score" gorm:"index"`
	Explanation string  `json:"explanation,omitempty" gorm:"type:text"`
	Status      string  `json:"status" gorm:"index;size:20;default:proposed"`
}
