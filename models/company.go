package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Company wird extern gepflegt (Companies-House-Import); der Kern liest
// nur die für das Matching nötigen Felder.
type Company struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CompanyNumber string `json:"company_number" gorm:"uniqueIndex;size:20"`
	Name          string `json:"name" gorm:"size:500"`

	// SICCodes: kommasepariert oder JSON-Array, beides kommt im Bestand vor.
	SICCodes    string `json:"sic_codes,omitempty" gorm:"type:text"`
	SizeBracket string `json:"size_bracket,omitempty" gorm:"size:50"`
	Locality    string `json:"locality,omitempty" gorm:"size:255"`
}

// SICCodesArray liefert die SIC-Codes als Slice, egal in welchem Format
// sie gespeichert sind.
func (c *Company) SICCodesArray() []string {
	raw := strings.TrimSpace(c.SICCodes)
	if raw == "" {
		return nil
	}
	var arr []string
	if err := json.Unmarshal([]byte(raw), &arr); err == nil {
		return arr
	}
	var out []string
	for _, code := range strings.Split(raw, ",") {
		if code = strings.TrimSpace(code); code != "" {
			out = append(out, code)
		}
	}
	return out
}
