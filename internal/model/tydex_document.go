package model

import (
	"time"

	"gorm.io/gorm"
)

// TydexDocument is the latest rendering of a Tydex file. Regenerating a
// document of the same name replaces the row.
type TydexDocument struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ProjectID string `gorm:"type:varchar(100);not null;uniqueIndex:idx_tydex_key,priority:1" json:"project_id"`
	Protocol  string `gorm:"type:varchar(100);not null;uniqueIndex:idx_tydex_key,priority:2" json:"protocol"`
	Name      string `gorm:"type:varchar(200);not null;uniqueIndex:idx_tydex_key,priority:3" json:"name"`

	RunNumber int    `gorm:"index" json:"run_number"`
	Job       string `gorm:"type:varchar(200)" json:"job"`
	Template  string `gorm:"type:varchar(200)" json:"template"`
	Path      string `gorm:"type:varchar(500)" json:"path"`
	Rows      int    `json:"rows"`
	// Unresolved is the comma-separated list of channels left at their template values.
	Unresolved string `gorm:"type:varchar(500)" json:"unresolved"`
	Content    string `gorm:"type:longtext" json:"-"`
}
