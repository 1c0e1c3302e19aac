package models

import "gorm.io/gorm"

// Instrument represents a tradable security.
type Instrument struct {
	gorm.Model
	Symbol   string `gorm:"uniqueIndex;not null" json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Enabled  bool   `gorm:"default:true" json:"enabled"`
}
