package models

import "gorm.io/gorm"

// BrokerAccount is a user's account at the external brokerage. Orders are
// only accepted against accounts that belong to the requesting user and are
// active.
type BrokerAccount struct {
	gorm.Model
	UserID        uint   `gorm:"index;not null" json:"user_id"`
	Name          string `json:"name"`
	AccountNumber string `gorm:"uniqueIndex" json:"account_number"`
	Active        bool   `gorm:"default:true" json:"active"`
}
