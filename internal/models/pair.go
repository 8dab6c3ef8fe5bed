package models

import "gorm.io/gorm"

// Pair is a trading pair users may place trades on.
type Pair struct {
	gorm.Model
	Symbol  string `gorm:"uniqueIndex;not null"`
	Enabled bool   `gorm:"default:true"`
}
