package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Market is a commercial region with its own currency and locale defaults.
type Market struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	Code            string       `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Name            string       `gorm:"type:text;not null" json:"name"`
	DefaultCurrency string       `gorm:"type:text;not null" json:"default_currency"`
	DefaultLocale   string       `gorm:"type:text;not null" json:"default_locale"`
	IsActive        bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (Market) TableName() string { return "markets" }

// Site is a storefront, optionally tied to one market.
type Site struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	MarketID  *snowflake.ID `json:"market_id,omitempty"`
	Code      string        `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Name      string        `gorm:"type:text;not null" json:"name"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time     `gorm:"not null" json:"updated_at"`
}

func (Site) TableName() string { return "sites" }

// Channel is a sales channel such as web, app or pos.
type Channel struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Code      string       `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (Channel) TableName() string { return "channels" }
