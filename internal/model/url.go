package model

import (
	"time"

	"gorm.io/gorm"
)

// Unknown is stored for request and geolocation fields that could not be determined
const Unknown = "Unknown"

// MaxTargetURLLength is the width of the target_url column
const MaxTargetURLLength = 2048

// URL represents a short link record
type URL struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	Key         string    `gorm:"uniqueIndex;type:varchar(32);not null" json:"key"`
	SecretKey   string    `gorm:"uniqueIndex;type:varchar(32);not null" json:"-"`
	TargetURL   string    `gorm:"type:varchar(2048);not null" json:"target_url"`
	IsActive    bool      `gorm:"not null;default:true;index" json:"is_active"`
	Clicks      uint64    `gorm:"not null;default:0" json:"clicks"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	ClickEvents []Click   `gorm:"foreignKey:URLKey;references:Key" json:"click_events"`
}

// TableName specifies the table name for URL
func (URL) TableName() string {
	return "urls"
}

// Click represents one successful redirect. Rows are append-only.
type Click struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"-"`
	URLKey    string    `gorm:"index;type:varchar(32);not null" json:"-"`
	Timestamp time.Time `gorm:"autoCreateTime;index" json:"timestamp"`
	ClientIP  string    `gorm:"type:varchar(64);not null;default:Unknown" json:"client_ip"`
	UserAgent string    `gorm:"type:varchar(512);not null;default:Unknown" json:"user_agent"`
	Country   string    `gorm:"type:varchar(128);not null;default:Unknown" json:"country"`
	City      string    `gorm:"type:varchar(128);not null;default:Unknown" json:"city"`
}

// TableName specifies the table name for Click
func (Click) TableName() string {
	return "clicks"
}

// BeforeCreate fills every unset descriptive field with Unknown
func (c *Click) BeforeCreate(tx *gorm.DB) error {
	for _, field := range []*string{&c.ClientIP, &c.UserAgent, &c.Country, &c.City} {
		if *field == "" {
			*field = Unknown
		}
	}
	return nil
}
