package entities

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ContentType string

const (
	ContentVideo ContentType = "video"
	ContentImage ContentType = "image"
	ContentAudio ContentType = "audio"
)

func (t ContentType) Valid() bool {
	return t == ContentVideo || t == ContentImage || t == ContentAudio
}

// ContentItem is a piece of media assigned to exactly one device.
type ContentItem struct {
	ID              string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	DeviceID        string         `gorm:"index;type:varchar(128)" json:"device_id"`
	Title           string         `json:"title"`
	Type            ContentType    `gorm:"type:varchar(16)" json:"type"`
	URL             string         `gorm:"type:text" json:"url"`
	DurationSeconds int            `json:"duration_seconds"`
	Priority        int            `gorm:"index" json:"priority"`
	ActiveFrom      time.Time      `gorm:"index" json:"active_from"`
	ActiveUntil     *time.Time     `json:"active_until,omitempty"`
	Enabled         bool           `json:"enabled"`
	PlayCount       int64          `gorm:"not null;default:0" json:"play_count"`
	LastPlayedAt    *time.Time     `json:"last_played_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

func (c *ContentItem) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return
}

// EligibleAt reports whether the item should be rendered at now.
func (c *ContentItem) EligibleAt(now time.Time) bool {
	if !c.Enabled || c.ActiveFrom.After(now) {
		return false
	}
	return c.ActiveUntil == nil || c.ActiveUntil.After(now)
}
