package entities

import (
	"time"

	"gorm.io/gorm"
)

// DeclaredState is the state a device last announced (or that a command
// nominally moved it to).
type DeclaredState string

const (
	StateOnline    DeclaredState = "ONLINE"
	StateOffline   DeclaredState = "OFFLINE"
	StateRebooting DeclaredState = "REBOOTING"
	StateUpdating  DeclaredState = "UPDATING"
	StateRetired   DeclaredState = "RETIRED"
)

// Valid reports whether s is one of the known declared states.
func (s DeclaredState) Valid() bool {
	switch s {
	case StateOnline, StateOffline, StateRebooting, StateUpdating, StateRetired:
		return true
	}
	return false
}

// PlaybackState is the desired playback flag toggled by PLAY/PAUSE/STOP.
type PlaybackState string

const (
	PlaybackPlaying PlaybackState = "PLAYING"
	PlaybackPaused  PlaybackState = "PAUSED"
	PlaybackStopped PlaybackState = "STOPPED"
)

// Connectivity is the server-side judgement of reachability derived from
// LastSeenAt.
type Connectivity string

const (
	ConnectivityLive  Connectivity = "LIVE"
	ConnectivityStale Connectivity = "STALE"
	ConnectivityDead  Connectivity = "DEAD"
)

// Device is a registered display unit.
type Device struct {
	DeviceID          string         `gorm:"primaryKey;type:varchar(128)" json:"device_id"`
	Name              string         `json:"name"`
	Location          string         `json:"location"`
	IPAddress         string         `gorm:"type:varchar(64)" json:"ip_address"`
	SoftwareVersion   string         `gorm:"type:varchar(64)" json:"software_version"`
	SystemInfo        string         `gorm:"type:text" json:"system_info"`
	DeclaredState     DeclaredState  `gorm:"type:varchar(16);index" json:"declared_state"`
	PlaybackState     PlaybackState  `gorm:"type:varchar(16)" json:"playback_state"`
	PlaybackContentID string         `gorm:"type:varchar(36)" json:"playback_content_id,omitempty"`
	TargetVersion     string         `gorm:"type:varchar(64)" json:"target_version,omitempty"`
	RegisteredAt      time.Time      `json:"registered_at"`
	LastSeenAt        time.Time      `json:"last_seen_at"`
	LastSyncAt        time.Time      `json:"last_sync_at"`
	Revision          int64          `gorm:"not null;default:0" json:"revision"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) (err error) {
	if d.RegisteredAt.IsZero() {
		d.RegisteredAt = time.Now().UTC()
	}
	if d.DeclaredState == "" {
		d.DeclaredState = StateOnline
	}
	if d.PlaybackState == "" {
		d.PlaybackState = PlaybackStopped
	}
	return
}

// DeviceMetadata is the admin-supplied identity of a device.
type DeviceMetadata struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}
