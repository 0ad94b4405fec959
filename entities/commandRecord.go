package entities

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CommandType string

const (
	CommandPlay           CommandType = "PLAY"
	CommandPause          CommandType = "PAUSE"
	CommandStop           CommandType = "STOP"
	CommandRestart        CommandType = "RESTART"
	CommandUpdateSoftware CommandType = "UPDATE_SOFTWARE"
)

// CommandRecord is the persisted log entry of a dispatched command.
type CommandRecord struct {
	ID             string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	DeviceID       string         `json:"device_id" gorm:"index;type:varchar(128)"`
	CommandType    CommandType    `json:"command_type" gorm:"type:varchar(32)"`
	Params         string         `json:"params" gorm:"type:text"` // JSON of the typed parameters
	PreviousState  DeclaredState  `json:"previous_state" gorm:"type:varchar(16)"`
	ResultingState DeclaredState  `json:"resulting_state" gorm:"type:varchar(16)"`
	Connectivity   Connectivity   `json:"connectivity" gorm:"type:varchar(16)"`
	Acknowledgment string         `json:"acknowledgment" gorm:"type:text"`
	NoOp           bool           `json:"no_op"`
	IssuedAt       time.Time      `json:"issued_at" gorm:"index"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`
}

func (c *CommandRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = time.Now().UTC()
	}
	if c.Params == "" {
		c.Params = "{}"
	}
	return nil
}
