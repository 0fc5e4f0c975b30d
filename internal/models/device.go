package models

import (
	"time"

	"wiretide/internal/fleet"
)

// Device: управляемое устройство (роутер, точка доступа, свитч, firewall).
type Device struct {
	ID                 string       `gorm:"primaryKey;size:36" json:"id"`
	Hostname           string       `gorm:"size:253;index" json:"hostname"`
	Description        *string      `json:"description"`
	DeviceType         string       `gorm:"size:32;index;default:'unassigned'" json:"device_type"`
	Status             fleet.Status `gorm:"size:16;index;default:'waiting'" json:"status"`
	Approved           bool         `json:"approved"`
	SSHEnabled         bool         `gorm:"column:ssh_enabled" json:"ssh_enabled"`
	SSHFingerprint     *string      `gorm:"column:ssh_fingerprint" json:"ssh_fingerprint"`
	AgentVersion       *string      `json:"agent_version"`
	AgentUpdateAllowed bool         `json:"agent_update_allowed"`
	IPLast             *string      `gorm:"column:ip_last;size:45" json:"ip_last"`
	LastSeen           *time.Time   `json:"last_seen"`
	CreatedAt          time.Time    `gorm:"index" json:"created_at"`
	UpdatedAt          time.Time    `json:"-"`
}
