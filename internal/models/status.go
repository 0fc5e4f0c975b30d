package models

import (
	"time"

	"gorm.io/datatypes"
)

// DeviceStatus: последняя телеметрия устройства, одна строка на устройство.
type DeviceStatus struct {
	ID                    uint           `gorm:"primaryKey" json:"-"`
	DeviceID              string         `gorm:"size:36;uniqueIndex" json:"device_id"`
	DNSOK                 bool           `gorm:"column:dns_ok" json:"dns_ok"`
	NTPOK                 bool           `gorm:"column:ntp_ok" json:"ntp_ok"`
	FirewallProfileActive *string        `json:"firewall_profile_active"`
	SecurityLogSamples    datatypes.JSON `json:"security_log_samples"`
	Clients               datatypes.JSON `json:"clients"`
	UpdatedAt             time.Time      `json:"updated_at"`
}
