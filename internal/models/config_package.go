package models

import (
	"time"

	"gorm.io/datatypes"
)

// ConfigPackage: элемент очереди конфигураций устройства.
type ConfigPackage struct {
	ID          uint           `gorm:"primaryKey" json:"-"`
	DeviceID    string         `gorm:"size:36;index:idx_cfg_device_created,priority:1" json:"device_id"`
	Package     string         `gorm:"size:128" json:"package"`
	PackageJSON datatypes.JSON `gorm:"column:package_json" json:"package_json"`
	SHA256      string         `gorm:"column:sha256;size:64" json:"sha256"`
	CreatedAt   time.Time      `gorm:"index:idx_cfg_device_created,priority:2" json:"created_at"`
}
