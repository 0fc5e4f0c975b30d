package models

import "time"

// SettingsID: фиксированный id единственной строки настроек.
const SettingsID = 1

// ControllerSettings: singleton: общий токен агентов и политика автообновления.
type ControllerSettings struct {
	ID                   uint    `gorm:"primaryKey;autoIncrement:false"`
	SharedToken          string  `gorm:"size:128;not null"`
	AgentUpdatePolicy    string  `gorm:"size:16;default:'off'"`
	AgentUpdateURL       *string `gorm:"column:agent_update_url"`
	AgentMinVersion      *string
	MonitoringAPIEnabled bool `gorm:"column:monitoring_api_enabled"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
