// internal/db/migrations.go
package db

import (
	"fmt"

	"wiretide/internal/models"

	"gorm.io/gorm"
)

// Migrate создаёт/обновляет схему всех таблиц контроллера.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if err := db.AutoMigrate(
		&models.Device{},
		&models.DeviceStatus{},
		&models.ConfigPackage{},
		&models.ControllerSettings{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return migrateHostnameSearchIndex(db)
}

// Поиск по подстроке hostname (LIKE '%x%') на postgres ускоряет только trigram-индекс;
// на остальных диалектах хватает обычного индекса из тегов модели.
func migrateHostnameSearchIndex(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case "postgres":
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS pg_trgm`).Error; err != nil {
			// нет прав на расширение: живём без индекса
			return nil
		}
		return db.Exec(`CREATE INDEX IF NOT EXISTS idx_devices_hostname_trgm ON "devices" USING gin ("hostname" gin_trgm_ops)`).Error
	case "mysql", "sqlite":
		return nil
	default:
		return fmt.Errorf("unsupported dialect: %s", db.Dialector.Name())
	}
}
