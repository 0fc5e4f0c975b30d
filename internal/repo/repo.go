package repo

import (
	"errors"
	"fmt"
	"strings"

	"wiretide/internal/fleet"
	"wiretide/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// dbErr помечает сбой хранилища как fleet.ErrPersistence, сохраняя исходную ошибку.
func dbErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, fleet.ErrPersistence, err)
}

// loadDevice читает устройство внутри tx; lock: SELECT ... FOR UPDATE там, где диалект умеет.
func loadDevice(tx *gorm.DB, id string, lock bool) (models.Device, error) {
	var d models.Device
	q := tx
	if lock && supportsRowLocks(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("id = ?", id).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return d, fmt.Errorf("device %s: %w", id, fleet.ErrNotFound)
		}
		return d, dbErr("load device", err)
	}
	return d, nil
}

// SQLite сериализует писателей сам и FOR UPDATE не понимает.
func supportsRowLocks(tx *gorm.DB) bool {
	return tx.Dialector.Name() != "sqlite"
}

// escapeLike экранирует %, _ и сам escape-символ для LIKE ... ESCAPE '!'.
func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}
