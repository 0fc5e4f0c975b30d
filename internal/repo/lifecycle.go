package repo

import (
	"context"
	"strings"
	"time"

	"wiretide/internal/fleet"
	"wiretide/internal/models"

	"gorm.io/gorm"
)

// Lifecycle применяет переходы waiting/approved/blocked к устройствам.
type Lifecycle struct {
	db       *gorm.DB
	settings *SettingsStore
	now      func() time.Time
}

func NewLifecycle(db *gorm.DB, settings *SettingsStore) *Lifecycle {
	return &Lifecycle{db: db, settings: settings, now: time.Now}
}

// Approve переводит устройство в approved, присваивает тип и в той же
// транзакции ротирует общий токен. deviceType "": оставить текущий тип.
// Возвращает обновлённое устройство и новый токен.
func (l *Lifecycle) Approve(ctx context.Context, deviceID, deviceType string) (models.Device, string, error) {
	var (
		out   models.Device
		token string
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := loadDevice(tx, deviceID, true)
		if err != nil {
			return err
		}
		t := strings.TrimSpace(deviceType)
		if t == "" {
			t = d.DeviceType
		}
		if err := fleet.CheckApproval(fleet.ApprovalCandidate{
			Status:     d.Status,
			DeviceType: d.DeviceType,
			SSHEnabled: d.SSHEnabled,
		}, t); err != nil {
			return err
		}

		d.DeviceType = t
		d.Status = fleet.StatusApproved
		d.Approved = fleet.ApprovedFlag(d.Status)
		d.UpdatedAt = l.now().UTC()
		if err := tx.Model(&models.Device{}).Where("id = ?", d.ID).Updates(map[string]any{
			"device_type": d.DeviceType,
			"status":      d.Status,
			"approved":    d.Approved,
			"updated_at":  d.UpdatedAt,
		}).Error; err != nil {
			return dbErr("approve device", err)
		}

		token, err = l.settings.rotate(tx)
		if err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return models.Device{}, "", err
	}
	return out, token, nil
}

// Block переводит устройство в терминальное blocked.
func (l *Lifecycle) Block(ctx context.Context, deviceID string) (models.Device, error) {
	var out models.Device
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := loadDevice(tx, deviceID, true)
		if err != nil {
			return err
		}
		if err := fleet.CheckTransition(d.Status, fleet.StatusBlocked); err != nil {
			return err
		}
		d.Status = fleet.StatusBlocked
		d.Approved = fleet.ApprovedFlag(d.Status)
		d.UpdatedAt = l.now().UTC()
		if err := tx.Model(&models.Device{}).Where("id = ?", d.ID).Updates(map[string]any{
			"status":     d.Status,
			"approved":   d.Approved,
			"updated_at": d.UpdatedAt,
		}).Error; err != nil {
			return dbErr("block device", err)
		}
		out = d
		return nil
	})
	return out, err
}
