package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wiretide/internal/fleet"
	"wiretide/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type DeviceStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDeviceStore(db *gorm.DB) *DeviceStore {
	return &DeviceStore{db: db, now: time.Now}
}

// RegisterInput: то, что агент сообщает о себе при регистрации.
type RegisterInput struct {
	DeviceID       string // пусто: поиск по hostname
	Hostname       string
	Description    *string
	DeviceType     string // пусто: не менять
	SSHEnabled     bool
	SSHFingerprint *string
	AgentVersion   *string
	IPAddress      string
}

// Register создаёт или обновляет устройство.
// Статус и флаг approved регистрация не трогает никогда.
func (s *DeviceStore) Register(ctx context.Context, in RegisterInput) (models.Device, bool, error) {
	hostname, err := fleet.NormHostname(in.Hostname)
	if err != nil {
		return models.Device{}, false, err
	}
	deviceID := strings.TrimSpace(in.DeviceID)

	devType := ""
	if strings.TrimSpace(in.DeviceType) != "" {
		t, ok := fleet.NormalizeDeviceType(in.DeviceType)
		if !ok {
			return models.Device{}, false, fmt.Errorf("%w: %q", fleet.ErrInvalidDeviceType, in.DeviceType)
		}
		if t == fleet.DeviceTypeUnassigned && deviceID != "" {
			return models.Device{}, false, fmt.Errorf("%w: device type cannot be reset to %s", fleet.ErrInvalidDeviceType, t)
		}
		devType = t
	}

	var ip *string
	if strings.TrimSpace(in.IPAddress) != "" {
		v, err := fleet.NormIP(in.IPAddress)
		if err != nil {
			return models.Device{}, false, err
		}
		ip = &v
	}

	var (
		out     models.Device
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()

		var d models.Device
		found := false
		if deviceID != "" {
			got, err := loadDevice(tx, deviceID, true)
			if err != nil {
				return err
			}
			d, found = got, true
		} else {
			err := tx.Where("hostname = ?", hostname).Order("created_at, id").First(&d).Error
			switch {
			case err == nil:
				found = true
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return dbErr("find by hostname", err)
			}
		}

		if !found {
			d = models.Device{
				ID:             uuid.NewString(),
				Hostname:       hostname,
				Description:    in.Description,
				DeviceType:     fleet.DeviceTypeUnassigned,
				Status:         fleet.StatusWaiting,
				Approved:       false,
				SSHEnabled:     in.SSHEnabled,
				SSHFingerprint: in.SSHFingerprint,
				AgentVersion:   in.AgentVersion,
				IPLast:         ip,
				LastSeen:       &now,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if devType != "" {
				d.DeviceType = devType
			}
			if err := tx.Create(&d).Error; err != nil {
				return dbErr("create device", err)
			}
			out, created = d, true
			return nil
		}

		d.Hostname = hostname
		d.Description = in.Description
		d.SSHEnabled = in.SSHEnabled
		d.SSHFingerprint = in.SSHFingerprint
		d.AgentVersion = in.AgentVersion
		d.LastSeen = &now
		d.UpdatedAt = now
		if ip != nil {
			d.IPLast = ip
		}
		// уже типизированное устройство не откатывается в unassigned
		if devType != "" && (devType != fleet.DeviceTypeUnassigned || !fleet.IsTemplateType(d.DeviceType)) {
			d.DeviceType = devType
		}
		if err := tx.Model(&models.Device{}).Where("id = ?", d.ID).Updates(map[string]any{
			"hostname":        d.Hostname,
			"description":     d.Description,
			"device_type":     d.DeviceType,
			"ssh_enabled":     d.SSHEnabled,
			"ssh_fingerprint": d.SSHFingerprint,
			"agent_version":   d.AgentVersion,
			"ip_last":         d.IPLast,
			"last_seen":       d.LastSeen,
			"updated_at":      d.UpdatedAt,
		}).Error; err != nil {
			return dbErr("update device", err)
		}
		out = d
		return nil
	})
	if err != nil {
		return models.Device{}, false, err
	}
	return out, created, nil
}

// DeviceFilter: фильтры списка устройств. Пустые поля не фильтруют.
type DeviceFilter struct {
	DeviceType string
	Status     string
	Search     string
	Limit      int
	Offset     int
}

type DevicePage struct {
	Items  []models.Device `json:"items"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// NormalizeWindow применяет limit по умолчанию, потолок и неотрицательный offset.
func (f DeviceFilter) NormalizeWindow() (limit, offset int) {
	limit, offset = f.Limit, f.Offset
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *DeviceStore) List(ctx context.Context, f DeviceFilter) (DevicePage, error) {
	var conds []func(*gorm.DB) *gorm.DB
	if v := strings.TrimSpace(f.DeviceType); v != "" {
		t, ok := fleet.NormalizeDeviceType(v)
		if !ok {
			return DevicePage{}, fmt.Errorf("%w: unknown device_type %q", fleet.ErrInvalidArgument, v)
		}
		conds = append(conds, func(tx *gorm.DB) *gorm.DB { return tx.Where("device_type = ?", t) })
	}
	if v := strings.TrimSpace(f.Status); v != "" {
		st := fleet.Status(v)
		if !st.Valid() {
			return DevicePage{}, fmt.Errorf("%w: unknown status %q", fleet.ErrInvalidArgument, v)
		}
		conds = append(conds, func(tx *gorm.DB) *gorm.DB { return tx.Where("status = ?", st) })
	}
	if v := strings.TrimSpace(f.Search); v != "" {
		pattern := "%" + escapeLike(v) + "%"
		conds = append(conds, func(tx *gorm.DB) *gorm.DB { return tx.Where("hostname LIKE ? ESCAPE '!'", pattern) })
	}

	limit, offset := f.NormalizeWindow()
	page := DevicePage{Items: []models.Device{}, Limit: limit, Offset: offset}
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Device{}).Scopes(conds...).Count(&page.Total).Error; err != nil {
		return DevicePage{}, dbErr("count devices", err)
	}
	if err := db.Scopes(conds...).Order("created_at, id").Limit(limit).Offset(offset).Find(&page.Items).Error; err != nil {
		return DevicePage{}, dbErr("list devices", err)
	}
	return page, nil
}

func (s *DeviceStore) Get(ctx context.Context, id string) (models.Device, error) {
	return loadDevice(s.db.WithContext(ctx), id, false)
}

// Remove удаляет статус, очередь конфигов и само устройство одной транзакцией.
func (s *DeviceStore) Remove(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadDevice(tx, id, true); err != nil {
			return err
		}
		if err := tx.Where("device_id = ?", id).Delete(&models.DeviceStatus{}).Error; err != nil {
			return dbErr("delete status", err)
		}
		if err := tx.Where("device_id = ?", id).Delete(&models.ConfigPackage{}).Error; err != nil {
			return dbErr("delete configs", err)
		}
		res := tx.Where("id = ?", id).Delete(&models.Device{})
		if res.Error != nil {
			return dbErr("delete device", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("device %s: %w", id, fleet.ErrNotFound)
		}
		return nil
	})
}

// SetAgentUpdateAllowed: флаг устройства для политики per_device.
func (s *DeviceStore) SetAgentUpdateAllowed(ctx context.Context, id string, allowed bool) (models.Device, error) {
	var out models.Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := loadDevice(tx, id, true)
		if err != nil {
			return err
		}
		d.AgentUpdateAllowed = allowed
		d.UpdatedAt = s.now().UTC()
		if err := tx.Model(&models.Device{}).Where("id = ?", id).Updates(map[string]any{
			"agent_update_allowed": allowed,
			"updated_at":           d.UpdatedAt,
		}).Error; err != nil {
			return dbErr("update device", err)
		}
		out = d
		return nil
	})
	return out, err
}
