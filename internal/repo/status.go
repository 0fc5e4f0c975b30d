package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"wiretide/internal/fleet"
	"wiretide/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type StatusStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStatusStore(db *gorm.DB) *StatusStore {
	return &StatusStore{db: db, now: time.Now}
}

// StatusReport: периодический отчёт агента. nil-поля сохраняют прежние значения.
type StatusReport struct {
	DeviceID              string
	DNSOK                 *bool
	NTPOK                 *bool
	FirewallProfileActive *string
	SecurityLogSamples    json.RawMessage
	Clients               json.RawMessage // JSON-массив записей клиентов
	SSHEnabled            *bool
	SSHFingerprint        *string
	AgentVersion          *string
}

func supplied(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

// Report сливает отчёт в строку статуса и обновляет last_seen устройства.
func (s *StatusStore) Report(ctx context.Context, r StatusReport) (time.Time, error) {
	if supplied(r.Clients) {
		var entries []json.RawMessage
		if err := json.Unmarshal(r.Clients, &entries); err != nil {
			return time.Time{}, fmt.Errorf("%w: clients must be a JSON array", fleet.ErrInvalidArgument)
		}
	}
	if supplied(r.SecurityLogSamples) && !json.Valid(r.SecurityLogSamples) {
		return time.Time{}, fmt.Errorf("%w: security_log_samples is not valid JSON", fleet.ErrInvalidArgument)
	}

	now := s.now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadDevice(tx, r.DeviceID, true); err != nil {
			return err
		}

		dev := map[string]any{"last_seen": now, "updated_at": now}
		if r.SSHEnabled != nil {
			dev["ssh_enabled"] = *r.SSHEnabled
		}
		if r.SSHFingerprint != nil && *r.SSHFingerprint != "" {
			dev["ssh_fingerprint"] = *r.SSHFingerprint
		}
		if r.AgentVersion != nil && *r.AgentVersion != "" {
			dev["agent_version"] = *r.AgentVersion
		}
		if err := tx.Model(&models.Device{}).Where("id = ?", r.DeviceID).Updates(dev).Error; err != nil {
			return dbErr("touch device", err)
		}

		var row models.DeviceStatus
		err := tx.Where("device_id = ?", r.DeviceID).First(&row).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return dbErr("load status", err)
		}
		row.DeviceID = r.DeviceID
		if r.DNSOK != nil {
			row.DNSOK = *r.DNSOK
		}
		if r.NTPOK != nil {
			row.NTPOK = *r.NTPOK
		}
		if r.FirewallProfileActive != nil {
			row.FirewallProfileActive = r.FirewallProfileActive
		}
		if supplied(r.SecurityLogSamples) {
			row.SecurityLogSamples = datatypes.JSON(r.SecurityLogSamples)
		}
		if supplied(r.Clients) {
			row.Clients = datatypes.JSON(r.Clients)
		}
		row.UpdatedAt = now
		if row.ID == 0 {
			if err := tx.Create(&row).Error; err != nil {
				return dbErr("create status", err)
			}
			return nil
		}
		if err := tx.Model(&models.DeviceStatus{}).Where("id = ?", row.ID).Updates(map[string]any{
			"dns_ok":                  row.DNSOK,
			"ntp_ok":                  row.NTPOK,
			"firewall_profile_active": row.FirewallProfileActive,
			"security_log_samples":    row.SecurityLogSamples,
			"clients":                 row.Clients,
			"updated_at":              row.UpdatedAt,
		}).Error; err != nil {
			return dbErr("update status", err)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// Get: строка статуса устройства; ok=false, если отчётов ещё не было.
func (s *StatusStore) Get(ctx context.Context, deviceID string) (models.DeviceStatus, bool, error) {
	var row models.DeviceStatus
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&row).Error
	switch {
	case err == nil:
		return row, true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return row, false, nil
	default:
		return row, false, dbErr("load status", err)
	}
}

// ByDevices: строки статуса для страницы списка, ключ: device_id.
func (s *StatusStore) ByDevices(ctx context.Context, ids []string) (map[string]models.DeviceStatus, error) {
	out := make(map[string]models.DeviceStatus, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.DeviceStatus
	if err := s.db.WithContext(ctx).Where("device_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, dbErr("load statuses", err)
	}
	for _, r := range rows {
		out[r.DeviceID] = r
	}
	return out, nil
}

// Client: клиент сети, сведённый по всем устройствам.
type Client struct {
	MAC        string    `json:"mac"`
	IP         string    `json:"ip,omitempty"`
	Host       string    `json:"host,omitempty"`
	Connection string    `json:"connection"` // wifi | lan
	SSID       string    `json:"ssid,omitempty"`
	Band       string    `json:"band,omitempty"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clients сводит снапшоты клиентов: ключ: MAC в нижнем регистре,
// при дубликатах побеждает более свежий отчёт.
func (s *StatusStore) Clients(ctx context.Context) ([]Client, error) {
	var devices []models.Device
	if err := s.db.WithContext(ctx).Select("id", "hostname").Find(&devices).Error; err != nil {
		return nil, dbErr("list devices", err)
	}
	names := make(map[string]string, len(devices))
	for _, d := range devices {
		names[d.ID] = d.Hostname
	}

	var rows []models.DeviceStatus
	if err := s.db.WithContext(ctx).Order("updated_at, id").Find(&rows).Error; err != nil {
		return nil, dbErr("list statuses", err)
	}

	byKey := map[string]Client{}
	var order []string
	for _, row := range rows {
		if !supplied(json.RawMessage(row.Clients)) {
			continue
		}
		var entries []map[string]any
		if err := json.Unmarshal(row.Clients, &entries); err != nil {
			continue // битый снапшот не должен ронять весь список
		}
		name, ok := names[row.DeviceID]
		if !ok {
			name = "device-" + row.DeviceID
		}
		for i, e := range entries {
			mac := strings.ToLower(attr(e, "mac"))
			host := attr(e, "host")
			if host == "" {
				host = attr(e, "hostname")
			}
			key := mac
			if key == "" {
				key = fmt.Sprintf("row-%s-%d", row.DeviceID, i)
			}
			c := Client{
				MAC:        mac,
				IP:         attr(e, "ip"),
				Host:       host,
				Connection: "lan",
				SSID:       attr(e, "ssid"),
				Band:       attr(e, "band"),
				DeviceID:   row.DeviceID,
				DeviceName: name,
				UpdatedAt:  row.UpdatedAt,
			}
			if c.MAC == "" {
				c.MAC = host
			}
			if c.MAC == "" {
				c.MAC = "unknown"
			}
			if attr(e, "iface") != "" || c.SSID != "" {
				c.Connection = "wifi"
			}
			prev, seen := byKey[key]
			if seen && !prev.UpdatedAt.Before(row.UpdatedAt) {
				continue
			}
			if !seen {
				order = append(order, key)
			}
			byKey[key] = c
		}
	}

	out := make([]Client, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	sortClients(out)
	return out, nil
}

func attr(e map[string]any, key string) string {
	switch v := e[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// по host (или mac) без учёта регистра
func sortClients(cs []Client) {
	sort.SliceStable(cs, func(i, j int) bool {
		return clientSortKey(cs[i]) < clientSortKey(cs[j])
	})
}

func clientSortKey(c Client) string {
	if c.Host != "" {
		return strings.ToLower(c.Host)
	}
	return strings.ToLower(c.MAC)
}
