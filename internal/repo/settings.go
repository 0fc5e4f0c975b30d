package repo

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"wiretide/internal/fleet"
	"wiretide/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NewSharedToken: 256 бит из crypto/rand в URL-safe base64 без паддинга.
func NewSharedToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SettingsStore: единственная точка доступа к строке controller_settings (id=1).
type SettingsStore struct {
	db       *gorm.DB
	now      func() time.Time
	newToken func() (string, error)
}

func NewSettingsStore(db *gorm.DB) *SettingsStore {
	return &SettingsStore{db: db, now: time.Now, newToken: NewSharedToken}
}

// Current возвращает настройки, при первом обращении создавая строку со свежим токеном.
func (s *SettingsStore) Current(ctx context.Context) (models.ControllerSettings, error) {
	return s.ensure(s.db.WithContext(ctx))
}

// SharedToken: текущий общий токен агентов.
func (s *SettingsStore) SharedToken(ctx context.Context) (string, error) {
	st, err := s.Current(ctx)
	if err != nil {
		return "", err
	}
	return st.SharedToken, nil
}

func (s *SettingsStore) ensure(tx *gorm.DB) (models.ControllerSettings, error) {
	var row models.ControllerSettings
	err := tx.Where("id = ?", models.SettingsID).First(&row).Error
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return row, dbErr("load settings", err)
	}

	tok, err := s.newToken()
	if err != nil {
		return row, fmt.Errorf("%w: %w", fleet.ErrPersistence, err)
	}
	now := s.now().UTC()
	seed := models.ControllerSettings{
		ID:                models.SettingsID,
		SharedToken:       tok,
		AgentUpdatePolicy: string(fleet.UpdateOff),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	// параллельный первый запрос мог успеть вставить строку: тогда читаем её
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return row, dbErr("seed settings", err)
	}
	if err := tx.Where("id = ?", models.SettingsID).First(&row).Error; err != nil {
		return row, dbErr("load settings", err)
	}
	return row, nil
}

// Rotate заменяет общий токен; старый перестаёт работать сразу.
func (s *SettingsStore) Rotate(ctx context.Context) (string, error) {
	var tok string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		tok, err = s.rotate(tx)
		return err
	})
	return tok, err
}

// rotate работает внутри чужой транзакции (одобрение устройства).
func (s *SettingsStore) rotate(tx *gorm.DB) (string, error) {
	if _, err := s.ensure(tx); err != nil {
		return "", err
	}
	tok, err := s.newToken()
	if err != nil {
		return "", fmt.Errorf("%w: %w", fleet.ErrPersistence, err)
	}
	if err := tx.Model(&models.ControllerSettings{}).Where("id = ?", models.SettingsID).Updates(map[string]any{
		"shared_token": tok,
		"updated_at":   s.now().UTC(),
	}).Error; err != nil {
		return "", dbErr("rotate token", err)
	}
	return tok, nil
}

// AgentPolicyInput: изменение политики автообновления агентов.
type AgentPolicyInput struct {
	Policy     string
	URL        *string
	MinVersion *string
}

func (s *SettingsStore) UpdateAgentPolicy(ctx context.Context, in AgentPolicyInput) (models.ControllerSettings, error) {
	policy, err := fleet.ParseUpdatePolicy(in.Policy)
	if err != nil {
		return models.ControllerSettings{}, err
	}
	var url, minVersion *string
	if in.URL != nil {
		if v := strings.TrimSpace(*in.URL); v != "" {
			url = &v
		}
	}
	if in.MinVersion != nil {
		v, err := fleet.NormMinVersion(*in.MinVersion)
		if err != nil {
			return models.ControllerSettings{}, err
		}
		if v != "" {
			minVersion = &v
		}
	}
	return s.update(ctx, map[string]any{
		"agent_update_policy": string(policy),
		"agent_update_url":    url,
		"agent_min_version":   minVersion,
	})
}

func (s *SettingsStore) SetMonitoring(ctx context.Context, enabled bool) (models.ControllerSettings, error) {
	return s.update(ctx, map[string]any{"monitoring_api_enabled": enabled})
}

// MonitoringEnabled: для гейта /metrics.
func (s *SettingsStore) MonitoringEnabled(ctx context.Context) (bool, error) {
	st, err := s.Current(ctx)
	if err != nil {
		return false, err
	}
	return st.MonitoringAPIEnabled, nil
}

func (s *SettingsStore) update(ctx context.Context, fields map[string]any) (models.ControllerSettings, error) {
	var out models.ControllerSettings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ensure(tx); err != nil {
			return err
		}
		fields["updated_at"] = s.now().UTC()
		if err := tx.Model(&models.ControllerSettings{}).Where("id = ?", models.SettingsID).Updates(fields).Error; err != nil {
			return dbErr("update settings", err)
		}
		if err := tx.Where("id = ?", models.SettingsID).First(&out).Error; err != nil {
			return dbErr("load settings", err)
		}
		return nil
	})
	return out, err
}
