package repo

import (
	"context"
	"fmt"
	"time"

	"wiretide/internal/fleet"
	"wiretide/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultQueueLimit: сколько пакетов держим на устройство.
const DefaultQueueLimit = 10

// повторных проверок, если выборка под блокировкой вернула пусто
const maxFetchRechecks = 3

// ConfigQueue: ограниченная очередь конфигураций на устройство.
// Выдача: самый новый пакет, вытеснение: самый старый.
type ConfigQueue struct {
	db    *gorm.DB
	limit int
	now   func() time.Time
}

func NewConfigQueue(db *gorm.DB) *ConfigQueue {
	return &ConfigQueue{db: db, limit: DefaultQueueLimit, now: time.Now}
}

// EnqueueResult: поставленный пакет и число вытесненных старых.
type EnqueueResult struct {
	Package models.ConfigPackage
	Evicted int
}

func requireApproved(d models.Device) error {
	if d.Status != fleet.StatusApproved || !d.Approved {
		return fmt.Errorf("device %s is %s: %w", d.ID, d.Status, fleet.ErrDeviceNotApproved)
	}
	return nil
}

// Enqueue ставит пакет в очередь. payload: JSON-объект; хэш считается
// по канонической сериализации, так что порядок ключей не важен.
func (q *ConfigQueue) Enqueue(ctx context.Context, deviceID, pkg string, payload []byte) (EnqueueResult, error) {
	name, err := fleet.NormPackageName(pkg)
	if err != nil {
		return EnqueueResult{}, err
	}
	canonical, sum, err := fleet.PayloadHash(payload)
	if err != nil {
		return EnqueueResult{}, err
	}

	var res EnqueueResult
	err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := loadDevice(tx, deviceID, true)
		if err != nil {
			return err
		}
		if err := requireApproved(d); err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.ConfigPackage{}).Where("device_id = ?", deviceID).Count(&count).Error; err != nil {
			return dbErr("count configs", err)
		}
		for ; count >= int64(q.limit); count-- {
			var oldest models.ConfigPackage
			if err := tx.Where("device_id = ?", deviceID).Order("created_at, id").First(&oldest).Error; err != nil {
				return dbErr("find oldest config", err)
			}
			if err := tx.Delete(&models.ConfigPackage{}, oldest.ID).Error; err != nil {
				return dbErr("evict config", err)
			}
			res.Evicted++
		}

		res.Package = models.ConfigPackage{
			DeviceID:    deviceID,
			Package:     name,
			PackageJSON: datatypes.JSON(canonical),
			SHA256:      sum,
			CreatedAt:   q.now().UTC(),
		}
		if err := tx.Create(&res.Package).Error; err != nil {
			return dbErr("enqueue config", err)
		}
		return nil
	})
	if err != nil {
		return EnqueueResult{}, err
	}
	return res, nil
}

// FetchNext выдаёт самый новый пакет и удаляет его в той же транзакции.
// Удаление условное: проигравший гонку берёт следующего кандидата,
// поэтому один пакет не выдаётся дважды.
func (q *ConfigQueue) FetchNext(ctx context.Context, deviceID string) (models.ConfigPackage, error) {
	var out models.ConfigPackage
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := loadDevice(tx, deviceID, false)
		if err != nil {
			return err
		}
		if err := requireApproved(d); err != nil {
			return err
		}

		var skip []uint
		rechecks := 0
		for {
			sel := tx.Where("device_id = ?", deviceID)
			if len(skip) > 0 {
				sel = sel.Where("id NOT IN ?", skip)
			}
			if supportsRowLocks(tx) {
				sel = sel.Clauses(clause.Locking{Strength: "UPDATE"})
			}
			var cand []models.ConfigPackage
			if err := sel.Order("created_at DESC, id DESC").Limit(1).Find(&cand).Error; err != nil {
				return dbErr("select config", err)
			}
			if len(cand) == 0 {
				// Postgres READ COMMITTED: FOR UPDATE, дождавшись строки, удалённой
				// соседом, отдаёт пустой результат, хотя старшие пакеты остались.
				left, err := q.remaining(tx, deviceID, skip)
				if err != nil {
					return err
				}
				if left == 0 || rechecks >= maxFetchRechecks {
					return fmt.Errorf("device %s: %w", deviceID, fleet.ErrNoPendingConfig)
				}
				rechecks++
				continue
			}
			res := tx.Where("id = ?", cand[0].ID).Delete(&models.ConfigPackage{})
			if res.Error != nil {
				return dbErr("pop config", res.Error)
			}
			if res.RowsAffected == 1 {
				out = cand[0]
				return nil
			}
			skip = append(skip, cand[0].ID)
		}
	})
	return out, err
}

// remaining: сколько пакетов устройства ещё лежит в очереди, без skip.
func (q *ConfigQueue) remaining(tx *gorm.DB, deviceID string, skip []uint) (int64, error) {
	cnt := tx.Model(&models.ConfigPackage{}).Where("device_id = ?", deviceID)
	if len(skip) > 0 {
		cnt = cnt.Where("id NOT IN ?", skip)
	}
	var n int64
	if err := cnt.Count(&n).Error; err != nil {
		return 0, dbErr("count configs", err)
	}
	return n, nil
}

// Clear удаляет все пакеты устройства, возвращает их число.
func (q *ConfigQueue) Clear(ctx context.Context, deviceID string) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadDevice(tx, deviceID, false); err != nil {
			return err
		}
		res := tx.Where("device_id = ?", deviceID).Delete(&models.ConfigPackage{})
		if res.Error != nil {
			return dbErr("clear configs", res.Error)
		}
		n = res.RowsAffected
		return nil
	})
	return n, err
}

// Pending: очередь устройства для оператора, от старых к новым.
func (q *ConfigQueue) Pending(ctx context.Context, deviceID string) ([]models.ConfigPackage, error) {
	db := q.db.WithContext(ctx)
	if _, err := loadDevice(db, deviceID, false); err != nil {
		return nil, err
	}
	out := []models.ConfigPackage{}
	if err := db.Where("device_id = ?", deviceID).Order("created_at, id").Find(&out).Error; err != nil {
		return nil, dbErr("list configs", err)
	}
	return out, nil
}
