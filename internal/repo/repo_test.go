package repo

import (
	"context"
	"testing"
	"time"

	"wiretide/internal/db"
	"wiretide/internal/models"

	"gorm.io/gorm"
)

type fakeClock struct{ t time.Time }

// Now сдвигает часы на секунду при каждом вызове: порядок записей детерминирован.
func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

type testEnv struct {
	db        *gorm.DB
	clock     *fakeClock
	devices   *DeviceStore
	settings  *SettingsStore
	lifecycle *Lifecycle
	queue     *ConfigQueue
	status    *StatusStore
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	return newEnvDSN(t, ":memory:")
}

func newEnvDSN(t *testing.T, dsn string) *testEnv {
	t.Helper()
	d, err := db.Open(db.Options{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := d.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	e := &testEnv{db: d, clock: &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}}
	e.devices = NewDeviceStore(d)
	e.devices.now = e.clock.Now
	e.settings = NewSettingsStore(d)
	e.settings.now = e.clock.Now
	e.lifecycle = NewLifecycle(d, e.settings)
	e.lifecycle.now = e.clock.Now
	e.queue = NewConfigQueue(d)
	e.queue.now = e.clock.Now
	e.status = NewStatusStore(d)
	e.status.now = e.clock.Now
	return e
}

func (e *testEnv) register(t *testing.T, hostname string, ssh bool) models.Device {
	t.Helper()
	d, _, err := e.devices.Register(context.Background(), RegisterInput{Hostname: hostname, SSHEnabled: ssh})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", hostname, err)
	}
	return d
}

func (e *testEnv) approved(t *testing.T, hostname string) models.Device {
	t.Helper()
	d := e.register(t, hostname, true)
	d, _, err := e.lifecycle.Approve(context.Background(), d.ID, "router")
	if err != nil {
		t.Fatalf("Approve(%s) error = %v", hostname, err)
	}
	return d
}

// assertApprovedInvariant проверяет approved == (status == approved) для всех устройств.
func (e *testEnv) assertApprovedInvariant(t *testing.T) {
	t.Helper()
	var all []models.Device
	if err := e.db.Find(&all).Error; err != nil {
		t.Fatal(err)
	}
	for _, d := range all {
		if d.Approved != (d.Status == "approved") {
			t.Errorf("device %s: approved=%v status=%s", d.Hostname, d.Approved, d.Status)
		}
	}
}
