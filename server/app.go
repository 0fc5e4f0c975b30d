package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wiretide/config"
	"wiretide/internal/adminapi"
	"wiretide/internal/agentapi"
	"wiretide/internal/auth"
	"wiretide/internal/db"
	"wiretide/internal/health"
	"wiretide/internal/logs"
	"wiretide/internal/metrics"
	"wiretide/internal/middleware"
	"wiretide/internal/repo"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	cfg        *config.Config
	Router     *mux.Router
	httpServer *http.Server

	db      *gorm.DB
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	// 1) Логи
	logs.Init(logs.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})

	// 2) БД + миграции
	d, err := db.Open(db.Options{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.DSN,
		Attempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	if err := db.Migrate(d); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	a.db = d

	// 3) Хранилища; строка настроек с токеном создаётся при первом чтении
	devices := repo.NewDeviceStore(d)
	settings := repo.NewSettingsStore(d)
	lifecycle := repo.NewLifecycle(d, settings)
	queue := repo.NewConfigQueue(d)
	status := repo.NewStatusStore(d)
	if _, err := settings.Current(context.Background()); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}

	// 4) Аутентификация
	adminAuth, err := auth.NewAdminAuthenticator(cfg.Admin)
	if err != nil {
		return err
	}
	discovery, err := agentapi.ParseDiscoveryCIDRs(cfg.Agent.TokenDiscoveryCIDRs)
	if err != nil {
		return err
	}
	a.metrics = metrics.New()

	// 5) Роутер + middleware
	a.Router = mux.NewRouter()
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(middleware.LoggerMW)
	a.Router.Use(a.metrics.Instrument)

	health.RegisterRoutesWithDB(a.Router, d)

	agentapi.NewController(agentapi.Options{
		Registry:  devices,
		Status:    status,
		Configs:   queue,
		Settings:  settings,
		Auth:      auth.NewAgentAuth(settings, a.metrics),
		Metrics:   a.metrics,
		Discovery: discovery,
	}).RegisterRoutes(a.Router)

	adminapi.New(adminapi.Options{
		Devices:      devices,
		Lifecycle:    lifecycle,
		Queue:        queue,
		Status:       status,
		Settings:     settings,
		Auth:         adminAuth,
		Metrics:      a.metrics,
		CookieSecure: cfg.Admin.CookieSecure,
	}).RegisterRoutes(a.Router)

	a.Router.Handle(cfg.Metrics.Path, a.metrics.Handler(settings.MonitoringEnabled)).Methods(http.MethodGet)

	logs.Logger.WithFields(logrus.Fields{
		"db":        cfg.Database.Driver,
		"admin":     adminAuth.Mode(),
		"discovery": len(discovery),
	}).Info("controller initialized")

	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		logs.Logger.Debugf("route: %-6v %s", methods, path)
		return nil
	})
	return nil
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return ErrNotInitialized
	}
	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer a.cancel()

	a.httpServer = &http.Server{
		Addr:         bind,
		Handler:      a.Router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-a.ctx.Done():
		logs.Logger.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.httpServer.Shutdown(ctx)
	a.Close()
	return err
}

// Close закрывает пул соединений БД.
func (a *App) Close() {
	if a.db == nil {
		return
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

var ErrNotInitialized = &initError{"server not initialized (call Initialize(cfg) first)"}

type initError struct{ s string }

func (e *initError) Error() string { return e.s }
