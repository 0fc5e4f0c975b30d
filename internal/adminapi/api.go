package adminapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"wiretide/internal/auth"
	"wiretide/internal/logs"
	"wiretide/internal/metrics"
	"wiretide/internal/models"
	"wiretide/internal/repo"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

// API: операторская поверхность: устройства, очередь конфигов, настройки.
type API struct {
	devices   *repo.DeviceStore
	lifecycle *repo.Lifecycle
	queue     *repo.ConfigQueue
	status    *repo.StatusStore
	settings  *repo.SettingsStore
	auth      auth.AdminAuthenticator
	metrics   *metrics.Metrics

	cookieSecure bool
}

type Options struct {
	Devices   *repo.DeviceStore
	Lifecycle *repo.Lifecycle
	Queue     *repo.ConfigQueue
	Status    *repo.StatusStore
	Settings  *repo.SettingsStore
	Auth      auth.AdminAuthenticator
	Metrics   *metrics.Metrics

	CookieSecure bool
}

func New(o Options) *API {
	return &API{
		devices:      o.Devices,
		lifecycle:    o.Lifecycle,
		queue:        o.Queue,
		status:       o.Status,
		settings:     o.Settings,
		auth:         o.Auth,
		metrics:      o.Metrics,
		cookieSecure: o.CookieSecure,
	}
}

func (a *API) RegisterRoutes(root *mux.Router) {
	root.HandleFunc("/login", a.login).Methods(http.MethodPost)
	root.HandleFunc("/logout", a.logout).Methods(http.MethodPost)

	api := root.PathPrefix("/api").Subrouter()
	api.Use(mux.MiddlewareFunc(auth.RequireAdmin(a.auth, a.metrics)))

	// devices
	api.HandleFunc("/devices", a.listDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/approve", a.approveDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/block", a.blockDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/{id}", a.getDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}", a.removeDevice).Methods(http.MethodDelete)
	api.HandleFunc("/devices/{id}/agent-update", a.setAgentUpdate).Methods(http.MethodPatch)
	api.HandleFunc("/devices/{id}/configs", a.pendingConfigs).Methods(http.MethodGet)
	api.HandleFunc("/device-templates", a.listTemplates).Methods(http.MethodGet)
	api.HandleFunc("/clients", a.listClients).Methods(http.MethodGet)

	// config queue
	api.HandleFunc("/queue-config", a.queueConfig).Methods(http.MethodPost)
	api.HandleFunc("/configs/clear", a.clearConfigs).Methods(http.MethodPost)

	// settings
	api.HandleFunc("/settings", a.getSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings/token/regenerate", a.regenerateToken).Methods(http.MethodPost)
	api.HandleFunc("/settings/agent-update", a.updateAgentPolicy).Methods(http.MethodPatch)
	api.HandleFunc("/settings/monitoring", a.setMonitoring).Methods(http.MethodPatch)
	api.HandleFunc("/admin/password-change", a.changePassword).Methods(http.MethodPost)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		detail := err.Error()
		if errors.Is(err, io.EOF) {
			detail = "empty body"
		}
		models.WriteProblem(w, http.StatusBadRequest, "Bad JSON", detail, nil)
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, detail string) {
	models.WriteProblem(w, http.StatusBadRequest, "Bad request", detail, nil)
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := models.StatusFor(err); status >= http.StatusInternalServerError {
		logs.Logger.WithField("path", r.URL.Path).Errorf("admin api: %v", err)
	}
	models.WriteError(w, err)
}
