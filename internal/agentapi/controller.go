package agentapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"wiretide/internal/auth"
	"wiretide/internal/fleet"
	"wiretide/internal/logs"
	"wiretide/internal/metrics"
	"wiretide/internal/models"
	"wiretide/internal/repo"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

/*
Agent protocol:

POST /register        (X-Shared-Token)
POST /status          (X-Shared-Token)
GET  /config?device_id=...  (X-Shared-Token)
GET  /token/current   (без токена; опционально только из доверенных сетей)

All responses carry header:
    X-Wiretide-Controller: true
*/

const ControllerHeader = "X-Wiretide-Controller"

const maxBodyBytes = 1 << 20

// Registry: контракт реестра устройств.
type Registry interface {
	Register(ctx context.Context, in repo.RegisterInput) (models.Device, bool, error)
}

// StatusReporter: контракт хранилища статусов.
type StatusReporter interface {
	Report(ctx context.Context, r repo.StatusReport) (time.Time, error)
}

// ConfigSource: выдача пакетов из очереди.
type ConfigSource interface {
	FetchNext(ctx context.Context, deviceID string) (models.ConfigPackage, error)
}

// SettingsSource: настройки контроллера (токен, политика обновлений).
type SettingsSource interface {
	Current(ctx context.Context) (models.ControllerSettings, error)
}

type Controller struct {
	registry  Registry
	status    StatusReporter
	configs   ConfigSource
	settings  SettingsSource
	auth      *auth.AgentAuth
	metrics   *metrics.Metrics
	discovery []netip.Prefix // пусто: /token/current открыт всем
}

type Options struct {
	Registry  Registry
	Status    StatusReporter
	Configs   ConfigSource
	Settings  SettingsSource
	Auth      *auth.AgentAuth
	Metrics   *metrics.Metrics
	Discovery []netip.Prefix
}

func NewController(o Options) *Controller {
	return &Controller{
		registry:  o.Registry,
		status:    o.Status,
		configs:   o.Configs,
		settings:  o.Settings,
		auth:      o.Auth,
		metrics:   o.Metrics,
		discovery: o.Discovery,
	}
}

// ParseDiscoveryCIDRs разбирает agent.token_discovery_cidrs.
func ParseDiscoveryCIDRs(cidrs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("token discovery cidr %q: %w", c, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

func controllerHeaderMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(ControllerHeader, "true")
		next.ServeHTTP(w, r)
	})
}

// RegisterRoutes вешает агентские маршруты на root.
func (c *Controller) RegisterRoutes(root *mux.Router) {
	guarded := func(h http.HandlerFunc) http.Handler {
		return controllerHeaderMW(c.auth.Middleware(h))
	}
	root.Handle("/register", guarded(c.handleRegister)).Methods(http.MethodPost)
	root.Handle("/status", guarded(c.handleStatus)).Methods(http.MethodPost)
	root.Handle("/config", guarded(c.handleConfig)).Methods(http.MethodGet)
	root.Handle("/token/current", controllerHeaderMW(http.HandlerFunc(c.handleCurrentToken))).Methods(http.MethodGet)
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

// fail пишет ошибку; внутренние: в лог с request-контекстом.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := models.StatusFor(err); status >= http.StatusInternalServerError {
		logs.Logger.WithField("path", r.URL.Path).Errorf("agent api: %v", err)
	}
	models.WriteError(w, err)
}

type registerRequest struct {
	Hostname       string  `json:"hostname"`
	Description    *string `json:"description"`
	DeviceType     string  `json:"device_type"`
	SSHEnabled     bool    `json:"ssh_enabled"`
	SSHFingerprint *string `json:"ssh_fingerprint"`
	AgentVersion   *string `json:"agent_version"`
	DeviceID       string  `json:"device_id"`
	IPAddress      string  `json:"ip_address"`
}

type registerResponse struct {
	DeviceID            string            `json:"device_id"`
	Status              fleet.Status      `json:"status"`
	Approved            bool              `json:"approved"`
	DeviceType          string            `json:"device_type"`
	SharedTokenRequired bool              `json:"shared_token_required"`
	AgentUpdate         fleet.AgentUpdate `json:"agent_update"`
}

// POST /register
func (c *Controller) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	dev, created, err := c.registry.Register(r.Context(), repo.RegisterInput{
		DeviceID:       in.DeviceID,
		Hostname:       in.Hostname,
		Description:    in.Description,
		DeviceType:     in.DeviceType,
		SSHEnabled:     in.SSHEnabled,
		SSHFingerprint: in.SSHFingerprint,
		AgentVersion:   in.AgentVersion,
		IPAddress:      in.IPAddress,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	st, err := c.settings.Current(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}

	if created {
		logs.Logger.WithFields(logrus.Fields{
			"device_id": dev.ID,
			"hostname":  dev.Hostname,
		}).Info("device registered, waiting for approval")
	}
	models.WriteJSON(w, http.StatusOK, registerResponse{
		DeviceID:            dev.ID,
		Status:              dev.Status,
		Approved:            dev.Approved,
		DeviceType:          dev.DeviceType,
		SharedTokenRequired: true,
		AgentUpdate: fleet.DecideAgentUpdate(
			fleet.UpdatePolicy(st.AgentUpdatePolicy),
			dev.AgentUpdateAllowed,
			deref(st.AgentUpdateURL),
			deref(st.AgentMinVersion),
			deref(dev.AgentVersion),
		),
	})
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

type statusRequest struct {
	DeviceID              string          `json:"device_id"`
	DNSOK                 *bool           `json:"dns_ok"`
	NTPOK                 *bool           `json:"ntp_ok"`
	FirewallProfileActive *string         `json:"firewall_profile_active"`
	SecurityLogSamples    json.RawMessage `json:"security_log_samples"`
	Clients               json.RawMessage `json:"clients"`
	SSHEnabled            *bool           `json:"ssh_enabled"`
	SSHFingerprint        *string         `json:"ssh_fingerprint"`
	AgentVersion          *string         `json:"agent_version"`
}

// POST /status
func (c *Controller) handleStatus(w http.ResponseWriter, r *http.Request) {
	var in statusRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.DeviceID) == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "device_id is required", nil)
		return
	}
	lastSeen, err := c.status.Report(r.Context(), repo.StatusReport{
		DeviceID:              in.DeviceID,
		DNSOK:                 in.DNSOK,
		NTPOK:                 in.NTPOK,
		FirewallProfileActive: in.FirewallProfileActive,
		SecurityLogSamples:    in.SecurityLogSamples,
		Clients:               in.Clients,
		SSHEnabled:            in.SSHEnabled,
		SSHFingerprint:        in.SSHFingerprint,
		AgentVersion:          in.AgentVersion,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "last_seen": lastSeen})
}

type configResponse struct {
	DeviceID    string          `json:"device_id"`
	Package     string          `json:"package"`
	PackageJSON json.RawMessage `json:"package_json"`
	SHA256      string          `json:"sha256"`
	CreatedAt   time.Time       `json:"created_at"`
}

// GET /config?device_id=...
func (c *Controller) handleConfig(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("device_id"))
	if id == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "device_id is required", nil)
		return
	}
	pkg, err := c.configs.FetchNext(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	c.metrics.ConfigEvent(metrics.EventDelivered, 1)
	logs.Logger.WithFields(logrus.Fields{
		"device_id": id,
		"package":   pkg.Package,
		"sha256":    pkg.SHA256,
	}).Info("config delivered")
	models.WriteJSON(w, http.StatusOK, configResponse{
		DeviceID:    id,
		Package:     pkg.Package,
		PackageJSON: json.RawMessage(pkg.PackageJSON),
		SHA256:      pkg.SHA256,
		CreatedAt:   pkg.CreatedAt,
	})
}

// GET /token/current
func (c *Controller) handleCurrentToken(w http.ResponseWriter, r *http.Request) {
	if !c.discoveryAllowed(r) {
		c.metrics.AuthFailure("agent")
		logs.Logger.WithField("remote", r.RemoteAddr).Warn("token discovery from untrusted network")
		models.WriteProblem(w, http.StatusForbidden, "Forbidden", "token discovery not allowed from this network", nil)
		return
	}
	st, err := c.settings.Current(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]string{"shared_token": st.SharedToken})
}

func (c *Controller) discoveryAllowed(r *http.Request) bool {
	if len(c.discovery) == 0 {
		return true
	}
	ap, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	addr := ap.Addr().Unmap()
	for _, p := range c.discovery {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
