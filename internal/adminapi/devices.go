package adminapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"wiretide/internal/fleet"
	"wiretide/internal/logs"
	"wiretide/internal/metrics"
	"wiretide/internal/models"
	"wiretide/internal/repo"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// deviceView: устройство вместе со строкой статуса и шаблоном типа.
type deviceView struct {
	models.Device
	Template  *fleet.Template      `json:"template"`
	StatusRow *models.DeviceStatus `json:"status_row"`
}

func newDeviceView(d models.Device, st *models.DeviceStatus) deviceView {
	v := deviceView{Device: d, StatusRow: st}
	if t, ok := fleet.LookupTemplate(d.DeviceType); ok {
		v.Template = &t
	}
	return v
}

func queryInt(r *http.Request, key string) (int, bool) {
	s := strings.TrimSpace(r.URL.Query().Get(key))
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GET /api/devices?device_type&status&search&limit&offset
func (a *API) listDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := queryInt(r, "limit")
	if !ok {
		badRequest(w, "limit must be an integer")
		return
	}
	offset, ok := queryInt(r, "offset")
	if !ok {
		badRequest(w, "offset must be an integer")
		return
	}
	page, err := a.devices.List(r.Context(), repo.DeviceFilter{
		DeviceType: q.Get("device_type"),
		Status:     q.Get("status"),
		Search:     q.Get("search"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	ids := make([]string, 0, len(page.Items))
	for _, d := range page.Items {
		ids = append(ids, d.ID)
	}
	rows, err := a.status.ByDevices(r.Context(), ids)
	if err != nil {
		fail(w, r, err)
		return
	}
	items := make([]deviceView, 0, len(page.Items))
	for _, d := range page.Items {
		var st *models.DeviceStatus
		if row, ok := rows[d.ID]; ok {
			st = &row
		}
		items = append(items, newDeviceView(d, st))
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  page.Total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

func (a *API) writeDevice(w http.ResponseWriter, r *http.Request, d models.Device) {
	row, ok, err := a.status.Get(r.Context(), d.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	var st *models.DeviceStatus
	if ok {
		st = &row
	}
	models.WriteJSON(w, http.StatusOK, newDeviceView(d, st))
}

// GET /api/devices/{id}
func (a *API) getDevice(w http.ResponseWriter, r *http.Request) {
	d, err := a.devices.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		fail(w, r, err)
		return
	}
	a.writeDevice(w, r, d)
}

// POST /api/devices/approve
func (a *API) approveDevice(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DeviceID   string `json:"device_id"`
		DeviceType string `json:"device_type"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.DeviceID) == "" {
		badRequest(w, "device_id is required")
		return
	}
	d, _, err := a.lifecycle.Approve(r.Context(), in.DeviceID, in.DeviceType)
	if err != nil {
		fail(w, r, err)
		return
	}
	a.metrics.Transition(string(fleet.StatusApproved))
	a.metrics.TokenRotated("approval")
	logs.Logger.WithFields(logrus.Fields{
		"device_id":   d.ID,
		"hostname":    d.Hostname,
		"device_type": d.DeviceType,
	}).Info("device approved, shared token rotated")

	models.WriteJSON(w, http.StatusOK, map[string]any{
		"device_id":             d.ID,
		"status":                d.Status,
		"approved":              d.Approved,
		"device_type":           d.DeviceType,
		"shared_token_required": true,
	})
}

// POST /api/devices/block?device_id=... (или JSON {"device_id": ...})
func (a *API) blockDevice(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("device_id"))
	if id == "" && r.ContentLength != 0 {
		var in struct {
			DeviceID string `json:"device_id"`
		}
		if !decodeJSON(w, r, &in) {
			return
		}
		id = strings.TrimSpace(in.DeviceID)
	}
	if id == "" {
		badRequest(w, "device_id is required")
		return
	}
	d, err := a.lifecycle.Block(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	a.metrics.Transition(string(fleet.StatusBlocked))
	logs.Logger.WithFields(logrus.Fields{
		"device_id": d.ID,
		"hostname":  d.Hostname,
	}).Info("device blocked")
	a.writeDevice(w, r, d)
}

// DELETE /api/devices/{id}
func (a *API) removeDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.devices.Remove(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	logs.Logger.WithField("device_id", id).Info("device removed")
	models.WriteJSON(w, http.StatusOK, map[string]string{"removed": id})
}

// PATCH /api/devices/{id}/agent-update
func (a *API) setAgentUpdate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AgentUpdateAllowed *bool `json:"agent_update_allowed"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.AgentUpdateAllowed == nil {
		badRequest(w, "agent_update_allowed is required")
		return
	}
	d, err := a.devices.SetAgentUpdateAllowed(r.Context(), mux.Vars(r)["id"], *in.AgentUpdateAllowed)
	if err != nil {
		fail(w, r, err)
		return
	}
	a.writeDevice(w, r, d)
}

// GET /api/device-templates
func (a *API) listTemplates(w http.ResponseWriter, _ *http.Request) {
	models.WriteJSON(w, http.StatusOK, fleet.Templates())
}

// GET /api/clients
func (a *API) listClients(w http.ResponseWriter, r *http.Request) {
	cs, err := a.status.Clients(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"clients": cs, "total": len(cs)})
}

// POST /api/queue-config
func (a *API) queueConfig(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DeviceID    string          `json:"device_id"`
		Package     string          `json:"package"`
		PackageJSON json.RawMessage `json:"package_json"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.DeviceID) == "" {
		badRequest(w, "device_id is required")
		return
	}
	if len(in.PackageJSON) == 0 || string(in.PackageJSON) == "null" {
		badRequest(w, "package_json is required")
		return
	}
	res, err := a.queue.Enqueue(r.Context(), in.DeviceID, in.Package, in.PackageJSON)
	if err != nil {
		fail(w, r, err)
		return
	}
	a.metrics.ConfigEvent(metrics.EventEnqueued, 1)
	a.metrics.ConfigEvent(metrics.EventEvicted, res.Evicted)
	logs.Logger.WithFields(logrus.Fields{
		"device_id": in.DeviceID,
		"package":   res.Package.Package,
		"sha256":    res.Package.SHA256,
		"evicted":   res.Evicted,
	}).Info("config queued")

	models.WriteJSON(w, http.StatusOK, configView(res.Package))
}

// GET /api/devices/{id}/configs
func (a *API) pendingConfigs(w http.ResponseWriter, r *http.Request) {
	pkgs, err := a.queue.Pending(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, configView(p))
	}
	models.WriteJSON(w, http.StatusOK, out)
}

// POST /api/configs/clear
func (a *API) clearConfigs(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DeviceID string `json:"device_id"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.DeviceID) == "" {
		badRequest(w, "device_id is required")
		return
	}
	n, err := a.queue.Clear(r.Context(), in.DeviceID)
	if err != nil {
		fail(w, r, err)
		return
	}
	a.metrics.ConfigEvent(metrics.EventCleared, int(n))
	logs.Logger.WithFields(logrus.Fields{"device_id": in.DeviceID, "deleted": n}).Info("config queue cleared")
	models.WriteJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func configView(p models.ConfigPackage) map[string]any {
	return map[string]any{
		"device_id":    p.DeviceID,
		"package":      p.Package,
		"package_json": json.RawMessage(p.PackageJSON),
		"sha256":       p.SHA256,
		"created_at":   p.CreatedAt,
	}
}
