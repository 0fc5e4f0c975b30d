package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"wiretide/internal/auth"
	"wiretide/internal/db"
	"wiretide/internal/models"
	"wiretide/internal/repo"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminUser     = "admin"
	adminPassword = "correct-horse"
	cookieName    = "wiretide_admin"
)

type harness struct {
	router   *mux.Router
	devices  *repo.DeviceStore
	settings *repo.SettingsStore
	status   *repo.StatusStore
	creds    func(*http.Request)
}

func newHarness(t *testing.T, authn auth.AdminAuthenticator, creds func(*http.Request)) *harness {
	t.Helper()
	d, err := db.Open(db.Options{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Migrate(d); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqlDB, err := d.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	h := &harness{
		router:   mux.NewRouter(),
		devices:  repo.NewDeviceStore(d),
		settings: repo.NewSettingsStore(d),
		status:   repo.NewStatusStore(d),
		creds:    creds,
	}
	New(Options{
		Devices:   h.devices,
		Lifecycle: repo.NewLifecycle(d, h.settings),
		Queue:     repo.NewConfigQueue(d),
		Status:    h.status,
		Settings:  h.settings,
		Auth:      authn,
	}).RegisterRoutes(h.router)
	return h
}

func passwordAuth(t *testing.T) *auth.PasswordAuth {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	p, err := auth.NewPasswordAuth(adminUser, string(hash), cookieName, nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func withBasic(user, pass string) func(*http.Request) {
	return func(r *http.Request) { r.SetBasicAuth(user, pass) }
}

func newPasswordHarness(t *testing.T) *harness {
	return newHarness(t, passwordAuth(t), withBasic(adminUser, adminPassword))
}

func (h *harness) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if h.creds != nil {
		h.creds(req)
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func (h *harness) register(t *testing.T, hostname string, ssh bool) models.Device {
	t.Helper()
	d, _, err := h.devices.Register(context.Background(), repo.RegisterInput{Hostname: hostname, SSHEnabled: ssh})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func (h *harness) approve(t *testing.T, id string) {
	t.Helper()
	rr := h.do(t, http.MethodPost, "/api/devices/approve", map[string]string{"device_id": id, "device_type": "router"})
	if rr.Code != http.StatusOK {
		t.Fatalf("approve %s: code = %d body %s", id, rr.Code, rr.Body.String())
	}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("code = %d, want %d (%s)", rr.Code, want, rr.Body.String())
	}
}

func TestAdminRoutesRequireCredentials(t *testing.T) {
	h := newPasswordHarness(t)
	cases := []struct {
		name  string
		creds func(*http.Request)
		code  int
	}{
		{"none", nil, http.StatusUnauthorized},
		{"wrong password", withBasic(adminUser, "nope"), http.StatusUnauthorized},
		{"wrong user", withBasic("root", adminPassword), http.StatusUnauthorized},
		{"basic", withBasic(adminUser, adminPassword), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h.creds = tc.creds
			expectCode(t, h.do(t, http.MethodGet, "/api/devices", nil), tc.code)
		})
	}
}

func TestApproveDevice(t *testing.T) {
	h := newPasswordHarness(t)
	ctx := context.Background()
	reachable := h.register(t, "r1", true)
	unreachable := h.register(t, "r2", false)

	before, err := h.settings.SharedToken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rr := h.do(t, http.MethodPost, "/api/devices/approve", map[string]string{"device_id": reachable.ID, "device_type": "access_point"})
	expectCode(t, rr, http.StatusOK)
	got := decode[map[string]any](t, rr)
	if got["status"] != "approved" || got["approved"] != true || got["device_type"] != "access_point" {
		t.Errorf("approve response = %v", got)
	}
	after, _ := h.settings.SharedToken(ctx)
	if after == before {
		t.Error("shared token not rotated on approval")
	}

	cases := []struct {
		name string
		body map[string]string
		code int
	}{
		{"already approved", map[string]string{"device_id": reachable.ID, "device_type": "router"}, http.StatusBadRequest},
		{"ssh disabled", map[string]string{"device_id": unreachable.ID, "device_type": "router"}, http.StatusBadRequest},
		{"unassigned type", map[string]string{"device_id": unreachable.ID, "device_type": "unassigned"}, http.StatusBadRequest},
		{"unknown device", map[string]string{"device_id": "nope", "device_type": "router"}, http.StatusNotFound},
		{"no device id", map[string]string{"device_type": "router"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectCode(t, h.do(t, http.MethodPost, "/api/devices/approve", tc.body), tc.code)
		})
	}

	d, err := h.devices.Get(ctx, unreachable.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != "waiting" || d.Approved {
		t.Errorf("rejected approval changed device: %+v", d)
	}
	if tok, _ := h.settings.SharedToken(ctx); tok != after {
		t.Error("rejected approval rotated the token")
	}
}

func TestBlockDevice(t *testing.T) {
	h := newPasswordHarness(t)
	approved := h.register(t, "r1", true)
	h.approve(t, approved.ID)
	waiting := h.register(t, "r2", false)

	rr := h.do(t, http.MethodPost, "/api/devices/block?device_id="+approved.ID, nil)
	expectCode(t, rr, http.StatusOK)
	got := decode[map[string]any](t, rr)
	if got["status"] != "blocked" || got["approved"] != false {
		t.Errorf("block response = %v", got)
	}

	// повторная блокировка: недопустимый переход
	expectCode(t, h.do(t, http.MethodPost, "/api/devices/block?device_id="+approved.ID, nil), http.StatusBadRequest)
	expectCode(t, h.do(t, http.MethodPost, "/api/devices/block", map[string]string{"device_id": waiting.ID}), http.StatusOK)
	expectCode(t, h.do(t, http.MethodPost, "/api/devices/block", nil), http.StatusBadRequest)
	expectCode(t, h.do(t, http.MethodPost, "/api/devices/block?device_id=missing", nil), http.StatusNotFound)

	// blocked терминален: одобрить нельзя
	expectCode(t, h.do(t, http.MethodPost, "/api/devices/approve",
		map[string]string{"device_id": approved.ID, "device_type": "router"}), http.StatusBadRequest)
}

func TestListAndGetDevices(t *testing.T) {
	h := newPasswordHarness(t)
	ctx := context.Background()
	r1 := h.register(t, "core-router", true)
	h.approve(t, r1.ID)
	h.register(t, "lobby-ap", false)
	if _, err := h.status.Report(ctx, repo.StatusReport{DeviceID: r1.ID, Clients: []byte(`[]`)}); err != nil {
		t.Fatal(err)
	}

	type page struct {
		Items []struct {
			ID        string          `json:"id"`
			Hostname  string          `json:"hostname"`
			Template  *map[string]any `json:"template"`
			StatusRow *map[string]any `json:"status_row"`
		} `json:"items"`
		Total  int `json:"total"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}

	rr := h.do(t, http.MethodGet, "/api/devices?status=approved", nil)
	expectCode(t, rr, http.StatusOK)
	p := decode[page](t, rr)
	if p.Total != 1 || len(p.Items) != 1 || p.Items[0].ID != r1.ID {
		t.Fatalf("approved page = %+v", p)
	}
	if p.Items[0].Template == nil || p.Items[0].StatusRow == nil {
		t.Errorf("item missing template or status_row: %+v", p.Items[0])
	}

	p = decode[page](t, h.do(t, http.MethodGet, "/api/devices?search=lobby&limit=500", nil))
	if p.Total != 1 || p.Items[0].Hostname != "lobby-ap" || p.Limit != repo.MaxListLimit {
		t.Errorf("search page = %+v", p)
	}
	if p.Items[0].Template != nil || p.Items[0].StatusRow != nil {
		t.Errorf("unassigned device without reports: %+v", p.Items[0])
	}

	for _, q := range []string{"limit=abc", "offset=x", "status=bogus", "device_type=toaster"} {
		expectCode(t, h.do(t, http.MethodGet, "/api/devices?"+q, nil), http.StatusBadRequest)
	}

	rr = h.do(t, http.MethodGet, "/api/devices/"+r1.ID, nil)
	expectCode(t, rr, http.StatusOK)
	if got := decode[map[string]any](t, rr); got["hostname"] != "core-router" || got["status_row"] == nil {
		t.Errorf("detail = %v", got)
	}
	expectCode(t, h.do(t, http.MethodGet, "/api/devices/missing", nil), http.StatusNotFound)
}

func TestRemoveDevice(t *testing.T) {
	h := newPasswordHarness(t)
	d := h.register(t, "r1", true)

	rr := h.do(t, http.MethodDelete, "/api/devices/"+d.ID, nil)
	expectCode(t, rr, http.StatusOK)
	if got := decode[map[string]string](t, rr); got["removed"] != d.ID {
		t.Errorf("removed = %v", got)
	}
	expectCode(t, h.do(t, http.MethodGet, "/api/devices/"+d.ID, nil), http.StatusNotFound)
	expectCode(t, h.do(t, http.MethodDelete, "/api/devices/"+d.ID, nil), http.StatusNotFound)
}

func TestDeviceAgentUpdateFlag(t *testing.T) {
	h := newPasswordHarness(t)
	d := h.register(t, "r1", true)

	rr := h.do(t, http.MethodPatch, "/api/devices/"+d.ID+"/agent-update", map[string]bool{"agent_update_allowed": true})
	expectCode(t, rr, http.StatusOK)
	if got := decode[map[string]any](t, rr); got["agent_update_allowed"] != true {
		t.Errorf("agent_update_allowed = %v", got["agent_update_allowed"])
	}
	expectCode(t, h.do(t, http.MethodPatch, "/api/devices/"+d.ID+"/agent-update", map[string]string{}), http.StatusBadRequest)
}

func TestConfigQueueEndpoints(t *testing.T) {
	h := newPasswordHarness(t)
	d := h.register(t, "r1", true)

	enqueue := func(i int) *httptest.ResponseRecorder {
		return h.do(t, http.MethodPost, "/api/queue-config", map[string]any{
			"device_id":    d.ID,
			"package":      "wiretide.firewall",
			"package_json": map[string]int{"seq": i},
		})
	}
	expectCode(t, enqueue(0), http.StatusForbidden)

	h.approve(t, d.ID)
	for i := 1; i <= repo.DefaultQueueLimit+1; i++ {
		expectCode(t, enqueue(i), http.StatusOK)
	}

	rr := h.do(t, http.MethodGet, "/api/devices/"+d.ID+"/configs", nil)
	expectCode(t, rr, http.StatusOK)
	pending := decode[[]struct {
		PackageJSON map[string]int `json:"package_json"`
		SHA256      string         `json:"sha256"`
	}](t, rr)
	if len(pending) != repo.DefaultQueueLimit {
		t.Fatalf("pending = %d, want %d", len(pending), repo.DefaultQueueLimit)
	}
	if first := pending[0].PackageJSON["seq"]; first != 2 {
		t.Errorf("oldest pending seq = %d, want 2 (seq 1 evicted)", first)
	}

	bad := []map[string]any{
		{"device_id": d.ID, "package": "Not A Package", "package_json": map[string]int{}},
		{"device_id": d.ID, "package": "wiretide.firewall"},
		{"package": "wiretide.firewall", "package_json": map[string]int{}},
	}
	for i, body := range bad {
		t.Run(fmt.Sprintf("bad-%d", i), func(t *testing.T) {
			expectCode(t, h.do(t, http.MethodPost, "/api/queue-config", body), http.StatusBadRequest)
		})
	}

	rr = h.do(t, http.MethodPost, "/api/configs/clear", map[string]string{"device_id": d.ID})
	expectCode(t, rr, http.StatusOK)
	if got := decode[map[string]int](t, rr); got["deleted"] != repo.DefaultQueueLimit {
		t.Errorf("deleted = %d", got["deleted"])
	}
	expectCode(t, h.do(t, http.MethodPost, "/api/configs/clear", map[string]string{"device_id": "missing"}), http.StatusNotFound)
}

func TestSettingsEndpoints(t *testing.T) {
	h := newPasswordHarness(t)

	rr := h.do(t, http.MethodGet, "/api/settings", nil)
	expectCode(t, rr, http.StatusOK)
	st := decode[settingsView](t, rr)
	if st.AdminUsername != adminUser || st.AuthMode != auth.ModePassword || st.AgentUpdatePolicy != "off" || st.SharedToken == "" {
		t.Errorf("settings = %+v", st)
	}

	rr = h.do(t, http.MethodPost, "/api/settings/token/regenerate", nil)
	expectCode(t, rr, http.StatusOK)
	if tok := decode[map[string]string](t, rr)["shared_token"]; tok == "" || tok == st.SharedToken {
		t.Errorf("regenerated token = %q", tok)
	}

	rr = h.do(t, http.MethodPatch, "/api/settings/agent-update", map[string]string{
		"agent_update_policy": "per_device",
		"agent_update_url":    "https://updates.example/agent.ipk",
		"agent_min_version":   "1.4.0",
	})
	expectCode(t, rr, http.StatusOK)
	if got := decode[settingsView](t, rr); got.AgentUpdatePolicy != "per_device" || got.AgentMinVersion == nil || *got.AgentMinVersion != "1.4.0" {
		t.Errorf("policy update = %+v", got)
	}
	expectCode(t, h.do(t, http.MethodPatch, "/api/settings/agent-update", map[string]string{"agent_update_policy": "sometimes"}), http.StatusBadRequest)
	expectCode(t, h.do(t, http.MethodPatch, "/api/settings/agent-update",
		map[string]string{"agent_update_policy": "force_on", "agent_min_version": "one"}), http.StatusBadRequest)

	rr = h.do(t, http.MethodPatch, "/api/settings/monitoring", map[string]bool{"monitoring_api_enabled": true})
	expectCode(t, rr, http.StatusOK)
	if !decode[settingsView](t, rr).MonitoringAPIEnabled {
		t.Error("monitoring not enabled")
	}
	expectCode(t, h.do(t, http.MethodPatch, "/api/settings/monitoring", map[string]string{}), http.StatusBadRequest)
}

func TestTemplatesAndClients(t *testing.T) {
	h := newPasswordHarness(t)
	ctx := context.Background()

	rr := h.do(t, http.MethodGet, "/api/device-templates", nil)
	expectCode(t, rr, http.StatusOK)
	if got := decode[[]map[string]any](t, rr); len(got) != 4 {
		t.Errorf("templates = %d, want 4", len(got))
	}

	d := h.register(t, "ap1", false)
	if _, err := h.status.Report(ctx, repo.StatusReport{
		DeviceID: d.ID,
		Clients:  []byte(`[{"mac":"AA:BB:CC:00:00:01","host":"laptop","ssid":"corp"}]`),
	}); err != nil {
		t.Fatal(err)
	}
	rr = h.do(t, http.MethodGet, "/api/clients", nil)
	expectCode(t, rr, http.StatusOK)
	got := decode[struct {
		Clients []repo.Client `json:"clients"`
		Total   int           `json:"total"`
	}](t, rr)
	if got.Total != 1 || got.Clients[0].Connection != "wifi" || got.Clients[0].DeviceName != "ap1" {
		t.Errorf("clients = %+v", got)
	}
}

func TestChangePassword(t *testing.T) {
	h := newPasswordHarness(t)
	const newPassword = "battery-staple"

	// неверный текущий пароль: 401, старый пароль продолжает работать
	rr := h.do(t, http.MethodPost, "/api/admin/password-change", map[string]string{
		"current_password": "wrong", "new_password": newPassword,
	})
	expectCode(t, rr, http.StatusUnauthorized)
	expectCode(t, h.do(t, http.MethodGet, "/api/settings", nil), http.StatusOK)

	expectCode(t, h.do(t, http.MethodPost, "/api/admin/password-change", map[string]string{
		"current_password": adminPassword, "new_password": "short",
	}), http.StatusBadRequest)

	expectCode(t, h.do(t, http.MethodPost, "/api/admin/password-change", map[string]string{
		"current_password": adminPassword, "new_password": newPassword,
	}), http.StatusOK)

	expectCode(t, h.do(t, http.MethodGet, "/api/settings", nil), http.StatusUnauthorized)
	h.creds = withBasic(adminUser, newPassword)
	expectCode(t, h.do(t, http.MethodGet, "/api/settings", nil), http.StatusOK)
}

func TestLoginLogout_PasswordMode(t *testing.T) {
	h := newHarness(t, passwordAuth(t), nil)

	expectCode(t, h.do(t, http.MethodPost, "/login", map[string]string{"username": adminUser, "password": "nope"}), http.StatusUnauthorized)

	rr := h.do(t, http.MethodPost, "/login", map[string]string{"username": adminUser, "password": adminPassword})
	expectCode(t, rr, http.StatusOK)
	body := decode[map[string]any](t, rr)
	if body["session_token"] == "" || body["expires_at"] == nil {
		t.Errorf("login body = %v", body)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != cookieName || !cookies[0].HttpOnly || cookies[0].SameSite != http.SameSiteLaxMode {
		t.Fatalf("cookies = %+v", cookies)
	}

	h.creds = func(r *http.Request) { r.AddCookie(&http.Cookie{Name: cookieName, Value: cookies[0].Value}) }
	expectCode(t, h.do(t, http.MethodGet, "/api/settings", nil), http.StatusOK)

	// form-encoded login
	form := url.Values{"username": {adminUser}, "password": {adminPassword}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	expectCode(t, rec, http.StatusOK)

	rr = h.do(t, http.MethodPost, "/logout", nil)
	expectCode(t, rr, http.StatusOK)
	if c := rr.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Errorf("logout cookies = %+v", c)
	}
}

func TestStaticTokenMode(t *testing.T) {
	const token = "s3cret"
	h := newHarness(t, auth.NewStaticTokenAuth(token, cookieName), func(r *http.Request) {
		r.Header.Set(auth.AdminTokenHeader, token)
	})

	rr := h.do(t, http.MethodGet, "/api/settings", nil)
	expectCode(t, rr, http.StatusOK)
	if st := decode[settingsView](t, rr); st.AuthMode != auth.ModeToken || st.AdminUsername != "" {
		t.Errorf("settings = %+v", st)
	}

	expectCode(t, h.do(t, http.MethodPost, "/api/admin/password-change", map[string]string{
		"current_password": "x", "new_password": "yyyyyyyy",
	}), http.StatusBadRequest)

	rr = h.do(t, http.MethodPost, "/login", map[string]string{"admin_token": token})
	expectCode(t, rr, http.StatusOK)
	if c := rr.Result().Cookies(); len(c) != 1 || c[0].Value != token {
		t.Errorf("cookies = %+v", c)
	}
	expectCode(t, h.do(t, http.MethodPost, "/login", map[string]string{"admin_token": "guess"}), http.StatusUnauthorized)

	h.creds = func(r *http.Request) { r.Header.Set(auth.AdminTokenHeader, "guess") }
	expectCode(t, h.do(t, http.MethodGet, "/api/settings", nil), http.StatusUnauthorized)
}
