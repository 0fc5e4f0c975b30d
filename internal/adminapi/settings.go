package adminapi

import (
	"errors"
	"net/http"
	"time"

	"wiretide/internal/fleet"
	"wiretide/internal/logs"
	"wiretide/internal/models"
	"wiretide/internal/repo"
)

type settingsView struct {
	SharedToken          string    `json:"shared_token"`
	AgentUpdatePolicy    string    `json:"agent_update_policy"`
	AgentUpdateURL       *string   `json:"agent_update_url"`
	AgentMinVersion      *string   `json:"agent_min_version"`
	MonitoringAPIEnabled bool      `json:"monitoring_api_enabled"`
	AdminUsername        string    `json:"admin_username"`
	AuthMode             string    `json:"auth_mode"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (a *API) writeSettings(w http.ResponseWriter, st models.ControllerSettings) {
	models.WriteJSON(w, http.StatusOK, settingsView{
		SharedToken:          st.SharedToken,
		AgentUpdatePolicy:    st.AgentUpdatePolicy,
		AgentUpdateURL:       st.AgentUpdateURL,
		AgentMinVersion:      st.AgentMinVersion,
		MonitoringAPIEnabled: st.MonitoringAPIEnabled,
		AdminUsername:        a.auth.Username(),
		AuthMode:             a.auth.Mode(),
		UpdatedAt:            st.UpdatedAt,
	})
}

// GET /api/settings
func (a *API) getSettings(w http.ResponseWriter, r *http.Request) {
	st, err := a.settings.Current(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	a.writeSettings(w, st)
}

// POST /api/settings/token/regenerate
func (a *API) regenerateToken(w http.ResponseWriter, r *http.Request) {
	tok, err := a.settings.Rotate(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	a.metrics.TokenRotated("operator")
	logs.Logger.Info("shared token regenerated by operator")
	models.WriteJSON(w, http.StatusOK, map[string]string{"shared_token": tok})
}

// PATCH /api/settings/agent-update
func (a *API) updateAgentPolicy(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Policy     string  `json:"agent_update_policy"`
		URL        *string `json:"agent_update_url"`
		MinVersion *string `json:"agent_min_version"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	st, err := a.settings.UpdateAgentPolicy(r.Context(), repo.AgentPolicyInput{
		Policy:     in.Policy,
		URL:        in.URL,
		MinVersion: in.MinVersion,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	logs.Logger.WithField("policy", st.AgentUpdatePolicy).Info("agent update policy changed")
	a.writeSettings(w, st)
}

// PATCH /api/settings/monitoring
func (a *API) setMonitoring(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Enabled *bool `json:"monitoring_api_enabled"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Enabled == nil {
		badRequest(w, "monitoring_api_enabled is required")
		return
	}
	st, err := a.settings.SetMonitoring(r.Context(), *in.Enabled)
	if err != nil {
		fail(w, r, err)
		return
	}
	a.writeSettings(w, st)
}

// POST /api/admin/password-change
func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	err := a.auth.ChangePassword(r.Context(), in.CurrentPassword, in.NewPassword)
	switch {
	case err == nil:
	case errors.Is(err, fleet.ErrInvalidCredential):
		a.metrics.AuthFailure("admin")
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "current password is incorrect", nil)
		return
	case errors.Is(err, fleet.ErrPersistence):
		// новый пароль уже действует, но после рестарта вернётся старый
		models.WriteProblem(w, http.StatusInternalServerError, "Persistence failure",
			"password changed in memory but could not be persisted", nil)
		return
	default:
		fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
