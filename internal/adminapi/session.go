package adminapi

import (
	"errors"
	"mime"
	"net/http"
	"time"

	"wiretide/internal/auth"
	"wiretide/internal/fleet"
	"wiretide/internal/logs"
	"wiretide/internal/models"
)

type loginForm struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	AdminToken string `json:"admin_token"`
}

func parseLogin(w http.ResponseWriter, r *http.Request) (loginForm, bool) {
	var in loginForm
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		return in, decodeJSON(w, r, &in)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		badRequest(w, err.Error())
		return in, false
	}
	in.Username = r.PostFormValue("username")
	in.Password = r.PostFormValue("password")
	in.AdminToken = r.PostFormValue("admin_token")
	return in, true
}

// POST /login: форма или JSON.
func (a *API) login(w http.ResponseWriter, r *http.Request) {
	in, ok := parseLogin(w, r)
	if !ok {
		return
	}
	sess, err := a.auth.Login(r.Context(), auth.LoginRequest{
		Username:   in.Username,
		Password:   in.Password,
		AdminToken: in.AdminToken,
	})
	switch {
	case err == nil:
	case errors.Is(err, fleet.ErrPreconditionNotMet):
		models.WriteError(w, err)
		return
	default:
		a.metrics.AuthFailure("admin")
		logs.Logger.WithField("remote", r.RemoteAddr).Warn("admin login failed")
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials", nil)
		return
	}

	c := &http.Cookie{
		Name:     a.auth.CookieName(),
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	resp := map[string]any{"session_token": sess.Token}
	if !sess.ExpiresAt.IsZero() {
		c.Expires = sess.ExpiresAt
		c.MaxAge = int(time.Until(sess.ExpiresAt).Seconds())
		resp["expires_at"] = sess.ExpiresAt
	}
	http.SetCookie(w, c)
	logs.Logger.WithField("mode", a.auth.Mode()).Info("admin logged in")
	models.WriteJSON(w, http.StatusOK, resp)
}

// POST /logout
func (a *API) logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.auth.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	models.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
