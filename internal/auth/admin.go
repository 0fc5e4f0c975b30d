package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wiretide/config"
	"wiretide/internal/fleet"
	"wiretide/internal/logs"
	"wiretide/internal/metrics"
	"wiretide/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	AdminTokenHeader = "X-Admin-Token"

	ModePassword = "password"
	ModeToken    = "token"
)

// ErrAdminCredentials: единая ошибка админской аутентификации:
// наружу не сообщаем, какая именно проверка не прошла.
var ErrAdminCredentials = fmt.Errorf("%w: invalid or missing admin credentials", fleet.ErrInvalidCredential)

// Principal: кто прошёл проверку и каким способом.
type Principal struct {
	Username string
	Method   string // basic | session | token | open
}

// LoginRequest: пароль (режим password) или admin_token (режим token).
type LoginRequest struct {
	Username   string
	Password   string
	AdminToken string
}

// Session: значение для cookie. Нулевой ExpiresAt: cookie сессионная.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// AdminAuthenticator: одна из двух стратегий, выбирается при старте.
type AdminAuthenticator interface {
	Mode() string
	Username() string
	Authenticate(r *http.Request) (Principal, error)
	Login(ctx context.Context, req LoginRequest) (Session, error)
	ChangePassword(ctx context.Context, current, next string) error
	CookieName() string
}

// NewAdminAuthenticator выбирает стратегию по конфигу: если задан хэш пароля,
// то PasswordAuth, иначе StaticTokenAuth.
func NewAdminAuthenticator(cfg config.AdminConfig) (AdminAuthenticator, error) {
	if !cfg.PasswordMode() {
		return NewStaticTokenAuth(cfg.Token, cfg.CookieName), nil
	}
	var persister CredentialPersister
	if cfg.CredentialFile != "" {
		persister = FilePersister{Path: cfg.CredentialFile}
	}
	p, err := NewPasswordAuth(cfg.Username, cfg.PasswordHash, cfg.CookieName, persister)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// headerToken: X-Admin-Token, иначе Authorization.
func headerToken(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(AdminTokenHeader)); v != "" {
		return v
	}
	return strings.TrimSpace(r.Header.Get("Authorization"))
}

func cookieToken(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

type principalKey struct{}

// PrincipalFrom достаёт Principal, положенный RequireAdmin.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// RequireAdmin: middleware операторских маршрутов. Любой отказ: 401.
func RequireAdmin(a AdminAuthenticator, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.Authenticate(r)
			if err != nil {
				m.AuthFailure("admin")
				logs.Logger.WithFields(logrus.Fields{
					"path":   r.URL.Path,
					"remote": r.RemoteAddr,
					"mode":   a.Mode(),
				}).Warn("admin auth rejected")
				models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid or missing admin credentials", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
		})
	}
}
