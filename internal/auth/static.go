package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"wiretide/internal/fleet"
)

// StaticTokenAuth: один статический токен в X-Admin-Token или cookie.
// Пустой токен в конфиге: доступ открыт.
type StaticTokenAuth struct {
	token      string
	cookieName string
}

func NewStaticTokenAuth(token, cookieName string) *StaticTokenAuth {
	return &StaticTokenAuth{token: token, cookieName: cookieName}
}

func (s *StaticTokenAuth) Mode() string       { return ModeToken }
func (s *StaticTokenAuth) Username() string   { return "" }
func (s *StaticTokenAuth) CookieName() string { return s.cookieName }

func (s *StaticTokenAuth) Authenticate(r *http.Request) (Principal, error) {
	if s.token == "" {
		return Principal{Method: "open"}, nil
	}
	tok := r.Header.Get(AdminTokenHeader)
	if tok == "" {
		tok = cookieToken(r, s.cookieName)
	}
	if !s.matches(tok) {
		return Principal{}, ErrAdminCredentials
	}
	return Principal{Method: "token"}, nil
}

func (s *StaticTokenAuth) matches(tok string) bool {
	return tok != "" && subtle.ConstantTimeCompare([]byte(tok), []byte(s.token)) == 1
}

// Login кладёт в cookie сам токен.
func (s *StaticTokenAuth) Login(_ context.Context, req LoginRequest) (Session, error) {
	if s.token == "" {
		return Session{}, fmt.Errorf("%w: admin authentication is disabled", fleet.ErrPreconditionNotMet)
	}
	if !s.matches(req.AdminToken) {
		return Session{}, ErrAdminCredentials
	}
	return Session{Token: s.token}, nil
}

func (s *StaticTokenAuth) ChangePassword(context.Context, string, string) error {
	return fmt.Errorf("%w: password auth not enabled; set admin.password_hash", fleet.ErrPreconditionNotMet)
}
