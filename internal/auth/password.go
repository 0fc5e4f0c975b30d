package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"wiretide/internal/fleet"
	"wiretide/internal/logs"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength: минимальная длина нового пароля.
const MinPasswordLength = 8

// HashPassword: bcrypt с cost по умолчанию.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// PasswordAuth: логин/пароль (bcrypt) + подписанные сессии.
// Хэш живёт в памяти и меняется при смене пароля без рестарта.
type PasswordAuth struct {
	mu       sync.RWMutex
	username string
	hash     string

	cookieName string
	persister  CredentialPersister
	cost       int
	now        func() time.Time
}

func NewPasswordAuth(username, passwordHash, cookieName string, persister CredentialPersister) (*PasswordAuth, error) {
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("admin password hash: %w", err)
	}
	return &PasswordAuth{
		username:   username,
		hash:       passwordHash,
		cookieName: cookieName,
		persister:  persister,
		cost:       bcrypt.DefaultCost,
		now:        time.Now,
	}, nil
}

func (p *PasswordAuth) Mode() string       { return ModePassword }
func (p *PasswordAuth) CookieName() string { return p.cookieName }

func (p *PasswordAuth) Username() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.username
}

func (p *PasswordAuth) credentials() (string, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.username, p.hash
}

// Authenticate: заголовок (Basic или сессия), затем cookie с сессией.
func (p *PasswordAuth) Authenticate(r *http.Request) (Principal, error) {
	user, hash := p.credentials()
	now := p.now()

	if tok := headerToken(r); tok != "" {
		if u, pw, ok := parseBasic(tok); ok && p.checkPassword(user, hash, u, pw) {
			return Principal{Username: user, Method: "basic"}, nil
		}
		if ValidateSession(strings.TrimPrefix(tok, "Bearer "), user, hash, now) {
			return Principal{Username: user, Method: "session"}, nil
		}
	}
	if c := cookieToken(r, p.cookieName); c != "" && ValidateSession(c, user, hash, now) {
		return Principal{Username: user, Method: "session"}, nil
	}
	return Principal{}, ErrAdminCredentials
}

func (p *PasswordAuth) checkPassword(wantUser, hash, user, password string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(wantUser)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Login выдаёт сессию на SessionTTL.
func (p *PasswordAuth) Login(_ context.Context, req LoginRequest) (Session, error) {
	user, hash := p.credentials()
	if !p.checkPassword(user, hash, req.Username, req.Password) {
		return Session{}, ErrAdminCredentials
	}
	exp := p.now().Add(SessionTTL).Truncate(time.Second)
	return Session{Token: IssueSession(user, hash, exp), ExpiresAt: exp}, nil
}

// ChangePassword: проверка текущего, длина, новый хэш в память сразу,
// затем запись в файл. Ошибка записи: ErrPersistence, но новый пароль
// уже действует.
func (p *PasswordAuth) ChangePassword(_ context.Context, current, next string) error {
	p.mu.Lock()
	if bcrypt.CompareHashAndPassword([]byte(p.hash), []byte(current)) != nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: current password is incorrect", fleet.ErrInvalidCredential)
	}
	if len(next) < MinPasswordLength {
		p.mu.Unlock()
		return fmt.Errorf("%w: new password must be at least %d characters", fleet.ErrInvalidArgument, MinPasswordLength)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(next), p.cost)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("hash password: %w", err)
	}
	p.hash = string(h)
	user := p.username
	p.mu.Unlock()

	logs.Logger.WithField("username", user).Info("admin password changed")
	if p.persister == nil {
		return nil
	}
	if err := p.persister.Persist(user, string(h)); err != nil {
		logs.Logger.Errorf("persist admin credential: %v", err)
		return fmt.Errorf("%w: %w", fleet.ErrPersistence, err)
	}
	return nil
}

// parseBasic понимает "Basic base64(user:pass)" и голый base64(user:pass).
func parseBasic(v string) (user, password string, ok bool) {
	s := strings.TrimSpace(v)
	if len(s) >= 6 && strings.EqualFold(s[:6], "basic ") {
		s = strings.TrimSpace(s[6:])
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(raw), ":")
}
