package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"wiretide/internal/fleet"
	"wiretide/internal/logs"
	"wiretide/internal/metrics"
	"wiretide/internal/models"

	"github.com/sirupsen/logrus"
)

// SharedTokenHeader: заголовок общего токена агентов.
const SharedTokenHeader = "X-Shared-Token"

// TokenSource отдаёт текущий общий токен (repo.SettingsStore).
type TokenSource interface {
	SharedToken(ctx context.Context) (string, error)
}

// AgentAuth проверяет общий токен. Токен не несёт идентичности устройства.
type AgentAuth struct {
	tokens  TokenSource
	metrics *metrics.Metrics
}

func NewAgentAuth(tokens TokenSource, m *metrics.Metrics) *AgentAuth {
	return &AgentAuth{tokens: tokens, metrics: m}
}

// Verify: пусто: ErrMissingCredential, не совпало: ErrInvalidCredential.
func (a *AgentAuth) Verify(ctx context.Context, presented string) error {
	if presented == "" {
		return fmt.Errorf("%w: %s header required", fleet.ErrMissingCredential, SharedTokenHeader)
	}
	current, err := a.tokens.SharedToken(ctx)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(current)) != 1 {
		return fmt.Errorf("%w: shared token mismatch", fleet.ErrInvalidCredential)
	}
	return nil
}

// Middleware закрывает агентские маршруты: 401 без токена, 403 с чужим.
func (a *AgentAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Verify(r.Context(), r.Header.Get(SharedTokenHeader)); err != nil {
			a.metrics.AuthFailure("agent")
			logs.Logger.WithFields(logrus.Fields{
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Warnf("agent auth: %v", err)
			models.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
