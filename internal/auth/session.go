package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// SessionTTL: срок жизни сессии администратора.
const SessionTTL = 4 * time.Hour

// Токен сессии: "username:expiry:hex(hmac-sha256(key=password_hash, "username:expiry"))".
// Ключ: текущий хэш пароля, поэтому смена пароля обнуляет все сессии.

// IssueSession подписывает сессию до expires (с точностью до секунды).
func IssueSession(username, passwordHash string, expires time.Time) string {
	payload := username + ":" + strconv.FormatInt(expires.Unix(), 10)
	return payload + ":" + sign(passwordHash, payload)
}

// ValidateSession проверяет формат, пользователя, срок и подпись.
func ValidateSession(token, username, passwordHash string, now time.Time) bool {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return false
	}
	user, expRaw, sig := parts[0], parts[1], parts[2]
	if user != username {
		return false
	}
	exp, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil || exp < now.Unix() {
		return false
	}
	expected := sign(passwordHash, user+":"+strconv.FormatInt(exp, 10))
	return hmac.Equal([]byte(sig), []byte(expected))
}

func sign(key, payload string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
