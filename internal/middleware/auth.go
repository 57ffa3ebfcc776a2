// Package middleware содержит HTTP middleware сервиса клиентов.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const subjectKey contextKey = "subject"

const bearerPrefix = "Bearer "

// AuthMiddleware выдаёт и проверяет подписанные bearer-токены.
type AuthMiddleware struct {
	secretKey []byte
	now       func() time.Time
}

// NewAuthMiddleware создаёт AuthMiddleware с указанным секретом.
// При пустом секрете генерируется случайный ключ, и токены живут до перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		now:       time.Now,
	}
}

// Middleware пропускает запрос только с действительным заголовком Authorization: Bearer
// и кладёт субъект токена в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		subject, ok := a.ParseToken(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IssueToken подписывает токен для субъекта и возвращает его вместе с моментом истечения.
func (a *AuthMiddleware) IssueToken(subject string, ttl time.Duration) (string, time.Time) {
	expiresAt := a.now().Add(ttl).UTC().Truncate(time.Second)
	payload := base64.RawURLEncoding.EncodeToString([]byte(subject)) + "." +
		strconv.FormatInt(expiresAt.Unix(), 10)
	return payload + "." + a.sign(payload), expiresAt
}

// ParseToken проверяет подпись и срок действия токена и возвращает его субъект.
func (a *AuthMiddleware) ParseToken(token string) (string, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", false
	}

	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(a.sign(payload))) {
		return "", false
	}

	expiresAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || !a.now().Before(time.Unix(expiresAt, 0)) {
		return "", false
	}

	subject, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}

	return string(subject), true
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// GetSubjectFromContext извлекает субъект токена из контекста запроса.
func GetSubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectKey).(string)
	return subject, ok
}
